package handlers

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"

	"github.com/stakehouse/linkbot/internal/database"
)

// NewDisconnectHandler returns a handler for the /disconnect command.
func NewDisconnectHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return Boundary(deps, "disconnect", disconnectHandler{deps}.Handle)
}

// disconnectHandler clears the chat link for the calling chat and records an
// unlink notification for the account.
type disconnectHandler struct {
	deps HandlerDeps
}

func (h disconnectHandler) Handle(ctx context.Context, req Request) (string, error) {
	account, err := h.deps.Store.GetAccountByChatID(ctx, req.ChatID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return fmt.Sprintf(h.deps.Config.Messages.NotLinked, req.ChatID), nil
	}

	affected, err := h.deps.Store.ClearAccountChatID(ctx, account.ID)
	if err != nil {
		return "", err
	}
	if affected == 0 {
		// A concurrent disconnect got there first.
		return fmt.Sprintf(h.deps.Config.Messages.NotLinked, req.ChatID), nil
	}

	notification := &database.Notification{
		AccountID: account.ID,
		Kind:      "chat_unlinked",
		Body:      fmt.Sprintf("Chat %d was unlinked from your account.", req.ChatID),
	}
	if err := h.deps.Store.InsertNotification(ctx, notification); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to record unlink notification",
			"account_id", account.ID, "error", err)
	}

	return "✅ This chat has been unlinked from your account. Notifications are now disabled.", nil
}
