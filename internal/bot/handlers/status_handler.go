package handlers

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
)

// NewStatusHandler returns a handler for the /status command.
func NewStatusHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return Boundary(deps, "status", statusHandler{deps}.Handle)
}

type statusHandler struct {
	deps HandlerDeps
}

func (h statusHandler) Handle(ctx context.Context, req Request) (string, error) {
	account, err := h.deps.Store.GetAccountByChatID(ctx, req.ChatID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return fmt.Sprintf(h.deps.Config.Messages.NotLinked, req.ChatID), nil
	}

	return fmt.Sprintf("🔗 This chat is linked to account *%s*.\nUse /disconnect to unlink.",
		maskedIdentity(account)), nil
}
