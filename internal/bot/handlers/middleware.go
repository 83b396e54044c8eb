// Package handlers contains chat command handlers, their registration logic
// and the error boundary that keeps handler failures away from the process.
package handlers

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Boundary adapts a CommandFunc into a bot handler. It extracts the request,
// invokes the command, converts any error or panic into the generic failure
// reply, and logs the failure with the originating command name. Nothing a
// handler does can propagate past this function.
func Boundary(deps HandlerDeps, command string, fn CommandFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		log := deps.Logger.With("handler", command)

		if update.Message == nil || update.Message.From == nil {
			log.WarnContext(ctx, "Handler received update with nil message or sender", "update_id", update.ID)
			return
		}

		req := Request{
			ChatID:      update.Message.Chat.ID,
			UserID:      update.Message.From.ID,
			DisplayName: update.Message.From.FirstName,
			Text:        update.Message.Text,
		}

		log.InfoContext(ctx, "Handling command", "chat_id", req.ChatID, "user_id", req.UserID)

		reply, err := safeInvoke(ctx, fn, req)
		if err != nil {
			log.ErrorContext(ctx, "Command handler failed",
				"command", command, "chat_id", req.ChatID, "error", err)
			reply = deps.Config.Messages.GeneralError
		}
		if reply == "" {
			return
		}

		_, sendErr := b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:    req.ChatID,
			Text:      reply,
			ParseMode: models.ParseModeMarkdown,
		})
		if sendErr != nil {
			log.ErrorContext(ctx, "Failed to send reply", "chat_id", req.ChatID, "error", sendErr)
		}
	}
}

func safeInvoke(ctx context.Context, fn CommandFunc, req Request) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, req)
}
