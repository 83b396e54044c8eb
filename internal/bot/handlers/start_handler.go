package handlers

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
)

// NewStartHandler returns a handler for the /start command.
func NewStartHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return Boundary(deps, "start", startHandler{deps}.Handle)
}

// startHandler greets the caller with the chat ID they need for account linking.
type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(_ context.Context, req Request) (string, error) {
	return fmt.Sprintf(h.deps.Config.Messages.Welcome, req.ChatID), nil
}
