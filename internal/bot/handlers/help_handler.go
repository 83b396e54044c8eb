package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
)

// NewHelpHandler returns a handler for the /help command.
func NewHelpHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return Boundary(deps, "help", helpHandler{deps}.Handle)
}

type helpHandler struct {
	deps HandlerDeps
}

func (h helpHandler) Handle(_ context.Context, _ Request) (string, error) {
	return h.deps.Config.Messages.Help, nil
}
