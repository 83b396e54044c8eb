package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
)

// NewPingHandler returns a handler for the /ping liveness command.
func NewPingHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return Boundary(deps, "ping", pingHandler{deps}.Handle)
}

type pingHandler struct {
	deps HandlerDeps
}

func (h pingHandler) Handle(_ context.Context, _ Request) (string, error) {
	return "🏓 pong", nil
}
