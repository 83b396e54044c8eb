package handlers

import (
	"context"
	"log/slog"

	"github.com/stakehouse/linkbot/internal/config"
	"github.com/stakehouse/linkbot/internal/database"
	"github.com/stakehouse/linkbot/internal/verification"
)

// HandlerDeps provides dependencies for chat command handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Config   *config.Config
	Store    database.Store
	Verifier *verification.Service
}

// Request is the distilled inbound command: who sent what from which chat.
type Request struct {
	ChatID      int64
	UserID      int64
	DisplayName string
	Text        string
}

// CommandFunc produces a reply for a request. Any returned error is converted
// by the boundary into a single generic failure reply; handlers never reply
// twice and never crash the process.
type CommandFunc func(ctx context.Context, req Request) (string, error)
