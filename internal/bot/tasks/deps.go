// Package tasks implements scheduled background tasks for the chat gateway:
// stale verification-code cleanup and the connection health watchdog.
package tasks

import (
	"log/slog"

	"github.com/stakehouse/linkbot/internal/config"
	"github.com/stakehouse/linkbot/internal/database"
)

// BotHealth exposes the lifecycle-manager readiness signals tasks observe.
// Declared here so tasks don't depend on the parent bot package.
type BotHealth interface {
	Ready() bool
	Healthy() bool
	ConsecutiveFailures() int
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Bot    BotHealth
	Config *config.Config
}
