// Package main contains the entrypoint for the chat-gateway process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stakehouse/linkbot/internal/api"
	"github.com/stakehouse/linkbot/internal/bot"
	"github.com/stakehouse/linkbot/internal/bot/handlers"
	"github.com/stakehouse/linkbot/internal/bot/tasks"
	"github.com/stakehouse/linkbot/internal/config"
	"github.com/stakehouse/linkbot/internal/database"
	"github.com/stakehouse/linkbot/internal/logger"
	"github.com/stakehouse/linkbot/internal/notify"
	"github.com/stakehouse/linkbot/internal/verification"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components (config, logger, db, services, bot manager,
// scheduler), blocks until the shutdown signal, and returns an exit code.
func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Format == "json")
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	verifier := verification.NewService(store, log,
		cfg.Verification.CodeLength, cfg.Verification.CodeTTL)

	hDeps := handlers.HandlerDeps{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Verifier: verifier,
	}

	manager := bot.NewManager(cfg, log,
		bot.NewTelegramDialer(handlers.Attach(hDeps), logger.Middleware(log)))

	dispatcher := notify.NewDispatcher(manager, log)
	apiServer := api.New(cfg, log, store, verifier, dispatcher, manager)

	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Bot:    manager,
		Config: cfg,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	if err := sched.Start(); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		return 1
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error("Error stopping scheduler", "error", err)
		}
	}()

	apiServer.Start()

	log.Info("Starting bot...")
	if _, err := manager.Initialize(ctx); err != nil {
		if errors.Is(err, bot.ErrConflict) {
			log.Warn("Bot start deferred due to transport conflict, retry scheduled")
		} else {
			log.Error("Failed to initialize bot", "error", err)
			return 1
		}
	}

	<-ctx.Done()
	log.Info("Shutdown signal received. Initiating shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping internal API server", "error", err)
	}
	manager.Stop(shutdownCtx, "shutdown signal")

	log.Info("Bot stopped gracefully.")
	// Allow logs to flush before exiting
	time.Sleep(time.Second)
	return 0
}
