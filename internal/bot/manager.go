// Package bot implements the chat-gateway lifecycle: a single bot connection
// per process, transport selection between long-poll and webhook delivery,
// conflict recovery, and scheduled background tasks.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stakehouse/linkbot/internal/config"
)

// ErrNotReady indicates no connection is currently active; outbound sends are
// rejected with it rather than queued.
var ErrNotReady = errors.New("bot connection not ready")

const runStopTimeout = 5 * time.Second

// Manager owns the process-wide bot connection state. It guarantees at most
// one live connection per process: all mutation of the connection handle goes
// through Manager methods behind a single mutex, and repeated Initialize calls
// inside the debounce window converge on the existing handle.
type Manager struct {
	logger *slog.Logger
	cfg    *config.Config
	dial   Dialer

	mu               sync.Mutex
	conn             Conn
	running          bool
	lastInitAttempt  time.Time
	stopRun          context.CancelFunc
	runDone          chan struct{}
	retryTimer       *time.Timer
	consecutiveFails int
}

// NewManager creates the lifecycle manager. It does not connect; call
// Initialize to bring the connection up.
func NewManager(cfg *config.Config, logger *slog.Logger, dial Dialer) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		logger: logger.With("component", "bot_manager"),
		cfg:    cfg,
		dial:   dial,
	}
}

// Initialize brings up the bot connection. It is safe to call multiple times
// and from multiple goroutines: a call arriving within the init-guard window
// of a previous attempt suspends until the window elapses, then returns the
// existing handle if one is already running.
//
// A nil Conn with a nil error means the feature is disabled (no credential).
// ErrConflict means another session holds the credential; a single retry has
// been scheduled and the caller should not treat this as fatal.
func (m *Manager) Initialize(ctx context.Context) (Conn, error) {
	m.mu.Lock()

	if since := time.Since(m.lastInitAttempt); !m.lastInitAttempt.IsZero() && since < m.cfg.Bot.InitGuard {
		wait := m.cfg.Bot.InitGuard - since
		m.mu.Unlock()

		m.logger.Debug("Initialization debounced", "wait", wait)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		m.mu.Lock()
		if m.running && m.conn != nil {
			conn := m.conn
			m.mu.Unlock()
			m.logger.Debug("Connection already running after debounce, reusing handle")
			return conn, nil
		}
	}

	m.lastInitAttempt = time.Now()
	defer m.mu.Unlock()
	return m.startLocked(ctx)
}

// startLocked performs the actual connection startup. Callers hold m.mu.
func (m *Manager) startLocked(ctx context.Context) (Conn, error) {
	if m.cfg.Bot.AccessToken == "" {
		m.logger.Warn("Bot access token not configured, chat gateway disabled")
		return nil, nil
	}

	if m.conn != nil && m.running {
		m.stopLocked(ctx, "restart")

		// Let the remote side release the previous session before reconnecting.
		m.logger.Debug("Waiting before restart", "grace", m.cfg.Bot.RestartGrace)
		select {
		case <-time.After(m.cfg.Bot.RestartGrace):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	conn, err := m.dial(ctx, m.cfg, m.logger)
	if err != nil {
		m.consecutiveFails++
		return nil, fmt.Errorf("failed to establish bot connection: %w", err)
	}

	if err := conn.CheckSingleton(ctx); err != nil {
		m.consecutiveFails++
		if closeErr := conn.Close(ctx); closeErr != nil {
			m.logger.Warn("Error closing connection after failed singleton check", "error", closeErr)
		}

		if errors.Is(err, ErrConflict) {
			m.logger.Warn("Another session holds the bot credential, scheduling retry",
				"retry_in", m.cfg.Bot.ConflictRetryDelay,
				"consecutive_failures", m.consecutiveFails)
			m.scheduleRetryLocked()
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("singleton check failed: %w", err)
	}

	pushMode := false
	switch {
	case !m.cfg.IsProduction():
		m.logger.Info("Non-production environment, using long-poll transport",
			"env", m.cfg.Deployment.Env)
	case m.cfg.Webhook.PublicBaseURL != "":
		pushMode = true
		m.logger.Info("Using webhook transport",
			"base_url", m.cfg.Webhook.PublicBaseURL)
	default:
		m.logger.Warn("Production environment without public callback URL, falling back to long-poll transport")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(runCtx)

	if pushMode {
		url := strings.TrimRight(m.cfg.Webhook.PublicBaseURL, "/") + m.cfg.Webhook.Path
		if err := conn.RegisterWebhook(ctx, url); err != nil {
			cancel()
			m.consecutiveFails++
			if closeErr := conn.Close(ctx); closeErr != nil {
				m.logger.Warn("Error closing connection after webhook registration failure", "error", closeErr)
			}
			return nil, fmt.Errorf("failed to register webhook: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle(m.cfg.Webhook.Path, conn.WebhookHandler())
		srv := &http.Server{
			Addr:              m.cfg.Webhook.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			conn.StartWebhook(gCtx)
			return nil
		})
		g.Go(func() error {
			m.logger.Info("Webhook listener starting", "addr", srv.Addr, "path", m.cfg.Webhook.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("webhook listener failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), runStopTimeout)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				m.logger.Warn("Error shutting down webhook listener", "error", err)
			}
			return nil
		})
	} else {
		if err := conn.DropBacklog(ctx); err != nil {
			m.logger.Warn("Failed to drop update backlog", "error", err)
		}
		g.Go(func() error {
			conn.StartPolling(gCtx)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		if err := g.Wait(); err != nil {
			m.logger.Error("Bot transport stopped with error", "error", err)
		}
		close(done)
	}()

	m.conn = conn
	m.running = true
	m.stopRun = cancel
	m.runDone = done
	m.consecutiveFails = 0

	transport := "long-poll"
	if pushMode {
		transport = "webhook"
	}
	m.logger.Info("Bot connection established", "transport", transport)
	return conn, nil
}

// scheduleRetryLocked arms exactly one pending retry of Initialize. A retry
// that hits another conflict arms the next one, so a persistent conflict loops
// at the fixed interval without ever crashing the host process.
func (m *Manager) scheduleRetryLocked() {
	if m.retryTimer != nil {
		return
	}
	m.retryTimer = time.AfterFunc(m.cfg.Bot.ConflictRetryDelay, func() {
		m.mu.Lock()
		m.retryTimer = nil
		m.mu.Unlock()

		if _, err := m.Initialize(context.Background()); err != nil && !errors.Is(err, ErrConflict) {
			m.logger.Warn("Scheduled retry failed", "error", err)
		}
	})
}

// Stop shuts down the active connection, if any. It is idempotent and safe to
// call concurrently with Initialize: it takes the same mutex, so it either
// runs before a start or tears down the fully-started connection after.
func (m *Manager) Stop(ctx context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.stopLocked(ctx, reason)
}

func (m *Manager) stopLocked(ctx context.Context, reason string) {
	if !m.running && m.conn == nil {
		m.logger.Debug("Stop requested but bot is not running", "reason", reason)
		return
	}

	m.logger.Info("Stopping bot connection", "reason", reason)

	if m.stopRun != nil {
		m.stopRun()
		m.stopRun = nil
	}

	if m.runDone != nil {
		select {
		case <-m.runDone:
		case <-time.After(runStopTimeout):
			m.logger.Warn("Timed out waiting for transport to stop")
		case <-ctx.Done():
		}
		m.runDone = nil
	}

	if m.conn != nil {
		if err := m.conn.Close(ctx); err != nil {
			m.logger.Warn("Error closing bot connection", "error", err)
		}
		m.conn = nil
	}

	m.running = false
	m.logger.Info("Bot connection stopped", "reason", reason)
}

// Handle returns the current connection, or nil when not running.
func (m *Manager) Handle() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Ready reports whether a connection is up and accepting work.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running && m.conn != nil
}

// ConsecutiveFailures returns the number of failed starts since the last
// successful one.
func (m *Manager) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFails
}

// Healthy reports whether consecutive start failures are below the configured
// threshold. It degrades before Ready recovers so external monitoring can
// observe a persistent conflict loop.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFails < m.cfg.Bot.UnhealthyAfter
}

// SendMessage delivers text through the active connection. It implements the
// notify.Sender interface; callers receive ErrNotReady when no connection is
// active.
func (m *Manager) SendMessage(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	conn, running := m.conn, m.running
	m.mu.Unlock()

	if !running || conn == nil {
		return ErrNotReady
	}
	return conn.SendMessage(ctx, chatID, text)
}
