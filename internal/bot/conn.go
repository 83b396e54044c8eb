package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/stakehouse/linkbot/internal/config"
)

// ErrConflict indicates another live session already holds the bot credential.
// The manager never propagates it as a crash; it schedules a retry instead.
var ErrConflict = errors.New("conflict: another bot session holds this credential")

// Conn is the manager's port onto a single messaging-platform connection.
// The production implementation wraps go-telegram/bot; tests substitute fakes.
type Conn interface {
	// CheckSingleton probes whether another live session holds the same
	// credential. Returns ErrConflict when it does.
	CheckSingleton(ctx context.Context) error

	// DropBacklog discards undelivered events accumulated while not running,
	// along with any stale webhook registration.
	DropBacklog(ctx context.Context) error

	// RegisterWebhook points the platform at the given callback URL,
	// discarding backlog.
	RegisterWebhook(ctx context.Context, url string) error

	// WebhookHandler returns the HTTP handler that receives push deliveries.
	WebhookHandler() http.Handler

	// StartPolling blocks, pulling updates until ctx is cancelled.
	StartPolling(ctx context.Context)

	// StartWebhook blocks, processing queued webhook updates until ctx is cancelled.
	StartWebhook(ctx context.Context)

	// SendMessage delivers Markdown-formatted text to a chat.
	SendMessage(ctx context.Context, chatID int64, text string) error

	// Close releases the session.
	Close(ctx context.Context) error
}

// Dialer constructs a new Conn. The manager owns when to dial; the dialer owns
// how, including handler attachment.
type Dialer func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Conn, error)

// NewTelegramDialer returns a Dialer producing go-telegram/bot backed
// connections. attach is invoked on every new underlying bot instance to
// register command handlers; middlewares run around every handled update.
func NewTelegramDialer(attach func(*tgbot.Bot), middlewares ...tgbot.Middleware) Dialer {
	return func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Conn, error) {
		opts := []tgbot.Option{}
		if len(middlewares) > 0 {
			opts = append(opts, tgbot.WithMiddlewares(middlewares...))
		}
		if cfg.Bot.Debug {
			opts = append(opts, tgbot.WithDebug())
		}
		opts = append(opts, tgbot.WithErrorsHandler(func(err error) {
			logger.Error("Telegram transport error", "error", err)
		}))

		b, err := tgbot.New(cfg.Bot.AccessToken, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}

		if attach != nil {
			attach(b)
		}

		return &tgConn{
			bot:    b,
			token:  cfg.Bot.AccessToken,
			logger: logger.With("component", "telegram_conn"),
			httpClient: &http.Client{
				Timeout: 10 * time.Second,
			},
		}, nil
	}
}

// tgConn implements Conn over go-telegram/bot.
type tgConn struct {
	bot        *tgbot.Bot
	token      string
	logger     *slog.Logger
	httpClient *http.Client
}

const telegramAPIURL = "https://api.telegram.org/bot"

// apiStatus is the envelope shared by Bot API responses; only the error fields
// matter for the singleton probe.
type apiStatus struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

// CheckSingleton issues a single short getUpdates call. The Bot API answers
// 409 when another getUpdates consumer or a webhook holds the credential.
// go-telegram/bot drives polling internally without exposing a pre-flight
// call, so the probe goes through the raw API.
func (c *tgConn) CheckSingleton(ctx context.Context) error {
	url := fmt.Sprintf("%s%s/getUpdates?offset=-1&limit=1&timeout=0", telegramAPIURL, c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("singleton probe failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read probe response: %w", err)
	}

	var status apiStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("failed to parse probe response: %w", err)
	}

	if !status.OK {
		if status.ErrorCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", ErrConflict, status.Description)
		}
		return fmt.Errorf("singleton probe rejected: %s (code: %d)", status.Description, status.ErrorCode)
	}

	return nil
}

func (c *tgConn) DropBacklog(ctx context.Context) error {
	_, err := c.bot.DeleteWebhook(ctx, &tgbot.DeleteWebhookParams{DropPendingUpdates: true})
	if err != nil {
		return fmt.Errorf("failed to drop update backlog: %w", err)
	}
	return nil
}

func (c *tgConn) RegisterWebhook(ctx context.Context, url string) error {
	_, err := c.bot.SetWebhook(ctx, &tgbot.SetWebhookParams{
		URL:                url,
		DropPendingUpdates: true,
	})
	if err != nil {
		return fmt.Errorf("failed to register webhook at %s: %w", url, err)
	}
	c.logger.Info("Webhook registered", "url", url)
	return nil
}

func (c *tgConn) WebhookHandler() http.Handler {
	return c.bot.WebhookHandler()
}

func (c *tgConn) StartPolling(ctx context.Context) {
	c.bot.Start(ctx)
}

func (c *tgConn) StartWebhook(ctx context.Context) {
	c.bot.StartWebhook(ctx)
}

func (c *tgConn) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return nil
}

// Close removes any webhook registration so the next session can take over
// the credential without a conflict. Polling itself stops with the run
// context; the Bot API "close" call is deliberately avoided since it locks
// the credential out for several minutes.
func (c *tgConn) Close(ctx context.Context) error {
	if _, err := c.bot.DeleteWebhook(ctx, &tgbot.DeleteWebhookParams{}); err != nil {
		return fmt.Errorf("failed to release telegram session: %w", err)
	}
	return nil
}
