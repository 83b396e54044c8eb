package bot_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stakehouse/linkbot/internal/bot"
	"github.com/stakehouse/linkbot/internal/config"
)

// fakeConn records which lifecycle calls the manager makes.
type fakeConn struct {
	mu            sync.Mutex
	singletonErr  error
	sendErr       error
	registeredURL string
	polling       bool
	webhook       bool
	backlogDrops  int
	closed        bool
	sent          []string
}

func (c *fakeConn) CheckSingleton(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.singletonErr
}

func (c *fakeConn) DropBacklog(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backlogDrops++
	return nil
}

func (c *fakeConn) RegisterWebhook(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registeredURL = url
	return nil
}

func (c *fakeConn) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (c *fakeConn) StartPolling(ctx context.Context) {
	c.mu.Lock()
	c.polling = true
	c.mu.Unlock()
	<-ctx.Done()
}

func (c *fakeConn) StartWebhook(ctx context.Context) {
	c.mu.Lock()
	c.webhook = true
	c.mu.Unlock()
	<-ctx.Done()
}

func (c *fakeConn) SendMessage(_ context.Context, _ int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeConn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) snapshot() fakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fakeConn{
		registeredURL: c.registeredURL,
		polling:       c.polling,
		webhook:       c.webhook,
		backlogDrops:  c.backlogDrops,
		closed:        c.closed,
	}
}

// fakeDialer hands out fakeConns and counts dials.
type fakeDialer struct {
	mu    sync.Mutex
	dials atomic.Int32
	next  *fakeConn
	conns []*fakeConn
}

func (d *fakeDialer) dial(_ context.Context, _ *config.Config, _ *slog.Logger) (bot.Conn, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := d.next
	if conn == nil {
		conn = &fakeConn{}
	}
	d.next = nil
	d.conns = append(d.conns, conn)
	return conn, nil
}

func testConfig(env, publicBaseURL string) *config.Config {
	return &config.Config{
		Deployment: config.DeploymentConfig{Env: env},
		Bot: config.BotConfig{
			AccessToken:        "123:test-token",
			InitGuard:          250 * time.Millisecond,
			RestartGrace:       time.Millisecond,
			ConflictRetryDelay: time.Minute,
			UnhealthyAfter:     3,
		},
		Webhook: config.WebhookConfig{
			PublicBaseURL: publicBaseURL,
			ListenAddr:    "127.0.0.1:0",
			Path:          "/telegram/webhook",
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInitializeDisabledWithoutToken(t *testing.T) {
	t.Parallel()

	cfg := testConfig("development", "")
	cfg.Bot.AccessToken = ""
	dialer := &fakeDialer{}
	m := bot.NewManager(cfg, nil, dialer.dial)

	conn, err := m.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if conn != nil {
		t.Error("Initialize() returned a connection without a credential")
	}
	if dialer.dials.Load() != 0 {
		t.Errorf("dialed %d times without a credential, want 0", dialer.dials.Load())
	}
	if m.Ready() {
		t.Error("Ready() = true with the feature disabled")
	}
}

func TestConcurrentInitializeSharesOneConnection(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	m := bot.NewManager(testConfig("development", ""), nil, dialer.dial)

	const callers = 5
	conns := make([]bot.Conn, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := m.Initialize(context.Background())
			if err != nil {
				t.Errorf("Initialize() error = %v", err)
				return
			}
			conns[i] = conn
		}(i)
	}
	wg.Wait()
	defer m.Stop(context.Background(), "test done")

	if got := dialer.dials.Load(); got != 1 {
		t.Errorf("dialed %d times for %d concurrent calls, want 1", got, callers)
	}
	for i, conn := range conns {
		if conn != conns[0] {
			t.Errorf("caller %d got a different connection handle", i)
		}
	}
	if !m.Ready() {
		t.Error("Ready() = false after successful initialization")
	}
}

func TestInitializeConflict(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{next: &fakeConn{singletonErr: bot.ErrConflict}}
	m := bot.NewManager(testConfig("development", ""), nil, dialer.dial)
	defer m.Stop(context.Background(), "test done")

	_, err := m.Initialize(context.Background())
	if !errors.Is(err, bot.ErrConflict) {
		t.Fatalf("Initialize() error = %v, want ErrConflict", err)
	}

	if m.Ready() {
		t.Error("Ready() = true after a conflicted start")
	}
	if got := m.ConsecutiveFailures(); got != 1 {
		t.Errorf("ConsecutiveFailures() = %d, want 1", got)
	}
	if !dialer.conns[0].snapshot().closed {
		t.Error("conflicted connection was not closed")
	}
	if !m.Healthy() {
		t.Error("Healthy() = false after a single failure, threshold is 3")
	}
}

func TestConflictRetryRecovers(t *testing.T) {
	t.Parallel()

	cfg := testConfig("development", "")
	cfg.Bot.InitGuard = time.Millisecond
	cfg.Bot.ConflictRetryDelay = 20 * time.Millisecond

	dialer := &fakeDialer{next: &fakeConn{singletonErr: bot.ErrConflict}}
	m := bot.NewManager(cfg, nil, dialer.dial)
	defer m.Stop(context.Background(), "test done")

	if _, err := m.Initialize(context.Background()); !errors.Is(err, bot.ErrConflict) {
		t.Fatalf("Initialize() error = %v, want ErrConflict", err)
	}

	// The next dial hands out a clean connection; the scheduled retry should
	// bring the manager up without any further Initialize call.
	waitFor(t, 2*time.Second, m.Ready, "manager never recovered from conflict via scheduled retry")

	if got := m.ConsecutiveFailures(); got != 0 {
		t.Errorf("ConsecutiveFailures() = %d after recovery, want 0", got)
	}
}

func TestHealthyDegradesAfterRepeatedConflicts(t *testing.T) {
	t.Parallel()

	cfg := testConfig("development", "")
	cfg.Bot.InitGuard = time.Millisecond
	cfg.Bot.ConflictRetryDelay = 10 * time.Millisecond
	cfg.Bot.UnhealthyAfter = 2

	dialer := &fakeDialer{}

	// Every dial hands out a conflicted connection.
	dial := func(ctx context.Context, c *config.Config, l *slog.Logger) (bot.Conn, error) {
		dialer.mu.Lock()
		dialer.next = &fakeConn{singletonErr: bot.ErrConflict}
		dialer.mu.Unlock()
		return dialer.dial(ctx, c, l)
	}

	m := bot.NewManager(cfg, nil, dial)
	defer m.Stop(context.Background(), "test done")

	_, _ = m.Initialize(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		return m.ConsecutiveFailures() >= cfg.Bot.UnhealthyAfter
	}, "failure count never reached the unhealthy threshold")

	if m.Healthy() {
		t.Errorf("Healthy() = true with %d consecutive failures, threshold %d",
			m.ConsecutiveFailures(), cfg.Bot.UnhealthyAfter)
	}
}

func TestTransportSelection(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		env         string
		baseURL     string
		wantPolling bool
		wantURL     string
	}{
		{
			name:        "development long-polls",
			env:         "development",
			baseURL:     "https://bots.example.com",
			wantPolling: true,
		},
		{
			name:    "production with public URL uses webhook",
			env:     "production",
			baseURL: "https://bots.example.com/",
			wantURL: "https://bots.example.com/telegram/webhook",
		},
		{
			name:        "production without public URL falls back to long-poll",
			env:         "production",
			baseURL:     "",
			wantPolling: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dialer := &fakeDialer{}
			m := bot.NewManager(testConfig(tc.env, tc.baseURL), nil, dialer.dial)

			if _, err := m.Initialize(context.Background()); err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}
			defer m.Stop(context.Background(), "test done")

			conn := dialer.conns[0]
			if tc.wantPolling {
				waitFor(t, time.Second, func() bool { return conn.snapshot().polling },
					"long-poll transport never started")
				snap := conn.snapshot()
				if snap.backlogDrops == 0 {
					t.Error("backlog was not dropped before long-polling")
				}
				if snap.registeredURL != "" {
					t.Errorf("webhook %q registered in long-poll mode", snap.registeredURL)
				}
			} else {
				waitFor(t, time.Second, func() bool { return conn.snapshot().webhook },
					"webhook transport never started")
				if got := conn.snapshot().registeredURL; got != tc.wantURL {
					t.Errorf("registered webhook URL = %q, want %q", got, tc.wantURL)
				}
			}
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	m := bot.NewManager(testConfig("development", ""), nil, dialer.dial)

	if _, err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	m.Stop(context.Background(), "first stop")
	if m.Ready() {
		t.Error("Ready() = true after Stop")
	}
	if !dialer.conns[0].snapshot().closed {
		t.Error("connection was not closed on Stop")
	}

	// A second stop must be a no-op, not a panic.
	m.Stop(context.Background(), "second stop")
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{}
	m := bot.NewManager(testConfig("development", ""), nil, dialer.dial)

	if err := m.SendMessage(context.Background(), 777, "hello"); !errors.Is(err, bot.ErrNotReady) {
		t.Errorf("SendMessage() before start error = %v, want ErrNotReady", err)
	}

	if _, err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer m.Stop(context.Background(), "test done")

	if err := m.SendMessage(context.Background(), 777, "hello"); err != nil {
		t.Errorf("SendMessage() error = %v", err)
	}

	conn := dialer.conns[0]
	conn.mu.Lock()
	sent := len(conn.sent)
	conn.mu.Unlock()
	if sent != 1 {
		t.Errorf("connection delivered %d messages, want 1", sent)
	}
}
