package handlers

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stakehouse/linkbot/internal/config"
	"github.com/stakehouse/linkbot/internal/database"
	"github.com/stakehouse/linkbot/internal/verification"
)

// fakeStore scripts the store methods the command handlers touch.
type fakeStore struct {
	database.Store

	accountByChat *database.Account
	accountErr    error

	clearAffected int64
	clearErr      error

	redeemAccount *database.Account
	redeemErr     error

	transactions []database.Transaction
	txErr        error

	notifications []*database.Notification
}

func (f *fakeStore) GetAccountByChatID(_ context.Context, _ int64) (*database.Account, error) {
	return f.accountByChat, f.accountErr
}

func (f *fakeStore) ClearAccountChatID(_ context.Context, _ int64) (int64, error) {
	return f.clearAffected, f.clearErr
}

func (f *fakeStore) RedeemCode(_ context.Context, _ string, _ int64) (*database.Account, error) {
	return f.redeemAccount, f.redeemErr
}

func (f *fakeStore) GetRecentTransactions(_ context.Context, _ int64, _ int) ([]database.Transaction, error) {
	return f.transactions, f.txErr
}

func (f *fakeStore) InsertNotification(_ context.Context, n *database.Notification) error {
	f.notifications = append(f.notifications, n)
	return nil
}

func testDeps(store *fakeStore) HandlerDeps {
	return HandlerDeps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: &config.Config{
			Messages: config.MessagesConfig{
				Welcome:      "👋 Welcome! Your chat ID is `%d`.",
				Help:         "Available commands: ...",
				GeneralError: "❌ An error occurred.",
				NotLinked:    "This chat is not linked to any account. Your chat ID is `%d`.",
				InvalidCode:  "❌ Invalid verification code.",
				AlreadyUsed:  "❌ This verification code has already been used.",
				Expired:      "❌ This verification code has expired.",
			},
		},
		Store:    store,
		Verifier: verification.NewService(store, nil, 8, 15*time.Minute),
	}
}

func linkedAccount(chatID int64) *database.Account {
	return &database.Account{
		ID:          42,
		Email:       "player@example.com",
		DisplayName: "HighRoller",
		ChatID:      sql.NullInt64{Int64: chatID, Valid: true},
	}
}

func TestStartHandler(t *testing.T) {
	t.Parallel()

	deps := testDeps(&fakeStore{})
	reply, err := startHandler{deps}.Handle(context.Background(), Request{ChatID: 777})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !strings.Contains(reply, "`777`") {
		t.Errorf("reply %q does not contain the chat ID", reply)
	}
}

func TestVerifyHandler(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		text      string
		store     *fakeStore
		wantReply string
	}{
		{
			name:      "malformed code",
			text:      "/verify_ab",
			store:     &fakeStore{},
			wantReply: "❌ Invalid verification code.",
		},
		{
			name:      "unknown code",
			text:      "/verify_ABCDEF23",
			store:     &fakeStore{redeemErr: database.ErrCodeNotFound},
			wantReply: "❌ Invalid verification code.",
		},
		{
			name:      "used code",
			text:      "/verify_ABCDEF23",
			store:     &fakeStore{redeemErr: database.ErrCodeUsed},
			wantReply: "❌ This verification code has already been used.",
		},
		{
			name:      "expired code",
			text:      "/verify_ABCDEF23",
			store:     &fakeStore{redeemErr: database.ErrCodeExpired},
			wantReply: "❌ This verification code has expired.",
		},
		{
			name:      "successful link shows display name",
			text:      "/verify_ABCDEF23",
			store:     &fakeStore{redeemAccount: linkedAccount(777)},
			wantReply: "✅ This chat is now linked to account *HighRoller*. You will receive notifications here.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			deps := testDeps(tc.store)
			reply, err := verifyHandler{deps}.Handle(context.Background(), Request{ChatID: 777, Text: tc.text})
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if reply != tc.wantReply {
				t.Errorf("reply = %q, want %q", reply, tc.wantReply)
			}
		})
	}

	t.Run("unexpected store failure propagates to the boundary", func(t *testing.T) {
		t.Parallel()

		deps := testDeps(&fakeStore{redeemErr: errors.New("database is locked")})
		_, err := verifyHandler{deps}.Handle(context.Background(), Request{ChatID: 777, Text: "/verify_ABCDEF23"})
		if err == nil {
			t.Fatal("Handle() error = nil, want the store failure propagated")
		}
	})
}

func TestExtractCode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		text     string
		expected string
	}{
		{name: "plain", text: "/verify_ABCDEF23", expected: "ABCDEF23"},
		{name: "lowercase input uppercased", text: "/verify_abcdef23", expected: "ABCDEF23"},
		{name: "bot mention stripped", text: "/verify_ABCDEF23@linkbot", expected: "ABCDEF23"},
		{name: "trailing text stripped", text: "/verify_ABCDEF23 please", expected: "ABCDEF23"},
		{name: "surrounding whitespace", text: "  /verify_ABCDEF23  ", expected: "ABCDEF23"},
		{name: "empty code", text: "/verify_", expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := extractCode(tc.text); got != tc.expected {
				t.Errorf("extractCode(%q) = %q, want %q", tc.text, got, tc.expected)
			}
		})
	}
}

func TestStatusHandler(t *testing.T) {
	t.Parallel()

	t.Run("linked", func(t *testing.T) {
		t.Parallel()

		deps := testDeps(&fakeStore{accountByChat: linkedAccount(777)})
		reply, err := statusHandler{deps}.Handle(context.Background(), Request{ChatID: 777})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "*HighRoller*") {
			t.Errorf("reply %q does not identify the linked account", reply)
		}
	})

	t.Run("not linked", func(t *testing.T) {
		t.Parallel()

		deps := testDeps(&fakeStore{})
		reply, err := statusHandler{deps}.Handle(context.Background(), Request{ChatID: 777})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "not linked") || !strings.Contains(reply, "`777`") {
			t.Errorf("reply = %q, want the not-linked message with the chat ID", reply)
		}
	})
}

func TestDisconnectHandler(t *testing.T) {
	t.Parallel()

	t.Run("unlinks and records notification", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{accountByChat: linkedAccount(777), clearAffected: 1}
		deps := testDeps(store)

		reply, err := disconnectHandler{deps}.Handle(context.Background(), Request{ChatID: 777})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "unlinked") {
			t.Errorf("reply = %q, want an unlink confirmation", reply)
		}
		if len(store.notifications) != 1 || store.notifications[0].Kind != "chat_unlinked" {
			t.Errorf("notifications = %+v, want one chat_unlinked record", store.notifications)
		}
	})

	t.Run("not linked", func(t *testing.T) {
		t.Parallel()

		deps := testDeps(&fakeStore{})
		reply, err := disconnectHandler{deps}.Handle(context.Background(), Request{ChatID: 777})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "not linked") {
			t.Errorf("reply = %q, want the not-linked message", reply)
		}
	})

	t.Run("lost race to concurrent disconnect", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{accountByChat: linkedAccount(777), clearAffected: 0}
		deps := testDeps(store)

		reply, err := disconnectHandler{deps}.Handle(context.Background(), Request{ChatID: 777})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "not linked") {
			t.Errorf("reply = %q, want the not-linked message after losing the race", reply)
		}
		if len(store.notifications) != 0 {
			t.Errorf("recorded %d notifications after a lost race, want 0", len(store.notifications))
		}
	})
}

func TestTransactionsHandler(t *testing.T) {
	t.Parallel()

	t.Run("lists recent transactions newest first", func(t *testing.T) {
		t.Parallel()

		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		store := &fakeStore{
			accountByChat: linkedAccount(777),
			transactions: []database.Transaction{
				{Type: "win", Amount: 250, Status: "completed", CreatedAt: at.Add(2 * time.Minute)},
				{Type: "bet", Amount: 10, Status: "completed", CreatedAt: at.Add(time.Minute)},
				{Type: "deposit", Amount: 100, Status: "completed", CreatedAt: at},
			},
		}
		deps := testDeps(store)

		reply, err := transactionsHandler{deps}.Handle(context.Background(), Request{ChatID: 777})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		for _, want := range []string{"*Your last 3 transactions:*", "🏆", "🎰", "💰", "`250.00`", "completed"} {
			if !strings.Contains(reply, want) {
				t.Errorf("reply %q missing %q", reply, want)
			}
		}
		if strings.Index(reply, "win") > strings.Index(reply, "deposit") {
			t.Errorf("reply lists transactions oldest first: %q", reply)
		}
	})

	t.Run("no transactions", func(t *testing.T) {
		t.Parallel()

		deps := testDeps(&fakeStore{accountByChat: linkedAccount(777)})
		reply, err := transactionsHandler{deps}.Handle(context.Background(), Request{ChatID: 777})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "No transactions") {
			t.Errorf("reply = %q, want the empty-history message", reply)
		}
	})

	t.Run("not linked", func(t *testing.T) {
		t.Parallel()

		deps := testDeps(&fakeStore{})
		reply, err := transactionsHandler{deps}.Handle(context.Background(), Request{ChatID: 777})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if !strings.Contains(reply, "not linked") {
			t.Errorf("reply = %q, want the not-linked message", reply)
		}
	})
}

func TestMaskEmail(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		email    string
		expected string
	}{
		{name: "typical address", email: "player@example.com", expected: "pl****@example.com"},
		{name: "short local part", email: "ab@example.com", expected: "a****@example.com"},
		{name: "single character local part", email: "a@example.com", expected: "a****@example.com"},
		{name: "no at sign", email: "not-an-email", expected: "****"},
		{name: "empty", email: "", expected: "****"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := maskEmail(tc.email); got != tc.expected {
				t.Errorf("maskEmail(%q) = %q, want %q", tc.email, got, tc.expected)
			}
		})
	}
}
