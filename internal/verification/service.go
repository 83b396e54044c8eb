// Package verification implements the one-time code protocol that binds an
// external chat identity to a platform account. Codes are issued by the
// account-settings flow and redeemed from the chat side; redemption is
// at-most-once per code, enforced by the store's conditional claim.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"regexp"
	"time"

	"github.com/stakehouse/linkbot/internal/database"
)

// Redemption failures reported to the end user. Each maps to a specific reply;
// none of them mutates any state.
var (
	// ErrInvalidCode indicates the code doesn't exist or is malformed.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrAlreadyUsed indicates the code was redeemed before, possibly by a
	// concurrent attempt that won the claim.
	ErrAlreadyUsed = errors.New("verification code already used")
	// ErrExpired indicates the code's validity window has passed.
	ErrExpired = errors.New("verification code expired")
)

// codeAlphabet excludes ambiguous characters (0/O, 1/I) so codes stay
// human-enterable.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxIssueAttempts = 5

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6,}$`)

// ValidCodeFormat reports whether a candidate code matches the allowed
// character set and minimum length. Checked before any store access.
func ValidCodeFormat(code string) bool {
	return codePattern.MatchString(code)
}

// Service issues and redeems one-time verification codes.
type Service struct {
	store      database.Store
	logger     *slog.Logger
	codeLength int
	codeTTL    time.Duration
}

// NewService creates a verification service backed by the given store.
func NewService(store database.Store, logger *slog.Logger, codeLength int, codeTTL time.Duration) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:      store,
		logger:     logger.With("component", "verification"),
		codeLength: codeLength,
		codeTTL:    codeTTL,
	}
}

// Issue generates and persists a new one-time code for an account.
// The code is random over a human-enterable alphabet and expires after the
// configured TTL.
func (s *Service) Issue(ctx context.Context, accountID int64) (*database.VerificationCode, error) {
	if accountID == 0 {
		return nil, fmt.Errorf("account_id cannot be zero")
	}

	now := time.Now().UTC()

	var lastErr error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code, err := randomCode(s.codeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate verification code: %w", err)
		}

		vc := &database.VerificationCode{
			Code:      code,
			AccountID: accountID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.codeTTL),
		}

		if err := s.store.InsertVerificationCode(ctx, vc); err != nil {
			// Collision on the primary key is possible, retry with a fresh code.
			lastErr = err
			continue
		}

		s.logger.InfoContext(ctx, "Verification code issued",
			"account_id", accountID, "expires_at", vc.ExpiresAt)
		return vc, nil
	}

	return nil, fmt.Errorf("failed to issue verification code after %d attempts: %w", maxIssueAttempts, lastErr)
}

// Redeem claims a code and links the caller's chat ID to the code's account.
// On success it records a "link established" notification for the account and
// returns the linked account for the confirmation reply.
//
// Exactly one of any set of concurrent redemptions of the same code succeeds;
// the others fail with ErrAlreadyUsed.
func (s *Service) Redeem(ctx context.Context, code string, chatID int64) (*database.Account, error) {
	if !ValidCodeFormat(code) {
		return nil, ErrInvalidCode
	}

	account, err := s.store.RedeemCode(ctx, code, chatID)
	switch {
	case errors.Is(err, database.ErrCodeNotFound):
		s.logger.WarnContext(ctx, "Redemption attempt with unknown code", "chat_id", chatID)
		return nil, ErrInvalidCode

	case errors.Is(err, database.ErrCodeUsed):
		s.logger.WarnContext(ctx, "Redemption attempt with used code", "chat_id", chatID)
		return nil, ErrAlreadyUsed

	case errors.Is(err, database.ErrCodeExpired):
		s.logger.WarnContext(ctx, "Redemption attempt with expired code", "chat_id", chatID)
		return nil, ErrExpired

	case err != nil:
		return nil, fmt.Errorf("failed to redeem verification code: %w", err)
	}

	notification := &database.Notification{
		AccountID: account.ID,
		Kind:      "chat_linked",
		Body:      fmt.Sprintf("Chat %d was linked to your account.", chatID),
	}
	if err := s.store.InsertNotification(ctx, notification); err != nil {
		// The link itself succeeded; the missing record is logged, not surfaced.
		s.logger.ErrorContext(ctx, "Failed to record link notification",
			"account_id", account.ID, "error", err)
	}

	return account, nil
}

func randomCode(length int) (string, error) {
	if length < 6 {
		length = 6
	}

	buf := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
