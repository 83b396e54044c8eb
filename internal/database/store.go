package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Typed failures for the one-time code redemption protocol. Callers are
// expected to branch on these with errors.Is.
var (
	// ErrCodeNotFound indicates no verification code row exists for the given code.
	ErrCodeNotFound = errors.New("verification code not found")
	// ErrCodeUsed indicates the code has already been redeemed.
	ErrCodeUsed = errors.New("verification code already used")
	// ErrCodeExpired indicates the code exists, is unused, but has expired.
	ErrCodeExpired = errors.New("verification code expired")
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetAccountByID retrieves an account by its ID. Returns nil, nil if not found.
	GetAccountByID(ctx context.Context, accountID int64) (*Account, error)

	// GetAccountByChatID retrieves the account currently linked to the given
	// chat ID. Returns nil, nil if no account is linked.
	GetAccountByChatID(ctx context.Context, chatID int64) (*Account, error)

	// ClearAccountChatID removes the chat link for an account. Returns the
	// number of rows affected (0 when the account had no link or doesn't exist).
	ClearAccountChatID(ctx context.Context, accountID int64) (int64, error)

	// InsertVerificationCode inserts a new one-time code record.
	InsertVerificationCode(ctx context.Context, code *VerificationCode) error

	// GetVerificationCode retrieves a code record. Returns nil, nil if not found.
	GetVerificationCode(ctx context.Context, code string) (*VerificationCode, error)

	// RedeemCode atomically claims an unused, unexpired code and links the
	// caller's chat ID to the code's account, in a single transaction.
	// Returns the linked account on success, or one of ErrCodeNotFound,
	// ErrCodeUsed, ErrCodeExpired. Two concurrent redemptions of the same code
	// result in exactly one success; the loser gets ErrCodeUsed.
	RedeemCode(ctx context.Context, code string, chatID int64) (*Account, error)

	// GetRecentTransactions retrieves the most recent 'limit' transactions for an account.
	GetRecentTransactions(ctx context.Context, accountID int64, limit int) ([]Transaction, error)

	// InsertNotification inserts an internal notification record for an account.
	InsertNotification(ctx context.Context, notification *Notification) error

	// PurgeStaleCodes deletes used codes and codes that expired before the
	// retention cutoff. Returns the number of rows deleted.
	PurgeStaleCodes(ctx context.Context, retention time.Duration) (int64, error)
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetAccountByID retrieves an account by its ID. Returns nil, nil if not found.
func (s *sqlxStore) GetAccountByID(ctx context.Context, accountID int64) (*Account, error) {
	if accountID == 0 {
		return nil, fmt.Errorf("account_id cannot be zero")
	}

	var account Account
	query := `SELECT id, created_at, updated_at, email, display_name, chat_id
	          FROM accounts WHERE id = ?`

	err := s.db.GetContext(ctx, &account, query, accountID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No account found", "account_id", accountID)
		return nil, nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting account by ID", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("failed to get account %d: %w", accountID, err)
	}

	return &account, nil
}

// GetAccountByChatID retrieves the account linked to a chat ID. Returns nil, nil if none.
func (s *sqlxStore) GetAccountByChatID(ctx context.Context, chatID int64) (*Account, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}

	var account Account
	query := `SELECT id, created_at, updated_at, email, display_name, chat_id
	          FROM accounts WHERE chat_id = ?`

	err := s.db.GetContext(ctx, &account, query, chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No account linked to chat", "chat_id", chatID)
		return nil, nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting account by chat ID", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get account for chat %d: %w", chatID, err)
	}

	return &account, nil
}

// ClearAccountChatID removes the chat link for an account.
func (s *sqlxStore) ClearAccountChatID(ctx context.Context, accountID int64) (int64, error) {
	if accountID == 0 {
		return 0, fmt.Errorf("account_id cannot be zero")
	}

	now := time.Now().UTC()
	query := `UPDATE accounts SET chat_id = NULL, updated_at = ? WHERE id = ? AND chat_id IS NOT NULL`

	result, err := s.db.ExecContext(ctx, query, now, accountID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error clearing account chat link", "account_id", accountID, "error", err)
		return 0, fmt.Errorf("failed to clear chat link for account %d: %w", accountID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count when clearing chat link",
			"account_id", accountID, "error", err)
		return 0, nil
	}

	s.logger.DebugContext(ctx, "Cleared account chat link", "account_id", accountID, "affected", affected)
	return affected, nil
}

// InsertVerificationCode inserts a new one-time code record.
func (s *sqlxStore) InsertVerificationCode(ctx context.Context, code *VerificationCode) error {
	if code == nil {
		return fmt.Errorf("cannot insert nil verification code")
	}
	if code.Code == "" {
		return fmt.Errorf("verification code must have a non-empty code")
	}
	if code.AccountID == 0 {
		return fmt.Errorf("verification code must have a non-zero account_id")
	}
	if code.ExpiresAt.IsZero() {
		return fmt.Errorf("verification code must have a non-zero expires_at")
	}

	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO verification_codes (code, account_id, created_at, expires_at, is_used, used_at)
        VALUES (:code, :account_id, :created_at, :expires_at, :is_used, :used_at);
    `

	if _, err := s.db.NamedExecContext(ctx, query, code); err != nil {
		s.logger.ErrorContext(ctx, "Error inserting verification code",
			"account_id", code.AccountID, "error", err)
		return fmt.Errorf("failed to insert verification code for account %d: %w", code.AccountID, err)
	}

	s.logger.DebugContext(ctx, "Verification code inserted",
		"account_id", code.AccountID, "expires_at", code.ExpiresAt)
	return nil
}

// GetVerificationCode retrieves a code record. Returns nil, nil if not found.
func (s *sqlxStore) GetVerificationCode(ctx context.Context, code string) (*VerificationCode, error) {
	if code == "" {
		return nil, fmt.Errorf("code cannot be empty")
	}

	var vc VerificationCode
	query := `SELECT code, account_id, created_at, expires_at, is_used, used_at
	          FROM verification_codes WHERE code = ?`

	err := s.db.GetContext(ctx, &vc, query, code)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting verification code", "error", err)
		return nil, fmt.Errorf("failed to get verification code: %w", err)
	}

	return &vc, nil
}

// RedeemCode atomically claims a code and links the chat ID to its account.
//
// The claim is a conditional UPDATE guarded on is_used = 0; an unconditional
// read-then-write would allow two concurrent redemptions to both succeed.
func (s *sqlxStore) RedeemCode(ctx context.Context, code string, chatID int64) (*Account, error) {
	if code == "" {
		return nil, fmt.Errorf("code cannot be empty")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for code redemption", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	var vc VerificationCode
	err = tx.GetContext(ctx, &vc,
		`SELECT code, account_id, created_at, expires_at, is_used, used_at
		 FROM verification_codes WHERE code = ?`, code)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrCodeNotFound
	case err != nil:
		s.logger.ErrorContext(ctx, "Error reading verification code for redemption", "error", err)
		return nil, fmt.Errorf("failed to read verification code: %w", err)
	}

	if vc.IsUsed {
		return nil, ErrCodeUsed
	}

	now := time.Now().UTC()
	if !now.Before(vc.ExpiresAt) {
		return nil, ErrCodeExpired
	}

	// Exclusive claim: only one transaction can flip is_used from 0 to 1.
	result, err := tx.ExecContext(ctx,
		`UPDATE verification_codes SET is_used = 1, used_at = ? WHERE code = ? AND is_used = 0`,
		now, code)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error claiming verification code", "error", err)
		return nil, fmt.Errorf("failed to claim verification code: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.ErrorContext(ctx, "Could not get affected row count for code claim", "error", err)
		return nil, fmt.Errorf("failed to verify code claim: %w", err)
	}
	if affected == 0 {
		// Lost the race to a concurrent redemption.
		return nil, ErrCodeUsed
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET chat_id = ?, updated_at = ? WHERE id = ?`,
		chatID, now, vc.AccountID); err != nil {
		s.logger.ErrorContext(ctx, "Error linking chat to account",
			"account_id", vc.AccountID, "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to link chat to account %d: %w", vc.AccountID, err)
	}

	var account Account
	if err := tx.GetContext(ctx, &account,
		`SELECT id, created_at, updated_at, email, display_name, chat_id
		 FROM accounts WHERE id = ?`, vc.AccountID); err != nil {
		s.logger.ErrorContext(ctx, "Error reading account after linking",
			"account_id", vc.AccountID, "error", err)
		return nil, fmt.Errorf("failed to read account %d after linking: %w", vc.AccountID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit code redemption", "error", err)
		return nil, fmt.Errorf("failed to commit code redemption: %w", err)
	}
	tx = nil

	s.logger.InfoContext(ctx, "Verification code redeemed",
		"account_id", account.ID, "chat_id", chatID)
	return &account, nil
}

// GetRecentTransactions retrieves the most recent 'limit' transactions for an account.
func (s *sqlxStore) GetRecentTransactions(ctx context.Context, accountID int64, limit int) ([]Transaction, error) {
	if accountID == 0 {
		return nil, fmt.Errorf("account_id cannot be zero")
	}

	if limit <= 0 {
		limit = 5
		s.logger.DebugContext(ctx, "Invalid limit provided, using default",
			"account_id", accountID, "default_limit", limit)
	} else if limit > 50 {
		limit = 50
		s.logger.DebugContext(ctx, "Limit exceeded maximum value, capping",
			"account_id", accountID, "capped_limit", limit)
	}

	var transactions []Transaction
	query := `
        SELECT id, account_id, type, amount, status, created_at
        FROM transactions
        WHERE account_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &transactions, query, accountID, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent transactions",
			"account_id", accountID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get transactions for account %d: %w", accountID, err)
	}

	s.logger.DebugContext(ctx, "Fetched recent transactions",
		"account_id", accountID, "count", len(transactions))
	return transactions, nil
}

// InsertNotification inserts an internal notification record for an account.
func (s *sqlxStore) InsertNotification(ctx context.Context, notification *Notification) error {
	if notification == nil {
		return fmt.Errorf("cannot insert nil notification")
	}
	if notification.AccountID == 0 {
		return fmt.Errorf("notification must have a non-zero account_id")
	}
	if notification.Kind == "" {
		return fmt.Errorf("notification must have a non-empty kind")
	}

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO notifications (account_id, kind, body, created_at)
        VALUES (:account_id, :kind, :body, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, notification)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting notification",
			"account_id", notification.AccountID, "kind", notification.Kind, "error", err)
		return fmt.Errorf("failed to insert notification for account %d: %w", notification.AccountID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		notification.ID = id
	}

	s.logger.DebugContext(ctx, "Notification record inserted",
		"account_id", notification.AccountID, "kind", notification.Kind)
	return nil
}

// PurgeStaleCodes deletes used codes and long-expired codes.
func (s *sqlxStore) PurgeStaleCodes(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	query := `DELETE FROM verification_codes WHERE is_used = 1 OR expires_at < ?`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error purging stale verification codes", "error", err)
		return 0, fmt.Errorf("failed to purge stale verification codes: %w", err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Purged stale verification codes", "count", count)
	return count, nil
}
