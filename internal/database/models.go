package database

import (
	"database/sql"
	"time"
)

// Account represents a platform account as seen by the chat gateway.
// ChatID is the Telegram chat linked to the account, or NULL when no link exists.
// At most one non-null ChatID is held per account at a time.
type Account struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	Email       string        `db:"email"`
	DisplayName string        `db:"display_name"`
	ChatID      sql.NullInt64 `db:"chat_id"`
}

// VerificationCode is a short-lived, single-use secret binding a chat identity
// to an account. A code transitions unused -> used exactly once and is never
// mutated after being marked used.
type VerificationCode struct {
	Code      string    `db:"code"`
	AccountID int64     `db:"account_id"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`

	IsUsed bool         `db:"is_used"`
	UsedAt sql.NullTime `db:"used_at"`
}

// Transaction is a read-only view of an account transaction, used by the
// /transactions command.
type Transaction struct {
	ID        int64     `db:"id"`
	AccountID int64     `db:"account_id"`
	Type      string    `db:"type"`
	Amount    float64   `db:"amount"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

// Notification is an internal record informing an account of a link or unlink
// event. Insert-only from this subsystem.
type Notification struct {
	ID        int64     `db:"id"`
	AccountID int64     `db:"account_id"`
	Kind      string    `db:"kind"`
	Body      string    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
}
