// Package notify implements best-effort templated message delivery to linked
// chats. Sends never fail the business operation that triggered them: every
// failure path is logged and reported as a boolean, not an error.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Kind selects the notification template.
type Kind string

// Supported notification kinds.
const (
	KindDeposit            Kind = "deposit"
	KindWin                Kind = "win"
	KindLogin              Kind = "login"
	KindWithdrawalApproved Kind = "withdrawal_approved"
	KindSecurityAlert      Kind = "security_alert"
	KindCustom             Kind = "custom"
)

// Payload carries kind-specific template fields. Unused fields are ignored by
// the selected template.
type Payload struct {
	Amount   float64
	Currency string
	Game     string
	IP       string
	Device   string

	// Title and Body are used by KindCustom only.
	Title string
	Body  string
}

// Sender delivers a text message to a chat. The bot lifecycle manager
// implements this over the currently active connection.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Dispatcher renders notification templates and pushes them through a Sender.
type Dispatcher struct {
	sender Sender
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher delivering through the given sender.
func NewDispatcher(sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		sender: sender,
		logger: logger.With("component", "notify"),
	}
}

// Send renders the template for kind and attempts delivery to chatID.
// A zero chatID means the account has no linked chat: the send is skipped and
// false is returned without an attempt. Delivery failures are logged and
// reported as false; Send never returns an error to the caller.
func (d *Dispatcher) Send(ctx context.Context, chatID int64, kind Kind, payload Payload) bool {
	if chatID == 0 {
		d.logger.DebugContext(ctx, "Skipping notification, no linked chat", "kind", string(kind))
		return false
	}

	text := Render(kind, payload, time.Now().UTC())

	if err := d.sender.SendMessage(ctx, chatID, text); err != nil {
		d.logger.WarnContext(ctx, "Notification delivery failed",
			"chat_id", chatID, "kind", string(kind), "error", err)
		return false
	}

	d.logger.DebugContext(ctx, "Notification delivered", "chat_id", chatID, "kind", string(kind))
	return true
}

// Render produces the outbound message text for a notification. Messages use
// the lightweight Markdown the messaging platform understands (bold and code
// spans).
func Render(kind Kind, p Payload, at time.Time) string {
	stamp := at.Format("2006-01-02 15:04 MST")

	var b strings.Builder
	switch kind {
	case KindDeposit:
		b.WriteString("*Deposit confirmed*\n\n")
		fmt.Fprintf(&b, "Amount: `%.2f %s`\n", p.Amount, p.Currency)

	case KindWin:
		b.WriteString("*Congratulations, you won!*\n\n")
		fmt.Fprintf(&b, "Game: %s\n", p.Game)
		fmt.Fprintf(&b, "Amount: `%.2f %s`\n", p.Amount, p.Currency)

	case KindLogin:
		b.WriteString("*New login to your account*\n\n")
		if p.IP != "" {
			fmt.Fprintf(&b, "IP: `%s`\n", p.IP)
		}
		if p.Device != "" {
			fmt.Fprintf(&b, "Device: %s\n", p.Device)
		}
		b.WriteString("If this wasn't you, change your password immediately.\n")

	case KindWithdrawalApproved:
		b.WriteString("*Withdrawal approved*\n\n")
		fmt.Fprintf(&b, "Amount: `%.2f %s`\n", p.Amount, p.Currency)
		b.WriteString("The funds are on their way.\n")

	case KindSecurityAlert:
		b.WriteString("*Security alert*\n\n")
		if p.Body != "" {
			b.WriteString(p.Body + "\n")
		} else {
			b.WriteString("Unusual activity was detected on your account.\n")
		}

	case KindCustom:
		if p.Title != "" {
			fmt.Fprintf(&b, "*%s*\n\n", p.Title)
		}
		b.WriteString(p.Body + "\n")

	default:
		fmt.Fprintf(&b, "*Notification*\n\n%s\n", p.Body)
	}

	fmt.Fprintf(&b, "\n_%s_", stamp)
	return b.String()
}
