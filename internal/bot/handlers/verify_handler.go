package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"

	"github.com/stakehouse/linkbot/internal/verification"
)

// NewVerifyHandler returns a handler for /verify_<code> messages.
func NewVerifyHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return Boundary(deps, "verify", verifyHandler{deps}.Handle)
}

// verifyHandler redeems a one-time code and links the chat to the code's
// account. Validation failures map to specific replies; everything else falls
// through to the boundary.
type verifyHandler struct {
	deps HandlerDeps
}

func (h verifyHandler) Handle(ctx context.Context, req Request) (string, error) {
	code := extractCode(req.Text)

	if !verification.ValidCodeFormat(code) {
		return h.deps.Config.Messages.InvalidCode, nil
	}

	account, err := h.deps.Verifier.Redeem(ctx, code, req.ChatID)
	switch {
	case errors.Is(err, verification.ErrInvalidCode):
		return h.deps.Config.Messages.InvalidCode, nil

	case errors.Is(err, verification.ErrAlreadyUsed):
		return h.deps.Config.Messages.AlreadyUsed, nil

	case errors.Is(err, verification.ErrExpired):
		return h.deps.Config.Messages.Expired, nil

	case err != nil:
		return "", err
	}

	return fmt.Sprintf("✅ This chat is now linked to account *%s*. You will receive notifications here.",
		maskedIdentity(account)), nil
}

// extractCode pulls the code out of "/verify_<code>", tolerating the
// "@botname" suffix Telegram appends in group chats and any trailing text.
func extractCode(text string) string {
	code := strings.TrimPrefix(strings.TrimSpace(text), "/verify_")
	if idx := strings.IndexAny(code, "@ \t\n"); idx != -1 {
		code = code[:idx]
	}
	return strings.ToUpper(code)
}
