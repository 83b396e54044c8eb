package handlers

import (
	"strings"

	"github.com/stakehouse/linkbot/internal/database"
)

// maskedIdentity returns a display identity for an account that is safe to
// echo into a chat: the display name when set, otherwise a masked email.
func maskedIdentity(account *database.Account) string {
	if account.DisplayName != "" {
		return account.DisplayName
	}
	return maskEmail(account.Email)
}

// maskEmail keeps the first two characters of the local part and the full
// domain, e.g. "player@example.com" -> "pl****@example.com".
func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "****"
	}

	local := email[:at]
	domain := email[at:]

	if len(local) <= 2 {
		return local[:1] + "****" + domain
	}
	return local[:2] + "****" + domain
}
