package handlers

import (
	"context"
	"fmt"
	"strings"

	tgbot "github.com/go-telegram/bot"
)

// transactionsLimit is the number of records shown by /transactions.
const transactionsLimit = 5

// NewTransactionsHandler returns a handler for the /transactions command.
func NewTransactionsHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return Boundary(deps, "transactions", transactionsHandler{deps}.Handle)
}

type transactionsHandler struct {
	deps HandlerDeps
}

func (h transactionsHandler) Handle(ctx context.Context, req Request) (string, error) {
	account, err := h.deps.Store.GetAccountByChatID(ctx, req.ChatID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return fmt.Sprintf(h.deps.Config.Messages.NotLinked, req.ChatID), nil
	}

	transactions, err := h.deps.Store.GetRecentTransactions(ctx, account.ID, transactionsLimit)
	if err != nil {
		return "", err
	}
	if len(transactions) == 0 {
		return "No transactions found for your account.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Your last %d transactions:*\n\n", len(transactions))
	for _, tx := range transactions {
		fmt.Fprintf(&b, "%s `%s` %s `%.2f` — %s\n",
			transactionIcon(tx.Type),
			tx.CreatedAt.Format("2006-01-02 15:04"),
			tx.Type,
			tx.Amount,
			tx.Status)
	}
	return b.String(), nil
}

func transactionIcon(txType string) string {
	switch txType {
	case "deposit":
		return "💰"
	case "withdrawal":
		return "🏧"
	case "bet":
		return "🎰"
	case "win":
		return "🏆"
	default:
		return "🧾"
	}
}
