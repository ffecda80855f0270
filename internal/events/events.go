// Package events defines the domain events saldo emits after a write.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const TypeAccountBalanceUpdated = "account.balance.updated"

// AccountBalanceUpdated is emitted after an account balance has been stored.
type AccountBalanceUpdated struct {
	EventID         string          `json:"event_id"`
	Type            string          `json:"type"`
	AccountID       string          `json:"account_id"`
	UserID          string          `json:"user_id"`
	Currency        string          `json:"currency"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	Balance         decimal.Decimal `json:"balance"`
	Source          string          `json:"source"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

func NewAccountBalanceUpdated(accountID, userID, currency string, previous, balance decimal.Decimal, source string, at time.Time) AccountBalanceUpdated {
	return AccountBalanceUpdated{
		EventID:         uuid.NewString(),
		Type:            TypeAccountBalanceUpdated,
		AccountID:       accountID,
		UserID:          userID,
		Currency:        currency,
		PreviousBalance: previous,
		Balance:         balance,
		Source:          source,
		OccurredAt:      at,
	}
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	PublishAccountBalanceUpdated(ctx context.Context, e AccountBalanceUpdated) error
	Close() error
}

// LogPublisher records events in the log. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) PublishAccountBalanceUpdated(ctx context.Context, e AccountBalanceUpdated) error {
	slog.InfoContext(ctx, "Account balance updated",
		"event_id", e.EventID,
		"account_id", e.AccountID,
		"user_id", e.UserID,
		"currency", e.Currency,
		"balance", e.Balance.String(),
		"source", e.Source)
	return nil
}

func (LogPublisher) Close() error { return nil }
