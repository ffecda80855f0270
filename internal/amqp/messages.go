package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// AccountBalanceSyncMessage asks the worker to store a balance observed for an account.
type AccountBalanceSyncMessage struct {
	MessageID  string          `json:"message_id"`
	AccountID  string          `json:"account_id"`
	UserID     string          `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	ObservedAt time.Time       `json:"observed_at"`
	Timestamp  time.Time       `json:"timestamp"`
}

var ErrInvalidMessage = errors.New("invalid balance sync message")

func NewAccountBalanceSyncMessage(accountID, userID string, balance decimal.Decimal, observedAt time.Time) *AccountBalanceSyncMessage {
	return &AccountBalanceSyncMessage{
		MessageID:  uuid.NewString(),
		AccountID:  accountID,
		UserID:     userID,
		Balance:    balance,
		ObservedAt: observedAt,
		Timestamp:  time.Now(),
	}
}

// NewBalanceSyncMessage wraps a requested sync in a new message.
func NewBalanceSyncMessage(s core.BalanceSync) *AccountBalanceSyncMessage {
	return NewAccountBalanceSyncMessage(s.AccountID, s.UserID, s.Balance, s.ObservedAt)
}

func (m *AccountBalanceSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Validate rejects messages a retry could never fix.
func (m *AccountBalanceSyncMessage) Validate() error {
	if _, err := uuid.Parse(m.AccountID); err != nil {
		return ErrInvalidMessage
	}
	if _, err := uuid.Parse(m.UserID); err != nil {
		return ErrInvalidMessage
	}
	return nil
}

// AccountBalanceSyncMessageFromJSON decodes and validates a message.
func AccountBalanceSyncMessageFromJSON(data []byte) (*AccountBalanceSyncMessage, error) {
	var msg AccountBalanceSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
