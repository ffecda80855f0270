package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/events"
	"saldo/internal/ports"
)

// Sources of a balance update, carried on the emitted event.
const (
	SourceAPI  = "api"
	SourceSync = "sync"
)

// ErrQueueUnavailable is returned when asynchronous sync is requested without a broker.
var ErrQueueUnavailable = errors.New("balance sync queue not configured")

// BalanceSyncQueue accepts balance updates for asynchronous processing.
type BalanceSyncQueue interface {
	// EnqueueBalanceSync queues s and returns the id of the queued message.
	EnqueueBalanceSync(ctx context.Context, s core.BalanceSync) (string, error)
}

type AccountStore interface {
	ports.AccountReader
	ports.AccountBalanceWriter
}

type UpdateBalanceRequest struct {
	UserID    string
	AccountID string
	Balance   decimal.Decimal
	Source    string
}

// AccountService reads accounts and applies balance updates, storing first
// and then announcing the change on the event publisher.
type AccountService struct {
	accounts   AccountStore
	currencies CurrencyCodeResolver
	events     events.Publisher
	queue      BalanceSyncQueue
	fallback   string
	now        func() time.Time
}

// NewAccountService builds the service. publisher and queue may be nil.
func NewAccountService(accounts AccountStore, currencies CurrencyCodeResolver, publisher events.Publisher, queue BalanceSyncQueue, fallbackCurrency string) *AccountService {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &AccountService{
		accounts:   accounts,
		currencies: currencies,
		events:     publisher,
		queue:      queue,
		fallback:   fallbackCurrency,
		now:        time.Now,
	}
}

// ListAccounts returns the user's accounts with resolved currency codes.
func (s *AccountService) ListAccounts(ctx context.Context, userID string) ([]core.AccountBalance, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return nil, err
	}
	accounts, err := s.accounts.FindAccountsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find accounts: %w", err)
	}
	ids := make([]int64, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.CurrencyID)
	}
	codes, err := s.currencies.Codes(ctx, ids, s.fallback)
	if err != nil {
		return nil, err
	}
	out := make([]core.AccountBalance, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, core.AccountBalance{
			AccountID:    a.ID,
			AccountLabel: a.Label,
			AccountType:  a.ProductType,
			Currency:     codes[a.CurrencyID],
			Balance:      a.Balance,
			LastUpdate:   a.LastBalanceUpdate,
		})
	}
	return out, nil
}

// UpdateAccountBalance stores a new balance for an account the user owns.
// Publishing the event is best effort.
func (s *AccountService) UpdateAccountBalance(ctx context.Context, req UpdateBalanceRequest) (core.Account, error) {
	if err := core.ValidateUserID(req.UserID); err != nil {
		return core.Account{}, err
	}
	if err := core.ValidateAccountID(req.AccountID); err != nil {
		return core.Account{}, err
	}

	account, err := s.accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	if !account.OwnedBy(req.UserID) {
		return core.Account{}, core.ErrUnauthorized
	}

	at := s.now().UTC()
	if err := s.accounts.UpdateAccountBalance(ctx, account.ID, req.Balance, at); err != nil {
		return core.Account{}, fmt.Errorf("update account balance: %w", err)
	}
	previous := account.Balance
	account.Balance = req.Balance
	account.LastBalanceUpdate = &at

	slog.InfoContext(ctx, "Account balance updated",
		"account_id", account.ID,
		"user_id", req.UserID,
		"source", req.Source)

	currency, err := s.currencies.Code(ctx, account.CurrencyID, s.fallback)
	if err != nil {
		slog.WarnContext(ctx, "Failed to resolve account currency for event", "account_id", account.ID, "error", err)
		currency = s.fallback
	}
	e := events.NewAccountBalanceUpdated(account.ID, req.UserID, currency, previous, req.Balance, req.Source, at)
	if err := s.events.PublishAccountBalanceUpdated(ctx, e); err != nil {
		slog.ErrorContext(ctx, "Failed to publish balance event",
			"account_id", account.ID, "event_id", e.EventID, "error", err)
	}

	return account, nil
}

// RequestBalanceSync queues a balance update for the worker after checking ownership.
func (s *AccountService) RequestBalanceSync(ctx context.Context, req UpdateBalanceRequest) (string, error) {
	if s.queue == nil {
		return "", ErrQueueUnavailable
	}
	if err := core.ValidateUserID(req.UserID); err != nil {
		return "", err
	}
	if err := core.ValidateAccountID(req.AccountID); err != nil {
		return "", err
	}
	account, err := s.accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		return "", fmt.Errorf("get account: %w", err)
	}
	if !account.OwnedBy(req.UserID) {
		return "", core.ErrUnauthorized
	}

	id, err := s.queue.EnqueueBalanceSync(ctx, core.BalanceSync{
		AccountID:  req.AccountID,
		UserID:     req.UserID,
		Balance:    req.Balance,
		ObservedAt: s.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("queue balance sync: %w", err)
	}
	return id, nil
}

// Close releases the event publisher.
func (s *AccountService) Close() error {
	var errs []error
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
	}
	return errors.Join(errs...)
}
