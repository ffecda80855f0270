package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/storage/memory"
)

const (
	userA = "7b0f2a52-3c1e-4b8e-9c64-5d2f1e0a9b11"
	userB = "1d3c5e7a-9b2f-4a6c-8e0d-2f4a6c8e0b13"

	accUSD = "0c7d6a8e-1f4b-4c51-a1de-0b9a6f3e2c10"
	accDOP = "5e2a9c1b-7d3f-4e8a-b6c0-1a2b3c4d5e6f"
	accEUR = "9f8e7d6c-5b4a-4321-8fed-cba987654321"

	idDOP int64 = 1
	idUSD int64 = 2
	idEUR int64 = 3
)

var errBoom = errors.New("database is on fire")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

func day(y, m, d int) time.Time { return time.Date(y, time.Month(m), d, 12, 0, 0, 0, time.UTC) }

// newStore returns a memory store where 1 DOP = 0.02 USD = 0.015 EUR.
func newStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New(memory.DefaultCurrencies)
	if err := s.AddRate("USD", dec("0.025"), day(2023, 12, 1)); err != nil {
		t.Fatalf("seed rate: %v", err)
	}
	if err := s.AddRate("USD", dec("0.02"), day(2024, 3, 1)); err != nil {
		t.Fatalf("seed rate: %v", err)
	}
	return s
}

func addTx(t *testing.T, s *memory.Store, user string, amount string, currency int64, class core.TransactionClass, category string, at time.Time) {
	t.Helper()
	err := s.AddTransaction(core.Transaction{
		UserID:          user,
		Amount:          dec(amount),
		CurrencyID:      currency,
		Class:           class,
		CategoryName:    category,
		TransactionDate: at,
	})
	if err != nil {
		t.Fatalf("add transaction: %v", err)
	}
}

func newResolver(s *memory.Store) *CurrencyResolver {
	return NewCurrencyResolver(s, nil)
}

func newRates(s *memory.Store) *RateLookup {
	return NewRateLookup(s, s, "DOP", nil)
}

// failingStore fails the calls named in failOn.
type failingStore struct {
	*memory.Store
	failOn    string
	currencyN atomic.Int32
	rateN     atomic.Int32
}

func (f *failingStore) FindTransactionsByUser(ctx context.Context, userID string, q core.TransactionQuery) ([]core.Transaction, error) {
	if f.failOn == "transactions" {
		return nil, errBoom
	}
	return f.Store.FindTransactionsByUser(ctx, userID, q)
}

func (f *failingStore) FindAccountsByUser(ctx context.Context, userID string) ([]core.Account, error) {
	if f.failOn == "accounts" {
		return nil, errBoom
	}
	return f.Store.FindAccountsByUser(ctx, userID)
}

func (f *failingStore) GetCurrency(ctx context.Context, id int64) (core.Currency, error) {
	f.currencyN.Add(1)
	if f.failOn == "currency" {
		return core.Currency{}, errBoom
	}
	return f.Store.GetCurrency(ctx, id)
}

func (f *failingStore) GetCurrencyByCode(ctx context.Context, code string) (core.Currency, error) {
	f.currencyN.Add(1)
	if f.failOn == "currency" {
		return core.Currency{}, errBoom
	}
	return f.Store.GetCurrencyByCode(ctx, code)
}

func (f *failingStore) LatestRate(ctx context.Context, id int64) (core.ExchangeRate, error) {
	f.rateN.Add(1)
	if f.failOn == "rates" {
		return core.ExchangeRate{}, errBoom
	}
	return f.Store.LatestRate(ctx, id)
}
