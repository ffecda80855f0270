package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// Ports for storage adapters. Lookups of a single record return
// core.ErrNotFound (possibly wrapped) when nothing matches.
type (
	TransactionReader interface {
		// FindTransactionsByUser returns the user's transactions matching q,
		// ordered by transaction date descending.
		FindTransactionsByUser(ctx context.Context, userID string, q core.TransactionQuery) ([]core.Transaction, error)
	}

	AccountReader interface {
		FindAccountsByUser(ctx context.Context, userID string) ([]core.Account, error)
		GetAccount(ctx context.Context, id string) (core.Account, error)
	}

	// AccountBalanceWriter stores a new balance. Last write wins.
	AccountBalanceWriter interface {
		UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal, at time.Time) error
	}

	HoldingsReader interface {
		FindCashHoldingsByUser(ctx context.Context, userID string) ([]core.CashHolding, error)
		FindAssetsByUser(ctx context.Context, userID string) ([]core.Asset, error)
	}

	CurrencyReader interface {
		GetCurrency(ctx context.Context, id int64) (core.Currency, error)
		GetCurrencyByCode(ctx context.Context, code string) (core.Currency, error)
		ListCurrencies(ctx context.Context) ([]core.Currency, error)
	}

	ExchangeRateReader interface {
		// LatestRate returns the most recent rate by rate date for the currency.
		LatestRate(ctx context.Context, currencyID int64) (core.ExchangeRate, error)
		// ListLatestRates returns the most recent rate of every currency that has one.
		ListLatestRates(ctx context.Context) ([]core.ExchangeRate, error)
	}

	// Store is everything a storage backend provides.
	Store interface {
		TransactionReader
		AccountReader
		AccountBalanceWriter
		HoldingsReader
		CurrencyReader
		ExchangeRateReader
		Ping(ctx context.Context) error
		Close() error
	}
)
