package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/ports"
)

// ConversionRates returns the multiplier converting an amount in from into to.
type ConversionRates interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// RateLookup converts between currencies using base-relative rates: every
// stored rate is expressed against the reference currency, so
// from -> to is rate(to) / rate(from).
type RateLookup struct {
	currencies ports.CurrencyReader
	rates      ports.ExchangeRateReader
	reference  string
	cache      cache.Cache[decimal.Decimal]
}

// NewRateLookup builds a lookup. c may be nil to disable caching.
func NewRateLookup(currencies ports.CurrencyReader, rates ports.ExchangeRateReader, reference string, c cache.Cache[decimal.Decimal]) *RateLookup {
	return &RateLookup{
		currencies: currencies,
		rates:      rates,
		reference:  strings.ToUpper(strings.TrimSpace(reference)),
		cache:      c,
	}
}

// Rate returns 1 when from equals to, or when either side has no usable rate.
func (l *RateLookup) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	var (
		fromRate, toRate decimal.Decimal
		fromOK, toOK     bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fromRate, fromOK, err = l.baseRate(gctx, from)
		return err
	})
	g.Go(func() error {
		var err error
		toRate, toOK, err = l.baseRate(gctx, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return decimal.Zero, err
	}

	if !fromOK || !toOK {
		slog.WarnContext(ctx, "No exchange rate available, converting 1:1",
			"from", from, "to", to, "from_found", fromOK, "to_found", toOK)
		return decimal.NewFromInt(1), nil
	}
	return toRate.Div(fromRate), nil
}

// baseRate returns the latest rate of code against the reference currency.
func (l *RateLookup) baseRate(ctx context.Context, code string) (decimal.Decimal, bool, error) {
	if code == l.reference {
		return decimal.NewFromInt(1), true, nil
	}
	if l.cache != nil {
		if r, ok := l.cache.Get(code); ok {
			return r, true, nil
		}
	}

	c, err := l.currencies.GetCurrencyByCode(ctx, code)
	if errors.Is(err, core.ErrNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("resolve currency %s: %w", code, err)
	}

	rate, err := l.rates.LatestRate(ctx, c.ID)
	if errors.Is(err, core.ErrNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("latest rate %s: %w", code, err)
	}
	if !rate.Rate.IsPositive() {
		slog.WarnContext(ctx, "Ignoring non-positive exchange rate", "currency", code, "rate", rate.Rate.String())
		return decimal.Zero, false, nil
	}

	if l.cache != nil {
		l.cache.Set(code, rate.Rate)
	}
	return rate.Rate, true, nil
}

// Prime loads the latest rate of every currency into the cache and
// returns how many were stored. It is a no-op without a cache.
func (l *RateLookup) Prime(ctx context.Context) (int, error) {
	if l.cache == nil {
		return 0, nil
	}
	cs, err := l.currencies.ListCurrencies(ctx)
	if err != nil {
		return 0, fmt.Errorf("list currencies: %w", err)
	}
	rates, err := l.rates.ListLatestRates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list latest rates: %w", err)
	}
	codes := make(map[int64]string, len(cs))
	for _, c := range cs {
		codes[c.ID] = strings.ToUpper(c.Code)
	}
	n := 0
	for _, r := range rates {
		code, ok := codes[r.CurrencyID]
		if !ok || code == l.reference || !r.Rate.IsPositive() {
			continue
		}
		l.cache.Set(code, r.Rate)
		n++
	}
	return n, nil
}
