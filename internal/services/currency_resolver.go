package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/ports"
)

// CurrencyCodeResolver maps currency ids to codes.
type CurrencyCodeResolver interface {
	Code(ctx context.Context, id int64, fallback string) (string, error)
	Codes(ctx context.Context, ids []int64, fallback string) (map[int64]string, error)
}

// CurrencyResolver resolves currency ids through the store, caching hits.
// Unknown ids resolve to the caller's fallback code and are not cached.
type CurrencyResolver struct {
	currencies ports.CurrencyReader
	cache      cache.Cache[string]
}

// NewCurrencyResolver builds a resolver. c may be nil to disable caching.
func NewCurrencyResolver(currencies ports.CurrencyReader, c cache.Cache[string]) *CurrencyResolver {
	return &CurrencyResolver{currencies: currencies, cache: c}
}

func (r *CurrencyResolver) Code(ctx context.Context, id int64, fallback string) (string, error) {
	key := strconv.FormatInt(id, 10)
	if r.cache != nil {
		if code, ok := r.cache.Get(key); ok {
			return code, nil
		}
	}

	c, err := r.currencies.GetCurrency(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		slog.WarnContext(ctx, "Unknown currency id, using fallback code",
			"currency_id", id, "fallback", fallback)
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve currency %d: %w", id, err)
	}

	if r.cache != nil {
		r.cache.Set(key, c.Code)
	}
	return c.Code, nil
}

// Codes resolves every distinct id concurrently.
func (r *CurrencyResolver) Codes(ctx context.Context, ids []int64, fallback string) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		g.Go(func() error {
			code, err := r.Code(gctx, id, fallback)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = code
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
