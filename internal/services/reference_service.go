package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/ports"
)

// RateView is the latest rate of a currency against the reference currency.
type RateView struct {
	Currency  string
	Reference string
	Rate      decimal.Decimal
	RateDate  time.Time
}

// ReferenceService exposes static reference data.
type ReferenceService struct {
	currencies ports.CurrencyReader
	rates      ports.ExchangeRateReader
	reference  string
}

func NewReferenceService(currencies ports.CurrencyReader, rates ports.ExchangeRateReader, reference string) *ReferenceService {
	return &ReferenceService{currencies: currencies, rates: rates, reference: reference}
}

func (s *ReferenceService) ListCurrencies(ctx context.Context) ([]core.Currency, error) {
	cs, err := s.currencies.ListCurrencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	return cs, nil
}

func (s *ReferenceService) LatestRates(ctx context.Context) ([]RateView, error) {
	cs, err := s.currencies.ListCurrencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	rates, err := s.rates.ListLatestRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list latest rates: %w", err)
	}
	codes := make(map[int64]string, len(cs))
	for _, c := range cs {
		codes[c.ID] = c.Code
	}
	out := make([]RateView, 0, len(rates))
	for _, r := range rates {
		code, ok := codes[r.CurrencyID]
		if !ok {
			continue
		}
		out = append(out, RateView{Currency: code, Reference: s.reference, Rate: r.Rate, RateDate: r.RateDate})
	}
	return out, nil
}
