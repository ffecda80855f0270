package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

// Store is an in-process backend used for development and tests.
type Store struct {
	mu           sync.RWMutex
	currencies   []core.Currency
	rates        []core.ExchangeRate
	accounts     map[string]core.Account
	transactions []core.Transaction
	cash         []core.CashHolding
	assets       []core.Asset
}

// DefaultCurrencies mirrors the reference data seeded by the SQL migrations.
var DefaultCurrencies = []core.Currency{
	{ID: 1, Code: "DOP", Name: "Dominican Peso", Symbol: "RD$"},
	{ID: 2, Code: "USD", Name: "US Dollar", Symbol: "$"},
	{ID: 3, Code: "EUR", Name: "Euro", Symbol: "€"},
}

func New(currencies []core.Currency) *Store {
	return &Store{
		currencies: dedupeCurrencies(currencies),
		accounts:   map[string]core.Account{},
	}
}

// NewFromFiles seeds currencies and rates from base/seed_currencies.txt
// ("CODE,Name,Symbol" per line) and base/seed_rates.txt ("CODE,rate,YYYY-MM-DD").
// Missing files fall back to DefaultCurrencies and no rates.
func NewFromFiles(base string) *Store {
	var currencies []core.Currency
	for i, line := range readLines(filepath.Join(base, "seed_currencies.txt")) {
		parts := splitFields(line)
		c := core.Currency{ID: int64(i + 1), Code: strings.ToUpper(parts[0])}
		if len(parts) > 1 {
			c.Name = parts[1]
		}
		if len(parts) > 2 {
			c.Symbol = parts[2]
		}
		currencies = append(currencies, c)
	}
	if len(currencies) == 0 {
		currencies = DefaultCurrencies
	}
	s := New(currencies)
	for _, line := range readLines(filepath.Join(base, "seed_rates.txt")) {
		parts := splitFields(line)
		if len(parts) < 3 {
			continue
		}
		rate, err := decimal.NewFromString(parts[1])
		if err != nil {
			continue
		}
		day, err := time.Parse(time.DateOnly, parts[2])
		if err != nil {
			continue
		}
		_ = s.AddRate(parts[0], rate, day)
	}
	return s
}

// AddRate records a rate for the currency with the given code.
func (s *Store) AddRate(code string, rate decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.currencyByCodeLocked(code)
	if !ok {
		return fmt.Errorf("add rate %s: %w", code, core.ErrNotFound)
	}
	s.rates = append(s.rates, core.ExchangeRate{
		ID:         int64(len(s.rates) + 1),
		CurrencyID: c.ID,
		Rate:       rate,
		RateDate:   at,
	})
	return nil
}

func (s *Store) AddAccount(a core.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *Store) AddTransaction(tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == "" {
		tx.ID = fmt.Sprintf("mem:%d", len(s.transactions)+1)
	}
	s.transactions = append(s.transactions, tx)
	return nil
}

func (s *Store) AddCashHolding(h core.CashHolding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cash = append(s.cash, h)
}

func (s *Store) AddAsset(a core.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = append(s.assets, a)
}

func (s *Store) FindTransactionsByUser(_ context.Context, userID string, q core.TransactionQuery) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Transaction
	for _, tx := range s.transactions {
		if tx.UserID == userID && q.Matches(tx) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransactionDate.After(out[j].TransactionDate)
	})
	return out, nil
}

func (s *Store) FindAccountsByUser(_ context.Context, userID string) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, id string) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return core.Account{}, fmt.Errorf("get account %s: %w", id, core.ErrNotFound)
	}
	return a, nil
}

func (s *Store) UpdateAccountBalance(_ context.Context, id string, balance decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("update account balance %s: %w", id, core.ErrNotFound)
	}
	a.Balance = balance
	a.LastBalanceUpdate = &at
	s.accounts[id] = a
	return nil
}

func (s *Store) FindCashHoldingsByUser(_ context.Context, userID string) ([]core.CashHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.CashHolding
	for _, h := range s.cash {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *Store) FindAssetsByUser(_ context.Context, userID string) ([]core.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Asset
	for _, a := range s.assets {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) GetCurrency(_ context.Context, id int64) (core.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.currencies {
		if c.ID == id {
			return c, nil
		}
	}
	return core.Currency{}, fmt.Errorf("get currency %d: %w", id, core.ErrNotFound)
}

func (s *Store) GetCurrencyByCode(_ context.Context, code string) (core.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.currencyByCodeLocked(code); ok {
		return c, nil
	}
	return core.Currency{}, fmt.Errorf("get currency %s: %w", code, core.ErrNotFound)
}

func (s *Store) ListCurrencies(_ context.Context) ([]core.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Currency(nil), s.currencies...), nil
}

func (s *Store) LatestRate(_ context.Context, currencyID int64) (core.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.latestLocked(currencyID); ok {
		return r, nil
	}
	return core.ExchangeRate{}, fmt.Errorf("latest rate for currency %d: %w", currencyID, core.ErrNotFound)
}

func (s *Store) ListLatestRates(_ context.Context) ([]core.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.ExchangeRate
	for _, c := range s.currencies {
		if r, ok := s.latestLocked(c.ID); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) latestLocked(currencyID int64) (core.ExchangeRate, bool) {
	var best core.ExchangeRate
	found := false
	for _, r := range s.rates {
		if r.CurrencyID != currencyID {
			continue
		}
		if !found || r.RateDate.After(best.RateDate) {
			best, found = r, true
		}
	}
	return best, found
}

func (s *Store) currencyByCodeLocked(code string) (core.Currency, bool) {
	for _, c := range s.currencies {
		if strings.EqualFold(c.Code, code) {
			return c, true
		}
	}
	return core.Currency{}, false
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func splitFields(line string) []string {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func dedupeCurrencies(in []core.Currency) []core.Currency {
	seen := map[string]struct{}{}
	out := make([]core.Currency, 0, len(in))
	for _, c := range in {
		code := strings.ToUpper(strings.TrimSpace(c.Code))
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		c.Code = code
		out = append(out, c)
	}
	return out
}
