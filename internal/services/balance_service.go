package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"saldo/internal/core"
	"saldo/internal/ports"
)

// BalanceRequest selects whose balance to compute and how to normalize it.
type BalanceRequest struct {
	UserID string
	// BaseCurrencyID converts every bucket into that currency when set.
	BaseCurrencyID *int64
	// Range bounds the transactions that feed income and expenses.
	Range core.DateRange
}

// BalanceService composes a user's balance sheet from accounts, cash
// holdings, assets and transactions.
type BalanceService struct {
	accounts     ports.AccountReader
	holdings     ports.HoldingsReader
	transactions ports.TransactionReader
	currencies   CurrencyCodeResolver
	rates        ConversionRates
	fallback     string
}

func NewBalanceService(
	accounts ports.AccountReader,
	holdings ports.HoldingsReader,
	transactions ports.TransactionReader,
	currencies CurrencyCodeResolver,
	rates ConversionRates,
	fallbackCurrency string,
) *BalanceService {
	return &BalanceService{
		accounts:     accounts,
		holdings:     holdings,
		transactions: transactions,
		currencies:   currencies,
		rates:        rates,
		fallback:     fallbackCurrency,
	}
}

type balanceInputs struct {
	accounts     []core.Account
	cash         []core.CashHolding
	assets       []core.Asset
	transactions []core.Transaction
}

// GetUserBalance builds the per-currency balance sheet of a user.
//
// Accounts, cash holdings and assets feed each bucket's balance;
// transactions only feed income and expenses. Without a base currency the
// totals are taken from the single bucket, and ErrBaseCurrencyRequired is
// returned when there is more than one.
func (s *BalanceService) GetUserBalance(ctx context.Context, req BalanceRequest) (core.BalanceSheet, error) {
	if err := core.ValidateUserID(req.UserID); err != nil {
		return core.BalanceSheet{}, err
	}
	if err := req.Range.Validate(); err != nil {
		return core.BalanceSheet{}, err
	}

	in, err := s.collect(ctx, req)
	if err != nil {
		return core.BalanceSheet{}, err
	}

	codes, err := s.currencies.Codes(ctx, in.currencyIDs(), s.fallback)
	if err != nil {
		return core.BalanceSheet{}, err
	}

	sheet := core.BalanceSheet{
		TotalBalance:  decimal.Zero,
		TotalIncome:   decimal.Zero,
		TotalExpenses: decimal.Zero,
	}
	buckets := map[string]*core.CurrencyBucket{}
	bucket := func(code string) *core.CurrencyBucket {
		b, ok := buckets[code]
		if !ok {
			b = &core.CurrencyBucket{Currency: code}
			buckets[code] = b
		}
		return b
	}

	for _, a := range in.accounts {
		code := codes[a.CurrencyID]
		b := bucket(code)
		b.Balance = b.Balance.Add(a.Balance)
		sheet.AccountBalances = append(sheet.AccountBalances, core.AccountBalance{
			AccountID:    a.ID,
			AccountLabel: a.Label,
			AccountType:  a.ProductType,
			Currency:     code,
			Balance:      a.Balance,
			LastUpdate:   a.LastBalanceUpdate,
		})
	}
	for _, h := range in.cash {
		code := codes[h.CurrencyID]
		b := bucket(code)
		b.Balance = b.Balance.Add(h.Amount)
		sheet.CashHoldings = append(sheet.CashHoldings, core.CashHoldingSummary{
			HoldingID: h.ID,
			Label:     h.Label,
			Currency:  code,
			Amount:    h.Amount,
		})
	}
	for _, a := range in.assets {
		code := codes[a.CurrencyID]
		b := bucket(code)
		b.Balance = b.Balance.Add(a.CurrentValue)
		sheet.Assets = append(sheet.Assets, core.AssetSummary{
			AssetID:  a.ID,
			Name:     a.AssetName,
			Type:     a.AssetType,
			Currency: code,
			Value:    a.CurrentValue,
		})
	}
	for _, tx := range in.transactions {
		if sheet.LastTransactionDate == nil || tx.TransactionDate.After(*sheet.LastTransactionDate) {
			d := tx.TransactionDate
			sheet.LastTransactionDate = &d
		}
		switch tx.Class {
		case core.ClassIncome:
			b := bucket(codes[tx.CurrencyID])
			b.Income = b.Income.Add(tx.Amount)
		case core.ClassExpense:
			b := bucket(codes[tx.CurrencyID])
			b.Expenses = b.Expenses.Add(tx.Amount)
		}
	}

	sheet.BalancesByCurrency = make([]core.CurrencyBucket, 0, len(buckets))
	for _, b := range buckets {
		sheet.BalancesByCurrency = append(sheet.BalancesByCurrency, *b)
	}
	sort.Slice(sheet.BalancesByCurrency, func(i, j int) bool {
		return sheet.BalancesByCurrency[i].Currency < sheet.BalancesByCurrency[j].Currency
	})

	if err := s.total(ctx, req, &sheet); err != nil {
		return core.BalanceSheet{}, err
	}
	return sheet, nil
}

func (s *BalanceService) collect(ctx context.Context, req BalanceRequest) (balanceInputs, error) {
	var in balanceInputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		in.accounts, err = s.accounts.FindAccountsByUser(gctx, req.UserID)
		if err != nil {
			return fmt.Errorf("find accounts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		in.cash, err = s.holdings.FindCashHoldingsByUser(gctx, req.UserID)
		if err != nil {
			return fmt.Errorf("find cash holdings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		in.assets, err = s.holdings.FindAssetsByUser(gctx, req.UserID)
		if err != nil {
			return fmt.Errorf("find assets: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		q := core.TransactionQuery{Range: req.Range, Deleted: core.ExcludeDeleted}
		in.transactions, err = s.transactions.FindTransactionsByUser(gctx, req.UserID, q)
		if err != nil {
			return fmt.Errorf("find transactions: %w", err)
		}
		return nil
	})
	return in, g.Wait()
}

func (in balanceInputs) currencyIDs() []int64 {
	var ids []int64
	for _, a := range in.accounts {
		ids = append(ids, a.CurrencyID)
	}
	for _, h := range in.cash {
		ids = append(ids, h.CurrencyID)
	}
	for _, a := range in.assets {
		ids = append(ids, a.CurrencyID)
	}
	for _, tx := range in.transactions {
		ids = append(ids, tx.CurrencyID)
	}
	return ids
}

func (s *BalanceService) total(ctx context.Context, req BalanceRequest, sheet *core.BalanceSheet) error {
	buckets := sheet.BalancesByCurrency

	if req.BaseCurrencyID == nil {
		switch len(buckets) {
		case 0:
			sheet.BaseCurrency = s.fallback
		case 1:
			sheet.BaseCurrency = buckets[0].Currency
			sheet.TotalBalance = buckets[0].Balance
			sheet.TotalIncome = buckets[0].Income
			sheet.TotalExpenses = buckets[0].Expenses
		default:
			return core.ErrBaseCurrencyRequired
		}
		return nil
	}

	base, err := s.currencies.Code(ctx, *req.BaseCurrencyID, s.fallback)
	if err != nil {
		return err
	}
	sheet.BaseCurrency = base

	converted := make([]core.CurrencyBucket, len(buckets))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range buckets {
		g.Go(func() error {
			rate, err := s.rates.Rate(gctx, b.Currency, base)
			if err != nil {
				return err
			}
			converted[i] = b.Scale(rate)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, b := range converted {
		sheet.TotalBalance = sheet.TotalBalance.Add(b.Balance)
		sheet.TotalIncome = sheet.TotalIncome.Add(b.Income)
		sheet.TotalExpenses = sheet.TotalExpenses.Add(b.Expenses)
	}
	return nil
}
