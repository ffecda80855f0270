package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/ports"
)

type AnalyticsRequest struct {
	UserID         string
	BaseCurrencyID *int64
	Range          core.DateRange
}

// AnalyticsService breaks a user's expenses down by category.
type AnalyticsService struct {
	transactions      ports.TransactionReader
	currencies        CurrencyCodeResolver
	rates             ConversionRates
	defaultCurrencyID int64
	fallback          string
}

func NewAnalyticsService(
	transactions ports.TransactionReader,
	currencies CurrencyCodeResolver,
	rates ConversionRates,
	defaultCurrencyID int64,
	fallbackCurrency string,
) *AnalyticsService {
	return &AnalyticsService{
		transactions:      transactions,
		currencies:        currencies,
		rates:             rates,
		defaultCurrencyID: defaultCurrencyID,
		fallback:          fallbackCurrency,
	}
}

// Category shares are reported with two decimals.
const percentagePlaces = 2

// GetUserExpenseAnalytics groups expenses in range by category name.
// Amounts in other currencies are converted into the requested one first.
// Categories come back sorted by amount, largest first, ties by name.
func (s *AnalyticsService) GetUserExpenseAnalytics(ctx context.Context, req AnalyticsRequest) (core.ExpenseAnalytics, error) {
	if err := core.ValidateUserID(req.UserID); err != nil {
		return core.ExpenseAnalytics{}, err
	}
	if err := req.Range.Validate(); err != nil {
		return core.ExpenseAnalytics{}, err
	}

	currencyID := s.defaultCurrencyID
	if req.BaseCurrencyID != nil {
		currencyID = *req.BaseCurrencyID
	}
	currency, err := s.currencies.Code(ctx, currencyID, s.fallback)
	if err != nil {
		return core.ExpenseAnalytics{}, err
	}

	txs, err := s.transactions.FindTransactionsByUser(ctx, req.UserID, core.TransactionQuery{
		Range:   req.Range,
		Deleted: core.ExcludeDeleted,
	})
	if err != nil {
		return core.ExpenseAnalytics{}, fmt.Errorf("find transactions: %w", err)
	}

	var expenses []core.Transaction
	var ids []int64
	for _, tx := range txs {
		if tx.Class == core.ClassExpense {
			expenses = append(expenses, tx)
			ids = append(ids, tx.CurrencyID)
		}
	}
	codes, err := s.currencies.Codes(ctx, ids, s.fallback)
	if err != nil {
		return core.ExpenseAnalytics{}, err
	}

	rates := map[string]decimal.Decimal{}
	byName := map[string]*core.CategoryExpense{}
	total := decimal.Zero
	for _, tx := range expenses {
		code := codes[tx.CurrencyID]
		rate, ok := rates[code]
		if !ok {
			rate, err = s.rates.Rate(ctx, code, currency)
			if err != nil {
				return core.ExpenseAnalytics{}, err
			}
			rates[code] = rate
		}
		amount := tx.Amount.Mul(rate)

		name := tx.CategoryName
		if name == "" {
			name = core.UncategorizedName
		}
		c, ok := byName[name]
		if !ok {
			c = &core.CategoryExpense{CategoryName: name}
			byName[name] = c
		}
		c.Amount = c.Amount.Add(amount)
		c.Count++
		total = total.Add(amount)
	}

	out := core.ExpenseAnalytics{
		TotalExpenses:  total,
		Currency:       currency,
		CategoriesData: make([]core.CategoryExpense, 0, len(byName)),
		Period:         req.Range,
	}
	for _, c := range byName {
		out.CategoriesData = append(out.CategoriesData, *c)
	}
	sort.Slice(out.CategoriesData, func(i, j int) bool {
		a, b := out.CategoriesData[i], out.CategoriesData[j]
		if cmp := a.Amount.Cmp(b.Amount); cmp != 0 {
			return cmp > 0
		}
		return a.CategoryName < b.CategoryName
	})

	amounts := make([]decimal.Decimal, len(out.CategoriesData))
	for i, c := range out.CategoriesData {
		amounts[i] = c.Amount
	}
	for i, pct := range core.SharePercentages(amounts, total, percentagePlaces) {
		out.CategoriesData[i].Percentage = pct
	}
	return out, nil
}
