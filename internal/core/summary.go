package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyBucket accumulates balance, income and expenses for one currency.
type CurrencyBucket struct {
	Currency string
	Balance  decimal.Decimal
	Income   decimal.Decimal
	Expenses decimal.Decimal
}

// Scale returns the bucket with every figure multiplied by rate.
func (b CurrencyBucket) Scale(rate decimal.Decimal) CurrencyBucket {
	return CurrencyBucket{
		Currency: b.Currency,
		Balance:  b.Balance.Mul(rate),
		Income:   b.Income.Mul(rate),
		Expenses: b.Expenses.Mul(rate),
	}
}

type AccountBalance struct {
	AccountID    string
	AccountLabel string
	AccountType  string
	Currency     string
	Balance      decimal.Decimal
	LastUpdate   *time.Time
}

type CashHoldingSummary struct {
	HoldingID string
	Label     string
	Currency  string
	Amount    decimal.Decimal
}

type AssetSummary struct {
	AssetID  string
	Name     string
	Type     string
	Currency string
	Value    decimal.Decimal
}

// BalanceSheet is the result of a user balance aggregation.
type BalanceSheet struct {
	TotalBalance        decimal.Decimal
	TotalIncome         decimal.Decimal
	TotalExpenses       decimal.Decimal
	BaseCurrency        string
	BalancesByCurrency  []CurrencyBucket
	AccountBalances     []AccountBalance
	CashHoldings        []CashHoldingSummary
	Assets              []AssetSummary
	LastTransactionDate *time.Time
}

// CategoryExpense is the expense total of one category.
type CategoryExpense struct {
	CategoryName string
	Amount       decimal.Decimal
	Percentage   decimal.Decimal
	Count        int
}

type ExpenseAnalytics struct {
	TotalExpenses  decimal.Decimal
	Currency       string
	CategoriesData []CategoryExpense
	Period         DateRange
}
