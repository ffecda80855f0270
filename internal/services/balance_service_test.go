package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"saldo/internal/core"
	"saldo/internal/storage/memory"
)

func newBalanceService(s *memory.Store) *BalanceService {
	return NewBalanceService(s, s, s, newResolver(s), newRates(s), "USD")
}

func TestGetUserBalance_EmptyUser(t *testing.T) {
	s := newStore(t)
	sheet, err := newBalanceService(s).GetUserBalance(context.Background(), BalanceRequest{UserID: userA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sheet.TotalBalance.IsZero() || !sheet.TotalIncome.IsZero() || !sheet.TotalExpenses.IsZero() {
		t.Fatalf("expected zero totals, got %+v", sheet)
	}
	if len(sheet.BalancesByCurrency) != 0 {
		t.Fatalf("expected no buckets, got %v", sheet.BalancesByCurrency)
	}
	if sheet.LastTransactionDate != nil {
		t.Fatalf("expected nil last transaction date")
	}
	if sheet.BaseCurrency != "USD" {
		t.Fatalf("expected fallback base currency USD, got %q", sheet.BaseCurrency)
	}
}

func TestGetUserBalance_SingleAccount(t *testing.T) {
	s := newStore(t)
	s.AddAccount(core.Account{ID: accUSD, UserID: userA, Label: "Checking", CurrencyID: idUSD, Balance: dec("500.00"), ProductType: "Checking Account"})

	sheet, err := newBalanceService(s).GetUserBalance(context.Background(), BalanceRequest{UserID: userA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sheet.BalancesByCurrency) != 1 {
		t.Fatalf("expected one bucket, got %v", sheet.BalancesByCurrency)
	}
	b := sheet.BalancesByCurrency[0]
	if b.Currency != "USD" || !b.Balance.Equal(dec("500")) || !b.Income.IsZero() || !b.Expenses.IsZero() {
		t.Fatalf("unexpected bucket: %+v", b)
	}
	if !sheet.TotalBalance.Equal(dec("500")) || sheet.BaseCurrency != "USD" {
		t.Fatalf("unexpected totals: balance=%s base=%s", sheet.TotalBalance, sheet.BaseCurrency)
	}
	if len(sheet.AccountBalances) != 1 || sheet.AccountBalances[0].AccountType != "Checking Account" || sheet.AccountBalances[0].Currency != "USD" {
		t.Fatalf("unexpected account balances: %+v", sheet.AccountBalances)
	}
}

func TestGetUserBalance_IncomeAndExpensesSingleCurrency(t *testing.T) {
	s := newStore(t)
	addTx(t, s, userA, "1000", idDOP, core.ClassIncome, "Salary", day(2025, 1, 1))
	addTx(t, s, userA, "250.50", idDOP, core.ClassIncome, "Freelance", day(2025, 1, 10))
	addTx(t, s, userA, "300", idDOP, core.ClassExpense, "Food", day(2025, 1, 5))
	addTx(t, s, userA, "99.50", idDOP, core.ClassExpense, "", day(2025, 1, 20))
	addTx(t, s, userA, "5000", idDOP, core.ClassTransfer, "", day(2025, 1, 21))
	addTx(t, s, userB, "777", idDOP, core.ClassIncome, "", day(2025, 1, 22))

	sheet, err := newBalanceService(s).GetUserBalance(context.Background(), BalanceRequest{UserID: userA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sheet.TotalIncome.Equal(dec("1250.50")) {
		t.Errorf("total income = %s, want 1250.50", sheet.TotalIncome)
	}
	if !sheet.TotalExpenses.Equal(dec("399.50")) {
		t.Errorf("total expenses = %s, want 399.50", sheet.TotalExpenses)
	}
	if !sheet.TotalBalance.IsZero() {
		t.Errorf("transactions must not move the balance, got %s", sheet.TotalBalance)
	}
	b := sheet.BalancesByCurrency[0]
	if !b.Income.Equal(sheet.TotalIncome) || !b.Expenses.Equal(sheet.TotalExpenses) {
		t.Errorf("bucket %+v does not match totals", b)
	}
	if sheet.LastTransactionDate == nil || !sheet.LastTransactionDate.Equal(day(2025, 1, 21)) {
		t.Errorf("last transaction date = %v, want 2025-01-21", sheet.LastTransactionDate)
	}
}

func TestGetUserBalance_ExcludesSoftDeleted(t *testing.T) {
	s := newStore(t)
	deletedAt := day(2025, 2, 1)
	addTx(t, s, userA, "100", idDOP, core.ClassExpense, "Food", day(2025, 1, 5))
	if err := s.AddTransaction(core.Transaction{
		UserID: userA, Amount: dec("900"), CurrencyID: idDOP, Class: core.ClassExpense,
		TransactionDate: day(2025, 1, 30), DeletedAt: &deletedAt,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	sheet, err := newBalanceService(s).GetUserBalance(context.Background(), BalanceRequest{UserID: userA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sheet.TotalExpenses.Equal(dec("100")) {
		t.Fatalf("soft-deleted expense leaked into totals: %s", sheet.TotalExpenses)
	}
	if !sheet.LastTransactionDate.Equal(day(2025, 1, 5)) {
		t.Fatalf("soft-deleted transaction leaked into last date: %v", sheet.LastTransactionDate)
	}
}

func TestGetUserBalance_DateRange(t *testing.T) {
	s := newStore(t)
	addTx(t, s, userA, "10", idDOP, core.ClassExpense, "", day(2024, 12, 31))
	addTx(t, s, userA, "20", idDOP, core.ClassExpense, "", day(2025, 1, 15))
	addTx(t, s, userA, "40", idDOP, core.ClassExpense, "", day(2025, 2, 1))

	req := BalanceRequest{UserID: userA, Range: core.DateRange{From: core.NewDate(2025, 1, 1), To: core.NewDate(2025, 1, 31)}}
	sheet, err := newBalanceService(s).GetUserBalance(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sheet.TotalExpenses.Equal(dec("20")) {
		t.Fatalf("expected only in-range expenses, got %s", sheet.TotalExpenses)
	}
}

func TestGetUserBalance_MixedCurrenciesRequireBase(t *testing.T) {
	s := newStore(t)
	s.AddAccount(core.Account{ID: accUSD, UserID: userA, CurrencyID: idUSD, Balance: dec("100")})
	s.AddAccount(core.Account{ID: accDOP, UserID: userA, CurrencyID: idDOP, Balance: dec("1000")})

	_, err := newBalanceService(s).GetUserBalance(context.Background(), BalanceRequest{UserID: userA})
	if !errors.Is(err, core.ErrBaseCurrencyRequired) {
		t.Fatalf("expected ErrBaseCurrencyRequired, got %v", err)
	}
}

func TestGetUserBalance_ConvertsIntoBase(t *testing.T) {
	s := newStore(t)
	s.AddAccount(core.Account{ID: accUSD, UserID: userA, CurrencyID: idUSD, Balance: dec("100")})
	s.AddAccount(core.Account{ID: accDOP, UserID: userA, CurrencyID: idDOP, Balance: dec("1000")})
	addTx(t, s, userA, "10", idUSD, core.ClassIncome, "", day(2025, 1, 1))
	addTx(t, s, userA, "500", idDOP, core.ClassExpense, "", day(2025, 1, 2))

	tests := []struct {
		name     string
		base     int64
		code     string
		balance  string
		income   string
		expenses string
	}{
		// 1 USD = 50 DOP
		{"into DOP", idDOP, "DOP", "6000", "500", "500"},
		{"into USD", idUSD, "USD", "120", "10", "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sheet, err := newBalanceService(s).GetUserBalance(context.Background(), BalanceRequest{UserID: userA, BaseCurrencyID: ptr(tt.base)})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sheet.BaseCurrency != tt.code {
				t.Errorf("base currency = %s, want %s", sheet.BaseCurrency, tt.code)
			}
			if !sheet.TotalBalance.Equal(dec(tt.balance)) {
				t.Errorf("total balance = %s, want %s", sheet.TotalBalance, tt.balance)
			}
			if !sheet.TotalIncome.Equal(dec(tt.income)) {
				t.Errorf("total income = %s, want %s", sheet.TotalIncome, tt.income)
			}
			if !sheet.TotalExpenses.Equal(dec(tt.expenses)) {
				t.Errorf("total expenses = %s, want %s", sheet.TotalExpenses, tt.expenses)
			}
			if len(sheet.BalancesByCurrency) != 2 || sheet.BalancesByCurrency[0].Currency != "DOP" || !sheet.BalancesByCurrency[1].Balance.Equal(dec("100")) {
				t.Errorf("buckets must stay in their own currency: %+v", sheet.BalancesByCurrency)
			}
		})
	}
}

func TestGetUserBalance_BaseEqualsBucketPassesThrough(t *testing.T) {
	s := newStore(t)
	s.AddAccount(core.Account{ID: accUSD, UserID: userA, CurrencyID: idUSD, Balance: dec("123.45")})

	sheet, err := newBalanceService(s).GetUserBalance(context.Background(), BalanceRequest{UserID: userA, BaseCurrencyID: ptr(idUSD)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sheet.TotalBalance.Equal(dec("123.45")) {
		t.Fatalf("expected unconverted balance, got %s", sheet.TotalBalance)
	}
}

func TestGetUserBalance_MissingRateDegradesToOne(t *testing.T) {
	s := newStore(t)
	s.AddAccount(core.Account{ID: accEUR, UserID: userA, CurrencyID: idEUR, Balance: dec("40")})

	sheet, err := newBalanceService(s).GetUserBalance(context.Background(), BalanceRequest{UserID: userA, BaseCurrencyID: ptr(idDOP)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sheet.TotalBalance.Equal(dec("40")) {
		t.Fatalf("expected 1:1 conversion without EUR rate, got %s", sheet.TotalBalance)
	}
}

func TestGetUserBalance_UnknownCurrencyDegrades(t *testing.T) {
	s := newStore(t)
	s.AddAccount(core.Account{ID: accUSD, UserID: userA, CurrencyID: 99, Balance: dec("10")})

	sheet, err := newBalanceService(s).GetUserBalance(context.Background(), BalanceRequest{UserID: userA, BaseCurrencyID: ptr(int64(98))})
	if err != nil {
		t.Fatalf("unknown currency ids must not fail: %v", err)
	}
	if sheet.BaseCurrency != "USD" || sheet.BalancesByCurrency[0].Currency != "USD" {
		t.Fatalf("expected fallback code USD, got base=%s buckets=%+v", sheet.BaseCurrency, sheet.BalancesByCurrency)
	}
	if !sheet.TotalBalance.Equal(dec("10")) {
		t.Fatalf("unexpected total: %s", sheet.TotalBalance)
	}
}

func TestGetUserBalance_CashAndAssetsFeedBalance(t *testing.T) {
	s := newStore(t)
	s.AddAccount(core.Account{ID: accDOP, UserID: userA, CurrencyID: idDOP, Balance: dec("1000")})
	s.AddCashHolding(core.CashHolding{ID: "cash-1", UserID: userA, CurrencyID: idDOP, Amount: dec("250"), Label: "Wallet"})
	s.AddAsset(core.Asset{ID: "asset-1", UserID: userA, AssetType: "vehicle", AssetName: "Car", CurrentValue: dec("750"), CurrencyID: idDOP})

	sheet, err := newBalanceService(s).GetUserBalance(context.Background(), BalanceRequest{UserID: userA})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sheet.TotalBalance.Equal(dec("2000")) {
		t.Fatalf("expected accounts+cash+assets = 2000, got %s", sheet.TotalBalance)
	}
	if len(sheet.CashHoldings) != 1 || sheet.CashHoldings[0].Currency != "DOP" || sheet.CashHoldings[0].Label != "Wallet" {
		t.Fatalf("unexpected cash holdings: %+v", sheet.CashHoldings)
	}
	if len(sheet.Assets) != 1 || sheet.Assets[0].Name != "Car" || !sheet.Assets[0].Value.Equal(dec("750")) {
		t.Fatalf("unexpected assets: %+v", sheet.Assets)
	}
}

func TestGetUserBalance_Errors(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
		req    BalanceRequest
		want   error
	}{
		{"invalid user", "", BalanceRequest{UserID: "42"}, core.ErrInvalidUserID},
		{"inverted range", "", BalanceRequest{UserID: userA, Range: core.DateRange{From: core.NewDate(2025, 2, 1), To: core.NewDate(2025, 1, 1)}}, core.ErrInvalidRange},
		{"accounts fail", "accounts", BalanceRequest{UserID: userA}, errBoom},
		{"transactions fail", "transactions", BalanceRequest{UserID: userA}, errBoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &failingStore{Store: newStore(t), failOn: tt.failOn}
			svc := NewBalanceService(f, f, f, NewCurrencyResolver(f, nil), NewRateLookup(f, f, "DOP", nil), "USD")
			_, err := svc.GetUserBalance(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGetUserBalance_CurrencyLookupFailurePropagates(t *testing.T) {
	f := &failingStore{Store: newStore(t), failOn: "currency"}
	f.AddAccount(core.Account{ID: accDOP, UserID: userA, CurrencyID: idDOP, Balance: dec("1")})
	svc := NewBalanceService(f, f, f, NewCurrencyResolver(f, nil), NewRateLookup(f, f, "DOP", nil), "USD")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := svc.GetUserBalance(ctx, BalanceRequest{UserID: userA}); !errors.Is(err, errBoom) {
		t.Fatalf("expected storage error to propagate, got %v", err)
	}
}
