package http

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/services"
)

// Money is written as a JSON number carrying the exact decimal text.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

type currencyBucketDTO struct {
	Currency string      `json:"currency"`
	Balance  json.Number `json:"balance"`
	Income   json.Number `json:"income"`
	Expenses json.Number `json:"expenses"`
}

type accountBalanceDTO struct {
	AccountID    string      `json:"accountId"`
	AccountLabel string      `json:"accountLabel"`
	AccountType  string      `json:"accountType"`
	Currency     string      `json:"currency"`
	Balance      json.Number `json:"balance"`
	LastUpdate   *time.Time  `json:"lastUpdate"`
}

type cashHoldingDTO struct {
	HoldingID string      `json:"holdingId"`
	Label     string      `json:"label"`
	Currency  string      `json:"currency"`
	Amount    json.Number `json:"amount"`
}

type assetDTO struct {
	AssetID  string      `json:"assetId"`
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Currency string      `json:"currency"`
	Value    json.Number `json:"value"`
}

type balanceResponse struct {
	TotalBalance        json.Number         `json:"totalBalance"`
	TotalIncome         json.Number         `json:"totalIncome"`
	TotalExpenses       json.Number         `json:"totalExpenses"`
	BaseCurrency        string              `json:"baseCurrency"`
	BalancesByCurrency  []currencyBucketDTO `json:"balancesByCurrency"`
	AccountBalances     []accountBalanceDTO `json:"accountBalances"`
	CashHoldings        []cashHoldingDTO    `json:"cashHoldings"`
	Assets              []assetDTO          `json:"assets"`
	LastTransactionDate *time.Time          `json:"lastTransactionDate"`
}

func newAccountBalanceDTO(a core.AccountBalance) accountBalanceDTO {
	return accountBalanceDTO{
		AccountID:    a.AccountID,
		AccountLabel: a.AccountLabel,
		AccountType:  a.AccountType,
		Currency:     a.Currency,
		Balance:      money(a.Balance),
		LastUpdate:   a.LastUpdate,
	}
}

func newBalanceResponse(sheet core.BalanceSheet) balanceResponse {
	resp := balanceResponse{
		TotalBalance:        money(sheet.TotalBalance),
		TotalIncome:         money(sheet.TotalIncome),
		TotalExpenses:       money(sheet.TotalExpenses),
		BaseCurrency:        sheet.BaseCurrency,
		BalancesByCurrency:  make([]currencyBucketDTO, 0, len(sheet.BalancesByCurrency)),
		AccountBalances:     make([]accountBalanceDTO, 0, len(sheet.AccountBalances)),
		CashHoldings:        make([]cashHoldingDTO, 0, len(sheet.CashHoldings)),
		Assets:              make([]assetDTO, 0, len(sheet.Assets)),
		LastTransactionDate: sheet.LastTransactionDate,
	}
	for _, b := range sheet.BalancesByCurrency {
		resp.BalancesByCurrency = append(resp.BalancesByCurrency, currencyBucketDTO{
			Currency: b.Currency,
			Balance:  money(b.Balance),
			Income:   money(b.Income),
			Expenses: money(b.Expenses),
		})
	}
	for _, a := range sheet.AccountBalances {
		resp.AccountBalances = append(resp.AccountBalances, newAccountBalanceDTO(a))
	}
	for _, h := range sheet.CashHoldings {
		resp.CashHoldings = append(resp.CashHoldings, cashHoldingDTO{
			HoldingID: h.HoldingID,
			Label:     h.Label,
			Currency:  h.Currency,
			Amount:    money(h.Amount),
		})
	}
	for _, a := range sheet.Assets {
		resp.Assets = append(resp.Assets, assetDTO{
			AssetID:  a.AssetID,
			Name:     a.Name,
			Type:     a.Type,
			Currency: a.Currency,
			Value:    money(a.Value),
		})
	}
	return resp
}

type categoryExpenseDTO struct {
	CategoryName string      `json:"categoryName"`
	Amount       json.Number `json:"amount"`
	Percentage   json.Number `json:"percentage"`
	Count        int         `json:"count"`
}

type periodDTO struct {
	FromDate *string `json:"fromDate"`
	ToDate   *string `json:"toDate"`
}

type analyticsResponse struct {
	TotalExpenses  json.Number          `json:"totalExpenses"`
	Currency       string               `json:"currency"`
	CategoriesData []categoryExpenseDTO `json:"categoriesData"`
	Period         periodDTO            `json:"period"`
}

func dateOrNull(d core.Date) *string {
	if d.IsZero() {
		return nil
	}
	s := d.String()
	return &s
}

func newAnalyticsResponse(a core.ExpenseAnalytics) analyticsResponse {
	resp := analyticsResponse{
		TotalExpenses:  money(a.TotalExpenses),
		Currency:       a.Currency,
		CategoriesData: make([]categoryExpenseDTO, 0, len(a.CategoriesData)),
		Period: periodDTO{
			FromDate: dateOrNull(a.Period.From),
			ToDate:   dateOrNull(a.Period.To),
		},
	}
	for _, c := range a.CategoriesData {
		resp.CategoriesData = append(resp.CategoriesData, categoryExpenseDTO{
			CategoryName: c.CategoryName,
			Amount:       money(c.Amount),
			Percentage:   money(c.Percentage),
			Count:        c.Count,
		})
	}
	return resp
}

type accountDTO struct {
	AccountID    string      `json:"accountId"`
	AccountLabel string      `json:"accountLabel"`
	AccountType  string      `json:"accountType"`
	CurrencyID   int64       `json:"currencyId"`
	Balance      json.Number `json:"balance"`
	LastUpdate   *time.Time  `json:"lastUpdate"`
}

func newAccountDTO(a core.Account) accountDTO {
	return accountDTO{
		AccountID:    a.ID,
		AccountLabel: a.Label,
		AccountType:  a.ProductType,
		CurrencyID:   a.CurrencyID,
		Balance:      money(a.Balance),
		LastUpdate:   a.LastBalanceUpdate,
	}
}

type balanceSyncResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type transactionDTO struct {
	ID              string      `json:"id"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	Type            string      `json:"type"`
	CategoryName    string      `json:"categoryName,omitempty"`
	Merchant        string      `json:"merchant,omitempty"`
	AccountID       *string     `json:"accountId,omitempty"`
	TransactionDate time.Time   `json:"transactionDate"`
	DeletedAt       *time.Time  `json:"deletedAt,omitempty"`
}

func newTransactionDTOs(views []services.TransactionView) []transactionDTO {
	out := make([]transactionDTO, 0, len(views))
	for _, v := range views {
		out = append(out, transactionDTO{
			ID:              v.ID,
			Amount:          money(v.Amount),
			Currency:        v.Currency,
			Type:            string(v.Class),
			CategoryName:    v.CategoryName,
			Merchant:        v.Merchant,
			AccountID:       v.AccountID,
			TransactionDate: v.TransactionDate,
			DeletedAt:       v.DeletedAt,
		})
	}
	return out
}

type currencyDTO struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

type rateDTO struct {
	Currency  string      `json:"currency"`
	Reference string      `json:"reference"`
	Rate      json.Number `json:"rate"`
	RateDate  string      `json:"rateDate"`
}
