package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// timeLayout is fixed width so TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// Row types mirror the tables; money is decimal, timestamps stay TEXT.
type (
	CurrencyRow struct {
		ID     int64
		Code   string
		Name   string
		Symbol string
	}

	ExchangeRateRow struct {
		ID         int64
		CurrencyID int64
		Rate       decimal.Decimal
		RateDate   string
	}

	AccountRow struct {
		ID                   string
		UserID               string
		BankBankingProductID int64
		ReferenceNumber      string
		Label                string
		CurrencyID           int64
		Balance              decimal.Decimal
		LastBalanceUpdate    sql.NullString
		ProductName          string
	}

	TransactionRow struct {
		ID                string
		UserID            string
		Amount            decimal.Decimal
		CurrencyID        int64
		TransactionTypeID int64
		TypeName          string
		CategoryID        sql.NullInt64
		CategoryName      string
		Merchant          string
		PaymentMethodID   sql.NullInt64
		ExchangeRateID    sql.NullInt64
		BankingProductID  sql.NullString
		TransactionDate   string
		DeletedAt         sql.NullString
	}

	CashHoldingRow struct {
		ID         string
		UserID     string
		CurrencyID int64
		Amount     decimal.Decimal
		Label      string
	}

	AssetRow struct {
		ID           string
		UserID       string
		AssetType    string
		AssetName    string
		CurrentValue decimal.Decimal
		CurrencyID   int64
		Description  string
	}
)

const getCurrency = `SELECT id, code, name, symbol FROM currencies WHERE id = ?`

func (q *Queries) GetCurrency(ctx context.Context, id int64) (CurrencyRow, error) {
	var c CurrencyRow
	err := q.db.QueryRowContext(ctx, getCurrency, id).Scan(&c.ID, &c.Code, &c.Name, &c.Symbol)
	return c, err
}

const getCurrencyByCode = `SELECT id, code, name, symbol FROM currencies WHERE code = upper(?)`

func (q *Queries) GetCurrencyByCode(ctx context.Context, code string) (CurrencyRow, error) {
	var c CurrencyRow
	err := q.db.QueryRowContext(ctx, getCurrencyByCode, code).Scan(&c.ID, &c.Code, &c.Name, &c.Symbol)
	return c, err
}

const listCurrencies = `SELECT id, code, name, symbol FROM currencies ORDER BY id`

func (q *Queries) ListCurrencies(ctx context.Context) ([]CurrencyRow, error) {
	rows, err := q.db.QueryContext(ctx, listCurrencies)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CurrencyRow
	for rows.Next() {
		var c CurrencyRow
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Symbol); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const latestRate = `SELECT id, currency_id, rate, rate_date FROM exchange_rates
WHERE currency_id = ?
ORDER BY rate_date DESC, id DESC
LIMIT 1`

func (q *Queries) LatestRate(ctx context.Context, currencyID int64) (ExchangeRateRow, error) {
	var r ExchangeRateRow
	err := q.db.QueryRowContext(ctx, latestRate, currencyID).Scan(&r.ID, &r.CurrencyID, &r.Rate, &r.RateDate)
	return r, err
}

const listLatestRates = `SELECT er.id, er.currency_id, er.rate, er.rate_date FROM exchange_rates er
WHERE er.id = (
    SELECT x.id FROM exchange_rates x
    WHERE x.currency_id = er.currency_id
    ORDER BY x.rate_date DESC, x.id DESC
    LIMIT 1
)
ORDER BY er.currency_id`

func (q *Queries) ListLatestRates(ctx context.Context) ([]ExchangeRateRow, error) {
	rows, err := q.db.QueryContext(ctx, listLatestRates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExchangeRateRow
	for rows.Next() {
		var r ExchangeRateRow
		if err := rows.Scan(&r.ID, &r.CurrencyID, &r.Rate, &r.RateDate); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const upsertExchangeRate = `INSERT INTO exchange_rates (currency_id, rate, rate_date) VALUES (?, ?, ?)
ON CONFLICT (currency_id, rate_date) DO UPDATE SET rate = excluded.rate
RETURNING id`

func (q *Queries) UpsertExchangeRate(ctx context.Context, currencyID int64, rate decimal.Decimal, rateDate string) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, upsertExchangeRate, currencyID, rate.String(), rateDate).Scan(&id)
	return id, err
}

const accountColumns = `a.id, a.user_id, a.bank_banking_product_id, a.reference_number, a.label,
    a.currency_id, a.balance, a.last_balance_update, COALESCE(bp.name, '')
FROM user_banking_products a
LEFT JOIN bank_banking_products bbp ON bbp.id = a.bank_banking_product_id
LEFT JOIN banking_products bp ON bp.id = bbp.banking_product_id`

func scanAccount(s interface{ Scan(...any) error }) (AccountRow, error) {
	var a AccountRow
	err := s.Scan(&a.ID, &a.UserID, &a.BankBankingProductID, &a.ReferenceNumber, &a.Label,
		&a.CurrencyID, &a.Balance, &a.LastBalanceUpdate, &a.ProductName)
	return a, err
}

const listUserAccounts = `SELECT ` + accountColumns + `
WHERE a.user_id = ?
ORDER BY a.created_at, a.id`

func (q *Queries) ListUserAccounts(ctx context.Context, userID string) ([]AccountRow, error) {
	rows, err := q.db.QueryContext(ctx, listUserAccounts, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AccountRow
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const getUserAccount = `SELECT ` + accountColumns + `
WHERE a.id = ?`

func (q *Queries) GetUserAccount(ctx context.Context, id string) (AccountRow, error) {
	return scanAccount(q.db.QueryRowContext(ctx, getUserAccount, id))
}

type CreateUserAccountParams struct {
	ID                   string
	UserID               string
	BankBankingProductID int64
	ReferenceNumber      string
	Label                string
	CurrencyID           int64
	Balance              decimal.Decimal
	LastBalanceUpdate    sql.NullString
	CreatedAt            string
}

const createUserAccount = `INSERT INTO user_banking_products (
    id, user_id, bank_banking_product_id, reference_number, label,
    currency_id, balance, last_balance_update, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateUserAccount(ctx context.Context, p CreateUserAccountParams) error {
	_, err := q.db.ExecContext(ctx, createUserAccount,
		p.ID, p.UserID, p.BankBankingProductID, p.ReferenceNumber, p.Label,
		p.CurrencyID, p.Balance.String(), p.LastBalanceUpdate, p.CreatedAt, p.CreatedAt)
	return err
}

const updateAccountBalance = `UPDATE user_banking_products
SET balance = ?, last_balance_update = ?, updated_at = ?
WHERE id = ?`

func (q *Queries) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal, at string) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateAccountBalance, balance.String(), at, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const ensureBank = `INSERT INTO banks (name) VALUES (?)
ON CONFLICT (name) DO UPDATE SET name = excluded.name
RETURNING id`

const ensureBankingProduct = `INSERT INTO banking_products (name) VALUES (?)
ON CONFLICT (name) DO UPDATE SET name = excluded.name
RETURNING id`

const ensureBankBankingProduct = `INSERT INTO bank_banking_products (bank_id, banking_product_id) VALUES (?, ?)
ON CONFLICT (bank_id, banking_product_id) DO UPDATE SET bank_id = excluded.bank_id
RETURNING id`

// EnsureBankBankingProduct returns the offering of product by bank, creating rows as needed.
func (q *Queries) EnsureBankBankingProduct(ctx context.Context, bank, product string) (int64, error) {
	var bankID, productID, id int64
	if err := q.db.QueryRowContext(ctx, ensureBank, bank).Scan(&bankID); err != nil {
		return 0, fmt.Errorf("ensure bank: %w", err)
	}
	if err := q.db.QueryRowContext(ctx, ensureBankingProduct, product).Scan(&productID); err != nil {
		return 0, fmt.Errorf("ensure banking product: %w", err)
	}
	if err := q.db.QueryRowContext(ctx, ensureBankBankingProduct, bankID, productID).Scan(&id); err != nil {
		return 0, fmt.Errorf("ensure bank banking product: %w", err)
	}
	return id, nil
}

type ListUserTransactionsParams struct {
	UserID         string
	From           string // inclusive, "" when open
	Before         string // exclusive, "" when open
	IncludeDeleted bool
}

const listUserTransactions = `SELECT t.id, t.user_id, t.amount, t.currency_id, t.transaction_type_id, tt.name,
    t.category_id, COALESCE(c.name, ''), t.merchant, t.payment_method_id, t.exchange_rate_id,
    t.banking_product_id, t.transaction_date, t.deleted_at
FROM transactions t
JOIN transaction_types tt ON tt.id = t.transaction_type_id
LEFT JOIN categories c ON c.id = t.category_id
WHERE t.user_id = ?1
  AND (?2 = '' OR t.transaction_date >= ?2)
  AND (?3 = '' OR t.transaction_date < ?3)
  AND (?4 = 1 OR t.deleted_at IS NULL)
ORDER BY t.transaction_date DESC, t.created_at DESC`

func (q *Queries) ListUserTransactions(ctx context.Context, p ListUserTransactionsParams) ([]TransactionRow, error) {
	includeDeleted := 0
	if p.IncludeDeleted {
		includeDeleted = 1
	}
	rows, err := q.db.QueryContext(ctx, listUserTransactions, p.UserID, p.From, p.Before, includeDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		var t TransactionRow
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.CurrencyID, &t.TransactionTypeID, &t.TypeName,
			&t.CategoryID, &t.CategoryName, &t.Merchant, &t.PaymentMethodID, &t.ExchangeRateID,
			&t.BankingProductID, &t.TransactionDate, &t.DeletedAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const getTransactionTypeByName = `SELECT id FROM transaction_types WHERE lower(name) = lower(?)`

func (q *Queries) GetTransactionTypeByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, getTransactionTypeByName, name).Scan(&id)
	return id, err
}

const ensureCategory = `INSERT INTO categories (name, type) VALUES (?, ?)
ON CONFLICT (name, type) DO UPDATE SET name = excluded.name
RETURNING id`

func (q *Queries) EnsureCategory(ctx context.Context, name, kind string) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, ensureCategory, name, kind).Scan(&id)
	return id, err
}

type CreateTransactionParams struct {
	ID                string
	UserID            string
	Amount            decimal.Decimal
	CurrencyID        int64
	TransactionTypeID int64
	CategoryID        sql.NullInt64
	Merchant          string
	PaymentMethodID   sql.NullInt64
	ExchangeRateID    sql.NullInt64
	BankingProductID  sql.NullString
	TransactionDate   string
	CreatedAt         string
	DeletedAt         sql.NullString
}

const createTransaction = `INSERT INTO transactions (
    id, user_id, amount, currency_id, transaction_type_id, category_id, merchant,
    payment_method_id, exchange_rate_id, banking_product_id, transaction_date, created_at, deleted_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateTransaction(ctx context.Context, p CreateTransactionParams) error {
	_, err := q.db.ExecContext(ctx, createTransaction,
		p.ID, p.UserID, p.Amount.String(), p.CurrencyID, p.TransactionTypeID, p.CategoryID, p.Merchant,
		p.PaymentMethodID, p.ExchangeRateID, p.BankingProductID, p.TransactionDate, p.CreatedAt, p.DeletedAt)
	return err
}

const listUserCashHoldings = `SELECT id, user_id, currency_id, amount, label
FROM user_cash_holdings WHERE user_id = ? ORDER BY id`

func (q *Queries) ListUserCashHoldings(ctx context.Context, userID string) ([]CashHoldingRow, error) {
	rows, err := q.db.QueryContext(ctx, listUserCashHoldings, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CashHoldingRow
	for rows.Next() {
		var h CashHoldingRow
		if err := rows.Scan(&h.ID, &h.UserID, &h.CurrencyID, &h.Amount, &h.Label); err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

const createCashHolding = `INSERT INTO user_cash_holdings (id, user_id, currency_id, amount, label) VALUES (?, ?, ?, ?, ?)`

func (q *Queries) CreateCashHolding(ctx context.Context, h CashHoldingRow) error {
	_, err := q.db.ExecContext(ctx, createCashHolding, h.ID, h.UserID, h.CurrencyID, h.Amount.String(), h.Label)
	return err
}

const listUserAssets = `SELECT id, user_id, asset_type, asset_name, current_value, currency_id, description
FROM user_assets WHERE user_id = ? ORDER BY id`

func (q *Queries) ListUserAssets(ctx context.Context, userID string) ([]AssetRow, error) {
	rows, err := q.db.QueryContext(ctx, listUserAssets, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AssetRow
	for rows.Next() {
		var a AssetRow
		if err := rows.Scan(&a.ID, &a.UserID, &a.AssetType, &a.AssetName, &a.CurrentValue, &a.CurrencyID, &a.Description); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const createAsset = `INSERT INTO user_assets (id, user_id, asset_type, asset_name, current_value, currency_id, description)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateAsset(ctx context.Context, a AssetRow) error {
	_, err := q.db.ExecContext(ctx, createAsset, a.ID, a.UserID, a.AssetType, a.AssetName, a.CurrentValue.String(), a.CurrencyID, a.Description)
	return err
}
