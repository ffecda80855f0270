// Package postgres is the PostgreSQL storage backend.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/ports"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, runs migrations and returns a ready store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	version, err := RunMigrations(dsn)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.InfoContext(ctx, "Postgres store ready", "schema_version", version)
	return NewStore(db), nil
}

func (p *Store) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Store) Close() error {
	return p.db.Close()
}

func wrap(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (p *Store) GetCurrency(ctx context.Context, id int64) (core.Currency, error) {
	const query = `SELECT id, code, name, symbol FROM currencies WHERE id = $1`
	var c core.Currency
	if err := p.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Code, &c.Name, &c.Symbol); err != nil {
		return core.Currency{}, wrap(err, fmt.Sprintf("currency %d", id))
	}
	return c, nil
}

func (p *Store) GetCurrencyByCode(ctx context.Context, code string) (core.Currency, error) {
	const query = `SELECT id, code, name, symbol FROM currencies WHERE code = $1`
	var c core.Currency
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := p.db.QueryRowContext(ctx, query, code).Scan(&c.ID, &c.Code, &c.Name, &c.Symbol); err != nil {
		return core.Currency{}, wrap(err, "currency "+code)
	}
	return c, nil
}

func (p *Store) ListCurrencies(ctx context.Context) ([]core.Currency, error) {
	const query = `SELECT id, code, name, symbol FROM currencies ORDER BY id`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	defer rows.Close()

	var out []core.Currency
	for rows.Next() {
		var c core.Currency
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Symbol); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Store) LatestRate(ctx context.Context, currencyID int64) (core.ExchangeRate, error) {
	const query = `SELECT id, currency_id, rate, rate_date FROM exchange_rates
	WHERE currency_id = $1 ORDER BY rate_date DESC, id DESC LIMIT 1`
	var r core.ExchangeRate
	if err := p.db.QueryRowContext(ctx, query, currencyID).Scan(&r.ID, &r.CurrencyID, &r.Rate, &r.RateDate); err != nil {
		return core.ExchangeRate{}, wrap(err, fmt.Sprintf("latest rate for currency %d", currencyID))
	}
	return r, nil
}

func (p *Store) ListLatestRates(ctx context.Context) ([]core.ExchangeRate, error) {
	const query = `SELECT DISTINCT ON (currency_id) id, currency_id, rate, rate_date
	FROM exchange_rates ORDER BY currency_id, rate_date DESC, id DESC`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list latest rates: %w", err)
	}
	defer rows.Close()

	var out []core.ExchangeRate
	for rows.Next() {
		var r core.ExchangeRate
		if err := rows.Scan(&r.ID, &r.CurrencyID, &r.Rate, &r.RateDate); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const accountSelect = `SELECT a.id, a.user_id, a.bank_banking_product_id, a.reference_number, a.label,
	a.currency_id, a.balance, a.last_balance_update, COALESCE(bp.name, '')
FROM user_banking_products a
LEFT JOIN bank_banking_products bbp ON bbp.id = a.bank_banking_product_id
LEFT JOIN banking_products bp ON bp.id = bbp.banking_product_id`

func scanAccount(s interface{ Scan(...any) error }) (core.Account, error) {
	var (
		a    core.Account
		last sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.BankBankingProductID, &a.ReferenceNumber, &a.Label,
		&a.CurrencyID, &a.Balance, &last, &a.ProductType); err != nil {
		return core.Account{}, err
	}
	if last.Valid {
		t := last.Time.UTC()
		a.LastBalanceUpdate = &t
	}
	return a, nil
}

func (p *Store) FindAccountsByUser(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := p.db.QueryContext(ctx, accountSelect+` WHERE a.user_id = $1 ORDER BY a.created_at, a.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Store) GetAccount(ctx context.Context, id string) (core.Account, error) {
	a, err := scanAccount(p.db.QueryRowContext(ctx, accountSelect+` WHERE a.id = $1`, id))
	if err != nil {
		return core.Account{}, wrap(err, "account "+id)
	}
	return a, nil
}

func (p *Store) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal, at time.Time) error {
	const query = `UPDATE user_banking_products
	SET balance = $1, last_balance_update = $2, updated_at = $2
	WHERE id = $3`
	res, err := p.db.ExecContext(ctx, query, balance, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (p *Store) FindTransactionsByUser(ctx context.Context, userID string, q core.TransactionQuery) ([]core.Transaction, error) {
	const query = `SELECT t.id, t.user_id, t.amount, t.currency_id, t.transaction_type_id, tt.name,
		t.category_id, COALESCE(c.name, ''), t.merchant, t.payment_method_id, t.exchange_rate_id,
		t.banking_product_id, t.transaction_date, t.deleted_at
	FROM transactions t
	JOIN transaction_types tt ON tt.id = t.transaction_type_id
	LEFT JOIN categories c ON c.id = t.category_id
	WHERE t.user_id = $1
	  AND ($2::timestamptz IS NULL OR t.transaction_date >= $2)
	  AND ($3::timestamptz IS NULL OR t.transaction_date < $3)
	  AND ($4 OR t.deleted_at IS NULL)
	ORDER BY t.transaction_date DESC, t.created_at DESC`

	var from, before sql.NullTime
	if !q.Range.From.IsZero() {
		from = sql.NullTime{Time: q.Range.From.Time, Valid: true}
	}
	if upper := q.Range.Upper(); !upper.IsZero() {
		before = sql.NullTime{Time: upper, Valid: true}
	}

	rows, err := p.db.QueryContext(ctx, query, userID, from, before, q.Deleted == core.IncludeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			tx                      core.Transaction
			typeName                string
			category, payment, rate sql.NullInt64
			account                 sql.NullString
			deleted                 sql.NullTime
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.CurrencyID, &tx.TypeID, &typeName,
			&category, &tx.CategoryName, &tx.Merchant, &payment, &rate,
			&account, &tx.TransactionDate, &deleted); err != nil {
			return nil, err
		}
		tx.Class = core.ParseTransactionClass(typeName)
		tx.TransactionDate = tx.TransactionDate.UTC()
		if category.Valid {
			tx.CategoryID = &category.Int64
		}
		if payment.Valid {
			tx.PaymentMethodID = &payment.Int64
		}
		if rate.Valid {
			tx.ExchangeRateID = &rate.Int64
		}
		if account.Valid {
			tx.AccountID = &account.String
		}
		if deleted.Valid {
			d := deleted.Time.UTC()
			tx.DeletedAt = &d
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (p *Store) FindCashHoldingsByUser(ctx context.Context, userID string) ([]core.CashHolding, error) {
	const query = `SELECT id, user_id, currency_id, amount, label FROM user_cash_holdings WHERE user_id = $1 ORDER BY id`
	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list cash holdings: %w", err)
	}
	defer rows.Close()

	var out []core.CashHolding
	for rows.Next() {
		var h core.CashHolding
		if err := rows.Scan(&h.ID, &h.UserID, &h.CurrencyID, &h.Amount, &h.Label); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *Store) FindAssetsByUser(ctx context.Context, userID string) ([]core.Asset, error) {
	const query = `SELECT id, user_id, asset_type, asset_name, current_value, currency_id, description
	FROM user_assets WHERE user_id = $1 ORDER BY id`
	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []core.Asset
	for rows.Next() {
		var a core.Asset
		if err := rows.Scan(&a.ID, &a.UserID, &a.AssetType, &a.AssetName, &a.CurrentValue, &a.CurrencyID, &a.Description); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ ports.Store = (*Store)(nil)
