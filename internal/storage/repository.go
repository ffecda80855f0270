package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"saldo/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("SQLite repository ready", "path", dbPath, "schema_version", version)
	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// notFound maps sql.ErrNoRows onto the domain sentinel.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (r *SQLiteRepository) GetCurrency(ctx context.Context, id int64) (core.Currency, error) {
	c, err := r.queries.GetCurrency(ctx, id)
	if err != nil {
		return core.Currency{}, notFound(err, fmt.Sprintf("currency %d", id))
	}
	return core.Currency(c), nil
}

func (r *SQLiteRepository) GetCurrencyByCode(ctx context.Context, code string) (core.Currency, error) {
	c, err := r.queries.GetCurrencyByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return core.Currency{}, notFound(err, "currency "+code)
	}
	return core.Currency(c), nil
}

func (r *SQLiteRepository) ListCurrencies(ctx context.Context) ([]core.Currency, error) {
	rows, err := r.queries.ListCurrencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	out := make([]core.Currency, 0, len(rows))
	for _, c := range rows {
		out = append(out, core.Currency(c))
	}
	return out, nil
}

func toExchangeRate(row ExchangeRateRow) (core.ExchangeRate, error) {
	at, err := parseTime(row.RateDate)
	if err != nil {
		return core.ExchangeRate{}, fmt.Errorf("exchange rate %d: %w", row.ID, err)
	}
	return core.ExchangeRate{ID: row.ID, CurrencyID: row.CurrencyID, Rate: row.Rate, RateDate: at}, nil
}

func (r *SQLiteRepository) LatestRate(ctx context.Context, currencyID int64) (core.ExchangeRate, error) {
	row, err := r.queries.LatestRate(ctx, currencyID)
	if err != nil {
		return core.ExchangeRate{}, notFound(err, fmt.Sprintf("latest rate for currency %d", currencyID))
	}
	return toExchangeRate(row)
}

func (r *SQLiteRepository) ListLatestRates(ctx context.Context) ([]core.ExchangeRate, error) {
	rows, err := r.queries.ListLatestRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list latest rates: %w", err)
	}
	out := make([]core.ExchangeRate, 0, len(rows))
	for _, row := range rows {
		rate, err := toExchangeRate(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rate)
	}
	return out, nil
}

func toAccount(row AccountRow) (core.Account, error) {
	a := core.Account{
		ID:                   row.ID,
		UserID:               row.UserID,
		BankBankingProductID: row.BankBankingProductID,
		ReferenceNumber:      row.ReferenceNumber,
		Label:                row.Label,
		CurrencyID:           row.CurrencyID,
		Balance:              row.Balance,
		ProductType:          row.ProductName,
	}
	if row.LastBalanceUpdate.Valid {
		at, err := parseTime(row.LastBalanceUpdate.String)
		if err != nil {
			return core.Account{}, fmt.Errorf("account %s: %w", row.ID, err)
		}
		a.LastBalanceUpdate = &at
	}
	return a, nil
}

func (r *SQLiteRepository) FindAccountsByUser(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := r.queries.ListUserAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]core.Account, 0, len(rows))
	for _, row := range rows {
		a, err := toAccount(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row, err := r.queries.GetUserAccount(ctx, id)
	if err != nil {
		return core.Account{}, notFound(err, "account "+id)
	}
	return toAccount(row)
}

func (r *SQLiteRepository) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal, at time.Time) error {
	n, err := r.queries.UpdateAccountBalance(ctx, id, balance, formatTime(at))
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func toTransaction(row TransactionRow) (core.Transaction, error) {
	at, err := parseTime(row.TransactionDate)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", row.ID, err)
	}
	tx := core.Transaction{
		ID:              row.ID,
		UserID:          row.UserID,
		Amount:          row.Amount,
		CurrencyID:      row.CurrencyID,
		TypeID:          row.TransactionTypeID,
		Class:           core.ParseTransactionClass(row.TypeName),
		CategoryName:    row.CategoryName,
		Merchant:        row.Merchant,
		TransactionDate: at,
	}
	if row.CategoryID.Valid {
		tx.CategoryID = &row.CategoryID.Int64
	}
	if row.PaymentMethodID.Valid {
		tx.PaymentMethodID = &row.PaymentMethodID.Int64
	}
	if row.ExchangeRateID.Valid {
		tx.ExchangeRateID = &row.ExchangeRateID.Int64
	}
	if row.BankingProductID.Valid {
		tx.AccountID = &row.BankingProductID.String
	}
	if row.DeletedAt.Valid {
		deleted, err := parseTime(row.DeletedAt.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("transaction %s: %w", row.ID, err)
		}
		tx.DeletedAt = &deleted
	}
	return tx, nil
}

func (r *SQLiteRepository) FindTransactionsByUser(ctx context.Context, userID string, q core.TransactionQuery) ([]core.Transaction, error) {
	p := ListUserTransactionsParams{
		UserID:         userID,
		IncludeDeleted: q.Deleted == core.IncludeDeleted,
	}
	if !q.Range.From.IsZero() {
		p.From = formatTime(q.Range.From.Time)
	}
	if upper := q.Range.Upper(); !upper.IsZero() {
		p.Before = formatTime(upper)
	}

	rows, err := r.queries.ListUserTransactions(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := toTransaction(row)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (r *SQLiteRepository) FindCashHoldingsByUser(ctx context.Context, userID string) ([]core.CashHolding, error) {
	rows, err := r.queries.ListUserCashHoldings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cash holdings: %w", err)
	}
	out := make([]core.CashHolding, 0, len(rows))
	for _, h := range rows {
		out = append(out, core.CashHolding(h))
	}
	return out, nil
}

func (r *SQLiteRepository) FindAssetsByUser(ctx context.Context, userID string) ([]core.Asset, error) {
	rows, err := r.queries.ListUserAssets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	out := make([]core.Asset, 0, len(rows))
	for _, a := range rows {
		out = append(out, core.Asset(a))
	}
	return out, nil
}

// Writers below load data; they back the seeding command and tests.

// CreateAccount inserts a. When BankBankingProductID is zero the offering is
// resolved from bank and ProductType.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account, bank string) (core.Account, error) {
	if err := core.ValidateUserID(a.UserID); err != nil {
		return core.Account{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.BankBankingProductID == 0 {
		product := a.ProductType
		if product == "" {
			product = "Checking Account"
		}
		id, err := r.queries.EnsureBankBankingProduct(ctx, bank, product)
		if err != nil {
			return core.Account{}, err
		}
		a.BankBankingProductID = id
	}
	err := r.queries.CreateUserAccount(ctx, CreateUserAccountParams{
		ID:                   a.ID,
		UserID:               a.UserID,
		BankBankingProductID: a.BankBankingProductID,
		ReferenceNumber:      a.ReferenceNumber,
		Label:                a.Label,
		CurrencyID:           a.CurrencyID,
		Balance:              a.Balance,
		LastBalanceUpdate:    nullTime(a.LastBalanceUpdate),
		CreatedAt:            formatTime(time.Now()),
	})
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

// CreateTransaction inserts tx, resolving TypeID from Class and CategoryID
// from CategoryName when they are unset.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.TypeID == 0 {
		id, err := r.queries.GetTransactionTypeByName(ctx, string(tx.Class))
		if err != nil {
			return core.Transaction{}, notFound(err, fmt.Sprintf("transaction type %q", tx.Class))
		}
		tx.TypeID = id
	}
	if tx.CategoryID == nil && tx.CategoryName != "" {
		kind := string(tx.Class)
		if kind == "" {
			kind = string(core.ClassExpense)
		}
		id, err := r.queries.EnsureCategory(ctx, tx.CategoryName, kind)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("ensure category: %w", err)
		}
		tx.CategoryID = &id
	}

	err := r.queries.CreateTransaction(ctx, CreateTransactionParams{
		ID:                tx.ID,
		UserID:            tx.UserID,
		Amount:            tx.Amount,
		CurrencyID:        tx.CurrencyID,
		TransactionTypeID: tx.TypeID,
		CategoryID:        nullInt(tx.CategoryID),
		Merchant:          tx.Merchant,
		PaymentMethodID:   nullInt(tx.PaymentMethodID),
		ExchangeRateID:    nullInt(tx.ExchangeRateID),
		BankingProductID:  nullString(tx.AccountID),
		TransactionDate:   formatTime(tx.TransactionDate),
		CreatedAt:         formatTime(time.Now()),
		DeletedAt:         nullTime(tx.DeletedAt),
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) CreateCashHolding(ctx context.Context, h core.CashHolding) (core.CashHolding, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if err := r.queries.CreateCashHolding(ctx, CashHoldingRow(h)); err != nil {
		return core.CashHolding{}, fmt.Errorf("create cash holding: %w", err)
	}
	return h, nil
}

func (r *SQLiteRepository) CreateAsset(ctx context.Context, a core.Asset) (core.Asset, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := r.queries.CreateAsset(ctx, AssetRow(a)); err != nil {
		return core.Asset{}, fmt.Errorf("create asset: %w", err)
	}
	return a, nil
}

// SetRate records the rate of code against the reference currency for the
// day of at, replacing any rate already stored for that day.
func (r *SQLiteRepository) SetRate(ctx context.Context, code string, rate decimal.Decimal, at time.Time) (core.ExchangeRate, error) {
	c, err := r.GetCurrencyByCode(ctx, code)
	if err != nil {
		return core.ExchangeRate{}, err
	}
	day := core.DateOf(at).Time
	id, err := r.queries.UpsertExchangeRate(ctx, c.ID, rate, formatTime(day))
	if err != nil {
		return core.ExchangeRate{}, fmt.Errorf("upsert exchange rate: %w", err)
	}
	return core.ExchangeRate{ID: id, CurrencyID: c.ID, Rate: rate, RateDate: day}, nil
}
