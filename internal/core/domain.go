package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ClassUnknown  TransactionClass = ""
	ClassIncome   TransactionClass = "income"
	ClassExpense  TransactionClass = "expense"
	ClassTransfer TransactionClass = "transfer"
)

const (
	// ExcludeDeleted is the zero value so a TransactionQuery never leaks soft-deleted rows by accident.
	ExcludeDeleted DeletedFilter = iota
	IncludeDeleted
)

// UncategorizedName groups expenses without a category.
const UncategorizedName = "Uncategorized"

type (
	TransactionClass string

	DeletedFilter int

	// Date is a calendar day in UTC.
	Date struct {
		time.Time
	}

	// DateRange bounds transaction dates. Zero ends are open; To covers the whole day.
	DateRange struct {
		From Date
		To   Date
	}

	TransactionQuery struct {
		Range   DateRange
		Deleted DeletedFilter
	}

	Currency struct {
		ID     int64
		Code   string
		Name   string
		Symbol string
	}

	// ExchangeRate is base-relative: Rate units of the currency buy one unit
	// of the reference currency. The reference currency itself has rate 1.
	ExchangeRate struct {
		ID         int64
		CurrencyID int64
		Rate       decimal.Decimal
		RateDate   time.Time
	}

	// Account is a user-linked banking product. Balance is in the account's own currency.
	Account struct {
		ID                   string
		UserID               string
		BankBankingProductID int64
		ReferenceNumber      string
		Label                string
		CurrencyID           int64
		Balance              decimal.Decimal
		LastBalanceUpdate    *time.Time
		ProductType          string
	}

	// BalanceSync is a balance observed for an account, applied later by the sync worker.
	BalanceSync struct {
		AccountID  string
		UserID     string
		Balance    decimal.Decimal
		ObservedAt time.Time
	}

	Transaction struct {
		ID              string
		UserID          string
		Amount          decimal.Decimal
		CurrencyID      int64
		TypeID          int64
		Class           TransactionClass
		CategoryID      *int64
		CategoryName    string
		Merchant        string
		PaymentMethodID *int64
		ExchangeRateID  *int64
		AccountID       *string
		TransactionDate time.Time
		DeletedAt       *time.Time
	}

	CashHolding struct {
		ID         string
		UserID     string
		CurrencyID int64
		Amount     decimal.Decimal
		Label      string
	}

	Asset struct {
		ID           string
		UserID       string
		AssetType    string
		AssetName    string
		CurrentValue decimal.Decimal
		CurrencyID   int64
		Description  string
	}
)

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidInput         = errors.New("invalid input")
	ErrBaseCurrencyRequired = errors.New("base currency required when balances span more than one currency")

	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidUserID    = errors.New("invalid user id")
	ErrInvalidAccountID = errors.New("invalid account id")
	ErrInvalidRange     = errors.New("fromDate must not be after toDate")
)

// ParseTransactionClass maps a transaction type name to its class.
func ParseTransactionClass(name string) TransactionClass {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "income", "ingreso":
		return ClassIncome
	case "expense", "gasto":
		return ClassExpense
	case "transfer", "transferencia":
		return ClassTransfer
	default:
		return ClassUnknown
	}
}

func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), int(u.Month()), u.Day())
}

// String formats the date as YYYY-MM-DD, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To.Time) {
		return ErrInvalidRange
	}
	return nil
}

// Upper is the exclusive upper bound of the range, zero when open.
func (r DateRange) Upper() time.Time {
	if r.To.IsZero() {
		return time.Time{}
	}
	return r.To.AddDate(0, 0, 1)
}

func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From.Time) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.Upper()) {
		return false
	}
	return true
}

// Matches reports whether tx satisfies the query.
func (q TransactionQuery) Matches(tx Transaction) bool {
	if q.Deleted == ExcludeDeleted && tx.IsDeleted() {
		return false
	}
	return q.Range.Contains(tx.TransactionDate)
}

func (tx Transaction) IsDeleted() bool {
	return tx.DeletedAt != nil
}

func (tx Transaction) Validate() error {
	if err := ValidateUserID(tx.UserID); err != nil {
		return err
	}
	if !tx.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if tx.TransactionDate.IsZero() {
		return errors.New("transaction date cannot be zero")
	}
	return nil
}

func ValidateUserID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidUserID
	}
	return nil
}

func ValidateAccountID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidAccountID
	}
	return nil
}

// OwnedBy reports whether the account belongs to userID.
func (a Account) OwnedBy(userID string) bool {
	return strings.EqualFold(a.UserID, userID)
}
