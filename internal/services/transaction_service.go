package services

import (
	"context"
	"fmt"

	"saldo/internal/core"
	"saldo/internal/ports"
)

// TransactionView is a transaction with its currency code resolved.
type TransactionView struct {
	core.Transaction
	Currency string
}

type TransactionService struct {
	transactions ports.TransactionReader
	currencies   CurrencyCodeResolver
	fallback     string
}

func NewTransactionService(transactions ports.TransactionReader, currencies CurrencyCodeResolver, fallbackCurrency string) *TransactionService {
	return &TransactionService{transactions: transactions, currencies: currencies, fallback: fallbackCurrency}
}

// ListTransactions returns the user's transactions, newest first.
func (s *TransactionService) ListTransactions(ctx context.Context, userID string, q core.TransactionQuery) ([]TransactionView, error) {
	if err := core.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := q.Range.Validate(); err != nil {
		return nil, err
	}
	txs, err := s.transactions.FindTransactionsByUser(ctx, userID, q)
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	ids := make([]int64, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.CurrencyID)
	}
	codes, err := s.currencies.Codes(ctx, ids, s.fallback)
	if err != nil {
		return nil, err
	}
	out := make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, TransactionView{Transaction: tx, Currency: codes[tx.CurrencyID]})
	}
	return out, nil
}
