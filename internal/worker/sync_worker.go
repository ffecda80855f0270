package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"saldo/internal/amqp"
	"saldo/internal/core"
	"saldo/internal/services"
)

// BalanceUpdater applies a balance update for an account the user owns.
type BalanceUpdater interface {
	UpdateAccountBalance(ctx context.Context, req services.UpdateBalanceRequest) (core.Account, error)
}

// SyncWorker applies queued balance sync messages through the same update
// path the API uses.
type SyncWorker struct {
	accounts BalanceUpdater

	processed atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

type Stats struct {
	Processed int64
	Dropped   int64
	Failed    int64
}

func NewSyncWorker(accounts BalanceUpdater) *SyncWorker {
	return &SyncWorker{accounts: accounts}
}

// HandleBalanceSync processes a single balance sync message from AMQP.
// Errors a retry cannot fix wrap amqp.ErrDropMessage; anything else is
// returned as is so the message is requeued.
func (w *SyncWorker) HandleBalanceSync(ctx context.Context, msg *amqp.AccountBalanceSyncMessage) error {
	slog.InfoContext(ctx, "Processing balance sync message",
		"message_id", msg.MessageID,
		"account_id", msg.AccountID,
		"observed_at", msg.ObservedAt)

	if err := msg.Validate(); err != nil {
		w.dropped.Add(1)
		return fmt.Errorf("%w: %w", amqp.ErrDropMessage, err)
	}

	account, err := w.accounts.UpdateAccountBalance(ctx, services.UpdateBalanceRequest{
		UserID:    msg.UserID,
		AccountID: msg.AccountID,
		Balance:   msg.Balance,
		Source:    services.SourceSync,
	})
	if err != nil {
		if permanent(err) {
			w.dropped.Add(1)
			slog.WarnContext(ctx, "Dropping balance sync message",
				"message_id", msg.MessageID,
				"account_id", msg.AccountID,
				"error", err)
			return fmt.Errorf("%w: %w", amqp.ErrDropMessage, err)
		}
		w.failed.Add(1)
		return fmt.Errorf("update account balance: %w", err)
	}

	w.processed.Add(1)
	slog.InfoContext(ctx, "Successfully synced account balance",
		"message_id", msg.MessageID,
		"account_id", account.ID,
		"balance", account.Balance.String())
	return nil
}

func (w *SyncWorker) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Dropped:   w.dropped.Load(),
		Failed:    w.failed.Load(),
	}
}

func permanent(err error) bool {
	for _, target := range []error{
		core.ErrNotFound,
		core.ErrUnauthorized,
		core.ErrInvalidUserID,
		core.ErrInvalidAccountID,
		core.ErrInvalidAmount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
