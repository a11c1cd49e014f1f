package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/metrics"
)

// FailureError is the fatal condition raised when a stored balance disagrees
// with the balance recomputed from transaction-line history.
type FailureError struct {
	AccountID  uuid.UUID
	Stored     decimal.Decimal
	Calculated decimal.Decimal
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("ledger integrity failure for account %s: stored %s, calculated %s; system halted",
		e.AccountID, e.Stored, e.Calculated)
}

// Job periodically proves that every stored balance equals the sum of its
// recorded history. On the first mismatch it halts the system. The job only
// reads; it never mutates ledger state.
type Job struct {
	store   ledger.Store
	halt    *Halt
	metrics metrics.Recorder
	logger  *slog.Logger
	running sync.Mutex
}

// NewJob builds a reconciliation job over the given store.
func NewJob(store ledger.Store, halt *Halt, recorder metrics.Recorder, logger *slog.Logger) *Job {
	return &Job{store: store, halt: halt, metrics: recorder, logger: logger}
}

// Run executes one reconciliation pass. At most one pass runs at a time; a
// second concurrent call returns immediately. When the system is already
// halted the pass is skipped rather than re-raising the failure.
func (j *Job) Run(ctx context.Context) error {
	if !j.running.TryLock() {
		j.logger.Warn("reconciliation already running, skipping")
		return nil
	}
	defer j.running.Unlock()

	if j.halt.Halted() {
		j.logger.Warn("system is halted, skipping reconciliation")
		return nil
	}

	j.logger.Info("starting reconciliation")
	j.metrics.Reconciliation()

	ids, err := j.store.ListAccountIDs(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		stored, calculated, err := j.checkAccount(ctx, id)
		if err != nil {
			return err
		}

		// Full-precision comparison, no tolerance. Credits increase a
		// balance and debits decrease it for every account: the wallet
		// (liability) convention is a fixed policy, not per-account.
		if stored.Cmp(calculated) != 0 {
			failure := &FailureError{AccountID: id, Stored: stored, Calculated: calculated}
			j.halt.Trigger(failure.Error())
			j.metrics.ReconciliationFailure()
			j.logger.Error("ledger integrity failure, halting system",
				"account_id", id, "stored", failure.Stored.String(), "calculated", failure.Calculated.String())
			return failure
		}
	}

	j.logger.Info("reconciliation completed", "accounts", len(ids))
	return nil
}

// checkAccount reads the stored balance and the recomputed line sum inside
// one read-only snapshot. A posting committing mid-pass must never make the
// pair disagree on a consistent ledger.
func (j *Job) checkAccount(ctx context.Context, id uuid.UUID) (stored, calculated decimal.Decimal, err error) {
	tx, err := j.store.BeginRead(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("begin reconciliation snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	account, err := tx.Account(ctx, id)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("load account %s: %w", id, err)
	}
	calculated, err = tx.SumLines(ctx, id)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("sum lines for %s: %w", id, err)
	}
	return account.Balance.Amount(), calculated, nil
}

// Start runs the job on a fixed interval until the context is canceled.
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := j.Run(ctx); err != nil {
					j.logger.Error("scheduled reconciliation failed", "error", err)
				}
			}
		}
	}()
}
