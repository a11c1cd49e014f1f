package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/limits"
	"github.com/lumapay/luma_ledger/internal/metrics"
	"github.com/lumapay/luma_ledger/internal/money"
	"github.com/lumapay/luma_ledger/internal/reconcile"
)

// DefaultPostTimeout bounds one posting end to end; timing out aborts the
// unit of work with every partial effect rolled back.
const DefaultPostTimeout = 30 * time.Second

// ErrHalted is returned while a reconciliation failure has the system halted.
// New postings are refused until an operator clears the halt.
var ErrHalted = errors.New("ledger halted after reconciliation failure, writes refused")

// Leg is one (account, direction, amount) triple of a multi-leg transaction.
type Leg struct {
	AccountID uuid.UUID
	Type      ledger.LineType
	Amount    money.Money
}

// Engine posts atomic multi-leg double-entry transactions. One call is one
// unit of work: idempotency, limit counters, balance mutations and the
// journal entry all commit together or not at all.
type Engine struct {
	store   ledger.Store
	limits  *limits.Service
	halt    *reconcile.Halt
	metrics metrics.Recorder
	logger  *slog.Logger
	timeout time.Duration
}

// New wires a transaction engine with the default posting timeout.
func New(store ledger.Store, limitSvc *limits.Service, halt *reconcile.Halt, recorder metrics.Recorder, logger *slog.Logger) *Engine {
	return NewWithTimeout(store, limitSvc, halt, recorder, logger, DefaultPostTimeout)
}

// NewWithTimeout wires a transaction engine whose postings abort after the
// given deadline, leaving balances, idempotency records and limit counters
// untouched.
func NewWithTimeout(store ledger.Store, limitSvc *limits.Service, halt *reconcile.Halt, recorder metrics.Recorder, logger *slog.Logger, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultPostTimeout
	}
	return &Engine{store: store, limits: limitSvc, halt: halt, metrics: recorder, logger: logger, timeout: timeout}
}

// PostTransaction validates, simulates and applies a multi-leg transaction,
// returning the id of the committed journal entry. A repeated idempotency key
// yields a *ledger.DuplicateError carrying the original journal id and makes
// no change. Every other failure also leaves the ledger untouched.
func (e *Engine) PostTransaction(ctx context.Context, idempotencyKey, description string, legs []Leg, userID string) (uuid.UUID, error) {
	start := time.Now()

	journalID, err := e.post(ctx, idempotencyKey, description, legs, userID)
	if err != nil {
		var dup *ledger.DuplicateError
		if errors.As(err, &dup) {
			e.metrics.Duplicate()
		} else {
			e.metrics.TransactionError()
		}
		return uuid.Nil, err
	}

	e.metrics.Transaction(time.Since(start))
	e.logger.Info("transaction committed",
		"journal_id", journalID, "idempotency_key", idempotencyKey, "legs", len(legs))
	return journalID, nil
}

func (e *Engine) post(ctx context.Context, idempotencyKey, description string, legs []Leg, userID string) (uuid.UUID, error) {
	if e.halt.Halted() {
		return uuid.Nil, ErrHalted
	}

	if idempotencyKey == "" {
		return uuid.Nil, invalidf("idempotency key is required")
	}
	if err := validateDescription(description); err != nil {
		return uuid.Nil, err
	}
	if err := validateLegs(legs); err != nil {
		return uuid.Nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin unit of work: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if userID != "" {
		if err := e.limits.CheckAndUpdate(ctx, tx, userID, legs[0].Amount); err != nil {
			return uuid.Nil, err
		}
	}

	if existing, found, err := tx.Idempotency(ctx, idempotencyKey); err != nil {
		return uuid.Nil, fmt.Errorf("idempotency lookup: %w", err)
	} else if found {
		return uuid.Nil, &ledger.DuplicateError{Key: idempotencyKey, JournalID: existing}
	}

	if err := e.preflight(ctx, tx, legs); err != nil {
		return uuid.Nil, err
	}

	if err := e.applyLegs(ctx, tx, legs); err != nil {
		return uuid.Nil, err
	}

	entry := buildEntry(description, legs)
	if err := entry.Validate(); err != nil {
		return uuid.Nil, err
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return uuid.Nil, fmt.Errorf("persist journal entry: %w", err)
	}

	if err := tx.PutIdempotency(ctx, idempotencyKey, entry.ID); err != nil {
		return uuid.Nil, fmt.Errorf("record idempotency: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit unit of work: %w", err)
	}
	return entry.ID, nil
}

// preflight replays all legs in memory against each account's currently
// visible balance, without locking or mutating. It rejects obviously invalid
// transactions cheaply before the exclusive-lock phase; the authoritative
// checks run again against locked balances in applyLegs.
func (e *Engine) preflight(ctx context.Context, tx ledger.Tx, legs []Leg) error {
	running := make(map[uuid.UUID]money.Money, len(legs))

	for _, leg := range legs {
		current, ok := running[leg.AccountID]
		if !ok {
			account, err := tx.Account(ctx, leg.AccountID)
			if err != nil {
				return err
			}
			if account.Balance.Currency() != leg.Amount.Currency() {
				return &money.CurrencyMismatchError{
					Want: account.Balance.Currency(),
					Got:  leg.Amount.Currency(),
				}
			}
			current = account.Balance
		}

		next, err := applyLeg(current, leg)
		if err != nil {
			return err
		}
		if !next.IsNonNegative() {
			return fmt.Errorf("%w: account %s balance would be %s",
				ledger.ErrInsufficientFunds, leg.AccountID, next.Amount())
		}
		running[leg.AccountID] = next
	}
	return nil
}

// applyLegs locks each account in leg order and applies the authoritative
// arithmetic against the locked balances.
func (e *Engine) applyLegs(ctx context.Context, tx ledger.Tx, legs []Leg) error {
	balances := make(map[uuid.UUID]money.Money, len(legs))

	for _, leg := range legs {
		current, ok := balances[leg.AccountID]
		if !ok {
			account, err := tx.LockAccount(ctx, leg.AccountID)
			if err != nil {
				return err
			}
			switch account.Status {
			case ledger.StatusFrozen:
				return fmt.Errorf("%w: %s", ledger.ErrAccountFrozen, leg.AccountID)
			case ledger.StatusClosed:
				return fmt.Errorf("%w: %s", ledger.ErrAccountClosed, leg.AccountID)
			}
			if account.Balance.Currency() != leg.Amount.Currency() {
				return &money.CurrencyMismatchError{
					Want: account.Balance.Currency(),
					Got:  leg.Amount.Currency(),
				}
			}
			current = account.Balance
		}

		next, err := applyLeg(current, leg)
		if err != nil {
			return err
		}
		if !next.IsNonNegative() {
			return fmt.Errorf("%w: account %s balance would be %s",
				ledger.ErrInsufficientFunds, leg.AccountID, next.Amount())
		}
		if err := tx.UpdateBalance(ctx, leg.AccountID, next); err != nil {
			return err
		}
		balances[leg.AccountID] = next
	}
	return nil
}

// applyLeg applies the wallet-convention arithmetic: credit adds, debit
// subtracts.
func applyLeg(balance money.Money, leg Leg) (money.Money, error) {
	if leg.Type == ledger.Credit {
		return balance.Add(leg.Amount)
	}
	return balance.Sub(leg.Amount)
}

func buildEntry(description string, legs []Leg) *ledger.JournalEntry {
	entryID := uuid.New()
	lines := make([]ledger.Line, 0, len(legs))
	for _, leg := range legs {
		lines = append(lines, ledger.Line{
			ID:        uuid.New(),
			JournalID: entryID,
			AccountID: leg.AccountID,
			Type:      leg.Type,
			Amount:    leg.Amount,
		})
	}
	return &ledger.JournalEntry{
		ID:          entryID,
		Description: description,
		Timestamp:   time.Now().UTC(),
		Lines:       lines,
	}
}
