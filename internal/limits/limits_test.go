package limits

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/logging"
	"github.com/lumapay/luma_ledger/internal/money"
)

func inTx(t *testing.T, store ledger.Store, fn func(tx ledger.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return nil
}

func TestCheckAndUpdateIncrements(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := New(3, decimal.RequireFromString("100.00"), logging.Discard())
	amount := money.MustParse("40.00", "USD")

	for i := 0; i < 2; i++ {
		if err := inTx(t, store, func(tx ledger.Tx) error {
			return svc.CheckAndUpdate(context.Background(), tx, "user-1", amount)
		}); err != nil {
			t.Fatalf("attempt %d rejected: %v", i, err)
		}
	}
}

func TestAmountCeiling(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := New(100, decimal.RequireFromString("100.00"), logging.Discard())

	if err := inTx(t, store, func(tx ledger.Tx) error {
		return svc.CheckAndUpdate(context.Background(), tx, "user-1", money.MustParse("80.00", "USD"))
	}); err != nil {
		t.Fatalf("first transaction rejected: %v", err)
	}

	err := inTx(t, store, func(tx ledger.Tx) error {
		return svc.CheckAndUpdate(context.Background(), tx, "user-1", money.MustParse("30.00", "USD"))
	})
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) || exceeded.Kind != "amount" {
		t.Fatalf("expected amount ceiling rejection, got %v", err)
	}
}

func TestCountCeiling(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := New(2, decimal.RequireFromString("1000000.00"), logging.Discard())
	amount := money.MustParse("1.00", "USD")

	for i := 0; i < 2; i++ {
		if err := inTx(t, store, func(tx ledger.Tx) error {
			return svc.CheckAndUpdate(context.Background(), tx, "user-1", amount)
		}); err != nil {
			t.Fatalf("attempt %d rejected: %v", i, err)
		}
	}

	err := inTx(t, store, func(tx ledger.Tx) error {
		return svc.CheckAndUpdate(context.Background(), tx, "user-1", amount)
	})
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) || exceeded.Kind != "count" {
		t.Fatalf("expected count ceiling rejection, got %v", err)
	}
}

func TestRejectedCheckDoesNotIncrement(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := New(100, decimal.RequireFromString("50.00"), logging.Discard())

	// rejection rolls back with its transaction
	_ = inTx(t, store, func(tx ledger.Tx) error {
		return svc.CheckAndUpdate(context.Background(), tx, "user-1", money.MustParse("60.00", "USD"))
	})

	// full headroom must remain available
	if err := inTx(t, store, func(tx ledger.Tx) error {
		return svc.CheckAndUpdate(context.Background(), tx, "user-1", money.MustParse("50.00", "USD"))
	}); err != nil {
		t.Fatalf("expected full limit to remain, got %v", err)
	}
}

func TestCurrenciesTrackedSeparately(t *testing.T) {
	store := ledger.NewMemoryStore()
	svc := New(100, decimal.RequireFromString("100.00"), logging.Discard())

	if err := inTx(t, store, func(tx ledger.Tx) error {
		return svc.CheckAndUpdate(context.Background(), tx, "user-1", money.MustParse("90.00", "USD"))
	}); err != nil {
		t.Fatalf("usd transaction rejected: %v", err)
	}
	if err := inTx(t, store, func(tx ledger.Tx) error {
		return svc.CheckAndUpdate(context.Background(), tx, "user-1", money.MustParse("90.00", "EUR"))
	}); err != nil {
		t.Fatalf("eur limit should be independent, got %v", err)
	}
}
