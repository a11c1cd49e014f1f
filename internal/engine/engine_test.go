package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/limits"
	"github.com/lumapay/luma_ledger/internal/logging"
	"github.com/lumapay/luma_ledger/internal/metrics"
	"github.com/lumapay/luma_ledger/internal/money"
	"github.com/lumapay/luma_ledger/internal/reconcile"
)

type fixture struct {
	store  ledger.Store
	halt   *reconcile.Halt
	engine *Engine
}

func newFixture() *fixture {
	store := ledger.NewMemoryStore()
	halt := reconcile.NewHalt()
	limitSvc := limits.New(100, decimal.RequireFromString("1000000.00"), logging.Discard())
	eng := New(store, limitSvc, halt, metrics.Nop{}, logging.Discard())
	return &fixture{store: store, halt: halt, engine: eng}
}

func transferLegs(from, to uuid.UUID, amount money.Money) []Leg {
	return []Leg{
		{AccountID: from, Type: ledger.Debit, Amount: amount},
		{AccountID: to, Type: ledger.Credit, Amount: amount},
	}
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) money.Money {
	t.Helper()
	account, err := f.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return account.Balance
}

func TestPostTransactionHappyPath(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("1000.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("500.00", "USD"))

	journalID, err := f.engine.PostTransaction(context.Background(), "key-1", "p2p transfer",
		transferLegs(a.ID, b.ID, money.MustParse("100.00", "USD")), "")
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}

	if got := f.balance(t, a.ID); !got.Equal(money.MustParse("900.00", "USD")) {
		t.Fatalf("unexpected debit-side balance: %s", got)
	}
	if got := f.balance(t, b.ID); !got.Equal(money.MustParse("600.00", "USD")) {
		t.Fatalf("unexpected credit-side balance: %s", got)
	}

	entry, err := f.store.Entry(context.Background(), journalID)
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if len(entry.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(entry.Lines))
	}
	if err := entry.Validate(); err != nil {
		t.Fatalf("committed entry unbalanced: %v", err)
	}
}

func TestPostTransactionIdempotentRetry(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("1000.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("500.00", "USD"))
	legs := transferLegs(a.ID, b.ID, money.MustParse("100.00", "USD"))

	first, err := f.engine.PostTransaction(context.Background(), "key-1", "p2p transfer", legs, "")
	if err != nil {
		t.Fatalf("first post failed: %v", err)
	}

	_, err = f.engine.PostTransaction(context.Background(), "key-1", "p2p transfer", legs, "")
	var dup *ledger.DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateError, got %v", err)
	}
	if dup.JournalID != first {
		t.Fatalf("duplicate must reference original journal %s, got %s", first, dup.JournalID)
	}

	// balances reflect exactly one application
	if got := f.balance(t, a.ID); !got.Equal(money.MustParse("900.00", "USD")) {
		t.Fatalf("retry mutated balances: %s", got)
	}
	if got := f.balance(t, b.ID); !got.Equal(money.MustParse("600.00", "USD")) {
		t.Fatalf("retry mutated balances: %s", got)
	}
}

func TestPostTransactionInsufficientFunds(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("50.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("0.00", "USD"))

	_, err := f.engine.PostTransaction(context.Background(), "key-1", "too large",
		transferLegs(a.ID, b.ID, money.MustParse("50.01", "USD")), "")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	// byte-for-byte unchanged
	if got := f.balance(t, a.ID); got.String() != money.MustParse("50.00", "USD").String() {
		t.Fatalf("failed posting mutated balance: %s", got)
	}
	if got := f.balance(t, b.ID); got.String() != money.MustParse("0.00", "USD").String() {
		t.Fatalf("failed posting mutated balance: %s", got)
	}
}

func TestPostTransactionMultiLegOverdraft(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("100.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("0.00", "USD"))

	// two debits against the same account: individually fine, together over
	legs := []Leg{
		{AccountID: a.ID, Type: ledger.Debit, Amount: money.MustParse("60.00", "USD")},
		{AccountID: a.ID, Type: ledger.Debit, Amount: money.MustParse("60.00", "USD")},
		{AccountID: b.ID, Type: ledger.Credit, Amount: money.MustParse("120.00", "USD")},
	}
	_, err := f.engine.PostTransaction(context.Background(), "key-1", "overdraft", legs, "")
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected running-balance overdraft rejection, got %v", err)
	}
	if got := f.balance(t, a.ID); !got.Equal(money.MustParse("100.00", "USD")) {
		t.Fatalf("failed posting mutated balance: %s", got)
	}
}

func TestPostTransactionCurrencyMismatch(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("1000.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("500.00", "EUR"))

	_, err := f.engine.PostTransaction(context.Background(), "key-1", "mixed currencies",
		transferLegs(a.ID, b.ID, money.MustParse("100.00", "USD")), "")
	var mismatch *money.CurrencyMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
	if got := f.balance(t, a.ID); !got.Equal(money.MustParse("1000.00", "USD")) {
		t.Fatalf("mismatch mutated balance: %s", got)
	}
	if got := f.balance(t, b.ID); !got.Equal(money.MustParse("500.00", "EUR")) {
		t.Fatalf("mismatch mutated balance: %s", got)
	}
}

func TestPostTransactionAccountStatus(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("1000.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("500.00", "USD"))
	legs := transferLegs(a.ID, b.ID, money.MustParse("10.00", "USD"))

	ledger.SetStatus(f.store, a.ID, ledger.StatusFrozen)
	if _, err := f.engine.PostTransaction(context.Background(), "key-1", "frozen", legs, ""); !errors.Is(err, ledger.ErrAccountFrozen) {
		t.Fatalf("expected frozen rejection, got %v", err)
	}

	ledger.SetStatus(f.store, a.ID, ledger.StatusClosed)
	if _, err := f.engine.PostTransaction(context.Background(), "key-2", "closed", legs, ""); !errors.Is(err, ledger.ErrAccountClosed) {
		t.Fatalf("expected closed rejection, got %v", err)
	}
}

func TestPostTransactionUnknownAccount(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("1000.00", "USD"))

	_, err := f.engine.PostTransaction(context.Background(), "key-1", "ghost",
		transferLegs(a.ID, uuid.New(), money.MustParse("10.00", "USD")), "")
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestPostTransactionValidation(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("1000.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("500.00", "USD"))
	amount := money.MustParse("10.00", "USD")

	cases := []struct {
		name        string
		key         string
		description string
		legs        []Leg
	}{
		{"missing key", "", "ok", transferLegs(a.ID, b.ID, amount)},
		{"empty description", "k", "   ", transferLegs(a.ID, b.ID, amount)},
		{"long description", "k", strings.Repeat("x", 501), transferLegs(a.ID, b.ID, amount)},
		{"long multibyte description", "k", strings.Repeat("é", 501), transferLegs(a.ID, b.ID, amount)},
		{"script injection", "k", "<script>alert(1)</script>", transferLegs(a.ID, b.ID, amount)},
		{"javascript scheme", "k", "javascript:void(0)", transferLegs(a.ID, b.ID, amount)},
		{"single leg", "k", "ok", transferLegs(a.ID, b.ID, amount)[:1]},
		{"zero amount", "k", "ok", transferLegs(a.ID, b.ID, money.MustParse("0.00", "USD"))},
		{"negative amount", "k", "ok", transferLegs(a.ID, b.ID, money.MustParse("-5.00", "USD"))},
		{"bad leg type", "k", "ok", []Leg{
			{AccountID: a.ID, Type: "SIDEWAYS", Amount: amount},
			{AccountID: b.ID, Type: ledger.Credit, Amount: amount},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.PostTransaction(context.Background(), tc.key, tc.description, tc.legs, "")
			var invalid *InvalidTransactionError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidTransactionError, got %v", err)
			}
		})
	}

	if got := f.balance(t, a.ID); !got.Equal(money.MustParse("1000.00", "USD")) {
		t.Fatalf("validation failures mutated balances: %s", got)
	}
}

// Description length is counted in characters: 500 two-byte runes exceed the
// limit in bytes but must still be accepted.
func TestPostTransactionMultibyteDescription(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("1000.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("500.00", "USD"))

	description := strings.Repeat("é", 500)
	if _, err := f.engine.PostTransaction(context.Background(), "key-1", description,
		transferLegs(a.ID, b.ID, money.MustParse("10.00", "USD")), ""); err != nil {
		t.Fatalf("500-character multibyte description rejected: %v", err)
	}
}

func TestPostTransactionTooManyLegs(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("1000.00", "USD"))
	amount := money.MustParse("1.00", "USD")

	legs := make([]Leg, 0, 101)
	for i := 0; i < 101; i++ {
		legs = append(legs, Leg{AccountID: a.ID, Type: ledger.Credit, Amount: amount})
	}
	_, err := f.engine.PostTransaction(context.Background(), "k", "oversized", legs, "")
	var invalid *InvalidTransactionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected leg-count rejection, got %v", err)
	}
}

func TestPostTransactionLimitEnforced(t *testing.T) {
	store := ledger.NewMemoryStore()
	halt := reconcile.NewHalt()
	limitSvc := limits.New(2, decimal.RequireFromString("1000000.00"), logging.Discard())
	eng := New(store, limitSvc, halt, metrics.Nop{}, logging.Discard())

	a := ledger.SeedAccount(store, "wallet:a", money.MustParse("1000.00", "USD"))
	b := ledger.SeedAccount(store, "wallet:b", money.MustParse("0.00", "USD"))
	amount := money.MustParse("10.00", "USD")

	for i := 0; i < 2; i++ {
		key := fmt.Sprintf("key-%d", i)
		if _, err := eng.PostTransaction(context.Background(), key, "ok", transferLegs(a.ID, b.ID, amount), "user-1"); err != nil {
			t.Fatalf("posting %d rejected: %v", i, err)
		}
	}

	_, err := eng.PostTransaction(context.Background(), "key-3", "over", transferLegs(a.ID, b.ID, amount), "user-1")
	var exceeded *limits.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected limit rejection, got %v", err)
	}

	// rejected posting must not have moved funds
	account, _ := store.GetAccount(context.Background(), a.ID)
	if !account.Balance.Equal(money.MustParse("980.00", "USD")) {
		t.Fatalf("limit rejection mutated balance: %s", account.Balance)
	}
}

func TestPostTransactionLimitRollsBackWithPosting(t *testing.T) {
	store := ledger.NewMemoryStore()
	halt := reconcile.NewHalt()
	limitSvc := limits.New(10, decimal.RequireFromString("1000000.00"), logging.Discard())
	eng := New(store, limitSvc, halt, metrics.Nop{}, logging.Discard())

	a := ledger.SeedAccount(store, "wallet:a", money.MustParse("5.00", "USD"))
	b := ledger.SeedAccount(store, "wallet:b", money.MustParse("0.00", "USD"))

	// fails on funds after the limit increment; rollback must undo both
	if _, err := eng.PostTransaction(context.Background(), "k1", "fail",
		transferLegs(a.ID, b.ID, money.MustParse("10.00", "USD")), "user-1"); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	// ten successful postings still fit: the failed attempt left no counter
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("ok-%d", i)
		if _, err := eng.PostTransaction(context.Background(), key, "ok",
			transferLegs(a.ID, b.ID, money.MustParse("0.50", "USD")), "user-1"); err != nil {
			t.Fatalf("posting %d rejected: %v", i, err)
		}
	}
}

func TestPostTransactionExpiredDeadlineLeavesNoTrace(t *testing.T) {
	store := ledger.NewMemoryStore()
	halt := reconcile.NewHalt()
	limitSvc := limits.New(1, decimal.RequireFromString("1000000.00"), logging.Discard())

	a := ledger.SeedAccount(store, "wallet:a", money.MustParse("1000.00", "USD"))
	b := ledger.SeedAccount(store, "wallet:b", money.MustParse("500.00", "USD"))
	legs := transferLegs(a.ID, b.ID, money.MustParse("100.00", "USD"))

	expired := NewWithTimeout(store, limitSvc, halt, metrics.Nop{}, logging.Discard(), time.Nanosecond)
	_, err := expired.PostTransaction(context.Background(), "key-1", "p2p transfer", legs, "user-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	for _, seeded := range []ledger.Account{a, b} {
		account, err := store.GetAccount(context.Background(), seeded.ID)
		if err != nil {
			t.Fatalf("get account: %v", err)
		}
		if !account.Balance.Equal(seeded.Balance) {
			t.Fatalf("timed-out posting mutated %s: %s", seeded.Name, account.Balance)
		}
	}

	// Neither the idempotency key nor the daily counter was consumed: the
	// same key retries successfully and the single-posting limit still has
	// room for it.
	normal := New(store, limitSvc, halt, metrics.Nop{}, logging.Discard())
	if _, err := normal.PostTransaction(context.Background(), "key-1", "p2p transfer", legs, "user-1"); err != nil {
		t.Fatalf("retry after timeout failed: %v", err)
	}
}

func TestPostTransactionHaltGate(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("1000.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("0.00", "USD"))

	f.halt.Trigger("integrity failure in test")

	_, err := f.engine.PostTransaction(context.Background(), "key-1", "blocked",
		transferLegs(a.ID, b.ID, money.MustParse("1.00", "USD")), "")
	if !errors.Is(err, ErrHalted) {
		t.Fatalf("expected halt gate rejection, got %v", err)
	}
}

func TestPostTransactionFourLegFx(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("1000.00", "EUR"))
	deskEUR := ledger.SeedAccount(f.store, "fx:desk:EUR", money.MustParse("0.00", "EUR"))
	deskUSD := ledger.SeedAccount(f.store, "fx:desk:USD", money.MustParse("10000.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("0.00", "USD"))

	eur := money.MustParse("100.00", "EUR")
	usd := money.MustParse("110.00", "USD")
	legs := []Leg{
		{AccountID: a.ID, Type: ledger.Debit, Amount: eur},
		{AccountID: deskEUR.ID, Type: ledger.Credit, Amount: eur},
		{AccountID: deskUSD.ID, Type: ledger.Debit, Amount: usd},
		{AccountID: b.ID, Type: ledger.Credit, Amount: usd},
	}

	if _, err := f.engine.PostTransaction(context.Background(), "fx-1", "FX EUR to USD", legs, ""); err != nil {
		t.Fatalf("fx posting failed: %v", err)
	}

	if got := f.balance(t, a.ID); !got.Equal(money.MustParse("900.00", "EUR")) {
		t.Fatalf("unexpected source balance: %s", got)
	}
	if got := f.balance(t, b.ID); !got.Equal(money.MustParse("110.00", "USD")) {
		t.Fatalf("unexpected target balance: %s", got)
	}
}

func TestConcurrentPostingsStayBalanced(t *testing.T) {
	f := newFixture()
	a := ledger.SeedAccount(f.store, "wallet:a", money.MustParse("100000.00", "USD"))
	b := ledger.SeedAccount(f.store, "wallet:b", money.MustParse("0.00", "USD"))
	amount := money.MustParse("500.00", "USD")

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("tx-%d", i)
			if _, err := f.engine.PostTransaction(context.Background(), key, "concurrent",
				transferLegs(a.ID, b.ID, amount), ""); err != nil {
				t.Errorf("posting %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	balA := f.balance(t, a.ID)
	balB := f.balance(t, b.ID)
	total, err := balA.Add(balB)
	if err != nil {
		t.Fatalf("sum balances: %v", err)
	}
	if !total.Equal(money.MustParse("100000.00", "USD")) {
		t.Fatalf("ledger not balanced after concurrency: %s", total)
	}
	if !balB.Equal(money.MustParse("5000.00", "USD")) {
		t.Fatalf("expected 10 applied transfers, got %s", balB)
	}
}
