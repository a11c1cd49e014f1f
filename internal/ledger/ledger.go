package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/money"
)

var (
	// ErrInsufficientFunds occurs when a posting would drive an account
	// balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound indicates a leg referenced an unknown account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountFrozen indicates the referenced account is frozen and
	// cannot participate in postings.
	ErrAccountFrozen = errors.New("account frozen")

	// ErrAccountClosed indicates the referenced account has been closed.
	ErrAccountClosed = errors.New("account closed")

	// ErrAccountExists indicates an account with the same name already exists.
	ErrAccountExists = errors.New("account already exists")

	// ErrUnbalancedEntry indicates a journal entry whose debit and credit
	// totals differ at full precision.
	ErrUnbalancedEntry = errors.New("journal entry not balanced")

	// ErrContention indicates concurrent postings collided on overlapping
	// accounts; the operation was aborted and is safe to retry.
	ErrContention = errors.New("transaction contention, retry")
)

// DuplicateError reports an idempotency-key hit. It carries the journal entry
// created by the original submission so the caller can treat the retry as a
// success without re-posting.
type DuplicateError struct {
	Key       string
	JournalID uuid.UUID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate transaction: key %s already produced journal entry %s", e.Key, e.JournalID)
}

// AccountStatus describes the lifecycle state of an account.
type AccountStatus string

const (
	StatusActive AccountStatus = "ACTIVE"
	StatusFrozen AccountStatus = "FROZEN"
	StatusClosed AccountStatus = "CLOSED"
)

// Account holds a named balance. Balances follow the wallet (liability)
// convention uniformly: credits increase the balance, debits decrease it.
// Mutation happens only through a locked read-modify-write inside a Tx;
// Version supports optimistic-concurrency detection on top of that lock.
type Account struct {
	ID        uuid.UUID
	Name      string
	Balance   money.Money
	Status    AccountStatus
	Version   int64
	CreatedAt time.Time
}

// LineType is the posting direction of a transaction line.
type LineType string

const (
	Debit  LineType = "DEBIT"
	Credit LineType = "CREDIT"
)

// Line is one leg of a journal entry, referencing exactly one account.
type Line struct {
	ID        uuid.UUID
	JournalID uuid.UUID
	AccountID uuid.UUID
	Type      LineType
	Amount    money.Money
}

// JournalEntry is an immutable committed posting made of at least two lines.
type JournalEntry struct {
	ID          uuid.UUID
	Description string
	Timestamp   time.Time
	Lines       []Line
}

// Validate enforces the double-entry invariant: at least two lines, and the
// debit and credit totals equal at full precision.
func (e *JournalEntry) Validate() error {
	if len(e.Lines) < 2 {
		return fmt.Errorf("%w: requires at least 2 lines, got %d", ErrUnbalancedEntry, len(e.Lines))
	}

	debits, credits := decimal.Zero, decimal.Zero
	for _, line := range e.Lines {
		switch line.Type {
		case Debit:
			debits = debits.Add(line.Amount.Amount())
		case Credit:
			credits = credits.Add(line.Amount.Amount())
		default:
			return fmt.Errorf("%w: unknown line type %q", ErrUnbalancedEntry, line.Type)
		}
	}

	if debits.Cmp(credits) != 0 {
		return fmt.Errorf("%w: debits %s, credits %s", ErrUnbalancedEntry, debits, credits)
	}
	return nil
}

// LimitRow is the daily rolling counter for one (user, day, currency). A new
// row per day gives the implicit midnight reset.
type LimitRow struct {
	UserID      string
	Day         time.Time
	Currency    string
	Count       int
	Total       decimal.Decimal
	LastUpdated time.Time
}

// Tx is one atomic unit of work against the ledger. All reads and writes made
// through a Tx become visible together at Commit or not at all.
type Tx interface {
	// Account reads the currently visible state of an account without locking.
	Account(ctx context.Context, id uuid.UUID) (Account, error)

	// LockAccount acquires an exclusive lock on the account, held until
	// Commit or Rollback, and returns its authoritative state.
	LockAccount(ctx context.Context, id uuid.UUID) (Account, error)

	// UpdateBalance writes a new balance for a previously locked account
	// and bumps its version.
	UpdateBalance(ctx context.Context, id uuid.UUID, balance money.Money) error

	// InsertEntry persists a journal entry together with its lines.
	InsertEntry(ctx context.Context, entry *JournalEntry) error

	// Idempotency looks up the journal entry recorded for a key, if any.
	Idempotency(ctx context.Context, key string) (uuid.UUID, bool, error)

	// PutIdempotency records the key -> journal entry mapping.
	PutIdempotency(ctx context.Context, key string, journalID uuid.UUID) error

	// LimitRow fetches-or-creates the limit row for (user, day, currency)
	// under an exclusive lock held until Commit or Rollback.
	LimitRow(ctx context.Context, userID string, day time.Time, currency string) (LimitRow, error)

	// PutLimitRow persists updated counters for a previously fetched row.
	PutLimitRow(ctx context.Context, row LimitRow) error

	// SumLines recomputes an account balance from its line history as seen
	// by this transaction: credits positive, debits negative.
	SumLines(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the ledger storage contract implemented by the Postgres and
// in-memory backends.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	// BeginRead opens a read-only unit of work whose reads all observe a
	// single consistent snapshot of the ledger. Write methods on the
	// returned Tx are not supported.
	BeginRead(ctx context.Context) (Tx, error)

	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	AccountByName(ctx context.Context, name string) (Account, error)
	ListAccountIDs(ctx context.Context) ([]uuid.UUID, error)

	// SumLines recomputes an account balance from its full line history:
	// credits count positive, debits negative (wallet convention).
	SumLines(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)

	Entry(ctx context.Context, id uuid.UUID) (JournalEntry, error)
}
