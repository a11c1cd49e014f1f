package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/money"
)

type limitKey struct {
	userID   string
	day      string
	currency string
}

func keyFor(userID string, day time.Time, currency string) limitKey {
	return limitKey{userID: userID, day: day.UTC().Format("2006-01-02"), currency: currency}
}

// memoryStore keeps the whole ledger behind one mutex: Begin acquires it and
// Commit/Rollback release it, so every unit of work is fully serialized. Good
// enough for tests and single-node development mode.
type memoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]Account
	byName   map[string]uuid.UUID
	entries  map[uuid.UUID]JournalEntry
	lines    map[uuid.UUID][]Line
	idem     map[string]uuid.UUID
	limits   map[limitKey]LimitRow
}

// NewMemoryStore creates a concurrency-safe in-memory ledger store useful for
// unit tests and development without Postgres.
func NewMemoryStore() Store {
	return &memoryStore{
		accounts: make(map[uuid.UUID]Account),
		byName:   make(map[string]uuid.UUID),
		entries:  make(map[uuid.UUID]JournalEntry),
		lines:    make(map[uuid.UUID][]Line),
		idem:     make(map[string]uuid.UUID),
		limits:   make(map[limitKey]LimitRow),
	}
}

func (s *memoryStore) Begin(ctx context.Context) (Tx, error) {
	return s.begin(ctx, false)
}

// BeginRead piggybacks on the store mutex: while the read transaction is
// open no writer can commit, so Account and SumLines observe one snapshot.
func (s *memoryStore) BeginRead(ctx context.Context) (Tx, error) {
	return s.begin(ctx, true)
}

func (s *memoryStore) begin(ctx context.Context, readOnly bool) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return &memTx{
		store:    s,
		readOnly: readOnly,
		balances: make(map[uuid.UUID]money.Money),
		locked:   make(map[uuid.UUID]bool),
		idem:     make(map[string]uuid.UUID),
		limits:   make(map[limitKey]LimitRow),
	}, nil
}

func (s *memoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Status == "" {
		account.Status = StatusActive
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.byName[account.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, account.Name)
	}
	s.accounts[account.ID] = account
	s.byName[account.Name] = account.ID
	return nil
}

func (s *memoryStore) GetAccount(_ context.Context, id uuid.UUID) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (s *memoryStore) AccountByName(_ context.Context, name string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[name]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return s.accounts[id], nil
}

func (s *memoryStore) ListAccountIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memoryStore) SumLines(_ context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, line := range s.lines[accountID] {
		if line.Type == Credit {
			sum = sum.Add(line.Amount.Amount())
		} else {
			sum = sum.Sub(line.Amount.Amount())
		}
	}
	return sum, nil
}

func (s *memoryStore) Entry(_ context.Context, id uuid.UUID) (JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return JournalEntry{}, fmt.Errorf("journal entry %s not found", id)
	}
	return entry, nil
}

// memTx stages all writes and applies them to the store only at Commit. The
// store mutex is held for the lifetime of the transaction, so per-account
// locking is subsumed by full serialization here.
type memTx struct {
	store    *memoryStore
	readOnly bool
	balances map[uuid.UUID]money.Money
	locked   map[uuid.UUID]bool
	entries  []JournalEntry
	idem     map[string]uuid.UUID
	limits   map[limitKey]LimitRow
	done     bool
}

func (t *memTx) Account(_ context.Context, id uuid.UUID) (Account, error) {
	account, ok := t.store.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if staged, ok := t.balances[id]; ok {
		account.Balance = staged
	}
	return account, nil
}

func (t *memTx) LockAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	account, err := t.Account(ctx, id)
	if err != nil {
		return Account{}, err
	}
	t.locked[id] = true
	return account, nil
}

func (t *memTx) UpdateBalance(_ context.Context, id uuid.UUID, balance money.Money) error {
	if t.readOnly {
		return fmt.Errorf("update balance: transaction is read-only")
	}
	if !t.locked[id] {
		return fmt.Errorf("account %s not locked in this transaction", id)
	}
	t.balances[id] = balance
	return nil
}

func (t *memTx) InsertEntry(_ context.Context, entry *JournalEntry) error {
	if t.readOnly {
		return fmt.Errorf("insert entry: transaction is read-only")
	}
	t.entries = append(t.entries, *entry)
	return nil
}

func (t *memTx) Idempotency(_ context.Context, key string) (uuid.UUID, bool, error) {
	if id, ok := t.idem[key]; ok {
		return id, true, nil
	}
	if id, ok := t.store.idem[key]; ok {
		return id, true, nil
	}
	return uuid.Nil, false, nil
}

func (t *memTx) PutIdempotency(_ context.Context, key string, journalID uuid.UUID) error {
	if t.readOnly {
		return fmt.Errorf("put idempotency: transaction is read-only")
	}
	t.idem[key] = journalID
	return nil
}

func (t *memTx) LimitRow(_ context.Context, userID string, day time.Time, currency string) (LimitRow, error) {
	key := keyFor(userID, day, currency)
	if row, ok := t.limits[key]; ok {
		return row, nil
	}
	if row, ok := t.store.limits[key]; ok {
		return row, nil
	}
	return LimitRow{
		UserID:      userID,
		Day:         day.UTC(),
		Currency:    currency,
		Total:       decimal.Zero,
		LastUpdated: time.Now().UTC(),
	}, nil
}

func (t *memTx) PutLimitRow(_ context.Context, row LimitRow) error {
	if t.readOnly {
		return fmt.Errorf("put limit row: transaction is read-only")
	}
	t.limits[keyFor(row.UserID, row.Day, row.Currency)] = row
	return nil
}

func (t *memTx) SumLines(_ context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	add := func(line Line) {
		if line.Type == Credit {
			sum = sum.Add(line.Amount.Amount())
		} else {
			sum = sum.Sub(line.Amount.Amount())
		}
	}
	for _, line := range t.store.lines[accountID] {
		add(line)
	}
	for _, entry := range t.entries {
		for _, line := range entry.Lines {
			if line.AccountID == accountID {
				add(line)
			}
		}
	}
	return sum, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	defer t.store.mu.Unlock()

	// An expired context discards the staged writes, same as Rollback.
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, balance := range t.balances {
		account := t.store.accounts[id]
		account.Balance = balance
		account.Version++
		t.store.accounts[id] = account
	}
	for _, entry := range t.entries {
		t.store.entries[entry.ID] = entry
		for _, line := range entry.Lines {
			t.store.lines[line.AccountID] = append(t.store.lines[line.AccountID], line)
		}
	}
	for key, id := range t.idem {
		t.store.idem[key] = id
	}
	for key, row := range t.limits {
		t.store.limits[key] = row
	}
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}
