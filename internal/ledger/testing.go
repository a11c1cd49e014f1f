package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumapay/luma_ledger/internal/money"
)

// SeedAccount is a test helper that creates an active account with the given
// opening balance when using the in-memory store.
func SeedAccount(s Store, name string, balance money.Money) Account {
	account := Account{
		ID:      uuid.New(),
		Name:    name,
		Balance: balance,
		Status:  StatusActive,
	}
	if err := s.CreateAccount(context.Background(), account); err != nil {
		panic(err)
	}
	created, err := s.GetAccount(context.Background(), account.ID)
	if err != nil {
		panic(err)
	}
	return created
}

// CorruptBalance overwrites a stored balance without writing any transaction
// lines, bypassing every invariant. Only the in-memory store supports it; it
// exists so reconciliation tests can inject silent corruption.
func CorruptBalance(s Store, id uuid.UUID, balance money.Money) {
	mem, ok := s.(*memoryStore)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	account := mem.accounts[id]
	account.Balance = balance
	mem.accounts[id] = account
}

// SetStatus flips an account status directly, for exercising frozen/closed
// paths in tests against the in-memory store.
func SetStatus(s Store, id uuid.UUID, status AccountStatus) {
	mem, ok := s.(*memoryStore)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	account := mem.accounts[id]
	account.Status = status
	mem.accounts[id] = account
}
