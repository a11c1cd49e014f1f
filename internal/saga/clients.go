package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lumapay/luma_ledger/internal/engine"
	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/money"
)

// HoldAccountName parks reserved funds between reservation and release or
// consumption, mirroring a suspense account.
const HoldAccountName = "holds:clearing"

// LedgerWalletClient implements the wallet collaborator on top of the local
// transaction engine: a reservation moves funds into the hold account and a
// release moves them back. Every posting gets a fresh idempotency key, so
// retrying a failed saga needs fresh identity downstream.
type LedgerWalletClient struct {
	engine *engine.Engine
	store  ledger.Store
}

// NewLedgerWalletClient ensures the hold account exists and returns the client.
func NewLedgerWalletClient(ctx context.Context, eng *engine.Engine, store ledger.Store, currency string) (*LedgerWalletClient, error) {
	if _, err := store.AccountByName(ctx, HoldAccountName); err != nil {
		if !errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, err
		}
		zero, err := money.Zero(currency)
		if err != nil {
			return nil, err
		}
		if err := store.CreateAccount(ctx, ledger.Account{Name: HoldAccountName, Balance: zero}); err != nil {
			return nil, err
		}
	}
	return &LedgerWalletClient{engine: eng, store: store}, nil
}

// ReserveFunds posts account -> hold. A refusal (insufficient funds, frozen,
// closed) reports false without error; infrastructure failures report error.
func (c *LedgerWalletClient) ReserveFunds(ctx context.Context, account string, amount money.Money) (bool, error) {
	err := c.post(ctx, account, HoldAccountName, amount, fmt.Sprintf("reserve funds for %s", account))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, ledger.ErrAccountFrozen) ||
		errors.Is(err, ledger.ErrAccountClosed) ||
		errors.Is(err, ledger.ErrAccountNotFound) {
		return false, nil
	}
	return false, err
}

// ReleaseFunds posts hold -> account, undoing a reservation.
func (c *LedgerWalletClient) ReleaseFunds(ctx context.Context, account string, amount money.Money) error {
	return c.post(ctx, HoldAccountName, account, amount, fmt.Sprintf("release reserved funds for %s", account))
}

func (c *LedgerWalletClient) post(ctx context.Context, fromName, toName string, amount money.Money, description string) error {
	from, err := c.store.AccountByName(ctx, fromName)
	if err != nil {
		return err
	}
	to, err := c.store.AccountByName(ctx, toName)
	if err != nil {
		return err
	}
	legs := []engine.Leg{
		{AccountID: from.ID, Type: ledger.Debit, Amount: amount},
		{AccountID: to.ID, Type: ledger.Credit, Amount: amount},
	}
	_, err = c.engine.PostTransaction(ctx, uuid.NewString(), description, legs, "")
	return err
}

// EngineLedgerClient commits the transfer's ledger step through the local
// transaction engine. The funds were already moved into the hold account by
// the reservation, so the commit debits the hold and credits the receiver.
type EngineLedgerClient struct {
	engine *engine.Engine
	store  ledger.Store
}

// NewEngineLedgerClient returns the in-process ledger collaborator.
func NewEngineLedgerClient(eng *engine.Engine, store ledger.Store) *EngineLedgerClient {
	return &EngineLedgerClient{engine: eng, store: store}
}

// CommitTransaction consumes the reservation held for fromAccount and pays
// toAccount. Each attempt carries a fresh idempotency key.
func (c *EngineLedgerClient) CommitTransaction(ctx context.Context, fromAccount, toAccount string, amount money.Money) error {
	hold, err := c.store.AccountByName(ctx, HoldAccountName)
	if err != nil {
		return err
	}
	to, err := c.store.AccountByName(ctx, toAccount)
	if err != nil {
		return err
	}
	legs := []engine.Leg{
		{AccountID: hold.ID, Type: ledger.Debit, Amount: amount},
		{AccountID: to.ID, Type: ledger.Credit, Amount: amount},
	}
	_, err = c.engine.PostTransaction(ctx, uuid.NewString(),
		fmt.Sprintf("transfer %s to %s", fromAccount, toAccount), legs, "")
	return err
}
