package saga

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumapay/luma_ledger/internal/money"
)

// WalletClient is the funds-reservation collaborator. ReleaseFunds is
// expected to be idempotent on the collaborator side.
type WalletClient interface {
	ReserveFunds(ctx context.Context, account string, amount money.Money) (bool, error)
	ReleaseFunds(ctx context.Context, account string, amount money.Money) error
}

// FraudClient is the verification collaborator. A false return is an explicit
// rejection; an error is an unexpected failure. Both trigger compensation.
type FraudClient interface {
	VerifyTransaction(ctx context.Context, userID string, amount money.Money, targetAccount string) (bool, error)
}

// LedgerClient commits the transfer on the ledger system. The commit is
// atomic on the collaborator side; no partial application is exposed.
type LedgerClient interface {
	CommitTransaction(ctx context.Context, fromAccount, toAccount string, amount money.Money) error
}

// Reason identifies the saga step that failed.
type Reason string

const (
	ReasonReservation Reason = "reservation"
	ReasonFraud       Reason = "fraud"
	ReasonLedger      Reason = "ledger"
)

// TransferError reports a failed transfer. By the time the caller sees it,
// compensation for any completed step has already run: the system is back in
// its pre-transfer state and a retry with fresh identifiers is safe.
type TransferError struct {
	Reason Reason
	Err    error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transfer failed (%s)", e.Reason)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Coordinator orchestrates a transfer across three independently-failing
// systems. There is no shared transaction: a later step failing is undone by
// releasing the funds reserved in step one, never by forward retry.
type Coordinator struct {
	wallet WalletClient
	fraud  FraudClient
	ledger LedgerClient
	logger *slog.Logger
}

// NewCoordinator wires the three collaborator clients.
func NewCoordinator(wallet WalletClient, fraud FraudClient, ledger LedgerClient, logger *slog.Logger) *Coordinator {
	return &Coordinator{wallet: wallet, fraud: fraud, ledger: ledger, logger: logger}
}

// ExecuteTransfer runs the linear saga: reserve funds, verify fraud, commit
// to the ledger. Each step has exactly one compensating action, which only
// ever undoes the reservation.
func (c *Coordinator) ExecuteTransfer(ctx context.Context, fromAccount, toAccount string, amount money.Money, userID string) error {
	reserved, err := c.wallet.ReserveFunds(ctx, fromAccount, amount)
	if err != nil || !reserved {
		// nothing succeeded yet, nothing to compensate
		return &TransferError{Reason: ReasonReservation, Err: err}
	}

	verified, err := c.fraud.VerifyTransaction(ctx, userID, amount, toAccount)
	if err != nil {
		c.release(ctx, fromAccount, amount)
		return &TransferError{Reason: ReasonFraud, Err: err}
	}
	if !verified {
		c.release(ctx, fromAccount, amount)
		return &TransferError{Reason: ReasonFraud}
	}

	if err := c.ledger.CommitTransaction(ctx, fromAccount, toAccount, amount); err != nil {
		c.release(ctx, fromAccount, amount)
		return &TransferError{Reason: ReasonLedger, Err: err}
	}

	c.logger.Info("transfer completed",
		"from", fromAccount, "to", toAccount, "amount", amount.String(), "user_id", userID)
	return nil
}

func (c *Coordinator) release(ctx context.Context, account string, amount money.Money) {
	if err := c.wallet.ReleaseFunds(ctx, account, amount); err != nil {
		// the collaborator promises idempotent release; operators retry it
		c.logger.Error("compensation failed, reserved funds may be stuck",
			"account", account, "amount", amount.String(), "error", err)
	}
}
