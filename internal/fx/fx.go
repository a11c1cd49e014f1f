package fx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/engine"
	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/money"
)

// ErrUnknownPair reports a currency pair with no configured rate.
var ErrUnknownPair = errors.New("no exchange rate for currency pair")

// RateSource supplies exchange rates. Pricing is an external concern; this
// package only consumes a rate.
type RateSource interface {
	Rate(source, target string) (decimal.Decimal, error)
}

// StaticRates is a fixed in-memory rate table keyed "SRC_DST".
type StaticRates map[string]decimal.Decimal

// DefaultRates returns the development rate table.
func DefaultRates() StaticRates {
	return StaticRates{
		"EUR_USD": decimal.RequireFromString("1.10"),
		"USD_EUR": decimal.RequireFromString("0.9090909091"),
	}
}

// Rate returns the configured rate, or 1 for same-currency pairs.
func (r StaticRates) Rate(source, target string) (decimal.Decimal, error) {
	if source == target {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := r[source+"_"+target]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s_%s", ErrUnknownPair, source, target)
	}
	return rate, nil
}

// deskAccountName is the per-currency FX desk account absorbing offsetting
// legs. Desks are prefunded liquidity accounts; a sale the desk cannot cover
// fails the posting like any other insufficient balance.
func deskAccountName(currency string) string { return "fx:desk:" + currency }

// TransferInput describes a cross-border transfer between two accounts in
// different currencies.
type TransferInput struct {
	IdempotencyKey string
	SourceAccount  uuid.UUID
	TargetAccount  uuid.UUID
	Amount         decimal.Decimal
	SourceCurrency string
	TargetCurrency string
	UserID         string
}

// Service builds four balanced legs per transfer and posts them as one
// atomic journal entry through the transaction engine.
type Service struct {
	engine *engine.Engine
	store  ledger.Store
	rates  RateSource
	logger *slog.Logger
}

// NewService wires the cross-border transfer service.
func NewService(eng *engine.Engine, store ledger.Store, rates RateSource, logger *slog.Logger) *Service {
	return &Service{engine: eng, store: store, rates: rates, logger: logger}
}

// Transfer debits the source user, credits the source-currency desk, debits
// the target-currency desk and credits the target user, all in one posting.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (uuid.UUID, error) {
	rate, err := s.rates.Rate(input.SourceCurrency, input.TargetCurrency)
	if err != nil {
		return uuid.Nil, err
	}

	sourceMoney, err := money.New(input.Amount, input.SourceCurrency)
	if err != nil {
		return uuid.Nil, err
	}
	targetMoney, err := money.New(input.Amount.Mul(rate), input.TargetCurrency)
	if err != nil {
		return uuid.Nil, err
	}

	sourceDesk, err := s.desk(ctx, input.SourceCurrency)
	if err != nil {
		return uuid.Nil, err
	}
	targetDesk, err := s.desk(ctx, input.TargetCurrency)
	if err != nil {
		return uuid.Nil, err
	}

	legs := []engine.Leg{
		{AccountID: input.SourceAccount, Type: ledger.Debit, Amount: sourceMoney},
		{AccountID: sourceDesk, Type: ledger.Credit, Amount: sourceMoney},
		{AccountID: targetDesk, Type: ledger.Debit, Amount: targetMoney},
		{AccountID: input.TargetAccount, Type: ledger.Credit, Amount: targetMoney},
	}

	description := fmt.Sprintf("FX transfer %s to %s", input.SourceCurrency, input.TargetCurrency)
	journalID, err := s.engine.PostTransaction(ctx, input.IdempotencyKey, description, legs, input.UserID)
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("fx transfer completed",
		"journal_id", journalID, "rate", rate.String(),
		"source", sourceMoney.String(), "target", targetMoney.String())
	return journalID, nil
}

// desk resolves the desk account for a currency, creating it empty on first
// use in development setups.
func (s *Service) desk(ctx context.Context, currency string) (uuid.UUID, error) {
	name := deskAccountName(currency)
	account, err := s.store.AccountByName(ctx, name)
	if err == nil {
		return account.ID, nil
	}
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		return uuid.Nil, err
	}

	zero, err := money.Zero(currency)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.store.CreateAccount(ctx, ledger.Account{Name: name, Balance: zero}); err != nil && !errors.Is(err, ledger.ErrAccountExists) {
		return uuid.Nil, err
	}
	account, err = s.store.AccountByName(ctx, name)
	if err != nil {
		return uuid.Nil, err
	}
	return account.ID, nil
}
