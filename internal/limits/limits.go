package limits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/money"
)

// ExceededError reports which daily ceiling a transaction would break.
type ExceededError struct {
	UserID    string
	Kind      string // "count" or "amount"
	Limit     decimal.Decimal
	Attempted decimal.Decimal
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("transaction limit exceeded for user %s: daily %s limit %s, attempted %s",
		e.UserID, e.Kind, e.Limit, e.Attempted)
}

// Service enforces per-user daily transaction ceilings. The check and the
// increment run inside the caller's ledger transaction, so a posting that
// later fails rolls the counters back with it.
type Service struct {
	countLimit  int
	amountLimit decimal.Decimal
	logger      *slog.Logger
}

// New builds a limit service with the configured daily ceilings.
func New(countLimit int, amountLimit decimal.Decimal, logger *slog.Logger) *Service {
	return &Service{countLimit: countLimit, amountLimit: amountLimit, logger: logger}
}

// CheckAndUpdate fetches-or-creates the (user, today, currency) row under the
// transaction's exclusive lock, rejects if either ceiling would be exceeded,
// and otherwise increments the counters.
func (s *Service) CheckAndUpdate(ctx context.Context, tx ledger.Tx, userID string, amount money.Money) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	row, err := tx.LimitRow(ctx, userID, today, amount.Currency())
	if err != nil {
		return fmt.Errorf("fetch limit row: %w", err)
	}

	if row.Count >= s.countLimit {
		return &ExceededError{
			UserID:    userID,
			Kind:      "count",
			Limit:     decimal.NewFromInt(int64(s.countLimit)),
			Attempted: decimal.NewFromInt(int64(row.Count + 1)),
		}
	}

	newTotal := row.Total.Add(amount.Amount())
	if newTotal.Cmp(s.amountLimit) > 0 {
		return &ExceededError{
			UserID:    userID,
			Kind:      "amount",
			Limit:     s.amountLimit,
			Attempted: newTotal,
		}
	}

	row.Count++
	row.Total = newTotal
	row.LastUpdated = time.Now().UTC()
	if err := tx.PutLimitRow(ctx, row); err != nil {
		return fmt.Errorf("update limit row: %w", err)
	}

	s.logger.Debug("updated transaction limits",
		"user_id", userID, "count", row.Count, "total", row.Total.String(), "currency", amount.Currency())
	return nil
}
