package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/ledger"
)

const (
	minLegs        = 2
	maxLegs        = 100
	maxDescription = 500
)

// maxAmount bounds a single leg to keep aggregates inside numeric(38,18).
var maxAmount = decimal.RequireFromString("999999999999.99")

// InvalidTransactionError rejects malformed input before any mutation.
type InvalidTransactionError struct {
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return "invalid transaction: " + e.Reason
}

func invalidf(format string, args ...any) error {
	return &InvalidTransactionError{Reason: fmt.Sprintf(format, args...)}
}

func validateDescription(description string) error {
	if strings.TrimSpace(description) == "" {
		return invalidf("description cannot be empty")
	}
	// Length is measured in characters, not bytes, so multibyte UTF-8
	// descriptions are not penalized.
	if utf8.RuneCountInString(description) > maxDescription {
		return invalidf("description exceeds maximum length of %d characters", maxDescription)
	}
	lower := strings.ToLower(description)
	if strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:") {
		return invalidf("description contains potentially malicious content")
	}
	return nil
}

func validateLegs(legs []Leg) error {
	if len(legs) < minLegs {
		return invalidf("transaction must have at least %d legs (double-entry requirement)", minLegs)
	}
	if len(legs) > maxLegs {
		return invalidf("transaction cannot have more than %d legs", maxLegs)
	}
	for i, leg := range legs {
		if leg.Type != ledger.Debit && leg.Type != ledger.Credit {
			return invalidf("leg %d has unknown type %q", i, leg.Type)
		}
		if !leg.Amount.IsPositive() {
			return invalidf("leg %d amount must be greater than zero, got %s", i, leg.Amount.Amount())
		}
		if leg.Amount.Amount().Cmp(maxAmount) > 0 {
			return invalidf("leg %d amount exceeds maximum allowed (%s)", i, maxAmount)
		}
	}
	return nil
}
