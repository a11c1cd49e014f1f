package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the fixed number of fractional digits every amount is normalized
// to. All persisted monetary values carry exactly this precision.
const Scale = 18

// CurrencyMismatchError indicates an operation combined two amounts (or an
// amount and an account) denominated in different currencies.
type CurrencyMismatchError struct {
	Want string
	Got  string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %s vs %s", e.Want, e.Got)
}

// Money is an immutable fixed-precision amount bound to a currency. The zero
// value is not usable; construct instances through New, Parse or Zero, which
// normalize the amount to Scale fractional digits using banker's rounding
// (round half to even).
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New builds a Money from a decimal amount and an ISO 4217 currency code.
func New(amount decimal.Decimal, currency string) (Money, error) {
	if err := validateCurrency(currency); err != nil {
		return Money{}, err
	}
	return Money{amount: amount.RoundBank(Scale), currency: currency}, nil
}

// Parse builds a Money from a decimal string representation.
func Parse(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return New(d, currency)
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) (Money, error) {
	return New(decimal.Zero, currency)
}

// MustParse is a test and wiring convenience that panics on invalid input.
func MustParse(amount, currency string) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func validateCurrency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("invalid currency code %q", code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("invalid currency code %q", code)
		}
	}
	return nil
}

// Amount returns the normalized decimal amount.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the ISO 4217 currency code.
func (m Money) Currency() string { return m.currency }

// Add returns m + other. Both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.checkCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount).RoundBank(Scale), currency: m.currency}, nil
}

// Sub returns m - other. Both operands must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.checkCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount).RoundBank(Scale), currency: m.currency}, nil
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// IsNonNegative reports whether the amount is greater than or equal to zero.
func (m Money) IsNonNegative() bool { return !m.amount.IsNegative() }

// Equal reports value equality of amount and currency at full precision.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// Cmp compares the amounts of two same-currency values; -1, 0 or +1.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.checkCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// String renders the amount at full fixed precision with its currency code.
func (m Money) String() string {
	return m.amount.StringFixed(Scale) + " " + m.currency
}

func (m Money) checkCurrency(other Money) error {
	if m.currency != other.currency {
		return &CurrencyMismatchError{Want: m.currency, Got: other.currency}
	}
	return nil
}
