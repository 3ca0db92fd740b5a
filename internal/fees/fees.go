// Package fees implements the two independent fee layers of an exchange:
// the issuance tax (a fixed-point percentage on trade principal, credited
// to the exchange owner) and the platform royalty (a flat side-channel
// fee credited to a platform recipient). The two channels never mix.
//
// All value math uses shopspring/decimal — never float64 for money.
package fees

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTax is returned when the tax numerator exceeds the scale
	// denominator (a rate above 100%).
	ErrInvalidTax = errors.New("fees: tax rate out of range")

	// ErrInsufficientFee is returned when the royalty attached to a call
	// does not cover the configured amount.
	ErrInsufficientFee = errors.New("fees: please provide enough fee")
)

// TaxScale is the fixed decimal scale of the tax rate: a numerator of 100
// means 100/1000 = 10%.
const TaxScale int32 = 3

// Tax is a fixed-point percentage fee. The rate is Numerator / 10^Scale.
type Tax struct {
	Numerator decimal.Decimal
	Scale     int32
}

// NewTax validates and builds a tax rate with the standard scale.
func NewTax(numerator int64) (Tax, error) {
	if numerator < 0 || numerator > 1000 {
		return Tax{}, ErrInvalidTax
	}
	return Tax{Numerator: decimal.NewFromInt(numerator), Scale: TaxScale}, nil
}

// On computes floor(value × numerator / 10^scale). Shift keeps the
// computation exact in the integer domain; rounding is always down.
func (t Tax) On(value decimal.Decimal) decimal.Decimal {
	return value.Mul(t.Numerator).Shift(-t.Scale).Floor()
}

// AddTo returns value plus its tax, the total a buyer escrows or an
// accepting party pays for a given principal.
func (t Tax) AddTo(value decimal.Decimal) decimal.Decimal {
	return value.Add(t.On(value))
}

// Royalty is the flat platform fee required on accept and transfer,
// paid through the side channel, never from trade settlement value.
type Royalty struct {
	Amount    decimal.Decimal
	Recipient string
}

// Covers reports whether an attached fee satisfies the royalty.
func (r Royalty) Covers(fee decimal.Decimal) bool {
	return fee.GreaterThanOrEqual(r.Amount)
}

// Provider supplies the live royalty configuration. The registry owns the
// configuration; every exchange instance reads it through this interface
// at call time so registry updates apply immediately.
type Provider interface {
	Royalty() Royalty
}
