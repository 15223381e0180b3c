/*
Package money provides the fixed-point monetary primitive used by every
calculation in the engine.

PURPOSE:
  Book values, salvage values, depreciation amounts and disposal proceeds are
  all money. Floating point drifts; a straight-line schedule of 36 postings
  must sum to exactly (price - salvage). Amount wraps decimal.Decimal and
  rounds to a fixed scale at every boundary where a value is stored or posted.

ROUNDING RULES:
  - Scale is 2 (cents).
  - Round() rounds half away from zero (decimal.Round).
  - Division keeps DivisionPrecision digits; callers Round() the result.
  - Values parsed from input are rounded on the way in.

SERIALIZATION:
  JSON: quoted string ("1234.50") so clients never see float artifacts.
  SQL:  TEXT via String() / New().

SEE ALSO:
  - depreciation/calculator.go: the main consumer
*/
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places kept for stored and posted amounts.
const Scale int32 = 2

// DivisionPrecision is the precision used for intermediate divisions.
const DivisionPrecision int32 = 16

// =============================================================================
// AMOUNT
// =============================================================================

// Amount is a fixed-point monetary value in the organisation's single currency.
type Amount struct {
	Value decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{Value: decimal.Zero}

// New parses s and rounds it to Scale.
func New(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{Value: d}.Round(), nil
}

// MustParse is New for literals in tests and fixtures. It panics on bad input.
func MustParse(s string) Amount {
	a, err := New(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt returns a whole-unit amount.
func FromInt(v int64) Amount { return Amount{Value: decimal.NewFromInt(v)} }

// FromDecimal wraps d without rounding.
func FromDecimal(d decimal.Decimal) Amount { return Amount{Value: d} }

func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Neg() Amount { return Amount{Value: a.Value.Neg()} }

// Div divides by s keeping DivisionPrecision digits. The result is not rounded.
func (a Amount) Div(s decimal.Decimal) Amount {
	return Amount{Value: a.Value.DivRound(s, DivisionPrecision)}
}

// Round rounds half away from zero to Scale places.
func (a Amount) Round() Amount { return Amount{Value: a.Value.Round(Scale)} }

func (a Amount) IsZero() bool { return a.Value.IsZero() }
func (a Amount) IsNegative() bool { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) GreaterOrEqual(b Amount) bool { return a.Value.GreaterThanOrEqual(b.Value) }
func (a Amount) LessThan(b Amount) bool { return a.Value.LessThan(b.Value) }
func (a Amount) LessOrEqual(b Amount) bool { return a.Value.LessThanOrEqual(b.Value) }
func (a Amount) Cmp(b Amount) int { return a.Value.Cmp(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// String renders the amount with exactly Scale decimals ("10000.00").
func (a Amount) String() string { return a.Value.StringFixed(Scale) }

// Float64 is for metrics only. Never feed the result back into arithmetic.
func (a Amount) Float64() float64 { return a.Value.InexactFloat64() }

// =============================================================================
// SERIALIZATION
// =============================================================================

// MarshalJSON encodes the amount as a quoted fixed-scale string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both "12.34" and 12.34.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("amount must be a string or number: %w", err)
		}
		s = n.String()
	}
	parsed, err := New(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum adds all amounts.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
