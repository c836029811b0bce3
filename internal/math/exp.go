package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// Exp is a fixed-point real number: the true value scaled by 10^18 and
// stored as a 256-bit unsigned mantissa.
type Exp struct {
	Mantissa *uint256.Int
}

// ExpScaleUint is the mantissa scale factor (10^18).
const ExpScaleUint = uint64(1e18)

var (
	// ExpScale as a uint256, never mutated.
	ExpScale = uint256.NewInt(ExpScaleUint)

	halfExpScale = uint256.NewInt(ExpScaleUint / 2)
)

// Tagged arithmetic failures. No primitive in this package panics; every
// caller must check the returned error before using the value.
var (
	ErrOverflow       = errors.New("integer overflow")
	ErrUnderflow      = errors.New("integer underflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// NewExp wraps a raw mantissa. The mantissa is not copied.
func NewExp(mantissa *uint256.Int) Exp {
	return Exp{Mantissa: mantissa}
}

// ExpFromUint returns n as an Exp (n * 10^18). Cannot overflow for any uint64.
func ExpFromUint(n uint64) Exp {
	m, _ := new(uint256.Int).MulOverflow(uint256.NewInt(n), ExpScale)
	return Exp{Mantissa: m}
}

// OneExp returns a fresh Exp of value 1.0.
func OneExp() Exp {
	return Exp{Mantissa: uint256.NewInt(ExpScaleUint)}
}

// ZeroExp returns a fresh Exp of value 0.
func ZeroExp() Exp {
	return Exp{Mantissa: new(uint256.Int)}
}

// IsZero reports whether the Exp has a zero mantissa.
func (e Exp) IsZero() bool {
	return e.Mantissa.IsZero()
}

// Cmp compares two Exps: -1 if e < other, 0 if equal, 1 if e > other.
func (e Exp) Cmp(other Exp) int {
	return e.Mantissa.Cmp(other.Mantissa)
}

// Clone returns a deep copy.
func (e Exp) Clone() Exp {
	return Exp{Mantissa: e.Mantissa.Clone()}
}

// Add returns a + b, failing with ErrOverflow on wrap.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b, failing with ErrUnderflow if b > a.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return diff, nil
}

// Mul returns a * b, failing with ErrOverflow on wrap.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return prod, nil
}

// Div returns a / b (integer division), failing with ErrDivisionByZero.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(a, b), nil
}

// AddThenSub returns a + b - c. If the naive order overflows or underflows
// while the mathematically valid result is still representable, it retries
// as (a - c) + b before declaring failure. Callers rely on this alternate
// evaluation order when updating aggregate totals from accrued balances.
func AddThenSub(a, b, c *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if !overflow {
		result, underflow := new(uint256.Int).SubOverflow(sum, c)
		if !underflow {
			return result, nil
		}
	}

	// Alternate order: (a - c) + b.
	diff, underflow := new(uint256.Int).SubOverflow(a, c)
	if underflow {
		return nil, ErrUnderflow
	}
	result, overflow := new(uint256.Int).AddOverflow(diff, b)
	if overflow {
		return nil, ErrOverflow
	}
	return result, nil
}

// GetExp constructs an Exp from a ratio of integers: num/denom scaled to
// 18 decimals. Fails with ErrDivisionByZero when denom is zero and
// ErrOverflow when the scaled numerator wraps.
func GetExp(num, denom *uint256.Int) (Exp, error) {
	if denom.IsZero() {
		return Exp{}, ErrDivisionByZero
	}
	scaled, overflow := new(uint256.Int).MulOverflow(num, ExpScale)
	if overflow {
		return Exp{}, ErrOverflow
	}
	return Exp{Mantissa: new(uint256.Int).Div(scaled, denom)}, nil
}

// AddExp returns a + b.
func AddExp(a, b Exp) (Exp, error) {
	m, err := Add(a.Mantissa, b.Mantissa)
	if err != nil {
		return Exp{}, err
	}
	return Exp{Mantissa: m}, nil
}

// SubExp returns a - b.
func SubExp(a, b Exp) (Exp, error) {
	m, err := Sub(a.Mantissa, b.Mantissa)
	if err != nil {
		return Exp{}, err
	}
	return Exp{Mantissa: m}, nil
}

// MulScalar returns a * scalar where scalar is a plain integer.
func MulScalar(a Exp, scalar *uint256.Int) (Exp, error) {
	m, err := Mul(a.Mantissa, scalar)
	if err != nil {
		return Exp{}, err
	}
	return Exp{Mantissa: m}, nil
}

// MulExp multiplies two Exps, rounding half-up at the 18th decimal.
func MulExp(a, b Exp) (Exp, error) {
	doubleScaled, overflow := new(uint256.Int).MulOverflow(a.Mantissa, b.Mantissa)
	if overflow {
		return Exp{}, ErrOverflow
	}
	rounded, overflow := new(uint256.Int).AddOverflow(doubleScaled, halfExpScale)
	if overflow {
		return Exp{}, ErrOverflow
	}
	return Exp{Mantissa: new(uint256.Int).Div(rounded, ExpScale)}, nil
}

// DivExp returns a / b as an Exp.
func DivExp(a, b Exp) (Exp, error) {
	return GetExp(a.Mantissa, b.Mantissa)
}

// Truncate drops the fractional part, returning the whole-number component
// as a plain integer.
func Truncate(a Exp) *uint256.Int {
	return new(uint256.Int).Div(a.Mantissa, ExpScale)
}

// MulScalarTruncate computes truncate(a * scalar). The truncation happens
// after the multiply so no precision is lost mid-formula.
func MulScalarTruncate(a Exp, scalar *uint256.Int) (*uint256.Int, error) {
	product, err := MulScalar(a, scalar)
	if err != nil {
		return nil, err
	}
	return Truncate(product), nil
}

// MulScalarTruncateAdd computes truncate(a * scalar) + addend with a single
// overflow point after the truncation.
func MulScalarTruncateAdd(a Exp, scalar, addend *uint256.Int) (*uint256.Int, error) {
	truncated, err := MulScalarTruncate(a, scalar)
	if err != nil {
		return nil, err
	}
	return Add(truncated, addend)
}
