package math_test

import (
	"testing"

	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

func maxUint256() *uint256.Int {
	max := new(uint256.Int)
	max.SetAllOne()
	return max
}

// ============================================================================
// Test: raw integer arithmetic
// ============================================================================

func TestAdd_Overflow(t *testing.T) {
	_, err := fpmath.Add(maxUint256(), uint256.NewInt(1))
	if err != fpmath.ErrOverflow {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestSub_Underflow(t *testing.T) {
	_, err := fpmath.Sub(uint256.NewInt(1), uint256.NewInt(2))
	if err != fpmath.ErrUnderflow {
		t.Errorf("got %v, want ErrUnderflow", err)
	}
}

func TestMul_Overflow(t *testing.T) {
	_, err := fpmath.Mul(maxUint256(), uint256.NewInt(2))
	if err != fpmath.ErrOverflow {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestDiv_ByZero(t *testing.T) {
	_, err := fpmath.Div(uint256.NewInt(10), new(uint256.Int))
	if err != fpmath.ErrDivisionByZero {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

func TestDiv_Truncates(t *testing.T) {
	got, err := fpmath.Div(uint256.NewInt(7), uint256.NewInt(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 3 {
		t.Errorf("7/2: got %d, want 3", got.Uint64())
	}
}

// ============================================================================
// Test: AddThenSub alternate evaluation order
// ============================================================================

func TestAddThenSub_NaiveOrder(t *testing.T) {
	got, err := fpmath.AddThenSub(uint256.NewInt(10), uint256.NewInt(5), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 12 {
		t.Errorf("got %d, want 12", got.Uint64())
	}
}

func TestAddThenSub_FallbackOnIntermediateOverflow(t *testing.T) {
	// max + 5 overflows, but (max - 5) + 5 == max is representable.
	got, err := fpmath.AddThenSub(maxUint256(), uint256.NewInt(5), uint256.NewInt(5))
	if err != nil {
		t.Fatalf("expected fallback order to succeed, got %v", err)
	}
	if !got.Eq(maxUint256()) {
		t.Errorf("got %s, want max uint256", got)
	}
}

func TestAddThenSub_TrueUnderflow(t *testing.T) {
	// 1 + 1 - 5 is negative in both evaluation orders.
	_, err := fpmath.AddThenSub(uint256.NewInt(1), uint256.NewInt(1), uint256.NewInt(5))
	if err != fpmath.ErrUnderflow {
		t.Errorf("got %v, want ErrUnderflow", err)
	}
}

func TestAddThenSub_TrueOverflow(t *testing.T) {
	// (max - 0) + max overflows in both orders.
	_, err := fpmath.AddThenSub(maxUint256(), maxUint256(), new(uint256.Int))
	if err != fpmath.ErrOverflow {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

// ============================================================================
// Test: Exp operations
// ============================================================================

func TestGetExp_Ratio(t *testing.T) {
	// 1/2 == 0.5
	half, err := fpmath.GetExp(uint256.NewInt(1), uint256.NewInt(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if half.Mantissa.Uint64() != 5e17 {
		t.Errorf("got mantissa %d, want 5e17", half.Mantissa.Uint64())
	}
}

func TestGetExp_ZeroDenominator(t *testing.T) {
	_, err := fpmath.GetExp(uint256.NewInt(1), new(uint256.Int))
	if err != fpmath.ErrDivisionByZero {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

func TestMulExp_Rounds(t *testing.T) {
	// 0.5 * 0.5 == 0.25
	half := fpmath.NewExp(uint256.NewInt(5e17))
	got, err := fpmath.MulExp(half, half)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Mantissa.Uint64() != 25e16 {
		t.Errorf("got mantissa %d, want 25e16", got.Mantissa.Uint64())
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		mantissa uint64
		want     uint64
	}{
		{0, 0},
		{1e18, 1},
		{15e17, 1},
		{2e18 - 1, 1},
		{2e18, 2},
	}
	for _, c := range cases {
		got := fpmath.Truncate(fpmath.NewExp(uint256.NewInt(c.mantissa)))
		if got.Uint64() != c.want {
			t.Errorf("truncate(%d): got %d, want %d", c.mantissa, got.Uint64(), c.want)
		}
	}
}

func TestMulScalarTruncate(t *testing.T) {
	// 0.5 * 90 == 45
	half := fpmath.NewExp(uint256.NewInt(5e17))
	got, err := fpmath.MulScalarTruncate(half, uint256.NewInt(90))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 45 {
		t.Errorf("got %d, want 45", got.Uint64())
	}
}

func TestMulScalarTruncateAdd(t *testing.T) {
	// truncate(0.001 * 1000) + 7 == 8
	fee := fpmath.NewExp(uint256.NewInt(1e15))
	got, err := fpmath.MulScalarTruncateAdd(fee, uint256.NewInt(1000), uint256.NewInt(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 8 {
		t.Errorf("got %d, want 8", got.Uint64())
	}
}

func TestExpFromUint(t *testing.T) {
	two := fpmath.ExpFromUint(2)
	if two.Mantissa.Uint64() != 2e18 {
		t.Errorf("got %d, want 2e18", two.Mantissa.Uint64())
	}
}

func TestExpCmp(t *testing.T) {
	one := fpmath.OneExp()
	two := fpmath.ExpFromUint(2)
	if one.Cmp(two) >= 0 {
		t.Error("1.0 should compare less than 2.0")
	}
	if two.Cmp(one) <= 0 {
		t.Error("2.0 should compare greater than 1.0")
	}
	if one.Cmp(fpmath.OneExp()) != 0 {
		t.Error("1.0 should compare equal to 1.0")
	}
}
