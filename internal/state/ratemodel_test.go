package state

import (
	"testing"

	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

func TestLinearRateModelEmptyPool(t *testing.T) {
	base := fpmath.NewExp(uint256.NewInt(1_000_000_000)) // 1e9 per block
	slope := fpmath.NewExp(uint256.NewInt(5_000_000_000))
	model := NewLinearRateModel(base, slope)

	borrow, err := model.GetBorrowRate("omg", new(uint256.Int), new(uint256.Int))
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if !borrow.Eq(uint256.NewInt(1_000_000_000)) {
		t.Fatalf("borrow rate = %s, want base", borrow.Dec())
	}

	supply, err := model.GetSupplyRate("omg", new(uint256.Int), new(uint256.Int))
	if err != nil {
		t.Fatalf("supply rate: %v", err)
	}
	if !supply.IsZero() {
		t.Fatalf("supply rate = %s, want 0", supply.Dec())
	}
}

func TestLinearRateModelHalfUtilization(t *testing.T) {
	base := fpmath.NewExp(uint256.NewInt(2_000_000_000))
	slope := fpmath.NewExp(uint256.NewInt(8_000_000_000))
	model := NewLinearRateModel(base, slope)

	cash := uint256.NewInt(500)
	borrows := uint256.NewInt(500)

	// utilization 0.5: borrow = 2e9 + 0.5*8e9 = 6e9, supply = 0.5*6e9 = 3e9.
	borrow, err := model.GetBorrowRate("omg", cash, borrows)
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if !borrow.Eq(uint256.NewInt(6_000_000_000)) {
		t.Fatalf("borrow rate = %s, want 6e9", borrow.Dec())
	}

	supply, err := model.GetSupplyRate("omg", cash, borrows)
	if err != nil {
		t.Fatalf("supply rate: %v", err)
	}
	if !supply.Eq(uint256.NewInt(3_000_000_000)) {
		t.Fatalf("supply rate = %s, want 3e9", supply.Dec())
	}
}

func TestLinearRateModelSupplyBelowBorrow(t *testing.T) {
	base := fpmath.NewExp(uint256.NewInt(1_000_000_000))
	slope := fpmath.NewExp(uint256.NewInt(9_000_000_000))
	model := NewLinearRateModel(base, slope)

	cash := uint256.NewInt(900)
	borrows := uint256.NewInt(100)

	borrow, err := model.GetBorrowRate("omg", cash, borrows)
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	supply, err := model.GetSupplyRate("omg", cash, borrows)
	if err != nil {
		t.Fatalf("supply rate: %v", err)
	}
	if !supply.Lt(borrow) {
		t.Fatalf("supply rate %s not below borrow rate %s", supply.Dec(), borrow.Dec())
	}
}
