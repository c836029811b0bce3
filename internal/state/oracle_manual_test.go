package state

import (
	"testing"

	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

func TestManualPriceOraclePostAndRead(t *testing.T) {
	oracle := NewManualPriceOracle()

	if !oracle.GetAssetPrice("dai").IsZero() {
		t.Error("unposted asset must read as zero")
	}

	oracle.SetPrice("dai", fpmath.NewExp(uint256.NewInt(2_000_000_000_000_000_000)))
	price := oracle.GetAssetPrice("dai")
	if price.Mantissa.Uint64() != 2_000_000_000_000_000_000 {
		t.Errorf("got %s, want 2e18", price.Mantissa.Dec())
	}

	// A later post replaces the earlier one.
	oracle.SetPrice("dai", fpmath.NewExp(uint256.NewInt(1_500_000_000_000_000_000)))
	price = oracle.GetAssetPrice("dai")
	if price.Mantissa.Uint64() != 1_500_000_000_000_000_000 {
		t.Errorf("got %s, want 1.5e18", price.Mantissa.Dec())
	}
}
