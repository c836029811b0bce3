package state

import (
	"testing"

	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

func exp(mantissa uint64) fpmath.Exp {
	return fpmath.NewExp(uint256.NewInt(mantissa))
}

func TestValidateRiskParams(t *testing.T) {
	cases := []struct {
		name     string
		ratio    fpmath.Exp
		discount fpmath.Exp
		want     error
	}{
		{"defaults", exp(2e18), exp(0), nil},
		{"minimum ratio", exp(11e17), exp(0), nil},
		{"maximum discount", exp(2e18), exp(1e17), nil},
		{"ratio below minimum", exp(1e18), exp(0), ErrInvalidCollateralRatio},
		{"discount above maximum", exp(23e17), exp(11e16), ErrInvalidLiquidationDiscount},
		{"discount plus one reaches ratio", exp(11e17), exp(1e17), ErrInvalidCombinedRiskParams},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ValidateRiskParams(c.ratio, c.discount); got != c.want {
				t.Errorf("got %v, want %v", got, c.want)
			}
		})
	}
}
