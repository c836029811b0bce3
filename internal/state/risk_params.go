package state

import (
	"errors"

	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

// RiskParams are the process-wide lending parameters, all 18-decimal
// mantissas. The collateral ratio scales borrows in the liquidity check, the
// liquidation discount prices seized collateral, and the origination fee is
// added to every new borrow and retained as protocol equity.
type RiskParams struct {
	CollateralRatio     fpmath.Exp
	LiquidationDiscount fpmath.Exp
	OriginationFee      fpmath.Exp
}

var (
	// MinimumCollateralRatio is 1.1; below that borrows would be nearly
	// unsecured.
	MinimumCollateralRatio = fpmath.NewExp(uint256.NewInt(11e17))

	// MaximumLiquidationDiscount is 0.1.
	MaximumLiquidationDiscount = fpmath.NewExp(uint256.NewInt(1e17))
)

var (
	ErrInvalidCollateralRatio     = errors.New("collateral ratio below minimum")
	ErrInvalidLiquidationDiscount = errors.New("liquidation discount above maximum")
	ErrInvalidCombinedRiskParams  = errors.New("liquidation discount + 1.0 must be below collateral ratio")
)

// DefaultRiskParams matches the original protocol's launch configuration:
// collateral ratio 2.0, no liquidation discount, no origination fee.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		CollateralRatio:     fpmath.ExpFromUint(2),
		LiquidationDiscount: fpmath.ZeroExp(),
		OriginationFee:      fpmath.ZeroExp(),
	}
}

// Clone deep-copies the params.
func (p RiskParams) Clone() RiskParams {
	return RiskParams{
		CollateralRatio:     p.CollateralRatio.Clone(),
		LiquidationDiscount: p.LiquidationDiscount.Clone(),
		OriginationFee:      p.OriginationFee.Clone(),
	}
}

// ValidateRiskParams checks a candidate ratio/discount pair. Each bound has
// its own error so callers can report the precise violation; the combined
// check guarantees the repay-to-even denominator ratio - 1/(1-discount)
// stays positive for in-range discounts.
func ValidateRiskParams(ratio, discount fpmath.Exp) error {
	if ratio.Cmp(MinimumCollateralRatio) < 0 {
		return ErrInvalidCollateralRatio
	}
	if discount.Cmp(MaximumLiquidationDiscount) > 0 {
		return ErrInvalidLiquidationDiscount
	}
	discountPlusOne, err := fpmath.AddExp(discount, fpmath.OneExp())
	if err != nil {
		return err
	}
	if discountPlusOne.Cmp(ratio) >= 0 {
		return ErrInvalidCombinedRiskParams
	}
	return nil
}
