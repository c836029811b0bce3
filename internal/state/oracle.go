package state

import (
	"fmt"

	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

// PriceOracle prices assets in the common collateral unit. A zero price means
// the asset is unpriced; callers decide whether that is fatal.
type PriceOracle interface {
	GetAssetPrice(asset string) fpmath.Exp
}

// InterestRateModel supplies per-block rates for a market given its current
// cash and outstanding borrows. Rates are 18-decimal mantissas.
type InterestRateModel interface {
	GetSupplyRate(asset string, cash, borrows *uint256.Int) (*uint256.Int, error)
	GetBorrowRate(asset string, cash, borrows *uint256.Int) (*uint256.Int, error)
}

// ModelError is a rate-model failure with the model's own detail code. The
// core reports it opaquely rather than folding it into the ledger taxonomy.
type ModelError struct {
	Detail uint64
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("interest rate model failure (detail=%d)", e.Detail)
}
