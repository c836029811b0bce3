package state

import (
	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

// Market holds the per-asset aggregates. TotalSupply, TotalBorrows and Cash
// are raw token units; the rates and indices are 18-decimal mantissas.
type Market struct {
	Asset       string
	Supported   bool
	BlockNumber uint64
	RateModel   InterestRateModel

	Cash         *uint256.Int
	TotalSupply  *uint256.Int
	TotalBorrows *uint256.Int

	SupplyRateMantissa *uint256.Int
	BorrowRateMantissa *uint256.Int
	SupplyIndex        *uint256.Int
	BorrowIndex        *uint256.Int
}

// NewMarket returns a market with both indices at 1.0 and all aggregates zero.
func NewMarket(asset string, model InterestRateModel, blockNumber uint64) *Market {
	return &Market{
		Asset:              asset,
		Supported:          true,
		BlockNumber:        blockNumber,
		RateModel:          model,
		Cash:               new(uint256.Int),
		TotalSupply:        new(uint256.Int),
		TotalBorrows:       new(uint256.Int),
		SupplyRateMantissa: new(uint256.Int),
		BorrowRateMantissa: new(uint256.Int),
		SupplyIndex:        uint256.NewInt(fpmath.ExpScaleUint),
		BorrowIndex:        uint256.NewInt(fpmath.ExpScaleUint),
	}
}

// Clone deep-copies the market. The rate model reference is shared.
func (m *Market) Clone() *Market {
	return &Market{
		Asset:              m.Asset,
		Supported:          m.Supported,
		BlockNumber:        m.BlockNumber,
		RateModel:          m.RateModel,
		Cash:               m.Cash.Clone(),
		TotalSupply:        m.TotalSupply.Clone(),
		TotalBorrows:       m.TotalBorrows.Clone(),
		SupplyRateMantissa: m.SupplyRateMantissa.Clone(),
		BorrowRateMantissa: m.BorrowRateMantissa.Clone(),
		SupplyIndex:        m.SupplyIndex.Clone(),
		BorrowIndex:        m.BorrowIndex.Clone(),
	}
}

// compoundIndex computes index * (1 + rate*blockDelta).
func compoundIndex(index, rate *uint256.Int, blockDelta uint64) (fpmath.Exp, error) {
	rateTimesDelta, err := fpmath.MulScalar(fpmath.NewExp(rate), uint256.NewInt(blockDelta))
	if err != nil {
		return fpmath.Exp{}, err
	}
	factor, err := fpmath.AddExp(fpmath.OneExp(), rateTimesDelta)
	if err != nil {
		return fpmath.Exp{}, err
	}
	return fpmath.MulExp(fpmath.NewExp(index), factor)
}

// Accrue compounds both indices up to currentBlock, growing the aggregate
// totals by the same factors so the aggregates always equal the sum of the
// accrued account balances (up to truncation). Rates are re-read from the
// model; a model failure surfaces as *ModelError with no mutation. The whole
// update is computed first and committed only if every step succeeds.
func (m *Market) Accrue(currentBlock uint64) error {
	if currentBlock < m.BlockNumber {
		return fpmath.ErrUnderflow
	}
	blockDelta := currentBlock - m.BlockNumber

	supplyRate, err := m.RateModel.GetSupplyRate(m.Asset, m.Cash, m.TotalBorrows)
	if err != nil {
		return err
	}
	borrowRate, err := m.RateModel.GetBorrowRate(m.Asset, m.Cash, m.TotalBorrows)
	if err != nil {
		return err
	}

	newSupplyIndex, err := compoundIndex(m.SupplyIndex, supplyRate, blockDelta)
	if err != nil {
		return err
	}
	newBorrowIndex, err := compoundIndex(m.BorrowIndex, borrowRate, blockDelta)
	if err != nil {
		return err
	}

	supplyFactor, err := fpmath.GetExp(newSupplyIndex.Mantissa, m.SupplyIndex)
	if err != nil {
		return err
	}
	borrowFactor, err := fpmath.GetExp(newBorrowIndex.Mantissa, m.BorrowIndex)
	if err != nil {
		return err
	}
	newTotalSupply, err := fpmath.MulScalarTruncate(supplyFactor, m.TotalSupply)
	if err != nil {
		return err
	}
	newTotalBorrows, err := fpmath.MulScalarTruncate(borrowFactor, m.TotalBorrows)
	if err != nil {
		return err
	}

	m.BlockNumber = currentBlock
	m.SupplyRateMantissa = supplyRate
	m.BorrowRateMantissa = borrowRate
	m.SupplyIndex = newSupplyIndex.Mantissa
	m.BorrowIndex = newBorrowIndex.Mantissa
	m.TotalSupply = newTotalSupply
	m.TotalBorrows = newTotalBorrows
	return nil
}

// RefreshRates re-reads the rates from the model against the market's current
// cash and borrows without touching the indices. Operations call this after
// mutating aggregates so the next accrual period compounds at the new rates.
func (m *Market) RefreshRates() error {
	supplyRate, err := m.RateModel.GetSupplyRate(m.Asset, m.Cash, m.TotalBorrows)
	if err != nil {
		return err
	}
	borrowRate, err := m.RateModel.GetBorrowRate(m.Asset, m.Cash, m.TotalBorrows)
	if err != nil {
		return err
	}
	m.SupplyRateMantissa = supplyRate
	m.BorrowRateMantissa = borrowRate
	return nil
}
