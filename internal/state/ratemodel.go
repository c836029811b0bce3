package state

import (
	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

// LinearRateModel derives per-block rates from pool utilization:
//
//	utilization = borrows / (cash + borrows)
//	borrowRate  = base + utilization * slope
//	supplyRate  = utilization * borrowRate
//
// Rates are 18-decimal per-block mantissas. An empty pool has zero
// utilization, so the borrow rate floors at base and the supply rate at
// zero. Suppliers as a group earn at most what borrowers pay, so the model
// never drives market equity negative.
type LinearRateModel struct {
	Base  fpmath.Exp
	Slope fpmath.Exp
}

func NewLinearRateModel(base, slope fpmath.Exp) *LinearRateModel {
	return &LinearRateModel{Base: base.Clone(), Slope: slope.Clone()}
}

func (m *LinearRateModel) utilization(cash, borrows *uint256.Int) (fpmath.Exp, error) {
	if borrows.IsZero() {
		return fpmath.ZeroExp(), nil
	}
	pool, err := fpmath.Add(cash, borrows)
	if err != nil {
		return fpmath.Exp{}, err
	}
	return fpmath.GetExp(borrows, pool)
}

func (m *LinearRateModel) borrowRate(cash, borrows *uint256.Int) (fpmath.Exp, fpmath.Exp, error) {
	util, err := m.utilization(cash, borrows)
	if err != nil {
		return fpmath.Exp{}, fpmath.Exp{}, err
	}
	scaled, err := fpmath.MulExp(util, m.Slope)
	if err != nil {
		return fpmath.Exp{}, fpmath.Exp{}, err
	}
	rate, err := fpmath.AddExp(m.Base, scaled)
	if err != nil {
		return fpmath.Exp{}, fpmath.Exp{}, err
	}
	return rate, util, nil
}

func (m *LinearRateModel) GetBorrowRate(asset string, cash, borrows *uint256.Int) (*uint256.Int, error) {
	rate, _, err := m.borrowRate(cash, borrows)
	if err != nil {
		return nil, err
	}
	return rate.Mantissa, nil
}

func (m *LinearRateModel) GetSupplyRate(asset string, cash, borrows *uint256.Int) (*uint256.Int, error) {
	rate, util, err := m.borrowRate(cash, borrows)
	if err != nil {
		return nil, err
	}
	supply, err := fpmath.MulExp(util, rate)
	if err != nil {
		return nil, err
	}
	return supply.Mantissa, nil
}
