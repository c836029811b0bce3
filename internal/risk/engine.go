// Package risk computes account liquidity against oracle prices and the
// collateral ratio. The calculation is pure: it reads projected market
// indices without mutating ledger state.
package risk

import (
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/state"
)

// View is the slice of ledger state the liquidity calculation reads.
// CollateralAssets is the append-only list of every asset ever supported, in
// first-support order.
type View struct {
	Markets          map[string]*state.Market
	CollateralAssets []string
	Accounts         *state.AccountStore
	Oracle           state.PriceOracle
	CollateralRatio  fpmath.Exp
	CurrentBlock     uint64
}

// Liquidity is the outcome of an account liquidity calculation. Exactly one
// of Liquidity and Shortfall is non-zero (both zero for an exactly-even
// account).
type Liquidity struct {
	Liquidity fpmath.Exp
	Shortfall fpmath.Exp
}

// HasShortfall reports whether the account is undercollateralized.
func (l Liquidity) HasShortfall() bool {
	return !l.Shortfall.IsZero()
}

// CalculateAccountLiquidity sums the account's oracle-priced supply and
// borrow balances across every collateral market, scales the borrow side by
// the collateral ratio, and returns the surplus or shortfall. Balances are
// projected to CurrentBlock through each market's accrual without committing
// the accrual. A zero-priced asset contributes zero value rather than
// failing the calculation.
func CalculateAccountLiquidity(account string, v View) (Liquidity, error) {
	sumSupplies := fpmath.ZeroExp()
	sumBorrows := fpmath.ZeroExp()

	for _, asset := range v.CollateralAssets {
		market, ok := v.Markets[asset]
		if !ok {
			continue
		}
		price := v.Oracle.GetAssetPrice(asset)
		if price.IsZero() {
			continue
		}

		projected := market.Clone()
		if err := projected.Accrue(v.CurrentBlock); err != nil {
			return Liquidity{}, err
		}

		supplyBalance, err := v.Accounts.AccruedBalance(account, asset, state.SideSupply, fpmath.NewExp(projected.SupplyIndex))
		if err != nil {
			return Liquidity{}, err
		}
		if !supplyBalance.IsZero() {
			value, err := fpmath.MulScalar(price, supplyBalance)
			if err != nil {
				return Liquidity{}, err
			}
			sumSupplies, err = fpmath.AddExp(sumSupplies, value)
			if err != nil {
				return Liquidity{}, err
			}
		}

		borrowBalance, err := v.Accounts.AccruedBalance(account, asset, state.SideBorrow, fpmath.NewExp(projected.BorrowIndex))
		if err != nil {
			return Liquidity{}, err
		}
		if !borrowBalance.IsZero() {
			value, err := fpmath.MulScalar(price, borrowBalance)
			if err != nil {
				return Liquidity{}, err
			}
			sumBorrows, err = fpmath.AddExp(sumBorrows, value)
			if err != nil {
				return Liquidity{}, err
			}
		}
	}

	effectiveBorrows, err := fpmath.MulExp(sumBorrows, v.CollateralRatio)
	if err != nil {
		return Liquidity{}, err
	}

	if sumSupplies.Cmp(effectiveBorrows) >= 0 {
		surplus, err := fpmath.SubExp(sumSupplies, effectiveBorrows)
		if err != nil {
			return Liquidity{}, err
		}
		return Liquidity{Liquidity: surplus, Shortfall: fpmath.ZeroExp()}, nil
	}
	deficit, err := fpmath.SubExp(effectiveBorrows, sumSupplies)
	if err != nil {
		return Liquidity{}, err
	}
	return Liquidity{Liquidity: fpmath.ZeroExp(), Shortfall: deficit}, nil
}

// GetAccountLiquidity collapses the pair into a single signed value:
// liquidity - shortfall, with negative=true when the account is short.
func GetAccountLiquidity(account string, v View) (value fpmath.Exp, negative bool, err error) {
	l, err := CalculateAccountLiquidity(account, v)
	if err != nil {
		return fpmath.Exp{}, false, err
	}
	if l.HasShortfall() {
		return l.Shortfall, true, nil
	}
	return l.Liquidity, false, nil
}
