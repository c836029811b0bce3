package core

import (
	"fmt"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/risk"
	"LendLedger/internal/state"
	"LendLedger/internal/token"

	"github.com/holiman/uint256"
)

// LiquidateBorrow lets the caller repay part of target's borrow in
// borrowedAsset and seize target's collateralAsset supply at a discount.
//
// The close amount is capped three ways: the target's accrued borrow balance,
// the borrow-denominated value of the target's collateral, and the amount
// that brings the target back to even. A suspended borrowed market lifts only
// the repay-to-even cap so underwater positions can still be closed out. The
// max sentinel closes the largest permitted amount; with no shortfall that is
// zero, which applies as a no-op.
func (e *LedgerEngine) LiquidateBorrow(op Op, target, borrowedAsset, collateralAsset string, amount Amount) error {
	return e.run(op, "liquidate_borrow", borrowedAsset, func() (event.Event, *Failure, error) {
		if e.paused {
			return nil, fail(KindContractPaused, "liquidate: pause check"), nil
		}
		borrowedMarket, ok := e.markets[borrowedAsset]
		if !ok {
			return nil, fail(KindMarketNotSupported, "liquidate: borrowed market check"), nil
		}
		collateralMarket, ok := e.markets[collateralAsset]
		if !ok {
			return nil, fail(KindMarketNotSupported, "liquidate: collateral market check"), nil
		}
		tok, ok := e.tokens.TokenFor(borrowedAsset)
		if !ok {
			return nil, fail(KindMarketNotSupported, "liquidate: token lookup"), nil
		}

		priceBorrowed := e.assetPrice(borrowedAsset)
		if priceBorrowed.IsZero() {
			return nil, fail(KindMissingAssetPrice, "liquidate: borrowed asset price check"), nil
		}
		priceCollateral := e.assetPrice(collateralAsset)
		if priceCollateral.IsZero() {
			return nil, fail(KindMissingAssetPrice, "liquidate: collateral asset price check"), nil
		}

		mBorrowed := borrowedMarket.Clone()
		if err := mBorrowed.Accrue(e.blockNumber); err != nil {
			return nil, failFrom(err, "liquidate: borrowed market accrual"), nil
		}
		// Self-collateralized positions share one market clone so both roles
		// see the same accrued indices.
		mCollateral := mBorrowed
		if collateralAsset != borrowedAsset {
			mCollateral = collateralMarket.Clone()
			if err := mCollateral.Accrue(e.blockNumber); err != nil {
				return nil, failFrom(err, "liquidate: collateral market accrual"), nil
			}
		}

		borrowBefore := e.accounts.Get(target, borrowedAsset, state.SideBorrow).Principal
		borrowAccrued, err := e.accounts.AccruedBalance(target, borrowedAsset, state.SideBorrow, fpmath.NewExp(mBorrowed.BorrowIndex))
		if err != nil {
			return nil, failFrom(err, "liquidate: borrow balance accrual"), nil
		}
		collateralBefore := e.accounts.Get(target, collateralAsset, state.SideSupply).Principal
		collateralAccrued, err := e.accounts.AccruedBalance(target, collateralAsset, state.SideSupply, fpmath.NewExp(mCollateral.SupplyIndex))
		if err != nil {
			return nil, failFrom(err, "liquidate: collateral balance accrual"), nil
		}
		liquidatorAccrued, err := e.accounts.AccruedBalance(op.Caller, collateralAsset, state.SideSupply, fpmath.NewExp(mCollateral.SupplyIndex))
		if err != nil {
			return nil, failFrom(err, "liquidate: liquidator balance accrual"), nil
		}

		liq, err := risk.CalculateAccountLiquidity(target, e.riskView())
		if err != nil {
			return nil, failFrom(err, "liquidate: shortfall calculation"), nil
		}

		oneMinusDiscount, err := fpmath.SubExp(fpmath.OneExp(), e.params.LiquidationDiscount)
		if err != nil {
			return nil, failFrom(err, "liquidate: discount factor calculation"), nil
		}

		// Cap 1: the borrow-denominated value of the target's discounted
		// collateral.
		collateralValue, err := fpmath.MulScalar(priceCollateral, collateralAccrued)
		if err != nil {
			return nil, failFrom(err, "liquidate: collateral value calculation"), nil
		}
		discountedCollateral, err := fpmath.MulExp(collateralValue, oneMinusDiscount)
		if err != nil {
			return nil, failFrom(err, "liquidate: discounted collateral calculation"), nil
		}
		borrowDenominatedCollateral, err := fpmath.DivExp(discountedCollateral, priceBorrowed)
		if err != nil {
			return nil, failFrom(err, "liquidate: borrow-denominated collateral calculation"), nil
		}
		collateralCap := fpmath.Truncate(borrowDenominatedCollateral)

		// Cap 2: the repay amount that restores the target to even. Only a
		// supported borrowed market enforces it.
		var repayToEvenCap *uint256.Int
		if mBorrowed.Supported {
			inverseDiscount, err := fpmath.DivExp(fpmath.OneExp(), oneMinusDiscount)
			if err != nil {
				return nil, failFrom(err, "liquidate: repay-to-even calculation"), nil
			}
			ratioMinusInverse, err := fpmath.SubExp(e.params.CollateralRatio, inverseDiscount)
			if err != nil {
				return nil, failFrom(err, "liquidate: repay-to-even calculation"), nil
			}
			denominator, err := fpmath.MulExp(priceBorrowed, ratioMinusInverse)
			if err != nil {
				return nil, failFrom(err, "liquidate: repay-to-even calculation"), nil
			}
			repayToEven, err := fpmath.DivExp(liq.Shortfall, denominator)
			if err != nil {
				return nil, failFrom(err, "liquidate: repay-to-even calculation"), nil
			}
			repayToEvenCap = fpmath.Truncate(repayToEven)
		}

		var closeAmount *uint256.Int
		if amount.Max {
			closeAmount = borrowAccrued.Clone()
			if collateralCap.Lt(closeAmount) {
				closeAmount = collateralCap.Clone()
			}
			if repayToEvenCap != nil && repayToEvenCap.Lt(closeAmount) {
				closeAmount = repayToEvenCap.Clone()
			}
		} else {
			closeAmount = amount.Value.Clone()
			if closeAmount.Gt(borrowAccrued) {
				return nil, fail(KindInvalidCloseAmountRequested, "liquidate: close vs borrow balance"), nil
			}
			if closeAmount.Gt(collateralCap) {
				return nil, fail(KindInvalidCloseAmountRequested, "liquidate: close vs collateral"), nil
			}
			if repayToEvenCap != nil && closeAmount.Gt(repayToEvenCap) {
				return nil, fail(KindInvalidCloseAmountRequested, "liquidate: close vs repay-to-even"), nil
			}
		}

		// Seize = close * priceBorrowed / (priceCollateral * (1 - discount)).
		closeValue, err := fpmath.MulScalar(priceBorrowed, closeAmount)
		if err != nil {
			return nil, failFrom(err, "liquidate: close value calculation"), nil
		}
		discountedCollateralPrice, err := fpmath.MulExp(priceCollateral, oneMinusDiscount)
		if err != nil {
			return nil, failFrom(err, "liquidate: seize price calculation"), nil
		}
		seizeExp, err := fpmath.DivExp(closeValue, discountedCollateralPrice)
		if err != nil {
			return nil, failFrom(err, "liquidate: seize calculation"), nil
		}
		seizeAmount := fpmath.Truncate(seizeExp)

		check, err := e.transfer.CheckTransferIn(tok, op.Caller, closeAmount)
		if err != nil {
			return nil, nil, fmt.Errorf("liquidate: token check aborted: %w", err)
		}
		switch check {
		case token.CheckInsufficientBalance:
			return nil, fail(KindTokenInsufficientBalance, "liquidate: transfer-in check"), nil
		case token.CheckInsufficientAllowance:
			return nil, fail(KindTokenInsufficientAllowance, "liquidate: transfer-in check"), nil
		}

		newBorrowBalance, err := fpmath.Sub(borrowAccrued, closeAmount)
		if err != nil {
			return nil, failFrom(err, "liquidate: new borrow balance calculation"), nil
		}
		newCollateralBalance, err := fpmath.Sub(collateralAccrued, seizeAmount)
		if err != nil {
			return nil, failFrom(err, "liquidate: new collateral balance calculation"), nil
		}
		newLiquidatorBalance, err := fpmath.Add(liquidatorAccrued, seizeAmount)
		if err != nil {
			return nil, failFrom(err, "liquidate: new liquidator balance calculation"), nil
		}

		newTotalBorrows, err := fpmath.AddThenSub(mBorrowed.TotalBorrows, newBorrowBalance, borrowAccrued)
		if err != nil {
			return nil, failFrom(err, "liquidate: new total borrows calculation"), nil
		}
		newCash, err := fpmath.Add(mBorrowed.Cash, closeAmount)
		if err != nil {
			return nil, failFrom(err, "liquidate: new total cash calculation"), nil
		}

		// The seized amount moves between two supply balances inside the
		// collateral market, so its total supply is untouched.
		mBorrowed.TotalBorrows = newTotalBorrows
		mBorrowed.Cash = newCash
		if err := mBorrowed.RefreshRates(); err != nil {
			return nil, failFrom(err, "liquidate: rate refresh"), nil
		}

		ok, err = e.transfer.TransferIn(tok, op.Caller, closeAmount)
		if err != nil {
			return nil, nil, fmt.Errorf("liquidate: transfer in aborted: %w", err)
		}
		if !ok {
			return nil, fail(KindTokenTransferFailed, "liquidate: transfer in"), nil
		}

		e.markets[borrowedAsset] = mBorrowed
		if collateralAsset != borrowedAsset {
			e.markets[collateralAsset] = mCollateral
		}
		e.accounts.SetBalance(target, borrowedAsset, state.SideBorrow, newBorrowBalance, fpmath.NewExp(mBorrowed.BorrowIndex))
		e.accounts.SetBalance(target, collateralAsset, state.SideSupply, newCollateralBalance, fpmath.NewExp(mCollateral.SupplyIndex))
		e.accounts.SetBalance(op.Caller, collateralAsset, state.SideSupply, newLiquidatorBalance, fpmath.NewExp(mCollateral.SupplyIndex))
		e.updateMarketMetrics(mBorrowed)
		if collateralAsset != borrowedAsset {
			e.updateMarketMetrics(mCollateral)
		}
		if e.metrics != nil {
			e.metrics.LiquidationsApplied.WithLabelValues(borrowedAsset, collateralAsset).Inc()
		}

		return &event.BorrowLiquidated{
			RequestID:                    op.RequestID,
			TargetAccount:                target,
			Liquidator:                   op.Caller,
			BorrowedAsset:                borrowedAsset,
			BorrowBalanceBefore:          borrowBefore.Dec(),
			BorrowBalanceAccumulated:     borrowAccrued.Dec(),
			AmountRepaid:                 closeAmount.Dec(),
			BorrowBalanceAfter:           newBorrowBalance.Dec(),
			CollateralAsset:              collateralAsset,
			CollateralBalanceBefore:      collateralBefore.Dec(),
			CollateralBalanceAccumulated: collateralAccrued.Dec(),
			AmountSeized:                 seizeAmount.Dec(),
			CollateralBalanceAfter:       newCollateralBalance.Dec(),
		}, nil, nil
	})
}
