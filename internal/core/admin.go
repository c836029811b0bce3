package core

import (
	"fmt"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/state"

	"github.com/holiman/uint256"
)

// SetOracle installs the price oracle. The name is carried in the event and
// the state digest; the oracle itself is a capability, not state.
func (e *LedgerEngine) SetOracle(op Op, name string, oracle state.PriceOracle) error {
	return e.run(op, "set_oracle", "", func() (event.Event, *Failure, error) {
		if op.Caller != e.admin {
			return nil, fail(KindUnauthorized, "set oracle: admin check"), nil
		}
		if oracle == nil {
			return nil, fail(KindZeroOracleAddress, "set oracle: oracle check"), nil
		}
		oldName := e.oracleName
		e.oracle = oracle
		e.oracleName = name
		return &event.NewOracle{RequestID: op.RequestID, OldOracle: oldName, NewOracle: name}, nil, nil
	})
}

// SetPendingAdmin nominates the next admin. The handover completes only when
// the nominee calls AcceptAdmin.
func (e *LedgerEngine) SetPendingAdmin(op Op, newPending string) error {
	return e.run(op, "set_pending_admin", "", func() (event.Event, *Failure, error) {
		if op.Caller != e.admin {
			return nil, fail(KindUnauthorized, "set pending admin: admin check"), nil
		}
		oldPending := e.pendingAdmin
		e.pendingAdmin = newPending
		return &event.NewPendingAdmin{RequestID: op.RequestID, OldPending: oldPending, NewPending: newPending}, nil, nil
	})
}

// AcceptAdmin completes the two-step admin handover.
func (e *LedgerEngine) AcceptAdmin(op Op) error {
	return e.run(op, "accept_admin", "", func() (event.Event, *Failure, error) {
		if op.Caller != e.pendingAdmin {
			return nil, fail(KindUnauthorized, "accept admin: pending admin check"), nil
		}
		oldAdmin := e.admin
		e.admin = e.pendingAdmin
		e.pendingAdmin = ""
		return &event.NewAdmin{RequestID: op.RequestID, OldAdmin: oldAdmin, NewAdmin: e.admin}, nil, nil
	})
}

// SupportMarket lists asset for supplying and borrowing, creating the market
// on first support. The asset must carry a rate model and a non-zero price
// before it can be listed. Re-supporting a suspended market keeps its
// balances and indices.
func (e *LedgerEngine) SupportMarket(op Op, asset string, model state.InterestRateModel) error {
	return e.run(op, "support_market", asset, func() (event.Event, *Failure, error) {
		if op.Caller != e.admin {
			return nil, fail(KindUnauthorized, "support market: admin check"), nil
		}
		if model == nil {
			return nil, fail(KindMarketNotSupported, "support market: rate model check"), nil
		}
		if e.assetPrice(asset).IsZero() {
			return nil, fail(KindMissingAssetPrice, "support market: price check"), nil
		}

		market, ok := e.markets[asset]
		if !ok {
			e.markets[asset] = state.NewMarket(asset, model, e.blockNumber)
			e.collateralAssets = append(e.collateralAssets, asset)
		} else {
			m := market.Clone()
			m.Supported = true
			m.RateModel = model
			e.markets[asset] = m
		}
		return &event.SupportedMarket{RequestID: op.RequestID, Market: asset}, nil, nil
	})
}

// SuspendMarket delists asset. Supplies, repays, withdrawals and liquidations
// continue; new supplies and borrows stop.
func (e *LedgerEngine) SuspendMarket(op Op, asset string) error {
	return e.run(op, "suspend_market", asset, func() (event.Event, *Failure, error) {
		if op.Caller != e.admin {
			return nil, fail(KindUnauthorized, "suspend market: admin check"), nil
		}
		market, ok := e.markets[asset]
		if !ok {
			return nil, fail(KindMarketNotSupported, "suspend market: market check"), nil
		}
		m := market.Clone()
		m.Supported = false
		e.markets[asset] = m
		return &event.SuspendedMarket{RequestID: op.RequestID, Market: asset}, nil, nil
	})
}

// SetMarketInterestRateModel swaps the rate model for an existing market. The
// new model takes effect from the next accrual.
func (e *LedgerEngine) SetMarketInterestRateModel(op Op, asset string, model state.InterestRateModel) error {
	return e.run(op, "set_rate_model", asset, func() (event.Event, *Failure, error) {
		if op.Caller != e.admin {
			return nil, fail(KindUnauthorized, "set rate model: admin check"), nil
		}
		if model == nil {
			return nil, fail(KindMarketNotSupported, "set rate model: model check"), nil
		}
		market, ok := e.markets[asset]
		if !ok {
			return nil, fail(KindMarketNotSupported, "set rate model: market check"), nil
		}
		m := market.Clone()
		m.RateModel = model
		e.markets[asset] = m
		return &event.NewMarketInterestRateModel{RequestID: op.RequestID, Market: asset}, nil, nil
	})
}

// SetRiskParameters updates the collateral ratio and liquidation discount
// together, validating the pair against the protocol bounds.
func (e *LedgerEngine) SetRiskParameters(op Op, collateralRatio, liquidationDiscount fpmath.Exp) error {
	return e.run(op, "set_risk_parameters", "", func() (event.Event, *Failure, error) {
		if op.Caller != e.admin {
			return nil, fail(KindUnauthorized, "set risk parameters: admin check"), nil
		}
		if err := state.ValidateRiskParams(collateralRatio, liquidationDiscount); err != nil {
			return nil, failFrom(err, "set risk parameters: validation"), nil
		}
		oldRatio := e.params.CollateralRatio
		oldDiscount := e.params.LiquidationDiscount
		e.params.CollateralRatio = collateralRatio.Clone()
		e.params.LiquidationDiscount = liquidationDiscount.Clone()
		return &event.NewRiskParameters{
			RequestID:   op.RequestID,
			OldRatio:    oldRatio.Mantissa.Dec(),
			NewRatio:    collateralRatio.Mantissa.Dec(),
			OldDiscount: oldDiscount.Mantissa.Dec(),
			NewDiscount: liquidationDiscount.Mantissa.Dec(),
		}, nil, nil
	})
}

// SetOriginationFee updates the borrow origination fee. The fee is unbounded.
func (e *LedgerEngine) SetOriginationFee(op Op, fee fpmath.Exp) error {
	return e.run(op, "set_origination_fee", "", func() (event.Event, *Failure, error) {
		if op.Caller != e.admin {
			return nil, fail(KindUnauthorized, "set origination fee: admin check"), nil
		}
		oldFee := e.params.OriginationFee
		e.params.OriginationFee = fee.Clone()
		return &event.NewOriginationFee{
			RequestID: op.RequestID,
			OldFee:    oldFee.Mantissa.Dec(),
			NewFee:    fee.Mantissa.Dec(),
		}, nil, nil
	})
}

// SetPaused flips the global pause gate over the market operations. Admin
// operations stay available while paused.
func (e *LedgerEngine) SetPaused(op Op, paused bool) error {
	return e.run(op, "set_paused", "", func() (event.Event, *Failure, error) {
		if op.Caller != e.admin {
			return nil, fail(KindUnauthorized, "set paused: admin check"), nil
		}
		e.paused = paused
		return &event.PausedSet{RequestID: op.RequestID, Paused: paused}, nil, nil
	})
}

// WithdrawEquity pays accumulated protocol equity for asset out to the admin.
// Equity is cash + totalBorrows - totalSupply at the stored aggregates; no
// accrual runs first, so interest accrued since the last market touch stays
// in the pool.
func (e *LedgerEngine) WithdrawEquity(op Op, asset string, amount *uint256.Int) error {
	return e.run(op, "withdraw_equity", asset, func() (event.Event, *Failure, error) {
		if op.Caller != e.admin {
			return nil, fail(KindUnauthorized, "withdraw equity: admin check"), nil
		}
		market, ok := e.markets[asset]
		if !ok {
			return nil, fail(KindMarketNotSupported, "withdraw equity: market check"), nil
		}
		tok, ok := e.tokens.TokenFor(asset)
		if !ok {
			return nil, fail(KindMarketNotSupported, "withdraw equity: token lookup"), nil
		}

		equity, err := fpmath.AddThenSub(market.Cash, market.TotalBorrows, market.TotalSupply)
		if err != nil {
			return nil, failFrom(err, "withdraw equity: equity calculation"), nil
		}
		if amount.Gt(equity) {
			return nil, fail(KindEquityInsufficientBalance, "withdraw equity: equity check"), nil
		}

		m := market.Clone()
		newCash, err := fpmath.Sub(m.Cash, amount)
		if err != nil {
			return nil, failFrom(err, "withdraw equity: new total cash calculation"), nil
		}
		m.Cash = newCash
		if err := m.RefreshRates(); err != nil {
			return nil, failFrom(err, "withdraw equity: rate refresh"), nil
		}

		ok, err = e.transfer.TransferOut(tok, op.Caller, amount)
		if err != nil {
			return nil, nil, fmt.Errorf("withdraw equity: transfer out aborted: %w", err)
		}
		if !ok {
			return nil, fail(KindTokenTransferOutFailed, "withdraw equity: transfer out"), nil
		}

		e.markets[asset] = m
		e.updateMarketMetrics(m)

		return &event.EquityWithdrawn{
			RequestID:             op.RequestID,
			Market:                asset,
			EquityAvailableBefore: equity.Dec(),
			Amount:                amount.Dec(),
			Recipient:             op.Caller,
		}, nil, nil
	})
}
