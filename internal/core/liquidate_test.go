package core

import (
	"encoding/json"
	"testing"

	"LendLedger/internal/event"
	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

// liquidationEnv sets up the standard two-market scene: the target supplies
// collateral "col" at price 10 and borrows 10 "bor" at price 1 under a 2.0
// collateral ratio, and the liquidator holds borrowed-asset funds.
func liquidationEnv(t *testing.T) (*testEnv, *mockToken, *mockToken) {
	t.Helper()
	env := newTestEnv(t)
	env.setPrice("col", 10*fpmath.ExpScaleUint)
	env.setPrice("bor", fpmath.ExpScaleUint)
	colTok := env.addMarket("col")
	borTok := env.addMarket("bor")

	env.fund(colTok, "target", 10)
	env.fund(borTok, "whale", 100)
	env.fund(borTok, "liquidator", 50)

	env.mustRun(env.engine.Supply(env.op("whale"), "bor", uint256.NewInt(100)))
	env.mustRun(env.engine.Supply(env.op("target"), "col", uint256.NewInt(10)))
	env.mustRun(env.engine.Borrow(env.op("target"), "bor", uint256.NewInt(10)))
	return env, colTok, borTok
}

func underwater(env *testEnv) {
	// Collateral price collapses from 10 to 1: supplies worth 10 against
	// effective borrows of 20, a shortfall of 10.
	env.setPrice("col", fpmath.ExpScaleUint)
}

func TestLiquidatePartialClose(t *testing.T) {
	env, _, borTok := liquidationEnv(t)
	underwater(env)
	env.drain()

	env.mustRun(env.engine.LiquidateBorrow(env.op("liquidator"), "target", "bor", "col", ExactAmount(uint256.NewInt(6))))

	// With 1:1 prices and no discount the seize equals the repay.
	bal, err := env.engine.BorrowBalance("target", "bor")
	mustBalance(t, bal, err, 4)
	bal, err = env.engine.SupplyBalance("target", "col")
	mustBalance(t, bal, err, 4)
	bal, err = env.engine.SupplyBalance("liquidator", "col")
	mustBalance(t, bal, err, 6)

	borMarket := env.mustMarket("bor")
	if !borMarket.TotalBorrows.Eq(uint256.NewInt(4)) || !borMarket.Cash.Eq(uint256.NewInt(96)) {
		t.Fatalf("borrowed market borrows/cash = %s/%s, want 4/96", borMarket.TotalBorrows.Dec(), borMarket.Cash.Dec())
	}
	// Seized supply moved between accounts; the collateral total is untouched.
	colMarket := env.mustMarket("col")
	if !colMarket.TotalSupply.Eq(uint256.NewInt(10)) {
		t.Fatalf("collateral total supply = %s, want 10", colMarket.TotalSupply.Dec())
	}
	if !borTok.bal("liquidator").Eq(uint256.NewInt(44)) {
		t.Fatalf("liquidator token balance = %s, want 44", borTok.bal("liquidator").Dec())
	}

	var ev event.BorrowLiquidated
	if err := json.Unmarshal(env.lastEnvelope().Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.AmountRepaid != "6" || ev.AmountSeized != "6" {
		t.Fatalf("payload = %+v", ev)
	}
	if ev.BorrowBalanceAfter != "4" || ev.CollateralBalanceAfter != "4" {
		t.Fatalf("payload = %+v", ev)
	}
}

func TestLiquidateRejectsOverClose(t *testing.T) {
	env, _, _ := liquidationEnv(t)
	underwater(env)

	// Repay-to-even is shortfall/(price*(ratio-1)) = 10.
	err := env.engine.LiquidateBorrow(env.op("liquidator"), "target", "bor", "col", ExactAmount(uint256.NewInt(11)))
	assertFailure(t, err, KindInvalidCloseAmountRequested)

	bal, err2 := env.engine.BorrowBalance("target", "bor")
	mustBalance(t, bal, err2, 10)
}

func TestLiquidateMaxWithoutShortfallIsNoOp(t *testing.T) {
	env, _, _ := liquidationEnv(t)
	env.drain()

	env.mustRun(env.engine.LiquidateBorrow(env.op("liquidator"), "target", "bor", "col", MaxAmount()))

	bal, err := env.engine.BorrowBalance("target", "bor")
	mustBalance(t, bal, err, 10)
	bal, err = env.engine.SupplyBalance("target", "col")
	mustBalance(t, bal, err, 10)

	var ev event.BorrowLiquidated
	if err := json.Unmarshal(env.lastEnvelope().Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.AmountRepaid != "0" || ev.AmountSeized != "0" {
		t.Fatalf("payload = %+v", ev)
	}
}

func TestLiquidateExactWithoutShortfallRejected(t *testing.T) {
	env, _, _ := liquidationEnv(t)

	err := env.engine.LiquidateBorrow(env.op("liquidator"), "target", "bor", "col", ExactAmount(uint256.NewInt(1)))
	assertFailure(t, err, KindInvalidCloseAmountRequested)
}

func TestLiquidateUnsupportedMarketLiftsRepayToEvenCap(t *testing.T) {
	env, _, _ := liquidationEnv(t)
	// Price 1.5: supplies worth 15 against effective borrows 20, shortfall 5,
	// so repay-to-even caps the close at 5 while the full debt is 10.
	env.setPrice("col", fpmath.ExpScaleUint+fpmath.ExpScaleUint/2)

	env.mustRun(env.engine.SuspendMarket(env.op(adminAddr), "bor"))
	env.mustRun(env.engine.LiquidateBorrow(env.op("liquidator"), "target", "bor", "col", MaxAmount()))

	// The whole borrow unwinds, not just the repay-to-even slice.
	bal, err := env.engine.BorrowBalance("target", "bor")
	mustBalance(t, bal, err, 0)
}

func TestLiquidateSupportedMarketKeepsRepayToEvenCap(t *testing.T) {
	env, _, _ := liquidationEnv(t)
	env.setPrice("col", fpmath.ExpScaleUint+fpmath.ExpScaleUint/2)

	env.mustRun(env.engine.LiquidateBorrow(env.op("liquidator"), "target", "bor", "col", MaxAmount()))

	bal, err := env.engine.BorrowBalance("target", "bor")
	mustBalance(t, bal, err, 5)
}

func TestLiquidateMissingPrice(t *testing.T) {
	env, _, _ := liquidationEnv(t)
	underwater(env)
	delete(env.oracle.prices, "col")

	err := env.engine.LiquidateBorrow(env.op("liquidator"), "target", "bor", "col", ExactAmount(uint256.NewInt(1)))
	assertFailure(t, err, KindMissingAssetPrice)
}

func TestLiquidateWithDiscount(t *testing.T) {
	env := newTestEnv(t)
	ratio := fpmath.NewExp(uint256.NewInt(2 * fpmath.ExpScaleUint))
	discount := fpmath.NewExp(uint256.NewInt(fpmath.ExpScaleUint / 10))
	env.mustRun(env.engine.SetRiskParameters(env.op(adminAddr), ratio, discount))

	env.setPrice("col", fpmath.ExpScaleUint)
	env.setPrice("bor", fpmath.ExpScaleUint)
	colTok := env.addMarket("col")
	borTok := env.addMarket("bor")
	env.fund(colTok, "target", 20)
	env.fund(borTok, "whale", 100)
	env.fund(borTok, "liquidator", 50)

	env.mustRun(env.engine.Supply(env.op("whale"), "bor", uint256.NewInt(100)))
	env.mustRun(env.engine.Supply(env.op("target"), "col", uint256.NewInt(20)))
	env.mustRun(env.engine.Borrow(env.op("target"), "bor", uint256.NewInt(10)))

	// Collateral price drops to 0.8: supplies worth 16 against effective
	// borrows 20, shortfall 4. With a 10% discount, repay-to-even is
	// 4/(2 - 1/0.9) = 4.5 which truncates to 4, and the seize is
	// 4/(0.8*0.9) = 5.55 which truncates to 5.
	env.setPrice("col", 800_000_000_000_000_000)
	env.drain()

	env.mustRun(env.engine.LiquidateBorrow(env.op("liquidator"), "target", "bor", "col", MaxAmount()))

	var ev event.BorrowLiquidated
	if err := json.Unmarshal(env.lastEnvelope().Payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.AmountRepaid != "4" || ev.AmountSeized != "5" {
		t.Fatalf("payload = %+v, want repaid 4 seized 5", ev)
	}
	bal, err := env.engine.SupplyBalance("liquidator", "col")
	mustBalance(t, bal, err, 5)
	bal, err = env.engine.SupplyBalance("target", "col")
	mustBalance(t, bal, err, 15)
}

func TestLiquidateTokenCheckFailure(t *testing.T) {
	env, _, borTok := liquidationEnv(t)
	underwater(env)
	borTok.approve("liquidator", 2)

	err := env.engine.LiquidateBorrow(env.op("liquidator"), "target", "bor", "col", ExactAmount(uint256.NewInt(6)))
	assertFailure(t, err, KindTokenInsufficientAllowance)

	bal, err2 := env.engine.BorrowBalance("target", "bor")
	mustBalance(t, bal, err2, 10)
}

func TestLiquidateSameAssetBorrowAndCollateral(t *testing.T) {
	env := newTestEnv(t)
	tok := env.addMarket("omg")
	ethTok := env.addMarket("eth")
	env.fund(tok, "target", 10)
	env.fund(ethTok, "target", 30)
	env.fund(tok, "whale", 100)
	env.fund(tok, "liquidator", 50)

	env.mustRun(env.engine.Supply(env.op("whale"), "omg", uint256.NewInt(100)))
	env.mustRun(env.engine.Supply(env.op("target"), "omg", uint256.NewInt(10)))
	env.mustRun(env.engine.Supply(env.op("target"), "eth", uint256.NewInt(30)))
	env.mustRun(env.engine.Borrow(env.op("target"), "omg", uint256.NewInt(20)))

	// Drop the other collateral to zero value; omg self-collateral remains.
	env.setPrice("eth", 0)

	// Shortfall = 2*20 - 10 = 30; repay-to-even 30, collateral cap 10.
	env.mustRun(env.engine.LiquidateBorrow(env.op("liquidator"), "target", "omg", "omg", MaxAmount()))

	bal, err := env.engine.BorrowBalance("target", "omg")
	mustBalance(t, bal, err, 10)
	bal, err = env.engine.SupplyBalance("target", "omg")
	mustBalance(t, bal, err, 0)
	bal, err = env.engine.SupplyBalance("liquidator", "omg")
	mustBalance(t, bal, err, 10)
}
