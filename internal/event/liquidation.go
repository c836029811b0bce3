// internal/event/liquidation.go
package event

import "github.com/google/uuid"

// BorrowLiquidated records a third-party liquidation: the liquidator repaid
// part of the target's borrow and seized discounted collateral. The before /
// accumulated / after triple is reported for both touched balances.
type BorrowLiquidated struct {
	RequestID uuid.UUID `json:"request_id"`

	TargetAccount string `json:"target_account"`
	Liquidator    string `json:"liquidator"`

	BorrowedAsset            string `json:"borrowed_asset"`
	BorrowBalanceBefore      string `json:"borrow_balance_before"`
	BorrowBalanceAccumulated string `json:"borrow_balance_accumulated"`
	AmountRepaid             string `json:"amount_repaid"`
	BorrowBalanceAfter       string `json:"borrow_balance_after"`

	CollateralAsset              string `json:"collateral_asset"`
	CollateralBalanceBefore      string `json:"collateral_balance_before"`
	CollateralBalanceAccumulated string `json:"collateral_balance_accumulated"`
	AmountSeized                 string `json:"amount_seized"`
	CollateralBalanceAfter       string `json:"collateral_balance_after"`
}

func (e *BorrowLiquidated) IdempotencyKey() string {
	return e.RequestID.String()
}

func (e *BorrowLiquidated) EventType() EventType {
	return EventTypeBorrowLiquidated
}

func (e *BorrowLiquidated) Asset() *string {
	return &e.BorrowedAsset
}
