package core

import (
	"errors"
	"fmt"

	fpmath "LendLedger/internal/math"
	"LendLedger/internal/state"
)

// ErrorKind tags every soft operation failure.
type ErrorKind int

const (
	KindNoError ErrorKind = iota
	KindUnauthorized
	KindContractPaused
	KindMarketNotSupported
	KindZeroOracleAddress
	KindMissingAssetPrice
	KindIntegerOverflow
	KindIntegerUnderflow
	KindDivisionByZero
	KindInsufficientBalance
	KindInsufficientLiquidity
	KindTokenInsufficientCash
	KindTokenInsufficientAllowance
	KindTokenInsufficientBalance
	KindTokenTransferFailed
	KindTokenTransferOutFailed
	KindInvalidCollateralRatio
	KindInvalidLiquidationDiscount
	KindInvalidCombinedRiskParameters
	KindInvalidCloseAmountRequested
	KindEquityInsufficientBalance
	KindOpaqueError
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoError:
		return "NO_ERROR"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindContractPaused:
		return "CONTRACT_PAUSED"
	case KindMarketNotSupported:
		return "MARKET_NOT_SUPPORTED"
	case KindZeroOracleAddress:
		return "ZERO_ORACLE_ADDRESS"
	case KindMissingAssetPrice:
		return "MISSING_ASSET_PRICE"
	case KindIntegerOverflow:
		return "INTEGER_OVERFLOW"
	case KindIntegerUnderflow:
		return "INTEGER_UNDERFLOW"
	case KindDivisionByZero:
		return "DIVISION_BY_ZERO"
	case KindInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	case KindInsufficientLiquidity:
		return "INSUFFICIENT_LIQUIDITY"
	case KindTokenInsufficientCash:
		return "TOKEN_INSUFFICIENT_CASH"
	case KindTokenInsufficientAllowance:
		return "TOKEN_INSUFFICIENT_ALLOWANCE"
	case KindTokenInsufficientBalance:
		return "TOKEN_INSUFFICIENT_BALANCE"
	case KindTokenTransferFailed:
		return "TOKEN_TRANSFER_FAILED"
	case KindTokenTransferOutFailed:
		return "TOKEN_TRANSFER_OUT_FAILED"
	case KindInvalidCollateralRatio:
		return "INVALID_COLLATERAL_RATIO"
	case KindInvalidLiquidationDiscount:
		return "INVALID_LIQUIDATION_DISCOUNT"
	case KindInvalidCombinedRiskParameters:
		return "INVALID_COMBINED_RISK_PARAMETERS"
	case KindInvalidCloseAmountRequested:
		return "INVALID_CLOSE_AMOUNT_REQUESTED"
	case KindEquityInsufficientBalance:
		return "EQUITY_INSUFFICIENT_BALANCE"
	case KindOpaqueError:
		return "OPAQUE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Failure is a soft operation failure: the operation committed nothing and
// reports the taxonomy kind plus the sub-step that failed. Detail carries the
// rate model's own code when Kind is OPAQUE_ERROR.
type Failure struct {
	Kind   ErrorKind
	Stage  string
	Detail uint64
}

func (f *Failure) Error() string {
	if f.Kind == KindOpaqueError {
		return fmt.Sprintf("%s (detail=%d) at %q", f.Kind, f.Detail, f.Stage)
	}
	return fmt.Sprintf("%s at %q", f.Kind, f.Stage)
}

func fail(kind ErrorKind, stage string) *Failure {
	return &Failure{Kind: kind, Stage: stage}
}

// failFrom maps arithmetic, rate-model and risk-parameter errors onto the
// taxonomy. Errors that already are a *Failure pass through with their
// original stage.
func failFrom(err error, stage string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var me *state.ModelError
	if errors.As(err, &me) {
		return &Failure{Kind: KindOpaqueError, Stage: stage, Detail: me.Detail}
	}
	switch {
	case errors.Is(err, fpmath.ErrOverflow):
		return fail(KindIntegerOverflow, stage)
	case errors.Is(err, fpmath.ErrUnderflow):
		return fail(KindIntegerUnderflow, stage)
	case errors.Is(err, fpmath.ErrDivisionByZero):
		return fail(KindDivisionByZero, stage)
	case errors.Is(err, state.ErrInvalidCollateralRatio):
		return fail(KindInvalidCollateralRatio, stage)
	case errors.Is(err, state.ErrInvalidLiquidationDiscount):
		return fail(KindInvalidLiquidationDiscount, stage)
	case errors.Is(err, state.ErrInvalidCombinedRiskParams):
		return fail(KindInvalidCombinedRiskParameters, stage)
	default:
		return &Failure{Kind: KindOpaqueError, Stage: stage}
	}
}
