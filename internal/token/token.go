package token

import (
	"github.com/holiman/uint256"
)

// Token is the external value-transfer capability. A standard token reports
// failure by returning ok=false with a nil error. A non-standard token aborts
// the call instead, returning a non-nil error with undefined ok.
type Token interface {
	BalanceOf(account string) (*uint256.Int, error)
	Allowance(owner, spender string) (*uint256.Int, error)
	TransferFrom(from, to string, amount *uint256.Int) (ok bool, err error)
	Transfer(to string, amount *uint256.Int) (ok bool, err error)
}

// TokenRegistry resolves an asset identifier to its Token capability.
type TokenRegistry interface {
	TokenFor(asset string) (Token, bool)
}

// CheckResult classifies the outcome of a pre-transfer check.
type CheckResult int

const (
	CheckOK CheckResult = iota
	CheckInsufficientBalance
	CheckInsufficientAllowance
)

// Transferrer wraps a Token with the ledger's transfer discipline. The ledger
// itself is the counterparty of every transfer and holds the market cash.
//
// Known quirk, preserved from the original protocol: a standard token's false
// return is normalized into a soft failure the caller converts into a Failure
// outcome, while a non-standard token's abort (err != nil) propagates as a
// hard error of the whole operation. The two paths are intentionally not
// unified.
type Transferrer struct {
	// Ledger is the address the ledger transacts as.
	Ledger string
}

// CheckTransferIn performs the read-only balance and allowance checks that
// precede an inbound transfer. It never moves value.
func (t Transferrer) CheckTransferIn(tok Token, from string, amount *uint256.Int) (CheckResult, error) {
	balance, err := tok.BalanceOf(from)
	if err != nil {
		return CheckOK, err
	}
	if balance.Lt(amount) {
		return CheckInsufficientBalance, nil
	}
	allowance, err := tok.Allowance(from, t.Ledger)
	if err != nil {
		return CheckOK, err
	}
	if allowance.Lt(amount) {
		return CheckInsufficientAllowance, nil
	}
	return CheckOK, nil
}

// TransferIn pulls amount from the payer into the ledger. ok=false means the
// standard-token soft failure; err != nil means a non-standard abort.
func (t Transferrer) TransferIn(tok Token, from string, amount *uint256.Int) (bool, error) {
	return tok.TransferFrom(from, t.Ledger, amount)
}

// TransferOut pays amount from the ledger to the recipient.
func (t Transferrer) TransferOut(tok Token, to string, amount *uint256.Int) (bool, error) {
	return tok.Transfer(to, amount)
}
