package token

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

type stubToken struct {
	balances   map[string]*uint256.Int
	allowances map[string]*uint256.Int
	transferOK bool
	abortErr   error
}

func (s *stubToken) BalanceOf(account string) (*uint256.Int, error) {
	if s.abortErr != nil {
		return nil, s.abortErr
	}
	if b, ok := s.balances[account]; ok {
		return b.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (s *stubToken) Allowance(owner, spender string) (*uint256.Int, error) {
	if s.abortErr != nil {
		return nil, s.abortErr
	}
	if a, ok := s.allowances[owner]; ok {
		return a.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (s *stubToken) TransferFrom(from, to string, amount *uint256.Int) (bool, error) {
	if s.abortErr != nil {
		return false, s.abortErr
	}
	return s.transferOK, nil
}

func (s *stubToken) Transfer(to string, amount *uint256.Int) (bool, error) {
	if s.abortErr != nil {
		return false, s.abortErr
	}
	return s.transferOK, nil
}

func TestCheckTransferIn_OK(t *testing.T) {
	tok := &stubToken{
		balances:   map[string]*uint256.Int{"alice": uint256.NewInt(100)},
		allowances: map[string]*uint256.Int{"alice": uint256.NewInt(100)},
	}
	tr := Transferrer{Ledger: "ledger"}
	res, err := tr.CheckTransferIn(tok, "alice", uint256.NewInt(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != CheckOK {
		t.Errorf("got %v, want CheckOK", res)
	}
}

func TestCheckTransferIn_InsufficientBalance(t *testing.T) {
	tok := &stubToken{
		balances:   map[string]*uint256.Int{"alice": uint256.NewInt(10)},
		allowances: map[string]*uint256.Int{"alice": uint256.NewInt(100)},
	}
	tr := Transferrer{Ledger: "ledger"}
	res, err := tr.CheckTransferIn(tok, "alice", uint256.NewInt(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != CheckInsufficientBalance {
		t.Errorf("got %v, want CheckInsufficientBalance", res)
	}
}

func TestCheckTransferIn_InsufficientAllowance(t *testing.T) {
	tok := &stubToken{
		balances:   map[string]*uint256.Int{"alice": uint256.NewInt(100)},
		allowances: map[string]*uint256.Int{"alice": uint256.NewInt(10)},
	}
	tr := Transferrer{Ledger: "ledger"}
	res, err := tr.CheckTransferIn(tok, "alice", uint256.NewInt(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != CheckInsufficientAllowance {
		t.Errorf("got %v, want CheckInsufficientAllowance", res)
	}
}

func TestTransferIn_StandardFailure(t *testing.T) {
	tok := &stubToken{transferOK: false}
	tr := Transferrer{Ledger: "ledger"}
	ok, err := tr.TransferIn(tok, "alice", uint256.NewInt(1))
	if err != nil {
		t.Fatalf("standard failure must not surface as an error, got %v", err)
	}
	if ok {
		t.Error("expected ok=false")
	}
}

func TestTransferIn_NonStandardAbort(t *testing.T) {
	abort := errors.New("revert")
	tok := &stubToken{abortErr: abort}
	tr := Transferrer{Ledger: "ledger"}
	_, err := tr.TransferIn(tok, "alice", uint256.NewInt(1))
	if !errors.Is(err, abort) {
		t.Errorf("expected the abort to propagate, got %v", err)
	}
}

func TestTransferOut_Success(t *testing.T) {
	tok := &stubToken{transferOK: true}
	tr := Transferrer{Ledger: "ledger"}
	ok, err := tr.TransferOut(tok, "bob", uint256.NewInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected ok=true")
	}
}
