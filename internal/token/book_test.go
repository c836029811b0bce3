package token

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestBookCreditAndBalance(t *testing.T) {
	book := NewBook("ledger")
	book.Credit("dai", "alice", uint256.NewInt(100))
	book.Credit("dai", "alice", uint256.NewInt(50))

	tok, ok := book.TokenFor("dai")
	if !ok {
		t.Fatal("expected dai token")
	}
	bal, err := tok.BalanceOf("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Uint64() != 150 {
		t.Errorf("got %s, want 150", bal.Dec())
	}

	bal, err = tok.BalanceOf("nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.IsZero() {
		t.Errorf("unknown account should read zero, got %s", bal.Dec())
	}
}

func TestBookLedgerHasUnlimitedAllowance(t *testing.T) {
	book := NewBook("ledger")
	tok, _ := book.TokenFor("dai")

	allowance, err := tok.Allowance("alice", "ledger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowance.IsZero() {
		t.Error("ledger must be a trusted spender")
	}

	allowance, err = tok.Allowance("alice", "mallory")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowance.IsZero() {
		t.Errorf("unapproved spender should have zero allowance, got %s", allowance.Dec())
	}

	book.Approve("dai", "alice", "bob", uint256.NewInt(25))
	allowance, err = tok.Allowance("alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowance.Uint64() != 25 {
		t.Errorf("got allowance %s, want 25", allowance.Dec())
	}
}

func TestBookTransferFromMovesBalance(t *testing.T) {
	book := NewBook("ledger")
	book.Credit("dai", "alice", uint256.NewInt(100))
	tok, _ := book.TokenFor("dai")

	ok, err := tok.TransferFrom("alice", "ledger", uint256.NewInt(60))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected transfer to succeed")
	}

	aliceBal, _ := tok.BalanceOf("alice")
	ledgerBal, _ := tok.BalanceOf("ledger")
	if aliceBal.Uint64() != 40 || ledgerBal.Uint64() != 60 {
		t.Errorf("got alice=%s ledger=%s, want 40/60", aliceBal.Dec(), ledgerBal.Dec())
	}
}

func TestBookTransferFromInsufficientBalance(t *testing.T) {
	book := NewBook("ledger")
	book.Credit("dai", "alice", uint256.NewInt(10))
	tok, _ := book.TokenFor("dai")

	ok, err := tok.TransferFrom("alice", "ledger", uint256.NewInt(60))
	if err != nil {
		t.Fatalf("standard token must not abort, got %v", err)
	}
	if ok {
		t.Error("expected ok=false")
	}

	bal, _ := tok.BalanceOf("alice")
	if bal.Uint64() != 10 {
		t.Errorf("failed transfer must not move balance, got %s", bal.Dec())
	}
}

func TestBookTransferPaysFromLedger(t *testing.T) {
	book := NewBook("ledger")
	book.Credit("dai", "ledger", uint256.NewInt(100))
	tok, _ := book.TokenFor("dai")

	ok, err := tok.Transfer("bob", uint256.NewInt(30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected transfer to succeed")
	}
	bobBal, _ := tok.BalanceOf("bob")
	if bobBal.Uint64() != 30 {
		t.Errorf("got %s, want 30", bobBal.Dec())
	}
}

func TestBookDebit(t *testing.T) {
	book := NewBook("ledger")
	book.Credit("dai", "alice", uint256.NewInt(100))

	if !book.Debit("dai", "alice", uint256.NewInt(40)) {
		t.Fatal("expected debit to succeed")
	}
	if book.Debit("dai", "alice", uint256.NewInt(100)) {
		t.Error("expected over-debit to fail")
	}

	tok, _ := book.TokenFor("dai")
	bal, _ := tok.BalanceOf("alice")
	if bal.Uint64() != 60 {
		t.Errorf("got %s, want 60", bal.Dec())
	}
}
