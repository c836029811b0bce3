package state

import (
	"testing"

	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

func TestAccruedBalance_ZeroPrincipalShortCircuit(t *testing.T) {
	s := NewAccountStore()
	// Stored zero principal with a zero index snapshot: the short-circuit
	// means the index is never read.
	s.SetBalance("alice", "OMG", SideSupply, new(uint256.Int), fpmath.ZeroExp())

	got, err := s.AccruedBalance("alice", "OMG", SideSupply, fpmath.OneExp())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got)
	}
}

func TestAccruedBalance_MissingRecord(t *testing.T) {
	s := NewAccountStore()
	got, err := s.AccruedBalance("nobody", "OMG", SideBorrow, fpmath.OneExp())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got)
	}
}

func TestAccruedBalance_IndexGrowth(t *testing.T) {
	s := NewAccountStore()
	s.SetBalance("alice", "OMG", SideSupply, uint256.NewInt(1000), fpmath.OneExp())

	// Index grew 10% since the snapshot.
	current := fpmath.NewExp(uint256.NewInt(11e17))
	got, err := s.AccruedBalance("alice", "OMG", SideSupply, current)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 1100 {
		t.Errorf("got %d, want 1100", got.Uint64())
	}
}

func TestAccruedBalance_ZeroSnapshotIndex(t *testing.T) {
	s := NewAccountStore()
	s.SetBalance("alice", "OMG", SideSupply, uint256.NewInt(5), fpmath.ZeroExp())

	_, err := s.AccruedBalance("alice", "OMG", SideSupply, fpmath.OneExp())
	if err != fpmath.ErrDivisionByZero {
		t.Errorf("got %v, want ErrDivisionByZero", err)
	}
}

func TestSetBalance_Overwrites(t *testing.T) {
	s := NewAccountStore()
	s.SetBalance("alice", "OMG", SideBorrow, uint256.NewInt(100), fpmath.OneExp())
	s.SetBalance("alice", "OMG", SideBorrow, uint256.NewInt(40), fpmath.NewExp(uint256.NewInt(12e17)))

	b := s.Get("alice", "OMG", SideBorrow)
	if b.Principal.Uint64() != 40 {
		t.Errorf("principal: got %d, want 40", b.Principal.Uint64())
	}
	if b.InterestIndex.Uint64() != 12e17 {
		t.Errorf("index snapshot: got %d, want 12e17", b.InterestIndex.Uint64())
	}
}

func TestGet_ReturnsCopies(t *testing.T) {
	s := NewAccountStore()
	s.SetBalance("alice", "OMG", SideSupply, uint256.NewInt(7), fpmath.OneExp())

	b := s.Get("alice", "OMG", SideSupply)
	b.Principal.SetUint64(999)

	again := s.Get("alice", "OMG", SideSupply)
	if again.Principal.Uint64() != 7 {
		t.Error("mutating a returned balance must not affect the store")
	}
}

func TestAll_DeterministicOrder(t *testing.T) {
	s := NewAccountStore()
	s.SetBalance("bob", "ZRX", SideSupply, uint256.NewInt(1), fpmath.OneExp())
	s.SetBalance("alice", "OMG", SideBorrow, uint256.NewInt(2), fpmath.OneExp())
	s.SetBalance("alice", "OMG", SideSupply, uint256.NewInt(3), fpmath.OneExp())

	records := s.All()
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Account != "alice" || records[0].Side != SideSupply {
		t.Errorf("record 0: got %s/%s/%s", records[0].Account, records[0].Asset, records[0].Side)
	}
	if records[1].Side != SideBorrow {
		t.Errorf("record 1 should be alice's borrow side")
	}
	if records[2].Account != "bob" {
		t.Errorf("record 2: got %s, want bob", records[2].Account)
	}
}
