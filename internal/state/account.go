package state

import (
	"sort"

	fpmath "LendLedger/internal/math"

	"github.com/holiman/uint256"
)

// BalanceSide distinguishes the two balance records an account can hold per
// asset.
type BalanceSide int

const (
	SideSupply BalanceSide = iota
	SideBorrow
)

func (s BalanceSide) String() string {
	if s == SideBorrow {
		return "borrow"
	}
	return "supply"
}

// Balance is a principal plus the market index snapshot taken when the
// principal was last written. The true balance is principal scaled by the
// index growth since the snapshot.
type Balance struct {
	Principal     *uint256.Int
	InterestIndex *uint256.Int
}

type balanceKey struct {
	Account string
	Asset   string
	Side    BalanceSide
}

// BalanceRecord is a flattened balance row, used by snapshots and hashing.
type BalanceRecord struct {
	Account       string
	Asset         string
	Side          BalanceSide
	Principal     *uint256.Int
	InterestIndex *uint256.Int
}

// AccountStore holds every (account, asset, side) balance record. Reads never
// mutate; only SetBalance writes.
type AccountStore struct {
	balances map[balanceKey]Balance
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		balances: make(map[balanceKey]Balance),
	}
}

// Get returns the stored record, or a zero-principal record if none exists.
func (s *AccountStore) Get(account, asset string, side BalanceSide) Balance {
	if b, ok := s.balances[balanceKey{account, asset, side}]; ok {
		return Balance{Principal: b.Principal.Clone(), InterestIndex: b.InterestIndex.Clone()}
	}
	return Balance{Principal: new(uint256.Int), InterestIndex: new(uint256.Int)}
}

// AccruedBalance returns the balance brought forward to currentIndex:
// principal * currentIndex / snapshotIndex. A zero principal short-circuits
// to zero without reading the snapshot index. A zero snapshot index under a
// non-zero principal is unreachable through the public operations but fails
// loudly here instead of dividing by zero.
func (s *AccountStore) AccruedBalance(account, asset string, side BalanceSide, currentIndex fpmath.Exp) (*uint256.Int, error) {
	b, ok := s.balances[balanceKey{account, asset, side}]
	if !ok || b.Principal.IsZero() {
		return new(uint256.Int), nil
	}
	scaled, err := fpmath.Mul(b.Principal, currentIndex.Mantissa)
	if err != nil {
		return nil, err
	}
	return fpmath.Div(scaled, b.InterestIndex)
}

// SetBalance overwrites the record, snapshotting the given index.
func (s *AccountStore) SetBalance(account, asset string, side BalanceSide, principal *uint256.Int, index fpmath.Exp) {
	s.balances[balanceKey{account, asset, side}] = Balance{
		Principal:     principal.Clone(),
		InterestIndex: index.Mantissa.Clone(),
	}
}

// All returns every record in a deterministic order (account, asset, side).
func (s *AccountStore) All() []BalanceRecord {
	records := make([]BalanceRecord, 0, len(s.balances))
	for k, b := range s.balances {
		records = append(records, BalanceRecord{
			Account:       k.Account,
			Asset:         k.Asset,
			Side:          k.Side,
			Principal:     b.Principal.Clone(),
			InterestIndex: b.InterestIndex.Clone(),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		return a.Side < b.Side
	})
	return records
}

// Restore loads a record verbatim, used by snapshot recovery.
func (s *AccountStore) Restore(r BalanceRecord) {
	s.balances[balanceKey{r.Account, r.Asset, r.Side}] = Balance{
		Principal:     r.Principal.Clone(),
		InterestIndex: r.InterestIndex.Clone(),
	}
}
