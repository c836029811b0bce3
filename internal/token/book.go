package token

import (
	"sync"

	"github.com/holiman/uint256"
)

// Book is the in-process custody ledger backing the Token capability when the
// service settles value itself rather than against an external token. One
// Book holds every asset; balances are keyed by (asset, account).
//
// The ledger address is a trusted spender with unlimited allowance, since
// every TransferFrom it issues corresponds to a command the account itself
// submitted. All other spenders need an explicit Approve.
type Book struct {
	mu         sync.Mutex
	ledger     string
	balances   map[string]map[string]*uint256.Int // asset -> account -> balance
	allowances map[string]map[string]*uint256.Int // asset -> owner|spender -> allowance
}

func NewBook(ledger string) *Book {
	return &Book{
		ledger:     ledger,
		balances:   make(map[string]map[string]*uint256.Int),
		allowances: make(map[string]map[string]*uint256.Int),
	}
}

// TokenFor returns the per-asset Token view. Every asset resolves; an asset
// nobody has credited simply has all-zero balances.
func (b *Book) TokenFor(asset string) (Token, bool) {
	return &bookToken{book: b, asset: asset}, true
}

// Credit adds amount to the account's balance, creating the asset entry on
// first use. This is the external on-ramp (deposits settled out of band).
func (b *Book) Credit(asset, account string, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balance(asset, account)
	bal.Add(bal, amount)
}

// Debit removes amount from the account's balance. Returns false if the
// balance is insufficient; nothing moves in that case.
func (b *Book) Debit(asset, account string, amount *uint256.Int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balance(asset, account)
	if bal.Lt(amount) {
		return false
	}
	bal.Sub(bal, amount)
	return true
}

// Approve sets spender's allowance over owner's balance of asset.
func (b *Book) Approve(asset, owner, spender string, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.allowances[asset]
	if !ok {
		m = make(map[string]*uint256.Int)
		b.allowances[asset] = m
	}
	m[owner+"|"+spender] = new(uint256.Int).Set(amount)
}

// balance returns the live balance cell, creating it if absent. Caller holds
// the lock.
func (b *Book) balance(asset, account string) *uint256.Int {
	accounts, ok := b.balances[asset]
	if !ok {
		accounts = make(map[string]*uint256.Int)
		b.balances[asset] = accounts
	}
	bal, ok := accounts[account]
	if !ok {
		bal = new(uint256.Int)
		accounts[account] = bal
	}
	return bal
}

func (b *Book) allowance(asset, owner, spender string) *uint256.Int {
	if spender == b.ledger {
		return new(uint256.Int).SetAllOne()
	}
	if m, ok := b.allowances[asset]; ok {
		if a, ok := m[owner+"|"+spender]; ok {
			return new(uint256.Int).Set(a)
		}
	}
	return new(uint256.Int)
}

// bookToken adapts one asset of the Book to the Token interface. It behaves
// as a standard token: failures return ok=false, never an error.
type bookToken struct {
	book  *Book
	asset string
}

func (t *bookToken) BalanceOf(account string) (*uint256.Int, error) {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()
	return new(uint256.Int).Set(t.book.balance(t.asset, account)), nil
}

func (t *bookToken) Allowance(owner, spender string) (*uint256.Int, error) {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()
	return t.book.allowance(t.asset, owner, spender), nil
}

func (t *bookToken) TransferFrom(from, to string, amount *uint256.Int) (bool, error) {
	t.book.mu.Lock()
	defer t.book.mu.Unlock()

	fromBal := t.book.balance(t.asset, from)
	if fromBal.Lt(amount) {
		return false, nil
	}
	if t.book.allowance(t.asset, from, t.book.ledger).Lt(amount) {
		return false, nil
	}
	fromBal.Sub(fromBal, amount)
	toBal := t.book.balance(t.asset, to)
	toBal.Add(toBal, amount)
	return true, nil
}

func (t *bookToken) Transfer(to string, amount *uint256.Int) (bool, error) {
	return t.TransferFrom(t.book.ledger, to, amount)
}
