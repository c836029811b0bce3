package core

import "github.com/holiman/uint256"

// Amount is a requested operation amount: either an exact value or the max
// sentinel ("everything available"). The sentinel is an explicit tag, never
// a wraparound value.
type Amount struct {
	Value *uint256.Int
	Max   bool
}

// ExactAmount requests exactly value.
func ExactAmount(value *uint256.Int) Amount {
	return Amount{Value: value.Clone()}
}

// MaxAmount requests the maximum the operation allows.
func MaxAmount() Amount {
	return Amount{Value: new(uint256.Int), Max: true}
}
