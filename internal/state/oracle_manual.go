package state

import (
	"sync"

	fpmath "LendLedger/internal/math"
)

// ManualPriceOracle is a posted-price oracle: an operator sets prices out of
// band and the engine reads them. Assets without a posted price read as zero,
// which the risk checks treat as unpriced.
type ManualPriceOracle struct {
	mu     sync.RWMutex
	prices map[string]fpmath.Exp
}

func NewManualPriceOracle() *ManualPriceOracle {
	return &ManualPriceOracle{prices: make(map[string]fpmath.Exp)}
}

// SetPrice posts the asset's price in the common unit, as an 18-decimal Exp.
func (o *ManualPriceOracle) SetPrice(asset string, price fpmath.Exp) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = price.Clone()
}

func (o *ManualPriceOracle) GetAssetPrice(asset string) fpmath.Exp {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if p, ok := o.prices[asset]; ok {
		return p.Clone()
	}
	return fpmath.ZeroExp()
}
