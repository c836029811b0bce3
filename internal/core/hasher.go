package core

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"LendLedger/internal/state"

	"github.com/holiman/uint256"
)

const GenesisHashSeed = "LendLedger:genesis:v1"

// StateHasher computes the deterministic state hash chain.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with the genesis hash.
func NewStateHasher() *StateHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &StateHasher{
		prevHash: genesis,
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash

	return hash
}

// GetPrevHash returns the current chain tip.
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip, used on snapshot recovery.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// ledgerDigest builds the canonical byte representation of the full ledger
// state: every market in asset order, then every balance record in store
// order, then the risk params, admin state and block number. Identical state
// must always produce identical bytes.
func ledgerDigest(
	markets map[string]*state.Market,
	accounts *state.AccountStore,
	params state.RiskParams,
	admin, pendingAdmin string,
	paused bool,
	blockNumber uint64,
) []byte {
	digest := make([]byte, 0, 1024)

	assets := make([]string, 0, len(markets))
	for asset := range markets {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		m := markets[asset]
		digest = appendString(digest, asset)
		if m.Supported {
			digest = append(digest, 1)
		} else {
			digest = append(digest, 0)
		}
		digest = appendUint64LE(digest, m.BlockNumber)
		digest = appendUint256(digest, m.Cash)
		digest = appendUint256(digest, m.TotalSupply)
		digest = appendUint256(digest, m.TotalBorrows)
		digest = appendUint256(digest, m.SupplyRateMantissa)
		digest = appendUint256(digest, m.BorrowRateMantissa)
		digest = appendUint256(digest, m.SupplyIndex)
		digest = appendUint256(digest, m.BorrowIndex)
	}

	for _, r := range accounts.All() {
		digest = appendString(digest, r.Account)
		digest = appendString(digest, r.Asset)
		digest = append(digest, byte(r.Side))
		digest = appendUint256(digest, r.Principal)
		digest = appendUint256(digest, r.InterestIndex)
	}

	digest = appendUint256(digest, params.CollateralRatio.Mantissa)
	digest = appendUint256(digest, params.LiquidationDiscount.Mantissa)
	digest = appendUint256(digest, params.OriginationFee.Mantissa)
	digest = appendString(digest, admin)
	digest = appendString(digest, pendingAdmin)
	if paused {
		digest = append(digest, 1)
	} else {
		digest = append(digest, 0)
	}
	digest = appendUint64LE(digest, blockNumber)

	return digest
}

func appendString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, []byte(s)...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint256(buf []byte, v *uint256.Int) []byte {
	b := v.Bytes32()
	return append(buf, b[:]...)
}
