package query

import (
	"encoding/json"
	"time"
)

// BalanceResponse is a projected account balance. The balance is a decimal
// string of raw token units, reflecting the last event that touched this
// record.
type BalanceResponse struct {
	Account      string `json:"account"`
	Asset        string `json:"asset"`
	Side         string `json:"side"`
	Balance      string `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// LiquidationHistoryEntry is one applied liquidation.
type LiquidationHistoryEntry struct {
	Sequence        int64  `json:"sequence"`
	TargetAccount   string `json:"target_account"`
	Liquidator      string `json:"liquidator"`
	BorrowedAsset   string `json:"borrowed_asset"`
	CollateralAsset string `json:"collateral_asset"`
	AmountRepaid    string `json:"amount_repaid"`
	AmountSeized    string `json:"amount_seized"`
}

// EventLogEntry is an event log row for API consumption.
type EventLogEntry struct {
	Sequence    int64           `json:"sequence"`
	EventType   string          `json:"event_type"`
	Asset       *string         `json:"asset,omitempty"`
	BlockNumber int64           `json:"block_number"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool    `json:"is_healthy"`
	LastSequence     int64   `json:"last_sequence"`
	HashChainBreaks  []int64 `json:"hash_chain_breaks,omitempty"`
	NegativeBalances int64   `json:"negative_balances,omitempty"`
}
