package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeSupplyReceived
	EventTypeSupplyWithdrawn
	EventTypeBorrowTaken
	EventTypeBorrowRepaid
	EventTypeBorrowLiquidated
	EventTypeSupportedMarket
	EventTypeSuspendedMarket
	EventTypeNewMarketInterestRateModel
	EventTypeNewRiskParameters
	EventTypeNewOriginationFee
	EventTypeNewOracle
	EventTypeNewPendingAdmin
	EventTypeNewAdmin
	EventTypePausedSet
	EventTypeEquityWithdrawn
	EventTypeBlockAdvanced
	EventTypeFailure
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the ledger engine
	Sequence int64

	// Stable idempotency key from the originating command
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Asset context (nullable for global events)
	Asset *string

	// Ledger block at which the operation was applied
	BlockNumber uint64

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of ledger state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Asset returns the asset context (nil for global events)
	Asset() *string
}

func (et EventType) String() string {
	switch et {
	case EventTypeSupplyReceived:
		return "SupplyReceived"
	case EventTypeSupplyWithdrawn:
		return "SupplyWithdrawn"
	case EventTypeBorrowTaken:
		return "BorrowTaken"
	case EventTypeBorrowRepaid:
		return "BorrowRepaid"
	case EventTypeBorrowLiquidated:
		return "BorrowLiquidated"
	case EventTypeSupportedMarket:
		return "SupportedMarket"
	case EventTypeSuspendedMarket:
		return "SuspendedMarket"
	case EventTypeNewMarketInterestRateModel:
		return "NewMarketInterestRateModel"
	case EventTypeNewRiskParameters:
		return "NewRiskParameters"
	case EventTypeNewOriginationFee:
		return "NewOriginationFee"
	case EventTypeNewOracle:
		return "NewOracle"
	case EventTypeNewPendingAdmin:
		return "NewPendingAdmin"
	case EventTypeNewAdmin:
		return "NewAdmin"
	case EventTypePausedSet:
		return "PausedSet"
	case EventTypeEquityWithdrawn:
		return "EquityWithdrawn"
	case EventTypeBlockAdvanced:
		return "BlockAdvanced"
	case EventTypeFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}
