// internal/event/admin.go
package event

import "github.com/google/uuid"

type SupportedMarket struct {
	RequestID uuid.UUID `json:"request_id"`
	Market    string    `json:"market"`
}

func (e *SupportedMarket) IdempotencyKey() string { return e.RequestID.String() }
func (e *SupportedMarket) EventType() EventType   { return EventTypeSupportedMarket }
func (e *SupportedMarket) Asset() *string         { return &e.Market }

type SuspendedMarket struct {
	RequestID uuid.UUID `json:"request_id"`
	Market    string    `json:"market"`
}

func (e *SuspendedMarket) IdempotencyKey() string { return e.RequestID.String() }
func (e *SuspendedMarket) EventType() EventType   { return EventTypeSuspendedMarket }
func (e *SuspendedMarket) Asset() *string         { return &e.Market }

type NewMarketInterestRateModel struct {
	RequestID uuid.UUID `json:"request_id"`
	Market    string    `json:"market"`
}

func (e *NewMarketInterestRateModel) IdempotencyKey() string { return e.RequestID.String() }
func (e *NewMarketInterestRateModel) EventType() EventType {
	return EventTypeNewMarketInterestRateModel
}
func (e *NewMarketInterestRateModel) Asset() *string { return &e.Market }

// Mantissa fields are 18-decimal mantissas as decimal strings.
type NewRiskParameters struct {
	RequestID   uuid.UUID `json:"request_id"`
	OldRatio    string    `json:"old_collateral_ratio"`
	NewRatio    string    `json:"new_collateral_ratio"`
	OldDiscount string    `json:"old_liquidation_discount"`
	NewDiscount string    `json:"new_liquidation_discount"`
}

func (e *NewRiskParameters) IdempotencyKey() string { return e.RequestID.String() }
func (e *NewRiskParameters) EventType() EventType   { return EventTypeNewRiskParameters }
func (e *NewRiskParameters) Asset() *string         { return nil }

type NewOriginationFee struct {
	RequestID uuid.UUID `json:"request_id"`
	OldFee    string    `json:"old_origination_fee"`
	NewFee    string    `json:"new_origination_fee"`
}

func (e *NewOriginationFee) IdempotencyKey() string { return e.RequestID.String() }
func (e *NewOriginationFee) EventType() EventType   { return EventTypeNewOriginationFee }
func (e *NewOriginationFee) Asset() *string         { return nil }

type NewOracle struct {
	RequestID uuid.UUID `json:"request_id"`
	OldOracle string    `json:"old_oracle"`
	NewOracle string    `json:"new_oracle"`
}

func (e *NewOracle) IdempotencyKey() string { return e.RequestID.String() }
func (e *NewOracle) EventType() EventType   { return EventTypeNewOracle }
func (e *NewOracle) Asset() *string         { return nil }

type NewPendingAdmin struct {
	RequestID  uuid.UUID `json:"request_id"`
	OldPending string    `json:"old_pending_admin"`
	NewPending string    `json:"new_pending_admin"`
}

func (e *NewPendingAdmin) IdempotencyKey() string { return e.RequestID.String() }
func (e *NewPendingAdmin) EventType() EventType   { return EventTypeNewPendingAdmin }
func (e *NewPendingAdmin) Asset() *string         { return nil }

type NewAdmin struct {
	RequestID uuid.UUID `json:"request_id"`
	OldAdmin  string    `json:"old_admin"`
	NewAdmin  string    `json:"new_admin"`
}

func (e *NewAdmin) IdempotencyKey() string { return e.RequestID.String() }
func (e *NewAdmin) EventType() EventType   { return EventTypeNewAdmin }
func (e *NewAdmin) Asset() *string         { return nil }

type PausedSet struct {
	RequestID uuid.UUID `json:"request_id"`
	Paused    bool      `json:"paused"`
}

func (e *PausedSet) IdempotencyKey() string { return e.RequestID.String() }
func (e *PausedSet) EventType() EventType   { return EventTypePausedSet }
func (e *PausedSet) Asset() *string         { return nil }

type EquityWithdrawn struct {
	RequestID             uuid.UUID `json:"request_id"`
	Market                string    `json:"market"`
	EquityAvailableBefore string    `json:"equity_available_before"`
	Amount                string    `json:"amount"`
	Recipient             string    `json:"recipient"`
}

func (e *EquityWithdrawn) IdempotencyKey() string { return e.RequestID.String() }
func (e *EquityWithdrawn) EventType() EventType   { return EventTypeEquityWithdrawn }
func (e *EquityWithdrawn) Asset() *string         { return &e.Market }

type BlockAdvanced struct {
	RequestID uuid.UUID `json:"request_id"`
	Block     uint64    `json:"block"`
}

func (e *BlockAdvanced) IdempotencyKey() string { return e.RequestID.String() }
func (e *BlockAdvanced) EventType() EventType   { return EventTypeBlockAdvanced }
func (e *BlockAdvanced) Asset() *string         { return nil }
