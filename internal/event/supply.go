// internal/event/supply.go
package event

import "github.com/google/uuid"

// Amounts are decimal strings of raw token units; balances reflect the
// just-accrued values.

type SupplyReceived struct {
	RequestID       uuid.UUID `json:"request_id"`
	Account         string    `json:"account"`
	Market          string    `json:"market"`
	Amount          string    `json:"amount"`
	StartingBalance string    `json:"starting_balance"`
	NewBalance      string    `json:"new_balance"`
}

func (e *SupplyReceived) IdempotencyKey() string {
	return e.RequestID.String()
}

func (e *SupplyReceived) EventType() EventType {
	return EventTypeSupplyReceived
}

func (e *SupplyReceived) Asset() *string {
	return &e.Market
}

type SupplyWithdrawn struct {
	RequestID       uuid.UUID `json:"request_id"`
	Account         string    `json:"account"`
	Market          string    `json:"market"`
	Amount          string    `json:"amount"`
	StartingBalance string    `json:"starting_balance"`
	NewBalance      string    `json:"new_balance"`
}

func (e *SupplyWithdrawn) IdempotencyKey() string {
	return e.RequestID.String()
}

func (e *SupplyWithdrawn) EventType() EventType {
	return EventTypeSupplyWithdrawn
}

func (e *SupplyWithdrawn) Asset() *string {
	return &e.Market
}
