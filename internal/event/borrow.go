// internal/event/borrow.go
package event

import "github.com/google/uuid"

type BorrowTaken struct {
	RequestID       uuid.UUID `json:"request_id"`
	Account         string    `json:"account"`
	Market          string    `json:"market"`
	Amount          string    `json:"amount"`
	AmountWithFee   string    `json:"amount_with_fee"`
	StartingBalance string    `json:"starting_balance"`
	NewBalance      string    `json:"new_balance"`
}

func (e *BorrowTaken) IdempotencyKey() string {
	return e.RequestID.String()
}

func (e *BorrowTaken) EventType() EventType {
	return EventTypeBorrowTaken
}

func (e *BorrowTaken) Asset() *string {
	return &e.Market
}

type BorrowRepaid struct {
	RequestID       uuid.UUID `json:"request_id"`
	Account         string    `json:"account"`
	Market          string    `json:"market"`
	Amount          string    `json:"amount"`
	StartingBalance string    `json:"starting_balance"`
	NewBalance      string    `json:"new_balance"`
}

func (e *BorrowRepaid) IdempotencyKey() string {
	return e.RequestID.String()
}

func (e *BorrowRepaid) EventType() EventType {
	return EventTypeBorrowRepaid
}

func (e *BorrowRepaid) Asset() *string {
	return &e.Market
}
