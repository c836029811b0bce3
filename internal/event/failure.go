// internal/event/failure.go
package event

import "github.com/google/uuid"

// Failure is the soft-failure outcome of an operation: the ledger rejected
// the request, committed nothing, and reports why. Kind and Stage name the
// taxonomy entry and the sub-step that failed; Detail carries the opaque
// rate-model code when Kind is OPAQUE_ERROR.
type Failure struct {
	RequestID uuid.UUID `json:"request_id"`
	Operation string    `json:"operation"`
	Market    string    `json:"market,omitempty"`
	Kind      string    `json:"kind"`
	Stage     string    `json:"stage"`
	Detail    uint64    `json:"detail,omitempty"`
}

func (e *Failure) IdempotencyKey() string {
	return e.RequestID.String()
}

func (e *Failure) EventType() EventType {
	return EventTypeFailure
}

func (e *Failure) Asset() *string {
	if e.Market == "" {
		return nil
	}
	return &e.Market
}
