package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LendLedger/internal/event"
)

// EventRow represents a row in event_log.events.
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Asset          *string
	BlockNumber    int64
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// RowFromEnvelope flattens an engine envelope into its storage row.
func RowFromEnvelope(env *event.Envelope) EventRow {
	stateHash := make([]byte, 32)
	prevHash := make([]byte, 32)
	copy(stateHash, env.StateHash[:])
	copy(prevHash, env.PrevHash[:])

	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Asset:          env.Asset,
		BlockNumber:    int64(env.BlockNumber),
		Payload:        env.Payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
		Timestamp:      env.Timestamp,
	}
}

// EventLogWriter writes events to Postgres using multi-row batch inserts.
// Switch to pgx CopyFrom if single-statement INSERT becomes the bottleneck.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events to event_log.events inside tx.
// ON CONFLICT DO NOTHING makes replays after a crash idempotent.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, asset, block_number, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Asset,
			e.BlockNumber, e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
