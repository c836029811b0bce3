package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes processed events to NATS for downstream
// consumers. Subjects follow lend.ledger.events.{event_type}.{asset}.
// Publishing is best-effort; the event log in Postgres is the source of
// truth and consumers can backfill from it.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
}

// PublishableEvent is a processed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Asset          *string         `json:"asset,omitempty"`
	BlockNumber    uint64          `json:"block_number"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      []byte          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// PublishableFromEnvelope shapes an engine envelope for the outbound stream.
func PublishableFromEnvelope(env *event.Envelope) PublishableEvent {
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Asset:          env.Asset,
		BlockNumber:    env.BlockNumber,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		Timestamp:      env.Timestamp,
	}
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", evt.Sequence, err)
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
				continue
			}
			if op.metrics != nil {
				op.metrics.EventsPublished.WithLabelValues(evt.EventType).Inc()
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", outboundSubjectRoot, evt.EventType)
	if evt.Asset != nil {
		subject = fmt.Sprintf("%s.%s", subject, *evt.Asset)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}
