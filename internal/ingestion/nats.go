package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// CommandSubscriber subscribes to the JetStream command subjects and feeds
// raw commands into the ingestion loop. NATS JetStream is the primary
// high-throughput command surface; the HTTP API covers admin operations and
// interactive use.
type CommandSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
}

// RawCommand is an unparsed command off the wire. The ingestion loop parses
// it, applies it to the engine, and acks only after the engine has accepted
// it into the pipeline.
type RawCommand struct {
	Subject string
	Data    []byte
	AckFunc func() // ack after successful processing
	NakFunc func() // nak on failure, message will be redelivered
}

const (
	commandStreamName   = "LEND_LEDGER_CMDS"
	commandSubjectRoot  = "lend.ledger.cmds"
	outboundStreamName  = "LEND_LEDGER_EVENTS"
	outboundSubjectRoot = "lend.ledger.events"
)

func NewCommandSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand) *CommandSubscriber {
	return &CommandSubscriber{
		js:          js,
		commandChan: commandChan,
	}
}

// Subscribe creates the durable command consumer. Explicit ACK with
// max_deliver=5 and ack_wait=30s; the engine's idempotency layer absorbs
// redeliveries.
func (cs *CommandSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := cs.js.CreateOrUpdateConsumer(ctx, commandStreamName, jetstream.ConsumerConfig{
		Durable:       "lend-ledger-cmds",
		FilterSubject: commandSubjectRoot + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create command consumer: %w", err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawCommand{
			Subject: msg.Subject(),
			Data:    msg.Data(),
			AckFunc: func() { msg.Ack() },
			NakFunc: func() { msg.Nak() },
		}

		select {
		case cs.commandChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume commands: %w", err)
	}

	cs.consumers = append(cs.consumers, consumerContext)
	log.Printf("INFO: subscribed to %s.> (consumer=lend-ledger-cmds)", commandSubjectRoot)
	return nil
}

// Stop gracefully stops all consumers.
func (cs *CommandSubscriber) Stop() {
	for _, cc := range cs.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS command subscriber stopped")
}

// EnsureStreams creates the command and outbound event streams if they do
// not exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      commandStreamName,
			Subjects:  []string{commandSubjectRoot + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      outboundStreamName,
			Subjects:  []string{outboundSubjectRoot + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
