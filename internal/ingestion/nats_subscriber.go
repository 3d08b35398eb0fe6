package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes raw fill and funding rows from JetStream and
// appends them to the RawStore. Upstream collectors publish one JSON row
// per message; the subscriber does no normalization, it only accumulates
// the input logs the next pass will read.
type NATSSubscriber struct {
	js        jetstream.JetStream
	store     *RawStore
	log       zerolog.Logger
	consumers []jetstream.ConsumeContext
}

// rowMessage is the wire format of one raw row.
type rowMessage struct {
	Source string            `json:"source"`
	Row    map[string]string `json:"row"`
}

// SubjectConfig maps a JetStream subject to a row kind.
type SubjectConfig struct {
	Subject      string
	Kind         string // "fill" or "funding"
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject layout: one stream per row
// kind so fills and funding scale independently.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "ledger.fills.>", Kind: "fill", ConsumerName: "ledger-fills", StreamName: "LEDGER_FILLS"},
		{Subject: "ledger.funding.>", Kind: "funding", ConsumerName: "ledger-funding", StreamName: "LEDGER_FUNDING"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, store *RawStore, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:    js,
		store: store,
		log:   log,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK; a malformed message is ACKed and dropped
// after logging, since redelivery cannot fix it.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		kind := cfg.Kind
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			var m rowMessage
			if err := json.Unmarshal(msg.Data(), &m); err != nil {
				ns.log.Warn().Str("subject", msg.Subject()).Err(err).Msg("dropping malformed row message")
				msg.Ack()
				return
			}
			if m.Row == nil {
				ns.log.Warn().Str("subject", msg.Subject()).Msg("dropping row message without row payload")
				msg.Ack()
				return
			}

			switch kind {
			case "funding":
				ns.store.AppendFunding(RawRecord(m.Row))
			default:
				if m.Source == "" {
					ns.log.Warn().Str("subject", msg.Subject()).Msg("dropping fill row without source")
					msg.Ack()
					return
				}
				ns.store.AppendFill(m.Source, RawRecord(m.Row))
			}
			msg.Ack()
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("stream", cfg.StreamName).Msg("subscribed")
	}

	return nil
}

// Close stops all consumers.
func (ns *NATSSubscriber) Close() {
	for _, c := range ns.consumers {
		c.Stop()
	}
	ns.consumers = nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use file storage with a 30 day retention so a restarted service
// can rebuild its raw input logs from the stream head.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "LEDGER_FILLS",
			Subjects:  []string{"ledger.fills.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    30 * 24 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEDGER_FUNDING",
			Subjects:  []string{"ledger.funding.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    30 * 24 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
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
