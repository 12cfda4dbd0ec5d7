package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"credsync/internal/credential/models"
)

// Publisher writes lifecycle events to a Kafka topic. A nil Publisher is
// valid and drops everything, so callers never need to branch on whether
// eventing is configured.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher connects to the brokers and ensures the topic exists.
func NewPublisher(ctx context.Context, brokers []string, topic string, opts ...Option) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 3, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure topic %s: %w", topic, resp.Err)
	}

	p := &Publisher{client: client, topic: topic}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// CredentialCreated emits a creation event. Publishing is asynchronous and
// best-effort: a broker outage never blocks or fails ingestion.
func (p *Publisher) CredentialCreated(ctx context.Context, rec models.CredentialRecord) {
	p.publish(ctx, Envelope{
		Type:         TypeCredentialCreated,
		CredentialID: rec.ID,
		Provider:     rec.Provider,
		ExternalID:   rec.ExternalID,
		DataHash:     rec.DataHash,
		OccurredAt:   time.Now().UTC(),
	})
}

// LedgerConfirmed emits a confirmation event carrying the anchored tx hash.
func (p *Publisher) LedgerConfirmed(ctx context.Context, rec models.CredentialRecord, txHash string) {
	p.publish(ctx, Envelope{
		Type:         TypeLedgerConfirmed,
		CredentialID: rec.ID,
		Provider:     rec.Provider,
		ExternalID:   rec.ExternalID,
		DataHash:     rec.DataHash,
		LedgerTx:     txHash,
		OccurredAt:   time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, env Envelope) {
	if p == nil || p.client == nil {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "marshal event", "type", env.Type, "error", err)
		}
		return
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(env.CredentialID.String()),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil && p.logger != nil {
			p.logger.ErrorContext(ctx, "publish event",
				"type", env.Type,
				"credential_id", env.CredentialID,
				"error", err,
			)
		}
	})
}

// Close flushes buffered records and releases the client.
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	_ = p.client.Flush(context.Background())
	p.client.Close()
}
