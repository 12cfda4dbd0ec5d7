package ledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"credsync/internal/credential/store"
	"credsync/internal/events"
	"credsync/internal/platform/metrics"
)

// SweepResult reports what one recovery sweep did.
type SweepResult struct {
	Resubmitted int `json:"resubmitted"`
	Confirmed   int `json:"confirmed"`
	Failed      int `json:"failed"`
}

// Queue drains outstanding anchor jobs through a bounded worker pool.
// Submission is fire-and-forget: durability comes from the ledger_tx IS NULL
// scan, not from the in-memory channel.
type Queue struct {
	store   store.Store
	client  Client
	events  *events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	jobs    chan uuid.UUID
	workers int
}

// Option configures the Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithEvents sets the lifecycle event publisher.
func WithEvents(publisher *events.Publisher) Option {
	return func(q *Queue) {
		q.events = publisher
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// NewQueue creates a ledger queue with the given worker count and buffer depth.
func NewQueue(credentials store.Store, client Client, workers, depth int, opts ...Option) *Queue {
	if workers <= 0 {
		workers = 3
	}
	if depth <= 0 {
		depth = 256
	}
	q := &Queue{
		store:   credentials,
		client:  client,
		tracer:  otel.Tracer("credsync/ledger"),
		jobs:    make(chan uuid.UUID, depth),
		workers: workers,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// Submit enqueues a credential for anchoring without blocking. A full buffer
// drops the submission; the sweep re-drives it from the database.
func (q *Queue) Submit(credentialID uuid.UUID) {
	select {
	case q.jobs <- credentialID:
	default:
		q.logger.Warn("ledger queue full, deferring to sweep", "credential_id", credentialID)
	}
}

// Run processes submissions until the context is canceled.
func (q *Queue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-q.jobs:
					q.process(ctx, id)
				}
			}
		}()
	}
	wg.Wait()
}

// Sweep synchronously re-drives every credential still missing a ledger
// confirmation. Idempotent and safe to invoke concurrently with Run: the
// confirm write is guarded, so a duplicated anchor cannot produce a second
// local transition.
func (q *Queue) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	ctx, span := q.tracer.Start(ctx, "ledger.sweep")
	defer span.End()

	if limit <= 0 {
		limit = 500
	}
	pending, err := q.store.ListLedgerPending(ctx, limit)
	if err != nil {
		return SweepResult{}, err
	}

	var result SweepResult
	for _, rec := range pending {
		if rec.LedgerTx != nil {
			continue
		}
		result.Resubmitted++
		q.metrics.IncLedgerSweepResubmitted()
		if q.process(ctx, rec.ID) {
			result.Confirmed++
		} else {
			result.Failed++
		}
	}
	span.SetAttributes(
		attribute.Int("resubmitted", result.Resubmitted),
		attribute.Int("confirmed", result.Confirmed),
		attribute.Int("failed", result.Failed),
	)
	return result, nil
}

// process anchors one credential, returning true on confirmation. Every
// completed attempt leaves a visible status change: either ledger_tx is set
// or ledger_status is failed with last_error populated.
func (q *Queue) process(ctx context.Context, id uuid.UUID) bool {
	ctx, span := q.tracer.Start(ctx, "ledger.anchor",
		trace.WithAttributes(attribute.String("credential_id", id.String())))
	defer span.End()

	rec, err := q.store.FindByID(ctx, id)
	if err != nil {
		q.logger.ErrorContext(ctx, "load credential for anchoring", "credential_id", id, "error", err)
		return false
	}
	if rec.LedgerTx != nil {
		return true
	}

	result, err := q.client.Anchor(ctx, rec.ID, rec.DataHash, rec.EvidencePointer)
	if err != nil {
		q.logger.WarnContext(ctx, "ledger anchor failed",
			"credential_id", rec.ID,
			"attempts", rec.LedgerAttempts+1,
			"error", err,
		)
		if storeErr := q.store.SetLedgerFailed(ctx, rec.ID, err.Error()); storeErr != nil {
			q.logger.ErrorContext(ctx, "record ledger failure", "credential_id", rec.ID, "error", storeErr)
		}
		q.metrics.IncLedgerFailed()
		return false
	}

	if err := q.store.SetLedgerConfirmed(ctx, rec.ID, result.TxHash, result.ConfirmedAt); err != nil {
		q.logger.ErrorContext(ctx, "record ledger confirmation", "credential_id", rec.ID, "error", err)
		return false
	}
	q.metrics.IncLedgerConfirmed()
	q.events.LedgerConfirmed(ctx, rec, result.TxHash)
	q.logger.InfoContext(ctx, "ledger anchor confirmed",
		"credential_id", rec.ID,
		"tx_hash", result.TxHash,
	)
	return true
}
