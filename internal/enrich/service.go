package enrich

import (
	"context"
	"log/slog"
	"path"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"credsync/internal/credential/models"
	"credsync/internal/credential/store"
	"credsync/internal/evidence"
	"credsync/internal/platform/metrics"
	"credsync/pkg/platform/circuit"
	"credsync/pkg/requestcontext"
)

// Service runs the three-stage enrichment flow per credential: extraction,
// parallel analyses, field-level merge. Fully decoupled from record
// visibility; a credential is queryable long before enrichment finishes.
type Service struct {
	store    store.Store
	evidence evidence.Store
	client   Client
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *metrics.Metrics

	jobs    chan uuid.UUID
	workers int
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithWorkers sets the background pool size.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBreaker replaces the default extraction breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

// NewService creates the enrichment service. client may be nil when the
// enrichment service is not configured; every credential then gets the
// heuristic fallback.
func NewService(credentials store.Store, evidenceStore evidence.Store, client Client, opts ...Option) *Service {
	s := &Service{
		store:    credentials,
		evidence: evidenceStore,
		client:   client,
		breaker:  circuit.New("enrich-extract"),
		jobs:     make(chan uuid.UUID, 256),
		workers:  3,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Dispatch queues a credential for background enrichment without blocking.
// A full buffer drops the job; enrichment is best-effort.
func (s *Service) Dispatch(credentialID uuid.UUID) {
	select {
	case s.jobs <- credentialID:
	default:
		s.logger.Warn("enrichment queue full, dropping job", "credential_id", credentialID)
	}
}

// Run drains dispatched jobs until the context is canceled.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-s.jobs:
					if err := s.Process(ctx, id); err != nil {
						s.logger.ErrorContext(ctx, "enrichment failed", "credential_id", id, "error", err)
					}
				}
			}
		}()
	}
	wg.Wait()
}

// Process enriches one credential. A second call while an attempt is in
// flight, or after a completed pass, is a no-op: the storage-layer flag is
// the only arbiter, so this holds across concurrently running instances.
func (s *Service) Process(ctx context.Context, credentialID uuid.UUID) error {
	acquired, err := s.store.TryBeginEnrichment(ctx, credentialID)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}

	rec, err := s.store.FindByID(ctx, credentialID)
	if err != nil {
		_ = s.store.AbortEnrichment(ctx, credentialID)
		return err
	}

	extracted := s.extract(ctx, rec)
	analysis := s.analyze(ctx, rec, extracted)

	now := requestcontext.Now(ctx).UTC()
	md := rec.Metadata
	md.AIExtracted = &extracted
	md.AIAnalysis = analysis
	md.AIProcessingCompletedAt = &now

	if err := s.store.FinishEnrichment(ctx, credentialID, md); err != nil {
		_ = s.store.AbortEnrichment(ctx, credentialID)
		return err
	}
	s.metrics.IncEnrichCompleted(extracted.Provenance)
	s.logger.InfoContext(ctx, "enrichment completed",
		"credential_id", credentialID,
		"provenance", extracted.Provenance,
		"skills", len(extracted.Skills),
	)
	return nil
}

// extract runs the model extraction, falling back to the local heuristic when
// the service is unconfigured, its breaker rejects the call, or the call
// fails. An open breaker still lets one probe through per cooldown window, so
// a recovered extraction service closes it again without a restart.
func (s *Service) extract(ctx context.Context, rec models.CredentialRecord) models.AIExtracted {
	if s.client == nil || !s.breaker.Allow() {
		return s.fallback(ctx, rec)
	}

	evidenceBytes, err := s.evidence.Fetch(ctx, rec.EvidencePointer)
	if err != nil {
		s.logger.WarnContext(ctx, "evidence fetch failed, using heuristic",
			"credential_id", rec.ID, "error", err)
		return s.fallback(ctx, rec)
	}

	extracted, err := s.client.Extract(ctx, path.Base(rec.EvidencePointer), evidenceBytes)
	if err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "extraction breaker opened", "breaker", s.breaker.Name())
		}
		s.logger.WarnContext(ctx, "extraction failed, using heuristic",
			"credential_id", rec.ID, "error", err)
		return s.fallback(ctx, rec)
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "extraction breaker closed", "breaker", s.breaker.Name())
	}
	return extracted
}

func (s *Service) fallback(ctx context.Context, rec models.CredentialRecord) models.AIExtracted {
	s.metrics.IncEnrichFallback()
	return HeuristicExtract(rec)
}

// analyze fans out the two analyses concurrently. Each outcome is captured
// independently: one analysis failing never discards the other's result, and
// the goroutines always return nil so neither cancels its sibling.
func (s *Service) analyze(ctx context.Context, rec models.CredentialRecord, extracted models.AIExtracted) *models.AIAnalysis {
	if s.client == nil {
		return nil
	}

	var (
		stackability    models.StackabilityResult
		stackabilityErr error
		pathway         models.PathwayResult
		pathwayErr      error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stackability, stackabilityErr = s.client.Stackability(gctx, rec, extracted)
		return nil
	})
	g.Go(func() error {
		pathway, pathwayErr = s.client.Roadmap(gctx, rec, extracted)
		return nil
	})
	_ = g.Wait()

	analysis := &models.AIAnalysis{}
	if stackabilityErr != nil {
		analysis.StackabilityError = stackabilityErr.Error()
		s.logger.WarnContext(ctx, "stackability analysis failed",
			"credential_id", rec.ID, "error", stackabilityErr)
	} else {
		analysis.Stackability = &stackability
	}
	if pathwayErr != nil {
		analysis.PathwayError = pathwayErr.Error()
		s.logger.WarnContext(ctx, "roadmap analysis failed",
			"credential_id", rec.ID, "error", pathwayErr)
	} else {
		analysis.Pathway = &pathway
	}
	return analysis
}
