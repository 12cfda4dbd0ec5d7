// Package sync drives incremental credential ingestion: it pulls pages from
// each provider, deduplicates against the repository, uploads evidence, and
// hands new records to the ledger queue and enrichment pipeline.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"credsync/internal/credential/models"
	"credsync/internal/credential/store"
	"credsync/internal/enrich"
	"credsync/internal/events"
	"credsync/internal/evidence"
	"credsync/internal/ledger"
	"credsync/internal/platform/metrics"
	"credsync/internal/provider"
	dErrors "credsync/pkg/domain-errors"
	"credsync/pkg/email"
	pstrings "credsync/pkg/platform/strings"
)

// Result reports what one sync job did. Failures are surfaced, never
// silently swallowed.
type Result struct {
	Provider         models.Provider `json:"provider"`
	Fetched          int             `json:"fetched"`
	Created          int             `json:"created"`
	SkippedDuplicate int             `json:"skipped_duplicate"`
	Failed           int             `json:"failed"`
	Errors           []string        `json:"errors,omitempty"`
}

// Config bounds the sync behavior.
type Config struct {
	MaxConcurrentJobs int
	MaxFetchAttempts  int
	MaxDurationHours  float64
	FetchTimeout      time.Duration
}

// Service runs sync jobs. One job per provider; pages within a job are
// strictly sequential because watermark advancement follows page order.
type Service struct {
	connectors map[models.Provider]provider.Connector
	store      store.Store
	watermarks store.WatermarkStore
	evidence   evidence.Store
	ledger     *ledger.Queue
	enrich     *enrich.Service
	events     *events.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	cfg        Config
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

// WithEvents sets the lifecycle event publisher.
func WithEvents(publisher *events.Publisher) Option {
	return func(s *Service) {
		s.events = publisher
	}
}

// WithLedger sets the ledger queue new records are submitted to.
func WithLedger(queue *ledger.Queue) Option {
	return func(s *Service) {
		s.ledger = queue
	}
}

// WithEnrichment sets the enrichment service new records are dispatched to.
func WithEnrichment(enrichment *enrich.Service) Option {
	return func(s *Service) {
		s.enrich = enrichment
	}
}

// NewService creates the sync service over the given connectors.
func NewService(
	connectors []provider.Connector,
	credentials store.Store,
	watermarks store.WatermarkStore,
	evidenceStore evidence.Store,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 3
	}
	if cfg.MaxFetchAttempts <= 0 {
		cfg.MaxFetchAttempts = 5
	}
	byProvider := make(map[models.Provider]provider.Connector, len(connectors))
	for _, c := range connectors {
		byProvider[c.Provider()] = c
	}
	s := &Service{
		connectors: byProvider,
		store:      credentials,
		watermarks: watermarks,
		evidence:   evidenceStore,
		tracer:     otel.Tracer("credsync/sync"),
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Providers lists the configured providers.
func (s *Service) Providers() []models.Provider {
	out := make([]models.Provider, 0, len(s.connectors))
	for p := range s.connectors {
		out = append(out, p)
	}
	return out
}

// SyncAll runs one job per configured provider through a bounded pool.
// Providers are independent: one failing does not stop the others.
func (s *Service) SyncAll(ctx context.Context) []Result {
	results := make([]Result, len(s.connectors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentJobs)
	i := 0
	for p := range s.connectors {
		idx, prov := i, p
		i++
		g.Go(func() error {
			result, err := s.SyncProvider(gctx, prov)
			if err != nil {
				result.Provider = prov
				result.Errors = append(result.Errors, err.Error())
			}
			results[idx] = result
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SyncProvider runs one sync job for a provider. The watermark only advances
// after a page has been fully attempted, so a crashed job re-delivers the
// failed page on the next run.
func (s *Service) SyncProvider(ctx context.Context, providerID models.Provider) (Result, error) {
	conn, ok := s.connectors[providerID]
	if !ok {
		return Result{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown provider %q", providerID))
	}

	ctx, span := s.tracer.Start(ctx, "sync.provider",
		trace.WithAttributes(attribute.String("provider", string(providerID))))
	defer span.End()

	start := time.Now()
	result := Result{Provider: providerID}

	if err := conn.Authenticate(ctx); err != nil {
		return result, err
	}

	issuerID := issuerOf(conn)
	watermark, err := s.watermarks.Get(ctx, providerID, issuerID)
	if err != nil {
		return result, err
	}

	pageToken := ""
	for {
		page, err := s.fetchPageWithRetry(ctx, conn, watermark, pageToken)
		if err != nil {
			// Auth expiry or a page that stayed down through all retries ends
			// the run; the unadvanced watermark re-delivers this page next time.
			result.Errors = append(result.Errors, err.Error())
			s.observeJob(providerID, start)
			return result, err
		}

		if page.Invalid > 0 {
			result.Fetched += page.Invalid
			result.Failed += page.Invalid
			s.logger.WarnContext(ctx, "records dropped during normalization",
				"provider", providerID,
				"invalid", page.Invalid,
			)
		}

		pageMax := s.processPage(ctx, conn, page.Records, &result)

		if !pageMax.IsZero() {
			if err := s.watermarks.Advance(ctx, providerID, issuerID, pageMax); err != nil {
				result.Errors = append(result.Errors, err.Error())
				s.observeJob(providerID, start)
				return result, err
			}
		}

		if !page.HasMore {
			break
		}
		if page.NextPageToken == pageToken {
			// A non-advancing cursor would refetch this page forever.
			err := fmt.Errorf("provider %s returned a non-advancing page cursor %q", providerID, pageToken)
			result.Errors = append(result.Errors, err.Error())
			s.observeJob(providerID, start)
			return result, err
		}
		pageToken = page.NextPageToken
	}

	s.observeJob(providerID, start)
	span.SetAttributes(
		attribute.Int("fetched", result.Fetched),
		attribute.Int("created", result.Created),
		attribute.Int("skipped_duplicate", result.SkippedDuplicate),
		attribute.Int("failed", result.Failed),
	)
	s.logger.InfoContext(ctx, "sync job finished",
		"provider", providerID,
		"fetched", result.Fetched,
		"created", result.Created,
		"skipped_duplicate", result.SkippedDuplicate,
		"failed", result.Failed,
	)
	return result, nil
}

// processPage attempts every record in the page, counting failures instead of
// aborting, and returns the max issued_at across attempted records.
func (s *Service) processPage(ctx context.Context, conn provider.Connector, records []provider.Record, result *Result) time.Time {
	var pageMax time.Time
	for _, rec := range records {
		result.Fetched++
		if rec.IssuedAt.After(pageMax) {
			pageMax = rec.IssuedAt
		}
		created, err := s.ingest(ctx, conn, rec)
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.ExternalID, err))
			s.metrics.IncRecordsFailed(string(conn.Provider()))
			s.logger.WarnContext(ctx, "record ingestion failed",
				"provider", conn.Provider(),
				"external_id", rec.ExternalID,
				"error", err,
			)
		case created:
			result.Created++
			s.metrics.IncCredentialsCreated(string(conn.Provider()))
		default:
			result.SkippedDuplicate++
			s.metrics.IncCredentialsSkipped(string(conn.Provider()))
		}
	}
	return pageMax
}

// IngestPushed runs one provider-pushed record through the same dedup,
// evidence, and hashing path as a pulled page. Webhook deliveries are
// at-least-once, so the dedup check makes redelivery a no-op.
func (s *Service) IngestPushed(ctx context.Context, providerID models.Provider, rec provider.Record) (bool, error) {
	conn, ok := s.connectors[providerID]
	if !ok {
		return false, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown provider %q", providerID))
	}

	created, err := s.ingest(ctx, conn, rec)
	if err != nil {
		s.metrics.IncRecordsFailed(string(providerID))
		return false, err
	}
	if created {
		s.metrics.IncCredentialsCreated(string(providerID))
	} else {
		s.metrics.IncCredentialsSkipped(string(providerID))
	}
	return created, nil
}

// ingest processes a single record end to end. Evidence upload must succeed
// before the row is created, so a failed upload leaves no orphan record.
func (s *Service) ingest(ctx context.Context, conn provider.Connector, rec provider.Record) (bool, error) {
	providerID := conn.Provider()

	if s.cfg.MaxDurationHours > 0 && rec.DurationHours != nil && *rec.DurationHours > s.cfg.MaxDurationHours {
		return false, fmt.Errorf("duration %.0fh exceeds cap %.0fh", *rec.DurationHours, s.cfg.MaxDurationHours)
	}

	exists, err := s.store.Exists(ctx, providerID, rec.ExternalID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	evidenceBytes, err := conn.DownloadEvidence(ctx, rec.EvidenceRef)
	if err != nil {
		return false, fmt.Errorf("download evidence: %w", err)
	}
	pointer, err := s.evidence.Upload(ctx, rec.ExternalID, evidenceBytes)
	if err != nil {
		return false, fmt.Errorf("upload evidence: %w", err)
	}

	var nsqfLevel int
	if rec.NSQFLevel != nil {
		nsqfLevel = int(*rec.NSQFLevel)
	}
	var durationHours float64
	if rec.DurationHours != nil {
		durationHours = *rec.DurationHours
	}
	learnerName := rec.LearnerName
	if learnerName == "" && rec.LearnerEmail != "" {
		learnerName = email.DisplayName(rec.LearnerEmail)
	}

	// Emails are normalized before hashing so the stored row and the digest
	// always agree, no matter how the provider cases them.
	learnerEmail := strings.ToLower(strings.TrimSpace(rec.LearnerEmail))

	candidate := models.CredentialRecord{
		Provider:         providerID,
		ExternalID:       rec.ExternalID,
		IssuerID:         issuerOf(conn),
		LearnerEmail:     learnerEmail,
		LearnerPhone:     rec.LearnerPhone,
		AltEmails:        pstrings.DedupeAndTrimLower(rec.AltEmails),
		LearnerName:      learnerName,
		CertificateTitle: rec.CertificateTitle,
		CertificateCode:  rec.CertificateCode,
		Sector:           rec.Sector,
		NSQFLevel:        nsqfLevel,
		DurationHours:    durationHours,
		AwardingBodies:   pstrings.DedupeAndTrim(rec.AwardingBodies),
		Occupation:       rec.Occupation,
		Description:      rec.Description,
		IssuedAt:         rec.IssuedAt,
		EvidencePointer:  pointer,
		LedgerStatus:     models.LedgerPending,
	}
	hash, err := evidence.ComputeDataHash(candidate)
	if err != nil {
		return false, err
	}
	candidate.DataHash = hash

	stored, created, err := s.store.CreateIfAbsent(ctx, candidate)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	// The record is durable; everything past this point is fire-and-forget.
	s.events.CredentialCreated(ctx, stored)
	if s.ledger != nil {
		s.ledger.Submit(stored.ID)
	}
	if s.enrich != nil {
		s.enrich.Dispatch(stored.ID)
	}
	return true, nil
}

// fetchPageWithRetry retries transient page failures with exponential backoff
// and jitter, honoring provider-requested delays. Auth failures pass through
// untouched so the caller can treat them as fatal for the run.
func (s *Service) fetchPageWithRetry(ctx context.Context, conn provider.Connector, watermark time.Time, pageToken string) (provider.Page, error) {
	fetchOnce := func() (provider.Page, error) {
		fetchCtx := ctx
		if s.cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
			defer cancel()
		}
		return conn.FetchPage(fetchCtx, watermark, pageToken)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxFetchAttempts; attempt++ {
		page, err := fetchOnce()
		if err == nil {
			return page, nil
		}
		lastErr = err

		retryAfter, transient := provider.IsTransient(err)
		if !transient {
			return provider.Page{}, err
		}

		sleep := retryAfter
		if sleep == 0 {
			sleep = backoff(attempt)
		}
		s.logger.WarnContext(ctx, "page fetch failed, retrying",
			"provider", conn.Provider(),
			"attempt", attempt,
			"sleep", sleep,
			"error", err,
		)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return provider.Page{}, ctx.Err()
		}
	}
	return provider.Page{}, fmt.Errorf("page failed after %d attempts: %w", s.cfg.MaxFetchAttempts, lastErr)
}

func backoff(attempt int) time.Duration {
	base := 500 * time.Millisecond
	sleep := base * time.Duration(1<<(attempt-1))
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep + time.Duration(rand.Intn(250))*time.Millisecond
}

func (s *Service) observeJob(providerID models.Provider, start time.Time) {
	s.metrics.ObserveSyncJob(string(providerID), time.Since(start).Seconds())
}

// issuerOf extracts the connector's configured issuer scope. Connectors that
// do not expose one fall back to the provider name.
func issuerOf(conn provider.Connector) string {
	type issuerer interface{ IssuerID() string }
	if i, ok := conn.(issuerer); ok && i.IssuerID() != "" {
		return i.IssuerID()
	}
	return string(conn.Provider())
}
