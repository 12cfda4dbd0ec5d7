package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the scheduler's operator-visible state.
type Status struct {
	Running     bool       `json:"running"`
	IsSyncing   bool       `json:"is_syncing"`
	Interval    string     `json:"interval"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	NextSyncAt  *time.Time `json:"next_sync_at,omitempty"`
	LastResults []Result   `json:"last_results,omitempty"`
}

// Scheduler drives periodic full syncs. Manual triggers and the timer share
// a single-flight guard so two full syncs never overlap.
type Scheduler struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	running     bool
	syncing     bool
	lastSyncAt  *time.Time
	nextSyncAt  *time.Time
	lastResults []Result
}

// NewScheduler creates a scheduler over the sync service.
func NewScheduler(service *Service, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Run loops until the context is canceled, syncing every interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	next := time.Now().Add(s.interval)
	s.nextSyncAt = &next
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.running = false
			s.nextSyncAt = nil
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.TriggerAll(ctx)
			s.mu.Lock()
			next := time.Now().Add(s.interval)
			s.nextSyncAt = &next
			s.mu.Unlock()
		}
	}
}

// TriggerAll runs one full sync now. Returns nil without syncing when a full
// sync is already in flight.
func (s *Scheduler) TriggerAll(ctx context.Context) []Result {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		s.logger.InfoContext(ctx, "sync already in flight, skipping trigger")
		return nil
	}
	s.syncing = true
	s.mu.Unlock()

	results := s.service.SyncAll(ctx)

	now := time.Now()
	s.mu.Lock()
	s.syncing = false
	s.lastSyncAt = &now
	s.lastResults = results
	s.mu.Unlock()
	return results
}

// Status reports the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:     s.running,
		IsSyncing:   s.syncing,
		Interval:    s.interval.String(),
		LastSyncAt:  s.lastSyncAt,
		NextSyncAt:  s.nextSyncAt,
		LastResults: s.lastResults,
	}
}
