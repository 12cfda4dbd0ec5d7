package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"credsync/internal/credential/models"
	"credsync/pkg/platform/sentinel"
)

// MemoryStore implements Store with in-process maps. Used by unit tests and
// by local runs without a database; not safe across multiple instances.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*models.CredentialRecord
	byKey     map[string]uuid.UUID // provider|external_id
	enriching map[uuid.UUID]bool
}

// NewMemory creates an empty in-memory credential store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[uuid.UUID]*models.CredentialRecord),
		byKey:     make(map[string]uuid.UUID),
		enriching: make(map[uuid.UUID]bool),
	}
}

func dedupKey(provider models.Provider, externalID string) string {
	return string(provider) + "|" + externalID
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, rec models.CredentialRecord) (models.CredentialRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupKey(rec.Provider, rec.ExternalID)
	if existingID, ok := s.byKey[key]; ok {
		return *s.byID[existingID], false, nil
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.LedgerStatus == "" {
		rec.LedgerStatus = models.LedgerPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	stored := rec
	s.byID[stored.ID] = &stored
	s.byKey[key] = stored.ID
	return stored, true, nil
}

func (s *MemoryStore) Exists(ctx context.Context, provider models.Provider, externalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byKey[dedupKey(provider, externalID)]
	return ok, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id uuid.UUID) (models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return models.CredentialRecord{}, sentinel.ErrNotFound
	}
	return *rec, nil
}

func (s *MemoryStore) Claim(ctx context.Context, learnerID uuid.UUID, emails []string) (int64, error) {
	wanted := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		wanted[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed int64
	for _, rec := range s.byID {
		if rec.LearnerID != nil {
			continue
		}
		if !matchesAnyEmail(rec, wanted) {
			continue
		}
		id := learnerID
		rec.LearnerID = &id
		claimed++
	}
	return claimed, nil
}

func matchesAnyEmail(rec *models.CredentialRecord, wanted map[string]struct{}) bool {
	if _, ok := wanted[strings.ToLower(rec.LearnerEmail)]; ok {
		return true
	}
	for _, alt := range rec.AltEmails {
		if _, ok := wanted[strings.ToLower(alt)]; ok {
			return true
		}
	}
	return false
}

func (s *MemoryStore) SetLedgerConfirmed(ctx context.Context, id uuid.UUID, txHash string, confirmedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.LedgerTx != nil {
		// Already confirmed; the transition is one-way.
		return nil
	}
	tx := txHash
	rec.LedgerTx = &tx
	rec.LedgerStatus = models.LedgerConfirmed
	rec.LedgerConfirmedAt = &confirmedAt
	rec.LedgerLastError = ""
	rec.LedgerAttempts++
	return nil
}

func (s *MemoryStore) SetLedgerFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.LedgerTx != nil {
		return nil
	}
	rec.LedgerStatus = models.LedgerFailed
	rec.LedgerLastError = lastError
	rec.LedgerAttempts++
	return nil
}

func (s *MemoryStore) ListLedgerPending(ctx context.Context, limit int) ([]models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CredentialRecord, 0)
	for _, rec := range s.byID {
		if rec.LedgerTx == nil {
			out = append(out, *rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) TryBeginEnrichment(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if rec.Metadata.AIProcessingCompletedAt != nil || s.enriching[id] {
		return false, nil
	}
	s.enriching[id] = true
	return true, nil
}

func (s *MemoryStore) FinishEnrichment(ctx context.Context, id uuid.UUID, md models.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	rec.Metadata = md
	delete(s.enriching, id)
	return nil
}

func (s *MemoryStore) AbortEnrichment(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.enriching, id)
	return nil
}

// MemoryWatermarkStore implements WatermarkStore with an in-process map.
type MemoryWatermarkStore struct {
	mu    sync.RWMutex
	marks map[string]time.Time
}

// NewMemoryWatermarks creates an empty in-memory watermark store.
func NewMemoryWatermarks() *MemoryWatermarkStore {
	return &MemoryWatermarkStore{marks: make(map[string]time.Time)}
}

func watermarkKey(provider models.Provider, issuerID string) string {
	return string(provider) + "|" + issuerID
}

func (s *MemoryWatermarkStore) Get(ctx context.Context, provider models.Provider, issuerID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marks[watermarkKey(provider, issuerID)], nil
}

func (s *MemoryWatermarkStore) Advance(ctx context.Context, provider models.Provider, issuerID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := watermarkKey(provider, issuerID)
	if ts.After(s.marks[key]) {
		s.marks[key] = ts
	}
	return nil
}
