// Package store persists credential records and sync watermarks. Both the
// Postgres and the in-memory implementation satisfy the same interfaces;
// services depend only on the interfaces.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"credsync/internal/credential/models"
)

// Store is the credential repository. Implementations return
// sentinel.ErrNotFound for missing records; CreateIfAbsent treats a
// uniqueness conflict as "already present", not as an error.
type Store interface {
	// CreateIfAbsent inserts the record unless one already exists for its
	// (provider, external_id). Safe under concurrent callers: uniqueness is
	// enforced by the storage layer, not by a pre-check.
	CreateIfAbsent(ctx context.Context, rec models.CredentialRecord) (models.CredentialRecord, bool, error)

	// Exists reports whether a record exists for (provider, externalID).
	Exists(ctx context.Context, provider models.Provider, externalID string) (bool, error)

	FindByID(ctx context.Context, id uuid.UUID) (models.CredentialRecord, error)

	// Claim attaches learnerID to unclaimed records whose learner-matching
	// emails intersect the supplied set. Returns how many were claimed.
	Claim(ctx context.Context, learnerID uuid.UUID, emails []string) (int64, error)

	// SetLedgerConfirmed records the ledger transaction. The write is guarded:
	// it only applies while ledger_tx is still null, so a duplicated external
	// submission can never produce a second transition.
	SetLedgerConfirmed(ctx context.Context, id uuid.UUID, txHash string, confirmedAt time.Time) error

	// SetLedgerFailed records a failed attempt, leaving ledger_tx null so the
	// recovery sweep picks the record up again.
	SetLedgerFailed(ctx context.Context, id uuid.UUID, lastError string) error

	// ListLedgerPending returns records whose ledger_tx is still null. This is
	// the durable ledger job queue: no separate queue storage is trusted.
	ListLedgerPending(ctx context.Context, limit int) ([]models.CredentialRecord, error)

	// TryBeginEnrichment acquires the per-credential enrichment flag. Returns
	// false when another attempt is already in flight or enrichment has
	// already completed. Enforced at the storage layer so the guarantee holds
	// across concurrently running instances.
	TryBeginEnrichment(ctx context.Context, id uuid.UUID) (bool, error)

	// FinishEnrichment writes the merged enrichment result in one pass and
	// releases the flag.
	FinishEnrichment(ctx context.Context, id uuid.UUID, md models.Metadata) error

	// AbortEnrichment releases the flag without writing results, so a later
	// retry can acquire it again.
	AbortEnrichment(ctx context.Context, id uuid.UUID) error
}

// WatermarkStore persists per-(provider, issuer) sync watermarks.
type WatermarkStore interface {
	// Get returns the current watermark, or the zero time when the pair has
	// never been synced.
	Get(ctx context.Context, provider models.Provider, issuerID string) (time.Time, error)

	// Advance moves the watermark forward. Implementations must ignore
	// regressions so the watermark stays monotonically non-decreasing.
	Advance(ctx context.Context, provider models.Provider, issuerID string, ts time.Time) error
}
