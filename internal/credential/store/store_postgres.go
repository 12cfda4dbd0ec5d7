package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "embed"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"credsync/internal/credential/models"
	"credsync/pkg/platform/sentinel"
)

//go:embed schema.sql
var schemaSQL string

const credentialColumns = `id, provider, external_id, issuer_id, learner_id, learner_email,
	learner_phone, alt_emails, learner_name, certificate_title, certificate_code, sector,
	nsqf_level, duration_hours, awarding_bodies, occupation, description, issued_at,
	data_hash, evidence_pointer, ledger_tx, ledger_status, ledger_attempts,
	ledger_last_error, ledger_confirmed_at, metadata, created_at`

// PostgresStore persists credential records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed credential store.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema applies the credential schema. Idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply credential schema: %w", err)
	}
	return nil
}

// CreateIfAbsent stores the record exactly as given: the content fields feed
// the data hash, so any normalization must happen before hashing, not here.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, rec models.CredentialRecord) (models.CredentialRecord, bool, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.LedgerStatus == "" {
		rec.LedgerStatus = models.LedgerPending
	}
	metadataBytes, err := json.Marshal(rec.Metadata)
	if err != nil {
		return models.CredentialRecord{}, false, fmt.Errorf("marshal credential metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (
			id, provider, external_id, issuer_id, learner_id, learner_email,
			learner_phone, alt_emails, learner_name, certificate_title,
			certificate_code, sector, nsqf_level, duration_hours, awarding_bodies,
			occupation, description, issued_at, data_hash, evidence_pointer,
			ledger_status, metadata
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		ON CONFLICT (provider, external_id) DO NOTHING`,
		rec.ID, rec.Provider, rec.ExternalID, rec.IssuerID, rec.LearnerID,
		rec.LearnerEmail, rec.LearnerPhone, rec.AltEmails,
		rec.LearnerName, rec.CertificateTitle, rec.CertificateCode, rec.Sector,
		rec.NSQFLevel, rec.DurationHours, rec.AwardingBodies, rec.Occupation,
		rec.Description, rec.IssuedAt, rec.DataHash, rec.EvidencePointer,
		rec.LedgerStatus, metadataBytes,
	)
	if err != nil {
		return models.CredentialRecord{}, false, fmt.Errorf("insert credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.findByKey(ctx, rec.Provider, rec.ExternalID)
		if err != nil {
			return models.CredentialRecord{}, false, err
		}
		return existing, false, nil
	}
	created, err := s.FindByID(ctx, rec.ID)
	if err != nil {
		return models.CredentialRecord{}, false, err
	}
	return created, true, nil
}

func (s *PostgresStore) Exists(ctx context.Context, provider models.Provider, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM credentials WHERE provider = $1 AND external_id = $2)`,
		provider, externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check credential existence: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (models.CredentialRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id)
	rec, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CredentialRecord{}, sentinel.ErrNotFound
		}
		return models.CredentialRecord{}, fmt.Errorf("find credential by id: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) findByKey(ctx context.Context, provider models.Provider, externalID string) (models.CredentialRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE provider = $1 AND external_id = $2`,
		provider, externalID)
	rec, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CredentialRecord{}, sentinel.ErrNotFound
		}
		return models.CredentialRecord{}, fmt.Errorf("find credential by key: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Claim(ctx context.Context, learnerID uuid.UUID, emails []string) (int64, error) {
	lowered := make([]string, 0, len(emails))
	for _, e := range emails {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(e)))
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE credentials
		SET learner_id = $1
		WHERE learner_id IS NULL
		  AND (learner_email = ANY($2) OR alt_emails && $2)`,
		learnerID, lowered,
	)
	if err != nil {
		return 0, fmt.Errorf("claim credentials: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) SetLedgerConfirmed(ctx context.Context, id uuid.UUID, txHash string, confirmedAt time.Time) error {
	// Guarded write: a record already holding a transaction hash is left
	// untouched so duplicate anchor responses cannot overwrite it.
	tag, err := s.pool.Exec(ctx, `
		UPDATE credentials
		SET ledger_tx = $2,
		    ledger_status = $3,
		    ledger_confirmed_at = $4,
		    ledger_last_error = '',
		    ledger_attempts = ledger_attempts + 1
		WHERE id = $1 AND ledger_tx IS NULL`,
		id, txHash, models.LedgerConfirmed, confirmedAt,
	)
	if err != nil {
		return fmt.Errorf("confirm ledger anchor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := s.existsByID(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return sentinel.ErrNotFound
		}
	}
	return nil
}

func (s *PostgresStore) SetLedgerFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE credentials
		SET ledger_status = $2,
		    ledger_last_error = $3,
		    ledger_attempts = ledger_attempts + 1
		WHERE id = $1 AND ledger_tx IS NULL`,
		id, models.LedgerFailed, lastError,
	)
	if err != nil {
		return fmt.Errorf("record ledger failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := s.existsByID(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return sentinel.ErrNotFound
		}
	}
	return nil
}

func (s *PostgresStore) existsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM credentials WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check credential existence: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListLedgerPending(ctx context.Context, limit int) ([]models.CredentialRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+`
		 FROM credentials
		 WHERE ledger_tx IS NULL
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger pending: %w", err)
	}
	defer rows.Close()

	var out []models.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger pending: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger pending: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) TryBeginEnrichment(ctx context.Context, id uuid.UUID) (bool, error) {
	// Single writer per record: the flag flips only when unset and the
	// record has not already completed enrichment.
	tag, err := s.pool.Exec(ctx, `
		UPDATE credentials
		SET ai_started_at = now()
		WHERE id = $1
		  AND ai_started_at IS NULL
		  AND metadata->>'ai_processing_completed_at' IS NULL`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("begin enrichment: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	exists, err := s.existsByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, sentinel.ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) FinishEnrichment(ctx context.Context, id uuid.UUID, md models.Metadata) error {
	metadataBytes, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal enrichment metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials SET metadata = $2 WHERE id = $1`, id, metadataBytes)
	if err != nil {
		return fmt.Errorf("finish enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AbortEnrichment(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE credentials SET ai_started_at = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("abort enrichment: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (models.CredentialRecord, error) {
	var (
		rec           models.CredentialRecord
		metadataBytes []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Provider, &rec.ExternalID, &rec.IssuerID, &rec.LearnerID,
		&rec.LearnerEmail, &rec.LearnerPhone, &rec.AltEmails, &rec.LearnerName,
		&rec.CertificateTitle, &rec.CertificateCode, &rec.Sector, &rec.NSQFLevel,
		&rec.DurationHours, &rec.AwardingBodies, &rec.Occupation, &rec.Description,
		&rec.IssuedAt, &rec.DataHash, &rec.EvidencePointer, &rec.LedgerTx,
		&rec.LedgerStatus, &rec.LedgerAttempts, &rec.LedgerLastError,
		&rec.LedgerConfirmedAt, &metadataBytes, &rec.CreatedAt,
	)
	if err != nil {
		return models.CredentialRecord{}, err
	}
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &rec.Metadata); err != nil {
			return models.CredentialRecord{}, fmt.Errorf("decode credential metadata: %w", err)
		}
	}
	return rec, nil
}

// PostgresWatermarkStore persists per-issuer sync watermarks.
type PostgresWatermarkStore struct {
	pool *pgxpool.Pool
}

// NewPostgresWatermarks constructs a PostgreSQL-backed watermark store.
func NewPostgresWatermarks(pool *pgxpool.Pool) *PostgresWatermarkStore {
	return &PostgresWatermarkStore{pool: pool}
}

func (s *PostgresWatermarkStore) Get(ctx context.Context, provider models.Provider, issuerID string) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_synced_at FROM sync_watermarks WHERE provider = $1 AND issuer_id = $2`,
		provider, issuerID,
	).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get sync watermark: %w", err)
	}
	return ts, nil
}

func (s *PostgresWatermarkStore) Advance(ctx context.Context, provider models.Provider, issuerID string, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_watermarks (provider, issuer_id, last_synced_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, issuer_id)
		DO UPDATE SET last_synced_at = GREATEST(sync_watermarks.last_synced_at, EXCLUDED.last_synced_at)`,
		provider, issuerID, ts,
	)
	if err != nil {
		return fmt.Errorf("advance sync watermark: %w", err)
	}
	return nil
}
