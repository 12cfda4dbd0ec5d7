package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credsync/internal/credential/models"
	"credsync/pkg/platform/sentinel"
)

func hashRecord() models.CredentialRecord {
	return models.CredentialRecord{
		ID:               uuid.New(),
		Provider:         models.ProviderNSDC,
		ExternalID:       "ext-1",
		IssuerID:         "issuer-1",
		LearnerEmail:     "a@example.com",
		CertificateTitle: "Welding Level 4",
		NSQFLevel:        4,
		AwardingBodies:   []string{"NSDC"},
		IssuedAt:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestComputeDataHashIsDeterministic(t *testing.T) {
	rec := hashRecord()

	first, err := ComputeDataHash(rec)
	require.NoError(t, err)
	second, err := ComputeDataHash(rec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	// Ingestion-time fields do not affect the digest.
	later := rec
	later.ID = uuid.New()
	later.CreatedAt = time.Now()
	later.EvidencePointer = "mem://somewhere"
	later.DataHash = first
	third, err := ComputeDataHash(later)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestComputeDataHashChangesWithContent(t *testing.T) {
	rec := hashRecord()
	base, err := ComputeDataHash(rec)
	require.NoError(t, err)

	changed := rec
	changed.CertificateTitle = "Welding Level 5"
	other, err := ComputeDataHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, base, other)
}

func TestVerifyDataHash(t *testing.T) {
	rec := hashRecord()
	hash, err := ComputeDataHash(rec)
	require.NoError(t, err)
	rec.DataHash = hash

	require.NoError(t, VerifyDataHash(rec))

	tampered := rec
	tampered.LearnerEmail = "attacker@example.com"
	err = VerifyDataHash(tampered)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrIntegrity)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	pointer, err := s.Upload(ctx, "cert.pdf", []byte("evidence bytes"))
	require.NoError(t, err)
	require.NotEmpty(t, pointer)

	got, err := s.Fetch(ctx, pointer)
	require.NoError(t, err)
	assert.Equal(t, []byte("evidence bytes"), got)

	_, err = s.Fetch(ctx, "mem://missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
