package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credsync/internal/credential/models"
	"credsync/internal/credential/store"
	"credsync/internal/evidence"
	"credsync/pkg/platform/circuit"
)

type fakeClient struct {
	mu              sync.Mutex
	extractErr      error
	stackabilityErr error
	roadmapErr      error
	extractCalls    int
}

func (f *fakeClient) Extract(ctx context.Context, filename string, data []byte) (models.AIExtracted, error) {
	f.mu.Lock()
	f.extractCalls++
	f.mu.Unlock()
	if f.extractErr != nil {
		return models.AIExtracted{}, f.extractErr
	}
	return models.AIExtracted{
		Skills:     []models.Skill{{Name: "Welding", Confidence: 0.9}},
		NSQFLevel:  4,
		Confidence: 0.9,
		Provenance: models.ProvenanceModel,
	}, nil
}

func (f *fakeClient) Stackability(ctx context.Context, rec models.CredentialRecord, extracted models.AIExtracted) (models.StackabilityResult, error) {
	if f.stackabilityErr != nil {
		return models.StackabilityResult{}, f.stackabilityErr
	}
	return models.StackabilityResult{
		Pathways: []models.StackPathway{{Title: "Welding Level 5", TargetNSQFLevel: 5, Completion: 0.6}},
	}, nil
}

func (f *fakeClient) Roadmap(ctx context.Context, rec models.CredentialRecord, extracted models.AIExtracted) (models.PathwayResult, error) {
	if f.roadmapErr != nil {
		return models.PathwayResult{}, f.roadmapErr
	}
	return models.PathwayResult{CurrentStage: "technician", NextSteps: []string{"supervisor course"}}, nil
}

func seedCredential(t *testing.T, s *store.MemoryStore, blobs *evidence.MemoryStore) models.CredentialRecord {
	t.Helper()
	ctx := context.Background()

	pointer, err := blobs.Upload(ctx, "cert.pdf", []byte("evidence bytes"))
	require.NoError(t, err)

	rec, _, err := s.CreateIfAbsent(ctx, models.CredentialRecord{
		Provider:         models.ProviderNSDC,
		ExternalID:       "ext-1",
		IssuerID:         "issuer-1",
		CertificateTitle: "Welding Level 4",
		IssuedAt:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DataHash:         "hash-1",
		EvidencePointer:  pointer,
	})
	require.NoError(t, err)
	return rec
}

func TestProcessFullPipeline(t *testing.T) {
	memory := store.NewMemory()
	blobs := evidence.NewMemory()
	rec := seedCredential(t, memory, blobs)

	svc := NewService(memory, blobs, &fakeClient{})
	require.NoError(t, svc.Process(context.Background(), rec.ID))

	got, err := memory.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata.AIExtracted)
	assert.Equal(t, models.ProvenanceModel, got.Metadata.AIExtracted.Provenance)
	require.NotNil(t, got.Metadata.AIAnalysis)
	require.NotNil(t, got.Metadata.AIAnalysis.Stackability)
	require.NotNil(t, got.Metadata.AIAnalysis.Pathway)
	require.NotNil(t, got.Metadata.AIProcessingCompletedAt)
}

func TestProcessPartialAnalysisFailure(t *testing.T) {
	memory := store.NewMemory()
	blobs := evidence.NewMemory()
	rec := seedCredential(t, memory, blobs)

	client := &fakeClient{roadmapErr: errors.New("roadmap timeout")}
	svc := NewService(memory, blobs, client)
	require.NoError(t, svc.Process(context.Background(), rec.ID))

	got, err := memory.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata.AIAnalysis)

	// One failed analysis does not discard the other's result, and the
	// completion stamp is still written.
	assert.NotNil(t, got.Metadata.AIAnalysis.Stackability)
	assert.Nil(t, got.Metadata.AIAnalysis.Pathway)
	assert.Equal(t, "roadmap timeout", got.Metadata.AIAnalysis.PathwayError)
	assert.NotNil(t, got.Metadata.AIProcessingCompletedAt)
}

func TestProcessFallsBackToHeuristic(t *testing.T) {
	memory := store.NewMemory()
	blobs := evidence.NewMemory()
	rec := seedCredential(t, memory, blobs)

	client := &fakeClient{extractErr: errors.New("extraction service down")}
	svc := NewService(memory, blobs, client)
	require.NoError(t, svc.Process(context.Background(), rec.ID))

	got, err := memory.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata.AIExtracted)
	assert.Equal(t, models.ProvenanceHeuristic, got.Metadata.AIExtracted.Provenance)
	assert.NotEmpty(t, got.Metadata.AIExtracted.Skills, "title mentions welding")
}

func TestProcessWithoutClientUsesHeuristic(t *testing.T) {
	memory := store.NewMemory()
	blobs := evidence.NewMemory()
	rec := seedCredential(t, memory, blobs)

	svc := NewService(memory, blobs, nil)
	require.NoError(t, svc.Process(context.Background(), rec.ID))

	got, err := memory.FindByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata.AIExtracted)
	assert.Equal(t, models.ProvenanceHeuristic, got.Metadata.AIExtracted.Provenance)
	assert.Nil(t, got.Metadata.AIAnalysis)
	assert.NotNil(t, got.Metadata.AIProcessingCompletedAt)
}

func TestProcessSecondAttemptIsNoOp(t *testing.T) {
	memory := store.NewMemory()
	blobs := evidence.NewMemory()
	rec := seedCredential(t, memory, blobs)

	client := &fakeClient{}
	svc := NewService(memory, blobs, client)

	require.NoError(t, svc.Process(context.Background(), rec.ID))
	require.NoError(t, svc.Process(context.Background(), rec.ID))

	assert.Equal(t, 1, client.extractCalls, "completed credentials are never re-enriched")
}

func TestExtractionBreakerRecoversAfterCooldown(t *testing.T) {
	memory := store.NewMemory()
	blobs := evidence.NewMemory()
	ctx := context.Background()

	seed := func(externalID string) models.CredentialRecord {
		pointer, err := blobs.Upload(ctx, externalID+".pdf", []byte("evidence "+externalID))
		require.NoError(t, err)
		rec, _, err := memory.CreateIfAbsent(ctx, models.CredentialRecord{
			Provider:         models.ProviderNSDC,
			ExternalID:       externalID,
			IssuerID:         "issuer-1",
			CertificateTitle: "Welding Level 4",
			IssuedAt:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			DataHash:         "hash-" + externalID,
			EvidencePointer:  pointer,
		})
		require.NoError(t, err)
		return rec
	}

	client := &fakeClient{extractErr: errors.New("extraction service down")}
	breaker := circuit.New("extract",
		circuit.WithFailureThreshold(1),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(50*time.Millisecond),
	)
	svc := NewService(memory, blobs, client, WithBreaker(breaker))

	first := seed("ext-1")
	require.NoError(t, svc.Process(ctx, first.ID))
	require.True(t, breaker.IsOpen())

	// While open, the primary is not attempted at all.
	blocked := seed("ext-2")
	require.NoError(t, svc.Process(ctx, blocked.ID))
	assert.Equal(t, 1, client.extractCalls)

	client.extractErr = nil
	time.Sleep(60 * time.Millisecond)

	// The first call after the cooldown probes the primary and closes the
	// breaker again.
	probed := seed("ext-3")
	require.NoError(t, svc.Process(ctx, probed.ID))
	assert.Equal(t, 2, client.extractCalls)
	assert.False(t, breaker.IsOpen())

	got, err := memory.FindByID(ctx, probed.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata.AIExtracted)
	assert.Equal(t, models.ProvenanceModel, got.Metadata.AIExtracted.Provenance)
}

func TestHeuristicExtractIsDeterministic(t *testing.T) {
	rec := models.CredentialRecord{
		CertificateTitle: "Advanced Welding and Electrical Safety",
		Sector:           "Manufacturing",
	}

	first := HeuristicExtract(rec)
	second := HeuristicExtract(rec)
	assert.Equal(t, first, second)

	require.Len(t, first.Skills, 2)
	assert.Equal(t, "Electrical Work", first.Skills[0].Name)
	assert.Equal(t, "Welding", first.Skills[1].Name)
	assert.Equal(t, models.ProvenanceHeuristic, first.Provenance)
	assert.Equal(t, heuristicDefaultLevel, first.NSQFLevel)
}
