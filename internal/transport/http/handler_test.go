package httptransport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credsync/internal/credential/models"
	"credsync/internal/credential/store"
	"credsync/internal/evidence"
	"credsync/internal/ledger"
	"credsync/internal/platform/secrets"
	syncsvc "credsync/internal/sync"
	"credsync/pkg/testutil"
)

const testOperatorKey = "test-operator-key"

type stubAnchorer struct {
	err error
}

func (s *stubAnchorer) Anchor(_ context.Context, credentialID uuid.UUID, _, _ string) (ledger.AnchorResult, error) {
	if s.err != nil {
		return ledger.AnchorResult{}, s.err
	}
	return ledger.AnchorResult{
		TxHash:      "0x" + credentialID.String()[:8],
		ConfirmedAt: time.Now().UTC(),
	}, nil
}

type env struct {
	router      http.Handler
	credentials *store.MemoryStore
}

func newEnv(t *testing.T, anchorErr error) *env {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	credentials := store.NewMemory()
	watermarks := store.NewMemoryWatermarks()
	evidenceStore := evidence.NewMemory()

	svc := syncsvc.NewService(nil, credentials, watermarks, evidenceStore, syncsvc.Config{},
		syncsvc.WithLogger(logger))
	scheduler := syncsvc.NewScheduler(svc, time.Hour, logger)
	queue := ledger.NewQueue(credentials, &stubAnchorer{err: anchorErr}, 1, 16,
		ledger.WithLogger(logger))

	keyHash, err := secrets.Hash(testOperatorKey)
	require.NoError(t, err)

	h := New(logger, scheduler, svc, queue, credentials, keyHash, nil)
	return &env{router: NewRouter(h), credentials: credentials}
}

func (e *env) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set("Authorization", "Bearer "+testOperatorKey)
	return testutil.DoRequest(e.router, req)
}

func (e *env) seed(t *testing.T, ctx context.Context, n int) []models.CredentialRecord {
	t.Helper()
	out := make([]models.CredentialRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := models.CredentialRecord{
			Provider:         models.ProviderNSDC,
			ExternalID:       fmt.Sprintf("cert-%03d", i),
			IssuerID:         "nsdc-issuer",
			LearnerEmail:     fmt.Sprintf("learner%d@example.in", i),
			LearnerName:      "Asha Verma",
			CertificateTitle: "Certified Welder Level 4",
			Sector:           "Manufacturing",
			NSQFLevel:        4,
			DurationHours:    320,
			IssuedAt:         time.Date(2026, 3, 10+i, 0, 0, 0, 0, time.UTC),
		}
		hash, err := evidence.ComputeDataHash(rec)
		require.NoError(t, err)
		rec.DataHash = hash

		created, _, err := e.credentials.CreateIfAbsent(ctx, rec)
		require.NoError(t, err)
		out = append(out, created)
	}
	return out
}

func TestOperatorAuth(t *testing.T) {
	e := newEnv(t, nil)

	t.Run("missing key", func(t *testing.T) {
		rr := testutil.DoRequest(e.router, testutil.NewRequest(t, http.MethodGet, "/v1/sync/status"))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	t.Run("wrong key", func(t *testing.T) {
		req := testutil.NewRequest(t, http.MethodGet, "/v1/sync/status")
		req.Header.Set("Authorization", "Bearer nope")
		rr := testutil.DoRequest(e.router, req)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	t.Run("valid key", func(t *testing.T) {
		rr := e.do(t, testutil.NewRequest(t, http.MethodGet, "/v1/sync/status"))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("healthz is open", func(t *testing.T) {
		rr := testutil.DoRequest(e.router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatusOK(t, rr)
	})

	t.Run("metrics is open", func(t *testing.T) {
		rr := testutil.DoRequest(e.router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
		testutil.AssertStatusOK(t, rr)
	})
}

func TestSyncEndpoints(t *testing.T) {
	e := newEnv(t, nil)

	t.Run("run with no providers returns empty results", func(t *testing.T) {
		rr := e.do(t, testutil.NewRequest(t, http.MethodPost, "/v1/sync/run"))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONHasKey(t, rr, "results")
	})

	t.Run("unknown provider", func(t *testing.T) {
		rr := e.do(t, testutil.NewRequest(t, http.MethodPost, "/v1/sync/providers/coursera"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("status", func(t *testing.T) {
		rr := e.do(t, testutil.NewRequest(t, http.MethodGet, "/v1/sync/status"))
		testutil.AssertStatusOK(t, rr)
		status := testutil.UnmarshalResponse[syncsvc.Status](t, rr)
		assert.False(t, status.Running)
		assert.False(t, status.IsSyncing)
	})
}

func TestClaimEndpoint(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.seed(t, ctx, 2)

	learnerID := uuid.New()

	testutil.When(t, "a learner claims with matching emails", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/v1/claims", claimRequest{
			LearnerID: learnerID,
			Emails:    []string{"Learner0@example.in", "learner1@example.in"},
		})
		rr := e.do(t, req)
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[claimResponse](t, rr)
		assert.Equal(t, int64(2), resp.ClaimedCount)
	})

	testutil.Then(t, "a second claim on the same emails finds nothing", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/v1/claims", claimRequest{
			LearnerID: uuid.New(),
			Emails:    []string{"learner0@example.in"},
		})
		rr := e.do(t, req)
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[claimResponse](t, rr)
		assert.Equal(t, int64(0), resp.ClaimedCount)
	})

	t.Run("missing fields", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/v1/claims", claimRequest{LearnerID: learnerID})
		rr := e.do(t, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "invalid_input")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := testutil.NewRequestWithBody(t, http.MethodPost, "/v1/claims", "{not json")
		rr := e.do(t, req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})
}

func TestGetCredential(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	seeded := e.seed(t, ctx, 1)

	t.Run("found", func(t *testing.T) {
		rr := e.do(t, testutil.NewRequest(t, http.MethodGet, "/v1/credentials/"+seeded[0].ID.String()))
		testutil.AssertStatusOK(t, rr)
		rec := testutil.UnmarshalResponse[models.CredentialRecord](t, rr)
		assert.Equal(t, seeded[0].ID, rec.ID)
		assert.Equal(t, models.LedgerPending, rec.LedgerStatus)
	})

	t.Run("not found", func(t *testing.T) {
		rr := e.do(t, testutil.NewRequest(t, http.MethodGet, "/v1/credentials/"+uuid.NewString()))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})

	t.Run("invalid id", func(t *testing.T) {
		rr := e.do(t, testutil.NewRequest(t, http.MethodGet, "/v1/credentials/not-a-uuid"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})
}

func TestVerifyCredential(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	seeded := e.seed(t, ctx, 1)

	t.Run("intact record verifies", func(t *testing.T) {
		rr := e.do(t, testutil.NewRequest(t, http.MethodGet, "/v1/credentials/"+seeded[0].ID.String()+"/verify"))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[verifyResponse](t, rr)
		assert.True(t, resp.Valid)
		assert.Empty(t, resp.Reason)
	})

	t.Run("tampered record is reported, not repaired", func(t *testing.T) {
		tampered := models.CredentialRecord{
			Provider:         models.ProviderSIH,
			ExternalID:       "sih-777",
			IssuerID:         "sih",
			LearnerEmail:     "tamper@example.in",
			CertificateTitle: "Original Title",
			IssuedAt:         time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			DataHash:         "deadbeef",
		}
		created, _, err := e.credentials.CreateIfAbsent(ctx, tampered)
		require.NoError(t, err)

		rr := e.do(t, testutil.NewRequest(t, http.MethodGet, "/v1/credentials/"+created.ID.String()+"/verify"))
		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[verifyResponse](t, rr)
		assert.False(t, resp.Valid)
		assert.NotEmpty(t, resp.Reason)

		rr = e.do(t, testutil.NewRequest(t, http.MethodGet, "/v1/credentials/"+created.ID.String()))
		rec := testutil.UnmarshalResponse[models.CredentialRecord](t, rr)
		assert.Equal(t, "deadbeef", rec.DataHash)
	})
}

func TestLedgerSweepEndpoint(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms pending records", func(t *testing.T) {
		e := newEnv(t, nil)
		seeded := e.seed(t, ctx, 2)

		rr := e.do(t, testutil.NewRequest(t, http.MethodPost, "/v1/ledger/sweep"))
		testutil.AssertStatusOK(t, rr)
		result := testutil.UnmarshalResponse[ledger.SweepResult](t, rr)
		assert.Equal(t, 2, result.Resubmitted)
		assert.Equal(t, 2, result.Confirmed)
		assert.Equal(t, 0, result.Failed)

		rec, err := e.credentials.FindByID(ctx, seeded[0].ID)
		require.NoError(t, err)
		require.NotNil(t, rec.LedgerTx)
		assert.Equal(t, models.LedgerConfirmed, rec.LedgerStatus)
	})

	t.Run("reports failures without losing records", func(t *testing.T) {
		e := newEnv(t, fmt.Errorf("ledger unavailable"))
		seeded := e.seed(t, ctx, 1)

		rr := e.do(t, testutil.NewRequest(t, http.MethodPost, "/v1/ledger/sweep"))
		testutil.AssertStatusOK(t, rr)
		result := testutil.UnmarshalResponse[ledger.SweepResult](t, rr)
		assert.Equal(t, 1, result.Resubmitted)
		assert.Equal(t, 1, result.Failed)

		rec, err := e.credentials.FindByID(ctx, seeded[0].ID)
		require.NoError(t, err)
		assert.Nil(t, rec.LedgerTx)
		assert.Equal(t, models.LedgerFailed, rec.LedgerStatus)
	})
}
