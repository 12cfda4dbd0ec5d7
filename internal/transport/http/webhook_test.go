package httptransport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credsync/internal/credential/models"
	"credsync/internal/credential/store"
	"credsync/internal/evidence"
	"credsync/internal/ledger"
	"credsync/internal/platform/secrets"
	"credsync/internal/provider"
	syncsvc "credsync/internal/sync"
	"credsync/pkg/testutil"
)

const testWebhookSecret = "test-webhook-secret"

type pushConnector struct{}

func (pushConnector) Provider() models.Provider          { return models.ProviderNSDC }
func (pushConnector) IssuerID() string                   { return "nsdc-issuer" }
func (pushConnector) Authenticate(context.Context) error { return nil }

func (pushConnector) FetchPage(context.Context, time.Time, string) (provider.Page, error) {
	return provider.Page{}, nil
}

func (pushConnector) DownloadEvidence(_ context.Context, ref string) ([]byte, error) {
	return []byte("evidence for " + ref), nil
}

func newWebhookEnv(t *testing.T) *env {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	credentials := store.NewMemory()

	svc := syncsvc.NewService(
		[]provider.Connector{pushConnector{}},
		credentials, store.NewMemoryWatermarks(), evidence.NewMemory(),
		syncsvc.Config{},
		syncsvc.WithLogger(logger),
	)
	scheduler := syncsvc.NewScheduler(svc, time.Hour, logger)
	queue := ledger.NewQueue(credentials, &stubAnchorer{}, 1, 16,
		ledger.WithLogger(logger))

	keyHash, err := secrets.Hash(testOperatorKey)
	require.NoError(t, err)

	h := New(logger, scheduler, svc, queue, credentials, keyHash,
		map[models.Provider]string{models.ProviderNSDC: testWebhookSecret})
	return &env{router: NewRouter(h), credentials: credentials}
}

func signedDelivery(t *testing.T, path string, delivery webhookDelivery) *http.Request {
	t.Helper()
	body, err := json.Marshal(delivery)
	require.NoError(t, err)

	req := testutil.NewRequestWithBody(t, http.MethodPost, path, string(body))
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	req.Header.Set(webhookSignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	return req
}

func testDelivery(externalID string) webhookDelivery {
	return webhookDelivery{
		ExternalID:       externalID,
		LearnerEmail:     "Pushed.Learner@Example.IN",
		CertificateTitle: "Certified Welder Level 4",
		IssuedAt:         time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		EvidenceURL:      "https://cdn.example.com/" + externalID + ".pdf",
	}
}

func TestWebhookIngestsPushedRecord(t *testing.T) {
	ctx := context.Background()
	e := newWebhookEnv(t)

	rr := testutil.DoRequest(e.router, signedDelivery(t, "/v1/webhooks/nsdc", testDelivery("push-1")))
	testutil.AssertStatus(t, rr, http.StatusAccepted)

	require.Eventually(t, func() bool {
		exists, err := e.credentials.Exists(ctx, models.ProviderNSDC, "push-1")
		return err == nil && exists
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := e.credentials.ListLedgerPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "pushed.learner@example.in", stored[0].LearnerEmail)
	require.NoError(t, evidence.VerifyDataHash(stored[0]))
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newWebhookEnv(t)

	for i := 0; i < 2; i++ {
		rr := testutil.DoRequest(e.router, signedDelivery(t, "/v1/webhooks/nsdc", testDelivery("push-1")))
		testutil.AssertStatus(t, rr, http.StatusAccepted)
	}

	require.Eventually(t, func() bool {
		exists, err := e.credentials.Exists(ctx, models.ProviderNSDC, "push-1")
		return err == nil && exists
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := e.credentials.ListLedgerPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	e := newWebhookEnv(t)

	t.Run("missing signature", func(t *testing.T) {
		body, err := json.Marshal(testDelivery("push-1"))
		require.NoError(t, err)
		req := testutil.NewRequestWithBody(t, http.MethodPost, "/v1/webhooks/nsdc", string(body))
		rr := testutil.DoRequest(e.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("wrong secret", func(t *testing.T) {
		body, err := json.Marshal(testDelivery("push-1"))
		require.NoError(t, err)
		req := testutil.NewRequestWithBody(t, http.MethodPost, "/v1/webhooks/nsdc", string(body))
		mac := hmac.New(sha256.New, []byte("not-the-secret"))
		mac.Write(body)
		req.Header.Set(webhookSignatureHeader, hex.EncodeToString(mac.Sum(nil)))
		rr := testutil.DoRequest(e.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})
}

func TestWebhookUnconfiguredProvider(t *testing.T) {
	e := newWebhookEnv(t)

	rr := testutil.DoRequest(e.router, signedDelivery(t, "/v1/webhooks/sih", testDelivery("push-1")))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
}

func TestWebhookValidatesDelivery(t *testing.T) {
	e := newWebhookEnv(t)

	missing := testDelivery("push-1")
	missing.ExternalID = ""
	rr := testutil.DoRequest(e.router, signedDelivery(t, "/v1/webhooks/nsdc", missing))
	testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "invalid_input")
}
