package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credsync/pkg/platform/sentinel"
)

func TestHTTPClientAnchor(t *testing.T) {
	credentialID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ledger/anchor", r.URL.Path)

		var req anchorRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, credentialID, req.CredentialID)
		assert.Equal(t, "hash-1", req.DataHash)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"tx_hash":      "0xabc",
			"confirmed_at": time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, 5*time.Second)

	result, err := c.Anchor(context.Background(), credentialID, "hash-1", "mem://evidence")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", result.TxHash)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), result.ConfirmedAt)
}

func TestHTTPClientAnchorUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, 5*time.Second)

	_, err := c.Anchor(context.Background(), uuid.New(), "hash-1", "ptr")
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestHTTPClientAnchorEmptyHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"tx_hash": ""})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, 5*time.Second)

	_, err := c.Anchor(context.Background(), uuid.New(), "hash-1", "ptr")
	require.Error(t, err)
}
