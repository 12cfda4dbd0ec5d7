// Package ledger anchors credential content hashes on an external ledger
// service with at-least-once semantics. The durable queue is the database
// itself: any credential with a null ledger_tx is an outstanding job.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"credsync/pkg/platform/sentinel"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks -source=client.go Client

// AnchorResult is the ledger service's confirmation of a write.
type AnchorResult struct {
	TxHash      string
	ConfirmedAt time.Time
}

// Client submits anchor writes to the ledger service.
type Client interface {
	Anchor(ctx context.Context, credentialID uuid.UUID, dataHash, evidencePointer string) (AnchorResult, error)
}

// HTTPClient talks to the ledger service over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a ledger client with a bounded per-call timeout.
// Ledger confirmation is slow compared to other calls, so the timeout is
// expected in the tens of seconds.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type anchorRequest struct {
	CredentialID    uuid.UUID `json:"credential_id"`
	DataHash        string    `json:"data_hash"`
	EvidencePointer string    `json:"evidence_pointer"`
}

type anchorResponse struct {
	TxHash      string    `json:"tx_hash"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func (c *HTTPClient) Anchor(ctx context.Context, credentialID uuid.UUID, dataHash, evidencePointer string) (AnchorResult, error) {
	payload, err := json.Marshal(anchorRequest{
		CredentialID:    credentialID,
		DataHash:        dataHash,
		EvidencePointer: evidencePointer,
	})
	if err != nil {
		return AnchorResult{}, fmt.Errorf("marshal anchor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/ledger/anchor", bytes.NewReader(payload))
	if err != nil {
		return AnchorResult{}, fmt.Errorf("build anchor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return AnchorResult{}, fmt.Errorf("anchor call: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return AnchorResult{}, fmt.Errorf("anchor call: status=%d body=%s: %w",
			resp.StatusCode, body, sentinel.ErrUnavailable)
	}

	var out anchorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return AnchorResult{}, fmt.Errorf("decode anchor response: %w", err)
	}
	if out.TxHash == "" {
		return AnchorResult{}, fmt.Errorf("anchor call: empty tx hash")
	}
	if out.ConfirmedAt.IsZero() {
		out.ConfirmedAt = time.Now().UTC()
	}
	return AnchorResult{TxHash: out.TxHash, ConfirmedAt: out.ConfirmedAt}, nil
}
