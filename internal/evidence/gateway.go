package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"credsync/pkg/platform/sentinel"
)

// GatewayStore uploads evidence to a content-addressed storage gateway and
// reads it back through the public gateway URL.
type GatewayStore struct {
	baseURL   string
	accessKey string
	http      *http.Client
}

// NewGateway creates a gateway-backed evidence store.
func NewGateway(baseURL, accessKey string, timeout time.Duration) *GatewayStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayStore{
		baseURL:   baseURL,
		accessKey: accessKey,
		http:      &http.Client{Timeout: timeout},
	}
}

type uploadResponse struct {
	CID        string `json:"cid"`
	GatewayURL string `json:"gateway_url"`
}

func (s *GatewayStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/objects", &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.accessKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload evidence: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload evidence: status=%d body=%s: %w", resp.StatusCode, body, sentinel.ErrUnavailable)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.GatewayURL != "" {
		return out.GatewayURL, nil
	}
	if out.CID == "" {
		return "", fmt.Errorf("upload evidence: empty content address")
	}
	return out.CID, nil
}

func (s *GatewayStore) Fetch(ctx context.Context, pointer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pointer, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch evidence: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, sentinel.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch evidence: status=%d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	return io.ReadAll(resp.Body)
}
