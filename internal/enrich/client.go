// Package enrich augments stored credentials with extracted skills and
// analysis results from the AI service, falling back to a deterministic local
// heuristic when the service cannot be reached.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"credsync/internal/credential/models"
	"credsync/pkg/platform/sentinel"
)

// Client calls the enrichment service. Each method carries its own bounded
// timeout; a partial failure of one analysis never affects the other.
type Client interface {
	Extract(ctx context.Context, filename string, evidence []byte) (models.AIExtracted, error)
	Stackability(ctx context.Context, rec models.CredentialRecord, extracted models.AIExtracted) (models.StackabilityResult, error)
	Roadmap(ctx context.Context, rec models.CredentialRecord, extracted models.AIExtracted) (models.PathwayResult, error)
}

// HTTPClient talks to the enrichment service over HTTP.
type HTTPClient struct {
	baseURL         string
	extractTimeout  time.Duration
	analysisTimeout time.Duration
	http            *http.Client
}

// NewHTTPClient creates an enrichment client. Timeouts default to 45s for
// extraction and 30s per analysis.
func NewHTTPClient(baseURL string, extractTimeout, analysisTimeout time.Duration) *HTTPClient {
	if extractTimeout <= 0 {
		extractTimeout = 45 * time.Second
	}
	if analysisTimeout <= 0 {
		analysisTimeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:         baseURL,
		extractTimeout:  extractTimeout,
		analysisTimeout: analysisTimeout,
		http:            &http.Client{},
	}
}

func (c *HTTPClient) Extract(ctx context.Context, filename string, evidence []byte) (models.AIExtracted, error) {
	ctx, cancel := context.WithTimeout(ctx, c.extractTimeout)
	defer cancel()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return models.AIExtracted{}, fmt.Errorf("build extract form: %w", err)
	}
	if _, err := part.Write(evidence); err != nil {
		return models.AIExtracted{}, fmt.Errorf("write extract form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return models.AIExtracted{}, fmt.Errorf("close extract form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", &buf)
	if err != nil {
		return models.AIExtracted{}, fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return models.AIExtracted{}, err
	}

	var out models.AIExtracted
	if err := decodeLoose(body, &out); err != nil {
		return models.AIExtracted{}, fmt.Errorf("decode extract response: %w", err)
	}
	out.Provenance = models.ProvenanceModel
	return out, nil
}

type analysisRequest struct {
	CertificateTitle string         `json:"certificate_title"`
	Sector           string         `json:"sector"`
	NSQFLevel        int            `json:"nsqf_level"`
	Skills           []models.Skill `json:"skills"`
}

func (c *HTTPClient) Stackability(ctx context.Context, rec models.CredentialRecord, extracted models.AIExtracted) (models.StackabilityResult, error) {
	var out models.StackabilityResult
	if err := c.postAnalysis(ctx, "/stackability", rec, extracted, &out); err != nil {
		return models.StackabilityResult{}, err
	}
	return out, nil
}

func (c *HTTPClient) Roadmap(ctx context.Context, rec models.CredentialRecord, extracted models.AIExtracted) (models.PathwayResult, error) {
	var out models.PathwayResult
	if err := c.postAnalysis(ctx, "/generate-roadmap", rec, extracted, &out); err != nil {
		return models.PathwayResult{}, err
	}
	return out, nil
}

func (c *HTTPClient) postAnalysis(ctx context.Context, path string, rec models.CredentialRecord, extracted models.AIExtracted, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.analysisTimeout)
	defer cancel()

	payload, err := json.Marshal(analysisRequest{
		CertificateTitle: rec.CertificateTitle,
		Sector:           rec.Sector,
		NSQFLevel:        rec.NSQFLevel,
		Skills:           extracted.Skills,
	})
	if err != nil {
		return fmt.Errorf("marshal analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := decodeLoose(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrichment call: %w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read enrichment response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enrichment call: status=%d body=%s: %w",
			resp.StatusCode, truncate(body), sentinel.ErrUnavailable)
	}
	return body, nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// decodeLoose handles the service's loosely structured JSON with an explicit
// three-outcome decode: well-formed input parses directly; almost-JSON (markdown
// fences, leading prose, trailing commas) gets exactly one repair pass; anything
// still unparseable is a hard failure.
func decodeLoose(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err == nil {
		return nil
	}
	repaired, ok := repairJSON(body)
	if !ok {
		return fmt.Errorf("response is not valid JSON: %s", truncate(body))
	}
	if err := json.Unmarshal(repaired, out); err != nil {
		return fmt.Errorf("response unparseable after repair: %w", err)
	}
	return nil
}

// repairJSON extracts the outermost JSON object or array from a noisy payload
// and strips trailing commas. It does exactly one pass; it never loops.
func repairJSON(body []byte) ([]byte, bool) {
	s := string(body)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return nil, false
	}
	end := strings.LastIndexAny(s, "}]")
	if end <= start {
		return nil, false
	}
	s = s[start : end+1]

	// Trailing commas before a closing brace or bracket are the most common
	// defect in the service's output.
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if r == ',' {
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\n' || runes[j] == '\t' || runes[j] == '\r') {
				j++
			}
			if j < len(runes) && (runes[j] == '}' || runes[j] == ']') {
				continue
			}
		}
		b.WriteRune(r)
	}
	return []byte(b.String()), true
}
