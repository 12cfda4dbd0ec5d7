// Package sih adapts the skilling initiative API. Authentication is a static
// API key header; pagination is since/limit/offset with the server reporting
// has_more and the next offset.
package sih

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"credsync/internal/credential/models"
	"credsync/internal/provider"
)

const providerName = "sih"

// Config carries the SIH connection settings.
type Config struct {
	BaseURL  string
	IssuerID string
	APIKey   string
	PageSize int
}

// Connector implements provider.Connector for the SIH platform.
type Connector struct {
	cfg  Config
	http *http.Client
}

// New creates an SIH connector.
func New(cfg Config) *Connector {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Connector{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Connector) Provider() models.Provider { return models.ProviderSIH }

// IssuerID is the platform issuer this connector is scoped to.
func (c *Connector) IssuerID() string { return c.cfg.IssuerID }

// Authenticate is a no-op: the API key is static. A missing key is reported
// here so the scheduler fails fast instead of on the first page.
func (c *Connector) Authenticate(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return &provider.AuthError{Provider: providerName, Reason: "api key not configured"}
	}
	return nil
}

type listResponse struct {
	Data []wireRecord `json:"data"`
	Meta struct {
		Total      int  `json:"total"`
		HasMore    bool `json:"has_more"`
		NextOffset *int `json:"next_offset"`
	} `json:"meta"`
}

type wireRecord struct {
	CredentialID        string   `json:"credential_id"`
	ParticipantEmail    string   `json:"participant_email"`
	ParticipantPhone    string   `json:"participant_phone"`
	ParticipantName     string   `json:"participant_name"`
	SkillTitle          string   `json:"skill_title"`
	SkillCode           string   `json:"skill_code"`
	Sector              string   `json:"sector"`
	ProficiencyLevel    *float64 `json:"proficiency_level"`
	TrainingDuration    *float64 `json:"training_duration"`
	CompletionDate      string   `json:"completion_date"`
	CertifyingAuthority string   `json:"certifying_authority"`
	CertificateURL      string   `json:"certificate_url"`
}

func (c *Connector) FetchPage(ctx context.Context, watermark time.Time, pageToken string) (provider.Page, error) {
	offset := 0
	if pageToken != "" {
		parsed, err := strconv.Atoi(pageToken)
		if err != nil || parsed < 0 {
			return provider.Page{}, fmt.Errorf("sih: invalid page token %q", pageToken)
		}
		offset = parsed
	}

	q := url.Values{}
	q.Set("issuer_id", c.cfg.IssuerID)
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("offset", strconv.Itoa(offset))
	if !watermark.IsZero() {
		q.Set("since", watermark.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/certificates?"+q.Encode(), nil)
	if err != nil {
		return provider.Page{}, fmt.Errorf("sih: build list request: %w", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	body, err := provider.DoJSON(c.http, providerName, req)
	if err != nil {
		return provider.Page{}, err
	}

	var out listResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return provider.Page{}, fmt.Errorf("sih: decode list response: %w", err)
	}

	page := provider.Page{
		Records: make([]provider.Record, 0, len(out.Data)),
		HasMore: out.Meta.HasMore,
	}
	if out.Meta.NextOffset != nil {
		page.NextPageToken = strconv.Itoa(*out.Meta.NextOffset)
	}
	for _, w := range out.Data {
		rec, err := c.normalize(w)
		if err != nil {
			page.Invalid++
			continue
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

func (c *Connector) normalize(w wireRecord) (provider.Record, error) {
	if w.CredentialID == "" {
		return provider.Record{}, &provider.ValidationError{
			Provider: providerName, ExternalID: w.CredentialID, Reason: "missing credential_id",
		}
	}
	issuedAt, err := time.Parse(time.RFC3339, w.CompletionDate)
	if err != nil {
		issuedAt, err = time.Parse("2006-01-02", w.CompletionDate)
		if err != nil {
			return provider.Record{}, &provider.ValidationError{
				Provider: providerName, ExternalID: w.CredentialID,
				Reason: fmt.Sprintf("unparseable completion_date %q", w.CompletionDate),
			}
		}
	}

	rec := provider.Record{
		ExternalID:       w.CredentialID,
		LearnerEmail:     w.ParticipantEmail,
		LearnerPhone:     w.ParticipantPhone,
		LearnerName:      w.ParticipantName,
		CertificateTitle: w.SkillTitle,
		CertificateCode:  w.SkillCode,
		Sector:           w.Sector,
		NSQFLevel:        w.ProficiencyLevel,
		DurationHours:    w.TrainingDuration,
		IssuedAt:         issuedAt,
		EvidenceRef:      w.CertificateURL,
	}
	if w.CertifyingAuthority != "" {
		rec.AwardingBodies = []string{w.CertifyingAuthority}
	}
	return rec, nil
}

func (c *Connector) DownloadEvidence(ctx context.Context, evidenceRef string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, evidenceRef, nil)
	if err != nil {
		return nil, fmt.Errorf("sih: build evidence request: %w", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	return provider.DoJSON(c.http, providerName, req)
}
