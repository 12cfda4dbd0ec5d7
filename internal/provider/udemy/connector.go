// Package udemy adapts the course platform's completion API. Authentication
// is OAuth2 client credentials; pagination is page/page_size with the server
// returning an absolute next-page URL used as the cursor.
package udemy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"credsync/internal/credential/models"
	"credsync/internal/provider"
	"credsync/internal/provider/token"
)

const (
	providerName = "udemy"
	tokenKey     = "udemy"

	tokenExpirySlack = 30 * time.Second
)

// Config carries the Udemy connection settings.
type Config struct {
	BaseURL      string
	IssuerID     string
	ClientID     string
	ClientSecret string
	PageSize     int
}

// Connector implements provider.Connector for Udemy completions.
type Connector struct {
	cfg    Config
	tokens token.Store
	http   *http.Client
}

// New creates a Udemy connector backed by the given token store.
func New(cfg Config, tokens token.Store) *Connector {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Connector{
		cfg:    cfg,
		tokens: tokens,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Connector) Provider() models.Provider { return models.ProviderUdemy }

// IssuerID is the organization this connector is scoped to.
func (c *Connector) IssuerID() string { return c.cfg.IssuerID }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Connector) Authenticate(ctx context.Context) error {
	if _, ok, err := c.tokens.Get(ctx, tokenKey); err != nil {
		return err
	} else if ok {
		return nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("udemy: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := provider.DoJSON(c.http, providerName, req)
	if err != nil {
		return err
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("udemy: decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return &provider.AuthError{Provider: providerName, Reason: "empty access token"}
	}

	ttl := time.Duration(out.ExpiresIn)*time.Second - tokenExpirySlack
	if ttl <= 0 {
		ttl = time.Minute
	}
	return c.tokens.Put(ctx, tokenKey, out.AccessToken, ttl)
}

type listResponse struct {
	Results []wireRecord `json:"results"`
	Next    string       `json:"next"`
	Count   int          `json:"count"`
}

type wireRecord struct {
	ID             json.Number `json:"id"`
	CompletionDate string      `json:"completion_date"`
	CertificateURL string      `json:"certificate_url"`
	Course         struct {
		Title                  string  `json:"title"`
		Category               string  `json:"category"`
		Description            string  `json:"description"`
		EstimatedContentLength float64 `json:"estimated_content_length"`
	} `json:"course"`
	User struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
}

func (c *Connector) FetchPage(ctx context.Context, watermark time.Time, pageToken string) (provider.Page, error) {
	accessToken, ok, err := c.tokens.Get(ctx, tokenKey)
	if err != nil {
		return provider.Page{}, err
	}
	if !ok {
		return provider.Page{}, &provider.AuthError{Provider: providerName, Reason: "no cached session"}
	}

	pageURL := pageToken
	if pageURL == "" {
		q := url.Values{}
		q.Set("page", "1")
		q.Set("page_size", strconv.Itoa(c.cfg.PageSize))
		if !watermark.IsZero() {
			q.Set("completed_after", watermark.UTC().Format(time.RFC3339))
		}
		pageURL = fmt.Sprintf("%s/organizations/%s/completions/?%s",
			c.cfg.BaseURL, c.cfg.IssuerID, q.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return provider.Page{}, fmt.Errorf("udemy: build list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, err := provider.DoJSON(c.http, providerName, req)
	if err != nil {
		if provider.IsAuth(err) {
			_ = c.tokens.Delete(ctx, tokenKey)
		}
		return provider.Page{}, err
	}

	var out listResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return provider.Page{}, fmt.Errorf("udemy: decode list response: %w", err)
	}

	page := provider.Page{
		Records:       make([]provider.Record, 0, len(out.Results)),
		HasMore:       out.Next != "",
		NextPageToken: out.Next,
	}
	for _, w := range out.Results {
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
	if w.ID.String() == "" {
		return provider.Record{}, &provider.ValidationError{
			Provider: providerName, ExternalID: w.ID.String(), Reason: "missing completion id",
		}
	}
	issuedAt, err := time.Parse(time.RFC3339, w.CompletionDate)
	if err != nil {
		issuedAt, err = time.Parse("2006-01-02", w.CompletionDate)
		if err != nil {
			return provider.Record{}, &provider.ValidationError{
				Provider: providerName, ExternalID: w.ID.String(),
				Reason: fmt.Sprintf("unparseable completion_date %q", w.CompletionDate),
			}
		}
	}

	rec := provider.Record{
		ExternalID:       w.ID.String(),
		LearnerEmail:     w.User.Email,
		LearnerName:      w.User.Name,
		CertificateTitle: w.Course.Title,
		Sector:           w.Course.Category,
		Description:      w.Course.Description,
		IssuedAt:         issuedAt,
		EvidenceRef:      w.CertificateURL,
	}
	if w.Course.EstimatedContentLength > 0 {
		// The platform reports content length in minutes.
		hours := w.Course.EstimatedContentLength / 60
		rec.DurationHours = &hours
	}
	return rec, nil
}

func (c *Connector) DownloadEvidence(ctx context.Context, evidenceRef string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, evidenceRef, nil)
	if err != nil {
		return nil, fmt.Errorf("udemy: build evidence request: %w", err)
	}
	return provider.DoJSON(c.http, providerName, req)
}
