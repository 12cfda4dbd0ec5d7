// Package nsdc adapts the national skill registry API. Authentication is a
// signed JWT client assertion; pagination is page/per_page with a
// server-issued continuation token.
package nsdc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"credsync/internal/credential/models"
	"credsync/internal/provider"
	"credsync/internal/provider/token"
)

const (
	providerName = "nsdc"
	tokenKey     = "nsdc"

	// Tokens are refreshed slightly before the provider expires them.
	tokenExpirySlack = 30 * time.Second
)

// Config carries the NSDC connection settings.
type Config struct {
	BaseURL      string
	IssuerID     string
	ClientID     string
	ClientSecret string
	PageSize     int
}

// Connector implements provider.Connector for the NSDC registry.
type Connector struct {
	cfg    Config
	tokens token.Store
	http   *http.Client
}

// New creates an NSDC connector backed by the given token store.
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

func (c *Connector) Provider() models.Provider { return models.ProviderNSDC }

// IssuerID is the registry issuer this connector is scoped to.
func (c *Connector) IssuerID() string { return c.cfg.IssuerID }

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Authenticate posts a signed client assertion and caches the access token
// for its advertised lifetime.
func (c *Connector) Authenticate(ctx context.Context) error {
	if _, ok, err := c.tokens.Get(ctx, tokenKey); err != nil {
		return err
	} else if ok {
		return nil
	}

	assertion, err := c.signAssertion()
	if err != nil {
		return &provider.AuthError{Provider: providerName, Reason: err.Error()}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
	form.Set("client_assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/auth", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("nsdc: build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := provider.DoJSON(c.http, providerName, req)
	if err != nil {
		return err
	}

	var out authResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("nsdc: decode auth response: %w", err)
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

func (c *Connector) signAssertion() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.cfg.ClientID,
		"sub": c.cfg.ClientID,
		"aud": c.cfg.BaseURL + "/auth",
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(c.cfg.ClientSecret))
	if err != nil {
		return "", fmt.Errorf("sign client assertion: %w", err)
	}
	return signed, nil
}

type listResponse struct {
	Credentials   []wireRecord `json:"credentials"`
	NextPageToken string       `json:"next_page_token"`
}

type wireRecord struct {
	CredentialID       string   `json:"credential_id"`
	CandidateName      string   `json:"candidate_name"`
	CandidateEmail     string   `json:"candidate_email"`
	CandidatePhone     string   `json:"candidate_phone"`
	QualificationTitle string   `json:"qualification_title"`
	QPCode             string   `json:"qp_code"`
	Sector             string   `json:"sector"`
	NSQFLevel          *float64 `json:"nsqf_level"`
	TrainingHours      *struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"training_hours"`
	AwardingBody   string `json:"awarding_body"`
	Occupation     string `json:"occupation"`
	IssueDate      string `json:"issue_date"`
	CertificateURL string `json:"certificate_url"`
}

func (c *Connector) FetchPage(ctx context.Context, watermark time.Time, pageToken string) (provider.Page, error) {
	accessToken, ok, err := c.tokens.Get(ctx, tokenKey)
	if err != nil {
		return provider.Page{}, err
	}
	if !ok {
		return provider.Page{}, &provider.AuthError{Provider: providerName, Reason: "no cached session"}
	}

	q := url.Values{}
	q.Set("issuer_id", c.cfg.IssuerID)
	q.Set("per_page", strconv.Itoa(c.cfg.PageSize))
	if !watermark.IsZero() {
		q.Set("issued_since", watermark.UTC().Format(time.RFC3339))
	}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	} else {
		q.Set("page", "1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/credentials?"+q.Encode(), nil)
	if err != nil {
		return provider.Page{}, fmt.Errorf("nsdc: build list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	body, err := provider.DoJSON(c.http, providerName, req)
	if err != nil {
		if provider.IsAuth(err) {
			// Session likely expired server-side; evict so the next run
			// re-authenticates.
			_ = c.tokens.Delete(ctx, tokenKey)
		}
		return provider.Page{}, err
	}

	var out listResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return provider.Page{}, fmt.Errorf("nsdc: decode list response: %w", err)
	}

	page := provider.Page{
		Records:       make([]provider.Record, 0, len(out.Credentials)),
		HasMore:       out.NextPageToken != "",
		NextPageToken: out.NextPageToken,
	}
	for _, w := range out.Credentials {
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
	issuedAt, err := time.Parse(time.RFC3339, w.IssueDate)
	if err != nil {
		// The registry also emits bare dates.
		issuedAt, err = time.Parse("2006-01-02", w.IssueDate)
		if err != nil {
			return provider.Record{}, &provider.ValidationError{
				Provider: providerName, ExternalID: w.CredentialID,
				Reason: fmt.Sprintf("unparseable issue_date %q", w.IssueDate),
			}
		}
	}

	rec := provider.Record{
		ExternalID:       w.CredentialID,
		LearnerEmail:     w.CandidateEmail,
		LearnerPhone:     w.CandidatePhone,
		LearnerName:      w.CandidateName,
		CertificateTitle: w.QualificationTitle,
		CertificateCode:  w.QPCode,
		Sector:           w.Sector,
		NSQFLevel:        w.NSQFLevel,
		Occupation:       w.Occupation,
		IssuedAt:         issuedAt,
		EvidenceRef:      w.CertificateURL,
	}
	if w.AwardingBody != "" {
		rec.AwardingBodies = []string{w.AwardingBody}
	}
	if w.TrainingHours != nil {
		hours := w.TrainingHours.Max
		rec.DurationHours = &hours
	}
	return rec, nil
}

func (c *Connector) DownloadEvidence(ctx context.Context, evidenceRef string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, evidenceRef, nil)
	if err != nil {
		return nil, fmt.Errorf("nsdc: build evidence request: %w", err)
	}
	return provider.DoJSON(c.http, providerName, req)
}
