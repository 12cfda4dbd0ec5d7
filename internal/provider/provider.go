// Package provider defines the contract between external credential sources
// and the sync pipeline. Each adapter hides its provider's auth scheme and
// pagination style behind one shape: the caller supplies a watermark and an
// opaque page cursor and gets back canonical records plus a continuation flag.
package provider

import (
	"context"
	"time"

	"credsync/internal/credential/models"
)

// Record is a provider item normalized into canonical fields. Every field is
// derived deterministically from the provider payload; fields the provider
// does not carry stay at their zero value.
type Record struct {
	ExternalID       string
	LearnerEmail     string
	LearnerPhone     string
	AltEmails        []string
	LearnerName      string
	CertificateTitle string
	CertificateCode  string
	Sector           string
	NSQFLevel        *float64
	DurationHours    *float64
	AwardingBodies   []string
	Occupation       string
	Description      string
	IssuedAt         time.Time
	EvidenceRef      string
}

// Page is one fetched page of canonical records. Invalid counts provider
// items dropped during normalization; they are reported as failures without
// aborting the page.
type Page struct {
	Records       []Record
	Invalid       int
	HasMore       bool
	NextPageToken string
}

// Connector is implemented once per external provider.
type Connector interface {
	// Provider identifies the adapter.
	Provider() models.Provider

	// Authenticate obtains or refreshes the provider session. Implementations
	// cache credentials in a token store and only hit the provider when the
	// cached token is missing or expired.
	Authenticate(ctx context.Context) error

	// FetchPage returns records issued at or after the watermark. pageToken is
	// the opaque cursor from the previous page, empty for the first page.
	FetchPage(ctx context.Context, watermark time.Time, pageToken string) (Page, error)

	// DownloadEvidence fetches the raw evidence bytes behind a record's
	// evidence reference.
	DownloadEvidence(ctx context.Context, evidenceRef string) ([]byte, error)
}
