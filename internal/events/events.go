// Package events publishes credential lifecycle facts to Kafka so downstream
// consumers (notifications, analytics) see creations and ledger confirmations
// without polling the database.
package events

import (
	"time"

	"github.com/google/uuid"

	"credsync/internal/credential/models"
)

// Type identifies a lifecycle event.
type Type string

const (
	TypeCredentialCreated Type = "credential.created"
	TypeLedgerConfirmed   Type = "credential.ledger_confirmed"
)

// Envelope is the JSON payload written to the topic.
type Envelope struct {
	Type         Type            `json:"type"`
	CredentialID uuid.UUID       `json:"credential_id"`
	Provider     models.Provider `json:"provider"`
	ExternalID   string          `json:"external_id"`
	DataHash     string          `json:"data_hash"`
	LedgerTx     string          `json:"ledger_tx,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}
