package models

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external credential source. The set is fixed at
// compile time; adapters register under exactly one of these.
type Provider string

const (
	ProviderNSDC  Provider = "nsdc"
	ProviderSIH   Provider = "sih"
	ProviderUdemy Provider = "udemy"
)

// LedgerStatus tracks the external ledger anchoring of a credential.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerConfirmed LedgerStatus = "confirmed"
	LedgerFailed    LedgerStatus = "failed"
)

// CredentialRecord is one externally-sourced credential. It is created once by
// the sync pipeline, then mutated only by the ledger queue (LedgerTx,
// LedgerStatus) and the enrichment pipeline (Metadata.AI*). Never deleted.
type CredentialRecord struct {
	ID         uuid.UUID `json:"id"`
	Provider   Provider  `json:"provider"`
	ExternalID string    `json:"external_id"`
	IssuerID   string    `json:"issuer_id"`

	// Learner-matching fields. LearnerID stays nil until a matching learner
	// exists at creation time or a later claim attaches one.
	LearnerID    *uuid.UUID `json:"learner_id,omitempty"`
	LearnerEmail string     `json:"learner_email"`
	LearnerPhone string     `json:"learner_phone,omitempty"`
	AltEmails    []string   `json:"alt_emails,omitempty"`
	LearnerName  string     `json:"learner_name"`

	CertificateTitle string    `json:"certificate_title"`
	CertificateCode  string    `json:"certificate_code,omitempty"`
	Sector           string    `json:"sector,omitempty"`
	NSQFLevel        int       `json:"nsqf_level,omitempty"`
	DurationHours    float64   `json:"duration_hours,omitempty"`
	AwardingBodies   []string  `json:"awarding_bodies,omitempty"`
	Occupation       string    `json:"occupation,omitempty"`
	Description      string    `json:"description,omitempty"`
	IssuedAt         time.Time `json:"issued_at"`

	// Integrity anchors. DataHash is a pure function of the content fields;
	// EvidencePointer is the content address of the uploaded evidence.
	DataHash        string `json:"data_hash"`
	EvidencePointer string `json:"evidence_pointer,omitempty"`

	// LedgerTx transitions only nil -> non-nil, never back.
	LedgerTx          *string      `json:"ledger_tx,omitempty"`
	LedgerStatus      LedgerStatus `json:"ledger_status"`
	LedgerAttempts    int          `json:"ledger_attempts,omitempty"`
	LedgerLastError   string       `json:"ledger_last_error,omitempty"`
	LedgerConfirmedAt *time.Time   `json:"ledger_confirmed_at,omitempty"`

	Metadata Metadata `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
}

// Metadata holds the enrichment output. Persisted as one JSON document.
type Metadata struct {
	AIExtracted             *AIExtracted `json:"ai_extracted,omitempty"`
	AIAnalysis              *AIAnalysis  `json:"ai_analysis,omitempty"`
	AIProcessingCompletedAt *time.Time   `json:"ai_processing_completed_at,omitempty"`
}

// Provenance values for AIExtracted.Provenance.
const (
	ProvenanceModel     = "model"
	ProvenanceHeuristic = "heuristic"
)

// AIExtracted is the extraction-stage output.
type AIExtracted struct {
	Skills     []Skill  `json:"skills"`
	NSQFLevel  int      `json:"nsqf_level"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
	Provenance string   `json:"provenance"`
}

// Skill is one machine-derived skill with its confidence.
type Skill struct {
	Name        string  `json:"name"`
	Category    string  `json:"category,omitempty"`
	Proficiency string  `json:"proficiency,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// AIAnalysis carries the two analysis-stage outcomes. The merge is
// field-level: one side can be present while the other records a failure.
type AIAnalysis struct {
	Stackability      *StackabilityResult `json:"stackability,omitempty"`
	Pathway           *PathwayResult      `json:"pathway,omitempty"`
	StackabilityError string              `json:"stackability_error,omitempty"`
	PathwayError      string              `json:"pathway_error,omitempty"`
}

// StackabilityResult lists qualification pathways this credential stacks into.
type StackabilityResult struct {
	Pathways []StackPathway `json:"pathways"`
}

// StackPathway is one stackable qualification target.
type StackPathway struct {
	Title           string  `json:"title"`
	TargetNSQFLevel int     `json:"target_nsqf_level"`
	Completion      float64 `json:"completion"`
}

// PathwayResult is the career roadmap analysis output.
type PathwayResult struct {
	CurrentStage string   `json:"current_stage"`
	NextSteps    []string `json:"next_steps"`
	Timeline     string   `json:"timeline,omitempty"`
}

// SyncWatermark marks the boundary of already-synced data for one
// (provider, issuer) pair. Monotonically non-decreasing.
type SyncWatermark struct {
	Provider     Provider
	IssuerID     string
	LastSyncedAt time.Time
}
