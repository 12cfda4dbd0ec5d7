package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"credsync/internal/credential/models"
	"credsync/pkg/platform/sentinel"
)

// ComputeDataHash returns the hex sha256 of the canonical content fields.
// Keys are serialized in sorted order and data_hash itself is nulled, so the
// digest is a pure function of content: identical records always hash the
// same regardless of when or where they were ingested.
func ComputeDataHash(rec models.CredentialRecord) (string, error) {
	canonical := map[string]any{
		"provider":          rec.Provider,
		"external_id":       rec.ExternalID,
		"issuer_id":         rec.IssuerID,
		"learner_email":     rec.LearnerEmail,
		"learner_phone":     rec.LearnerPhone,
		"alt_emails":        emptyIfNil(rec.AltEmails),
		"learner_name":      rec.LearnerName,
		"certificate_title": rec.CertificateTitle,
		"certificate_code":  rec.CertificateCode,
		"sector":            rec.Sector,
		"nsqf_level":        rec.NSQFLevel,
		"duration_hours":    rec.DurationHours,
		"awarding_bodies":   emptyIfNil(rec.AwardingBodies),
		"occupation":        rec.Occupation,
		"description":       rec.Description,
		"issued_at":         rec.IssuedAt.UTC().Format(time.RFC3339),
		"data_hash":         nil,
	}

	// encoding/json writes map keys in sorted order, which is exactly the
	// canonical form the hash depends on.
	payload, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("marshal canonical fields: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyDataHash recomputes the canonical hash and reports a mismatch as an
// integrity failure. The record itself is left untouched.
func VerifyDataHash(rec models.CredentialRecord) error {
	computed, err := ComputeDataHash(rec)
	if err != nil {
		return err
	}
	if computed != rec.DataHash {
		return fmt.Errorf("credential %s: stored hash %q does not match computed %q: %w",
			rec.ID, rec.DataHash, computed, sentinel.ErrIntegrity)
	}
	return nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
