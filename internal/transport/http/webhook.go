package httptransport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"credsync/internal/credential/models"
	"credsync/internal/platform/middleware"
	"credsync/internal/provider"
	dErrors "credsync/pkg/domain-errors"
)

const webhookSignatureHeader = "X-Webhook-Signature"

// Providers push one record per delivery; anything bigger is malformed.
const maxWebhookBody = 1 << 20

// webhookDelivery is the canonical push payload. Providers that support push
// send records in this shape instead of waiting for the next pull cycle.
type webhookDelivery struct {
	ExternalID       string    `json:"external_id"`
	LearnerEmail     string    `json:"learner_email"`
	LearnerPhone     string    `json:"learner_phone"`
	AltEmails        []string  `json:"alt_emails"`
	LearnerName      string    `json:"learner_name"`
	CertificateTitle string    `json:"certificate_title"`
	CertificateCode  string    `json:"certificate_code"`
	Sector           string    `json:"sector"`
	NSQFLevel        *float64  `json:"nsqf_level"`
	DurationHours    *float64  `json:"duration_hours"`
	AwardingBodies   []string  `json:"awarding_bodies"`
	Occupation       string    `json:"occupation"`
	Description      string    `json:"description"`
	IssuedAt         time.Time `json:"issued_at"`
	EvidenceURL      string    `json:"evidence_url"`
}

// handleWebhook ingests a provider-pushed credential. The delivery carries an
// HMAC-SHA256 signature over the raw body; a valid one is acknowledged
// immediately and ingested in the background through the same dedup and
// hashing path as a pulled page, so redeliveries are no-ops.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	providerID := models.Provider(chi.URLParam(r, "provider"))
	secret := h.webhookSecrets[providerID]
	if secret == "" {
		writeError(w, dErrors.New(dErrors.CodeNotFound, "no webhook configured for provider"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable request body"))
		return
	}
	if !verifyWebhookSignature(secret, body, r.Header.Get(webhookSignatureHeader)) {
		h.logger.WarnContext(r.Context(), "webhook signature rejected",
			"request_id", middleware.GetRequestID(r.Context()),
			"provider", providerID,
		)
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook signature"))
		return
	}

	var delivery webhookDelivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if delivery.ExternalID == "" || delivery.IssuedAt.IsZero() {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "external_id and issued_at are required"))
		return
	}

	rec := provider.Record{
		ExternalID:       delivery.ExternalID,
		LearnerEmail:     delivery.LearnerEmail,
		LearnerPhone:     delivery.LearnerPhone,
		AltEmails:        delivery.AltEmails,
		LearnerName:      delivery.LearnerName,
		CertificateTitle: delivery.CertificateTitle,
		CertificateCode:  delivery.CertificateCode,
		Sector:           delivery.Sector,
		NSQFLevel:        delivery.NSQFLevel,
		DurationHours:    delivery.DurationHours,
		AwardingBodies:   delivery.AwardingBodies,
		Occupation:       delivery.Occupation,
		Description:      delivery.Description,
		IssuedAt:         delivery.IssuedAt,
		EvidenceRef:      delivery.EvidenceURL,
	}

	// Quick ack: the provider's delivery timeout is short and ingestion
	// downloads evidence, so the work happens after the response.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		created, err := h.sync.IngestPushed(ctx, providerID, rec)
		if err != nil {
			h.logger.ErrorContext(ctx, "webhook ingestion failed",
				"provider", providerID,
				"external_id", rec.ExternalID,
				"error", err,
			)
			return
		}
		h.logger.InfoContext(ctx, "webhook delivery ingested",
			"provider", providerID,
			"external_id", rec.ExternalID,
			"created", created,
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func verifyWebhookSignature(secret string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(header))
}
