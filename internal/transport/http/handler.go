// Package httptransport is the operator-facing HTTP surface: manual sync
// triggers, ledger sweeps, claim calls from the identity module, and
// credential lookups. It delegates to domain services without embedding
// business logic.
package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"credsync/internal/credential/models"
	"credsync/internal/credential/store"
	"credsync/internal/evidence"
	"credsync/internal/ledger"
	"credsync/internal/platform/middleware"
	syncsvc "credsync/internal/sync"
	dErrors "credsync/pkg/domain-errors"
	"credsync/pkg/platform/sentinel"
	pstrings "credsync/pkg/platform/strings"
)

// Handler exposes the operator endpoints.
type Handler struct {
	logger          *slog.Logger
	scheduler       *syncsvc.Scheduler
	sync            *syncsvc.Service
	ledgerQueue     *ledger.Queue
	credentials     store.Store
	operatorKeyHash string
	webhookSecrets  map[models.Provider]string
}

// New creates the operator handler.
func New(
	logger *slog.Logger,
	scheduler *syncsvc.Scheduler,
	syncService *syncsvc.Service,
	ledgerQueue *ledger.Queue,
	credentials store.Store,
	operatorKeyHash string,
	webhookSecrets map[models.Provider]string,
) *Handler {
	return &Handler{
		logger:          logger,
		scheduler:       scheduler,
		sync:            syncService,
		ledgerQueue:     ledgerQueue,
		credentials:     credentials,
		operatorKeyHash: operatorKeyHash,
		webhookSecrets:  webhookSecrets,
	}
}

// Register mounts the API routes. Operator endpoints sit behind the shared
// key; provider webhooks authenticate each delivery with its own signature.
func (h *Handler) Register(r chi.Router) {
	v1 := chi.NewRouter()
	v1.Use(middleware.Recovery(h.logger))
	v1.Use(middleware.RequestID)
	v1.Use(middleware.RequestTime)

	v1.Group(func(r chi.Router) {
		r.Use(middleware.RequireOperatorKey(h.operatorKeyHash, h.logger))

		r.Post("/sync/run", h.handleSyncRun)
		r.Post("/sync/providers/{provider}", h.handleSyncProvider)
		r.Get("/sync/status", h.handleSyncStatus)
		r.Post("/ledger/sweep", h.handleLedgerSweep)
		r.Post("/claims", h.handleClaim)
		r.Get("/credentials/{id}", h.handleGetCredential)
		r.Get("/credentials/{id}/verify", h.handleVerifyCredential)
	})

	v1.Post("/webhooks/{provider}", h.handleWebhook)

	r.Mount("/v1", v1)
}

func (h *Handler) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	results := h.scheduler.TriggerAll(ctx)
	if results == nil {
		writeError(w, dErrors.New(dErrors.CodeConflict, "a full sync is already in flight"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) handleSyncProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerID := models.Provider(chi.URLParam(r, "provider"))

	result, err := h.sync.SyncProvider(ctx, providerID)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeNotFound) {
			writeError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "manual provider sync failed",
			"request_id", middleware.GetRequestID(ctx),
			"provider", providerID,
			"error", err,
		)
		// The partial result still reaches the operator alongside the error.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"result": result,
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *Handler) handleLedgerSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.ledgerQueue.Sweep(ctx, 0)
	if err != nil {
		h.logger.ErrorContext(ctx, "ledger sweep failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "ledger sweep failed"))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type claimRequest struct {
	LearnerID uuid.UUID `json:"learner_id"`
	Emails    []string  `json:"emails"`
}

type claimResponse struct {
	ClaimedCount int64 `json:"claimed_count"`
}

// handleClaim is the identity module's entrypoint: after a learner
// authenticates, their verified emails claim any previously unowned records.
func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	emails := pstrings.DedupeAndTrimLower(req.Emails)
	if req.LearnerID == uuid.Nil || len(emails) == 0 {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "learner_id and emails are required"))
		return
	}

	claimed, err := h.credentials.Claim(ctx, req.LearnerID, emails)
	if err != nil {
		h.logger.ErrorContext(ctx, "claim failed",
			"request_id", middleware.GetRequestID(ctx),
			"learner_id", req.LearnerID,
			"error", err,
		)
		writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "claim failed"))
		return
	}
	h.logger.InfoContext(ctx, "credentials claimed",
		"learner_id", req.LearnerID,
		"claimed_count", claimed,
	)
	writeJSON(w, http.StatusOK, claimResponse{ClaimedCount: claimed})
}

func (h *Handler) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadCredential(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type verifyResponse struct {
	CredentialID uuid.UUID `json:"credential_id"`
	Valid        bool      `json:"valid"`
	Reason       string    `json:"reason,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// handleVerifyCredential recomputes the canonical hash out-of-band. A
// mismatch is reported, never repaired: the record stays untouched for
// forensics.
func (h *Handler) handleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadCredential(w, r)
	if !ok {
		return
	}

	resp := verifyResponse{CredentialID: rec.ID, Valid: true, CheckedAt: time.Now().UTC()}
	if err := evidence.VerifyDataHash(rec); err != nil {
		resp.Valid = false
		resp.Reason = err.Error()
		h.logger.WarnContext(r.Context(), "credential integrity check failed",
			"credential_id", rec.ID,
			"error", err,
		)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) loadCredential(w http.ResponseWriter, r *http.Request) (models.CredentialRecord, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid credential id"))
		return models.CredentialRecord{}, false
	}
	rec, err := h.credentials.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeError(w, dErrors.New(dErrors.CodeNotFound, "credential not found"))
		} else {
			writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "lookup failed"))
		}
		return models.CredentialRecord{}, false
	}
	return rec, true
}
