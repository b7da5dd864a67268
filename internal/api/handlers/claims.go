// Package handlers provides HTTP handlers for the claims API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/internal/api/middleware"
	"github.com/drfirst/go-edi837/internal/claim"
	"github.com/drfirst/go-edi837/internal/claimfile"
	"github.com/drfirst/go-edi837/internal/domain/submission"
	"github.com/drfirst/go-edi837/internal/encoder"
	"github.com/drfirst/go-edi837/internal/infrastructure/postgres"
	"github.com/drfirst/go-edi837/internal/transport"
)

// Enqueuer hands a request to the background worker
type Enqueuer interface {
	Enqueue(ctx context.Context, req *claimfile.Request) error
}

// ClaimsHandler handles claim file endpoints
type ClaimsHandler struct {
	svc    *claimfile.Service
	queue  Enqueuer
	logger *zap.Logger
	tracer trace.Tracer
}

// NewClaimsHandler creates a new handler. With a nil queue every request is
// generated synchronously.
func NewClaimsHandler(svc *claimfile.Service, queue Enqueuer, logger *zap.Logger) *ClaimsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaimsHandler{
		svc:    svc,
		queue:  queue,
		logger: logger,
		tracer: otel.Tracer("claims-handler"),
	}
}

// Routes returns the handler routes
func (h *ClaimsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/validate", h.Validate)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/events", h.GetEvents)
	r.Post("/{id}/upload", h.Upload)
	return r
}

// AcceptedResponse is returned when a request was queued
type AcceptedResponse struct {
	ClaimFileID    string `json:"claim_file_id"`
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ErrorResponse carries a failure and, for rejected batches, what was recorded
type ErrorResponse struct {
	Error      string             `json:"error"`
	Code       string             `json:"code,omitempty"`
	Violations []string           `json:"violations,omitempty"`
	Outcome    *claimfile.Outcome `json:"outcome,omitempty"`
	ClaimFile  *claimfile.Summary `json:"claim_file,omitempty"`
}

// Create handles POST /claim-files. The request is queued for the worker unless no
// queue is configured or ?sync=true is passed.
func (h *ClaimsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_claim_file")
	defer span.End()

	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := req.Normalize(); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(
		attribute.String("claim_file_id", req.ClaimFileID),
		attribute.Int("encounters", len(req.EncounterIDs)),
	)

	if h.queue != nil && r.URL.Query().Get("sync") != "true" {
		if err := h.queue.Enqueue(ctx, req); err != nil {
			span.RecordError(err)
			h.logger.Error("enqueue failed", zap.String("claim_file_id", req.ClaimFileID), zap.Error(err))
			h.jsonError(w, "failed to queue claim file", http.StatusServiceUnavailable)
			return
		}
		h.logger.Info("claim file queued",
			zap.String("claim_file_id", req.ClaimFileID),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Int("encounters", len(req.EncounterIDs)))
		h.writeJSON(w, http.StatusAccepted, AcceptedResponse{
			ClaimFileID:    req.ClaimFileID,
			Status:         "queued",
			IdempotencyKey: req.IdempotencyKey(),
		})
		return
	}

	outcome, err := h.svc.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.generateError(w, outcome, err)
		return
	}

	status := http.StatusCreated
	if outcome.Duplicate {
		status = http.StatusOK
	}
	h.writeJSON(w, status, outcome)
}

// Validate handles POST /claim-files/validate
func (h *ClaimsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "validate_claim_batch")
	defer span.End()

	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Validate(ctx, req)
	if err != nil {
		h.generateError(w, nil, err)
		return
	}

	status := http.StatusOK
	if !res.OK() {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, map[string]interface{}{
		"valid":      res.OK(),
		"violations": res.Violations,
	})
}

// Get handles GET /claim-files/{id}
func (h *ClaimsHandler) Get(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.lookupError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// GetEvents handles GET /claim-files/{id}/events
func (h *ClaimsHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Events(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.lookupError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

// Upload handles POST /claim-files/{id}/upload
func (h *ClaimsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "upload_claim_file")
	defer span.End()

	id := chi.URLParam(r, "id")
	summary, err := h.svc.Upload(ctx, id)
	if err != nil {
		span.RecordError(err)
		var uerr *transport.UploadError
		switch {
		case errors.Is(err, submission.ErrNotFound):
			h.jsonError(w, "claim file not found", http.StatusNotFound)
		case errors.Is(err, submission.ErrAlreadyUpload), errors.Is(err, submission.ErrNotGenerated):
			h.writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), ClaimFile: summary})
		case errors.Is(err, claimfile.ErrUploadUnavailable):
			h.jsonError(w, err.Error(), http.StatusServiceUnavailable)
		case errors.As(err, &uerr):
			h.writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error(), ClaimFile: summary})
		default:
			h.logger.Error("upload failed", zap.String("claim_file_id", id), zap.Error(err))
			h.jsonError(w, "failed to upload claim file", http.StatusInternalServerError)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *ClaimsHandler) decode(w http.ResponseWriter, r *http.Request) (*claimfile.Request, bool) {
	var req claimfile.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	if req.CorrelationID == "" {
		req.CorrelationID = middleware.GetRequestID(r.Context())
	}
	return &req, true
}

// generateError maps pipeline failures to responses. Rejected batches are a client
// problem and echo every violation; upload failures keep the generated file.
func (h *ClaimsHandler) generateError(w http.ResponseWriter, outcome *claimfile.Outcome, err error) {
	var verr *claim.ValidationError
	var eerr *encoder.EncodeError
	var uerr *transport.UploadError

	switch {
	case errors.Is(err, claimfile.ErrInvalidRequest):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, postgres.ErrSnapshotNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      "claim batch failed validation",
			Violations: verr.Violations,
			Outcome:    outcome,
		})
	case errors.As(err, &eerr):
		h.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   eerr.Error(),
			Code:    eerr.Code,
			Outcome: outcome,
		})
	case errors.Is(err, claimfile.ErrUploadUnavailable):
		h.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Outcome: outcome})
	case errors.As(err, &uerr):
		h.writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error(), Outcome: outcome})
	default:
		h.logger.Error("claim file generation failed", zap.Error(err))
		h.jsonError(w, "failed to generate claim file", http.StatusInternalServerError)
	}
}

func (h *ClaimsHandler) lookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, submission.ErrNotFound) {
		h.jsonError(w, "claim file not found", http.StatusNotFound)
		return
	}
	h.logger.Error("claim file lookup failed", zap.Error(err))
	h.jsonError(w, "failed to load claim file", http.StatusInternalServerError)
}

func (h *ClaimsHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *ClaimsHandler) jsonError(w http.ResponseWriter, message string, code int) {
	h.writeJSON(w, code, map[string]string{"error": message})
}
