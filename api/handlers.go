/*
handlers.go - HTTP API handlers for the purchase-request workflow

PURPOSE:
  Exposes the approval engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the workflow service.

ENDPOINTS:
  Requests:
    GET    /api/requests?status=a,b        List requests, oldest first
    POST   /api/requests                   Create from factory JSON
    GET    /api/requests/{id}              Request with derived totals
    GET    /api/requests/{id}/audit        Audit trail

  Transitions (all take expected_status and actor):
    POST   /api/requests/{id}/approve      Approve, optionally adjusting items
    POST   /api/requests/{id}/reject       Reject with a 10-500 char reason
    POST   /api/requests/{id}/reconcile    Distribute adjusted quantities
    POST   /api/requests/{id}/rollback     Return to Pending
    POST   /api/requests/{id}/edit         Change remarks/quantities in place

  Admin:
    POST   /api/reconciliations/overdue    Flag overdue reconciliations now

  Scenarios:
    GET    /api/scenarios                  List demo scenarios
    POST   /api/scenarios/load             Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Service: Load, transition, save and audit in one transaction
  - Factory: JSON to PurchaseRequest conversion
  - Idempotency: Optional Redis-backed Idempotency-Key store

REQUEST FLOW:
  1. Decode JSON body
  2. Validate shape (validator tags)
  3. Call the workflow service
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, missing fields, unknown item IDs
  - 404: Request not found
  - 409: StaleState, InvalidTransition, version conflict, duplicate
  - 422: Other rule violations (quantities, reasons, sums)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The actor field is trusted as sent.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/warp/procurement-engine/cache"
	"github.com/warp/procurement-engine/factory"
	"github.com/warp/procurement-engine/generic"
	"github.com/warp/procurement-engine/procurement"
	"github.com/warp/procurement-engine/workflow"
	"golang.org/x/text/language"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *workflow.Service
	Factory *factory.RequestFactory
	Logger  *slog.Logger

	// Idempotency is nil when Redis is not configured.
	Idempotency *cache.IdempotencyStore

	// ReconcileAfter is the overdue threshold for Adjusted requests.
	ReconcileAfter time.Duration

	money    money
	validate *validator.Validate

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler around the workflow service.
func NewHandler(svc *workflow.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Service:        svc,
		Factory:        factory.NewRequestFactory(),
		Logger:         logger,
		ReconcileAfter: 72 * time.Hour,
		money:          money{currency: generic.DefaultCurrency, tag: language.AmericanEnglish},
		validate:       validator.New(),
	}
}

// SetCurrency sets the currency code and locale used for display strings.
func (h *Handler) SetCurrency(currency string, tag language.Tag) {
	h.money = money{currency: strings.ToUpper(currency), tag: tag}
}

// =============================================================================
// REQUEST QUERIES
// =============================================================================

// ListRequests returns requests, optionally filtered by ?status=a,b.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	var filter generic.RequestFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := generic.ParseStatus(part)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid status filter", err)
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	reqs, err := h.Service.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]RequestDTO, len(reqs))
	for i, req := range reqs {
		dtos[i] = h.money.toRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRequest returns one request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.Get(r.Context(), generic.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.money.toRequestDTO(req))
}

// GetAudit returns the audit trail of one request.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.History(r.Context(), generic.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRequest creates a Pending request from factory JSON.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body factory.RequestJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req, err := h.Factory.Build(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid purchase request", err)
		return
	}

	created, err := h.Service.Create(r.Context(), req, req.Requester)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.money.toRequestDTO(created))
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// ApproveRequest approves a pending request.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var body ApproveRequest
	if !h.decode(w, r, &body) {
		return
	}
	expected, ok := parseExpected(w, body.ExpectedStatus)
	if !ok {
		return
	}

	h.execute(w, r, procurement.Command{
		Action:         procurement.ActionApprove,
		Expected:       expected,
		Actor:          body.Actor,
		Adjustments:    toAdjustments(body.Adjustments),
		FinanceRemarks: body.FinanceRemarks,
	})
}

// RejectRequest rejects a pending request.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if !h.decode(w, r, &body) {
		return
	}
	expected, ok := parseExpected(w, body.ExpectedStatus)
	if !ok {
		return
	}

	h.execute(w, r, procurement.Command{
		Action:   procurement.ActionReject,
		Expected: expected,
		Actor:    body.Actor,
		Reason:   body.Reason,
	})
}

// ReconcileRequest closes an adjusted request.
// POST /api/requests/{id}/reconcile
func (h *Handler) ReconcileRequest(w http.ResponseWriter, r *http.Request) {
	var body ReconcileRequest
	if !h.decode(w, r, &body) {
		return
	}
	expected, ok := parseExpected(w, body.ExpectedStatus)
	if !ok {
		return
	}

	h.execute(w, r, procurement.Command{
		Action:        procurement.ActionReconcile,
		Expected:      expected,
		Actor:         body.Actor,
		Distributions: toDistributions(body.Distributions),
	})
}

// RollbackRequest returns a decided request to Pending.
// POST /api/requests/{id}/rollback
func (h *Handler) RollbackRequest(w http.ResponseWriter, r *http.Request) {
	var body RollbackRequest
	if !h.decode(w, r, &body) {
		return
	}
	expected, ok := parseExpected(w, body.ExpectedStatus)
	if !ok {
		return
	}

	h.execute(w, r, procurement.Command{
		Action:   procurement.ActionRollback,
		Expected: expected,
		Actor:    body.Actor,
	})
}

// EditRequest changes remarks or quantities without changing status.
// POST /api/requests/{id}/edit
func (h *Handler) EditRequest(w http.ResponseWriter, r *http.Request) {
	var body EditRequest
	if !h.decode(w, r, &body) {
		return
	}
	expected, ok := parseExpected(w, body.ExpectedStatus)
	if !ok {
		return
	}

	h.execute(w, r, procurement.Command{
		Action:         procurement.ActionEdit,
		Expected:       expected,
		Actor:          body.Actor,
		Adjustments:    toAdjustments(body.Adjustments),
		FinanceRemarks: body.FinanceRemarks,
	})
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, cmd procurement.Command) {
	out, err := h.Service.Execute(r.Context(), generic.RequestID(chi.URLParam(r, "id")), cmd)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dto := h.money.toRequestDTO(out.Request)
	if out.Reconciliation != nil {
		dto.Reconciliation = h.money.toReconciliationDTO(*out.Reconciliation)
		if out.Reconciliation.NoOp {
			dto.Warnings = append(dto.Warnings, "no units were marked for refund or replacement")
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN
// =============================================================================

// FlagOverdueReconciliations runs the overdue check immediately.
// POST /api/reconciliations/overdue
func (h *Handler) FlagOverdueReconciliations(w http.ResponseWriter, r *http.Request) {
	flagged, err := h.Service.FlagOverdueReconciliations(r.Context(), h.ReconcileAfter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	ids := make([]string, len(flagged))
	for i, id := range flagged {
		ids[i] = string(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"flagged": ids, "after": h.ReconcileAfter.String()})
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

// Idempotent deduplicates POSTs carrying an Idempotency-Key header. The key
// is released again when the handler fails so the client can retry.
func (h *Handler) Idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if key == "" || h.Idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		scope := r.URL.Path
		if err := h.Idempotency.CheckAndInsert(ctx, key, scope); err != nil {
			if errors.Is(err, cache.ErrIdempotencyConflict) {
				writeError(w, http.StatusConflict, "Duplicate submission", err)
				return
			}
			// Redis is optional; an outage must not block approvals.
			h.Logger.WarnContext(ctx, "idempotency store unavailable", slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if ww.Status() >= http.StatusBadRequest {
			if err := h.Idempotency.Delete(ctx, key, scope); err != nil {
				h.Logger.WarnContext(ctx, "release idempotency key", slog.Any("error", err))
			}
		}
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return false
		}
		fields := make([]string, 0, len(verrs))
		for _, fieldErr := range verrs {
			fields = append(fields, fmt.Sprintf("%s: %s", fieldErr.Namespace(), fieldErr.Tag()))
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Invalid request body",
			Errors: fields,
		})
		return false
	}
	return true
}

func parseExpected(w http.ResponseWriter, raw string) (generic.Status, bool) {
	st, err := generic.ParseStatus(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expected_status", err)
		return "", false
	}
	return st, true
}

// writeServiceError maps workflow errors to HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *generic.ValidationError
	switch {
	case errors.As(err, &verr):
		status := http.StatusUnprocessableEntity
		if verr.Kind == generic.KindStaleState || verr.Kind == generic.KindInvalidTransition {
			status = http.StatusConflict
		}
		msg := string(verr.Kind)
		if len(verr.Messages) > 0 {
			msg = verr.Messages[0]
		}
		resp := ErrorResponse{
			Error:  msg,
			Kind:   string(verr.Kind),
			Errors: verr.Result().Errors,
		}
		if verr.ItemID != "" {
			resp.Details = map[string]any{"item_id": string(verr.ItemID), "position": verr.Position}
		}
		writeJSON(w, status, resp)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Request not found", err)
	case errors.Is(err, generic.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "Request was modified concurrently; reload and try again",
			Kind:    string(generic.KindStaleState),
			Details: err.Error(),
		})
	case errors.Is(err, generic.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, "Request already exists", err)
	case errors.Is(err, generic.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	default:
		h.Logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
