package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/craftyard/api/internal/platform/httpx"
	"github.com/craftyard/api/internal/services"
)

const (
	defaultOverdueSweepLimit = 100
	maxOverdueSweepLimit     = 500
	maxInternalBodySize      = 16 * 1024
)

// InternalHandlers serves scheduler-invoked jobs and collaborator callbacks.
// Authentication is applied per route: the overdue sweep is invoked by Cloud
// Scheduler with an OIDC token, the renderer hook is signed with a shared
// HMAC secret.
type InternalHandlers struct {
	orders services.OrderService
	audit  services.AuditLogService

	sweepMiddleware    func(http.Handler) http.Handler
	rendererMiddleware func(http.Handler) http.Handler
}

// InternalOption customises InternalHandlers construction.
type InternalOption func(*InternalHandlers)

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(orders services.OrderService, audit services.AuditLogService, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{
		orders: orders,
		audit:  audit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// WithOverdueSweepMiddleware guards the overdue sweep route, typically with
// an OIDC validator.
func WithOverdueSweepMiddleware(mw func(http.Handler) http.Handler) InternalOption {
	return func(h *InternalHandlers) {
		h.sweepMiddleware = mw
	}
}

// WithRendererHookMiddleware guards the renderer completion hook, typically
// with an HMAC validator.
func WithRendererHookMiddleware(mw func(http.Handler) http.Handler) InternalOption {
	return func(h *InternalHandlers) {
		h.rendererMiddleware = mw
	}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	sweep := r
	if h.sweepMiddleware != nil {
		sweep = r.With(h.sweepMiddleware)
	}
	sweep.Post("/jobs/overdue-sweep", h.runOverdueSweep)

	hook := r
	if h.rendererMiddleware != nil {
		hook = r.With(h.rendererMiddleware)
	}
	hook.Post("/hooks/renderer", h.rendererCompleted)
}

type overdueSweepRequest struct {
	Limit int `json:"limit,omitempty"`
}

type overdueSweepResponse struct {
	Updated int `json:"updated"`
	Limit   int `json:"limit"`
}

func (h *InternalHandlers) runOverdueSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	limit := defaultOverdueSweepLimit
	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		var req overdueSweepRequest
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
		if req.Limit < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be positive", http.StatusBadRequest))
			return
		}
		if req.Limit > 0 {
			limit = req.Limit
		}
	}
	if limit > maxOverdueSweepLimit {
		limit = maxOverdueSweepLimit
	}

	updated, err := h.orders.MarkOverdueOrders(ctx, limit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("overdue_sweep_failed", "failed to sweep overdue orders", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, overdueSweepResponse{Updated: updated, Limit: limit})
}

type rendererCompletionRequest struct {
	SubmissionID string `json:"submission_id"`
	CartLineID   string `json:"cart_line_id,omitempty"`
	Status       string `json:"status"`
	PreviewRef   string `json:"preview_ref,omitempty"`
	Error        string `json:"error,omitempty"`
}

type rendererCompletionResponse struct {
	Received bool `json:"received"`
}

func (h *InternalHandlers) rendererCompleted(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req rendererCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	submissionID := strings.TrimSpace(req.SubmissionID)
	if submissionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "submission_id is required", http.StatusBadRequest))
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status != "succeeded" && status != "failed" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be succeeded or failed", http.StatusBadRequest))
		return
	}

	severity := "info"
	if status == "failed" {
		severity = "warn"
	}

	if h.audit != nil {
		metadata := map[string]any{
			"status": status,
		}
		if ref := strings.TrimSpace(req.PreviewRef); ref != "" {
			metadata["preview_ref"] = ref
		}
		if line := strings.TrimSpace(req.CartLineID); line != "" {
			metadata["cart_line_id"] = line
		}
		if msg := strings.TrimSpace(req.Error); msg != "" {
			metadata["error"] = msg
		}
		h.audit.Record(ctx, services.AuditLogRecord{
			Actor:      "renderer",
			ActorType:  "service",
			Action:     "personalization.preview_rendered",
			TargetRef:  "submissions/" + submissionID,
			Severity:   severity,
			OccurredAt: time.Now().UTC(),
			Metadata:   metadata,
		})
	}

	writeJSONResponse(w, http.StatusOK, rendererCompletionResponse{Received: true})
}
