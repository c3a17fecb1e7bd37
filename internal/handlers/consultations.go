package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/craftyard/api/internal/platform/auth"
	"github.com/craftyard/api/internal/platform/httpx"
	"github.com/craftyard/api/internal/services"
)

const (
	maxConsultationBodySize = 16 * 1024

	scheduleRateLimit  = 10
	scheduleRateWindow = time.Minute
)

type scheduleConsultationRequest struct {
	ScheduledAt     string                     `json:"scheduled_at"`
	DurationMinutes int                        `json:"duration_minutes"`
	Channel         consultationChannelPayload `json:"channel"`
}

type completeConsultationRequest struct {
	SummaryNotes string         `json:"summary_notes,omitempty"`
	KeyDecisions map[string]any `json:"key_decisions,omitempty"`
}

type cancelConsultationRequest struct {
	Reason string `json:"reason,omitempty"`
}

type noShowConsultationRequest struct {
	Note string `json:"note,omitempty"`
}

type consultationChannelPayload struct {
	Kind        string            `json:"kind"`
	MeetingURL  string            `json:"meeting_url,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// ConsultationHandlers exposes consultation scheduling endpoints. Scheduling
// is rate limited per actor to keep a misbehaving client from flooding a
// provider's calendar.
type ConsultationHandlers struct {
	authn         *auth.Authenticator
	consultations services.ConsultationService
	limiter       *fixedWindowLimiter
}

// NewConsultationHandlers constructs a new ConsultationHandlers instance.
func NewConsultationHandlers(authn *auth.Authenticator, consultations services.ConsultationService) *ConsultationHandlers {
	return &ConsultationHandlers{
		authn:         authn,
		consultations: consultations,
		limiter:       newFixedWindowLimiter(scheduleRateLimit, scheduleRateWindow, nil),
	}
}

// OrderRoutes registers consultation endpoints nested under an order.
func (h *ConsultationHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.scheduleConsultation)
	r.Get("/", h.listByOrder)
}

// Routes registers the session-scoped consultation endpoints.
func (h *ConsultationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{sessionID}", h.getSession)
	r.Post("/{sessionID}:complete", h.completeSession)
	r.Post("/{sessionID}:cancel", h.cancelSession)
	r.Post("/{sessionID}:no-show", h.markNoShow)
}

func (h *ConsultationHandlers) scheduleConsultation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.consultations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("consultation_service_unavailable", "consultation service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many scheduling requests", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxConsultationBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req scheduleConsultationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	scheduledAt, err := parseTimeParam(strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "scheduled_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	session, err := h.consultations.Schedule(ctx, services.ScheduleConsultationCommand{
		OrderID:         orderID,
		Actor:           actorFromIdentity(identity),
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
		Channel: services.ConsultationChannel{
			Kind:        strings.TrimSpace(req.Channel.Kind),
			MeetingURL:  strings.TrimSpace(req.Channel.MeetingURL),
			Credentials: req.Channel.Credentials,
		},
	})
	if err != nil {
		writeConsultationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, consultationResponse{Session: buildConsultationPayload(session)})
}

func (h *ConsultationHandlers) listByOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.consultations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("consultation_service_unavailable", "consultation service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	sessions, err := h.consultations.ListByOrder(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeConsultationError(ctx, w, err)
		return
	}

	items := make([]consultationPayload, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, buildConsultationPayload(session))
	}

	writeJSONResponse(w, http.StatusOK, consultationListResponse{Items: items})
}

func (h *ConsultationHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.consultations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("consultation_service_unavailable", "consultation service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	session, err := h.consultations.GetSession(ctx, sessionID, actorFromIdentity(identity))
	if err != nil {
		writeConsultationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, consultationResponse{Session: buildConsultationPayload(session)})
}

func (h *ConsultationHandlers) completeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.consultations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("consultation_service_unavailable", "consultation service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	var req completeConsultationRequest
	body, err := readLimitedBody(r, maxConsultationBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	session, err := h.consultations.Complete(ctx, services.CompleteConsultationCommand{
		SessionID:    sessionID,
		Actor:        actorFromIdentity(identity),
		SummaryNotes: strings.TrimSpace(req.SummaryNotes),
		KeyDecisions: cloneMap(req.KeyDecisions),
	})
	if err != nil {
		writeConsultationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, consultationResponse{Session: buildConsultationPayload(session)})
}

func (h *ConsultationHandlers) cancelSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.consultations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("consultation_service_unavailable", "consultation service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	var req cancelConsultationRequest
	body, err := readLimitedBody(r, maxConsultationBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	session, err := h.consultations.Cancel(ctx, services.CancelConsultationCommand{
		SessionID: sessionID,
		Actor:     actorFromIdentity(identity),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeConsultationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, consultationResponse{Session: buildConsultationPayload(session)})
}

func (h *ConsultationHandlers) markNoShow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.consultations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("consultation_service_unavailable", "consultation service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	var req noShowConsultationRequest
	body, err := readLimitedBody(r, maxConsultationBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	session, err := h.consultations.MarkNoShow(ctx, services.NoShowConsultationCommand{
		SessionID: sessionID,
		Actor:     actorFromIdentity(identity),
		Note:      strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeConsultationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, consultationResponse{Session: buildConsultationPayload(session)})
}

type consultationResponse struct {
	Session consultationPayload `json:"session"`
}

type consultationListResponse struct {
	Items []consultationPayload `json:"items"`
}

type consultationPayload struct {
	ID              string                     `json:"id"`
	OrderID         string                     `json:"order_id"`
	ScheduledAt     string                     `json:"scheduled_at"`
	DurationMinutes int                        `json:"duration_minutes"`
	Channel         consultationChannelPayload `json:"channel"`
	Status          string                     `json:"status"`
	SummaryNotes    string                     `json:"summary_notes,omitempty"`
	KeyDecisions    map[string]any             `json:"key_decisions,omitempty"`
	CancelReason    string                     `json:"cancel_reason,omitempty"`
	CompletedAt     string                     `json:"completed_at,omitempty"`
	CreatedAt       string                     `json:"created_at"`
	UpdatedAt       string                     `json:"updated_at,omitempty"`
}

func buildConsultationPayload(session services.ConsultationSession) consultationPayload {
	return consultationPayload{
		ID:              strings.TrimSpace(session.ID),
		OrderID:         strings.TrimSpace(session.OrderID),
		ScheduledAt:     formatTime(session.ScheduledAt),
		DurationMinutes: session.DurationMinutes,
		Channel: consultationChannelPayload{
			Kind:       strings.TrimSpace(session.Channel.Kind),
			MeetingURL: strings.TrimSpace(session.Channel.MeetingURL),
		},
		Status:       strings.TrimSpace(string(session.Status)),
		SummaryNotes: strings.TrimSpace(session.SummaryNotes),
		KeyDecisions: cloneMap(session.KeyDecisions),
		CancelReason: strings.TrimSpace(session.CancelReason),
		CompletedAt:  formatTime(pointerTime(session.CompletedAt)),
		CreatedAt:    formatTime(session.CreatedAt),
		UpdatedAt:    formatTime(session.UpdatedAt),
	}
}

func writeConsultationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrConsultationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrConsultationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("consultation_not_found", "consultation session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrConsultationConflict):
		httpx.WriteError(ctx, w, httpx.NewError("consultation_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrConsultationInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("consultation_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("consultation_error", "failed to process consultation request", http.StatusInternalServerError))
	}
}
