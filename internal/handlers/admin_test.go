package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftyard/api/internal/domain"
	"github.com/craftyard/api/internal/platform/auth"
	"github.com/craftyard/api/internal/services"
)

type stubAdminSystemService struct {
	healthFn  func(context.Context) (services.SystemHealthReport, error)
	listFn    func(context.Context, services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
	counterFn func(context.Context, services.CounterCommand) (int64, error)
}

func (s *stubAdminSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.healthFn != nil {
		return s.healthFn(ctx)
	}
	return services.SystemHealthReport{}, nil
}

func (s *stubAdminSystemService) ListAuditLogs(ctx context.Context, filter services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.AuditLogEntry]{}, nil
}

func (s *stubAdminSystemService) NextCounterValue(ctx context.Context, cmd services.CounterCommand) (int64, error) {
	if s.counterFn != nil {
		return s.counterFn(ctx, cmd)
	}
	return 0, nil
}

func newAdminRouter(system services.SystemService) chi.Router {
	handler := NewAdminHandlers(nil, system)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminHandlersListAuditLogs(t *testing.T) {
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	var capturedFilter services.AuditLogFilter
	system := &stubAdminSystemService{
		listFn: func(_ context.Context, filter services.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
			capturedFilter = filter
			return domain.CursorPage[domain.AuditLogEntry]{
				Items: []domain.AuditLogEntry{
					{
						ID:        "audit-1",
						Actor:     "staff-1",
						ActorType: "user",
						Action:    "order.transition",
						TargetRef: "orders/ord_1",
						Severity:  "info",
						CreatedAt: createdAt,
					},
				},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	router := newAdminRouter(system)
	req := httptest.NewRequest(http.MethodGet, "/admin/audit-logs?target_ref=orders/ord_1&action=order.transition&from=2026-03-01T00:00:00Z&page_size=25", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedFilter.TargetRef != "orders/ord_1" || capturedFilter.Action != "order.transition" {
		t.Fatalf("unexpected filter: %+v", capturedFilter)
	}
	if capturedFilter.Pagination.PageSize != 25 {
		t.Fatalf("unexpected page size: %d", capturedFilter.Pagination.PageSize)
	}
	if capturedFilter.DateRange.From == nil || !capturedFilter.DateRange.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date range: %+v", capturedFilter.DateRange)
	}

	var resp auditLogListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "audit-1" || resp.NextPageToken != "tok-2" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAdminHandlersListAuditLogsRejectsBadTimestamp(t *testing.T) {
	router := newAdminRouter(&stubAdminSystemService{})
	req := httptest.NewRequest(http.MethodGet, "/admin/audit-logs?from=yesterday", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminHandlersNextCounterValue(t *testing.T) {
	var capturedCmd services.CounterCommand
	system := &stubAdminSystemService{
		counterFn: func(_ context.Context, cmd services.CounterCommand) (int64, error) {
			capturedCmd = cmd
			return 42, nil
		},
	}

	router := newAdminRouter(system)
	req := httptest.NewRequest(http.MethodPost, "/admin/counters/order-number:next", strings.NewReader(`{"step":2}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedCmd.CounterID != "order-number" || capturedCmd.Step != 2 {
		t.Fatalf("unexpected command: %+v", capturedCmd)
	}

	var resp nextCounterResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Value != 42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAdminHandlersNextCounterValueExhausted(t *testing.T) {
	system := &stubAdminSystemService{
		counterFn: func(context.Context, services.CounterCommand) (int64, error) {
			return 0, services.ErrCounterExhausted
		},
	}

	router := newAdminRouter(system)
	req := httptest.NewRequest(http.MethodPost, "/admin/counters/order-number:next", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminHandlersRequireIdentity(t *testing.T) {
	router := newAdminRouter(&stubAdminSystemService{})
	req := httptest.NewRequest(http.MethodGet, "/admin/audit-logs", nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
