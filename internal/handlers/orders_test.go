package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.ProductionOrder, error)
	getFn        func(context.Context, string, services.Actor) (services.ProductionOrder, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.ProductionOrder], error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.ProductionOrder, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.ProductionOrder, error)
	revisionFn   func(context.Context, services.RegisterRevisionCommand) (services.ProductionOrder, error)
	timelineFn   func(context.Context, string, services.Actor, services.Pagination) (domain.CursorPage[services.OrderTimelineEvent], error)
	progressFn   func(services.OrderStatus) int
	overdueFn    func(services.ProductionOrder, time.Time) bool
	markFn       func(context.Context, int) (int, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.ProductionOrder, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.ProductionOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Actor) (services.ProductionOrder, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actor)
	}
	return services.ProductionOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.ProductionOrder], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.ProductionOrder]{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.ProductionOrder, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.ProductionOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.ProductionOrder, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.ProductionOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) RegisterRevision(ctx context.Context, cmd services.RegisterRevisionCommand) (services.ProductionOrder, error) {
	if s.revisionFn != nil {
		return s.revisionFn(ctx, cmd)
	}
	return services.ProductionOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) ListTimeline(ctx context.Context, orderID string, actor services.Actor, pager services.Pagination) (domain.CursorPage[services.OrderTimelineEvent], error) {
	if s.timelineFn != nil {
		return s.timelineFn(ctx, orderID, actor, pager)
	}
	return domain.CursorPage[services.OrderTimelineEvent]{}, nil
}

func (s *stubOrderService) ComputeProgress(status services.OrderStatus) int {
	if s.progressFn != nil {
		return s.progressFn(status)
	}
	return 0
}

func (s *stubOrderService) IsOverdue(order services.ProductionOrder, now time.Time) bool {
	if s.overdueFn != nil {
		return s.overdueFn(order, now)
	}
	return false
}

func (s *stubOrderService) MarkOverdueOrders(ctx context.Context, limit int) (int, error) {
	if s.markFn != nil {
		return s.markFn(ctx, limit)
	}
	return 0, nil
}

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func TestOrderHandlersListOrdersScopesToCustomer(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

	var capturedFilter services.OrderListFilter
	service := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.ProductionOrder], error) {
			capturedFilter = filter
			return domain.CursorPage[services.ProductionOrder]{
				Items: []services.ProductionOrder{
					{
						ID:          "ord_123",
						OrderNumber: "CY-2026-000123",
						CustomerID:  "cust-1",
						ProviderID:  "prov-9",
						Status:      domain.OrderStatusDesignInProgress,
						Pricing:     domain.OrderPricing{Currency: "usd", BasePrice: 12000, Total: 12000},
						CreatedAt:   now,
					},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/orders?status=design_in_progress,proof_submitted&page_size=10&page_token=tok123&created_after=2026-03-01T00:00:00Z", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1", Roles: []string{auth.RoleCustomer}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedFilter.CustomerID != "cust-1" {
		t.Fatalf("expected customer scoping, got %+v", capturedFilter)
	}
	if capturedFilter.ProviderID != "" {
		t.Fatalf("customer queries must not set provider id: %+v", capturedFilter)
	}
	if len(capturedFilter.Status) != 2 || capturedFilter.Status[0] != "design_in_progress" {
		t.Fatalf("unexpected status filters: %v", capturedFilter.Status)
	}
	if capturedFilter.Pagination.PageSize != 10 || capturedFilter.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %+v", capturedFilter.Pagination)
	}
	if capturedFilter.DateRange.From == nil || !capturedFilter.DateRange.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date range: %+v", capturedFilter.DateRange)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].OrderNumber != "CY-2026-000123" {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("unexpected next page token: %s", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersScopesToProvider(t *testing.T) {
	var capturedFilter services.OrderListFilter
	service := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.ProductionOrder], error) {
			capturedFilter = filter
			return domain.CursorPage[services.ProductionOrder]{}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "prov-9", Roles: []string{auth.RoleProvider}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedFilter.ProviderID != "prov-9" || capturedFilter.CustomerID != "" {
		t.Fatalf("expected provider scoping, got %+v", capturedFilter)
	}
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var capturedCmd services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.ProductionOrder, error) {
			capturedCmd = cmd
			return services.ProductionOrder{
				ID:          "ord_new",
				OrderNumber: "CY-2026-000777",
				CustomerID:  cmd.CustomerID,
				ProviderID:  cmd.ProviderID,
				Status:      domain.OrderStatusConsultationPending,
				Pricing:     domain.OrderPricing{Currency: "USD", BasePrice: cmd.BasePrice, Total: cmd.BasePrice},
				CreatedAt:   time.Now().UTC(),
			}, nil
		},
	}

	body := `{
		"provider_id": "prov-9",
		"listing_id": "listing-3",
		"product_type_id": "signet-ring",
		"quantity": 1,
		"specification": {"metal": "gold"},
		"delivery": {"method": "ship", "address": {"recipient": "A. Smith", "line1": "1 Main St", "city": "Springfield", "postal_code": "12345", "country": "us"}},
		"rush": true,
		"base_price": 45000,
		"currency": "usd"
	}`

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1", Roles: []string{auth.RoleCustomer}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedCmd.CustomerID != "cust-1" || capturedCmd.ProviderID != "prov-9" {
		t.Fatalf("unexpected command parties: %+v", capturedCmd)
	}
	if !capturedCmd.Rush || capturedCmd.BasePrice != 45000 {
		t.Fatalf("unexpected command fields: %+v", capturedCmd)
	}
	if capturedCmd.Delivery.Address == nil || capturedCmd.Delivery.Address.Country != "US" {
		t.Fatalf("expected normalised delivery address, got %+v", capturedCmd.Delivery.Address)
	}
	if capturedCmd.Actor.Role != services.ActorRoleCustomer {
		t.Fatalf("unexpected actor role: %s", capturedCmd.Actor.Role)
	}
}

func TestOrderHandlersCreateOrderRejectsInvalidSpecification(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.ProductionOrder, error) {
			return services.ProductionOrder{}, services.ErrInvalidSpecification
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"provider_id":"p","listing_id":"l"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionOrder(t *testing.T) {
	var capturedCmd services.OrderStatusTransitionCommand
	service := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.ProductionOrder, error) {
			capturedCmd = cmd
			return services.ProductionOrder{ID: cmd.OrderID, Status: cmd.TargetStatus}, nil
		},
	}

	router := newOrderRouter(service)
	body := `{"target_status":"in_production","expected_status":"proof_approved","note":"kickoff"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:transition", strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "prov-9", Roles: []string{auth.RoleProvider}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedCmd.TargetStatus != domain.OrderStatusInProduction {
		t.Fatalf("unexpected target status: %s", capturedCmd.TargetStatus)
	}
	if capturedCmd.ExpectedStatus == nil || *capturedCmd.ExpectedStatus != domain.OrderStatusProofApproved {
		t.Fatalf("unexpected expected status: %v", capturedCmd.ExpectedStatus)
	}
	if capturedCmd.Actor.Role != services.ActorRoleProvider {
		t.Fatalf("unexpected actor role: %s", capturedCmd.Actor.Role)
	}
}

func TestOrderHandlersTransitionOrderRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:transition", strings.NewReader(`{"target_status":"shipped"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "prov-9"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionOrderConflict(t *testing.T) {
	service := &stubOrderService{
		transitionFn: func(context.Context, services.OrderStatusTransitionCommand) (services.ProductionOrder, error) {
			return services.ProductionOrder{}, services.ErrOrderInvalidState
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:transition", strings.NewReader(`{"target_status":"completed"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	var capturedCmd services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.ProductionOrder, error) {
			capturedCmd = cmd
			return services.ProductionOrder{ID: cmd.OrderID, Status: domain.OrderStatusCancelled}, nil
		},
	}

	router := newOrderRouter(service)
	body := bytes.NewReader([]byte(`{"reason":"changed my mind","expected_status":"consultation_pending"}`))
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedCmd.Reason != "changed my mind" {
		t.Fatalf("unexpected reason: %s", capturedCmd.Reason)
	}
	if capturedCmd.ExpectedStatus == nil || *capturedCmd.ExpectedStatus != domain.OrderStatusConsultationPending {
		t.Fatalf("unexpected expected status: %v", capturedCmd.ExpectedStatus)
	}
}

func TestOrderHandlersRequestRevision(t *testing.T) {
	var capturedCmd services.RegisterRevisionCommand
	service := &stubOrderService{
		revisionFn: func(_ context.Context, cmd services.RegisterRevisionCommand) (services.ProductionOrder, error) {
			capturedCmd = cmd
			return services.ProductionOrder{
				ID:                  cmd.OrderID,
				Status:              domain.OrderStatusDesignInProgress,
				RevisionCount:       3,
				MaxRevisionsAllowed: 2,
				Pricing:             domain.OrderPricing{Currency: "usd", RevisionFees: 1500, Total: 13500},
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:request-revision", strings.NewReader(`{"proof_id":"proof-2","note":"smaller monogram"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedCmd.ProofID != "proof-2" || capturedCmd.Note != "smaller monogram" {
		t.Fatalf("unexpected command: %+v", capturedCmd)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.RevisionCount != 3 || resp.Order.Pricing.RevisionFees != 1500 {
		t.Fatalf("unexpected order payload: %+v", resp.Order)
	}
}

func TestOrderHandlersListTimeline(t *testing.T) {
	occurred := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		timelineFn: func(_ context.Context, orderID string, _ services.Actor, pager services.Pagination) (domain.CursorPage[services.OrderTimelineEvent], error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order id: %s", orderID)
			}
			if pager.PageSize != 5 {
				t.Fatalf("unexpected page size: %d", pager.PageSize)
			}
			return domain.CursorPage[services.OrderTimelineEvent]{
				Items: []services.OrderTimelineEvent{
					{
						ID:         "evt-1",
						OrderID:    orderID,
						FromStatus: domain.OrderStatusConsultationPending,
						ToStatus:   domain.OrderStatusConsultationScheduled,
						ActorID:    "cust-1",
						ActorRole:  "customer",
						OccurredAt: occurred,
					},
				},
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1/timeline?page_size=5", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp timelineResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ToStatus != "consultation_scheduled" {
		t.Fatalf("unexpected timeline items: %+v", resp.Items)
	}
}

func TestOrderHandlersGetProgress(t *testing.T) {
	deadline := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		getFn: func(_ context.Context, orderID string, _ services.Actor) (services.ProductionOrder, error) {
			return services.ProductionOrder{
				ID:           orderID,
				Status:       domain.OrderStatusInProduction,
				DeadlineDate: &deadline,
			}, nil
		},
		progressFn: func(status services.OrderStatus) int {
			if status != domain.OrderStatusInProduction {
				t.Fatalf("unexpected status: %s", status)
			}
			return 75
		},
		overdueFn: func(services.ProductionOrder, time.Time) bool { return true },
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1/progress", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderProgressPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ProgressPercent != 75 || !resp.Overdue {
		t.Fatalf("unexpected progress payload: %+v", resp)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFn: func(context.Context, string, services.Actor) (services.ProductionOrder, error) {
			return services.ProductionOrder{}, services.ErrOrderNotFound
		},
	}

	router := newOrderRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
