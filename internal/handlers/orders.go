package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftyard/api/internal/domain"
	"github.com/craftyard/api/internal/platform/auth"
	"github.com/craftyard/api/internal/platform/httpx"
	"github.com/craftyard/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 32 * 1024
	maxOrderActionSize   = 4 * 1024
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusConsultationPending:   {},
	domain.OrderStatusConsultationScheduled: {},
	domain.OrderStatusConsultationCompleted: {},
	domain.OrderStatusDesignInProgress:      {},
	domain.OrderStatusProofSubmitted:        {},
	domain.OrderStatusProofApproved:         {},
	domain.OrderStatusInProduction:          {},
	domain.OrderStatusQualityCheck:          {},
	domain.OrderStatusCompleted:             {},
	domain.OrderStatusCancelled:             {},
}

type createOrderRequest struct {
	ProviderID    string          `json:"provider_id"`
	ListingID     string          `json:"listing_id"`
	ProductTypeID string          `json:"product_type_id"`
	Quantity      int             `json:"quantity"`
	Specification map[string]any  `json:"specification"`
	Delivery      deliveryRequest `json:"delivery"`
	Rush          bool            `json:"rush"`
	DeadlineDate  string          `json:"deadline_date,omitempty"`
	BasePrice     int64           `json:"base_price"`
	Currency      string          `json:"currency"`
}

type deliveryRequest struct {
	Method  string          `json:"method"`
	Address *addressPayload `json:"address,omitempty"`
}

type transitionOrderRequest struct {
	TargetStatus   string `json:"target_status"`
	Note           string `json:"note,omitempty"`
	ExpectedStatus string `json:"expected_status,omitempty"`
}

type cancelOrderRequest struct {
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status,omitempty"`
}

type requestRevisionRequest struct {
	ProofID string `json:"proof_id"`
	Note    string `json:"note,omitempty"`
}

// OrderHandlers exposes the production order lifecycle endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:transition", h.transitionOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:request-revision", h.requestRevision)
	r.Get("/{orderID}/timeline", h.listTimeline)
	r.Get("/{orderID}/progress", h.getProgress)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	var deadline *time.Time
	if raw := strings.TrimSpace(req.DeadlineDate); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "deadline_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		deadline = &ts
	}

	cmd := services.CreateOrderCommand{
		CustomerID:    strings.TrimSpace(identity.UID),
		ProviderID:    strings.TrimSpace(req.ProviderID),
		ListingID:     strings.TrimSpace(req.ListingID),
		ProductTypeID: strings.TrimSpace(req.ProductTypeID),
		Quantity:      req.Quantity,
		Specification: cloneMap(req.Specification),
		Delivery: services.OrderDelivery{
			Method: strings.TrimSpace(req.Delivery.Method),
		},
		Rush:         req.Rush,
		DeadlineDate: deadline,
		BasePrice:    req.BasePrice,
		Currency:     strings.TrimSpace(req.Currency),
		Actor:        actorFromIdentity(identity),
	}
	if req.Delivery.Address != nil {
		addr := req.Delivery.Address.toDomain()
		cmd.Delivery.Address = &addr
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	statusFilters := parseFilterValues(query["status"])

	var dateRange domain.RangeQuery[time.Time]
	var hasDateRange bool
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
		hasDateRange = true
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
		hasDateRange = true
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	actor := actorFromIdentity(identity)
	filter := services.OrderListFilter{
		Status: statusFilters,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	switch actor.Role {
	case services.ActorRoleProvider:
		filter.ProviderID = actor.ID
	case services.ActorRoleStaff:
		filter.CustomerID = strings.TrimSpace(query.Get("customer_id"))
		filter.ProviderID = strings.TrimSpace(query.Get("provider_id"))
	default:
		filter.CustomerID = actor.ID
	}
	if hasDateRange {
		filter.DateRange = dateRange
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	response := orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	order, err := h.orders.GetOrder(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	body, err := readLimitedBody(r, maxOrderActionSize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req transitionOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target, ok := parseOrderStatus(req.TargetStatus)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target_status must be a valid order status", http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		Actor:        actorFromIdentity(identity),
		Note:         strings.TrimSpace(req.Note),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderActionSize)
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

	cmd := services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actorFromIdentity(identity),
		Reason:  strings.TrimSpace(req.Reason),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	cancelled, err := h.orders.Cancel(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

func (h *OrderHandlers) requestRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	body, err := readLimitedBody(r, maxOrderActionSize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req requestRevisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	order, err := h.orders.RegisterRevision(ctx, services.RegisterRevisionCommand{
		OrderID: orderID,
		ProofID: strings.TrimSpace(req.ProofID),
		Actor:   actorFromIdentity(identity),
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListTimeline(ctx, orderID, actorFromIdentity(identity), services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]timelineEventPayload, 0, len(page.Items))
	for _, event := range page.Items {
		items = append(items, timelineEventPayload{
			ID:         strings.TrimSpace(event.ID),
			FromStatus: strings.TrimSpace(string(event.FromStatus)),
			ToStatus:   strings.TrimSpace(string(event.ToStatus)),
			ActorID:    strings.TrimSpace(event.ActorID),
			ActorRole:  strings.TrimSpace(event.ActorRole),
			Note:       strings.TrimSpace(event.Note),
			OccurredAt: formatTime(event.OccurredAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, timelineResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
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

	order, err := h.orders.GetOrder(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderProgressPayload{
		OrderID:         strings.TrimSpace(order.ID),
		Status:          strings.TrimSpace(string(order.Status)),
		ProgressPercent: h.orders.ComputeProgress(order.Status),
		Overdue:         h.orders.IsOverdue(order, time.Now().UTC()),
		DeadlineDate:    formatTime(pointerTime(order.DeadlineDate)),
	})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID           string `json:"id"`
	OrderNumber  string `json:"order_number"`
	Status       string `json:"status"`
	CustomerID   string `json:"customer_id"`
	ProviderID   string `json:"provider_id"`
	Currency     string `json:"currency"`
	Total        int64  `json:"total"`
	Rush         bool   `json:"rush,omitempty"`
	DeadlineDate string `json:"deadline_date,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                         string                 `json:"id"`
	OrderNumber                string                 `json:"order_number"`
	CustomerID                 string                 `json:"customer_id"`
	ProviderID                 string                 `json:"provider_id"`
	ListingID                  string                 `json:"listing_id"`
	ProductTypeID              string                 `json:"product_type_id"`
	Quantity                   int                    `json:"quantity"`
	Specification              map[string]any         `json:"specification,omitempty"`
	Status                     string                 `json:"status"`
	RevisionCount              int                    `json:"revision_count"`
	MaxRevisionsAllowed        int                    `json:"max_revisions_allowed"`
	AdditionalRevisionsCharged int                    `json:"additional_revisions_charged,omitempty"`
	PerRevisionFee             int64                  `json:"per_revision_fee,omitempty"`
	Pricing                    orderPricingPayload    `json:"pricing"`
	Delivery                   orderDeliveryPayload   `json:"delivery"`
	Flags                      orderFlagsPayload      `json:"flags,omitempty"`
	DeadlineDate               string                 `json:"deadline_date,omitempty"`
	Timestamps                 orderTimestampsPayload `json:"timestamps"`
	SnapshotID                 *string                `json:"snapshot_id,omitempty"`
	CreatedAt                  string                 `json:"created_at"`
	UpdatedAt                  string                 `json:"updated_at,omitempty"`
}

type orderPricingPayload struct {
	Currency     string `json:"currency"`
	BasePrice    int64  `json:"base_price"`
	RevisionFees int64  `json:"revision_fees,omitempty"`
	RushFee      int64  `json:"rush_fee,omitempty"`
	Total        int64  `json:"total"`
}

type orderDeliveryPayload struct {
	Method  string          `json:"method"`
	Address *addressPayload `json:"address,omitempty"`
}

type orderFlagsPayload struct {
	Rush                       bool `json:"rush,omitempty"`
	RequiresCustomerApproval   bool `json:"requires_customer_approval,omitempty"`
	ProviderAccepted           bool `json:"provider_accepted,omitempty"`
	HasAdvancedPersonalization bool `json:"has_advanced_personalization,omitempty"`
}

type orderTimestampsPayload struct {
	ConsultationScheduledAt string `json:"consultation_scheduled_at,omitempty"`
	ConsultationCompletedAt string `json:"consultation_completed_at,omitempty"`
	DesignStartedAt         string `json:"design_started_at,omitempty"`
	FirstProofSubmittedAt   string `json:"first_proof_submitted_at,omitempty"`
	ApprovedAt              string `json:"approved_at,omitempty"`
	ProductionStartedAt     string `json:"production_started_at,omitempty"`
	CompletedAt             string `json:"completed_at,omitempty"`
	CancelledAt             string `json:"cancelled_at,omitempty"`
}

type timelineResponse struct {
	Items         []timelineEventPayload `json:"items"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

type timelineEventPayload struct {
	ID         string `json:"id"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id"`
	ActorRole  string `json:"actor_role,omitempty"`
	Note       string `json:"note,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type orderProgressPayload struct {
	OrderID         string `json:"order_id"`
	Status          string `json:"status"`
	ProgressPercent int    `json:"progress_percent"`
	Overdue         bool   `json:"overdue"`
	DeadlineDate    string `json:"deadline_date,omitempty"`
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(p.Recipient),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      cloneStringPointer(p.Line2),
		City:       strings.TrimSpace(p.City),
		State:      cloneStringPointer(p.State),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(p.Country)),
		Phone:      cloneStringPointer(p.Phone),
	}
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      cloneStringPointer(addr.Line2),
		City:       addr.City,
		State:      cloneStringPointer(addr.State),
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      cloneStringPointer(addr.Phone),
	}
}

func buildOrderSummary(order services.ProductionOrder) orderSummaryPayload {
	return orderSummaryPayload{
		ID:           strings.TrimSpace(order.ID),
		OrderNumber:  strings.TrimSpace(order.OrderNumber),
		Status:       strings.TrimSpace(string(order.Status)),
		CustomerID:   strings.TrimSpace(order.CustomerID),
		ProviderID:   strings.TrimSpace(order.ProviderID),
		Currency:     strings.ToUpper(strings.TrimSpace(order.Pricing.Currency)),
		Total:        order.Pricing.Total,
		Rush:         order.Flags.Rush,
		DeadlineDate: formatTime(pointerTime(order.DeadlineDate)),
		CreatedAt:    formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.ProductionOrder) orderPayload {
	payload := orderPayload{
		ID:                         strings.TrimSpace(order.ID),
		OrderNumber:                strings.TrimSpace(order.OrderNumber),
		CustomerID:                 strings.TrimSpace(order.CustomerID),
		ProviderID:                 strings.TrimSpace(order.ProviderID),
		ListingID:                  strings.TrimSpace(order.ListingID),
		ProductTypeID:              strings.TrimSpace(order.ProductTypeID),
		Quantity:                   order.Quantity,
		Specification:              cloneMap(order.Specification),
		Status:                     strings.TrimSpace(string(order.Status)),
		RevisionCount:              order.RevisionCount,
		MaxRevisionsAllowed:        order.MaxRevisionsAllowed,
		AdditionalRevisionsCharged: order.AdditionalRevisionsCharged,
		PerRevisionFee:             order.PerRevisionFee,
		Pricing: orderPricingPayload{
			Currency:     strings.ToUpper(strings.TrimSpace(order.Pricing.Currency)),
			BasePrice:    order.Pricing.BasePrice,
			RevisionFees: order.Pricing.RevisionFees,
			RushFee:      order.Pricing.RushFee,
			Total:        order.Pricing.Total,
		},
		Delivery: orderDeliveryPayload{
			Method: strings.TrimSpace(order.Delivery.Method),
		},
		DeadlineDate: formatTime(pointerTime(order.DeadlineDate)),
		Timestamps: orderTimestampsPayload{
			ConsultationScheduledAt: formatTime(pointerTime(order.Timestamps.ConsultationScheduledAt)),
			ConsultationCompletedAt: formatTime(pointerTime(order.Timestamps.ConsultationCompletedAt)),
			DesignStartedAt:         formatTime(pointerTime(order.Timestamps.DesignStartedAt)),
			FirstProofSubmittedAt:   formatTime(pointerTime(order.Timestamps.FirstProofSubmittedAt)),
			ApprovedAt:              formatTime(pointerTime(order.Timestamps.ApprovedAt)),
			ProductionStartedAt:     formatTime(pointerTime(order.Timestamps.ProductionStartedAt)),
			CompletedAt:             formatTime(pointerTime(order.Timestamps.CompletedAt)),
			CancelledAt:             formatTime(pointerTime(order.Timestamps.CancelledAt)),
		},
		SnapshotID: cloneStringPointer(order.SnapshotID),
		CreatedAt:  formatTime(order.CreatedAt),
		UpdatedAt:  formatTime(order.UpdatedAt),
	}

	if order.Delivery.Address != nil {
		addr := buildAddressPayload(*order.Delivery.Address)
		payload.Delivery.Address = &addr
	}

	if order.Flags.Rush || order.Flags.RequiresCustomerApproval ||
		order.Flags.ProviderAccepted || order.Flags.HasAdvancedPersonalization {
		payload.Flags = orderFlagsPayload{
			Rush:                       order.Flags.Rush,
			RequiresCustomerApproval:   order.Flags.RequiresCustomerApproval,
			ProviderAccepted:           order.Flags.ProviderAccepted,
			HasAdvancedPersonalization: order.Flags.HasAdvancedPersonalization,
		}
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInvalidSpecification):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_specification", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProviderCapacityExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("provider_capacity_exceeded", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func parseOrderStatus(raw string) (services.OrderStatus, bool) {
	status := domain.OrderStatus(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := validOrderStatuses[status]; !ok {
		return "", false
	}
	return status, true
}

func actorFromIdentity(identity *auth.Identity) services.Actor {
	actor := services.Actor{
		ID:   strings.TrimSpace(identity.UID),
		Role: services.ActorRoleCustomer,
	}
	switch {
	case identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin):
		actor.Role = services.ActorRoleStaff
	case identity.HasRole(auth.RoleProvider):
		actor.Role = services.ActorRoleProvider
	}
	return actor
}

// Shared helpers used across the handler package -----------------------------

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxOrderBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parsePageSize(raw string, fallback, maxSize int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	switch {
	case size <= 0:
		return fallback, nil
	case size > maxSize:
		return maxSize, nil
	default:
		return size, nil
	}
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copy := *value
	return &copy
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return slices.Clone(values)
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}
