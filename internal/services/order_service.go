package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/craftyard/api/internal/domain"
	"github.com/craftyard/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventOverdue       = "order.overdue"
	orderEventBookingSynth  = "booking.synthesized"

	orderIDPrefix    = "ord_"
	timelineIDPrefix = "tml_"
	bookingIDPrefix  = "bkg_"

	defaultOrderNumberPrefix = "CY"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the actor.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrInvalidSpecification indicates required specification fields are absent.
	ErrInvalidSpecification = errors.New("order: invalid specification")
	// ErrProviderCapacityExceeded indicates the provider hit its concurrent order limit.
	ErrProviderCapacityExceeded = errors.New("order: provider capacity exceeded")
)

// SpecificationError lists the specification fields missing from an order request.
type SpecificationError struct {
	Missing []string
}

func (e *SpecificationError) Error() string {
	return fmt.Sprintf("order: invalid specification: missing fields %v", e.Missing)
}

func (e *SpecificationError) Unwrap() error {
	return ErrInvalidSpecification
}

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusConsultationPending:   {domain.OrderStatusConsultationScheduled, domain.OrderStatusCancelled},
	domain.OrderStatusConsultationScheduled: {domain.OrderStatusConsultationCompleted, domain.OrderStatusConsultationPending, domain.OrderStatusCancelled},
	domain.OrderStatusConsultationCompleted: {domain.OrderStatusDesignInProgress, domain.OrderStatusCancelled},
	domain.OrderStatusDesignInProgress:      {domain.OrderStatusProofSubmitted, domain.OrderStatusCancelled},
	domain.OrderStatusProofSubmitted:        {domain.OrderStatusProofApproved, domain.OrderStatusDesignInProgress, domain.OrderStatusCancelled},
	domain.OrderStatusProofApproved:         {domain.OrderStatusInProduction, domain.OrderStatusCancelled},
	domain.OrderStatusInProduction:          {domain.OrderStatusQualityCheck, domain.OrderStatusCancelled},
	domain.OrderStatusQualityCheck:          {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

var orderProgressLadder = map[OrderStatus]int{
	domain.OrderStatusConsultationPending:   5,
	domain.OrderStatusConsultationScheduled: 10,
	domain.OrderStatusConsultationCompleted: 20,
	domain.OrderStatusDesignInProgress:      30,
	domain.OrderStatusProofSubmitted:        50,
	domain.OrderStatusProofApproved:         65,
	domain.OrderStatusInProduction:          80,
	domain.OrderStatusQualityCheck:          90,
	domain.OrderStatusCompleted:             100,
	domain.OrderStatusCancelled:             0,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// PersonalizationLocker freezes personalization submissions attached to a
// production order. Implemented by the snapshot engine.
type PersonalizationLocker interface {
	LockForOrder(ctx context.Context, productionOrderID string, reason LockReason) (int, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders            repositories.OrderRepository
	Timeline          repositories.OrderTimelineRepository
	Bookings          repositories.BookingRepository
	Counters          repositories.CounterRepository
	Catalog           CatalogGateway
	Escrow            EscrowGateway
	Personalization   PersonalizationLocker
	UnitOfWork        repositories.UnitOfWork
	OrderNumberPrefix string
	Clock             func() time.Time
	IDGenerator       func() string
	Events            OrderEventPublisher
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders          repositories.OrderRepository
	timeline        repositories.OrderTimelineRepository
	bookings        repositories.BookingRepository
	counters        repositories.CounterRepository
	catalog         CatalogGateway
	escrow          EscrowGateway
	personalization PersonalizationLocker
	unitOfWork      repositories.UnitOfWork
	numberPrefix    string
	clock           func() time.Time
	newID           func() string
	events          OrderEventPublisher
	logger          func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Timeline == nil {
		return nil, errors.New("order service: timeline repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	prefix := strings.ToUpper(strings.TrimSpace(deps.OrderNumberPrefix))
	if len(prefix) != 2 {
		prefix = defaultOrderNumberPrefix
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:          deps.Orders,
		timeline:        deps.Timeline,
		bookings:        deps.Bookings,
		counters:        deps.Counters,
		catalog:         deps.Catalog,
		escrow:          deps.Escrow,
		personalization: deps.Personalization,
		unitOfWork:      unit,
		numberPrefix:    prefix,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (ProductionOrder, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	providerID := strings.TrimSpace(cmd.ProviderID)
	listingID := strings.TrimSpace(cmd.ListingID)
	if customerID == "" {
		return ProductionOrder{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if providerID == "" {
		return ProductionOrder{}, fmt.Errorf("%w: provider id is required", ErrOrderInvalidInput)
	}
	if listingID == "" {
		return ProductionOrder{}, fmt.Errorf("%w: listing id is required", ErrOrderInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return ProductionOrder{}, fmt.Errorf("%w: quantity must be positive", ErrOrderInvalidInput)
	}

	productTypeID := strings.TrimSpace(cmd.ProductTypeID)
	if productTypeID == "" {
		resolved, err := s.catalog.ResolveListingProductType(ctx, listingID)
		if err != nil {
			return ProductionOrder{}, s.mapRepositoryError(err)
		}
		productTypeID = resolved
	}

	productType, err := s.catalog.GetProductType(ctx, productTypeID)
	if err != nil {
		return ProductionOrder{}, s.mapRepositoryError(err)
	}

	if missing := missingSpecFields(productType.RequiredSpecFields, cmd.Specification); len(missing) > 0 {
		return ProductionOrder{}, &SpecificationError{Missing: missing}
	}

	if productType.ConcurrentOrderLimit > 0 {
		active, err := s.orders.CountActiveByProvider(ctx, providerID)
		if err != nil {
			return ProductionOrder{}, s.mapRepositoryError(err)
		}
		if active >= productType.ConcurrentOrderLimit {
			return ProductionOrder{}, fmt.Errorf("%w: provider %s has %d active orders", ErrProviderCapacityExceeded, providerID, active)
		}
	}

	now := s.now()
	initialStatus := domain.OrderStatusDesignInProgress
	if productType.RequiresConsultation {
		initialStatus = domain.OrderStatusConsultationPending
	}

	order := ProductionOrder{
		ID:                  s.nextOrderID(),
		CustomerID:          customerID,
		ProviderID:          providerID,
		ListingID:           listingID,
		ProductTypeID:       productTypeID,
		Quantity:            cmd.Quantity,
		Specification:       cloneMap(cmd.Specification),
		Status:              initialStatus,
		MaxRevisionsAllowed: productType.DefaultMaxRevisions,
		PerRevisionFee:      productType.PerRevisionFee,
		Pricing: OrderPricing{
			Currency:  strings.TrimSpace(cmd.Currency),
			BasePrice: cmd.BasePrice,
			Total:     cmd.BasePrice,
		},
		Delivery:     cmd.Delivery,
		Flags:        OrderFlags{Rush: cmd.Rush},
		DeadlineDate: cmd.DeadlineDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if initialStatus == domain.OrderStatusDesignInProgress {
		order.Timestamps.DesignStartedAt = &now
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return ProductionOrder{}, err
	}
	order.OrderNumber = number

	event := OrderTimelineEvent{
		ID:         s.nextTimelineID(),
		OrderID:    order.ID,
		ToStatus:   initialStatus,
		ActorID:    cmd.Actor.ID,
		ActorRole:  cmd.Actor.Role,
		Note:       "order created",
		OccurredAt: now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.timeline.Append(txCtx, event); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return ProductionOrder{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: order.Status,
		ActorID:       cmd.Actor.ID,
		OccurredAt:    now,
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (ProductionOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ProductionOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ProductionOrder{}, s.mapRepositoryError(err)
	}
	if err := authorizeOrderActor(order, actor); err != nil {
		return ProductionOrder{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[ProductionOrder], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[ProductionOrder]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (ProductionOrder, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ProductionOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.TargetStatus == "" {
		return ProductionOrder{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ProductionOrder{}, s.mapRepositoryError(err)
	}
	if err := authorizeOrderActor(order, cmd.Actor); err != nil {
		return ProductionOrder{}, err
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return ProductionOrder{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	now := s.now()
	prevStatus := order.Status

	if err := s.applyStatusTransition(&order, cmd.TargetStatus, now); err != nil {
		return ProductionOrder{}, err
	}

	event := OrderTimelineEvent{
		ID:         s.nextTimelineID(),
		OrderID:    order.ID,
		FromStatus: prevStatus,
		ToStatus:   order.Status,
		ActorID:    cmd.Actor.ID,
		ActorRole:  cmd.Actor.Role,
		Note:       strings.TrimSpace(cmd.Note),
		OccurredAt: now,
	}

	var timelineEvent *domain.OrderTimelineEvent
	if prevStatus != order.Status {
		timelineEvent = &event
	}
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.orders.Transition(txCtx, order, prevStatus, timelineEvent))
	})
	if err != nil {
		return ProductionOrder{}, err
	}

	s.runTransitionSideEffects(ctx, &order, prevStatus, cmd.Actor, now)

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prevStatus,
		CurrentStatus:  order.Status,
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
	})

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (ProductionOrder, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ProductionOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ProductionOrder{}, s.mapRepositoryError(err)
	}
	if err := authorizeOrderActor(order, cmd.Actor); err != nil {
		return ProductionOrder{}, err
	}

	if order.Status.IsTerminal() {
		return ProductionOrder{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return ProductionOrder{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	now := s.now()
	prevStatus := order.Status

	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = now
	if order.Timestamps.CancelledAt == nil {
		order.Timestamps.CancelledAt = &now
	}

	event := OrderTimelineEvent{
		ID:         s.nextTimelineID(),
		OrderID:    order.ID,
		FromStatus: prevStatus,
		ToStatus:   domain.OrderStatusCancelled,
		ActorID:    cmd.Actor.ID,
		ActorRole:  cmd.Actor.Role,
		Note:       strings.TrimSpace(cmd.Reason),
		OccurredAt: now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.orders.Transition(txCtx, order, prevStatus, &event))
	})
	if err != nil {
		return ProductionOrder{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prevStatus,
		CurrentStatus:  order.Status,
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
		Metadata:       map[string]any{"reason": strings.TrimSpace(cmd.Reason)},
	})

	return order, nil
}

// RegisterRevision moves a proof-submitted order back to design and applies
// the overage fee once the included allowance is exhausted. Revisions are
// never hard-blocked, only monetized beyond the allowance.
func (s *orderService) RegisterRevision(ctx context.Context, cmd RegisterRevisionCommand) (ProductionOrder, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ProductionOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ProductionOrder{}, s.mapRepositoryError(err)
	}
	if err := authorizeOrderActor(order, cmd.Actor); err != nil {
		return ProductionOrder{}, err
	}

	if order.Status != domain.OrderStatusProofSubmitted {
		return ProductionOrder{}, fmt.Errorf("%w: revision requires status %q but was %q", ErrOrderInvalidState, domain.OrderStatusProofSubmitted, order.Status)
	}

	now := s.now()
	prevStatus := order.Status

	order.RevisionCount++
	if order.RevisionCount > order.MaxRevisionsAllowed {
		order.AdditionalRevisionsCharged++
		order.Pricing.RevisionFees += order.PerRevisionFee
		order.Pricing.Total += order.PerRevisionFee
	}
	order.Status = domain.OrderStatusDesignInProgress
	order.UpdatedAt = now

	note := strings.TrimSpace(cmd.Note)
	if note == "" {
		note = fmt.Sprintf("revision %d requested", order.RevisionCount)
	}
	event := OrderTimelineEvent{
		ID:         s.nextTimelineID(),
		OrderID:    order.ID,
		FromStatus: prevStatus,
		ToStatus:   order.Status,
		ActorID:    cmd.Actor.ID,
		ActorRole:  cmd.Actor.Role,
		Note:       note,
		OccurredAt: now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.orders.Transition(txCtx, order, prevStatus, &event))
	})
	if err != nil {
		return ProductionOrder{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prevStatus,
		CurrentStatus:  order.Status,
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
		Metadata: map[string]any{
			"revisionCount": order.RevisionCount,
			"proofId":       strings.TrimSpace(cmd.ProofID),
		},
	})

	return order, nil
}

func (s *orderService) ListTimeline(ctx context.Context, orderID string, actor Actor, pager Pagination) (domain.CursorPage[OrderTimelineEvent], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[OrderTimelineEvent]{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.CursorPage[OrderTimelineEvent]{}, s.mapRepositoryError(err)
	}
	if err := authorizeOrderActor(order, actor); err != nil {
		return domain.CursorPage[OrderTimelineEvent]{}, err
	}

	page, err := s.timeline.List(ctx, orderID, pager)
	if err != nil {
		return domain.CursorPage[OrderTimelineEvent]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// ComputeProgress maps a status onto the fixed percentage ladder used by UI
// and SLA displays. Not authoritative for business logic.
func (s *orderService) ComputeProgress(status OrderStatus) int {
	return orderProgressLadder[status]
}

func (s *orderService) IsOverdue(order ProductionOrder, now time.Time) bool {
	if order.DeadlineDate == nil || order.Status.IsTerminal() {
		return false
	}
	return now.UTC().After(order.DeadlineDate.UTC())
}

// MarkOverdueOrders publishes overdue events for non-terminal orders past
// their deadline. Invoked by the scheduler-triggered sweep endpoint.
func (s *orderService) MarkOverdueOrders(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	now := s.now()
	overdue, err := s.orders.ListOverdue(ctx, now, limit)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}

	for _, order := range overdue {
		s.publishEvent(ctx, OrderEvent{
			Type:          orderEventOverdue,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CurrentStatus: order.Status,
			OccurredAt:    now,
			Metadata: map[string]any{
				"deadline": order.DeadlineDate.UTC().Format(time.RFC3339),
			},
		})
	}
	return len(overdue), nil
}

func (s *orderService) applyStatusTransition(order *ProductionOrder, target OrderStatus, now time.Time) error {
	current := order.Status
	if current == target {
		order.UpdatedAt = now
		return nil
	}

	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	stampFirstEntry(order, target, now)
	return nil
}

// stampFirstEntry records the first arrival into a stage. Timestamps are set
// exactly once and never cleared, so re-entry via the revision loop keeps the
// original value.
func stampFirstEntry(order *ProductionOrder, status OrderStatus, now time.Time) {
	ts := &order.Timestamps
	switch status {
	case domain.OrderStatusConsultationScheduled:
		if ts.ConsultationScheduledAt == nil {
			ts.ConsultationScheduledAt = &now
		}
	case domain.OrderStatusConsultationCompleted:
		if ts.ConsultationCompletedAt == nil {
			ts.ConsultationCompletedAt = &now
		}
	case domain.OrderStatusDesignInProgress:
		if ts.DesignStartedAt == nil {
			ts.DesignStartedAt = &now
		}
	case domain.OrderStatusProofSubmitted:
		if ts.FirstProofSubmittedAt == nil {
			ts.FirstProofSubmittedAt = &now
		}
	case domain.OrderStatusProofApproved:
		if ts.ApprovedAt == nil {
			ts.ApprovedAt = &now
		}
	case domain.OrderStatusInProduction:
		if ts.ProductionStartedAt == nil {
			ts.ProductionStartedAt = &now
		}
	case domain.OrderStatusCompleted:
		if ts.CompletedAt == nil {
			ts.CompletedAt = &now
		}
	case domain.OrderStatusCancelled:
		if ts.CancelledAt == nil {
			ts.CancelledAt = &now
		}
	}
}

// runTransitionSideEffects performs the explicit follow-up steps tied to
// entering specific stages: the defensive personalization re-lock at design
// start and virtual booking synthesis at completion.
func (s *orderService) runTransitionSideEffects(ctx context.Context, order *ProductionOrder, prev OrderStatus, actor Actor, now time.Time) {
	if prev == order.Status {
		return
	}

	switch order.Status {
	case domain.OrderStatusDesignInProgress:
		s.lockPersonalization(ctx, order.ID, domain.LockReasonOrderReceived)
	case domain.OrderStatusProofApproved:
		s.lockPersonalization(ctx, order.ID, domain.LockReasonProofApproved)
	case domain.OrderStatusCompleted:
		s.synthesizeBooking(ctx, order, actor, now)
	}
}

func (s *orderService) lockPersonalization(ctx context.Context, orderID string, reason LockReason) {
	if s.personalization == nil {
		return
	}
	if _, err := s.personalization.LockForOrder(ctx, orderID, reason); err != nil {
		s.logger(ctx, "order.personalization.lock.failed", map[string]any{
			"order":  orderID,
			"reason": string(reason),
			"error":  err.Error(),
		})
	}
}

// synthesizeBooking creates a virtual booking when no native booking exists
// so the standard review/rating flow applies uniformly to custom orders.
func (s *orderService) synthesizeBooking(ctx context.Context, order *ProductionOrder, actor Actor, now time.Time) {
	if s.bookings == nil {
		return
	}

	if _, err := s.bookings.FindByOrder(ctx, order.ID); err == nil {
		return
	} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrOrderNotFound) {
		s.logger(ctx, "order.booking.lookup.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return
	}

	booking := Booking{
		ID:             bookingIDPrefix + s.newID(),
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		ProviderID:     order.ProviderID,
		ListingID:      order.ListingID,
		Virtual:        true,
		FinalPrice:     order.Pricing.Total,
		EscrowAmount:   order.Pricing.Total,
		Currency:       order.Pricing.Currency,
		ReviewEligible: true,
		CreatedAt:      now,
	}

	if s.escrow != nil {
		if info, err := s.escrow.LookupEscrow(ctx, order.ID); err == nil {
			booking.FinalPrice = info.FinalPrice
			booking.EscrowAmount = info.EscrowAmount
			if info.Currency != "" {
				booking.Currency = info.Currency
			}
		} else {
			s.logger(ctx, "order.booking.escrow.lookup.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
		}
	}

	if err := s.bookings.Insert(ctx, booking); err != nil {
		// A concurrent completion already synthesized the booking.
		if mapped := s.mapRepositoryError(err); errors.Is(mapped, ErrOrderConflict) {
			return
		}
		s.logger(ctx, "order.booking.synthesize.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventBookingSynth,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: order.Status,
		ActorID:       actor.ID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"bookingId": booking.ID,
			"virtual":   true,
		},
	})
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

// generateOrderNumber allocates the next sequence number from the per-year
// counter. The counter increment runs in its own transaction, so sequence
// values are monotonic but not gapless when order creation later fails.
func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	counterID := fmt.Sprintf("orders:%04d", now.Year())
	seq, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return "", s.mapRepositoryError(err)
	}
	return fmt.Sprintf("%s%02d%06d", s.numberPrefix, now.Year()%100, seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) nextTimelineID() string {
	return timelineIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

// authorizeOrderActor enforces ownership before any read or mutation. A
// mismatch reports not-found so callers cannot probe for order existence.
func authorizeOrderActor(order ProductionOrder, actor Actor) error {
	switch actor.Role {
	case ActorRoleStaff, ActorRoleSystem:
		return nil
	}
	id := strings.TrimSpace(actor.ID)
	if id != "" && (id == order.CustomerID || id == order.ProviderID) {
		return nil
	}
	return fmt.Errorf("%w: order %s", ErrOrderNotFound, order.ID)
}

func missingSpecFields(required []string, spec map[string]any) []string {
	var missing []string
	for _, field := range required {
		value, ok := spec[field]
		if !ok || value == nil {
			missing = append(missing, field)
			continue
		}
		if text, isString := value.(string); isString && strings.TrimSpace(text) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func valuePtr[T any](v T) *T {
	return &v
}

func canTransition(current, target OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
