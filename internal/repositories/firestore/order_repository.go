package firestore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftyard/api/internal/domain"
	pfirestore "github.com/craftyard/api/internal/platform/firestore"
	"github.com/craftyard/api/internal/platform/pagination"
	"github.com/craftyard/api/internal/repositories"
)

const ordersCollection = "productionOrders"

// activeOrderStatuses are every non-terminal lifecycle state. Kept in
// pipeline order so the in-clause stays stable across deployments.
var activeOrderStatuses = []string{
	string(domain.OrderStatusConsultationPending),
	string(domain.OrderStatusConsultationScheduled),
	string(domain.OrderStatusConsultationCompleted),
	string(domain.OrderStatusDesignInProgress),
	string(domain.OrderStatusProofSubmitted),
	string(domain.OrderStatusProofApproved),
	string(domain.OrderStatusInProduction),
	string(domain.OrderStatusQualityCheck),
}

// OrderRepository persists production order documents.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert stores a new production order. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.ProductionOrder) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("production_orders.insert", err)
	}
	return nil
}

// Transition replaces the persisted order state only while the stored status
// still matches expected, so concurrent writers cannot clobber each other's
// transitions. The timeline event, when given, is created in the same
// transaction: either both writes land or neither does. A mismatched status
// surfaces as a conflict.
func (r *OrderRepository) Transition(ctx context.Context, order domain.ProductionOrder, expected domain.OrderStatus, event *domain.OrderTimelineEvent) error {
	if r == nil || r.base == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if event != nil && strings.TrimSpace(event.ID) == "" {
		return errors.New("order repository: timeline event id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("order repository: decode %s: %w", orderID, err)
		}
		if stored.Status != string(expected) {
			return status.Errorf(codes.FailedPrecondition,
				"order %s is %s, expected %s", orderID, stored.Status, expected)
		}
		if err := tx.Set(docRef, encodeOrderDocument(order)); err != nil {
			return err
		}
		if event != nil {
			eventRef := docRef.Collection(orderTimelineCollection).Doc(strings.TrimSpace(event.ID))
			if err := tx.Create(eventRef, encodeOrderTimelineDocument(*event)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("production_orders.transition", err)
	}
	return nil
}

// AttachSnapshot links a personalization snapshot to the order. Field-level
// updates leave concurrently written order state untouched.
func (r *OrderRepository) AttachSnapshot(ctx context.Context, orderID, snapshotID string, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	snapshotID = strings.TrimSpace(snapshotID)
	if snapshotID == "" {
		return errors.New("order repository: snapshot id is required")
	}

	updates := []firestore.Update{
		{Path: "snapshotId", Value: snapshotID},
		{Path: "flags.hasAdvancedPersonalization", Value: true},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
	if _, err := r.base.Update(ctx, orderID, updates); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single production order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.ProductionOrder, error) {
	if r == nil || r.base == nil {
		return domain.ProductionOrder{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.ProductionOrder{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.ProductionOrder{}, err
	}
	return decodeOrderDocument(orderID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.ProductionOrder], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.ProductionOrder]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := pagination.DecodeTimeToken(token)
		if err != nil {
			return domain.CursorPage[domain.ProductionOrder]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := normaliseStatusFilter(filter.Status)
	customerID := strings.TrimSpace(filter.CustomerID)
	providerID := strings.TrimSpace(filter.ProviderID)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}
		if providerID != "" {
			q = q.Where("providerId", "==", providerID)
		}

		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}

		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.ProductionOrder]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = pagination.EncodeTimeToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.ProductionOrder, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.ProductionOrder]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// CountActiveByProvider counts the provider's orders in non-terminal states.
func (r *OrderRepository) CountActiveByProvider(ctx context.Context, providerID string) (int, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("order repository not initialised")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return 0, errors.New("order repository: provider id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("providerId", "==", providerID).
			Where("status", "in", activeOrderStatuses)
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// ListOverdue returns active orders whose deadline passed before asOf,
// earliest deadline first.
func (r *OrderRepository) ListOverdue(ctx context.Context, asOf time.Time, limit int) ([]domain.ProductionOrder, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.
			Where("status", "in", activeOrderStatuses).
			Where("deadlineDate", "<", asOf.UTC()).
			OrderBy("deadlineDate", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.ProductionOrder, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return items, nil
}

type orderDocument struct {
	OrderNumber                string                  `firestore:"orderNumber"`
	CustomerID                 string                  `firestore:"customerId"`
	ProviderID                 string                  `firestore:"providerId"`
	ListingID                  string                  `firestore:"listingId"`
	ProductTypeID              string                  `firestore:"productTypeId"`
	Quantity                   int                     `firestore:"quantity"`
	Specification              map[string]any          `firestore:"specification,omitempty"`
	Status                     string                  `firestore:"status"`
	RevisionCount              int                     `firestore:"revisionCount"`
	MaxRevisionsAllowed        int                     `firestore:"maxRevisionsAllowed"`
	AdditionalRevisionsCharged int                     `firestore:"additionalRevisionsCharged"`
	PerRevisionFee             int64                   `firestore:"perRevisionFee"`
	Pricing                    orderPricingDocument    `firestore:"pricing"`
	Delivery                   *orderDeliveryDocument  `firestore:"delivery,omitempty"`
	Flags                      orderFlagsDocument      `firestore:"flags"`
	DeadlineDate               *time.Time              `firestore:"deadlineDate,omitempty"`
	Timestamps                 orderTimestampsDocument `firestore:"timestamps"`
	SnapshotID                 string                  `firestore:"snapshotId,omitempty"`
	CreatedAt                  time.Time               `firestore:"createdAt"`
	UpdatedAt                  time.Time               `firestore:"updatedAt"`
}

type orderPricingDocument struct {
	Currency     string `firestore:"currency"`
	BasePrice    int64  `firestore:"basePrice"`
	RevisionFees int64  `firestore:"revisionFees"`
	RushFee      int64  `firestore:"rushFee"`
	Total        int64  `firestore:"total"`
}

type orderDeliveryDocument struct {
	Method  string           `firestore:"method"`
	Address *addressDocument `firestore:"address,omitempty"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type orderFlagsDocument struct {
	Rush                       bool `firestore:"rush"`
	RequiresCustomerApproval   bool `firestore:"requiresCustomerApproval"`
	ProviderAccepted           bool `firestore:"providerAccepted"`
	HasAdvancedPersonalization bool `firestore:"hasAdvancedPersonalization"`
}

type orderTimestampsDocument struct {
	ConsultationScheduledAt *time.Time `firestore:"consultationScheduledAt,omitempty"`
	ConsultationCompletedAt *time.Time `firestore:"consultationCompletedAt,omitempty"`
	DesignStartedAt         *time.Time `firestore:"designStartedAt,omitempty"`
	FirstProofSubmittedAt   *time.Time `firestore:"firstProofSubmittedAt,omitempty"`
	ApprovedAt              *time.Time `firestore:"approvedAt,omitempty"`
	ProductionStartedAt     *time.Time `firestore:"productionStartedAt,omitempty"`
	CompletedAt             *time.Time `firestore:"completedAt,omitempty"`
	CancelledAt             *time.Time `firestore:"cancelledAt,omitempty"`
}

func encodeOrderDocument(order domain.ProductionOrder) orderDocument {
	doc := orderDocument{
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
		Pricing: orderPricingDocument{
			Currency:     strings.TrimSpace(order.Pricing.Currency),
			BasePrice:    order.Pricing.BasePrice,
			RevisionFees: order.Pricing.RevisionFees,
			RushFee:      order.Pricing.RushFee,
			Total:        order.Pricing.Total,
		},
		Flags: orderFlagsDocument{
			Rush:                       order.Flags.Rush,
			RequiresCustomerApproval:   order.Flags.RequiresCustomerApproval,
			ProviderAccepted:           order.Flags.ProviderAccepted,
			HasAdvancedPersonalization: order.Flags.HasAdvancedPersonalization,
		},
		DeadlineDate: normalizeTimePointer(order.DeadlineDate),
		Timestamps: orderTimestampsDocument{
			ConsultationScheduledAt: normalizeTimePointer(order.Timestamps.ConsultationScheduledAt),
			ConsultationCompletedAt: normalizeTimePointer(order.Timestamps.ConsultationCompletedAt),
			DesignStartedAt:         normalizeTimePointer(order.Timestamps.DesignStartedAt),
			FirstProofSubmittedAt:   normalizeTimePointer(order.Timestamps.FirstProofSubmittedAt),
			ApprovedAt:              normalizeTimePointer(order.Timestamps.ApprovedAt),
			ProductionStartedAt:     normalizeTimePointer(order.Timestamps.ProductionStartedAt),
			CompletedAt:             normalizeTimePointer(order.Timestamps.CompletedAt),
			CancelledAt:             normalizeTimePointer(order.Timestamps.CancelledAt),
		},
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	if order.SnapshotID != nil {
		doc.SnapshotID = strings.TrimSpace(*order.SnapshotID)
	}
	if method := strings.TrimSpace(order.Delivery.Method); method != "" || order.Delivery.Address != nil {
		doc.Delivery = &orderDeliveryDocument{
			Method:  method,
			Address: encodeAddress(order.Delivery.Address),
		}
	}
	return doc
}

func encodeAddress(address *domain.Address) *addressDocument {
	if address == nil {
		return nil
	}
	return &addressDocument{
		Recipient:  strings.TrimSpace(address.Recipient),
		Line1:      strings.TrimSpace(address.Line1),
		Line2:      address.Line2,
		City:       strings.TrimSpace(address.City),
		State:      address.State,
		PostalCode: strings.TrimSpace(address.PostalCode),
		Country:    strings.TrimSpace(address.Country),
		Phone:      address.Phone,
	}
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.ProductionOrder {
	order := domain.ProductionOrder{
		ID:                         strings.TrimSpace(id),
		OrderNumber:                strings.TrimSpace(doc.OrderNumber),
		CustomerID:                 strings.TrimSpace(doc.CustomerID),
		ProviderID:                 strings.TrimSpace(doc.ProviderID),
		ListingID:                  strings.TrimSpace(doc.ListingID),
		ProductTypeID:              strings.TrimSpace(doc.ProductTypeID),
		Quantity:                   doc.Quantity,
		Specification:              cloneMap(doc.Specification),
		Status:                     domain.OrderStatus(strings.TrimSpace(doc.Status)),
		RevisionCount:              doc.RevisionCount,
		MaxRevisionsAllowed:        doc.MaxRevisionsAllowed,
		AdditionalRevisionsCharged: doc.AdditionalRevisionsCharged,
		PerRevisionFee:             doc.PerRevisionFee,
		Pricing: domain.OrderPricing{
			Currency:     strings.TrimSpace(doc.Pricing.Currency),
			BasePrice:    doc.Pricing.BasePrice,
			RevisionFees: doc.Pricing.RevisionFees,
			RushFee:      doc.Pricing.RushFee,
			Total:        doc.Pricing.Total,
		},
		Flags: domain.OrderFlags{
			Rush:                       doc.Flags.Rush,
			RequiresCustomerApproval:   doc.Flags.RequiresCustomerApproval,
			ProviderAccepted:           doc.Flags.ProviderAccepted,
			HasAdvancedPersonalization: doc.Flags.HasAdvancedPersonalization,
		},
		DeadlineDate: normalizeTimePointer(doc.DeadlineDate),
		Timestamps: domain.OrderTimestamps{
			ConsultationScheduledAt: normalizeTimePointer(doc.Timestamps.ConsultationScheduledAt),
			ConsultationCompletedAt: normalizeTimePointer(doc.Timestamps.ConsultationCompletedAt),
			DesignStartedAt:         normalizeTimePointer(doc.Timestamps.DesignStartedAt),
			FirstProofSubmittedAt:   normalizeTimePointer(doc.Timestamps.FirstProofSubmittedAt),
			ApprovedAt:              normalizeTimePointer(doc.Timestamps.ApprovedAt),
			ProductionStartedAt:     normalizeTimePointer(doc.Timestamps.ProductionStartedAt),
			CompletedAt:             normalizeTimePointer(doc.Timestamps.CompletedAt),
			CancelledAt:             normalizeTimePointer(doc.Timestamps.CancelledAt),
		},
		CreatedAt: chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt: chooseTime(doc.UpdatedAt, updatedAt),
	}
	if snapshotID := strings.TrimSpace(doc.SnapshotID); snapshotID != "" {
		order.SnapshotID = &snapshotID
	}
	if doc.Delivery != nil {
		order.Delivery = domain.OrderDelivery{
			Method:  strings.TrimSpace(doc.Delivery.Method),
			Address: decodeAddress(doc.Delivery.Address),
		}
	}
	return order
}

func decodeAddress(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	return &domain.Address{
		Recipient:  strings.TrimSpace(doc.Recipient),
		Line1:      strings.TrimSpace(doc.Line1),
		Line2:      doc.Line2,
		City:       strings.TrimSpace(doc.City),
		State:      doc.State,
		PostalCode: strings.TrimSpace(doc.PostalCode),
		Country:    strings.TrimSpace(doc.Country),
		Phone:      doc.Phone,
	}
}

// Shared document helpers -----------------------------------------------------

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

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func normalizeTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	if value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func normaliseStatusFilter(statuses []string) []string {
	if len(statuses) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(statuses))
	seen := make(map[string]struct{})
	for _, status := range statuses {
		trimmed := strings.ToLower(strings.TrimSpace(status))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
