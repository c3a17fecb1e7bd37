package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/craftyard/api/internal/domain"
	pfirestore "github.com/craftyard/api/internal/platform/firestore"
	"github.com/craftyard/api/internal/platform/pagination"
)

const orderTimelineCollection = "timeline"

// OrderTimelineRepository stores append-only status change events under each order.
type OrderTimelineRepository struct {
	provider *pfirestore.Provider
}

// NewOrderTimelineRepository constructs a Firestore-backed timeline repository.
func NewOrderTimelineRepository(provider *pfirestore.Provider) (*OrderTimelineRepository, error) {
	if provider == nil {
		return nil, errors.New("order timeline repository: firestore provider is required")
	}
	return &OrderTimelineRepository{provider: provider}, nil
}

// Append stores a new timeline event under the given order.
func (r *OrderTimelineRepository) Append(ctx context.Context, event domain.OrderTimelineEvent) error {
	if r == nil || r.provider == nil {
		return errors.New("order timeline repository not initialised")
	}
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return errors.New("order timeline repository: order id is required")
	}
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		return errors.New("order timeline repository: event id is required")
	}

	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return err
	}

	if _, err := coll.Doc(eventID).Create(ctx, encodeOrderTimelineDocument(event)); err != nil {
		return pfirestore.WrapError("order_timeline.append", err)
	}
	return nil
}

// List returns the order's timeline events, newest first.
func (r *OrderTimelineRepository) List(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderTimelineEvent], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.OrderTimelineEvent]{}, errors.New("order timeline repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[domain.OrderTimelineEvent]{}, errors.New("order timeline repository: order id is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := pagination.DecodeTimeToken(token)
		if err != nil {
			return domain.CursorPage[domain.OrderTimelineEvent]{}, fmt.Errorf("order timeline repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return domain.CursorPage[domain.OrderTimelineEvent]{}, err
	}

	query := coll.OrderBy("occurredAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if len(startAfter) == 2 {
		query = query.StartAfter(startAfter...)
	}
	if fetchLimit > 0 {
		query = query.Limit(fetchLimit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	type timelineRow struct {
		id   string
		data orderTimelineDocument
	}

	rows := make([]timelineRow, 0, fetchLimit)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.OrderTimelineEvent]{}, pfirestore.WrapError("order_timeline.list", err)
		}
		var doc orderTimelineDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.OrderTimelineEvent]{}, fmt.Errorf("order timeline repository: decode %s: %w", snap.Ref.ID, err)
		}
		rows = append(rows, timelineRow{id: snap.Ref.ID, data: doc})
	}

	nextToken := ""
	if limit > 0 && len(rows) == fetchLimit {
		last := rows[len(rows)-1]
		nextToken = pagination.EncodeTimeToken(last.data.OccurredAt, last.id)
		rows = rows[:len(rows)-1]
	}

	items := make([]domain.OrderTimelineEvent, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.OrderTimelineEvent{
			ID:         row.id,
			OrderID:    orderID,
			FromStatus: domain.OrderStatus(row.data.FromStatus),
			ToStatus:   domain.OrderStatus(row.data.ToStatus),
			ActorID:    row.data.ActorID,
			ActorRole:  row.data.ActorRole,
			Note:       row.data.Note,
			OccurredAt: row.data.OccurredAt.UTC(),
		})
	}

	return domain.CursorPage[domain.OrderTimelineEvent]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderTimelineDocument struct {
	FromStatus string    `firestore:"fromStatus,omitempty"`
	ToStatus   string    `firestore:"toStatus"`
	ActorID    string    `firestore:"actorId"`
	ActorRole  string    `firestore:"actorRole"`
	Note       string    `firestore:"note,omitempty"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

func encodeOrderTimelineDocument(event domain.OrderTimelineEvent) orderTimelineDocument {
	doc := orderTimelineDocument{
		FromStatus: strings.TrimSpace(string(event.FromStatus)),
		ToStatus:   strings.TrimSpace(string(event.ToStatus)),
		ActorID:    strings.TrimSpace(event.ActorID),
		ActorRole:  strings.TrimSpace(event.ActorRole),
		Note:       strings.TrimSpace(event.Note),
		OccurredAt: event.OccurredAt.UTC(),
	}
	if event.OccurredAt.IsZero() {
		doc.OccurredAt = time.Now().UTC()
	}
	return doc
}

func (r *OrderTimelineRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection).Doc(orderID).Collection(orderTimelineCollection), nil
}
