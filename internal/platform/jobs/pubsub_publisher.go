package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/craftyard/api/internal/services"
)

// PubSubEventPublisher fans pipeline domain events out to a Pub/Sub topic.
// A single topic carries all event kinds; subscribers filter on the
// eventType attribute.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type orderEventPayload struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"order_id"`
	OrderNumber    string         `json:"order_number,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	CurrentStatus  string         `json:"current_status,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
	OccurredAt     string         `json:"occurred_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PublishOrderEvent emits an order lifecycle event.
func (p *PubSubEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	payload := orderEventPayload{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		PreviousStatus: string(event.PreviousStatus),
		CurrentStatus:  string(event.CurrentStatus),
		ActorID:        event.ActorID,
		OccurredAt:     formatEventTime(event.OccurredAt),
		Metadata:       event.Metadata,
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "currentStatus", string(event.CurrentStatus))

	return p.publish(ctx, payload, attrs)
}

type proofEventPayload struct {
	Type          string `json:"type"`
	ProofID       string `json:"proof_id"`
	OrderID       string `json:"order_id,omitempty"`
	VersionNumber int    `json:"version_number,omitempty"`
	Decision      string `json:"decision,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
	OccurredAt    string `json:"occurred_at,omitempty"`
}

// PublishProofEvent emits a proofing event.
func (p *PubSubEventPublisher) PublishProofEvent(ctx context.Context, event services.ProofEvent) error {
	payload := proofEventPayload{
		Type:          event.Type,
		ProofID:       event.ProofID,
		OrderID:       event.OrderID,
		VersionNumber: event.VersionNumber,
		Decision:      event.Decision,
		ActorID:       event.ActorID,
		OccurredAt:    formatEventTime(event.OccurredAt),
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "proofId", event.ProofID)
	setAttr(attrs, "orderId", event.OrderID)
	if event.VersionNumber > 0 {
		attrs["versionNumber"] = strconv.Itoa(event.VersionNumber)
	}

	return p.publish(ctx, payload, attrs)
}

type consultationEventPayload struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	OrderID    string `json:"order_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	OccurredAt string `json:"occurred_at,omitempty"`
}

// PublishConsultationEvent emits a consultation scheduling event.
func (p *PubSubEventPublisher) PublishConsultationEvent(ctx context.Context, event services.ConsultationEvent) error {
	payload := consultationEventPayload{
		Type:       event.Type,
		SessionID:  event.SessionID,
		OrderID:    event.OrderID,
		ActorID:    event.ActorID,
		OccurredAt: formatEventTime(event.OccurredAt),
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "sessionId", event.SessionID)
	setAttr(attrs, "orderId", event.OrderID)

	return p.publish(ctx, payload, attrs)
}

type snapshotEventPayload struct {
	Type              string `json:"type"`
	SnapshotID        string `json:"snapshot_id"`
	CartLineID        string `json:"cart_line_id,omitempty"`
	OrderID           string `json:"order_id,omitempty"`
	ProductionOrderID string `json:"production_order_id,omitempty"`
	LockedCount       int    `json:"locked_count,omitempty"`
	OccurredAt        string `json:"occurred_at,omitempty"`
}

// PublishSnapshotEvent emits a personalization snapshot event.
func (p *PubSubEventPublisher) PublishSnapshotEvent(ctx context.Context, event services.SnapshotEvent) error {
	payload := snapshotEventPayload{
		Type:              event.Type,
		SnapshotID:        event.SnapshotID,
		CartLineID:        event.CartLineID,
		OrderID:           event.OrderID,
		ProductionOrderID: event.ProductionOrderID,
		LockedCount:       event.LockedCount,
		OccurredAt:        formatEventTime(event.OccurredAt),
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "snapshotId", event.SnapshotID)
	setAttr(attrs, "orderId", event.OrderID)

	return p.publish(ctx, payload, attrs)
}

func (p *PubSubEventPublisher) publish(ctx context.Context, payload any, attrs map[string]string) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event %q: %w", attrs["eventType"], err)
	}
	return nil
}

func formatEventTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
