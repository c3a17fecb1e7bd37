package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/craftyard/api/internal/domain"
)

type stubConsultationRepo struct {
	insertFn func(context.Context, domain.ConsultationSession) error
	updateFn func(context.Context, domain.ConsultationSession) error
	findFn   func(context.Context, string) (domain.ConsultationSession, error)
	listFn   func(context.Context, string) ([]domain.ConsultationSession, error)
}

func (s *stubConsultationRepo) Insert(ctx context.Context, session domain.ConsultationSession) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, session)
	}
	return nil
}

func (s *stubConsultationRepo) Update(ctx context.Context, session domain.ConsultationSession) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, session)
	}
	return nil
}

func (s *stubConsultationRepo) FindByID(ctx context.Context, sessionID string) (domain.ConsultationSession, error) {
	if s.findFn != nil {
		return s.findFn(ctx, sessionID)
	}
	return domain.ConsultationSession{}, stubRepoError{notFound: true}
}

func (s *stubConsultationRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.ConsultationSession, error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID)
	}
	return nil, nil
}

type captureConsultationEvents struct {
	events []ConsultationEvent
}

func (c *captureConsultationEvents) PublishConsultationEvent(_ context.Context, event ConsultationEvent) error {
	c.events = append(c.events, event)
	return nil
}

func newTestConsultationService(t *testing.T, deps ConsultationServiceDeps) ConsultationService {
	t.Helper()
	if deps.Sessions == nil {
		deps.Sessions = &stubConsultationRepo{}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderGateway{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2025, 5, 3, 11, 0, 0, 0, time.UTC)
		}
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "000TEST" }
	}
	svc, err := NewConsultationService(deps)
	if err != nil {
		t.Fatalf("new consultation service: %v", err)
	}
	return svc
}

func TestConsultationServiceScheduleMovesOrder(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusConsultationPending,
	}}
	var inserted domain.ConsultationSession
	events := &captureConsultationEvents{}

	svc := newTestConsultationService(t, ConsultationServiceDeps{
		Sessions: &stubConsultationRepo{
			insertFn: func(_ context.Context, session domain.ConsultationSession) error {
				inserted = session
				return nil
			},
		},
		Orders: gateway,
		Events: events,
	})

	when := time.Date(2025, 5, 5, 15, 0, 0, 0, time.UTC)
	session, err := svc.Schedule(context.Background(), ScheduleConsultationCommand{
		OrderID:     "ord_1",
		Actor:       Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		ScheduledAt: when,
		Channel:     domain.ConsultationChannel{Kind: "video", MeetingURL: "https://meet.example.com/abc"},
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if session.Status != domain.ConsultationStatusScheduled {
		t.Fatalf("expected scheduled session, got %s", session.Status)
	}
	if session.DurationMinutes != defaultConsultationMinutes {
		t.Fatalf("expected default duration, got %d", session.DurationMinutes)
	}
	if inserted.ID == "" || !inserted.ScheduledAt.Equal(when) {
		t.Fatalf("session not persisted correctly: %+v", inserted)
	}
	if len(gateway.transitions) != 1 || gateway.transitions[0].TargetStatus != domain.OrderStatusConsultationScheduled {
		t.Fatalf("expected consultation_scheduled transition, got %+v", gateway.transitions)
	}
	if len(events.events) != 1 || events.events[0].Type != consultationEventScheduled {
		t.Fatalf("expected consultation.scheduled event, got %+v", events.events)
	}
}

func TestConsultationServiceScheduleRequiresPendingOrder(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		Status:     domain.OrderStatusDesignInProgress,
	}}
	svc := newTestConsultationService(t, ConsultationServiceDeps{Orders: gateway})

	_, err := svc.Schedule(context.Background(), ScheduleConsultationCommand{
		OrderID:     "ord_1",
		Actor:       Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		ScheduledAt: time.Date(2025, 5, 5, 15, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrConsultationInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestConsultationServiceCompleteStartsDesign(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusConsultationScheduled,
	}}
	var updated domain.ConsultationSession

	svc := newTestConsultationService(t, ConsultationServiceDeps{
		Sessions: &stubConsultationRepo{
			findFn: func(_ context.Context, sessionID string) (domain.ConsultationSession, error) {
				return domain.ConsultationSession{
					ID:      sessionID,
					OrderID: "ord_1",
					Status:  domain.ConsultationStatusScheduled,
				}, nil
			},
			updateFn: func(_ context.Context, session domain.ConsultationSession) error {
				updated = session
				return nil
			},
		},
		Orders: gateway,
	})

	session, err := svc.Complete(context.Background(), CompleteConsultationCommand{
		SessionID:    "con_1",
		Actor:        Actor{ID: "usr_prov", Role: ActorRoleProvider},
		SummaryNotes: "agreed on walnut, 15mm, rounded corners",
		KeyDecisions: map[string]any{"material": "walnut"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if session.Status != domain.ConsultationStatusCompleted || session.CompletedAt == nil {
		t.Fatalf("session not completed: %+v", session)
	}
	if updated.SummaryNotes == "" || updated.KeyDecisions["material"] != "walnut" {
		t.Fatalf("summary not persisted: %+v", updated)
	}
	if len(gateway.transitions) != 2 {
		t.Fatalf("expected two transitions, got %+v", gateway.transitions)
	}
	if gateway.transitions[0].TargetStatus != domain.OrderStatusConsultationCompleted ||
		gateway.transitions[1].TargetStatus != domain.OrderStatusDesignInProgress {
		t.Fatalf("unexpected transition sequence %+v", gateway.transitions)
	}
}

func TestConsultationServiceCancelReopensOrder(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		Status:     domain.OrderStatusConsultationScheduled,
	}}

	svc := newTestConsultationService(t, ConsultationServiceDeps{
		Sessions: &stubConsultationRepo{
			findFn: func(_ context.Context, sessionID string) (domain.ConsultationSession, error) {
				return domain.ConsultationSession{
					ID:      sessionID,
					OrderID: "ord_1",
					Status:  domain.ConsultationStatusScheduled,
				}, nil
			},
		},
		Orders: gateway,
	})

	session, err := svc.Cancel(context.Background(), CancelConsultationCommand{
		SessionID: "con_1",
		Actor:     Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		Reason:    "conflicting appointment",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if session.Status != domain.ConsultationStatusCancelled {
		t.Fatalf("expected cancelled session, got %s", session.Status)
	}
	if session.CancelReason != "conflicting appointment" {
		t.Fatalf("cancel reason lost: %q", session.CancelReason)
	}
	if len(gateway.transitions) != 1 || gateway.transitions[0].TargetStatus != domain.OrderStatusConsultationPending {
		t.Fatalf("order must be reopened for rescheduling, got %+v", gateway.transitions)
	}
}

func TestConsultationServiceCancelSwallowsAdvancedOrder(t *testing.T) {
	gateway := &stubOrderGateway{
		order: domain.ProductionOrder{
			ID:         "ord_1",
			CustomerID: "usr_cust",
			Status:     domain.OrderStatusDesignInProgress,
		},
		transitionErr: fmt.Errorf("%w: expected status mismatch", ErrOrderConflict),
	}

	svc := newTestConsultationService(t, ConsultationServiceDeps{
		Sessions: &stubConsultationRepo{
			findFn: func(_ context.Context, sessionID string) (domain.ConsultationSession, error) {
				return domain.ConsultationSession{
					ID:      sessionID,
					OrderID: "ord_1",
					Status:  domain.ConsultationStatusScheduled,
				}, nil
			},
		},
		Orders: gateway,
	})

	if _, err := svc.Cancel(context.Background(), CancelConsultationCommand{
		SessionID: "con_1",
		Actor:     Actor{ID: "usr_cust", Role: ActorRoleCustomer},
	}); err != nil {
		t.Fatalf("cancel must tolerate an order that already moved on: %v", err)
	}
}

func TestConsultationServiceNoShowIsTerminalForSession(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusConsultationScheduled,
	}}

	svc := newTestConsultationService(t, ConsultationServiceDeps{
		Sessions: &stubConsultationRepo{
			findFn: func(_ context.Context, sessionID string) (domain.ConsultationSession, error) {
				return domain.ConsultationSession{
					ID:      sessionID,
					OrderID: "ord_1",
					Status:  domain.ConsultationStatusNoShow,
				}, nil
			},
		},
		Orders: gateway,
	})

	_, err := svc.MarkNoShow(context.Background(), NoShowConsultationCommand{
		SessionID: "con_1",
		Actor:     Actor{ID: "usr_prov", Role: ActorRoleProvider},
	})
	if !errors.Is(err, ErrConsultationInvalidState) {
		t.Fatalf("terminal session must reject further updates, got %v", err)
	}
}

func TestConsultationServiceGetSessionHidesForeignOrders(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusConsultationScheduled,
	}}

	svc := newTestConsultationService(t, ConsultationServiceDeps{
		Sessions: &stubConsultationRepo{
			findFn: func(_ context.Context, sessionID string) (domain.ConsultationSession, error) {
				return domain.ConsultationSession{ID: sessionID, OrderID: "ord_1"}, nil
			},
		},
		Orders: gateway,
	})

	_, err := svc.GetSession(context.Background(), "con_1", Actor{ID: "usr_other", Role: ActorRoleCustomer})
	if !errors.Is(err, ErrConsultationNotFound) {
		t.Fatalf("expected not found for foreign actor, got %v", err)
	}
}
