package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/craftyard/api/internal/domain"
	"github.com/craftyard/api/internal/platform/textutil"
	"github.com/craftyard/api/internal/repositories"
)

const (
	consultationEventScheduled = "consultation.scheduled"
	consultationEventCompleted = "consultation.completed"
	consultationEventCancelled = "consultation.cancelled"
	consultationEventNoShow    = "consultation.no_show"

	consultationIDPrefix = "con_"

	defaultConsultationMinutes = 30
)

var (
	// ErrConsultationInvalidInput signals the caller provided invalid data.
	ErrConsultationInvalidInput = errors.New("consultation: invalid input")
	// ErrConsultationNotFound indicates the session could not be located or is not visible to the actor.
	ErrConsultationNotFound = errors.New("consultation: not found")
	// ErrConsultationInvalidState indicates the session can no longer change.
	ErrConsultationInvalidState = errors.New("consultation: invalid state")
	// ErrConsultationConflict indicates a concurrent update settled the session first.
	ErrConsultationConflict = errors.New("consultation: conflict")
)

// ConsultationEventPublisher publishes consultation domain events.
type ConsultationEventPublisher interface {
	PublishConsultationEvent(ctx context.Context, event ConsultationEvent) error
}

// ConsultationEvent captures metadata for emitted consultation events.
type ConsultationEvent struct {
	Type       string
	SessionID  string
	OrderID    string
	ActorID    string
	OccurredAt time.Time
}

type consultationOrderGateway interface {
	GetOrder(ctx context.Context, orderID string, actor Actor) (ProductionOrder, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (ProductionOrder, error)
}

// ConsultationServiceDeps bundles collaborators for the consultation scheduler.
type ConsultationServiceDeps struct {
	Sessions    repositories.ConsultationRepository
	Orders      consultationOrderGateway
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      ConsultationEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type consultationService struct {
	sessions   repositories.ConsultationRepository
	orders     consultationOrderGateway
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     ConsultationEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewConsultationService wires dependencies into a concrete ConsultationService.
func NewConsultationService(deps ConsultationServiceDeps) (ConsultationService, error) {
	if deps.Sessions == nil {
		return nil, errors.New("consultation service: session repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("consultation service: order gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	return &consultationService{
		sessions:   deps.Sessions,
		orders:     deps.Orders,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *consultationService) Schedule(ctx context.Context, cmd ScheduleConsultationCommand) (ConsultationSession, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ConsultationSession{}, fmt.Errorf("%w: order id is required", ErrConsultationInvalidInput)
	}
	if cmd.ScheduledAt.IsZero() {
		return ConsultationSession{}, fmt.Errorf("%w: scheduled time is required", ErrConsultationInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, orderID, cmd.Actor)
	if err != nil {
		return ConsultationSession{}, err
	}
	if order.Status != domain.OrderStatusConsultationPending {
		return ConsultationSession{}, fmt.Errorf("%w: scheduling requires status %q but was %q", ErrConsultationInvalidState, domain.OrderStatusConsultationPending, order.Status)
	}

	duration := cmd.DurationMinutes
	if duration <= 0 {
		duration = defaultConsultationMinutes
	}

	channel := cmd.Channel
	channel.Kind = strings.TrimSpace(channel.Kind)
	channel.MeetingURL = strings.TrimSpace(channel.MeetingURL)
	channel.Credentials = textutil.NormalizeStringMap(channel.Credentials)

	now := s.now()
	session := ConsultationSession{
		ID:              consultationIDPrefix + s.newID(),
		OrderID:         orderID,
		ScheduledAt:     cmd.ScheduledAt.UTC(),
		DurationMinutes: duration,
		Channel:         channel,
		Status:          domain.ConsultationStatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.sessions.Insert(txCtx, session))
	})
	if err != nil {
		return ConsultationSession{}, err
	}

	expected := domain.OrderStatusConsultationPending
	if _, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        orderID,
		TargetStatus:   domain.OrderStatusConsultationScheduled,
		Actor:          cmd.Actor,
		Note:           "consultation scheduled",
		ExpectedStatus: &expected,
	}); err != nil {
		return ConsultationSession{}, err
	}

	s.publishEvent(ctx, ConsultationEvent{
		Type:       consultationEventScheduled,
		SessionID:  session.ID,
		OrderID:    orderID,
		ActorID:    cmd.Actor.ID,
		OccurredAt: now,
	})

	return session, nil
}

func (s *consultationService) Complete(ctx context.Context, cmd CompleteConsultationCommand) (ConsultationSession, error) {
	session, err := s.loadMutableSession(ctx, cmd.SessionID, cmd.Actor)
	if err != nil {
		return ConsultationSession{}, err
	}

	now := s.now()
	session.Status = domain.ConsultationStatusCompleted
	session.SummaryNotes = strings.TrimSpace(cmd.SummaryNotes)
	session.KeyDecisions = cloneMap(cmd.KeyDecisions)
	session.CompletedAt = &now
	session.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.sessions.Update(txCtx, session))
	})
	if err != nil {
		return ConsultationSession{}, err
	}

	scheduled := domain.OrderStatusConsultationScheduled
	if _, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        session.OrderID,
		TargetStatus:   domain.OrderStatusConsultationCompleted,
		Actor:          cmd.Actor,
		Note:           "consultation completed",
		ExpectedStatus: &scheduled,
	}); err != nil {
		return ConsultationSession{}, err
	}
	completed := domain.OrderStatusConsultationCompleted
	if _, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        session.OrderID,
		TargetStatus:   domain.OrderStatusDesignInProgress,
		Actor:          cmd.Actor,
		Note:           "design started",
		ExpectedStatus: &completed,
	}); err != nil {
		return ConsultationSession{}, err
	}

	s.publishEvent(ctx, ConsultationEvent{
		Type:       consultationEventCompleted,
		SessionID:  session.ID,
		OrderID:    session.OrderID,
		ActorID:    cmd.Actor.ID,
		OccurredAt: now,
	})

	return session, nil
}

// Cancel marks the session cancelled and returns the order to the pending
// pool so it may be rescheduled.
func (s *consultationService) Cancel(ctx context.Context, cmd CancelConsultationCommand) (ConsultationSession, error) {
	session, err := s.loadMutableSession(ctx, cmd.SessionID, cmd.Actor)
	if err != nil {
		return ConsultationSession{}, err
	}

	now := s.now()
	session.Status = domain.ConsultationStatusCancelled
	session.CancelReason = strings.TrimSpace(cmd.Reason)
	session.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.sessions.Update(txCtx, session))
	})
	if err != nil {
		return ConsultationSession{}, err
	}

	if err := s.reopenOrder(ctx, session.OrderID, cmd.Actor, "consultation cancelled"); err != nil {
		return ConsultationSession{}, err
	}

	s.publishEvent(ctx, ConsultationEvent{
		Type:       consultationEventCancelled,
		SessionID:  session.ID,
		OrderID:    session.OrderID,
		ActorID:    cmd.Actor.ID,
		OccurredAt: now,
	})

	return session, nil
}

// MarkNoShow is terminal for the session but leaves the order reschedulable.
func (s *consultationService) MarkNoShow(ctx context.Context, cmd NoShowConsultationCommand) (ConsultationSession, error) {
	session, err := s.loadMutableSession(ctx, cmd.SessionID, cmd.Actor)
	if err != nil {
		return ConsultationSession{}, err
	}

	now := s.now()
	session.Status = domain.ConsultationStatusNoShow
	session.SummaryNotes = strings.TrimSpace(cmd.Note)
	session.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.sessions.Update(txCtx, session))
	})
	if err != nil {
		return ConsultationSession{}, err
	}

	if err := s.reopenOrder(ctx, session.OrderID, cmd.Actor, "consultation no-show"); err != nil {
		return ConsultationSession{}, err
	}

	s.publishEvent(ctx, ConsultationEvent{
		Type:       consultationEventNoShow,
		SessionID:  session.ID,
		OrderID:    session.OrderID,
		ActorID:    cmd.Actor.ID,
		OccurredAt: now,
	})

	return session, nil
}

func (s *consultationService) GetSession(ctx context.Context, sessionID string, actor Actor) (ConsultationSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ConsultationSession{}, fmt.Errorf("%w: session id is required", ErrConsultationInvalidInput)
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return ConsultationSession{}, s.mapRepositoryError(err)
	}
	if _, err := s.orders.GetOrder(ctx, session.OrderID, actor); err != nil {
		return ConsultationSession{}, fmt.Errorf("%w: session %s", ErrConsultationNotFound, sessionID)
	}
	return session, nil
}

func (s *consultationService) ListByOrder(ctx context.Context, orderID string, actor Actor) ([]ConsultationSession, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrConsultationInvalidInput)
	}
	if _, err := s.orders.GetOrder(ctx, orderID, actor); err != nil {
		return nil, err
	}

	sessions, err := s.sessions.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return sessions, nil
}

func (s *consultationService) loadMutableSession(ctx context.Context, sessionID string, actor Actor) (ConsultationSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ConsultationSession{}, fmt.Errorf("%w: session id is required", ErrConsultationInvalidInput)
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return ConsultationSession{}, s.mapRepositoryError(err)
	}
	if _, err := s.orders.GetOrder(ctx, session.OrderID, actor); err != nil {
		return ConsultationSession{}, fmt.Errorf("%w: session %s", ErrConsultationNotFound, sessionID)
	}
	if session.Status.IsTerminal() {
		return ConsultationSession{}, fmt.Errorf("%w: session already %s", ErrConsultationInvalidState, session.Status)
	}
	return session, nil
}

// reopenOrder moves a scheduled order back to consultation_pending after a
// cancelled or missed session.
func (s *consultationService) reopenOrder(ctx context.Context, orderID string, actor Actor, note string) error {
	scheduled := domain.OrderStatusConsultationScheduled
	_, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        orderID,
		TargetStatus:   domain.OrderStatusConsultationPending,
		Actor:          actor,
		Note:           note,
		ExpectedStatus: &scheduled,
	})
	if errors.Is(err, ErrOrderConflict) {
		// Order already moved on; rescheduling no longer applies.
		return nil
	}
	return err
}

func (s *consultationService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrConsultationNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConsultationConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("consultation: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *consultationService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *consultationService) now() time.Time {
	return s.clock()
}

func (s *consultationService) publishEvent(ctx context.Context, event ConsultationEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishConsultationEvent(ctx, event); err != nil {
		s.logger(ctx, "consultation.event.publish.failed", map[string]any{
			"type":    event.Type,
			"session": event.SessionID,
			"order":   event.OrderID,
			"error":   err.Error(),
		})
	}
}
