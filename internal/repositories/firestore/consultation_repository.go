package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/craftyard/api/internal/domain"
	pfirestore "github.com/craftyard/api/internal/platform/firestore"
)

const consultationsCollection = "consultations"

// ConsultationRepository persists consultation session documents.
type ConsultationRepository struct {
	base *pfirestore.BaseRepository[consultationDocument]
}

// NewConsultationRepository constructs a Firestore-backed consultation repository.
func NewConsultationRepository(provider *pfirestore.Provider) (*ConsultationRepository, error) {
	if provider == nil {
		return nil, errors.New("consultation repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[consultationDocument](provider, consultationsCollection, nil, nil)
	return &ConsultationRepository{base: base}, nil
}

// Insert stores a new consultation session.
func (r *ConsultationRepository) Insert(ctx context.Context, session domain.ConsultationSession) error {
	if r == nil || r.base == nil {
		return errors.New("consultation repository not initialised")
	}
	sessionID := strings.TrimSpace(session.ID)
	if sessionID == "" {
		return errors.New("consultation repository: session id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeConsultationDocument(session)); err != nil {
		return pfirestore.WrapError("consultations.insert", err)
	}
	return nil
}

// Update replaces the persisted session state.
func (r *ConsultationRepository) Update(ctx context.Context, session domain.ConsultationSession) error {
	if r == nil || r.base == nil {
		return errors.New("consultation repository not initialised")
	}
	sessionID := strings.TrimSpace(session.ID)
	if sessionID == "" {
		return errors.New("consultation repository: session id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := docRef.Set(ctx, encodeConsultationDocument(session)); err != nil {
		return pfirestore.WrapError("consultations.update", err)
	}
	return nil
}

// FindByID fetches a single consultation session.
func (r *ConsultationRepository) FindByID(ctx context.Context, sessionID string) (domain.ConsultationSession, error) {
	if r == nil || r.base == nil {
		return domain.ConsultationSession{}, errors.New("consultation repository not initialised")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ConsultationSession{}, errors.New("consultation repository: session id is required")
	}
	doc, err := r.base.Get(ctx, sessionID)
	if err != nil {
		return domain.ConsultationSession{}, err
	}
	return decodeConsultationDocument(sessionID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// ListByOrder returns the order's sessions, most recently scheduled first.
func (r *ConsultationRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ConsultationSession, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("consultation repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("consultation repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("orderId", "==", orderID).
			OrderBy("scheduledAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.ConsultationSession, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeConsultationDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return items, nil
}

type consultationDocument struct {
	OrderID         string                      `firestore:"orderId"`
	ScheduledAt     time.Time                   `firestore:"scheduledAt"`
	DurationMinutes int                         `firestore:"durationMinutes"`
	Channel         consultationChannelDocument `firestore:"channel"`
	Status          string                      `firestore:"status"`
	SummaryNotes    string                      `firestore:"summaryNotes,omitempty"`
	KeyDecisions    map[string]any              `firestore:"keyDecisions,omitempty"`
	CancelReason    string                      `firestore:"cancelReason,omitempty"`
	CompletedAt     *time.Time                  `firestore:"completedAt,omitempty"`
	CreatedAt       time.Time                   `firestore:"createdAt"`
	UpdatedAt       time.Time                   `firestore:"updatedAt"`
}

type consultationChannelDocument struct {
	Kind        string            `firestore:"kind"`
	MeetingURL  string            `firestore:"meetingUrl,omitempty"`
	Credentials map[string]string `firestore:"credentials,omitempty"`
}

func encodeConsultationDocument(session domain.ConsultationSession) consultationDocument {
	return consultationDocument{
		OrderID:         strings.TrimSpace(session.OrderID),
		ScheduledAt:     session.ScheduledAt.UTC(),
		DurationMinutes: session.DurationMinutes,
		Channel: consultationChannelDocument{
			Kind:        strings.TrimSpace(session.Channel.Kind),
			MeetingURL:  strings.TrimSpace(session.Channel.MeetingURL),
			Credentials: session.Channel.Credentials,
		},
		Status:       strings.TrimSpace(string(session.Status)),
		SummaryNotes: strings.TrimSpace(session.SummaryNotes),
		KeyDecisions: cloneMap(session.KeyDecisions),
		CancelReason: strings.TrimSpace(session.CancelReason),
		CompletedAt:  normalizeTimePointer(session.CompletedAt),
		CreatedAt:    session.CreatedAt.UTC(),
		UpdatedAt:    session.UpdatedAt.UTC(),
	}
}

func decodeConsultationDocument(id string, doc consultationDocument, createdAt, updatedAt time.Time) domain.ConsultationSession {
	return domain.ConsultationSession{
		ID:              strings.TrimSpace(id),
		OrderID:         strings.TrimSpace(doc.OrderID),
		ScheduledAt:     doc.ScheduledAt.UTC(),
		DurationMinutes: doc.DurationMinutes,
		Channel: domain.ConsultationChannel{
			Kind:        strings.TrimSpace(doc.Channel.Kind),
			MeetingURL:  strings.TrimSpace(doc.Channel.MeetingURL),
			Credentials: doc.Channel.Credentials,
		},
		Status:       domain.ConsultationStatus(strings.TrimSpace(doc.Status)),
		SummaryNotes: strings.TrimSpace(doc.SummaryNotes),
		KeyDecisions: cloneMap(doc.KeyDecisions),
		CancelReason: strings.TrimSpace(doc.CancelReason),
		CompletedAt:  normalizeTimePointer(doc.CompletedAt),
		CreatedAt:    chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:    chooseTime(doc.UpdatedAt, updatedAt),
	}
}
