package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftyard/api/internal/domain"
	pfirestore "github.com/craftyard/api/internal/platform/firestore"
	"github.com/craftyard/api/internal/repositories"
)

const submissionsCollection = "personalizationSubmissions"

// SubmissionRepository persists customer personalization inputs.
type SubmissionRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[submissionDocument]
}

// NewSubmissionRepository constructs a Firestore-backed submission repository.
func NewSubmissionRepository(provider *pfirestore.Provider) (*SubmissionRepository, error) {
	if provider == nil {
		return nil, errors.New("submission repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[submissionDocument](provider, submissionsCollection, nil, nil)
	return &SubmissionRepository{provider: provider, base: base}, nil
}

// Upsert stores the submission and returns the persisted state. The write
// runs in a transaction that re-reads the stored document, so a lock landing
// between the caller's read and this write fails with ErrSubmissionLocked
// instead of silently unfreezing the submission.
func (r *SubmissionRepository) Upsert(ctx context.Context, submission domain.PersonalizationSubmission) (domain.PersonalizationSubmission, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return domain.PersonalizationSubmission{}, errors.New("submission repository not initialised")
	}
	submissionID := strings.TrimSpace(submission.ID)
	if submissionID == "" {
		return domain.PersonalizationSubmission{}, errors.New("submission repository: submission id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, submissionID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		switch status.Code(err) {
		case codes.NotFound:
			// First write for this submission.
		case codes.OK:
			var stored submissionDocument
			if err := snap.DataTo(&stored); err != nil {
				return fmt.Errorf("submission repository: decode %s: %w", submissionID, err)
			}
			if stored.IsLocked {
				return fmt.Errorf("submission repository: %s: %w", submissionID, repositories.ErrSubmissionLocked)
			}
		default:
			return err
		}
		return tx.Set(docRef, encodeSubmissionDocument(submission))
	})
	if err != nil {
		return domain.PersonalizationSubmission{}, pfirestore.WrapError("personalization_submissions.upsert", err)
	}
	return submission, nil
}

// FindByID fetches a single submission.
func (r *SubmissionRepository) FindByID(ctx context.Context, submissionID string) (domain.PersonalizationSubmission, error) {
	if r == nil || r.base == nil {
		return domain.PersonalizationSubmission{}, errors.New("submission repository not initialised")
	}
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return domain.PersonalizationSubmission{}, errors.New("submission repository: submission id is required")
	}
	doc, err := r.base.Get(ctx, submissionID)
	if err != nil {
		return domain.PersonalizationSubmission{}, err
	}
	return decodeSubmissionDocument(submissionID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// ListByCartLine returns the cart line's submissions in creation order.
func (r *SubmissionRepository) ListByCartLine(ctx context.Context, cartLineID string) ([]domain.PersonalizationSubmission, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("submission repository not initialised")
	}
	cartLineID = strings.TrimSpace(cartLineID)
	if cartLineID == "" {
		return nil, errors.New("submission repository: cart line id is required")
	}
	return r.list(ctx, "cartLineId", cartLineID)
}

// ListByOrder returns submissions attached to the given order.
func (r *SubmissionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PersonalizationSubmission, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("submission repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("submission repository: order id is required")
	}
	return r.list(ctx, "orderId", orderID)
}

// Lock freezes the submission so further writes are rejected by the service
// layer. Locking an already locked submission overwrites only the reason.
func (r *SubmissionRepository) Lock(ctx context.Context, submissionID string, reason domain.LockReason, lockedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("submission repository not initialised")
	}
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return errors.New("submission repository: submission id is required")
	}

	lockedAt = lockedAt.UTC()
	updates := []firestore.Update{
		{Path: "isLocked", Value: true},
		{Path: "lockReason", Value: string(reason)},
		{Path: "lockedAt", Value: lockedAt},
		{Path: "updatedAt", Value: lockedAt},
	}
	if _, err := r.base.Update(ctx, submissionID, updates); err != nil {
		return err
	}
	return nil
}

func (r *SubmissionRepository) list(ctx context.Context, field, value string) ([]domain.PersonalizationSubmission, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where(field, "==", value).
			OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.PersonalizationSubmission, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeSubmissionDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return items, nil
}

type submissionDocument struct {
	ConfigID         string                       `firestore:"configId"`
	CustomerID       string                       `firestore:"customerId"`
	ListingID        string                       `firestore:"listingId"`
	CartLineID       string                       `firestore:"cartLineId"`
	OrderID          string                       `firestore:"orderId,omitempty"`
	Value            submissionValueDocument      `firestore:"value"`
	PriceImpact      priceImpactBreakdownDocument `firestore:"priceImpact"`
	ValidationStatus string                       `firestore:"validationStatus"`
	IsLocked         bool                         `firestore:"isLocked"`
	LockedAt         *time.Time                   `firestore:"lockedAt,omitempty"`
	LockReason       string                       `firestore:"lockReason,omitempty"`
	CreatedAt        time.Time                    `firestore:"createdAt"`
	UpdatedAt        time.Time                    `firestore:"updatedAt"`
}

type submissionValueDocument struct {
	Text      *string        `firestore:"text,omitempty"`
	ImageRefs []string       `firestore:"imageRefs,omitempty"`
	Choices   []string       `firestore:"choices,omitempty"`
	Extra     map[string]any `firestore:"extra,omitempty"`
}

type priceImpactBreakdownDocument struct {
	ConfigID    string `firestore:"configId"`
	Rule        string `firestore:"rule"`
	Units       int    `firestore:"units"`
	UnitAmount  int64  `firestore:"unitAmount"`
	Amount      int64  `firestore:"amount"`
	Currency    string `firestore:"currency,omitempty"`
	Description string `firestore:"description,omitempty"`
}

func encodeSubmissionDocument(submission domain.PersonalizationSubmission) submissionDocument {
	doc := submissionDocument{
		ConfigID:         strings.TrimSpace(submission.ConfigID),
		CustomerID:       strings.TrimSpace(submission.CustomerID),
		ListingID:        strings.TrimSpace(submission.ListingID),
		CartLineID:       strings.TrimSpace(submission.CartLineID),
		Value:            encodeSubmissionValue(submission.Value),
		PriceImpact:      encodePriceImpactBreakdown(submission.PriceImpact),
		ValidationStatus: strings.TrimSpace(string(submission.ValidationStatus)),
		IsLocked:         submission.IsLocked,
		LockedAt:         normalizeTimePointer(submission.LockedAt),
		LockReason:       strings.TrimSpace(string(submission.LockReason)),
		CreatedAt:        submission.CreatedAt.UTC(),
		UpdatedAt:        submission.UpdatedAt.UTC(),
	}
	if submission.OrderID != nil {
		doc.OrderID = strings.TrimSpace(*submission.OrderID)
	}
	return doc
}

func decodeSubmissionDocument(id string, doc submissionDocument, createdAt, updatedAt time.Time) domain.PersonalizationSubmission {
	submission := domain.PersonalizationSubmission{
		ID:               strings.TrimSpace(id),
		ConfigID:         strings.TrimSpace(doc.ConfigID),
		CustomerID:       strings.TrimSpace(doc.CustomerID),
		ListingID:        strings.TrimSpace(doc.ListingID),
		CartLineID:       strings.TrimSpace(doc.CartLineID),
		Value:            decodeSubmissionValue(doc.Value),
		PriceImpact:      decodePriceImpactBreakdown(doc.PriceImpact),
		ValidationStatus: domain.ValidationStatus(strings.TrimSpace(doc.ValidationStatus)),
		IsLocked:         doc.IsLocked,
		LockedAt:         normalizeTimePointer(doc.LockedAt),
		LockReason:       domain.LockReason(strings.TrimSpace(doc.LockReason)),
		CreatedAt:        chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:        chooseTime(doc.UpdatedAt, updatedAt),
	}
	if orderID := strings.TrimSpace(doc.OrderID); orderID != "" {
		submission.OrderID = &orderID
	}
	return submission
}

func encodeSubmissionValue(value domain.SubmissionValue) submissionValueDocument {
	return submissionValueDocument{
		Text:      value.Text,
		ImageRefs: cloneStrings(value.ImageRefs),
		Choices:   cloneStrings(value.Choices),
		Extra:     cloneMap(value.Extra),
	}
}

func decodeSubmissionValue(doc submissionValueDocument) domain.SubmissionValue {
	return domain.SubmissionValue{
		Text:      doc.Text,
		ImageRefs: cloneStrings(doc.ImageRefs),
		Choices:   cloneStrings(doc.Choices),
		Extra:     cloneMap(doc.Extra),
	}
}

func encodePriceImpactBreakdown(impact domain.PriceImpactBreakdown) priceImpactBreakdownDocument {
	return priceImpactBreakdownDocument{
		ConfigID:    strings.TrimSpace(impact.ConfigID),
		Rule:        strings.TrimSpace(string(impact.Rule)),
		Units:       impact.Units,
		UnitAmount:  impact.UnitAmount,
		Amount:      impact.Amount,
		Currency:    strings.TrimSpace(impact.Currency),
		Description: strings.TrimSpace(impact.Description),
	}
}

func decodePriceImpactBreakdown(doc priceImpactBreakdownDocument) domain.PriceImpactBreakdown {
	return domain.PriceImpactBreakdown{
		ConfigID:    strings.TrimSpace(doc.ConfigID),
		Rule:        domain.PriceImpactRule(strings.TrimSpace(doc.Rule)),
		Units:       doc.Units,
		UnitAmount:  doc.UnitAmount,
		Amount:      doc.Amount,
		Currency:    strings.TrimSpace(doc.Currency),
		Description: strings.TrimSpace(doc.Description),
	}
}
