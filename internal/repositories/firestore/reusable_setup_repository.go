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

const (
	usersCollection          = "users"
	reusableSetupsCollection = "personalizationSetups"
)

// ReusableSetupRepository stores customer-named personalization presets under
// each user document.
type ReusableSetupRepository struct {
	provider *pfirestore.Provider
}

// NewReusableSetupRepository constructs a Firestore-backed setup repository.
func NewReusableSetupRepository(provider *pfirestore.Provider) (*ReusableSetupRepository, error) {
	if provider == nil {
		return nil, errors.New("reusable setup repository: firestore provider is required")
	}
	return &ReusableSetupRepository{provider: provider}, nil
}

// Insert stores a new setup under the owning customer.
func (r *ReusableSetupRepository) Insert(ctx context.Context, setup domain.ReusableSetup) error {
	if r == nil || r.provider == nil {
		return errors.New("reusable setup repository not initialised")
	}
	customerID := strings.TrimSpace(setup.CustomerID)
	if customerID == "" {
		return errors.New("reusable setup repository: customer id is required")
	}
	setupID := strings.TrimSpace(setup.ID)
	if setupID == "" {
		return errors.New("reusable setup repository: setup id is required")
	}

	coll, err := r.collection(ctx, customerID)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(setupID).Create(ctx, encodeReusableSetupDocument(setup)); err != nil {
		return pfirestore.WrapError("personalization_setups.insert", err)
	}
	return nil
}

// FindByID fetches a single setup owned by the customer.
func (r *ReusableSetupRepository) FindByID(ctx context.Context, customerID string, setupID string) (domain.ReusableSetup, error) {
	if r == nil || r.provider == nil {
		return domain.ReusableSetup{}, errors.New("reusable setup repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.ReusableSetup{}, errors.New("reusable setup repository: customer id is required")
	}
	setupID = strings.TrimSpace(setupID)
	if setupID == "" {
		return domain.ReusableSetup{}, errors.New("reusable setup repository: setup id is required")
	}

	coll, err := r.collection(ctx, customerID)
	if err != nil {
		return domain.ReusableSetup{}, err
	}
	snap, err := coll.Doc(setupID).Get(ctx)
	if err != nil {
		return domain.ReusableSetup{}, pfirestore.WrapError("personalization_setups.get", err)
	}

	var doc reusableSetupDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ReusableSetup{}, fmt.Errorf("reusable setup repository: decode %s: %w", snap.Ref.ID, err)
	}
	return decodeReusableSetupDocument(customerID, snap.Ref.ID, doc), nil
}

// ListByCustomer returns the customer's setups, most recently updated first.
func (r *ReusableSetupRepository) ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.ReusableSetup], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.ReusableSetup]{}, errors.New("reusable setup repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CursorPage[domain.ReusableSetup]{}, errors.New("reusable setup repository: customer id is required")
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
			return domain.CursorPage[domain.ReusableSetup]{}, fmt.Errorf("reusable setup repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	coll, err := r.collection(ctx, customerID)
	if err != nil {
		return domain.CursorPage[domain.ReusableSetup]{}, err
	}

	query := coll.OrderBy("updatedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if len(startAfter) == 2 {
		query = query.StartAfter(startAfter...)
	}
	if fetchLimit > 0 {
		query = query.Limit(fetchLimit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	type setupRow struct {
		id   string
		data reusableSetupDocument
	}

	rows := make([]setupRow, 0, fetchLimit)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.ReusableSetup]{}, pfirestore.WrapError("personalization_setups.list", err)
		}
		var doc reusableSetupDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.ReusableSetup]{}, fmt.Errorf("reusable setup repository: decode %s: %w", snap.Ref.ID, err)
		}
		rows = append(rows, setupRow{id: snap.Ref.ID, data: doc})
	}

	nextToken := ""
	if limit > 0 && len(rows) == fetchLimit {
		last := rows[len(rows)-1]
		nextToken = pagination.EncodeTimeToken(last.data.UpdatedAt, last.id)
		rows = rows[:len(rows)-1]
	}

	items := make([]domain.ReusableSetup, 0, len(rows))
	for _, row := range rows {
		items = append(items, decodeReusableSetupDocument(customerID, row.id, row.data))
	}

	return domain.CursorPage[domain.ReusableSetup]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Delete removes the setup document.
func (r *ReusableSetupRepository) Delete(ctx context.Context, customerID string, setupID string) error {
	if r == nil || r.provider == nil {
		return errors.New("reusable setup repository not initialised")
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return errors.New("reusable setup repository: customer id is required")
	}
	setupID = strings.TrimSpace(setupID)
	if setupID == "" {
		return errors.New("reusable setup repository: setup id is required")
	}

	coll, err := r.collection(ctx, customerID)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(setupID).Delete(ctx); err != nil {
		return pfirestore.WrapError("personalization_setups.delete", err)
	}
	return nil
}

type reusableSetupDocument struct {
	Name      string                  `firestore:"name"`
	ListingID string                  `firestore:"listingId"`
	Entries   []snapshotEntryDocument `firestore:"entries"`
	CreatedAt time.Time               `firestore:"createdAt"`
	UpdatedAt time.Time               `firestore:"updatedAt"`
}

func encodeReusableSetupDocument(setup domain.ReusableSetup) reusableSetupDocument {
	doc := reusableSetupDocument{
		Name:      strings.TrimSpace(setup.Name),
		ListingID: strings.TrimSpace(setup.ListingID),
		CreatedAt: setup.CreatedAt.UTC(),
		UpdatedAt: setup.UpdatedAt.UTC(),
	}
	doc.Entries = make([]snapshotEntryDocument, 0, len(setup.Entries))
	for _, entry := range setup.Entries {
		doc.Entries = append(doc.Entries, snapshotEntryDocument{
			SubmissionID: strings.TrimSpace(entry.SubmissionID),
			Config:       encodePersonalizationConfig(entry.Config),
			ConfigID:     strings.TrimSpace(entry.Config.ID),
			Value:        encodeSubmissionValue(entry.Value),
			PriceImpact:  encodePriceImpactBreakdown(entry.PriceImpact),
		})
	}
	return doc
}

func decodeReusableSetupDocument(customerID, setupID string, doc reusableSetupDocument) domain.ReusableSetup {
	setup := domain.ReusableSetup{
		ID:         strings.TrimSpace(setupID),
		CustomerID: strings.TrimSpace(customerID),
		Name:       strings.TrimSpace(doc.Name),
		ListingID:  strings.TrimSpace(doc.ListingID),
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}
	setup.Entries = make([]domain.SnapshotEntry, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		setup.Entries = append(setup.Entries, domain.SnapshotEntry{
			SubmissionID: strings.TrimSpace(entry.SubmissionID),
			Config:       decodePersonalizationConfig(entry.ConfigID, entry.Config, entry.Config.CreatedAt, entry.Config.UpdatedAt),
			Value:        decodeSubmissionValue(entry.Value),
			PriceImpact:  decodePriceImpactBreakdown(entry.PriceImpact),
		})
	}
	return setup
}

func (r *ReusableSetupRepository) collection(ctx context.Context, customerID string) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(usersCollection).Doc(customerID).Collection(reusableSetupsCollection), nil
}
