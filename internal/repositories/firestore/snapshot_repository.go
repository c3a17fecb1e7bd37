package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftyard/api/internal/domain"
	pfirestore "github.com/craftyard/api/internal/platform/firestore"
	"github.com/craftyard/api/internal/repositories"
)

const (
	snapshotsCollection         = "personalizationSnapshots"
	snapshotCartLinesCollection = "personalizationSnapshotCartLines"
)

// SnapshotRepository persists immutable personalization snapshots. A guard
// document keyed by cart line enforces at most one snapshot per cart line, so
// concurrent creators fail with a conflict.
type SnapshotRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[snapshotDocument]
}

// NewSnapshotRepository constructs a Firestore-backed snapshot repository.
func NewSnapshotRepository(provider *pfirestore.Provider) (*SnapshotRepository, error) {
	if provider == nil {
		return nil, errors.New("snapshot repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[snapshotDocument](provider, snapshotsCollection, nil, nil)
	return &SnapshotRepository{provider: provider, base: base}, nil
}

// Insert stores the snapshot together with its cart line guard document in a
// single transaction.
func (r *SnapshotRepository) Insert(ctx context.Context, snapshot domain.PersonalizationSnapshot) error {
	if r == nil || r.provider == nil {
		return errors.New("snapshot repository not initialised")
	}
	snapshotID := strings.TrimSpace(snapshot.ID)
	if snapshotID == "" {
		return errors.New("snapshot repository: snapshot id is required")
	}
	cartLineID := strings.TrimSpace(snapshot.CartLineID)
	if cartLineID == "" {
		return errors.New("snapshot repository: cart line id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	doc := encodeSnapshotDocument(snapshot)
	guard := snapshotGuardDocument{
		SnapshotID: snapshotID,
		CreatedAt:  doc.CreatedAt,
	}

	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		guardRef := client.Collection(snapshotCartLinesCollection).Doc(cartLineID)
		if err := tx.Create(guardRef, guard); err != nil {
			return err
		}
		return tx.Create(client.Collection(snapshotsCollection).Doc(snapshotID), doc)
	})
	if err != nil {
		return pfirestore.WrapError("personalization_snapshots.insert", err)
	}
	return nil
}

// FindByID fetches a single snapshot.
func (r *SnapshotRepository) FindByID(ctx context.Context, snapshotID string) (domain.PersonalizationSnapshot, error) {
	if r == nil || r.base == nil {
		return domain.PersonalizationSnapshot{}, errors.New("snapshot repository not initialised")
	}
	snapshotID = strings.TrimSpace(snapshotID)
	if snapshotID == "" {
		return domain.PersonalizationSnapshot{}, errors.New("snapshot repository: snapshot id is required")
	}
	doc, err := r.base.Get(ctx, snapshotID)
	if err != nil {
		return domain.PersonalizationSnapshot{}, err
	}
	return decodeSnapshotDocument(snapshotID, doc.Data), nil
}

// FindByCartLine returns the cart line's snapshot, if one was created.
func (r *SnapshotRepository) FindByCartLine(ctx context.Context, cartLineID string) (domain.PersonalizationSnapshot, error) {
	if r == nil || r.base == nil {
		return domain.PersonalizationSnapshot{}, errors.New("snapshot repository not initialised")
	}
	cartLineID = strings.TrimSpace(cartLineID)
	if cartLineID == "" {
		return domain.PersonalizationSnapshot{}, errors.New("snapshot repository: cart line id is required")
	}
	return r.findOne(ctx, "cartLineId", cartLineID)
}

// FindByProductionOrder returns the snapshot linked to the production order.
func (r *SnapshotRepository) FindByProductionOrder(ctx context.Context, productionOrderID string) (domain.PersonalizationSnapshot, error) {
	if r == nil || r.base == nil {
		return domain.PersonalizationSnapshot{}, errors.New("snapshot repository not initialised")
	}
	productionOrderID = strings.TrimSpace(productionOrderID)
	if productionOrderID == "" {
		return domain.PersonalizationSnapshot{}, errors.New("snapshot repository: production order id is required")
	}
	return r.findOne(ctx, "productionOrderId", productionOrderID)
}

// UpdateLinkage writes the snapshot's only mutable fields and returns the
// refreshed state.
func (r *SnapshotRepository) UpdateLinkage(ctx context.Context, snapshotID string, update repositories.SnapshotLinkageUpdate) (domain.PersonalizationSnapshot, error) {
	if r == nil || r.base == nil {
		return domain.PersonalizationSnapshot{}, errors.New("snapshot repository not initialised")
	}
	snapshotID = strings.TrimSpace(snapshotID)
	if snapshotID == "" {
		return domain.PersonalizationSnapshot{}, errors.New("snapshot repository: snapshot id is required")
	}

	updates := make([]firestore.Update, 0, 3)
	if update.OrderID != nil {
		updates = append(updates, firestore.Update{Path: "orderId", Value: strings.TrimSpace(*update.OrderID)})
	}
	if update.ProductionOrderID != nil {
		updates = append(updates, firestore.Update{Path: "productionOrderId", Value: strings.TrimSpace(*update.ProductionOrderID)})
	}
	if update.FinalizedAt != nil {
		updates = append(updates, firestore.Update{Path: "finalizedAt", Value: update.FinalizedAt.UTC()})
	}
	if len(updates) == 0 {
		return r.FindByID(ctx, snapshotID)
	}

	if _, err := r.base.Update(ctx, snapshotID, updates); err != nil {
		return domain.PersonalizationSnapshot{}, err
	}
	return r.FindByID(ctx, snapshotID)
}

func (r *SnapshotRepository) findOne(ctx context.Context, field, value string) (domain.PersonalizationSnapshot, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(field, "==", value).Limit(1)
	})
	if err != nil {
		return domain.PersonalizationSnapshot{}, err
	}
	if len(docs) == 0 {
		return domain.PersonalizationSnapshot{}, pfirestore.WrapError("personalization_snapshots.find",
			status.Errorf(codes.NotFound, "no snapshot for %s %s", field, value))
	}
	return decodeSnapshotDocument(docs[0].ID, docs[0].Data), nil
}

type snapshotDocument struct {
	CartLineID        string                  `firestore:"cartLineId"`
	CustomerID        string                  `firestore:"customerId"`
	ListingID         string                  `firestore:"listingId"`
	ProviderID        string                  `firestore:"providerId,omitempty"`
	Entries           []snapshotEntryDocument `firestore:"entries"`
	ImageRefs         []string                `firestore:"imageRefs,omitempty"`
	TotalPriceImpact  int64                   `firestore:"totalPriceImpact"`
	Currency          string                  `firestore:"currency,omitempty"`
	OrderID           string                  `firestore:"orderId,omitempty"`
	ProductionOrderID string                  `firestore:"productionOrderId,omitempty"`
	FinalizedAt       *time.Time              `firestore:"finalizedAt,omitempty"`
	CreatedAt         time.Time               `firestore:"createdAt"`
}

type snapshotEntryDocument struct {
	SubmissionID string                        `firestore:"submissionId"`
	Config       personalizationConfigDocument `firestore:"config"`
	ConfigID     string                        `firestore:"configId"`
	Value        submissionValueDocument       `firestore:"value"`
	PriceImpact  priceImpactBreakdownDocument  `firestore:"priceImpact"`
}

type snapshotGuardDocument struct {
	SnapshotID string    `firestore:"snapshotId"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func encodeSnapshotDocument(snapshot domain.PersonalizationSnapshot) snapshotDocument {
	doc := snapshotDocument{
		CartLineID:       strings.TrimSpace(snapshot.CartLineID),
		CustomerID:       strings.TrimSpace(snapshot.CustomerID),
		ListingID:        strings.TrimSpace(snapshot.ListingID),
		ProviderID:       strings.TrimSpace(snapshot.ProviderID),
		ImageRefs:        cloneStrings(snapshot.ImageRefs),
		TotalPriceImpact: snapshot.TotalPriceImpact,
		Currency:         strings.TrimSpace(snapshot.Currency),
		FinalizedAt:      normalizeTimePointer(snapshot.FinalizedAt),
		CreatedAt:        snapshot.CreatedAt.UTC(),
	}
	if snapshot.OrderID != nil {
		doc.OrderID = strings.TrimSpace(*snapshot.OrderID)
	}
	if snapshot.ProductionOrderID != nil {
		doc.ProductionOrderID = strings.TrimSpace(*snapshot.ProductionOrderID)
	}
	doc.Entries = make([]snapshotEntryDocument, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
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

func decodeSnapshotDocument(id string, doc snapshotDocument) domain.PersonalizationSnapshot {
	snapshot := domain.PersonalizationSnapshot{
		ID:               strings.TrimSpace(id),
		CartLineID:       strings.TrimSpace(doc.CartLineID),
		CustomerID:       strings.TrimSpace(doc.CustomerID),
		ListingID:        strings.TrimSpace(doc.ListingID),
		ProviderID:       strings.TrimSpace(doc.ProviderID),
		ImageRefs:        cloneStrings(doc.ImageRefs),
		TotalPriceImpact: doc.TotalPriceImpact,
		Currency:         strings.TrimSpace(doc.Currency),
		FinalizedAt:      normalizeTimePointer(doc.FinalizedAt),
		CreatedAt:        doc.CreatedAt.UTC(),
	}
	if orderID := strings.TrimSpace(doc.OrderID); orderID != "" {
		snapshot.OrderID = &orderID
	}
	if productionOrderID := strings.TrimSpace(doc.ProductionOrderID); productionOrderID != "" {
		snapshot.ProductionOrderID = &productionOrderID
	}
	snapshot.Entries = make([]domain.SnapshotEntry, 0, len(doc.Entries))
	for _, entry := range doc.Entries {
		snapshot.Entries = append(snapshot.Entries, domain.SnapshotEntry{
			SubmissionID: strings.TrimSpace(entry.SubmissionID),
			Config:       decodePersonalizationConfig(entry.ConfigID, entry.Config, entry.Config.CreatedAt, entry.Config.UpdatedAt),
			Value:        decodeSubmissionValue(entry.Value),
			PriceImpact:  decodePriceImpactBreakdown(entry.PriceImpact),
		})
	}
	return snapshot
}
