package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftyard/api/internal/domain"
	pfirestore "github.com/craftyard/api/internal/platform/firestore"
	"github.com/craftyard/api/internal/platform/pagination"
)

const (
	proofsCollection        = "proofs"
	proofVersionsCollection = "proofVersions"
)

// ProofRepository persists proof documents and their immutable version
// history. Versions live in a subcollection under the owning order so the
// whole history reads with a single collection scan.
type ProofRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[proofDocument]
}

// NewProofRepository constructs a Firestore-backed proof repository.
func NewProofRepository(provider *pfirestore.Provider) (*ProofRepository, error) {
	if provider == nil {
		return nil, errors.New("proof repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[proofDocument](provider, proofsCollection, nil, nil)
	return &ProofRepository{provider: provider, base: base}, nil
}

// Insert stores a new proof. The ID must be unique.
func (r *ProofRepository) Insert(ctx context.Context, proof domain.Proof) error {
	if r == nil || r.base == nil {
		return errors.New("proof repository not initialised")
	}
	proofID := strings.TrimSpace(proof.ID)
	if proofID == "" {
		return errors.New("proof repository: proof id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, proofID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeProofDocument(proof)); err != nil {
		return pfirestore.WrapError("proofs.insert", err)
	}
	return nil
}

// Update replaces the persisted proof state only while the stored status
// still matches expected. The transaction re-reads the document, so of two
// concurrent reviewers exactly one settles the proof and the other gets a
// conflict.
func (r *ProofRepository) Update(ctx context.Context, proof domain.Proof, expected domain.ProofStatus) error {
	if r == nil || r.base == nil || r.provider == nil {
		return errors.New("proof repository not initialised")
	}
	proofID := strings.TrimSpace(proof.ID)
	if proofID == "" {
		return errors.New("proof repository: proof id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, proofID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var stored proofDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("proof repository: decode %s: %w", proofID, err)
		}
		if stored.Status != string(expected) {
			return status.Errorf(codes.FailedPrecondition,
				"proof %s is %s, expected %s", proofID, stored.Status, expected)
		}
		return tx.Set(docRef, encodeProofDocument(proof))
	})
	if err != nil {
		return pfirestore.WrapError("proofs.update", err)
	}
	return nil
}

// FindByID fetches a single proof.
func (r *ProofRepository) FindByID(ctx context.Context, proofID string) (domain.Proof, error) {
	if r == nil || r.base == nil {
		return domain.Proof{}, errors.New("proof repository not initialised")
	}
	proofID = strings.TrimSpace(proofID)
	if proofID == "" {
		return domain.Proof{}, errors.New("proof repository: proof id is required")
	}
	doc, err := r.base.Get(ctx, proofID)
	if err != nil {
		return domain.Proof{}, err
	}
	return decodeProofDocument(proofID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindPendingByOrder returns the order's proof awaiting review, if any.
func (r *ProofRepository) FindPendingByOrder(ctx context.Context, orderID string) (domain.Proof, error) {
	if r == nil || r.base == nil {
		return domain.Proof{}, errors.New("proof repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Proof{}, errors.New("proof repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("orderId", "==", orderID).
			Where("status", "==", string(domain.ProofStatusPendingReview)).
			Limit(1)
	})
	if err != nil {
		return domain.Proof{}, err
	}
	if len(docs) == 0 {
		return domain.Proof{}, pfirestore.WrapError("proofs.find_pending",
			status.Errorf(codes.NotFound, "no pending proof for order %s", orderID))
	}
	doc := docs[0]
	return decodeProofDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// ListByOrder returns the order's proofs, newest version first.
func (r *ProofRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Proof], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Proof]{}, errors.New("proof repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[domain.Proof]{}, errors.New("proof repository: order id is required")
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
			return domain.CursorPage[domain.Proof]{}, fmt.Errorf("proof repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.
			Where("orderId", "==", orderID).
			OrderBy("submittedAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Proof]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = pagination.EncodeTimeToken(last.Data.SubmittedAt, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Proof, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeProofDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Proof]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// MaxVersionNumber returns the highest version recorded for the order, or
// zero when no proof exists yet.
func (r *ProofRepository) MaxVersionNumber(ctx context.Context, orderID string) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("proof repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, errors.New("proof repository: order id is required")
	}

	coll, err := r.versions(ctx, orderID)
	if err != nil {
		return 0, err
	}

	iter := coll.OrderBy("versionNumber", firestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return 0, nil
	}
	if err != nil {
		return 0, pfirestore.WrapError("proof_versions.max", err)
	}

	var doc proofVersionDocument
	if err := snap.DataTo(&doc); err != nil {
		return 0, fmt.Errorf("proof repository: decode %s: %w", snap.Ref.ID, err)
	}
	return doc.VersionNumber, nil
}

// AppendVersion stores an immutable history entry under the owning order.
func (r *ProofRepository) AppendVersion(ctx context.Context, version domain.ProofVersion) error {
	if r == nil || r.provider == nil {
		return errors.New("proof repository not initialised")
	}
	orderID := strings.TrimSpace(version.OrderID)
	if orderID == "" {
		return errors.New("proof repository: order id is required")
	}
	versionID := strings.TrimSpace(version.ID)
	if versionID == "" {
		return errors.New("proof repository: version id is required")
	}

	coll, err := r.versions(ctx, orderID)
	if err != nil {
		return err
	}

	doc := proofVersionDocument{
		ProofID:       strings.TrimSpace(version.ProofID),
		VersionNumber: version.VersionNumber,
		ChangeSummary: strings.TrimSpace(version.ChangeSummary),
		ChangedBy:     strings.TrimSpace(version.ChangedBy),
		ImageRefs:     cloneStrings(version.ImageRefs),
		CreatedAt:     version.CreatedAt.UTC(),
	}
	if version.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := coll.Doc(versionID).Create(ctx, doc); err != nil {
		return pfirestore.WrapError("proof_versions.append", err)
	}
	return nil
}

// ListVersions returns the order's proof history ordered oldest first.
func (r *ProofRepository) ListVersions(ctx context.Context, orderID string) ([]domain.ProofVersion, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("proof repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("proof repository: order id is required")
	}

	coll, err := r.versions(ctx, orderID)
	if err != nil {
		return nil, err
	}

	iter := coll.OrderBy("versionNumber", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var items []domain.ProofVersion
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("proof_versions.list", err)
		}
		var doc proofVersionDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("proof repository: decode %s: %w", snap.Ref.ID, err)
		}
		items = append(items, domain.ProofVersion{
			ID:            snap.Ref.ID,
			OrderID:       orderID,
			ProofID:       doc.ProofID,
			VersionNumber: doc.VersionNumber,
			ChangeSummary: doc.ChangeSummary,
			ChangedBy:     doc.ChangedBy,
			ImageRefs:     cloneStrings(doc.ImageRefs),
			CreatedAt:     doc.CreatedAt.UTC(),
		})
	}
	return items, nil
}

type proofDocument struct {
	OrderID             string         `firestore:"orderId"`
	VersionNumber       int            `firestore:"versionNumber"`
	Title               string         `firestore:"title,omitempty"`
	Description         string         `firestore:"description,omitempty"`
	ImageRefs           []string       `firestore:"imageRefs"`
	DesignFileRefs      []string       `firestore:"designFileRefs,omitempty"`
	EstimatedTurnaround string         `firestore:"estimatedTurnaround,omitempty"`
	Status              string         `firestore:"status"`
	Feedback            string         `firestore:"feedback,omitempty"`
	Rating              *int           `firestore:"rating,omitempty"`
	ChangeRequest       map[string]any `firestore:"changeRequest,omitempty"`
	IsFinal             bool           `firestore:"isFinal"`
	SubmittedAt         time.Time      `firestore:"submittedAt"`
	ReviewedAt          *time.Time     `firestore:"reviewedAt,omitempty"`
	ApprovedAt          *time.Time     `firestore:"approvedAt,omitempty"`
	CreatedAt           time.Time      `firestore:"createdAt"`
	UpdatedAt           time.Time      `firestore:"updatedAt"`
}

type proofVersionDocument struct {
	ProofID       string    `firestore:"proofId"`
	VersionNumber int       `firestore:"versionNumber"`
	ChangeSummary string    `firestore:"changeSummary,omitempty"`
	ChangedBy     string    `firestore:"changedBy"`
	ImageRefs     []string  `firestore:"imageRefs,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

func encodeProofDocument(proof domain.Proof) proofDocument {
	return proofDocument{
		OrderID:             strings.TrimSpace(proof.OrderID),
		VersionNumber:       proof.VersionNumber,
		Title:               strings.TrimSpace(proof.Title),
		Description:         strings.TrimSpace(proof.Description),
		ImageRefs:           cloneStrings(proof.ImageRefs),
		DesignFileRefs:      cloneStrings(proof.DesignFileRefs),
		EstimatedTurnaround: strings.TrimSpace(proof.EstimatedTurnaround),
		Status:              strings.TrimSpace(string(proof.Status)),
		Feedback:            strings.TrimSpace(proof.Feedback),
		Rating:              proof.Rating,
		ChangeRequest:       cloneMap(proof.ChangeRequest),
		IsFinal:             proof.IsFinal,
		SubmittedAt:         proof.SubmittedAt.UTC(),
		ReviewedAt:          normalizeTimePointer(proof.ReviewedAt),
		ApprovedAt:          normalizeTimePointer(proof.ApprovedAt),
		CreatedAt:           proof.CreatedAt.UTC(),
		UpdatedAt:           proof.UpdatedAt.UTC(),
	}
}

func decodeProofDocument(id string, doc proofDocument, createdAt, updatedAt time.Time) domain.Proof {
	return domain.Proof{
		ID:                  strings.TrimSpace(id),
		OrderID:             strings.TrimSpace(doc.OrderID),
		VersionNumber:       doc.VersionNumber,
		Title:               strings.TrimSpace(doc.Title),
		Description:         strings.TrimSpace(doc.Description),
		ImageRefs:           cloneStrings(doc.ImageRefs),
		DesignFileRefs:      cloneStrings(doc.DesignFileRefs),
		EstimatedTurnaround: strings.TrimSpace(doc.EstimatedTurnaround),
		Status:              domain.ProofStatus(strings.TrimSpace(doc.Status)),
		Feedback:            doc.Feedback,
		Rating:              doc.Rating,
		ChangeRequest:       cloneMap(doc.ChangeRequest),
		IsFinal:             doc.IsFinal,
		SubmittedAt:         doc.SubmittedAt.UTC(),
		ReviewedAt:          normalizeTimePointer(doc.ReviewedAt),
		ApprovedAt:          normalizeTimePointer(doc.ApprovedAt),
		CreatedAt:           chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:           chooseTime(doc.UpdatedAt, updatedAt),
	}
}

func (r *ProofRepository) versions(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection).Doc(orderID).Collection(proofVersionsCollection), nil
}
