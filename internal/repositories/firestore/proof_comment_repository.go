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

const proofCommentsCollection = "comments"

// ProofCommentRepository stores threaded feedback under each proof.
type ProofCommentRepository struct {
	provider *pfirestore.Provider
}

// NewProofCommentRepository constructs a Firestore-backed proof comment repository.
func NewProofCommentRepository(provider *pfirestore.Provider) (*ProofCommentRepository, error) {
	if provider == nil {
		return nil, errors.New("proof comment repository: firestore provider is required")
	}
	return &ProofCommentRepository{provider: provider}, nil
}

// Insert stores a new comment under its proof.
func (r *ProofCommentRepository) Insert(ctx context.Context, comment domain.ProofComment) error {
	if r == nil || r.provider == nil {
		return errors.New("proof comment repository not initialised")
	}
	proofID := strings.TrimSpace(comment.ProofID)
	if proofID == "" {
		return errors.New("proof comment repository: proof id is required")
	}
	commentID := strings.TrimSpace(comment.ID)
	if commentID == "" {
		return errors.New("proof comment repository: comment id is required")
	}

	coll, err := r.collection(ctx, proofID)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(commentID).Create(ctx, encodeProofCommentDocument(comment)); err != nil {
		return pfirestore.WrapError("proof_comments.insert", err)
	}
	return nil
}

// Update replaces the persisted comment state.
func (r *ProofCommentRepository) Update(ctx context.Context, comment domain.ProofComment) error {
	if r == nil || r.provider == nil {
		return errors.New("proof comment repository not initialised")
	}
	proofID := strings.TrimSpace(comment.ProofID)
	if proofID == "" {
		return errors.New("proof comment repository: proof id is required")
	}
	commentID := strings.TrimSpace(comment.ID)
	if commentID == "" {
		return errors.New("proof comment repository: comment id is required")
	}

	coll, err := r.collection(ctx, proofID)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(commentID).Set(ctx, encodeProofCommentDocument(comment)); err != nil {
		return pfirestore.WrapError("proof_comments.update", err)
	}
	return nil
}

// FindByID fetches a single comment.
func (r *ProofCommentRepository) FindByID(ctx context.Context, proofID string, commentID string) (domain.ProofComment, error) {
	if r == nil || r.provider == nil {
		return domain.ProofComment{}, errors.New("proof comment repository not initialised")
	}
	proofID = strings.TrimSpace(proofID)
	if proofID == "" {
		return domain.ProofComment{}, errors.New("proof comment repository: proof id is required")
	}
	commentID = strings.TrimSpace(commentID)
	if commentID == "" {
		return domain.ProofComment{}, errors.New("proof comment repository: comment id is required")
	}

	coll, err := r.collection(ctx, proofID)
	if err != nil {
		return domain.ProofComment{}, err
	}
	snap, err := coll.Doc(commentID).Get(ctx)
	if err != nil {
		return domain.ProofComment{}, pfirestore.WrapError("proof_comments.get", err)
	}

	var doc proofCommentDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ProofComment{}, fmt.Errorf("proof comment repository: decode %s: %w", snap.Ref.ID, err)
	}
	return decodeProofCommentDocument(proofID, snap.Ref.ID, doc), nil
}

// ListByProof returns the proof's comments oldest first so threads read in order.
func (r *ProofCommentRepository) ListByProof(ctx context.Context, proofID string, pager domain.Pagination) (domain.CursorPage[domain.ProofComment], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.ProofComment]{}, errors.New("proof comment repository not initialised")
	}
	proofID = strings.TrimSpace(proofID)
	if proofID == "" {
		return domain.CursorPage[domain.ProofComment]{}, errors.New("proof comment repository: proof id is required")
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
			return domain.CursorPage[domain.ProofComment]{}, fmt.Errorf("proof comment repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	coll, err := r.collection(ctx, proofID)
	if err != nil {
		return domain.CursorPage[domain.ProofComment]{}, err
	}

	query := coll.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	if len(startAfter) == 2 {
		query = query.StartAfter(startAfter...)
	}
	if fetchLimit > 0 {
		query = query.Limit(fetchLimit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	type commentRow struct {
		id   string
		data proofCommentDocument
	}

	rows := make([]commentRow, 0, fetchLimit)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.ProofComment]{}, pfirestore.WrapError("proof_comments.list", err)
		}
		var doc proofCommentDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.ProofComment]{}, fmt.Errorf("proof comment repository: decode %s: %w", snap.Ref.ID, err)
		}
		rows = append(rows, commentRow{id: snap.Ref.ID, data: doc})
	}

	nextToken := ""
	if limit > 0 && len(rows) == fetchLimit {
		last := rows[len(rows)-1]
		nextToken = pagination.EncodeTimeToken(last.data.CreatedAt, last.id)
		rows = rows[:len(rows)-1]
	}

	items := make([]domain.ProofComment, 0, len(rows))
	for _, row := range rows {
		items = append(items, decodeProofCommentDocument(proofID, row.id, row.data))
	}

	return domain.CursorPage[domain.ProofComment]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type proofCommentDocument struct {
	AuthorID   string                      `firestore:"authorId"`
	AuthorRole string                      `firestore:"authorRole"`
	Text       string                      `firestore:"text"`
	Anchor     *proofCommentAnchorDocument `firestore:"anchor,omitempty"`
	ParentID   string                      `firestore:"parentId,omitempty"`
	Resolved   bool                        `firestore:"resolved"`
	ResolvedAt *time.Time                  `firestore:"resolvedAt,omitempty"`
	ResolvedBy string                      `firestore:"resolvedBy,omitempty"`
	CreatedAt  time.Time                   `firestore:"createdAt"`
}

type proofCommentAnchorDocument struct {
	ImageRef string  `firestore:"imageRef"`
	X        float64 `firestore:"x"`
	Y        float64 `firestore:"y"`
	Width    float64 `firestore:"width"`
	Height   float64 `firestore:"height"`
}

func encodeProofCommentDocument(comment domain.ProofComment) proofCommentDocument {
	doc := proofCommentDocument{
		AuthorID:   strings.TrimSpace(comment.AuthorID),
		AuthorRole: strings.TrimSpace(comment.AuthorRole),
		Text:       comment.Text,
		Resolved:   comment.Resolved,
		ResolvedAt: normalizeTimePointer(comment.ResolvedAt),
		CreatedAt:  comment.CreatedAt.UTC(),
	}
	if comment.ParentID != nil {
		doc.ParentID = strings.TrimSpace(*comment.ParentID)
	}
	if comment.ResolvedBy != nil {
		doc.ResolvedBy = strings.TrimSpace(*comment.ResolvedBy)
	}
	if comment.Anchor != nil {
		doc.Anchor = &proofCommentAnchorDocument{
			ImageRef: strings.TrimSpace(comment.Anchor.ImageRef),
			X:        comment.Anchor.X,
			Y:        comment.Anchor.Y,
			Width:    comment.Anchor.Width,
			Height:   comment.Anchor.Height,
		}
	}
	return doc
}

func decodeProofCommentDocument(proofID, commentID string, doc proofCommentDocument) domain.ProofComment {
	comment := domain.ProofComment{
		ID:         strings.TrimSpace(commentID),
		ProofID:    strings.TrimSpace(proofID),
		AuthorID:   strings.TrimSpace(doc.AuthorID),
		AuthorRole: strings.TrimSpace(doc.AuthorRole),
		Text:       doc.Text,
		Resolved:   doc.Resolved,
		ResolvedAt: normalizeTimePointer(doc.ResolvedAt),
		CreatedAt:  doc.CreatedAt.UTC(),
	}
	if parentID := strings.TrimSpace(doc.ParentID); parentID != "" {
		comment.ParentID = &parentID
	}
	if resolvedBy := strings.TrimSpace(doc.ResolvedBy); resolvedBy != "" {
		comment.ResolvedBy = &resolvedBy
	}
	if doc.Anchor != nil {
		comment.Anchor = &domain.ProofCommentAnchor{
			ImageRef: strings.TrimSpace(doc.Anchor.ImageRef),
			X:        doc.Anchor.X,
			Y:        doc.Anchor.Y,
			Width:    doc.Anchor.Width,
			Height:   doc.Anchor.Height,
		}
	}
	return comment
}

func (r *ProofCommentRepository) collection(ctx context.Context, proofID string) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(proofsCollection).Doc(proofID).Collection(proofCommentsCollection), nil
}
