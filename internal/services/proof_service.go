package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/craftyard/api/internal/domain"
	"github.com/craftyard/api/internal/repositories"
)

const (
	proofEventSubmitted = "proof.submitted"
	proofEventReviewed  = "proof.reviewed"
	proofEventCommented = "proof.commented"

	proofIDPrefix        = "prf_"
	proofVersionIDPrefix = "pfv_"
	proofCommentIDPrefix = "pfc_"

	proofMaxRating = 5
)

var (
	// ErrProofInvalidInput signals the caller provided invalid data.
	ErrProofInvalidInput = errors.New("proof: invalid input")
	// ErrProofNotFound indicates the proof could not be located or is not visible to the actor.
	ErrProofNotFound = errors.New("proof: not found")
	// ErrProofConflict indicates a concurrent decision already settled the proof.
	ErrProofConflict = errors.New("proof: conflict")
	// ErrProofInvalidState indicates the operation is not legal in the proof's current state.
	ErrProofInvalidState = errors.New("proof: invalid state")
	// ErrProofAlreadyPending indicates an unresolved proof already awaits review for the order.
	ErrProofAlreadyPending = errors.New("proof: review already pending")
	// ErrProofFinalized indicates a revision was requested against a final proof.
	ErrProofFinalized = errors.New("proof: finalized")
)

// ProofEventPublisher publishes proofing domain events for downstream consumers.
type ProofEventPublisher interface {
	PublishProofEvent(ctx context.Context, event ProofEvent) error
}

// ProofEvent captures metadata for emitted proofing domain events.
type ProofEvent struct {
	Type          string
	ProofID       string
	OrderID       string
	VersionNumber int
	Decision      string
	ActorID       string
	OccurredAt    time.Time
}

// proofOrderGateway is the slice of the order lifecycle the proofing engine
// drives: reads for authorization plus the submit/approve/revision moves.
type proofOrderGateway interface {
	GetOrder(ctx context.Context, orderID string, actor Actor) (ProductionOrder, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (ProductionOrder, error)
	RegisterRevision(ctx context.Context, cmd RegisterRevisionCommand) (ProductionOrder, error)
}

// ProofServiceDeps bundles collaborators required to construct the proof service.
type ProofServiceDeps struct {
	Proofs      repositories.ProofRepository
	Comments    repositories.ProofCommentRepository
	Orders      proofOrderGateway
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      ProofEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Sanitizer   *bluemonday.Policy
}

type proofService struct {
	proofs     repositories.ProofRepository
	comments   repositories.ProofCommentRepository
	orders     proofOrderGateway
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     ProofEventPublisher
	logger     func(context.Context, string, map[string]any)
	sanitizer  *bluemonday.Policy
}

// NewProofService wires dependencies into a concrete ProofService implementation.
func NewProofService(deps ProofServiceDeps) (ProofService, error) {
	if deps.Proofs == nil {
		return nil, errors.New("proof service: proof repository is required")
	}
	if deps.Comments == nil {
		return nil, errors.New("proof service: comment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("proof service: order gateway is required")
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

	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = bluemonday.StrictPolicy()
	}

	return &proofService{
		proofs:     deps.Proofs,
		comments:   deps.Comments,
		orders:     deps.Orders,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		events:    deps.Events,
		logger:    logger,
		sanitizer: sanitizer,
	}, nil
}

func (s *proofService) SubmitProof(ctx context.Context, cmd SubmitProofCommand) (Proof, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Proof{}, fmt.Errorf("%w: order id is required", ErrProofInvalidInput)
	}
	if len(cmd.ImageRefs) == 0 {
		return Proof{}, fmt.Errorf("%w: at least one proof image is required", ErrProofInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, orderID, cmd.Actor)
	if err != nil {
		return Proof{}, err
	}
	if cmd.Actor.Role != ActorRoleStaff && cmd.Actor.Role != ActorRoleSystem && cmd.Actor.ID != order.ProviderID {
		return Proof{}, fmt.Errorf("%w: order %s", ErrProofNotFound, orderID)
	}
	if order.Status != domain.OrderStatusDesignInProgress {
		return Proof{}, fmt.Errorf("%w: submission requires status %q but was %q", ErrProofInvalidState, domain.OrderStatusDesignInProgress, order.Status)
	}

	if _, err := s.proofs.FindPendingByOrder(ctx, orderID); err == nil {
		return Proof{}, fmt.Errorf("%w: order %s", ErrProofAlreadyPending, orderID)
	} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrProofNotFound) {
		return Proof{}, mapped
	}

	maxVersion, err := s.proofs.MaxVersionNumber(ctx, orderID)
	if err != nil {
		return Proof{}, s.mapRepositoryError(err)
	}

	now := s.now()
	proof := Proof{
		ID:                  proofIDPrefix + s.newID(),
		OrderID:             orderID,
		VersionNumber:       maxVersion + 1,
		Title:               strings.TrimSpace(cmd.Title),
		Description:         s.sanitize(cmd.Description),
		ImageRefs:           cloneStrings(cmd.ImageRefs),
		DesignFileRefs:      cloneStrings(cmd.DesignFileRefs),
		EstimatedTurnaround: strings.TrimSpace(cmd.EstimatedTurnaround),
		Status:              domain.ProofStatusPendingReview,
		SubmittedAt:         now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	version := ProofVersion{
		ID:            proofVersionIDPrefix + s.newID(),
		OrderID:       orderID,
		ProofID:       proof.ID,
		VersionNumber: proof.VersionNumber,
		ChangeSummary: s.sanitize(cmd.Notes),
		ChangedBy:     cmd.Actor.ID,
		ImageRefs:     cloneStrings(cmd.ImageRefs),
		CreatedAt:     now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.proofs.Insert(txCtx, proof); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.mapRepositoryError(s.proofs.AppendVersion(txCtx, version))
	})
	if err != nil {
		return Proof{}, err
	}

	expected := domain.OrderStatusDesignInProgress
	if _, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:        orderID,
		TargetStatus:   domain.OrderStatusProofSubmitted,
		Actor:          cmd.Actor,
		Note:           fmt.Sprintf("proof v%d submitted", proof.VersionNumber),
		ExpectedStatus: &expected,
	}); err != nil {
		return Proof{}, err
	}

	s.publishEvent(ctx, ProofEvent{
		Type:          proofEventSubmitted,
		ProofID:       proof.ID,
		OrderID:       orderID,
		VersionNumber: proof.VersionNumber,
		ActorID:       cmd.Actor.ID,
		OccurredAt:    now,
	})

	return proof, nil
}

// ReviewProof settles a pending proof with a single atomic decision. A proof
// that has already been decided reports a conflict to the losing reviewer.
func (s *proofService) ReviewProof(ctx context.Context, cmd ReviewProofCommand) (Proof, error) {
	proofID := strings.TrimSpace(cmd.ProofID)
	if proofID == "" {
		return Proof{}, fmt.Errorf("%w: proof id is required", ErrProofInvalidInput)
	}
	if cmd.Rating != nil && (*cmd.Rating < 1 || *cmd.Rating > proofMaxRating) {
		return Proof{}, fmt.Errorf("%w: rating must be between 1 and %d", ErrProofInvalidInput, proofMaxRating)
	}

	proof, err := s.proofs.FindByID(ctx, proofID)
	if err != nil {
		return Proof{}, s.mapRepositoryError(err)
	}

	order, err := s.orders.GetOrder(ctx, proof.OrderID, cmd.Actor)
	if err != nil {
		return Proof{}, err
	}
	if cmd.Actor.Role != ActorRoleStaff && cmd.Actor.Role != ActorRoleSystem && cmd.Actor.ID != order.CustomerID {
		return Proof{}, fmt.Errorf("%w: proof %s", ErrProofNotFound, proofID)
	}

	if proof.Status != domain.ProofStatusPendingReview {
		return Proof{}, fmt.Errorf("%w: proof already %s", ErrProofConflict, proof.Status)
	}

	now := s.now()

	switch cmd.Decision {
	case ProofDecisionApprove:
		proof.Status = domain.ProofStatusApproved
		proof.ApprovedAt = &now
		if cmd.MarkFinal {
			proof.IsFinal = true
		}
	case ProofDecisionReject:
		if proof.IsFinal {
			return Proof{}, fmt.Errorf("%w: proof %s", ErrProofFinalized, proofID)
		}
		proof.Status = domain.ProofStatusRejected
	case ProofDecisionRequestRevision:
		if proof.IsFinal {
			return Proof{}, fmt.Errorf("%w: proof %s", ErrProofFinalized, proofID)
		}
		proof.Status = domain.ProofStatusRevisionRequested
	default:
		return Proof{}, fmt.Errorf("%w: unknown decision %q", ErrProofInvalidInput, cmd.Decision)
	}

	proof.Feedback = s.sanitize(cmd.Feedback)
	proof.Rating = cmd.Rating
	proof.ChangeRequest = cloneMap(cmd.ChangeRequest)
	proof.ReviewedAt = &now
	proof.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.proofs.Update(txCtx, proof, domain.ProofStatusPendingReview))
	})
	if err != nil {
		return Proof{}, err
	}

	if cmd.Decision == ProofDecisionApprove {
		expected := domain.OrderStatusProofSubmitted
		if _, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID:        proof.OrderID,
			TargetStatus:   domain.OrderStatusProofApproved,
			Actor:          cmd.Actor,
			Note:           fmt.Sprintf("proof v%d approved", proof.VersionNumber),
			ExpectedStatus: &expected,
		}); err != nil {
			return Proof{}, err
		}
		approved := domain.OrderStatusProofApproved
		if _, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID:        proof.OrderID,
			TargetStatus:   domain.OrderStatusInProduction,
			Actor:          cmd.Actor,
			Note:           "production started",
			ExpectedStatus: &approved,
		}); err != nil {
			return Proof{}, err
		}
	} else {
		if _, err := s.orders.RegisterRevision(ctx, RegisterRevisionCommand{
			OrderID: proof.OrderID,
			ProofID: proof.ID,
			Actor:   cmd.Actor,
			Note:    proof.Feedback,
		}); err != nil {
			return Proof{}, err
		}
	}

	s.publishEvent(ctx, ProofEvent{
		Type:          proofEventReviewed,
		ProofID:       proof.ID,
		OrderID:       proof.OrderID,
		VersionNumber: proof.VersionNumber,
		Decision:      string(cmd.Decision),
		ActorID:       cmd.Actor.ID,
		OccurredAt:    now,
	})

	return proof, nil
}

func (s *proofService) GetProof(ctx context.Context, proofID string, actor Actor) (Proof, error) {
	proofID = strings.TrimSpace(proofID)
	if proofID == "" {
		return Proof{}, fmt.Errorf("%w: proof id is required", ErrProofInvalidInput)
	}

	proof, err := s.proofs.FindByID(ctx, proofID)
	if err != nil {
		return Proof{}, s.mapRepositoryError(err)
	}
	if _, err := s.orders.GetOrder(ctx, proof.OrderID, actor); err != nil {
		return Proof{}, fmt.Errorf("%w: proof %s", ErrProofNotFound, proofID)
	}
	return proof, nil
}

func (s *proofService) ListProofs(ctx context.Context, orderID string, actor Actor, pager Pagination) (domain.CursorPage[Proof], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[Proof]{}, fmt.Errorf("%w: order id is required", ErrProofInvalidInput)
	}
	if _, err := s.orders.GetOrder(ctx, orderID, actor); err != nil {
		return domain.CursorPage[Proof]{}, err
	}

	page, err := s.proofs.ListByOrder(ctx, orderID, pager)
	if err != nil {
		return domain.CursorPage[Proof]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *proofService) ListVersions(ctx context.Context, orderID string, actor Actor) ([]ProofVersion, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrProofInvalidInput)
	}
	if _, err := s.orders.GetOrder(ctx, orderID, actor); err != nil {
		return nil, err
	}

	versions, err := s.proofs.ListVersions(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return versions, nil
}

func (s *proofService) AddComment(ctx context.Context, cmd AddProofCommentCommand) (ProofComment, error) {
	proofID := strings.TrimSpace(cmd.ProofID)
	text := s.sanitize(cmd.Text)
	if proofID == "" {
		return ProofComment{}, fmt.Errorf("%w: proof id is required", ErrProofInvalidInput)
	}
	if text == "" {
		return ProofComment{}, fmt.Errorf("%w: comment text is required", ErrProofInvalidInput)
	}

	proof, err := s.proofs.FindByID(ctx, proofID)
	if err != nil {
		return ProofComment{}, s.mapRepositoryError(err)
	}
	if _, err := s.orders.GetOrder(ctx, proof.OrderID, cmd.Actor); err != nil {
		return ProofComment{}, fmt.Errorf("%w: proof %s", ErrProofNotFound, proofID)
	}

	now := s.now()
	comment := ProofComment{
		ID:         proofCommentIDPrefix + s.newID(),
		ProofID:    proofID,
		AuthorID:   cmd.Actor.ID,
		AuthorRole: cmd.Actor.Role,
		Text:       text,
		Anchor:     cloneAnchor(cmd.Anchor),
		ParentID:   cmd.ParentID,
		CreatedAt:  now,
	}

	if err := s.comments.Insert(ctx, comment); err != nil {
		return ProofComment{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, ProofEvent{
		Type:          proofEventCommented,
		ProofID:       proofID,
		OrderID:       proof.OrderID,
		VersionNumber: proof.VersionNumber,
		ActorID:       cmd.Actor.ID,
		OccurredAt:    now,
	})

	return comment, nil
}

func (s *proofService) ResolveComment(ctx context.Context, cmd ResolveProofCommentCommand) (ProofComment, error) {
	proofID := strings.TrimSpace(cmd.ProofID)
	commentID := strings.TrimSpace(cmd.CommentID)
	if proofID == "" || commentID == "" {
		return ProofComment{}, fmt.Errorf("%w: proof id and comment id are required", ErrProofInvalidInput)
	}

	proof, err := s.proofs.FindByID(ctx, proofID)
	if err != nil {
		return ProofComment{}, s.mapRepositoryError(err)
	}
	if _, err := s.orders.GetOrder(ctx, proof.OrderID, cmd.Actor); err != nil {
		return ProofComment{}, fmt.Errorf("%w: proof %s", ErrProofNotFound, proofID)
	}

	comment, err := s.comments.FindByID(ctx, proofID, commentID)
	if err != nil {
		return ProofComment{}, s.mapRepositoryError(err)
	}
	if comment.Resolved {
		return comment, nil
	}

	now := s.now()
	comment.Resolved = true
	comment.ResolvedAt = &now
	comment.ResolvedBy = valuePtr(cmd.Actor.ID)

	if err := s.comments.Update(ctx, comment); err != nil {
		return ProofComment{}, s.mapRepositoryError(err)
	}
	return comment, nil
}

func (s *proofService) ListComments(ctx context.Context, proofID string, actor Actor, pager Pagination) (domain.CursorPage[ProofComment], error) {
	proofID = strings.TrimSpace(proofID)
	if proofID == "" {
		return domain.CursorPage[ProofComment]{}, fmt.Errorf("%w: proof id is required", ErrProofInvalidInput)
	}

	proof, err := s.proofs.FindByID(ctx, proofID)
	if err != nil {
		return domain.CursorPage[ProofComment]{}, s.mapRepositoryError(err)
	}
	if _, err := s.orders.GetOrder(ctx, proof.OrderID, actor); err != nil {
		return domain.CursorPage[ProofComment]{}, fmt.Errorf("%w: proof %s", ErrProofNotFound, proofID)
	}

	page, err := s.comments.ListByProof(ctx, proofID, pager)
	if err != nil {
		return domain.CursorPage[ProofComment]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *proofService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProofNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrProofConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("proof: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *proofService) sanitize(text string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(text))
}

func (s *proofService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *proofService) now() time.Time {
	return s.clock()
}

func (s *proofService) publishEvent(ctx context.Context, event ProofEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishProofEvent(ctx, event); err != nil {
		s.logger(ctx, "proof.event.publish.failed", map[string]any{
			"type":  event.Type,
			"proof": event.ProofID,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	cloned := make([]string, len(values))
	copy(cloned, values)
	return cloned
}

func cloneAnchor(anchor *ProofCommentAnchor) *ProofCommentAnchor {
	if anchor == nil {
		return nil
	}
	cloned := *anchor
	return &cloned
}
