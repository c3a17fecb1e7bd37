package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/craftyard/api/internal/domain"
)

type stubProofRepo struct {
	insertFn        func(context.Context, domain.Proof) error
	updateFn        func(context.Context, domain.Proof, domain.ProofStatus) error
	findFn          func(context.Context, string) (domain.Proof, error)
	findPendingFn   func(context.Context, string) (domain.Proof, error)
	listFn          func(context.Context, string, domain.Pagination) (domain.CursorPage[domain.Proof], error)
	maxVersionFn    func(context.Context, string) (int, error)
	appendVersionFn func(context.Context, domain.ProofVersion) error
	listVersionsFn  func(context.Context, string) ([]domain.ProofVersion, error)
}

func (s *stubProofRepo) Insert(ctx context.Context, proof domain.Proof) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, proof)
	}
	return nil
}

func (s *stubProofRepo) Update(ctx context.Context, proof domain.Proof, expected domain.ProofStatus) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, proof, expected)
	}
	return nil
}

func (s *stubProofRepo) FindByID(ctx context.Context, proofID string) (domain.Proof, error) {
	if s.findFn != nil {
		return s.findFn(ctx, proofID)
	}
	return domain.Proof{}, stubRepoError{notFound: true}
}

func (s *stubProofRepo) FindPendingByOrder(ctx context.Context, orderID string) (domain.Proof, error) {
	if s.findPendingFn != nil {
		return s.findPendingFn(ctx, orderID)
	}
	return domain.Proof{}, stubRepoError{notFound: true}
}

func (s *stubProofRepo) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Proof], error) {
	if s.listFn != nil {
		return s.listFn(ctx, orderID, pager)
	}
	return domain.CursorPage[domain.Proof]{}, nil
}

func (s *stubProofRepo) MaxVersionNumber(ctx context.Context, orderID string) (int, error) {
	if s.maxVersionFn != nil {
		return s.maxVersionFn(ctx, orderID)
	}
	return 0, nil
}

func (s *stubProofRepo) AppendVersion(ctx context.Context, version domain.ProofVersion) error {
	if s.appendVersionFn != nil {
		return s.appendVersionFn(ctx, version)
	}
	return nil
}

func (s *stubProofRepo) ListVersions(ctx context.Context, orderID string) ([]domain.ProofVersion, error) {
	if s.listVersionsFn != nil {
		return s.listVersionsFn(ctx, orderID)
	}
	return nil, nil
}

type stubProofCommentRepo struct {
	insertFn func(context.Context, domain.ProofComment) error
	updateFn func(context.Context, domain.ProofComment) error
	findFn   func(context.Context, string, string) (domain.ProofComment, error)
	listFn   func(context.Context, string, domain.Pagination) (domain.CursorPage[domain.ProofComment], error)
}

func (s *stubProofCommentRepo) Insert(ctx context.Context, comment domain.ProofComment) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, comment)
	}
	return nil
}

func (s *stubProofCommentRepo) Update(ctx context.Context, comment domain.ProofComment) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, comment)
	}
	return nil
}

func (s *stubProofCommentRepo) FindByID(ctx context.Context, proofID string, commentID string) (domain.ProofComment, error) {
	if s.findFn != nil {
		return s.findFn(ctx, proofID, commentID)
	}
	return domain.ProofComment{}, stubRepoError{notFound: true}
}

func (s *stubProofCommentRepo) ListByProof(ctx context.Context, proofID string, pager domain.Pagination) (domain.CursorPage[domain.ProofComment], error) {
	if s.listFn != nil {
		return s.listFn(ctx, proofID, pager)
	}
	return domain.CursorPage[domain.ProofComment]{}, nil
}

// stubOrderGateway records the lifecycle moves the proofing engine drives.
type stubOrderGateway struct {
	order       domain.ProductionOrder
	transitions []OrderStatusTransitionCommand
	revisions   []RegisterRevisionCommand

	transitionErr error
	revisionErr   error
}

func (s *stubOrderGateway) GetOrder(_ context.Context, orderID string, actor Actor) (ProductionOrder, error) {
	order := s.order
	if order.ID == "" {
		order.ID = orderID
	}
	if err := authorizeOrderActor(order, actor); err != nil {
		return ProductionOrder{}, err
	}
	return order, nil
}

func (s *stubOrderGateway) TransitionStatus(_ context.Context, cmd OrderStatusTransitionCommand) (ProductionOrder, error) {
	if s.transitionErr != nil {
		return ProductionOrder{}, s.transitionErr
	}
	s.transitions = append(s.transitions, cmd)
	s.order.Status = cmd.TargetStatus
	return s.order, nil
}

func (s *stubOrderGateway) RegisterRevision(_ context.Context, cmd RegisterRevisionCommand) (ProductionOrder, error) {
	if s.revisionErr != nil {
		return ProductionOrder{}, s.revisionErr
	}
	s.revisions = append(s.revisions, cmd)
	s.order.RevisionCount++
	s.order.Status = domain.OrderStatusDesignInProgress
	return s.order, nil
}

type captureProofEvents struct {
	events []ProofEvent
}

func (c *captureProofEvents) PublishProofEvent(_ context.Context, event ProofEvent) error {
	c.events = append(c.events, event)
	return nil
}

func newTestProofService(t *testing.T, deps ProofServiceDeps) ProofService {
	t.Helper()
	if deps.Proofs == nil {
		deps.Proofs = &stubProofRepo{}
	}
	if deps.Comments == nil {
		deps.Comments = &stubProofCommentRepo{}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderGateway{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC)
		}
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "000TEST" }
	}
	svc, err := NewProofService(deps)
	if err != nil {
		t.Fatalf("new proof service: %v", err)
	}
	return svc
}

func TestProofServiceSubmitAssignsNextVersion(t *testing.T) {
	var inserted domain.Proof
	var version domain.ProofVersion
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusDesignInProgress,
	}}
	events := &captureProofEvents{}

	svc := newTestProofService(t, ProofServiceDeps{
		Proofs: &stubProofRepo{
			maxVersionFn: func(_ context.Context, orderID string) (int, error) {
				return 2, nil
			},
			insertFn: func(_ context.Context, proof domain.Proof) error {
				inserted = proof
				return nil
			},
			appendVersionFn: func(_ context.Context, v domain.ProofVersion) error {
				version = v
				return nil
			},
		},
		Orders: gateway,
		Events: events,
	})

	proof, err := svc.SubmitProof(context.Background(), SubmitProofCommand{
		OrderID:   "ord_1",
		Actor:     Actor{ID: "usr_prov", Role: ActorRoleProvider},
		Title:     "third pass",
		ImageRefs: []string{"assets/proofs/p3.png"},
	})
	if err != nil {
		t.Fatalf("submit proof: %v", err)
	}

	if proof.VersionNumber != 3 {
		t.Fatalf("expected version 3, got %d", proof.VersionNumber)
	}
	if proof.Status != domain.ProofStatusPendingReview {
		t.Fatalf("expected pending_review, got %s", proof.Status)
	}
	if inserted.ID != proof.ID || version.VersionNumber != 3 {
		t.Fatalf("proof and version not persisted together: %+v / %+v", inserted, version)
	}
	if len(gateway.transitions) != 1 || gateway.transitions[0].TargetStatus != domain.OrderStatusProofSubmitted {
		t.Fatalf("expected proof_submitted transition, got %+v", gateway.transitions)
	}
	if gateway.transitions[0].ExpectedStatus == nil || *gateway.transitions[0].ExpectedStatus != domain.OrderStatusDesignInProgress {
		t.Fatalf("transition must carry the expected-status guard")
	}
	if len(events.events) != 1 || events.events[0].Type != proofEventSubmitted {
		t.Fatalf("expected proof.submitted event, got %+v", events.events)
	}
}

func TestProofServiceSubmitRejectsSecondPending(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusDesignInProgress,
	}}

	svc := newTestProofService(t, ProofServiceDeps{
		Proofs: &stubProofRepo{
			findPendingFn: func(_ context.Context, orderID string) (domain.Proof, error) {
				return domain.Proof{ID: "prf_open", OrderID: orderID, Status: domain.ProofStatusPendingReview}, nil
			},
		},
		Orders: gateway,
	})

	_, err := svc.SubmitProof(context.Background(), SubmitProofCommand{
		OrderID:   "ord_1",
		Actor:     Actor{ID: "usr_prov", Role: ActorRoleProvider},
		ImageRefs: []string{"assets/proofs/p1.png"},
	})
	if !errors.Is(err, ErrProofAlreadyPending) {
		t.Fatalf("expected already pending error, got %v", err)
	}
}

func TestProofServiceSubmitRequiresDesignStage(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusInProduction,
	}}
	svc := newTestProofService(t, ProofServiceDeps{Orders: gateway})

	_, err := svc.SubmitProof(context.Background(), SubmitProofCommand{
		OrderID:   "ord_1",
		Actor:     Actor{ID: "usr_prov", Role: ActorRoleProvider},
		ImageRefs: []string{"assets/proofs/p1.png"},
	})
	if !errors.Is(err, ErrProofInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestProofServiceSubmitRejectsCustomer(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusDesignInProgress,
	}}
	svc := newTestProofService(t, ProofServiceDeps{Orders: gateway})

	_, err := svc.SubmitProof(context.Background(), SubmitProofCommand{
		OrderID:   "ord_1",
		Actor:     Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		ImageRefs: []string{"assets/proofs/p1.png"},
	})
	if !errors.Is(err, ErrProofNotFound) {
		t.Fatalf("expected not found for customer submission, got %v", err)
	}
}

func TestProofServiceApproveMovesOrderToProduction(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusProofSubmitted,
	}}
	var updated domain.Proof

	svc := newTestProofService(t, ProofServiceDeps{
		Proofs: &stubProofRepo{
			findFn: func(_ context.Context, proofID string) (domain.Proof, error) {
				return domain.Proof{
					ID:            proofID,
					OrderID:       "ord_1",
					VersionNumber: 2,
					Status:        domain.ProofStatusPendingReview,
				}, nil
			},
			updateFn: func(_ context.Context, proof domain.Proof, expected domain.ProofStatus) error {
				if expected != domain.ProofStatusPendingReview {
					t.Errorf("update must require pending_review, got %s", expected)
				}
				updated = proof
				return nil
			},
		},
		Orders: gateway,
	})

	proof, err := svc.ReviewProof(context.Background(), ReviewProofCommand{
		ProofID:   "prf_1",
		Actor:     Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		Decision:  ProofDecisionApprove,
		MarkFinal: true,
	})
	if err != nil {
		t.Fatalf("review proof: %v", err)
	}

	if proof.Status != domain.ProofStatusApproved || !proof.IsFinal {
		t.Fatalf("expected approved final proof, got %+v", proof)
	}
	if proof.ApprovedAt == nil || proof.ReviewedAt == nil {
		t.Fatalf("review timestamps not set")
	}
	if updated.Status != domain.ProofStatusApproved {
		t.Fatalf("approval not persisted")
	}
	if len(gateway.transitions) != 2 {
		t.Fatalf("expected two transitions, got %+v", gateway.transitions)
	}
	if gateway.transitions[0].TargetStatus != domain.OrderStatusProofApproved ||
		gateway.transitions[1].TargetStatus != domain.OrderStatusInProduction {
		t.Fatalf("unexpected transition sequence %+v", gateway.transitions)
	}
}

func TestProofServiceRevisionRequestRegistersRevision(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusProofSubmitted,
	}}

	svc := newTestProofService(t, ProofServiceDeps{
		Proofs: &stubProofRepo{
			findFn: func(_ context.Context, proofID string) (domain.Proof, error) {
				return domain.Proof{
					ID:      proofID,
					OrderID: "ord_1",
					Status:  domain.ProofStatusPendingReview,
				}, nil
			},
		},
		Orders: gateway,
	})

	proof, err := svc.ReviewProof(context.Background(), ReviewProofCommand{
		ProofID:  "prf_1",
		Actor:    Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		Decision: ProofDecisionRequestRevision,
		Feedback: "please enlarge the monogram",
	})
	if err != nil {
		t.Fatalf("review proof: %v", err)
	}

	if proof.Status != domain.ProofStatusRevisionRequested {
		t.Fatalf("expected revision_requested, got %s", proof.Status)
	}
	if len(gateway.revisions) != 1 || gateway.revisions[0].ProofID != "prf_1" {
		t.Fatalf("revision not registered against the order: %+v", gateway.revisions)
	}
	if len(gateway.transitions) != 0 {
		t.Fatalf("revision path must not drive forward transitions: %+v", gateway.transitions)
	}
}

func TestProofServiceFinalProofBlocksRevision(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		Status:     domain.OrderStatusProofSubmitted,
	}}

	svc := newTestProofService(t, ProofServiceDeps{
		Proofs: &stubProofRepo{
			findFn: func(_ context.Context, proofID string) (domain.Proof, error) {
				return domain.Proof{
					ID:      proofID,
					OrderID: "ord_1",
					Status:  domain.ProofStatusPendingReview,
					IsFinal: true,
				}, nil
			},
		},
		Orders: gateway,
	})

	_, err := svc.ReviewProof(context.Background(), ReviewProofCommand{
		ProofID:  "prf_1",
		Actor:    Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		Decision: ProofDecisionRequestRevision,
	})
	if !errors.Is(err, ErrProofFinalized) {
		t.Fatalf("expected finalized error, got %v", err)
	}
	if len(gateway.revisions) != 0 {
		t.Fatalf("no revision may be registered against a final proof")
	}
}

func TestProofServiceReviewConflictOnSettledProof(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		Status:     domain.OrderStatusProofApproved,
	}}

	svc := newTestProofService(t, ProofServiceDeps{
		Proofs: &stubProofRepo{
			findFn: func(_ context.Context, proofID string) (domain.Proof, error) {
				return domain.Proof{
					ID:      proofID,
					OrderID: "ord_1",
					Status:  domain.ProofStatusApproved,
				}, nil
			},
		},
		Orders: gateway,
	})

	_, err := svc.ReviewProof(context.Background(), ReviewProofCommand{
		ProofID:  "prf_1",
		Actor:    Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		Decision: ProofDecisionApprove,
	})
	if !errors.Is(err, ErrProofConflict) {
		t.Fatalf("expected conflict for settled proof, got %v", err)
	}
}

func TestProofServiceReviewLosesRaceToConcurrentReviewer(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		Status:     domain.OrderStatusProofSubmitted,
	}}

	// Both reviewers read the proof while it was still pending. The checked
	// update lets only the first decision through.
	decided := false
	svc := newTestProofService(t, ProofServiceDeps{
		Proofs: &stubProofRepo{
			findFn: func(_ context.Context, proofID string) (domain.Proof, error) {
				return domain.Proof{
					ID:      proofID,
					OrderID: "ord_1",
					Status:  domain.ProofStatusPendingReview,
				}, nil
			},
			updateFn: func(_ context.Context, _ domain.Proof, expected domain.ProofStatus) error {
				if expected != domain.ProofStatusPendingReview {
					t.Errorf("update must require pending_review, got %s", expected)
				}
				if decided {
					return stubRepoError{conflict: true}
				}
				decided = true
				return nil
			},
		},
		Orders: gateway,
	})

	if _, err := svc.ReviewProof(context.Background(), ReviewProofCommand{
		ProofID:  "prf_1",
		Actor:    Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		Decision: ProofDecisionApprove,
	}); err != nil {
		t.Fatalf("first review must win: %v", err)
	}

	_, err := svc.ReviewProof(context.Background(), ReviewProofCommand{
		ProofID:  "prf_1",
		Actor:    Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		Decision: ProofDecisionRequestRevision,
	})
	if !errors.Is(err, ErrProofConflict) {
		t.Fatalf("losing reviewer must see a conflict, got %v", err)
	}

	if len(gateway.transitions) != 2 {
		t.Fatalf("only the winning approval may move the order, got %+v", gateway.transitions)
	}
	if len(gateway.revisions) != 0 {
		t.Fatalf("losing revision request must not touch the order, got %+v", gateway.revisions)
	}
}

func TestProofServiceReviewRejectsProvider(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		ProviderID: "usr_prov",
		Status:     domain.OrderStatusProofSubmitted,
	}}

	svc := newTestProofService(t, ProofServiceDeps{
		Proofs: &stubProofRepo{
			findFn: func(_ context.Context, proofID string) (domain.Proof, error) {
				return domain.Proof{ID: proofID, OrderID: "ord_1", Status: domain.ProofStatusPendingReview}, nil
			},
		},
		Orders: gateway,
	})

	_, err := svc.ReviewProof(context.Background(), ReviewProofCommand{
		ProofID:  "prf_1",
		Actor:    Actor{ID: "usr_prov", Role: ActorRoleProvider},
		Decision: ProofDecisionApprove,
	})
	if !errors.Is(err, ErrProofNotFound) {
		t.Fatalf("expected not found for provider review, got %v", err)
	}
}

func TestProofServiceAddCommentSanitizesText(t *testing.T) {
	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		Status:     domain.OrderStatusProofSubmitted,
	}}
	var inserted domain.ProofComment

	svc := newTestProofService(t, ProofServiceDeps{
		Proofs: &stubProofRepo{
			findFn: func(_ context.Context, proofID string) (domain.Proof, error) {
				return domain.Proof{ID: proofID, OrderID: "ord_1", Status: domain.ProofStatusPendingReview}, nil
			},
		},
		Comments: &stubProofCommentRepo{
			insertFn: func(_ context.Context, comment domain.ProofComment) error {
				inserted = comment
				return nil
			},
		},
		Orders: gateway,
	})

	comment, err := svc.AddComment(context.Background(), AddProofCommentCommand{
		ProofID: "prf_1",
		Actor:   Actor{ID: "usr_cust", Role: ActorRoleCustomer},
		Text:    "smaller <script>alert(1)</script> border please",
		Anchor:  &domain.ProofCommentAnchor{X: 0.25, Y: 0.75},
	})
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}

	if comment.Text != "smaller  border please" {
		t.Fatalf("markup not stripped: %q", comment.Text)
	}
	if inserted.Anchor == nil || inserted.Anchor.X != 0.25 {
		t.Fatalf("anchor not persisted: %+v", inserted.Anchor)
	}
}

func TestProofServiceResolveCommentIsIdempotent(t *testing.T) {
	resolvedAt := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	resolver := "usr_prov"
	updates := 0

	gateway := &stubOrderGateway{order: domain.ProductionOrder{
		ID:         "ord_1",
		CustomerID: "usr_cust",
		Status:     domain.OrderStatusProofSubmitted,
	}}

	svc := newTestProofService(t, ProofServiceDeps{
		Proofs: &stubProofRepo{
			findFn: func(_ context.Context, proofID string) (domain.Proof, error) {
				return domain.Proof{ID: proofID, OrderID: "ord_1"}, nil
			},
		},
		Comments: &stubProofCommentRepo{
			findFn: func(_ context.Context, proofID, commentID string) (domain.ProofComment, error) {
				return domain.ProofComment{
					ID:         commentID,
					ProofID:    proofID,
					Resolved:   true,
					ResolvedAt: &resolvedAt,
					ResolvedBy: &resolver,
				}, nil
			},
			updateFn: func(context.Context, domain.ProofComment) error {
				updates++
				return nil
			},
		},
		Orders: gateway,
	})

	comment, err := svc.ResolveComment(context.Background(), ResolveProofCommentCommand{
		ProofID:   "prf_1",
		CommentID: "pfc_1",
		Actor:     Actor{ID: "usr_cust", Role: ActorRoleCustomer},
	})
	if err != nil {
		t.Fatalf("resolve comment: %v", err)
	}
	if updates != 0 {
		t.Fatalf("already resolved comment must not be rewritten")
	}
	if comment.ResolvedBy == nil || *comment.ResolvedBy != "usr_prov" {
		t.Fatalf("original resolver must be preserved: %+v", comment)
	}
}
