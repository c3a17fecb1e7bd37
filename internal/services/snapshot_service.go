package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/craftyard/api/internal/domain"
	"github.com/craftyard/api/internal/repositories"
)

const (
	snapshotEventCreated     = "personalization.snapshot_created"
	snapshotEventTransferred = "personalization.snapshot_transferred"
	snapshotEventLocked      = "personalization.locked"

	snapshotIDPrefix = "snp_"
	setupIDPrefix    = "set_"
)

var (
	// ErrSnapshotInvalidInput signals the caller provided invalid request data.
	ErrSnapshotInvalidInput = errors.New("snapshot: invalid input")
	// ErrSnapshotNotFound indicates the snapshot or setup could not be located.
	ErrSnapshotNotFound = errors.New("snapshot: not found")
	// ErrSnapshotConflict indicates a concurrent writer won.
	ErrSnapshotConflict = errors.New("snapshot: conflict")
	// ErrNoPersonalizationToSnapshot indicates the cart line carries no
	// submissions to freeze.
	ErrNoPersonalizationToSnapshot = errors.New("snapshot: no personalization to snapshot")
)

// SnapshotEventPublisher delivers snapshot domain events to interested consumers.
type SnapshotEventPublisher interface {
	PublishSnapshotEvent(ctx context.Context, event SnapshotEvent) error
}

// SnapshotEvent captures metadata for emitted snapshot domain events.
type SnapshotEvent struct {
	Type              string
	SnapshotID        string
	CartLineID        string
	OrderID           string
	ProductionOrderID string
	LockedCount       int
	OccurredAt        time.Time
}

// SnapshotImageFreezer copies a customer-uploaded image into snapshot-scoped
// storage so later edits or deletions of the upload cannot alter the frozen
// record. Returns the frozen ref.
type SnapshotImageFreezer interface {
	FreezeImage(ctx context.Context, sourceRef string, snapshotID string) (string, error)
}

// SnapshotServiceDeps bundles collaborators for the snapshot service.
type SnapshotServiceDeps struct {
	Snapshots   repositories.SnapshotRepository
	Submissions repositories.SubmissionRepository
	Configs     repositories.PersonalizationConfigRepository
	Setups      repositories.ReusableSetupRepository
	Orders      repositories.OrderRepository
	UnitOfWork  repositories.UnitOfWork
	Freezer     SnapshotImageFreezer
	Clock       func() time.Time
	IDGenerator func() string
	Events      SnapshotEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type snapshotService struct {
	snapshots   repositories.SnapshotRepository
	submissions repositories.SubmissionRepository
	configs     repositories.PersonalizationConfigRepository
	setups      repositories.ReusableSetupRepository
	orders      repositories.OrderRepository
	unitOfWork  repositories.UnitOfWork
	freezer     SnapshotImageFreezer
	clock       func() time.Time
	newID       func() string
	events      SnapshotEventPublisher
	logger      func(context.Context, string, map[string]any)
}

// NewSnapshotService wires dependencies into a concrete SnapshotService.
func NewSnapshotService(deps SnapshotServiceDeps) (SnapshotService, error) {
	if deps.Snapshots == nil {
		return nil, errors.New("snapshot service: snapshot repository is required")
	}
	if deps.Submissions == nil {
		return nil, errors.New("snapshot service: submission repository is required")
	}
	if deps.Configs == nil {
		return nil, errors.New("snapshot service: config repository is required")
	}
	if deps.Setups == nil {
		return nil, errors.New("snapshot service: reusable setup repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("snapshot service: order repository is required")
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

	unitOfWork := deps.UnitOfWork
	if unitOfWork == nil {
		unitOfWork = noopUnitOfWork{}
	}

	return &snapshotService{
		snapshots:   deps.Snapshots,
		submissions: deps.Submissions,
		configs:     deps.Configs,
		setups:      deps.Setups,
		orders:      deps.Orders,
		unitOfWork:  unitOfWork,
		freezer:     deps.Freezer,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// CreateSnapshot freezes the cart line's current unlocked submissions
// together with the configs they were validated against. At most one snapshot
// exists per cart line: a conflicting insert yields the concurrent winner's
// snapshot.
func (s *snapshotService) CreateSnapshot(ctx context.Context, cmd CreateSnapshotCommand) (PersonalizationSnapshot, error) {
	cartLineID := strings.TrimSpace(cmd.CartLineID)
	if cartLineID == "" {
		return PersonalizationSnapshot{}, fmt.Errorf("%w: cart line id is required", ErrSnapshotInvalidInput)
	}
	if cmd.Actor.Role == ActorRoleCustomer && cmd.Actor.ID != strings.TrimSpace(cmd.CustomerID) {
		return PersonalizationSnapshot{}, fmt.Errorf("%w: cart line %s", ErrSnapshotNotFound, cartLineID)
	}

	if existing, err := s.snapshots.FindByCartLine(ctx, cartLineID); err == nil {
		return existing, nil
	} else if mapped := s.mapRepositoryError(err); !errors.Is(mapped, ErrSnapshotNotFound) {
		return PersonalizationSnapshot{}, mapped
	}

	submissions, err := s.submissions.ListByCartLine(ctx, cartLineID)
	if err != nil {
		return PersonalizationSnapshot{}, s.mapRepositoryError(err)
	}
	// Only current, unlocked submissions feed the snapshot. Locked ones
	// already belong to an earlier snapshot or a running order.
	current := make([]PersonalizationSubmission, 0, len(submissions))
	for _, submission := range submissions {
		if submission.IsLocked {
			continue
		}
		current = append(current, submission)
	}

	listingID := strings.TrimSpace(cmd.ListingID)
	if listingID == "" && len(submissions) > 0 {
		listingID = submissions[0].ListingID
	}
	if listingID == "" {
		return PersonalizationSnapshot{}, fmt.Errorf("%w: cart line %s has no submissions and no listing id", ErrSnapshotInvalidInput, cartLineID)
	}
	configs, err := s.configs.ListByListing(ctx, listingID, true)
	if err != nil {
		return PersonalizationSnapshot{}, s.mapRepositoryError(err)
	}
	requiredDeclared := false
	configByID := make(map[string]PersonalizationConfig, len(configs))
	for _, config := range configs {
		configByID[config.ID] = config
		if config.Required {
			requiredDeclared = true
		}
	}

	if len(current) == 0 {
		if requiredDeclared {
			return PersonalizationSnapshot{}, fmt.Errorf("%w: cart line %s", ErrNoPersonalizationToSnapshot, cartLineID)
		}
		return PersonalizationSnapshot{}, fmt.Errorf("%w: cart line %s has nothing to snapshot", ErrSnapshotInvalidInput, cartLineID)
	}

	submissionByConfig := make(map[string]PersonalizationSubmission, len(current))
	for _, submission := range current {
		submissionByConfig[submission.ConfigID] = submission
	}
	for _, config := range configs {
		if config.Required {
			if _, ok := submissionByConfig[config.ID]; !ok {
				return PersonalizationSnapshot{}, fmt.Errorf("%w: required personalization %s has no submission", ErrSnapshotInvalidInput, config.ID)
			}
		}
	}

	now := s.now()
	snapshot := PersonalizationSnapshot{
		ID:         snapshotIDPrefix + s.newID(),
		CartLineID: cartLineID,
		CustomerID: strings.TrimSpace(cmd.CustomerID),
		ListingID:  listingID,
		ProviderID: strings.TrimSpace(cmd.ProviderID),
		CreatedAt:  now,
	}

	for _, submission := range current {
		config, ok := configByID[submission.ConfigID]
		if !ok {
			// Config was disabled or removed after the submission was made.
			s.logger(ctx, "snapshot.orphaned_submission_skipped", map[string]any{
				"submission_id": submission.ID,
				"config_id":     submission.ConfigID,
			})
			continue
		}

		value := submission.Value
		value.ImageRefs = s.freezeImages(ctx, snapshot.ID, value.ImageRefs)

		impact := ComputePriceImpact(config, value, len(value.ImageRefs))
		snapshot.Entries = append(snapshot.Entries, SnapshotEntry{
			SubmissionID: submission.ID,
			Config:       config,
			Value:        value,
			PriceImpact:  impact,
		})
		snapshot.ImageRefs = append(snapshot.ImageRefs, value.ImageRefs...)
		snapshot.TotalPriceImpact += impact.Amount
		if snapshot.Currency == "" {
			snapshot.Currency = impact.Currency
		}
	}
	if len(snapshot.Entries) == 0 {
		return PersonalizationSnapshot{}, fmt.Errorf("%w: cart line %s has nothing to snapshot", ErrSnapshotInvalidInput, cartLineID)
	}

	if err := s.snapshots.Insert(ctx, snapshot); err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrSnapshotConflict) {
			// Concurrent creator won the race. Their snapshot is the
			// canonical one.
			winner, findErr := s.snapshots.FindByCartLine(ctx, cartLineID)
			if findErr != nil {
				return PersonalizationSnapshot{}, s.mapRepositoryError(findErr)
			}
			return winner, nil
		}
		return PersonalizationSnapshot{}, mapped
	}

	locked := 0
	for _, entry := range snapshot.Entries {
		if err := s.submissions.Lock(ctx, entry.SubmissionID, domain.LockReasonSnapshotCreated, now); err != nil {
			s.logger(ctx, "snapshot.lock_submission_failed", map[string]any{
				"snapshot_id":   snapshot.ID,
				"submission_id": entry.SubmissionID,
				"error":         err.Error(),
			})
			continue
		}
		locked++
	}

	s.publishEvent(ctx, SnapshotEvent{
		Type:        snapshotEventCreated,
		SnapshotID:  snapshot.ID,
		CartLineID:  cartLineID,
		LockedCount: locked,
		OccurredAt:  now,
	})

	return snapshot, nil
}

// TransferToOrder links the cart line's snapshot to the production order
// created from it and finalizes the snapshot. Safe to retry: a snapshot
// already linked to the same order is returned unchanged.
func (s *snapshotService) TransferToOrder(ctx context.Context, cmd TransferSnapshotCommand) (PersonalizationSnapshot, error) {
	cartLineID := strings.TrimSpace(cmd.CartLineID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if cartLineID == "" {
		return PersonalizationSnapshot{}, fmt.Errorf("%w: cart line id is required", ErrSnapshotInvalidInput)
	}
	if orderID == "" {
		return PersonalizationSnapshot{}, fmt.Errorf("%w: order id is required", ErrSnapshotInvalidInput)
	}

	snapshot, err := s.snapshots.FindByCartLine(ctx, cartLineID)
	if err != nil {
		return PersonalizationSnapshot{}, s.mapRepositoryError(err)
	}
	if snapshot.OrderID != nil {
		if *snapshot.OrderID == orderID {
			return snapshot, nil
		}
		return PersonalizationSnapshot{}, fmt.Errorf("%w: snapshot %s already linked to order %s", ErrSnapshotConflict, snapshot.ID, *snapshot.OrderID)
	}

	now := s.now()
	update := repositories.SnapshotLinkageUpdate{
		OrderID:     &orderID,
		FinalizedAt: &now,
	}
	if cmd.ProductionOrderID != nil && strings.TrimSpace(*cmd.ProductionOrderID) != "" {
		update.ProductionOrderID = cmd.ProductionOrderID
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		updated, err := s.snapshots.UpdateLinkage(txCtx, snapshot.ID, update)
		if err != nil {
			return err
		}
		snapshot = updated

		if update.ProductionOrderID == nil {
			return nil
		}
		return s.orders.AttachSnapshot(txCtx, *update.ProductionOrderID, snapshot.ID, now)
	})
	if err != nil {
		return PersonalizationSnapshot{}, s.mapRepositoryError(err)
	}

	event := SnapshotEvent{
		Type:       snapshotEventTransferred,
		SnapshotID: snapshot.ID,
		CartLineID: cartLineID,
		OrderID:    orderID,
		OccurredAt: now,
	}
	if update.ProductionOrderID != nil {
		event.ProductionOrderID = *update.ProductionOrderID
	}
	s.publishEvent(ctx, event)

	return snapshot, nil
}

// LockForOrder freezes every submission referenced by the order's snapshot.
// Idempotent: already locked submissions are skipped and an order without a
// snapshot locks nothing.
func (s *snapshotService) LockForOrder(ctx context.Context, productionOrderID string, reason LockReason) (int, error) {
	productionOrderID = strings.TrimSpace(productionOrderID)
	if productionOrderID == "" {
		return 0, fmt.Errorf("%w: production order id is required", ErrSnapshotInvalidInput)
	}

	snapshot, err := s.snapshots.FindByProductionOrder(ctx, productionOrderID)
	if err != nil {
		if mapped := s.mapRepositoryError(err); errors.Is(mapped, ErrSnapshotNotFound) {
			return 0, nil
		}
		return 0, s.mapRepositoryError(err)
	}

	now := s.now()
	locked := 0
	for _, entry := range snapshot.Entries {
		submission, err := s.submissions.FindByID(ctx, entry.SubmissionID)
		if err != nil {
			if mapped := s.mapRepositoryError(err); errors.Is(mapped, ErrSnapshotNotFound) {
				continue
			}
			return locked, s.mapRepositoryError(err)
		}
		if submission.IsLocked {
			continue
		}
		if err := s.submissions.Lock(ctx, submission.ID, reason, now); err != nil {
			return locked, s.mapRepositoryError(err)
		}
		locked++
	}

	if locked > 0 {
		s.publishEvent(ctx, SnapshotEvent{
			Type:              snapshotEventLocked,
			SnapshotID:        snapshot.ID,
			ProductionOrderID: productionOrderID,
			LockedCount:       locked,
			OccurredAt:        now,
		})
	}

	return locked, nil
}

func (s *snapshotService) GetByProductionOrder(ctx context.Context, productionOrderID string, actor Actor) (PersonalizationSnapshot, error) {
	productionOrderID = strings.TrimSpace(productionOrderID)
	if productionOrderID == "" {
		return PersonalizationSnapshot{}, fmt.Errorf("%w: production order id is required", ErrSnapshotInvalidInput)
	}

	snapshot, err := s.snapshots.FindByProductionOrder(ctx, productionOrderID)
	if err != nil {
		return PersonalizationSnapshot{}, s.mapRepositoryError(err)
	}
	if err := s.authorizeSnapshotActor(snapshot, actor); err != nil {
		return PersonalizationSnapshot{}, err
	}
	return snapshot, nil
}

// PersonalizationForProof projects the frozen snapshot into the provider's
// proofing view so proofs are always drawn against locked data.
func (s *snapshotService) PersonalizationForProof(ctx context.Context, productionOrderID string, actor Actor) (ProofPersonalizationView, error) {
	snapshot, err := s.GetByProductionOrder(ctx, productionOrderID, actor)
	if err != nil {
		return ProofPersonalizationView{}, err
	}

	return ProofPersonalizationView{
		ProductionOrderID: productionOrderID,
		SnapshotID:        snapshot.ID,
		FinalizedAt:       snapshot.FinalizedAt,
		Entries:           snapshot.Entries,
		ImageRefs:         cloneStrings(snapshot.ImageRefs),
		TotalPriceImpact:  snapshot.TotalPriceImpact,
		Currency:          snapshot.Currency,
	}, nil
}

func (s *snapshotService) SaveReusableSetup(ctx context.Context, cmd SaveReusableSetupCommand) (ReusableSetup, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	snapshotID := strings.TrimSpace(cmd.SnapshotID)
	name := strings.TrimSpace(cmd.Name)
	if customerID == "" {
		return ReusableSetup{}, fmt.Errorf("%w: customer id is required", ErrSnapshotInvalidInput)
	}
	if snapshotID == "" {
		return ReusableSetup{}, fmt.Errorf("%w: snapshot id is required", ErrSnapshotInvalidInput)
	}
	if name == "" {
		return ReusableSetup{}, fmt.Errorf("%w: setup name is required", ErrSnapshotInvalidInput)
	}
	if cmd.Actor.Role != ActorRoleStaff && cmd.Actor.ID != customerID {
		return ReusableSetup{}, fmt.Errorf("%w: snapshot %s", ErrSnapshotNotFound, snapshotID)
	}

	snapshot, err := s.snapshots.FindByID(ctx, snapshotID)
	if err != nil {
		return ReusableSetup{}, s.mapRepositoryError(err)
	}
	if snapshot.CustomerID != customerID {
		return ReusableSetup{}, fmt.Errorf("%w: snapshot %s", ErrSnapshotNotFound, snapshotID)
	}

	now := s.now()
	setup := ReusableSetup{
		ID:         setupIDPrefix + s.newID(),
		CustomerID: customerID,
		Name:       name,
		ListingID:  snapshot.ListingID,
		Entries:    snapshot.Entries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.setups.Insert(ctx, setup); err != nil {
		return ReusableSetup{}, s.mapRepositoryError(err)
	}
	return setup, nil
}

// ApplyReusableSetup prefills a new cart line from a saved setup. Values are
// revalidated against the current configs; entries whose config is gone or
// whose value no longer passes are skipped rather than blocking the rest.
func (s *snapshotService) ApplyReusableSetup(ctx context.Context, cmd ApplyReusableSetupCommand) ([]PersonalizationSubmission, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	setupID := strings.TrimSpace(cmd.SetupID)
	cartLineID := strings.TrimSpace(cmd.CartLineID)
	if customerID == "" || setupID == "" || cartLineID == "" {
		return nil, fmt.Errorf("%w: customer id, setup id and cart line id are required", ErrSnapshotInvalidInput)
	}
	if cmd.Actor.Role != ActorRoleStaff && cmd.Actor.ID != customerID {
		return nil, fmt.Errorf("%w: setup %s", ErrSnapshotNotFound, setupID)
	}

	setup, err := s.setups.FindByID(ctx, customerID, setupID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	now := s.now()
	created := make([]PersonalizationSubmission, 0, len(setup.Entries))
	for _, entry := range setup.Entries {
		config, err := s.configs.FindByID(ctx, entry.Config.ID)
		if err != nil || !config.Enabled {
			s.logger(ctx, "setup.entry_skipped", map[string]any{
				"setup_id":  setupID,
				"config_id": entry.Config.ID,
			})
			continue
		}
		if violations := ValidateSubmissionValue(config, entry.Value); len(violations) > 0 {
			s.logger(ctx, "setup.entry_invalid", map[string]any{
				"setup_id":   setupID,
				"config_id":  config.ID,
				"violations": len(violations),
			})
			continue
		}

		submission := PersonalizationSubmission{
			ID:               submissionIDPrefix + s.newID(),
			ConfigID:         config.ID,
			CustomerID:       customerID,
			ListingID:        strings.TrimSpace(cmd.ListingID),
			CartLineID:       cartLineID,
			Value:            entry.Value,
			PriceImpact:      ComputePriceImpact(config, entry.Value, len(entry.Value.ImageRefs)),
			ValidationStatus: domain.ValidationStatusValid,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		saved, err := s.submissions.Upsert(ctx, submission)
		if err != nil {
			return created, s.mapRepositoryError(err)
		}
		created = append(created, saved)
	}

	return created, nil
}

func (s *snapshotService) ListReusableSetups(ctx context.Context, customerID string, pager Pagination) (domain.CursorPage[ReusableSetup], error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CursorPage[ReusableSetup]{}, fmt.Errorf("%w: customer id is required", ErrSnapshotInvalidInput)
	}
	page, err := s.setups.ListByCustomer(ctx, customerID, pager)
	if err != nil {
		return domain.CursorPage[ReusableSetup]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *snapshotService) DeleteReusableSetup(ctx context.Context, customerID string, setupID string) error {
	customerID = strings.TrimSpace(customerID)
	setupID = strings.TrimSpace(setupID)
	if customerID == "" || setupID == "" {
		return fmt.Errorf("%w: customer id and setup id are required", ErrSnapshotInvalidInput)
	}
	return s.mapRepositoryError(s.setups.Delete(ctx, customerID, setupID))
}

func (s *snapshotService) freezeImages(ctx context.Context, snapshotID string, refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	if s.freezer == nil {
		return cloneStrings(refs)
	}

	frozen := make([]string, 0, len(refs))
	for _, ref := range refs {
		copied, err := s.freezer.FreezeImage(ctx, ref, snapshotID)
		if err != nil {
			// Keep the original ref rather than failing the snapshot; the
			// upload bucket retains objects referenced by snapshots.
			s.logger(ctx, "snapshot.image_freeze_failed", map[string]any{
				"snapshot_id": snapshotID,
				"ref":         ref,
				"error":       err.Error(),
			})
			frozen = append(frozen, ref)
			continue
		}
		frozen = append(frozen, copied)
	}
	return frozen
}

func (s *snapshotService) authorizeSnapshotActor(snapshot PersonalizationSnapshot, actor Actor) error {
	switch actor.Role {
	case ActorRoleStaff, ActorRoleSystem:
		return nil
	}
	if actor.ID != "" && (actor.ID == snapshot.CustomerID || actor.ID == snapshot.ProviderID) {
		return nil
	}
	return fmt.Errorf("%w: snapshot %s", ErrSnapshotNotFound, snapshot.ID)
}

func (s *snapshotService) publishEvent(ctx context.Context, event SnapshotEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSnapshotEvent(ctx, event); err != nil {
		s.logger(ctx, "snapshot.event_publish_failed", map[string]any{
			"event":       event.Type,
			"snapshot_id": event.SnapshotID,
			"error":       err.Error(),
		})
	}
}

func (s *snapshotService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrSnapshotNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrSnapshotConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("snapshot: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *snapshotService) now() time.Time {
	return s.clock()
}
