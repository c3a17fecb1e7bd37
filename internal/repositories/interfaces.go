package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/craftyard/api/internal/domain"
)

// ErrSubmissionLocked rejects writes against a personalization submission
// that has been frozen by a snapshot or an order.
var ErrSubmissionLocked = errors.New("personalization submission is locked")

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Timeline() OrderTimelineRepository
	Consultations() ConsultationRepository
	Proofs() ProofRepository
	ProofComments() ProofCommentRepository
	PersonalizationConfigs() PersonalizationConfigRepository
	Submissions() SubmissionRepository
	Snapshots() SnapshotRepository
	ReusableSetups() ReusableSetupRepository
	Bookings() BookingRepository
	Assets() AssetRepository
	Catalog() CatalogRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists production order documents.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.ProductionOrder) error
	// Transition persists the order only while the stored status still
	// matches expected, appending the timeline event (when non-nil) in the
	// same atomic write. A stale expected status reports a conflict.
	Transition(ctx context.Context, order domain.ProductionOrder, expected domain.OrderStatus, event *domain.OrderTimelineEvent) error
	// AttachSnapshot links a personalization snapshot to the order without
	// touching any other field.
	AttachSnapshot(ctx context.Context, orderID, snapshotID string, updatedAt time.Time) error
	FindByID(ctx context.Context, orderID string) (domain.ProductionOrder, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.ProductionOrder], error)
	CountActiveByProvider(ctx context.Context, providerID string) (int, error)
	ListOverdue(ctx context.Context, asOf time.Time, limit int) ([]domain.ProductionOrder, error)
}

// OrderTimelineRepository stores append-only status change events per order.
type OrderTimelineRepository interface {
	Append(ctx context.Context, event domain.OrderTimelineEvent) error
	List(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderTimelineEvent], error)
}

// ConsultationRepository persists consultation sessions.
type ConsultationRepository interface {
	Insert(ctx context.Context, session domain.ConsultationSession) error
	Update(ctx context.Context, session domain.ConsultationSession) error
	FindByID(ctx context.Context, sessionID string) (domain.ConsultationSession, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.ConsultationSession, error)
}

// ProofRepository persists proofs and their immutable version history.
type ProofRepository interface {
	Insert(ctx context.Context, proof domain.Proof) error
	// Update persists the proof only while the stored status still matches
	// expected, so two reviewers can never both settle the same proof.
	Update(ctx context.Context, proof domain.Proof, expected domain.ProofStatus) error
	FindByID(ctx context.Context, proofID string) (domain.Proof, error)
	FindPendingByOrder(ctx context.Context, orderID string) (domain.Proof, error)
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Proof], error)
	MaxVersionNumber(ctx context.Context, orderID string) (int, error)
	AppendVersion(ctx context.Context, version domain.ProofVersion) error
	ListVersions(ctx context.Context, orderID string) ([]domain.ProofVersion, error)
}

// ProofCommentRepository stores threaded feedback items attached to a proof.
type ProofCommentRepository interface {
	Insert(ctx context.Context, comment domain.ProofComment) error
	Update(ctx context.Context, comment domain.ProofComment) error
	FindByID(ctx context.Context, proofID string, commentID string) (domain.ProofComment, error)
	ListByProof(ctx context.Context, proofID string, pager domain.Pagination) (domain.CursorPage[domain.ProofComment], error)
}

// PersonalizationConfigRepository stores provider-authored personalization declarations.
type PersonalizationConfigRepository interface {
	Upsert(ctx context.Context, config domain.PersonalizationConfig) (domain.PersonalizationConfig, error)
	FindByID(ctx context.Context, configID string) (domain.PersonalizationConfig, error)
	ListByListing(ctx context.Context, listingID string, onlyEnabled bool) ([]domain.PersonalizationConfig, error)
	Delete(ctx context.Context, configID string) error
}

// SubmissionRepository stores customer personalization inputs. Upsert fails
// with ErrSubmissionLocked when the stored submission has been frozen.
type SubmissionRepository interface {
	Upsert(ctx context.Context, submission domain.PersonalizationSubmission) (domain.PersonalizationSubmission, error)
	FindByID(ctx context.Context, submissionID string) (domain.PersonalizationSubmission, error)
	ListByCartLine(ctx context.Context, cartLineID string) ([]domain.PersonalizationSubmission, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PersonalizationSubmission, error)
	Lock(ctx context.Context, submissionID string, reason domain.LockReason, lockedAt time.Time) error
}

// SnapshotRepository stores immutable personalization snapshots. Insert must
// fail with a conflict when a snapshot already exists for the cart line.
type SnapshotRepository interface {
	Insert(ctx context.Context, snapshot domain.PersonalizationSnapshot) error
	FindByID(ctx context.Context, snapshotID string) (domain.PersonalizationSnapshot, error)
	FindByCartLine(ctx context.Context, cartLineID string) (domain.PersonalizationSnapshot, error)
	FindByProductionOrder(ctx context.Context, productionOrderID string) (domain.PersonalizationSnapshot, error)
	UpdateLinkage(ctx context.Context, snapshotID string, update SnapshotLinkageUpdate) (domain.PersonalizationSnapshot, error)
}

// SnapshotLinkageUpdate carries the only mutable fields of a snapshot.
type SnapshotLinkageUpdate struct {
	OrderID           *string
	ProductionOrderID *string
	FinalizedAt       *time.Time
}

// ReusableSetupRepository stores customer-named personalization presets.
type ReusableSetupRepository interface {
	Insert(ctx context.Context, setup domain.ReusableSetup) error
	FindByID(ctx context.Context, customerID string, setupID string) (domain.ReusableSetup, error)
	ListByCustomer(ctx context.Context, customerID string, pager domain.Pagination) (domain.CursorPage[domain.ReusableSetup], error)
	Delete(ctx context.Context, customerID string, setupID string) error
}

// BookingRepository stores native and synthesized booking records.
type BookingRepository interface {
	Insert(ctx context.Context, booking domain.Booking) error
	FindByOrder(ctx context.Context, orderID string) (domain.Booking, error)
}

// AssetRepository issues signed upload and download URLs and tracks the
// backing asset documents.
type AssetRepository interface {
	CreateSignedUpload(ctx context.Context, record SignedUploadRecord) (domain.SignedAssetResponse, error)
	CreateSignedDownload(ctx context.Context, record SignedDownloadRecord) (domain.SignedAssetResponse, error)
}

// SignedUploadRecord carries validated upload parameters to the asset repository.
type SignedUploadRecord struct {
	ActorID     string
	OrderID     *string
	Kind        string
	Purpose     string
	FileName    string
	ContentType string
	SizeBytes   int64
}

// SignedDownloadRecord identifies the asset a download URL is requested for.
type SignedDownloadRecord struct {
	ActorID string
	AssetID string
}

// CatalogRepository resolves listing and product-type metadata mirrored from
// the catalog service. Read-only from this subsystem's perspective.
type CatalogRepository interface {
	GetProductType(ctx context.Context, productTypeID string) (domain.ProductTypeInfo, error)
	ResolveListingProductType(ctx context.Context, listingID string) (string, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	CustomerID string
	ProviderID string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
