package services

import (
	"context"
	"time"

	domain "github.com/craftyard/api/internal/domain"
	"github.com/craftyard/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination                = domain.Pagination
	SortOrder                 = domain.SortOrder
	ProductionOrder           = domain.ProductionOrder
	OrderStatus               = domain.OrderStatus
	OrderPricing              = domain.OrderPricing
	OrderDelivery             = domain.OrderDelivery
	OrderFlags                = domain.OrderFlags
	OrderTimestamps           = domain.OrderTimestamps
	OrderTimelineEvent        = domain.OrderTimelineEvent
	ConsultationSession       = domain.ConsultationSession
	ConsultationChannel       = domain.ConsultationChannel
	ConsultationStatus        = domain.ConsultationStatus
	Proof                     = domain.Proof
	ProofStatus               = domain.ProofStatus
	ProofVersion              = domain.ProofVersion
	ProofComment              = domain.ProofComment
	ProofCommentAnchor        = domain.ProofCommentAnchor
	Booking                   = domain.Booking
	Address                   = domain.Address
	ProductTypeInfo           = domain.ProductTypeInfo
	PersonalizationConfig     = domain.PersonalizationConfig
	PersonalizationKind       = domain.PersonalizationKind
	PersonalizationSubmission = domain.PersonalizationSubmission
	PersonalizationSnapshot   = domain.PersonalizationSnapshot
	SubmissionValue           = domain.SubmissionValue
	SnapshotEntry             = domain.SnapshotEntry
	ReusableSetup             = domain.ReusableSetup
	LockReason                = domain.LockReason
	LockStage                 = domain.LockStage
	PriceImpact               = domain.PriceImpact
	PriceImpactBreakdown      = domain.PriceImpactBreakdown
	ConstraintViolation       = domain.ConstraintViolation
	SystemHealthReport        = domain.SystemHealthReport
	AuditLogEntry             = domain.AuditLogEntry
	SignedAssetResponse       = domain.SignedAssetResponse
)

// Actor identifies the authenticated principal performing an operation.
type Actor struct {
	ID   string
	Role string
}

// Actor roles accepted by ownership guards.
const (
	ActorRoleCustomer = "customer"
	ActorRoleProvider = "provider"
	ActorRoleStaff    = "staff"
	ActorRoleSystem   = "system"
)

// OrderService owns the production order state machine: creation, status
// transitions, timeline, progress, and overdue computation.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (ProductionOrder, error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (ProductionOrder, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[ProductionOrder], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (ProductionOrder, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (ProductionOrder, error)
	RegisterRevision(ctx context.Context, cmd RegisterRevisionCommand) (ProductionOrder, error)
	ListTimeline(ctx context.Context, orderID string, actor Actor, pager Pagination) (domain.CursorPage[OrderTimelineEvent], error)
	ComputeProgress(status OrderStatus) int
	IsOverdue(order ProductionOrder, now time.Time) bool
	MarkOverdueOrders(ctx context.Context, limit int) (int, error)
}

// ProofService manages proof versions, the approve/reject feedback loop, and
// threaded comments.
type ProofService interface {
	SubmitProof(ctx context.Context, cmd SubmitProofCommand) (Proof, error)
	ReviewProof(ctx context.Context, cmd ReviewProofCommand) (Proof, error)
	GetProof(ctx context.Context, proofID string, actor Actor) (Proof, error)
	ListProofs(ctx context.Context, orderID string, actor Actor, pager Pagination) (domain.CursorPage[Proof], error)
	ListVersions(ctx context.Context, orderID string, actor Actor) ([]ProofVersion, error)
	AddComment(ctx context.Context, cmd AddProofCommentCommand) (ProofComment, error)
	ResolveComment(ctx context.Context, cmd ResolveProofCommentCommand) (ProofComment, error)
	ListComments(ctx context.Context, proofID string, actor Actor, pager Pagination) (domain.CursorPage[ProofComment], error)
}

// ConsultationService books and tracks pre-design consultation sessions.
type ConsultationService interface {
	Schedule(ctx context.Context, cmd ScheduleConsultationCommand) (ConsultationSession, error)
	Complete(ctx context.Context, cmd CompleteConsultationCommand) (ConsultationSession, error)
	Cancel(ctx context.Context, cmd CancelConsultationCommand) (ConsultationSession, error)
	MarkNoShow(ctx context.Context, cmd NoShowConsultationCommand) (ConsultationSession, error)
	GetSession(ctx context.Context, sessionID string, actor Actor) (ConsultationSession, error)
	ListByOrder(ctx context.Context, orderID string, actor Actor) ([]ConsultationSession, error)
}

// PersonalizationService covers provider-authored configs and customer
// submissions including validation and price-impact computation.
type PersonalizationService interface {
	UpsertConfig(ctx context.Context, cmd UpsertPersonalizationConfigCommand) (PersonalizationConfig, error)
	GetConfig(ctx context.Context, configID string) (PersonalizationConfig, error)
	ListConfigs(ctx context.Context, listingID string, onlyEnabled bool) ([]PersonalizationConfig, error)
	DeleteConfig(ctx context.Context, cmd DeletePersonalizationConfigCommand) error
	SubmitInput(ctx context.Context, cmd SubmitPersonalizationCommand) (PersonalizationSubmission, error)
	ListSubmissions(ctx context.Context, cartLineID string, actor Actor) ([]PersonalizationSubmission, error)
	PreviewPriceImpact(ctx context.Context, cmd PreviewPriceImpactCommand) (PriceImpactBreakdown, error)
}

// SnapshotService freezes submissions into immutable snapshots at pipeline
// checkpoints, transfers them to orders, and manages reusable setups.
type SnapshotService interface {
	CreateSnapshot(ctx context.Context, cmd CreateSnapshotCommand) (PersonalizationSnapshot, error)
	TransferToOrder(ctx context.Context, cmd TransferSnapshotCommand) (PersonalizationSnapshot, error)
	LockForOrder(ctx context.Context, productionOrderID string, reason LockReason) (int, error)
	GetByProductionOrder(ctx context.Context, productionOrderID string, actor Actor) (PersonalizationSnapshot, error)
	PersonalizationForProof(ctx context.Context, productionOrderID string, actor Actor) (ProofPersonalizationView, error)
	SaveReusableSetup(ctx context.Context, cmd SaveReusableSetupCommand) (ReusableSetup, error)
	ApplyReusableSetup(ctx context.Context, cmd ApplyReusableSetupCommand) ([]PersonalizationSubmission, error)
	ListReusableSetups(ctx context.Context, customerID string, pager Pagination) (domain.CursorPage[ReusableSetup], error)
	DeleteReusableSetup(ctx context.Context, customerID string, setupID string) error
}

// CatalogGateway resolves listing and product-type metadata from the catalog
// collaborator at order-creation time.
type CatalogGateway interface {
	GetProductType(ctx context.Context, productTypeID string) (ProductTypeInfo, error)
	ResolveListingProductType(ctx context.Context, listingID string) (string, error)
}

// EscrowGateway exposes the payment collaborator's final price and escrow
// amount for an order. Consulted only when synthesizing virtual bookings.
type EscrowGateway interface {
	LookupEscrow(ctx context.Context, orderID string) (EscrowInfo, error)
}

// EscrowInfo carries the payment figures attached to a virtual booking.
type EscrowInfo struct {
	FinalPrice   int64
	EscrowAmount int64
	Currency     string
}

// AssetService issues signed URLs for proof image and personalization uploads.
type AssetService interface {
	IssueSignedUpload(ctx context.Context, cmd SignedUploadCommand) (SignedAssetResponse, error)
	IssueSignedDownload(ctx context.Context, cmd SignedDownloadCommand) (SignedAssetResponse, error)
}

// SystemService aggregates utility endpoints (health checks, audit logs, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// CounterService hands out transaction-safe sequence values. Order numbers
// are formatted by the order service on top of the raw sequence.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
}

// CounterGenerationOptions controls increment behaviour and formatting of a
// counter value.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

// CounterValue carries a raw sequence value and its formatted representation.
type CounterValue struct {
	Value     int64
	Formatted string
}

// Command and DTO definitions ------------------------------------------------

type CreateOrderCommand struct {
	CustomerID    string
	ProviderID    string
	ListingID     string
	ProductTypeID string
	Quantity      int
	Specification map[string]any
	Delivery      OrderDelivery
	Rush          bool
	DeadlineDate  *time.Time
	BasePrice     int64
	Currency      string
	Actor         Actor
}

type OrderListFilter = repositories.OrderListFilter

type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	Actor          Actor
	Note           string
	ExpectedStatus *OrderStatus
}

type CancelOrderCommand struct {
	OrderID        string
	Actor          Actor
	Reason         string
	ExpectedStatus *OrderStatus
}

// RegisterRevisionCommand records a revision request against an order,
// applying the overage fee once the included allowance is exhausted.
type RegisterRevisionCommand struct {
	OrderID string
	ProofID string
	Actor   Actor
	Note    string
}

type SubmitProofCommand struct {
	OrderID             string
	Actor               Actor
	Title               string
	Description         string
	ImageRefs           []string
	DesignFileRefs      []string
	EstimatedTurnaround string
	Notes               string
}

// ProofDecision enumerates the review outcomes for a pending proof.
type ProofDecision string

const (
	ProofDecisionApprove         ProofDecision = "approve"
	ProofDecisionReject          ProofDecision = "reject"
	ProofDecisionRequestRevision ProofDecision = "request_revision"
)

type ReviewProofCommand struct {
	ProofID       string
	Actor         Actor
	Decision      ProofDecision
	Feedback      string
	Rating        *int
	ChangeRequest map[string]any
	MarkFinal     bool
}

type AddProofCommentCommand struct {
	ProofID  string
	Actor    Actor
	Text     string
	Anchor   *ProofCommentAnchor
	ParentID *string
}

type ResolveProofCommentCommand struct {
	ProofID   string
	CommentID string
	Actor     Actor
}

type ScheduleConsultationCommand struct {
	OrderID         string
	Actor           Actor
	ScheduledAt     time.Time
	DurationMinutes int
	Channel         ConsultationChannel
}

type CompleteConsultationCommand struct {
	SessionID    string
	Actor        Actor
	SummaryNotes string
	KeyDecisions map[string]any
}

type CancelConsultationCommand struct {
	SessionID string
	Actor     Actor
	Reason    string
}

type NoShowConsultationCommand struct {
	SessionID string
	Actor     Actor
	Note      string
}

type UpsertPersonalizationConfigCommand struct {
	Config PersonalizationConfig
	Actor  Actor
}

type DeletePersonalizationConfigCommand struct {
	ConfigID string
	Actor    Actor
}

type SubmitPersonalizationCommand struct {
	SubmissionID *string
	ConfigID     string
	CartLineID   string
	ListingID    string
	Actor        Actor
	Value        SubmissionValue
}

type PreviewPriceImpactCommand struct {
	ConfigID   string
	Value      SubmissionValue
	ImageCount int
}

type CreateSnapshotCommand struct {
	CartLineID string
	CustomerID string
	ListingID  string
	ProviderID string
	Actor      Actor
}

type TransferSnapshotCommand struct {
	CartLineID        string
	OrderID           string
	ProductionOrderID *string
	Actor             Actor
}

// ProofPersonalizationView joins a production order's snapshot data with the
// config it was frozen against, for the provider's proofing display.
type ProofPersonalizationView struct {
	ProductionOrderID string
	SnapshotID        string
	FinalizedAt       *time.Time
	Entries           []SnapshotEntry
	ImageRefs         []string
	TotalPriceImpact  int64
	Currency          string
}

type SaveReusableSetupCommand struct {
	CustomerID string
	SnapshotID string
	Name       string
	Actor      Actor
}

type ApplyReusableSetupCommand struct {
	CustomerID string
	SetupID    string
	CartLineID string
	ListingID  string
	Actor      Actor
}

type SignedUploadCommand struct {
	ActorID     string
	OrderID     *string
	Kind        string
	Purpose     string
	FileName    string
	ContentType string
	SizeBytes   int64
}

type SignedDownloadCommand struct {
	ActorID string
	AssetID string
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	RequestID             string
	OccurredAt            time.Time
	Metadata              map[string]any
	Diff                  map[string]AuditLogDiff
	SensitiveMetadataKeys []string
	SensitiveDiffKeys     []string
	IPAddress             string
	UserAgent             string
}

// AuditLogDiff captures before/after values for tracked fields.
type AuditLogDiff struct {
	Before any
	After  any
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
