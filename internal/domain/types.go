package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for production orders.
type OrderStatus string

const (
	// OrderStatusConsultationPending indicates the order awaits a consultation booking.
	OrderStatusConsultationPending OrderStatus = "consultation_pending"
	// OrderStatusConsultationScheduled indicates a consultation session has been booked.
	OrderStatusConsultationScheduled OrderStatus = "consultation_scheduled"
	// OrderStatusConsultationCompleted indicates the consultation has concluded.
	OrderStatusConsultationCompleted OrderStatus = "consultation_completed"
	// OrderStatusDesignInProgress indicates the provider is working on the design.
	OrderStatusDesignInProgress OrderStatus = "design_in_progress"
	// OrderStatusProofSubmitted indicates a proof awaits the customer's review.
	OrderStatusProofSubmitted OrderStatus = "proof_submitted"
	// OrderStatusProofApproved indicates the customer approved the current proof.
	OrderStatusProofApproved OrderStatus = "proof_approved"
	// OrderStatusInProduction indicates the item is actively being produced.
	OrderStatusInProduction OrderStatus = "in_production"
	// OrderStatusQualityCheck indicates the finished item is under inspection.
	OrderStatusQualityCheck OrderStatus = "quality_check"
	// OrderStatusCompleted indicates the order has been fulfilled.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether the status ends the order lifecycle.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderPricing holds monetary fields in the smallest currency unit.
type OrderPricing struct {
	Currency     string
	BasePrice    int64
	RevisionFees int64
	RushFee      int64
	Total        int64
}

// OrderDelivery captures the requested delivery method and destination.
type OrderDelivery struct {
	Method  string
	Address *Address
}

// OrderFlags stores boolean indicators attached to a production order.
type OrderFlags struct {
	Rush                       bool
	RequiresCustomerApproval   bool
	ProviderAccepted           bool
	HasAdvancedPersonalization bool
}

// OrderTimestamps records first entry into each pipeline stage. Each field is
// set exactly once and never cleared.
type OrderTimestamps struct {
	ConsultationScheduledAt *time.Time
	ConsultationCompletedAt *time.Time
	DesignStartedAt         *time.Time
	FirstProofSubmittedAt   *time.Time
	ApprovedAt              *time.Time
	ProductionStartedAt     *time.Time
	CompletedAt             *time.Time
	CancelledAt             *time.Time
}

// ProductionOrder is the unit of work carrying a custom product from
// consultation through proof approval to delivery.
type ProductionOrder struct {
	ID                         string
	OrderNumber                string
	CustomerID                 string
	ProviderID                 string
	ListingID                  string
	ProductTypeID              string
	Quantity                   int
	Specification              map[string]any
	Status                     OrderStatus
	RevisionCount              int
	MaxRevisionsAllowed        int
	AdditionalRevisionsCharged int
	PerRevisionFee             int64
	Pricing                    OrderPricing
	Delivery                   OrderDelivery
	Flags                      OrderFlags
	DeadlineDate               *time.Time
	Timestamps                 OrderTimestamps
	SnapshotID                 *string
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// OrderTimelineEvent is an append-only record of a status change.
type OrderTimelineEvent struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ActorID    string
	ActorRole  string
	Note       string
	OccurredAt time.Time
}

// ConsultationStatus enumerates consultation session lifecycle states.
type ConsultationStatus string

const (
	ConsultationStatusScheduled  ConsultationStatus = "scheduled"
	ConsultationStatusInProgress ConsultationStatus = "in_progress"
	ConsultationStatusCompleted  ConsultationStatus = "completed"
	ConsultationStatusCancelled  ConsultationStatus = "cancelled"
	ConsultationStatusNoShow     ConsultationStatus = "no_show"
)

// IsTerminal reports whether the session can no longer change.
func (s ConsultationStatus) IsTerminal() bool {
	return s == ConsultationStatusCompleted || s == ConsultationStatusCancelled || s == ConsultationStatusNoShow
}

// ConsultationChannel describes how the session is conducted.
type ConsultationChannel struct {
	Kind        string
	MeetingURL  string
	Credentials map[string]string
}

// ConsultationSession tracks a pre-design consultation owned by one order.
type ConsultationSession struct {
	ID              string
	OrderID         string
	ScheduledAt     time.Time
	DurationMinutes int
	Channel         ConsultationChannel
	Status          ConsultationStatus
	SummaryNotes    string
	KeyDecisions    map[string]any
	CancelReason    string
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProofStatus enumerates review states for a submitted proof.
type ProofStatus string

const (
	ProofStatusPendingReview     ProofStatus = "pending_review"
	ProofStatusApproved          ProofStatus = "approved"
	ProofStatusRejected          ProofStatus = "rejected"
	ProofStatusRevisionRequested ProofStatus = "revision_requested"
)

// Proof is the mutable current state of one submitted design iteration.
// Version numbers are unique and strictly increasing within an order.
type Proof struct {
	ID                  string
	OrderID             string
	VersionNumber       int
	Title               string
	Description         string
	ImageRefs           []string
	DesignFileRefs      []string
	EstimatedTurnaround string
	Status              ProofStatus
	Feedback            string
	Rating              *int
	ChangeRequest       map[string]any
	IsFinal             bool
	SubmittedAt         time.Time
	ReviewedAt          *time.Time
	ApprovedAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ProofVersion is the immutable history entry written each time a proof is
// created or revised.
type ProofVersion struct {
	ID            string
	OrderID       string
	ProofID       string
	VersionNumber int
	ChangeSummary string
	ChangedBy     string
	ImageRefs     []string
	CreatedAt     time.Time
}

// ProofCommentAnchor pins a comment to a region of a proof image.
type ProofCommentAnchor struct {
	ImageRef string
	X        float64
	Y        float64
	Width    float64
	Height   float64
}

// ProofComment is a threaded feedback item attached to a proof.
type ProofComment struct {
	ID         string
	ProofID    string
	AuthorID   string
	AuthorRole string
	Text       string
	Anchor     *ProofCommentAnchor
	ParentID   *string
	Resolved   bool
	ResolvedAt *time.Time
	ResolvedBy *string
	CreatedAt  time.Time
}

// Booking represents the record the review/rating flow hangs off. Custom
// orders without a native booking get a synthesized virtual one at
// completion.
type Booking struct {
	ID             string
	OrderID        string
	CustomerID     string
	ProviderID     string
	ListingID      string
	Virtual        bool
	FinalPrice     int64
	EscrowAmount   int64
	Currency       string
	ReviewEligible bool
	CreatedAt      time.Time
}

// Address represents postal address structures shared across layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// ProductTypeInfo is the catalog-supplied metadata resolved at order creation.
type ProductTypeInfo struct {
	ID                   string
	RequiresConsultation bool
	DefaultMaxRevisions  int
	PerRevisionFee       int64
	RequiredSpecFields   []string
	ConcurrentOrderLimit int
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AuditLogEntry stores normalized audit information for admin use.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	IPHash    string
	UserAgent string
	Severity  string
	RequestID string
	CreatedAt time.Time
}

// SignedAssetResponse returns signed URL payloads for upload/download flows.
type SignedAssetResponse struct {
	AssetID   string
	URL       string
	ExpiresAt time.Time
	Method    string
	Headers   map[string]string
}
