package domain

import "time"

// PersonalizationKind enumerates the supported input categories.
type PersonalizationKind string

const (
	PersonalizationKindText               PersonalizationKind = "text"
	PersonalizationKindImageUpload        PersonalizationKind = "image_upload"
	PersonalizationKindImageSelection     PersonalizationKind = "image_selection"
	PersonalizationKindFontSelection      PersonalizationKind = "font_selection"
	PersonalizationKindColorSelection     PersonalizationKind = "color_selection"
	PersonalizationKindPlacementSelection PersonalizationKind = "placement_selection"
	PersonalizationKindTemplateSelection  PersonalizationKind = "template_selection"
	PersonalizationKindCombined           PersonalizationKind = "combined"
)

// LivePreviewMode describes preview capability declared by the provider.
type LivePreviewMode string

const (
	LivePreviewEnabled     LivePreviewMode = "enabled"
	LivePreviewConstrained LivePreviewMode = "constrained"
	LivePreviewDowngraded  LivePreviewMode = "downgraded"
	LivePreviewDisabled    LivePreviewMode = "disabled"
)

// LockStage marks the latest pipeline checkpoint at which a personalization
// input may still be edited.
type LockStage string

const (
	LockStageAddToCart     LockStage = "add_to_cart"
	LockStageCheckout      LockStage = "checkout"
	LockStageOrderReceived LockStage = "order_received"
	LockStageProofApproved LockStage = "proof_approved"
)

// TextConstraints bounds a text personalization input.
type TextConstraints struct {
	MinLength            int
	MaxLength            int
	DisallowedCharacters string
	AllowedScripts       []string
}

// ImageConstraints bounds an image upload input.
type ImageConstraints struct {
	AllowedFormats []string
	MinWidth       int
	MinHeight      int
	MaxWidth       int
	MaxHeight      int
	MaxSizeBytes   int64
	MaxImages      int
}

// ChoiceConstraints bounds selection inputs (fonts, colors, placements,
// templates). Options holds the provider-declared identifiers.
type ChoiceConstraints struct {
	Options    []string
	PaletteRef string
	MaxChoices int
}

// PersonalizationConfig is the provider-authored declaration of one
// personalization input offered on a listing.
type PersonalizationConfig struct {
	ID              string
	ListingID       string
	OptionID        *string
	ProviderID      string
	Label           string
	Enabled         bool
	Required        bool
	Kind            PersonalizationKind
	Text            *TextConstraints
	Image           *ImageConstraints
	Choice          *ChoiceConstraints
	LivePreviewMode LivePreviewMode
	PriceImpact     PriceImpact
	LockAfterStage  LockStage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SubmissionValue is the tagged union of customer-supplied values. Exactly
// one branch is populated, matching the config kind.
type SubmissionValue struct {
	Text      *string
	ImageRefs []string
	Choices   []string
	Extra     map[string]any
}

// ValidationStatus reflects the outcome of constraint checking at submission
// time.
type ValidationStatus string

const (
	ValidationStatusValid   ValidationStatus = "valid"
	ValidationStatusInvalid ValidationStatus = "invalid"
)

// LockReason records why a submission was frozen.
type LockReason string

const (
	LockReasonSnapshotCreated LockReason = "snapshot_created"
	LockReasonOrderReceived   LockReason = "order_received"
	LockReasonProofApproved   LockReason = "proof_approved"
	LockReasonManual          LockReason = "manual"
)

// PersonalizationSubmission is the customer's input for one config on a cart
// line or order. Mutable until locked; locked submissions reject writes.
type PersonalizationSubmission struct {
	ID               string
	ConfigID         string
	CustomerID       string
	ListingID        string
	CartLineID       string
	OrderID          *string
	Value            SubmissionValue
	PriceImpact      PriceImpactBreakdown
	ValidationStatus ValidationStatus
	IsLocked         bool
	LockedAt         *time.Time
	LockReason       LockReason
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SnapshotEntry freezes one submission together with the config it was
// validated against.
type SnapshotEntry struct {
	SubmissionID string
	Config       PersonalizationConfig
	Value        SubmissionValue
	PriceImpact  PriceImpactBreakdown
}

// PersonalizationSnapshot is the immutable point-in-time freeze created at
// cart commit. Only linkage fields and FinalizedAt change after creation.
type PersonalizationSnapshot struct {
	ID                string
	CartLineID        string
	CustomerID        string
	ListingID         string
	ProviderID        string
	Entries           []SnapshotEntry
	ImageRefs         []string
	TotalPriceImpact  int64
	Currency          string
	OrderID           *string
	ProductionOrderID *string
	FinalizedAt       *time.Time
	CreatedAt         time.Time
}

// ReusableSetup is a customer-named copy of snapshot data used to prefill a
// future order. Customer-owned, never locked.
type ReusableSetup struct {
	ID         string
	CustomerID string
	Name       string
	ListingID  string
	Entries    []SnapshotEntry
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ConstraintViolation describes one failed validation rule in structured form.
type ConstraintViolation struct {
	ConfigID string
	Field    string
	Rule     string
	Message  string
}
