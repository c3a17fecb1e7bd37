package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftyard/api/internal/domain"
	"github.com/craftyard/api/internal/platform/auth"
	"github.com/craftyard/api/internal/platform/httpx"
	"github.com/craftyard/api/internal/services"
)

const (
	defaultSetupPageSize       = 20
	maxSetupPageSize           = 100
	maxPersonalizationBodySize = 64 * 1024
)

// PersonalizationHandlers exposes config, submission, and snapshot endpoints
// for the personalization pipeline.
type PersonalizationHandlers struct {
	authn           *auth.Authenticator
	personalization services.PersonalizationService
	snapshots       services.SnapshotService
}

// NewPersonalizationHandlers constructs a new PersonalizationHandlers instance.
func NewPersonalizationHandlers(authn *auth.Authenticator, personalization services.PersonalizationService, snapshots services.SnapshotService) *PersonalizationHandlers {
	return &PersonalizationHandlers{
		authn:           authn,
		personalization: personalization,
		snapshots:       snapshots,
	}
}

// Routes registers the /personalization endpoints.
func (h *PersonalizationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/configs", h.upsertConfig)
	r.Get("/configs", h.listConfigs)
	r.Get("/configs/{configID}", h.getConfig)
	r.Delete("/configs/{configID}", h.deleteConfig)
	r.Post("/submissions", h.submitInput)
	r.Get("/submissions", h.listSubmissions)
	r.Post("/preview-price", h.previewPrice)
	r.Post("/snapshots", h.createSnapshot)
	r.Post("/snapshots:transfer", h.transferSnapshot)
	r.Get("/setups", h.listSetups)
	r.Post("/setups", h.saveSetup)
	r.Delete("/setups/{setupID}", h.deleteSetup)
	r.Post("/setups/{setupID}:apply", h.applySetup)
}

// OrderRoutes registers snapshot reads nested under an order.
func (h *PersonalizationHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getOrderSnapshot)
	r.Get("/proof-view", h.getProofView)
}

func (h *PersonalizationHandlers) upsertConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.personalization == nil {
		httpx.WriteError(ctx, w, httpx.NewError("personalization_service_unavailable", "personalization service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxPersonalizationBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req personalizationConfigPayload
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	actor := actorFromIdentity(identity)
	config := req.toDomain()
	if config.ProviderID == "" && actor.Role == services.ActorRoleProvider {
		config.ProviderID = actor.ID
	}

	saved, err := h.personalization.UpsertConfig(ctx, services.UpsertPersonalizationConfigCommand{
		Config: config,
		Actor:  actor,
	})
	if err != nil {
		writePersonalizationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, personalizationConfigResponse{Config: buildConfigPayload(saved)})
}

func (h *PersonalizationHandlers) listConfigs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.personalization == nil {
		httpx.WriteError(ctx, w, httpx.NewError("personalization_service_unavailable", "personalization service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	listingID := strings.TrimSpace(query.Get("listing_id"))
	if listingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listing_id is required", http.StatusBadRequest))
		return
	}
	onlyEnabled := strings.EqualFold(strings.TrimSpace(query.Get("only_enabled")), "true")

	configs, err := h.personalization.ListConfigs(ctx, listingID, onlyEnabled)
	if err != nil {
		writePersonalizationError(ctx, w, err)
		return
	}

	items := make([]personalizationConfigPayload, 0, len(configs))
	for _, config := range configs {
		items = append(items, buildConfigPayload(config))
	}

	writeJSONResponse(w, http.StatusOK, personalizationConfigListResponse{Items: items})
}

func (h *PersonalizationHandlers) getConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.personalization == nil {
		httpx.WriteError(ctx, w, httpx.NewError("personalization_service_unavailable", "personalization service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	configID := strings.TrimSpace(chi.URLParam(r, "configID"))
	if configID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "config id is required", http.StatusBadRequest))
		return
	}

	config, err := h.personalization.GetConfig(ctx, configID)
	if err != nil {
		writePersonalizationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, personalizationConfigResponse{Config: buildConfigPayload(config)})
}

func (h *PersonalizationHandlers) deleteConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.personalization == nil {
		httpx.WriteError(ctx, w, httpx.NewError("personalization_service_unavailable", "personalization service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	configID := strings.TrimSpace(chi.URLParam(r, "configID"))
	if configID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "config id is required", http.StatusBadRequest))
		return
	}

	if err := h.personalization.DeleteConfig(ctx, services.DeletePersonalizationConfigCommand{
		ConfigID: configID,
		Actor:    actorFromIdentity(identity),
	}); err != nil {
		writePersonalizationError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PersonalizationHandlers) submitInput(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.personalization == nil {
		httpx.WriteError(ctx, w, httpx.NewError("personalization_service_unavailable", "personalization service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxPersonalizationBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req submitPersonalizationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	submission, err := h.personalization.SubmitInput(ctx, services.SubmitPersonalizationCommand{
		SubmissionID: cloneStringPointer(req.SubmissionID),
		ConfigID:     strings.TrimSpace(req.ConfigID),
		CartLineID:   strings.TrimSpace(req.CartLineID),
		ListingID:    strings.TrimSpace(req.ListingID),
		Actor:        actorFromIdentity(identity),
		Value:        req.Value.toDomain(),
	})
	if err != nil {
		writePersonalizationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, submissionResponse{Submission: buildSubmissionPayload(submission)})
}

func (h *PersonalizationHandlers) listSubmissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.personalization == nil {
		httpx.WriteError(ctx, w, httpx.NewError("personalization_service_unavailable", "personalization service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	cartLineID := strings.TrimSpace(r.URL.Query().Get("cart_line_id"))
	if cartLineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart_line_id is required", http.StatusBadRequest))
		return
	}

	submissions, err := h.personalization.ListSubmissions(ctx, cartLineID, actorFromIdentity(identity))
	if err != nil {
		writePersonalizationError(ctx, w, err)
		return
	}

	items := make([]submissionPayload, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, buildSubmissionPayload(submission))
	}

	writeJSONResponse(w, http.StatusOK, submissionListResponse{Items: items})
}

func (h *PersonalizationHandlers) previewPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.personalization == nil {
		httpx.WriteError(ctx, w, httpx.NewError("personalization_service_unavailable", "personalization service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxPersonalizationBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req previewPriceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	breakdown, err := h.personalization.PreviewPriceImpact(ctx, services.PreviewPriceImpactCommand{
		ConfigID:   strings.TrimSpace(req.ConfigID),
		Value:      req.Value.toDomain(),
		ImageCount: req.ImageCount,
	})
	if err != nil {
		writePersonalizationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, priceImpactResponse{Impact: buildBreakdownPayload(breakdown)})
}

func (h *PersonalizationHandlers) createSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.snapshots == nil {
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_service_unavailable", "snapshot service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxPersonalizationBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createSnapshotRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	actor := actorFromIdentity(identity)
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		customerID = actor.ID
	}

	snapshot, err := h.snapshots.CreateSnapshot(ctx, services.CreateSnapshotCommand{
		CartLineID: strings.TrimSpace(req.CartLineID),
		CustomerID: customerID,
		ListingID:  strings.TrimSpace(req.ListingID),
		ProviderID: strings.TrimSpace(req.ProviderID),
		Actor:      actor,
	})
	if err != nil {
		writeSnapshotError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, snapshotResponse{Snapshot: buildSnapshotPayload(snapshot)})
}

func (h *PersonalizationHandlers) transferSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.snapshots == nil {
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_service_unavailable", "snapshot service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxPersonalizationBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req transferSnapshotRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	snapshot, err := h.snapshots.TransferToOrder(ctx, services.TransferSnapshotCommand{
		CartLineID:        strings.TrimSpace(req.CartLineID),
		OrderID:           strings.TrimSpace(req.OrderID),
		ProductionOrderID: cloneStringPointer(req.ProductionOrderID),
		Actor:             actorFromIdentity(identity),
	})
	if err != nil {
		writeSnapshotError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, snapshotResponse{Snapshot: buildSnapshotPayload(snapshot)})
}

func (h *PersonalizationHandlers) getOrderSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.snapshots == nil {
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_service_unavailable", "snapshot service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	snapshot, err := h.snapshots.GetByProductionOrder(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeSnapshotError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, snapshotResponse{Snapshot: buildSnapshotPayload(snapshot)})
}

func (h *PersonalizationHandlers) getProofView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.snapshots == nil {
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_service_unavailable", "snapshot service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	view, err := h.snapshots.PersonalizationForProof(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeSnapshotError(ctx, w, err)
		return
	}

	entries := make([]snapshotEntryPayload, 0, len(view.Entries))
	for _, entry := range view.Entries {
		entries = append(entries, buildSnapshotEntryPayload(entry))
	}

	writeJSONResponse(w, http.StatusOK, proofViewPayload{
		ProductionOrderID: strings.TrimSpace(view.ProductionOrderID),
		SnapshotID:        strings.TrimSpace(view.SnapshotID),
		FinalizedAt:       formatTime(pointerTime(view.FinalizedAt)),
		Entries:           entries,
		ImageRefs:         cloneStrings(view.ImageRefs),
		TotalPriceImpact:  view.TotalPriceImpact,
		Currency:          strings.ToUpper(strings.TrimSpace(view.Currency)),
	})
}

func (h *PersonalizationHandlers) listSetups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.snapshots == nil {
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_service_unavailable", "snapshot service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultSetupPageSize, maxSetupPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.snapshots.ListReusableSetups(ctx, strings.TrimSpace(identity.UID), services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeSnapshotError(ctx, w, err)
		return
	}

	items := make([]reusableSetupPayload, 0, len(page.Items))
	for _, setup := range page.Items {
		items = append(items, buildSetupPayload(setup))
	}

	writeJSONResponse(w, http.StatusOK, reusableSetupListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *PersonalizationHandlers) saveSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.snapshots == nil {
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_service_unavailable", "snapshot service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxOrderActionSize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req saveSetupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	setup, err := h.snapshots.SaveReusableSetup(ctx, services.SaveReusableSetupCommand{
		CustomerID: strings.TrimSpace(identity.UID),
		SnapshotID: strings.TrimSpace(req.SnapshotID),
		Name:       strings.TrimSpace(req.Name),
		Actor:      actorFromIdentity(identity),
	})
	if err != nil {
		writeSnapshotError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, reusableSetupResponse{Setup: buildSetupPayload(setup)})
}

func (h *PersonalizationHandlers) deleteSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.snapshots == nil {
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_service_unavailable", "snapshot service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	setupID := strings.TrimSpace(chi.URLParam(r, "setupID"))
	if setupID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "setup id is required", http.StatusBadRequest))
		return
	}

	if err := h.snapshots.DeleteReusableSetup(ctx, strings.TrimSpace(identity.UID), setupID); err != nil {
		writeSnapshotError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *PersonalizationHandlers) applySetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.snapshots == nil {
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_service_unavailable", "snapshot service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	setupID := strings.TrimSpace(chi.URLParam(r, "setupID"))
	if setupID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "setup id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderActionSize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req applySetupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	submissions, err := h.snapshots.ApplyReusableSetup(ctx, services.ApplyReusableSetupCommand{
		CustomerID: strings.TrimSpace(identity.UID),
		SetupID:    setupID,
		CartLineID: strings.TrimSpace(req.CartLineID),
		ListingID:  strings.TrimSpace(req.ListingID),
		Actor:      actorFromIdentity(identity),
	})
	if err != nil {
		writeSnapshotError(ctx, w, err)
		return
	}

	items := make([]submissionPayload, 0, len(submissions))
	for _, submission := range submissions {
		items = append(items, buildSubmissionPayload(submission))
	}

	writeJSONResponse(w, http.StatusCreated, submissionListResponse{Items: items})
}

// Request and response payloads ----------------------------------------------

type personalizationConfigResponse struct {
	Config personalizationConfigPayload `json:"config"`
}

type personalizationConfigListResponse struct {
	Items []personalizationConfigPayload `json:"items"`
}

type personalizationConfigPayload struct {
	ID              string                    `json:"id,omitempty"`
	ListingID       string                    `json:"listing_id"`
	OptionID        *string                   `json:"option_id,omitempty"`
	ProviderID      string                    `json:"provider_id,omitempty"`
	Label           string                    `json:"label"`
	Enabled         bool                      `json:"enabled"`
	Required        bool                      `json:"required,omitempty"`
	Kind            string                    `json:"kind"`
	Text            *textConstraintsPayload   `json:"text,omitempty"`
	Image           *imageConstraintsPayload  `json:"image,omitempty"`
	Choice          *choiceConstraintsPayload `json:"choice,omitempty"`
	LivePreviewMode string                    `json:"live_preview_mode,omitempty"`
	PriceImpact     priceImpactPayload        `json:"price_impact"`
	LockAfterStage  string                    `json:"lock_after_stage,omitempty"`
	CreatedAt       string                    `json:"created_at,omitempty"`
	UpdatedAt       string                    `json:"updated_at,omitempty"`
}

type textConstraintsPayload struct {
	MinLength            int      `json:"min_length,omitempty"`
	MaxLength            int      `json:"max_length,omitempty"`
	DisallowedCharacters string   `json:"disallowed_characters,omitempty"`
	AllowedScripts       []string `json:"allowed_scripts,omitempty"`
}

type imageConstraintsPayload struct {
	AllowedFormats []string `json:"allowed_formats,omitempty"`
	MinWidth       int      `json:"min_width,omitempty"`
	MinHeight      int      `json:"min_height,omitempty"`
	MaxWidth       int      `json:"max_width,omitempty"`
	MaxHeight      int      `json:"max_height,omitempty"`
	MaxSizeBytes   int64    `json:"max_size_bytes,omitempty"`
	MaxImages      int      `json:"max_images,omitempty"`
}

type choiceConstraintsPayload struct {
	Options    []string `json:"options,omitempty"`
	PaletteRef string   `json:"palette_ref,omitempty"`
	MaxChoices int      `json:"max_choices,omitempty"`
}

type priceImpactPayload struct {
	Rule     string  `json:"rule"`
	Amount   int64   `json:"amount,omitempty"`
	Percent  float64 `json:"percent,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

type submitPersonalizationRequest struct {
	SubmissionID *string                `json:"submission_id,omitempty"`
	ConfigID     string                 `json:"config_id"`
	CartLineID   string                 `json:"cart_line_id"`
	ListingID    string                 `json:"listing_id"`
	Value        submissionValuePayload `json:"value"`
}

type submissionValuePayload struct {
	Text      *string        `json:"text,omitempty"`
	ImageRefs []string       `json:"image_refs,omitempty"`
	Choices   []string       `json:"choices,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

type previewPriceRequest struct {
	ConfigID   string                 `json:"config_id"`
	Value      submissionValuePayload `json:"value"`
	ImageCount int                    `json:"image_count,omitempty"`
}

type priceImpactResponse struct {
	Impact priceBreakdownPayload `json:"impact"`
}

type priceBreakdownPayload struct {
	ConfigID    string `json:"config_id"`
	Rule        string `json:"rule"`
	Units       int    `json:"units,omitempty"`
	UnitAmount  int64  `json:"unit_amount,omitempty"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`
}

type submissionResponse struct {
	Submission submissionPayload `json:"submission"`
}

type submissionListResponse struct {
	Items []submissionPayload `json:"items"`
}

type submissionPayload struct {
	ID               string                 `json:"id"`
	ConfigID         string                 `json:"config_id"`
	CustomerID       string                 `json:"customer_id"`
	ListingID        string                 `json:"listing_id"`
	CartLineID       string                 `json:"cart_line_id"`
	OrderID          *string                `json:"order_id,omitempty"`
	Value            submissionValuePayload `json:"value"`
	PriceImpact      priceBreakdownPayload  `json:"price_impact"`
	ValidationStatus string                 `json:"validation_status"`
	IsLocked         bool                   `json:"is_locked"`
	LockedAt         string                 `json:"locked_at,omitempty"`
	LockReason       string                 `json:"lock_reason,omitempty"`
	CreatedAt        string                 `json:"created_at"`
	UpdatedAt        string                 `json:"updated_at,omitempty"`
}

type createSnapshotRequest struct {
	CartLineID string `json:"cart_line_id"`
	CustomerID string `json:"customer_id,omitempty"`
	ListingID  string `json:"listing_id"`
	ProviderID string `json:"provider_id,omitempty"`
}

type transferSnapshotRequest struct {
	CartLineID        string  `json:"cart_line_id"`
	OrderID           string  `json:"order_id"`
	ProductionOrderID *string `json:"production_order_id,omitempty"`
}

type snapshotResponse struct {
	Snapshot snapshotPayload `json:"snapshot"`
}

type snapshotPayload struct {
	ID                string                 `json:"id"`
	CartLineID        string                 `json:"cart_line_id"`
	CustomerID        string                 `json:"customer_id"`
	ListingID         string                 `json:"listing_id"`
	ProviderID        string                 `json:"provider_id,omitempty"`
	Entries           []snapshotEntryPayload `json:"entries"`
	ImageRefs         []string               `json:"image_refs,omitempty"`
	TotalPriceImpact  int64                  `json:"total_price_impact"`
	Currency          string                 `json:"currency,omitempty"`
	OrderID           *string                `json:"order_id,omitempty"`
	ProductionOrderID *string                `json:"production_order_id,omitempty"`
	FinalizedAt       string                 `json:"finalized_at,omitempty"`
	CreatedAt         string                 `json:"created_at"`
}

type snapshotEntryPayload struct {
	SubmissionID string                       `json:"submission_id"`
	Config       personalizationConfigPayload `json:"config"`
	Value        submissionValuePayload       `json:"value"`
	PriceImpact  priceBreakdownPayload        `json:"price_impact"`
}

type proofViewPayload struct {
	ProductionOrderID string                 `json:"production_order_id"`
	SnapshotID        string                 `json:"snapshot_id"`
	FinalizedAt       string                 `json:"finalized_at,omitempty"`
	Entries           []snapshotEntryPayload `json:"entries"`
	ImageRefs         []string               `json:"image_refs,omitempty"`
	TotalPriceImpact  int64                  `json:"total_price_impact"`
	Currency          string                 `json:"currency,omitempty"`
}

type saveSetupRequest struct {
	SnapshotID string `json:"snapshot_id"`
	Name       string `json:"name"`
}

type applySetupRequest struct {
	CartLineID string `json:"cart_line_id"`
	ListingID  string `json:"listing_id"`
}

type reusableSetupResponse struct {
	Setup reusableSetupPayload `json:"setup"`
}

type reusableSetupListResponse struct {
	Items         []reusableSetupPayload `json:"items"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

type reusableSetupPayload struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	ListingID string                 `json:"listing_id"`
	Entries   []snapshotEntryPayload `json:"entries"`
	CreatedAt string                 `json:"created_at"`
	UpdatedAt string                 `json:"updated_at,omitempty"`
}

// Converters ------------------------------------------------------------------

func (p personalizationConfigPayload) toDomain() domain.PersonalizationConfig {
	config := domain.PersonalizationConfig{
		ID:              strings.TrimSpace(p.ID),
		ListingID:       strings.TrimSpace(p.ListingID),
		OptionID:        cloneStringPointer(p.OptionID),
		ProviderID:      strings.TrimSpace(p.ProviderID),
		Label:           strings.TrimSpace(p.Label),
		Enabled:         p.Enabled,
		Required:        p.Required,
		Kind:            domain.PersonalizationKind(strings.TrimSpace(strings.ToLower(p.Kind))),
		LivePreviewMode: domain.LivePreviewMode(strings.TrimSpace(strings.ToLower(p.LivePreviewMode))),
		PriceImpact: domain.PriceImpact{
			Rule:     domain.PriceImpactRule(strings.TrimSpace(strings.ToLower(p.PriceImpact.Rule))),
			Amount:   p.PriceImpact.Amount,
			Percent:  p.PriceImpact.Percent,
			Currency: strings.TrimSpace(p.PriceImpact.Currency),
		},
		LockAfterStage: domain.LockStage(strings.TrimSpace(strings.ToLower(p.LockAfterStage))),
	}
	if p.Text != nil {
		config.Text = &domain.TextConstraints{
			MinLength:            p.Text.MinLength,
			MaxLength:            p.Text.MaxLength,
			DisallowedCharacters: p.Text.DisallowedCharacters,
			AllowedScripts:       cloneStrings(p.Text.AllowedScripts),
		}
	}
	if p.Image != nil {
		config.Image = &domain.ImageConstraints{
			AllowedFormats: cloneStrings(p.Image.AllowedFormats),
			MinWidth:       p.Image.MinWidth,
			MinHeight:      p.Image.MinHeight,
			MaxWidth:       p.Image.MaxWidth,
			MaxHeight:      p.Image.MaxHeight,
			MaxSizeBytes:   p.Image.MaxSizeBytes,
			MaxImages:      p.Image.MaxImages,
		}
	}
	if p.Choice != nil {
		config.Choice = &domain.ChoiceConstraints{
			Options:    cloneStrings(p.Choice.Options),
			PaletteRef: strings.TrimSpace(p.Choice.PaletteRef),
			MaxChoices: p.Choice.MaxChoices,
		}
	}
	return config
}

func buildConfigPayload(config domain.PersonalizationConfig) personalizationConfigPayload {
	payload := personalizationConfigPayload{
		ID:              strings.TrimSpace(config.ID),
		ListingID:       strings.TrimSpace(config.ListingID),
		OptionID:        cloneStringPointer(config.OptionID),
		ProviderID:      strings.TrimSpace(config.ProviderID),
		Label:           strings.TrimSpace(config.Label),
		Enabled:         config.Enabled,
		Required:        config.Required,
		Kind:            string(config.Kind),
		LivePreviewMode: string(config.LivePreviewMode),
		PriceImpact: priceImpactPayload{
			Rule:     string(config.PriceImpact.Rule),
			Amount:   config.PriceImpact.Amount,
			Percent:  config.PriceImpact.Percent,
			Currency: config.PriceImpact.Currency,
		},
		LockAfterStage: string(config.LockAfterStage),
		CreatedAt:      formatTime(config.CreatedAt),
		UpdatedAt:      formatTime(config.UpdatedAt),
	}
	if config.Text != nil {
		payload.Text = &textConstraintsPayload{
			MinLength:            config.Text.MinLength,
			MaxLength:            config.Text.MaxLength,
			DisallowedCharacters: config.Text.DisallowedCharacters,
			AllowedScripts:       cloneStrings(config.Text.AllowedScripts),
		}
	}
	if config.Image != nil {
		payload.Image = &imageConstraintsPayload{
			AllowedFormats: cloneStrings(config.Image.AllowedFormats),
			MinWidth:       config.Image.MinWidth,
			MinHeight:      config.Image.MinHeight,
			MaxWidth:       config.Image.MaxWidth,
			MaxHeight:      config.Image.MaxHeight,
			MaxSizeBytes:   config.Image.MaxSizeBytes,
			MaxImages:      config.Image.MaxImages,
		}
	}
	if config.Choice != nil {
		payload.Choice = &choiceConstraintsPayload{
			Options:    cloneStrings(config.Choice.Options),
			PaletteRef: config.Choice.PaletteRef,
			MaxChoices: config.Choice.MaxChoices,
		}
	}
	return payload
}

func (p submissionValuePayload) toDomain() domain.SubmissionValue {
	return domain.SubmissionValue{
		Text:      cloneStringPointer(p.Text),
		ImageRefs: cloneStrings(p.ImageRefs),
		Choices:   cloneStrings(p.Choices),
		Extra:     cloneMap(p.Extra),
	}
}

func buildSubmissionValuePayload(value domain.SubmissionValue) submissionValuePayload {
	return submissionValuePayload{
		Text:      cloneStringPointer(value.Text),
		ImageRefs: cloneStrings(value.ImageRefs),
		Choices:   cloneStrings(value.Choices),
		Extra:     cloneMap(value.Extra),
	}
}

func buildBreakdownPayload(breakdown domain.PriceImpactBreakdown) priceBreakdownPayload {
	return priceBreakdownPayload{
		ConfigID:    strings.TrimSpace(breakdown.ConfigID),
		Rule:        string(breakdown.Rule),
		Units:       breakdown.Units,
		UnitAmount:  breakdown.UnitAmount,
		Amount:      breakdown.Amount,
		Currency:    breakdown.Currency,
		Description: breakdown.Description,
	}
}

func buildSubmissionPayload(submission services.PersonalizationSubmission) submissionPayload {
	return submissionPayload{
		ID:               strings.TrimSpace(submission.ID),
		ConfigID:         strings.TrimSpace(submission.ConfigID),
		CustomerID:       strings.TrimSpace(submission.CustomerID),
		ListingID:        strings.TrimSpace(submission.ListingID),
		CartLineID:       strings.TrimSpace(submission.CartLineID),
		OrderID:          cloneStringPointer(submission.OrderID),
		Value:            buildSubmissionValuePayload(submission.Value),
		PriceImpact:      buildBreakdownPayload(submission.PriceImpact),
		ValidationStatus: string(submission.ValidationStatus),
		IsLocked:         submission.IsLocked,
		LockedAt:         formatTime(pointerTime(submission.LockedAt)),
		LockReason:       string(submission.LockReason),
		CreatedAt:        formatTime(submission.CreatedAt),
		UpdatedAt:        formatTime(submission.UpdatedAt),
	}
}

func buildSnapshotEntryPayload(entry domain.SnapshotEntry) snapshotEntryPayload {
	return snapshotEntryPayload{
		SubmissionID: strings.TrimSpace(entry.SubmissionID),
		Config:       buildConfigPayload(entry.Config),
		Value:        buildSubmissionValuePayload(entry.Value),
		PriceImpact:  buildBreakdownPayload(entry.PriceImpact),
	}
}

func buildSnapshotPayload(snapshot services.PersonalizationSnapshot) snapshotPayload {
	entries := make([]snapshotEntryPayload, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		entries = append(entries, buildSnapshotEntryPayload(entry))
	}
	return snapshotPayload{
		ID:                strings.TrimSpace(snapshot.ID),
		CartLineID:        strings.TrimSpace(snapshot.CartLineID),
		CustomerID:        strings.TrimSpace(snapshot.CustomerID),
		ListingID:         strings.TrimSpace(snapshot.ListingID),
		ProviderID:        strings.TrimSpace(snapshot.ProviderID),
		Entries:           entries,
		ImageRefs:         cloneStrings(snapshot.ImageRefs),
		TotalPriceImpact:  snapshot.TotalPriceImpact,
		Currency:          strings.ToUpper(strings.TrimSpace(snapshot.Currency)),
		OrderID:           cloneStringPointer(snapshot.OrderID),
		ProductionOrderID: cloneStringPointer(snapshot.ProductionOrderID),
		FinalizedAt:       formatTime(pointerTime(snapshot.FinalizedAt)),
		CreatedAt:         formatTime(snapshot.CreatedAt),
	}
}

func buildSetupPayload(setup services.ReusableSetup) reusableSetupPayload {
	entries := make([]snapshotEntryPayload, 0, len(setup.Entries))
	for _, entry := range setup.Entries {
		entries = append(entries, buildSnapshotEntryPayload(entry))
	}
	return reusableSetupPayload{
		ID:        strings.TrimSpace(setup.ID),
		Name:      strings.TrimSpace(setup.Name),
		ListingID: strings.TrimSpace(setup.ListingID),
		Entries:   entries,
		CreatedAt: formatTime(setup.CreatedAt),
		UpdatedAt: formatTime(setup.UpdatedAt),
	}
}

func writePersonalizationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInvalidPersonalizationInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_personalization_input", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPersonalizationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPersonalizationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("personalization_not_found", "personalization record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPersonalizationLocked):
		httpx.WriteError(ctx, w, httpx.NewError("personalization_locked", "personalization input is locked", http.StatusConflict))
	case errors.Is(err, services.ErrPersonalizationConflict):
		httpx.WriteError(ctx, w, httpx.NewError("personalization_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("personalization_error", "failed to process personalization request", http.StatusInternalServerError))
	}
}

func writeSnapshotError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrNoPersonalizationToSnapshot):
		httpx.WriteError(ctx, w, httpx.NewError("no_personalization_to_snapshot", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrSnapshotInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSnapshotNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_not_found", "snapshot not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSnapshotConflict):
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPersonalizationLocked):
		httpx.WriteError(ctx, w, httpx.NewError("personalization_locked", "personalization input is locked", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_error", "failed to process snapshot request", http.StatusInternalServerError))
	}
}
