package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/craftyard/api/internal/platform/auth"
	"github.com/craftyard/api/internal/platform/httpx"
	"github.com/craftyard/api/internal/services"
)

const (
	defaultProofPageSize = 20
	maxProofPageSize     = 100
	maxProofBodySize     = 64 * 1024
)

type submitProofRequest struct {
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	ImageRefs           []string `json:"image_refs"`
	DesignFileRefs      []string `json:"design_file_refs,omitempty"`
	EstimatedTurnaround string   `json:"estimated_turnaround,omitempty"`
	Notes               string   `json:"notes,omitempty"`
}

type reviewProofRequest struct {
	Decision      string         `json:"decision"`
	Feedback      string         `json:"feedback,omitempty"`
	Rating        *int           `json:"rating,omitempty"`
	ChangeRequest map[string]any `json:"change_request,omitempty"`
	MarkFinal     bool           `json:"mark_final,omitempty"`
}

type addCommentRequest struct {
	Text     string                `json:"text"`
	Anchor   *commentAnchorPayload `json:"anchor,omitempty"`
	ParentID *string               `json:"parent_id,omitempty"`
}

type commentAnchorPayload struct {
	ImageRef string  `json:"image_ref"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
}

// ProofHandlers exposes proof submission, review, and comment endpoints.
type ProofHandlers struct {
	authn  *auth.Authenticator
	proofs services.ProofService
}

// NewProofHandlers constructs a new ProofHandlers instance.
func NewProofHandlers(authn *auth.Authenticator, proofs services.ProofService) *ProofHandlers {
	return &ProofHandlers{
		authn:  authn,
		proofs: proofs,
	}
}

// OrderRoutes registers the proof endpoints nested under an order.
func (h *ProofHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.submitProof)
	r.Get("/", h.listProofs)
	r.Get("/versions", h.listVersions)
}

// Routes registers the proof-scoped endpoints.
func (h *ProofHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{proofID}", h.getProof)
	r.Post("/{proofID}:review", h.reviewProof)
	r.Get("/{proofID}/comments", h.listComments)
	r.Post("/{proofID}/comments", h.addComment)
	r.Post("/{proofID}/comments/{commentID}:resolve", h.resolveComment)
}

func (h *ProofHandlers) submitProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.proofs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("proof_service_unavailable", "proof service unavailable", http.StatusServiceUnavailable))
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

	body, err := readLimitedBody(r, maxProofBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req submitProofRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	proof, err := h.proofs.SubmitProof(ctx, services.SubmitProofCommand{
		OrderID:             orderID,
		Actor:               actorFromIdentity(identity),
		Title:               strings.TrimSpace(req.Title),
		Description:         strings.TrimSpace(req.Description),
		ImageRefs:           cloneStrings(req.ImageRefs),
		DesignFileRefs:      cloneStrings(req.DesignFileRefs),
		EstimatedTurnaround: strings.TrimSpace(req.EstimatedTurnaround),
		Notes:               strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeProofError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, proofResponse{Proof: buildProofPayload(proof)})
}

func (h *ProofHandlers) listProofs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.proofs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("proof_service_unavailable", "proof service unavailable", http.StatusServiceUnavailable))
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

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultProofPageSize, maxProofPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.proofs.ListProofs(ctx, orderID, actorFromIdentity(identity), services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeProofError(ctx, w, err)
		return
	}

	items := make([]proofPayload, 0, len(page.Items))
	for _, proof := range page.Items {
		items = append(items, buildProofPayload(proof))
	}

	writeJSONResponse(w, http.StatusOK, proofListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ProofHandlers) listVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.proofs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("proof_service_unavailable", "proof service unavailable", http.StatusServiceUnavailable))
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

	versions, err := h.proofs.ListVersions(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeProofError(ctx, w, err)
		return
	}

	items := make([]proofVersionPayload, 0, len(versions))
	for _, version := range versions {
		items = append(items, proofVersionPayload{
			ID:            strings.TrimSpace(version.ID),
			ProofID:       strings.TrimSpace(version.ProofID),
			VersionNumber: version.VersionNumber,
			ChangeSummary: strings.TrimSpace(version.ChangeSummary),
			ChangedBy:     strings.TrimSpace(version.ChangedBy),
			ImageRefs:     cloneStrings(version.ImageRefs),
			CreatedAt:     formatTime(version.CreatedAt),
		})
	}

	writeJSONResponse(w, http.StatusOK, proofVersionListResponse{Items: items})
}

func (h *ProofHandlers) getProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.proofs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("proof_service_unavailable", "proof service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	proofID := strings.TrimSpace(chi.URLParam(r, "proofID"))
	if proofID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "proof id is required", http.StatusBadRequest))
		return
	}

	proof, err := h.proofs.GetProof(ctx, proofID, actorFromIdentity(identity))
	if err != nil {
		writeProofError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, proofResponse{Proof: buildProofPayload(proof)})
}

func (h *ProofHandlers) reviewProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.proofs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("proof_service_unavailable", "proof service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	proofID := strings.TrimSpace(chi.URLParam(r, "proofID"))
	if proofID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "proof id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxProofBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req reviewProofRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	decision, ok := parseProofDecision(req.Decision)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "decision must be approve, reject, or request_revision", http.StatusBadRequest))
		return
	}

	proof, err := h.proofs.ReviewProof(ctx, services.ReviewProofCommand{
		ProofID:       proofID,
		Actor:         actorFromIdentity(identity),
		Decision:      decision,
		Feedback:      strings.TrimSpace(req.Feedback),
		Rating:        req.Rating,
		ChangeRequest: cloneMap(req.ChangeRequest),
		MarkFinal:     req.MarkFinal,
	})
	if err != nil {
		writeProofError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, proofResponse{Proof: buildProofPayload(proof)})
}

func (h *ProofHandlers) listComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.proofs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("proof_service_unavailable", "proof service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	proofID := strings.TrimSpace(chi.URLParam(r, "proofID"))
	if proofID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "proof id is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultProofPageSize, maxProofPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	page, err := h.proofs.ListComments(ctx, proofID, actorFromIdentity(identity), services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeProofError(ctx, w, err)
		return
	}

	items := make([]proofCommentPayload, 0, len(page.Items))
	for _, comment := range page.Items {
		items = append(items, buildProofCommentPayload(comment))
	}

	writeJSONResponse(w, http.StatusOK, proofCommentListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *ProofHandlers) addComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.proofs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("proof_service_unavailable", "proof service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	proofID := strings.TrimSpace(chi.URLParam(r, "proofID"))
	if proofID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "proof id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderActionSize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req addCommentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.AddProofCommentCommand{
		ProofID:  proofID,
		Actor:    actorFromIdentity(identity),
		Text:     strings.TrimSpace(req.Text),
		ParentID: cloneStringPointer(req.ParentID),
	}
	if req.Anchor != nil {
		cmd.Anchor = &services.ProofCommentAnchor{
			ImageRef: strings.TrimSpace(req.Anchor.ImageRef),
			X:        req.Anchor.X,
			Y:        req.Anchor.Y,
			Width:    req.Anchor.Width,
			Height:   req.Anchor.Height,
		}
	}

	comment, err := h.proofs.AddComment(ctx, cmd)
	if err != nil {
		writeProofError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, proofCommentResponse{Comment: buildProofCommentPayload(comment)})
}

func (h *ProofHandlers) resolveComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.proofs == nil {
		httpx.WriteError(ctx, w, httpx.NewError("proof_service_unavailable", "proof service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	proofID := strings.TrimSpace(chi.URLParam(r, "proofID"))
	commentID := strings.TrimSpace(chi.URLParam(r, "commentID"))
	if proofID == "" || commentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "proof id and comment id are required", http.StatusBadRequest))
		return
	}

	comment, err := h.proofs.ResolveComment(ctx, services.ResolveProofCommentCommand{
		ProofID:   proofID,
		CommentID: commentID,
		Actor:     actorFromIdentity(identity),
	})
	if err != nil {
		writeProofError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, proofCommentResponse{Comment: buildProofCommentPayload(comment)})
}

type proofResponse struct {
	Proof proofPayload `json:"proof"`
}

type proofListResponse struct {
	Items         []proofPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type proofPayload struct {
	ID                  string         `json:"id"`
	OrderID             string         `json:"order_id"`
	VersionNumber       int            `json:"version_number"`
	Title               string         `json:"title"`
	Description         string         `json:"description,omitempty"`
	ImageRefs           []string       `json:"image_refs"`
	DesignFileRefs      []string       `json:"design_file_refs,omitempty"`
	EstimatedTurnaround string         `json:"estimated_turnaround,omitempty"`
	Status              string         `json:"status"`
	Feedback            string         `json:"feedback,omitempty"`
	Rating              *int           `json:"rating,omitempty"`
	ChangeRequest       map[string]any `json:"change_request,omitempty"`
	IsFinal             bool           `json:"is_final,omitempty"`
	SubmittedAt         string         `json:"submitted_at"`
	ReviewedAt          string         `json:"reviewed_at,omitempty"`
	ApprovedAt          string         `json:"approved_at,omitempty"`
	CreatedAt           string         `json:"created_at"`
	UpdatedAt           string         `json:"updated_at,omitempty"`
}

type proofVersionListResponse struct {
	Items []proofVersionPayload `json:"items"`
}

type proofVersionPayload struct {
	ID            string   `json:"id"`
	ProofID       string   `json:"proof_id"`
	VersionNumber int      `json:"version_number"`
	ChangeSummary string   `json:"change_summary,omitempty"`
	ChangedBy     string   `json:"changed_by,omitempty"`
	ImageRefs     []string `json:"image_refs,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

type proofCommentResponse struct {
	Comment proofCommentPayload `json:"comment"`
}

type proofCommentListResponse struct {
	Items         []proofCommentPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type proofCommentPayload struct {
	ID         string                `json:"id"`
	ProofID    string                `json:"proof_id"`
	AuthorID   string                `json:"author_id"`
	AuthorRole string                `json:"author_role,omitempty"`
	Text       string                `json:"text"`
	Anchor     *commentAnchorPayload `json:"anchor,omitempty"`
	ParentID   *string               `json:"parent_id,omitempty"`
	Resolved   bool                  `json:"resolved"`
	ResolvedAt string                `json:"resolved_at,omitempty"`
	ResolvedBy *string               `json:"resolved_by,omitempty"`
	CreatedAt  string                `json:"created_at"`
}

func buildProofPayload(proof services.Proof) proofPayload {
	payload := proofPayload{
		ID:                  strings.TrimSpace(proof.ID),
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
		SubmittedAt:         formatTime(proof.SubmittedAt),
		ReviewedAt:          formatTime(pointerTime(proof.ReviewedAt)),
		ApprovedAt:          formatTime(pointerTime(proof.ApprovedAt)),
		CreatedAt:           formatTime(proof.CreatedAt),
		UpdatedAt:           formatTime(proof.UpdatedAt),
	}
	if payload.ImageRefs == nil {
		payload.ImageRefs = []string{}
	}
	return payload
}

func buildProofCommentPayload(comment services.ProofComment) proofCommentPayload {
	payload := proofCommentPayload{
		ID:         strings.TrimSpace(comment.ID),
		ProofID:    strings.TrimSpace(comment.ProofID),
		AuthorID:   strings.TrimSpace(comment.AuthorID),
		AuthorRole: strings.TrimSpace(comment.AuthorRole),
		Text:       comment.Text,
		ParentID:   cloneStringPointer(comment.ParentID),
		Resolved:   comment.Resolved,
		ResolvedAt: formatTime(pointerTime(comment.ResolvedAt)),
		ResolvedBy: cloneStringPointer(comment.ResolvedBy),
		CreatedAt:  formatTime(comment.CreatedAt),
	}
	if comment.Anchor != nil {
		payload.Anchor = &commentAnchorPayload{
			ImageRef: comment.Anchor.ImageRef,
			X:        comment.Anchor.X,
			Y:        comment.Anchor.Y,
			Width:    comment.Anchor.Width,
			Height:   comment.Anchor.Height,
		}
	}
	return payload
}

func parseProofDecision(raw string) (services.ProofDecision, bool) {
	switch services.ProofDecision(strings.TrimSpace(strings.ToLower(raw))) {
	case services.ProofDecisionApprove:
		return services.ProofDecisionApprove, true
	case services.ProofDecisionReject:
		return services.ProofDecisionReject, true
	case services.ProofDecisionRequestRevision:
		return services.ProofDecisionRequestRevision, true
	default:
		return "", false
	}
}

func writeProofError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrProofInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProofNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("proof_not_found", "proof not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProofAlreadyPending):
		httpx.WriteError(ctx, w, httpx.NewError("proof_already_pending", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProofFinalized):
		httpx.WriteError(ctx, w, httpx.NewError("proof_finalized", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProofConflict):
		httpx.WriteError(ctx, w, httpx.NewError("proof_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProofInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("proof_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("proof_error", "failed to process proof request", http.StatusInternalServerError))
	}
}
