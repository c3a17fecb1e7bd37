package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/craftyard/api/internal/platform/httpx"
	"github.com/craftyard/api/internal/services"
)

// PublicHandlers serves the unauthenticated surface: the personalization
// options a listing offers, shown on product pages before any sign-in.
type PublicHandlers struct {
	personalization services.PersonalizationService
}

// NewPublicHandlers constructs a new PublicHandlers instance.
func NewPublicHandlers(personalization services.PersonalizationService) *PublicHandlers {
	return &PublicHandlers{personalization: personalization}
}

// Routes registers the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/listings/{listingID}/personalization-configs", h.listListingConfigs)
}

func (h *PublicHandlers) listListingConfigs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.personalization == nil {
		httpx.WriteError(ctx, w, httpx.NewError("personalization_service_unavailable", "personalization service unavailable", http.StatusServiceUnavailable))
		return
	}

	listingID := strings.TrimSpace(chi.URLParam(r, "listingID"))
	if listingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "listing id is required", http.StatusBadRequest))
		return
	}

	// Disabled configs never leave the provider surface.
	configs, err := h.personalization.ListConfigs(ctx, listingID, true)
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
