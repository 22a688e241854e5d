package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/settlement/internal/adapter/http/dto"
	"github.com/iho/settlement/internal/usecase"
)

// CatalogHandler receives listing projections from the catalog service.
type CatalogHandler struct {
	catalogUC *usecase.CatalogUseCase
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(catalogUC *usecase.CatalogUseCase) *CatalogHandler {
	return &CatalogHandler{catalogUC: catalogUC}
}

// Upsert creates or replaces a listing projection.
func (h *CatalogHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req dto.UpsertListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	listing, err := req.ToDomain(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing", err.Error())
		return
	}

	saved, err := h.catalogUC.UpsertListing(r.Context(), listing)
	if err != nil {
		writeDomainError(w, r, "failed to save listing", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListingFromDomain(saved))
}

// Get returns a listing projection.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	listing, err := h.catalogUC.GetListing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "failed to get listing", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ListingFromDomain(listing))
}
