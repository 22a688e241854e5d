package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/settlement/internal/adapter/http/dto"
	"github.com/iho/settlement/internal/usecase"
)

// DisputeHandler handles dispute lifecycle requests.
type DisputeHandler struct {
	disputeUC *usecase.DisputeUseCase
}

// NewDisputeHandler creates a new DisputeHandler.
func NewDisputeHandler(disputeUC *usecase.DisputeUseCase) *DisputeHandler {
	return &DisputeHandler{disputeUC: disputeUC}
}

// Open opens the dispute of an order.
func (h *DisputeHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req dto.OpenDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	dispute, err := h.disputeUC.OpenDispute(r.Context(), req.ToUseCaseInput(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, "failed to open dispute", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.DisputeFromDomain(dispute))
}

// Get retrieves a dispute by ID.
func (h *DisputeHandler) Get(w http.ResponseWriter, r *http.Request) {
	dispute, err := h.disputeUC.GetDispute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "failed to get dispute", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.DisputeFromDomain(dispute))
}

// Review moves an open dispute into review.
func (h *DisputeHandler) Review(w http.ResponseWriter, r *http.Request) {
	var req dto.DisputeActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	dispute, err := h.disputeUC.StartReview(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		writeDomainError(w, r, "failed to start review", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.DisputeFromDomain(dispute))
}

// Resolve decides a dispute with a refund amount, possibly zero.
func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req dto.ResolveDisputeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	dispute, err := h.disputeUC.ResolveDispute(r.Context(), req.ToUseCaseInput(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, "failed to resolve dispute", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.DisputeFromDomain(dispute))
}

// Close ends a dispute without moving money.
func (h *DisputeHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req dto.DisputeActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	dispute, err := h.disputeUC.CloseDispute(r.Context(), chi.URLParam(r, "id"), req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, r, "failed to close dispute", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.DisputeFromDomain(dispute))
}
