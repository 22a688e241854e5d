package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/settlement/internal/adapter/http/dto"
	"github.com/iho/settlement/internal/usecase"
)

// PayoutHandler handles payout batches and seller payout profiles.
type PayoutHandler struct {
	payoutUC  *usecase.PayoutUseCase
	balanceUC *usecase.BalanceUseCase
}

// NewPayoutHandler creates a new PayoutHandler.
func NewPayoutHandler(payoutUC *usecase.PayoutUseCase, balanceUC *usecase.BalanceUseCase) *PayoutHandler {
	return &PayoutHandler{payoutUC: payoutUC, balanceUC: balanceUC}
}

// RunBatch runs a payout batch for one method and waits for its lines. A run
// with nobody eligible answers 204.
func (h *PayoutHandler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req dto.RunPayoutBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	// A disconnecting client must not abandon transfers mid-batch.
	ctx := context.WithoutCancel(r.Context())

	batch, err := h.payoutUC.RunBatch(ctx, req.Method)
	if err != nil {
		writeDomainError(w, r, "failed to run payout batch", err)
		return
	}

	if batch == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusCreated, dto.PayoutBatchFromDomain(batch))
}

// GetBatch returns a batch and its lines.
func (h *PayoutHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.payoutUC.GetBatchStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "failed to get payout batch", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PayoutBatchFromDomain(batch))
}

// UpsertProfile stores how and where a seller is paid.
func (h *PayoutHandler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req dto.PayoutProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	profile := req.ToDomain(chi.URLParam(r, "id"))
	if err := h.payoutUC.UpsertProfile(r.Context(), profile); err != nil {
		writeDomainError(w, r, "failed to save payout profile", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PayoutProfileFromDomain(profile))
}

// GetProfile returns a seller's payout profile.
func (h *PayoutHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.payoutUC.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "failed to get payout profile", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.PayoutProfileFromDomain(profile))
}

type eligibilityResponse struct {
	SellerID string `json:"seller_id"`
	Held     int64  `json:"held"`
	Eligible int64  `json:"eligible"`
}

// Eligibility reports how much of a seller's money balance the next batch
// would pay out and how much is still held.
func (h *PayoutHandler) Eligibility(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "id")

	eligible, err := h.balanceUC.EligibleForPayout(r.Context(), sellerID)
	if err != nil {
		writeDomainError(w, r, "failed to compute eligibility", err)
		return
	}

	held, err := h.balanceUC.HeldAmount(r.Context(), sellerID)
	if err != nil {
		writeDomainError(w, r, "failed to compute held amount", err)
		return
	}

	writeJSON(w, http.StatusOK, eligibilityResponse{SellerID: sellerID, Held: held, Eligible: eligible})
}
