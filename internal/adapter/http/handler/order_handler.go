package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/settlement/internal/adapter/http/dto"
	"github.com/iho/settlement/internal/usecase"
)

// OrderHandler handles purchase and license requests.
type OrderHandler struct {
	orderUC  *usecase.OrderUseCase
	ledgerUC *usecase.LedgerUseCase
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderUC *usecase.OrderUseCase, ledgerUC *usecase.LedgerUseCase) *OrderHandler {
	return &OrderHandler{orderUC: orderUC, ledgerUC: ledgerUC}
}

// Create places an order. Credit orders complete immediately; money orders
// stay pending until the processor confirms payment, hence 202.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	order, err := h.orderUC.CreateOrder(r.Context(), req.ToUseCaseInput())
	if err != nil {
		writeDomainError(w, r, "failed to create order", err)
		return
	}

	status := http.StatusCreated
	if !order.Status.IsTerminal() {
		status = http.StatusAccepted
	}

	writeJSON(w, status, dto.OrderFromDomain(order))
}

// Get retrieves an order by ID.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderUC.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "failed to get order", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.OrderFromDomain(order))
}

// Entries lists every ledger entry linked to an order.
func (h *OrderHandler) Entries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledgerUC.EntriesForOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "failed to list entries", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.EntriesFromDomain(entries))
}

// License returns the license issued for an order.
func (h *OrderHandler) License(w http.ResponseWriter, r *http.Request) {
	license, err := h.orderUC.GetLicense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, "failed to get license", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LicenseFromDomain(license))
}

// VerifyLicense looks a license up by its key.
func (h *OrderHandler) VerifyLicense(w http.ResponseWriter, r *http.Request) {
	license, err := h.orderUC.VerifyLicense(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeDomainError(w, r, "failed to verify license", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LicenseFromDomain(license))
}
