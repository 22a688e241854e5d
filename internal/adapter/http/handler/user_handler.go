package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/settlement/internal/adapter/http/dto"
	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

const defaultEntriesLimit = 100

// UserHandler serves balances, ledger history and account administration
// for one user.
type UserHandler struct {
	balanceUC   *usecase.BalanceUseCase
	ledgerUC    *usecase.LedgerUseCase
	creditUC    *usecase.CreditUseCase
	reconcileUC *usecase.ReconciliationUseCase
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(
	balanceUC *usecase.BalanceUseCase,
	ledgerUC *usecase.LedgerUseCase,
	creditUC *usecase.CreditUseCase,
	reconcileUC *usecase.ReconciliationUseCase,
) *UserHandler {
	return &UserHandler{
		balanceUC:   balanceUC,
		ledgerUC:    ledgerUC,
		creditUC:    creditUC,
		reconcileUC: reconcileUC,
	}
}

// Balance returns the user's balance in one denomination.
func (h *UserHandler) Balance(w http.ResponseWriter, r *http.Request) {
	d := domain.Denomination(chi.URLParam(r, "denomination"))

	balance, err := h.balanceUC.GetBalance(r.Context(), chi.URLParam(r, "id"), d)
	if err != nil {
		writeDomainError(w, r, "failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceFromDomain(balance))
}

// Entries pages through the user's entries in one denomination. Use the last
// entry's version as after_version to fetch the next page.
func (h *UserHandler) Entries(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	d := domain.Denomination(r.URL.Query().Get("denomination"))
	if d == "" {
		d = domain.DenominationMoney
	}

	entries, err := h.ledgerUC.EntriesFor(r.Context(), usecase.EntriesForInput{
		Party:        userID,
		Denomination: d,
		AfterVersion: int64(parseIntQuery(r, "after_version", 0)),
		Limit:        parseIntQuery(r, "limit", defaultEntriesLimit),
	})
	if err != nil {
		writeDomainError(w, r, "failed to list entries", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.EntriesFromDomain(entries))
}

// GrantCredits adds platform credits to the user.
func (h *UserHandler) GrantCredits(w http.ResponseWriter, r *http.Request) {
	var req dto.GrantCreditsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	result, err := h.creditUC.Grant(r.Context(), req.ToUseCaseInput(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, "failed to grant credits", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.CommitFromDomain(result))
}

// Reconcile compares the user's cached balances with a ledger replay. A
// mismatch freezes the user and is answered with 423 and the report.
func (h *UserHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcileUC.Reconcile(r.Context(), chi.URLParam(r, "id"))

	var mismatch *domain.ReconciliationMismatchError
	switch {
	case errors.As(err, &mismatch) && report != nil:
		writeJSON(w, http.StatusLocked, dto.ReconciliationFromReport(report))
	case err != nil:
		writeDomainError(w, r, "failed to reconcile", err)
	default:
		writeJSON(w, http.StatusOK, dto.ReconciliationFromReport(report))
	}
}

// Unfreeze lifts an audit freeze after manual review.
func (h *UserHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	var req dto.UnfreezeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := h.reconcileUC.Unfreeze(r.Context(), chi.URLParam(r, "id"), req.Actor); err != nil {
		writeDomainError(w, r, "failed to unfreeze", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
