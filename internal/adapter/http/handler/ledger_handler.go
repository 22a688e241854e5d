package handler

import (
	"net/http"

	"github.com/iho/settlement/internal/adapter/http/dto"
	"github.com/iho/settlement/internal/usecase"
)

// LedgerHandler exposes ledger-wide checks.
type LedgerHandler struct {
	ledgerUC *usecase.LedgerUseCase
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerUC *usecase.LedgerUseCase) *LedgerHandler {
	return &LedgerHandler{ledgerUC: ledgerUC}
}

// Consistency checks that every order's clearing entries sum to zero. A
// violated ledger answers 500 with the offending orders.
func (h *LedgerHandler) Consistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledgerUC.CheckConsistency(r.Context())
	if err != nil {
		writeDomainError(w, r, "failed to check consistency", err)
		return
	}

	status := http.StatusOK
	if !report.Consistent {
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, dto.ConsistencyFromReport(report))
}
