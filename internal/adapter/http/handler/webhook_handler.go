package handler

import (
	"net/http"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// WebhookHandler receives processor notifications. Signatures are checked by
// middleware before the body reaches it.
type WebhookHandler struct {
	webhookUC *usecase.WebhookUseCase
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookUC *usecase.WebhookUseCase) *WebhookHandler {
	return &WebhookHandler{webhookUC: webhookUC}
}

// Processor applies one notification. Duplicates are acknowledged with 200 so
// the processor stops redelivering; failures answer an error status so it
// retries.
func (h *WebhookHandler) Processor(w http.ResponseWriter, r *http.Request) {
	var n domain.ProcessorNotification
	if err := decodeJSON(r, &n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification", err.Error())
		return
	}

	if err := h.webhookUC.HandleNotification(r.Context(), &n); err != nil {
		writeDomainError(w, r, "failed to apply notification", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
