package handlers

import (
	"io"
	"log"
	"net/http"

	"github.com/ruralpay/marketpay/internal/services"
)

type WebhookHandler struct {
	gateway *services.WebhookGateway
}

func NewWebhookHandler(gateway *services.WebhookGateway) *WebhookHandler {
	return &WebhookHandler{gateway: gateway}
}

// PaymentProvider receives provider callbacks
// @Summary Payment provider webhook
// @Description Reconcile a signed wallet.load or transaction.payout callback
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Signature header string true "HMAC-SHA256 of the raw body"
// @Success 200 {object} object{detail=string}
// @Failure 400 {object} object{detail=string}
// @Failure 401 {object} object{detail=string}
// @Router /webhooks/payment-provider [post]
func (h *WebhookHandler) PaymentProvider(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[WEBHOOK] failed to read body: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid JSON payload"})
		return
	}

	res := h.gateway.Handle(r.Context(), body, r.Header, actorFrom(r))
	writeJSON(w, res.Status, res.Body)
}
