package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"pod-booking-backend/internal/apperror"
)

// maxWebhookBytes mirrors the provider's documented payload ceiling.
const maxWebhookBytes = 65536

// PaymentWebhook handles POST /api/webhooks/payments. A 2xx acknowledges the
// delivery; anything else makes the provider retry.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	const op = "api.PaymentWebhook"
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		h.abortWithError(c, apperror.Validation(op, "unreadable body"))
		return
	}

	if err := h.svc.HandlePaymentWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
