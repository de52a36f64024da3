package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
	"github.com/noah-isme/tutor-core-api/pkg/payment"
	"github.com/noah-isme/tutor-core-api/pkg/response"
)

const maxWebhookBody = 64 << 10

type paymentWebhookService interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (*dto.PaymentCallbackResult, error)
}

// PaymentHandler receives callbacks from the payment provider.
type PaymentHandler struct {
	service paymentWebhookService
}

// NewPaymentHandler constructs the handler.
func NewPaymentHandler(service paymentWebhookService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// Callback godoc
// @Summary Payment provider webhook
// @Tags Payments
// @Accept json
// @Produce json
// @Param X-Signature header string true "Hex HMAC-SHA256 of the body"
// @Param payload body dto.PaymentCallbackRequest true "Callback"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /payments/callback [post]
func (h *PaymentHandler) Callback(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable callback body"))
		return
	}
	result, err := h.service.HandleWebhook(c.Request.Context(), body, c.GetHeader(payment.SignatureHeader))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
