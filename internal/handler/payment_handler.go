package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-api/internal/service"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

// PaymentHandler exposes payment allocation endpoints.
type PaymentHandler struct {
	allocations *service.AllocationService
}

// NewPaymentHandler constructs handler.
func NewPaymentHandler(allocations *service.AllocationService) *PaymentHandler {
	return &PaymentHandler{allocations: allocations}
}

// Allocate godoc
// @Summary Record a payment event and allocate it across open obligations
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.AllocatePaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Router /payments [post]
func (h *PaymentHandler) Allocate(c *gin.Context) {
	var req service.AllocatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.allocations.Allocate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Replayed {
		response.JSON(c, http.StatusOK, result, nil)
		return
	}
	response.Created(c, result)
}

// Result godoc
// @Summary Fetch the stored allocation outcome for a payment event
// @Tags Payments
// @Produce json
// @Param id path string true "Payment event ID"
// @Success 200 {object} response.Envelope
// @Router /payments/{id} [get]
func (h *PaymentHandler) Result(c *gin.Context) {
	result, err := h.allocations.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
