package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-api/internal/service"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

// FeeHandler exposes the student fee ledger: generation, status and
// statements, recalculation, and session rollover.
type FeeHandler struct {
	obligations *service.ObligationService
	status      *service.StatusService
	rollovers   *service.RolloverService
}

// NewFeeHandler constructs handler.
func NewFeeHandler(obligations *service.ObligationService, status *service.StatusService, rollovers *service.RolloverService) *FeeHandler {
	return &FeeHandler{obligations: obligations, status: status, rollovers: rollovers}
}

// Generate godoc
// @Summary Seed monthly obligations for a student's session
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.GenerateObligationsRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Router /students/{id}/obligations [post]
func (h *FeeHandler) Generate(c *gin.Context) {
	var req service.GenerateObligationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	obligations, err := h.obligations.Generate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, obligations)
}

// Recalculate godoc
// @Summary Supersede and regenerate a student's session obligations
// @Tags Fees
// @Produce json
// @Param id path string true "Student ID"
// @Param sessionId query string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/obligations/recalculate [post]
func (h *FeeHandler) Recalculate(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "sessionId is required"))
		return
	}
	obligations, err := h.obligations.Recalculate(c.Request.Context(), c.Param("id"), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, obligations, nil)
}

// MonthlyStatus godoc
// @Summary Per-month and aggregate fee status for a student's session
// @Tags Fees
// @Produce json
// @Param id path string true "Student ID"
// @Param sessionId query string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/fees [get]
func (h *FeeHandler) MonthlyStatus(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "sessionId is required"))
		return
	}
	status, err := h.status.MonthlyStatus(c.Request.Context(), c.Param("id"), sessionID, time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Statement godoc
// @Summary Export the session ledger as CSV or PDF
// @Tags Fees
// @Produce octet-stream
// @Param id path string true "Student ID"
// @Param sessionId query string true "Session ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /students/{id}/fees/statement [get]
func (h *FeeHandler) Statement(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "sessionId is required"))
		return
	}
	format := c.DefaultQuery("format", "csv")
	payload, filename, err := h.status.Statement(c.Request.Context(), c.Param("id"), sessionID, format, time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	contentType := "text/csv"
	if format == "pdf" {
		contentType = "application/pdf"
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, payload)
}

// Rollover godoc
// @Summary Close a session's ledger and seed the next one
// @Tags Fees
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.RolloverRequest true "Rollover payload"
// @Success 201 {object} response.Envelope
// @Router /students/{id}/rollover [post]
func (h *FeeHandler) Rollover(c *gin.Context) {
	var req service.RolloverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.rollovers.Rollover(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}
