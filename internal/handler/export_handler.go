package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-api/internal/middleware"
	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/internal/service"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

// ExportHandler exposes asynchronous statement exports: request, poll,
// download.
type ExportHandler struct {
	exports *service.StatementExportService
}

// NewExportHandler constructs handler.
func NewExportHandler(exports *service.StatementExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// Request godoc
// @Summary Queue a statement export for a student's session
// @Tags Exports
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.StatementExportRequest true "Export payload"
// @Success 202 {object} response.Envelope
// @Router /students/{id}/fees/statement/export [post]
func (h *ExportHandler) Request(c *gin.Context) {
	var req service.StatementExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	requestedBy := ""
	if v, ok := c.Get(middleware.ContextUserKey); ok {
		if claims, ok := v.(*models.JWTClaims); ok {
			requestedBy = claims.UserID
		}
	}
	job, err := h.exports.Request(c.Request.Context(), c.Param("id"), req, requestedBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Status godoc
// @Summary Poll a statement export job
// @Tags Exports
// @Produce json
// @Param jobId path string true "Export job ID"
// @Success 200 {object} response.Envelope
// @Router /fees/exports/{jobId} [get]
func (h *ExportHandler) Status(c *gin.Context) {
	job, err := h.exports.Status(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download a finished statement via signed token
// @Tags Exports
// @Produce application/octet-stream
// @Param jobId path string true "Export job ID"
// @Param token query string true "Signed download token"
// @Success 200
// @Router /fees/exports/{jobId}/download [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.exports.ResolveDownload(c.Request.Context(), c.Param("jobId"), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck

	size := int64(-1)
	if info, err := result.File.Stat(); err == nil {
		size = info.Size()
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, size, mimeForFormat(result.Format), result.File, nil)
}

func mimeForFormat(format models.StatementFormat) string {
	if format == models.StatementFormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}
