package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-api/internal/middleware"
	"github.com/noah-isme/sma-fee-api/internal/service"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

// SiblingHandler exposes sibling detection for admissions tooling and the
// cache invalidation hook for the student-CRUD layer.
type SiblingHandler struct {
	siblings *service.SiblingService
}

// NewSiblingHandler constructs handler.
func NewSiblingHandler(siblings *service.SiblingService) *SiblingHandler {
	return &SiblingHandler{siblings: siblings}
}

// Detect godoc
// @Summary Resolve the sibling group and waiver for a student
// @Tags Siblings
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/siblings [get]
func (h *SiblingHandler) Detect(c *gin.Context) {
	info, err := h.siblings.Detect(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, info, nil, middleware.ExtractMeta(c))
}

// Invalidate godoc
// @Summary Drop the cached sibling grouping after a guardian edit
// @Tags Siblings
// @Param id path string true "Student ID"
// @Success 204
// @Router /students/{id}/siblings/invalidate [post]
func (h *SiblingHandler) Invalidate(c *gin.Context) {
	if err := h.siblings.Invalidate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
