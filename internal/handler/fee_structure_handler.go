package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-api/internal/models"
	"github.com/noah-isme/sma-fee-api/internal/service"
	appErrors "github.com/noah-isme/sma-fee-api/pkg/errors"
	"github.com/noah-isme/sma-fee-api/pkg/response"
)

// FeeStructureHandler serves the admin surface for annual fee structures.
type FeeStructureHandler struct {
	structures *service.FeeStructureService
}

// NewFeeStructureHandler constructs handler.
func NewFeeStructureHandler(structures *service.FeeStructureService) *FeeStructureHandler {
	return &FeeStructureHandler{structures: structures}
}

// Create godoc
// @Summary Register the annual fee structure for a class and session
// @Tags FeeStructures
// @Accept json
// @Produce json
// @Param payload body service.CreateFeeStructureRequest true "Fee structure"
// @Success 201 {object} response.Envelope
// @Router /fee-structures [post]
func (h *FeeStructureHandler) Create(c *gin.Context) {
	var req service.CreateFeeStructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	structure, err := h.structures.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, structure)
}

// List godoc
// @Summary List fee structures
// @Tags FeeStructures
// @Produce json
// @Param classId query string false "Class ID"
// @Param sessionId query string false "Session ID"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /fee-structures [get]
func (h *FeeStructureHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	filter := models.FeeStructureFilter{
		ClassID:   c.Query("classId"),
		SessionID: c.Query("sessionId"),
		Page:      page,
		PageSize:  pageSize,
	}
	structures, pagination, err := h.structures.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, structures, pagination)
}
