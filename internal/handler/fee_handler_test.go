package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestFeeHandlerMonthlyStatusRequiresSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewFeeHandler(nil, nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/students/s1/fees", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.MonthlyStatus(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeeHandlerRecalculateRequiresSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewFeeHandler(nil, nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/students/s1/obligations/recalculate", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.Recalculate(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeeHandlerGenerateRejectsMalformedPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewFeeHandler(nil, nil, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/students/s1/obligations", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "s1"}}

	handler.Generate(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandlerAllocateRejectsMalformedPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewPaymentHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{"amount":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Allocate(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
