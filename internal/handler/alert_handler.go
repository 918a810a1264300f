package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nmarchetti/studio-api/internal/service"
	"github.com/nmarchetti/studio-api/pkg/response"
)

// AlertHandler exposes derived credit alert listings.
type AlertHandler struct {
	alerts *service.AlertService
}

// NewAlertHandler constructs AlertHandler.
func NewAlertHandler(alerts *service.AlertService) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// LowCredits godoc
// @Summary List students with low combined credits
// @Description Derived at query time from current balances; students at
// @Description exactly the threshold are included.
// @Tags Alerts
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /alerts/low-credits [get]
func (h *AlertHandler) LowCredits(c *gin.Context) {
	students, err := h.alerts.LowCredits(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil, map[string]interface{}{
		"threshold": h.alerts.Threshold(),
	})
}

// ZeroCredits godoc
// @Summary List students with no credits left
// @Description Includes negative balances left by corrections.
// @Tags Alerts
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /alerts/zero-credits [get]
func (h *AlertHandler) ZeroCredits(c *gin.Context) {
	students, err := h.alerts.ZeroCredits(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}
