package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nmarchetti/studio-api/internal/service"
	"github.com/nmarchetti/studio-api/pkg/response"
)

// NotificationHandler exposes manual notification triggers.
type NotificationHandler struct {
	alerts        *service.AlertService
	notifications *service.NotificationService
}

// NewNotificationHandler constructs NotificationHandler.
func NewNotificationHandler(alerts *service.AlertService, notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{alerts: alerts, notifications: notifications}
}

// SendLowCreditDigest godoc
// @Summary Send the low-credit reminder emails now
// @Description Runs the same digest the scheduler performs periodically.
// @Description Sends are sequential and best-effort; failed addresses are
// @Description listed in the report.
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/low-credit-digest [post]
func (h *NotificationHandler) SendLowCreditDigest(c *gin.Context) {
	students, err := h.alerts.LowCredits(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	report := h.notifications.SendLowCreditDigest(c.Request.Context(), students)
	response.JSON(c, http.StatusOK, report, nil)
}
