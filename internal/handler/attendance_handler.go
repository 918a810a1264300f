package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nmarchetti/studio-api/internal/models"
	"github.com/nmarchetti/studio-api/internal/service"
	appErrors "github.com/nmarchetti/studio-api/pkg/errors"
	"github.com/nmarchetti/studio-api/pkg/response"
)

// AttendanceHandler exposes check-in endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
	metrics    *service.MetricsService
}

// NewAttendanceHandler constructs AttendanceHandler. metrics may be nil.
func NewAttendanceHandler(attendance *service.AttendanceService, metrics *service.MetricsService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance, metrics: metrics}
}

// Mark godoc
// @Summary Mark a student's attendance for a class occurrence
// @Description Sets the status for (student, schedule, date). Present and
// @Description unnotified absence debit one credit on first mark; credit_type
// @Description picks the pool, defaulting to the class kind. Marking pending
// @Description resets the check-in without refunding.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.MarkRequest true "Mark payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/mark [post]
func (h *AttendanceHandler) Mark(c *gin.Context) {
	var req service.MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.attendance.Mark(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordAttendanceMark(string(result.Status))
	if result.Debited {
		h.metrics.RecordCheckInDebit()
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Roster godoc
// @Summary Get the sheet for one class occurrence
// @Description Every enrolled student with their stored status; students
// @Description without a row show as pending.
// @Tags Attendance
// @Produce json
// @Param scheduleId path string true "Schedule ID"
// @Param date query string true "Occurrence date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /schedules/{scheduleId}/roster [get]
func (h *AttendanceHandler) Roster(c *gin.Context) {
	roster, err := h.attendance.Roster(c.Request.Context(), c.Param("scheduleId"), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// History godoc
// @Summary Get a student's attendance history
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/attendance [get]
func (h *AttendanceHandler) History(c *gin.Context) {
	rows, err := h.attendance.History(c.Request.Context(), service.HistoryRequest{
		StudentID: c.Param("id"),
		FromDate:  c.Query("from"),
		ToDate:    c.Query("to"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// List godoc
// @Summary List attendance records
// @Tags Attendance
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param schedule_id query string false "Filter by schedule"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	filter := models.AttendanceFilter{
		StudentID:  c.Query("student_id"),
		ScheduleID: c.Query("schedule_id"),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.AttendanceStatus(raw)
		filter.Status = &status
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = size
	}
	rows, pagination, err := h.attendance.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}
