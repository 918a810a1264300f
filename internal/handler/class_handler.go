package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nmarchetti/studio-api/internal/service"
	appErrors "github.com/nmarchetti/studio-api/pkg/errors"
	"github.com/nmarchetti/studio-api/pkg/response"
)

// ClassHandler exposes class, schedule and enrollment endpoints.
type ClassHandler struct {
	classes *service.ClassService
}

// NewClassHandler constructs ClassHandler.
func NewClassHandler(classes *service.ClassService) *ClassHandler {
	return &ClassHandler{classes: classes}
}

// List godoc
// @Summary List class offerings
// @Tags Classes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	classes, err := h.classes.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, nil)
}

// Get godoc
// @Summary Get a class with its weekly slots
// @Tags Classes
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	class, schedules, err := h.classes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"class": class, "schedules": schedules}, nil)
}

// Create godoc
// @Summary Create a class offering
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body service.CreateClassRequest true "Class payload"
// @Success 201 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	var req service.CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	class, err := h.classes.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// CreateSchedule godoc
// @Summary Add a weekly slot to a class
// @Tags Classes
// @Accept json
// @Produce json
// @Param payload body service.CreateScheduleRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Router /schedules [post]
func (h *ClassHandler) CreateSchedule(c *gin.Context) {
	var req service.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	schedule, err := h.classes.CreateSchedule(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, schedule)
}

type enrollmentRequest struct {
	StudentID string `json:"student_id" binding:"required"`
}

// Enroll godoc
// @Summary Enroll a student into a weekly slot
// @Tags Classes
// @Accept json
// @Produce json
// @Param scheduleId path string true "Schedule ID"
// @Param payload body enrollmentRequest true "Enrollment payload"
// @Success 204
// @Router /schedules/{scheduleId}/enrollments [post]
func (h *ClassHandler) Enroll(c *gin.Context) {
	var req enrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.classes.Enroll(c.Request.Context(), req.StudentID, c.Param("scheduleId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Unenroll godoc
// @Summary Remove a student from a weekly slot
// @Tags Classes
// @Produce json
// @Param scheduleId path string true "Schedule ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /schedules/{scheduleId}/enrollments/{studentId} [delete]
func (h *ClassHandler) Unenroll(c *gin.Context) {
	if err := h.classes.Unenroll(c.Request.Context(), c.Param("studentId"), c.Param("scheduleId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
