package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nmarchetti/studio-api/internal/service"
	appErrors "github.com/nmarchetti/studio-api/pkg/errors"
	"github.com/nmarchetti/studio-api/pkg/response"
)

// CreditHandler exposes the credit mutation and ledger endpoints.
type CreditHandler struct {
	credits *service.CreditService
	metrics *service.MetricsService
}

// NewCreditHandler constructs CreditHandler. metrics may be nil.
func NewCreditHandler(credits *service.CreditService, metrics *service.MetricsService) *CreditHandler {
	return &CreditHandler{credits: credits, metrics: metrics}
}

// Adjust godoc
// @Summary Apply a credit balance change
// @Description Records a purchase or correction as one atomic mutation:
// @Description pool update plus appended ledger entry.
// @Tags Credits
// @Accept json
// @Produce json
// @Param payload body service.AdjustBalanceRequest true "Mutation payload"
// @Success 201 {object} response.Envelope
// @Router /credits/adjust [post]
func (h *CreditHandler) Adjust(c *gin.Context) {
	var req service.AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.credits.AdjustBalance(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordCreditMutation(req.CreditType, req.ChangeAmount)
	response.Created(c, result)
}

// Snapshot godoc
// @Summary Get a student's current balances
// @Tags Credits
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/credits [get]
func (h *CreditHandler) Snapshot(c *gin.Context) {
	snapshot, err := h.credits.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Ledger godoc
// @Summary Query the balance history
// @Description Entries come back newest-first. Dates are studio-local
// @Description calendar days, both bounds inclusive.
// @Tags Credits
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param limit query int false "Max entries"
// @Success 200 {object} response.Envelope
// @Router /credits/ledger [get]
func (h *CreditHandler) Ledger(c *gin.Context) {
	req := service.LedgerRequest{
		StudentID: c.Query("student_id"),
		FromDate:  c.Query("from"),
		ToDate:    c.Query("to"),
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "0")); err == nil {
		req.Limit = limit
	}
	entries, err := h.credits.Ledger(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Audit godoc
// @Summary Verify a student's ledger against their balances
// @Tags Credits
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/credits/audit [get]
func (h *CreditHandler) Audit(c *gin.Context) {
	audits, err := h.credits.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, audits, nil)
}
