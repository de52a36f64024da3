package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/middleware"
	"github.com/noah-isme/tutor-core-api/internal/models"
	"github.com/noah-isme/tutor-core-api/pkg/response"
)

type availabilityService interface {
	GetAvailability(ctx context.Context, teacherID, startDate, endDate string) ([]dto.DayAvailability, error)
}

type recurringWindowService interface {
	List(ctx context.Context, teacherID string, activeOnly bool) ([]models.RecurringWindow, error)
	Create(ctx context.Context, actor models.Actor, req dto.CreateRecurringWindowRequest) (*models.RecurringWindow, error)
	Update(ctx context.Context, actor models.Actor, id string, req dto.UpdateRecurringWindowRequest) (*models.RecurringWindow, error)
	Disable(ctx context.Context, actor models.Actor, id string) (*models.RecurringWindow, error)
}

// AvailabilityHandler serves teacher free time and the weekly windows it is computed from.
type AvailabilityHandler struct {
	availability availabilityService
	windows      recurringWindowService
}

// NewAvailabilityHandler constructs the handler.
func NewAvailabilityHandler(availability availabilityService, windows recurringWindowService) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability, windows: windows}
}

// Availability godoc
// @Summary Free time of a teacher per day
// @Tags Availability
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param startDate query string true "YYYY-MM-DD or RFC3339"
// @Param endDate query string true "YYYY-MM-DD or RFC3339"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/availability [get]
func (h *AvailabilityHandler) Availability(c *gin.Context) {
	startDate := strings.TrimSpace(c.Query("startDate"))
	endDate := strings.TrimSpace(c.Query("endDate"))
	days, err := h.availability.GetAvailability(c.Request.Context(), c.Param("teacherId"), startDate, endDate)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "days", len(days))
	response.JSON(c, http.StatusOK, days, nil, middleware.ExtractMeta(c))
}

// ListWindows godoc
// @Summary List recurring windows of a teacher
// @Tags Availability
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param active query bool false "Only active windows (default true)"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/windows [get]
func (h *AvailabilityHandler) ListWindows(c *gin.Context) {
	windows, err := h.windows.List(c.Request.Context(), c.Param("teacherId"), queryBool(c, "active", true))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, windows, nil)
}

// CreateWindow godoc
// @Summary Publish a recurring window
// @Tags Availability
// @Accept json
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param payload body dto.CreateRecurringWindowRequest true "Window"
// @Success 201 {object} response.Envelope
// @Router /teachers/{teacherId}/windows [post]
func (h *AvailabilityHandler) CreateWindow(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateRecurringWindowRequest
	if !bindJSON(c, &req, "invalid window payload") {
		return
	}
	req.TeacherID = c.Param("teacherId")
	window, err := h.windows.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, window)
}

// UpdateWindow godoc
// @Summary Change a recurring window
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Window ID"
// @Param payload body dto.UpdateRecurringWindowRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /windows/{id} [patch]
func (h *AvailabilityHandler) UpdateWindow(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateRecurringWindowRequest
	if !bindJSON(c, &req, "invalid window payload") {
		return
	}
	window, err := h.windows.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}

// DisableWindow godoc
// @Summary Disable a recurring window
// @Tags Availability
// @Produce json
// @Param id path string true "Window ID"
// @Success 200 {object} response.Envelope
// @Router /windows/{id} [delete]
func (h *AvailabilityHandler) DisableWindow(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	window, err := h.windows.Disable(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}
