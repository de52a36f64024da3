package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
	"github.com/noah-isme/tutor-core-api/pkg/response"
)

type reservationService interface {
	Book(ctx context.Context, actor models.Actor, req dto.BookReservationRequest) (*models.Reservation, error)
	Get(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error)
	ListByTeacher(ctx context.Context, actor models.Actor, teacherID string, query dto.ReservationQuery) ([]models.Reservation, *models.Pagination, error)
	ListByStudent(ctx context.Context, actor models.Actor, studentID string, query dto.ReservationQuery) ([]models.Reservation, *models.Pagination, error)
	Confirm(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error)
	Reject(ctx context.Context, actor models.Actor, id string, req dto.ReservationReasonRequest) (*models.Reservation, error)
	Cancel(ctx context.Context, actor models.Actor, id string, req dto.ReservationReasonRequest) (*models.Reservation, error)
	Complete(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error)
}

// ReservationHandler exposes single bookings and their lifecycle events.
type ReservationHandler struct {
	service reservationService
}

// NewReservationHandler constructs the handler.
func NewReservationHandler(service reservationService) *ReservationHandler {
	return &ReservationHandler{service: service}
}

// Book godoc
// @Summary Book a single session
// @Tags Reservations
// @Accept json
// @Produce json
// @Param payload body dto.BookReservationRequest true "Booking"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reservations [post]
func (h *ReservationHandler) Book(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.BookReservationRequest
	if !bindJSON(c, &req, "invalid reservation payload") {
		return
	}
	reservation, err := h.service.Book(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reservation)
}

// Get godoc
// @Summary Reservation detail
// @Tags Reservations
// @Produce json
// @Param id path string true "Reservation ID"
// @Success 200 {object} response.Envelope
// @Router /reservations/{id} [get]
func (h *ReservationHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	reservation, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reservation, nil)
}

// ListByTeacher godoc
// @Summary Reservations of a teacher
// @Tags Reservations
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param status query string false "Comma separated statuses"
// @Param from query string false "YYYY-MM-DD"
// @Param to query string false "YYYY-MM-DD"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/reservations [get]
func (h *ReservationHandler) ListByTeacher(c *gin.Context) {
	h.list(c, c.Param("teacherId"), h.service.ListByTeacher)
}

// ListByStudent godoc
// @Summary Reservations of a student
// @Tags Reservations
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/reservations [get]
func (h *ReservationHandler) ListByStudent(c *gin.Context) {
	h.list(c, c.Param("studentId"), h.service.ListByStudent)
}

type reservationLister func(ctx context.Context, actor models.Actor, ownerID string, query dto.ReservationQuery) ([]models.Reservation, *models.Pagination, error)

func (h *ReservationHandler) list(c *gin.Context, ownerID string, fetch reservationLister) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.ReservationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query parameters"))
		return
	}
	query.Status = splitStatuses(query.Status)
	reservations, pagination, err := fetch(c.Request.Context(), actor, ownerID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reservations, pagination)
}

// Confirm godoc
// @Summary Teacher accepts a pending reservation
// @Tags Reservations
// @Produce json
// @Param id path string true "Reservation ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reservations/{id}/confirm [post]
func (h *ReservationHandler) Confirm(c *gin.Context) {
	h.event(c, func(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error) {
		return h.service.Confirm(ctx, actor, id)
	})
}

// Reject godoc
// @Summary Teacher declines a pending reservation
// @Tags Reservations
// @Accept json
// @Produce json
// @Param id path string true "Reservation ID"
// @Param payload body dto.ReservationReasonRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /reservations/{id}/reject [post]
func (h *ReservationHandler) Reject(c *gin.Context) {
	var req dto.ReservationReasonRequest
	if !bindOptionalJSON(c, &req, "invalid reject payload") {
		return
	}
	h.event(c, func(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error) {
		return h.service.Reject(ctx, actor, id, req)
	})
}

// Cancel godoc
// @Summary Cancel a reservation
// @Tags Reservations
// @Accept json
// @Produce json
// @Param id path string true "Reservation ID"
// @Param payload body dto.ReservationReasonRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /reservations/{id}/cancel [post]
func (h *ReservationHandler) Cancel(c *gin.Context) {
	var req dto.ReservationReasonRequest
	if !bindOptionalJSON(c, &req, "invalid cancel payload") {
		return
	}
	h.event(c, func(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error) {
		return h.service.Cancel(ctx, actor, id, req)
	})
}

// Complete godoc
// @Summary Mark a confirmed reservation as held
// @Tags Reservations
// @Produce json
// @Param id path string true "Reservation ID"
// @Success 200 {object} response.Envelope
// @Router /reservations/{id}/complete [post]
func (h *ReservationHandler) Complete(c *gin.Context) {
	h.event(c, func(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error) {
		return h.service.Complete(ctx, actor, id)
	})
}

func (h *ReservationHandler) event(c *gin.Context, apply func(ctx context.Context, actor models.Actor, id string) (*models.Reservation, error)) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	reservation, err := apply(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reservation, nil)
}
