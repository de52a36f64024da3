package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	"github.com/noah-isme/tutor-core-api/pkg/response"
)

type sessionService interface {
	Start(ctx context.Context, actor models.Actor, reservationID string, req dto.SessionEventRequest) (*dto.SessionEventResponse, error)
	End(ctx context.Context, actor models.Actor, reservationID string, req dto.SessionEventRequest) (*dto.SessionEventResponse, error)
}

// SessionHandler receives live session events from the classroom collaborator.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler constructs the handler.
func NewSessionHandler(service sessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

// Start godoc
// @Summary Record the start of a live session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param reservationId path string true "Reservation ID"
// @Param payload body dto.SessionEventRequest false "Event time"
// @Success 200 {object} response.Envelope
// @Router /sessions/{reservationId}/start [post]
func (h *SessionHandler) Start(c *gin.Context) {
	h.handle(c, h.service.Start)
}

// End godoc
// @Summary Record the end of a live session and complete its reservation
// @Tags Sessions
// @Accept json
// @Produce json
// @Param reservationId path string true "Reservation ID"
// @Param payload body dto.SessionEventRequest false "Event time"
// @Success 200 {object} response.Envelope
// @Router /sessions/{reservationId}/end [post]
func (h *SessionHandler) End(c *gin.Context) {
	h.handle(c, h.service.End)
}

func (h *SessionHandler) handle(c *gin.Context, apply func(ctx context.Context, actor models.Actor, reservationID string, req dto.SessionEventRequest) (*dto.SessionEventResponse, error)) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.SessionEventRequest
	if !bindOptionalJSON(c, &req, "invalid session event payload") {
		return
	}
	resp, err := apply(c.Request.Context(), actor, c.Param("reservationId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}
