package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	"github.com/noah-isme/tutor-core-api/pkg/response"
)

type subscriptionService interface {
	Purchase(ctx context.Context, actor models.Actor, req dto.PurchaseSubscriptionRequest) (*dto.PurchaseSubscriptionResponse, error)
	RetryPayment(ctx context.Context, actor models.Actor, subscriptionID string) (*dto.PurchaseSubscriptionResponse, error)
	GetSubscription(ctx context.Context, actor models.Actor, id string) (*models.SubscriptionWithReservations, error)
	ListByStudent(ctx context.Context, actor models.Actor, studentID string) ([]models.Subscription, error)
	Cancel(ctx context.Context, actor models.Actor, id string, req dto.CancelSubscriptionRequest) (*models.Subscription, error)
}

// SubscriptionHandler exposes package purchases and their recurring reservations.
type SubscriptionHandler struct {
	service subscriptionService
}

// NewSubscriptionHandler constructs the handler.
func NewSubscriptionHandler(service subscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// Purchase godoc
// @Summary Purchase a package and reserve its weekly slots
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param payload body dto.PurchaseSubscriptionRequest true "Purchase"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /subscriptions [post]
func (h *SubscriptionHandler) Purchase(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.PurchaseSubscriptionRequest
	if !bindJSON(c, &req, "invalid subscription payload") {
		return
	}
	resp, err := h.service.Purchase(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// RetryPayment godoc
// @Summary Regenerate reservations and checkout for a pending subscription
// @Tags Subscriptions
// @Produce json
// @Param id path string true "Subscription ID"
// @Success 200 {object} response.Envelope
// @Router /subscriptions/{id}/retry-payment [post]
func (h *SubscriptionHandler) RetryPayment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	resp, err := h.service.RetryPayment(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Get godoc
// @Summary Subscription with its reservations
// @Tags Subscriptions
// @Produce json
// @Param id path string true "Subscription ID"
// @Success 200 {object} response.Envelope
// @Router /subscriptions/{id} [get]
func (h *SubscriptionHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	subscription, err := h.service.GetSubscription(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subscription, nil)
}

// ListByStudent godoc
// @Summary Subscriptions of a student
// @Tags Subscriptions
// @Produce json
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{studentId}/subscriptions [get]
func (h *SubscriptionHandler) ListByStudent(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	subscriptions, err := h.service.ListByStudent(c.Request.Context(), actor, c.Param("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subscriptions, nil)
}

// Cancel godoc
// @Summary Cancel a subscription and its open reservations
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param id path string true "Subscription ID"
// @Param payload body dto.CancelSubscriptionRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /subscriptions/{id}/cancel [post]
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CancelSubscriptionRequest
	if !bindOptionalJSON(c, &req, "invalid cancel payload") {
		return
	}
	subscription, err := h.service.Cancel(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subscription, nil)
}
