package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
)

type paymentSubscriptionStore interface {
	FindByPaymentReferenceForUpdate(ctx context.Context, exec sqlx.ExtContext, reference string) (*models.Subscription, error)
	TransitionStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.SubscriptionStatus) error
}

type subscriptionReservationUpdater interface {
	TransitionBySubscription(ctx context.Context, exec sqlx.ExtContext, subscriptionID string, change models.ReservationStatusChange) (int64, error)
}

type webhookVerifier interface {
	Verify(body []byte, signature string) error
}

// PaymentService applies payment provider callbacks to subscriptions and their reservations.
type PaymentService struct {
	subscriptions paymentSubscriptionStore
	reservations  subscriptionReservationUpdater
	tx            txRunner
	verifier      webhookVerifier
	invalidator   availabilityInvalidator
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
	now           func() time.Time
}

// NewPaymentService constructs the service. A nil verifier accepts unsigned callbacks.
func NewPaymentService(
	subscriptions paymentSubscriptionStore,
	reservations subscriptionReservationUpdater,
	tx txRunner,
	verifier webhookVerifier,
	invalidator availabilityInvalidator,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	return &PaymentService{
		subscriptions: subscriptions,
		reservations:  reservations,
		tx:            tx,
		verifier:      verifier,
		invalidator:   invalidator,
		metrics:       metrics,
		validator:     validate,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// HandleWebhook authenticates the raw callback body and applies it.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (*dto.PaymentCallbackResult, error) {
	if s.verifier != nil {
		if err := s.verifier.Verify(body, signature); err != nil {
			s.metrics.RecordPaymentCallback("unknown", "rejected")
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook signature")
		}
	}
	var req dto.PaymentCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "malformed callback body")
	}
	return s.HandleCallback(ctx, req)
}

// HandleCallback moves a PENDING subscription to ACTIVE or CANCELLED together with its
// pending reservations. Callbacks for subscriptions already past PENDING are no-ops.
func (s *PaymentService) HandleCallback(ctx context.Context, req dto.PaymentCallbackRequest) (*dto.PaymentCallbackResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	result := &dto.PaymentCallbackResult{}
	var teacherID string
	err := s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		subscription, err := s.subscriptions.FindByPaymentReferenceForUpdate(ctx, exec, req.Reference)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "no subscription for payment reference")
			}
			return err
		}
		result.SubscriptionID = subscription.ID
		result.Status = string(subscription.Status)
		teacherID = subscription.TeacherID

		if subscription.Status != models.SubscriptionStatusPending {
			result.Duplicate = true
			return nil
		}

		at := s.now()
		var (
			target models.SubscriptionStatus
			change models.ReservationStatusChange
		)
		switch req.Status {
		case dto.PaymentCallbackSuccess:
			target = models.SubscriptionStatusActive
			change = models.ReservationStatusChange{
				From:      models.ReservationStatusPending,
				To:        models.ReservationStatusConfirmed,
				At:        at,
				ActorID:   models.SystemActor.UserID,
				PaymentID: nonEmpty(req.PaymentID),
			}
		case dto.PaymentCallbackFailed:
			target = models.SubscriptionStatusCancelled
			reason := "payment failed"
			change = models.ReservationStatusChange{
				From:         models.ReservationStatusPending,
				To:           models.ReservationStatusCancelled,
				At:           at,
				ActorID:      models.SystemActor.UserID,
				CancelReason: &reason,
			}
		default:
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown payment status %q", req.Status))
		}

		if err := s.subscriptions.TransitionStatus(ctx, exec, subscription.ID, models.SubscriptionStatusPending, target); err != nil {
			return err
		}
		moved, err := s.reservations.TransitionBySubscription(ctx, exec, subscription.ID, change)
		if err != nil {
			return err
		}
		result.Status = string(target)
		result.Reservations = int(moved)
		return nil
	})
	if err != nil {
		s.metrics.RecordPaymentCallback(string(req.Status), "error")
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply payment callback")
	}

	if result.Duplicate {
		s.metrics.RecordPaymentCallback(string(req.Status), "duplicate")
		s.logger.Info("payment callback ignored",
			zap.String("subscription_id", result.SubscriptionID),
			zap.String("callback_status", string(req.Status)),
			zap.String("subscription_status", result.Status),
		)
		return result, nil
	}

	s.metrics.RecordPaymentCallback(string(req.Status), "applied")
	if req.Status == dto.PaymentCallbackFailed {
		s.invalidator.InvalidateTeacher(ctx, teacherID)
	}
	s.logger.Info("payment callback applied",
		zap.String("subscription_id", result.SubscriptionID),
		zap.String("status", result.Status),
		zap.Int("reservations", result.Reservations),
	)
	return result, nil
}
