package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	"github.com/noah-isme/tutor-core-api/pkg/database"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
	"github.com/noah-isme/tutor-core-api/pkg/payment"
)

type subscriptionStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, subscription *models.Subscription) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Subscription, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Subscription, error)
	UpdatePayment(ctx context.Context, exec sqlx.ExtContext, id, reference, url string) error
	TransitionStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.SubscriptionStatus) error
}

type reservationStore interface {
	activeReservationReader
	Create(ctx context.Context, exec sqlx.ExtContext, reservation *models.Reservation) error
	BulkCreate(ctx context.Context, exec sqlx.ExtContext, reservations []models.Reservation) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Reservation, error)
	ListBySubscription(ctx context.Context, exec sqlx.ExtContext, subscriptionID string) ([]models.Reservation, error)
	List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, int, error)
	TransitionStatus(ctx context.Context, exec sqlx.ExtContext, change models.ReservationStatusChange) error
	TransitionBySubscription(ctx context.Context, exec sqlx.ExtContext, subscriptionID string, change models.ReservationStatusChange) (int64, error)
}

type catalogReader interface {
	teacherReader
	FindPackage(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Package, error)
}

type paymentGateway interface {
	CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error)
}

// SubscriptionConfig tunes subscription purchases.
type SubscriptionConfig struct {
	MaxSpanDays int
	ReturnURL   string
	Currency    string
}

// SubscriptionService sells packages and materialises their recurring reservations.
type SubscriptionService struct {
	subscriptions subscriptionStore
	reservations  reservationStore
	windows       recurringWindowReader
	catalog       catalogReader
	locker        scheduleLocker
	tx            txRunner
	gateway       paymentGateway
	generator     *SlotGenerator
	invalidator   availabilityInvalidator
	metrics       *MetricsService
	cfg           SubscriptionConfig
	validator     *validator.Validate
	logger        *zap.Logger
	now           func() time.Time
}

// NewSubscriptionService builds the service.
func NewSubscriptionService(
	subscriptions subscriptionStore,
	reservations reservationStore,
	windows recurringWindowReader,
	catalog catalogReader,
	locker scheduleLocker,
	tx txRunner,
	gateway paymentGateway,
	generator *SlotGenerator,
	invalidator availabilityInvalidator,
	metrics *MetricsService,
	cfg SubscriptionConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *SubscriptionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if generator == nil {
		generator = NewSlotGenerator(0)
	}
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	if cfg.MaxSpanDays <= 0 {
		cfg.MaxSpanDays = 366
	}
	return &SubscriptionService{
		subscriptions: subscriptions,
		reservations:  reservations,
		windows:       windows,
		catalog:       catalog,
		locker:        locker,
		tx:            tx,
		gateway:       gateway,
		generator:     generator,
		invalidator:   invalidator,
		metrics:       metrics,
		cfg:           cfg,
		validator:     validate,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Purchase validates the requested weekly slots, then atomically stores the subscription with every
// generated reservation. Either all occurrences over the span are reserved or none are.
func (s *SubscriptionService) Purchase(ctx context.Context, actor models.Actor, req dto.PurchaseSubscriptionRequest) (*dto.PurchaseSubscriptionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	studentID, err := resolveStudent(actor, req.StudentID)
	if err != nil {
		return nil, err
	}
	from, to, err := parseDateRange(req.StartDate, req.EndDate, s.cfg.MaxSpanDays)
	if err != nil {
		return nil, err
	}

	var slots models.SelectedSlots
	if req.IsRecurring() {
		if slots, err = s.generator.NormalizeSlots(req.SelectedSlots, req.LegacySlot); err != nil {
			return nil, err
		}
		if err := s.generator.ValidateNoSelfOverlap(slots); err != nil {
			return nil, err
		}
	}

	if err := s.ensureTeacher(ctx, req.TeacherID); err != nil {
		return nil, err
	}
	pkg, err := s.catalog.FindPackage(ctx, nil, req.PackageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "package not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load package")
	}
	if !pkg.IsActive {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "package is not available")
	}

	subscription := &models.Subscription{
		ID:            uuid.NewString(),
		StudentID:     studentID,
		TeacherID:     req.TeacherID,
		PackageID:     pkg.ID,
		SelectedSlots: slots,
		StartDate:     from,
		EndDate:       to,
		Status:        models.SubscriptionStatusPending,
		TotalPrice:    pkg.Price,
		Currency:      s.currency(pkg),
	}
	if pkg.IsFree() {
		subscription.Status = models.SubscriptionStatusActive
		subscription.TotalPrice = decimal.Zero
	}

	var (
		reservations []models.Reservation
		checkoutURL  *string
	)
	err = s.tx.WithinTx(ctx, database.Serializable(), func(exec sqlx.ExtContext) error {
		if err := s.subscriptions.Create(ctx, exec, subscription); err != nil {
			return err
		}
		created, err := s.generateAndReserve(ctx, exec, subscription)
		if err != nil {
			return err
		}
		reservations = created
		if pkg.IsFree() {
			return nil
		}
		url, err := s.checkout(ctx, exec, subscription)
		if err != nil {
			return err
		}
		checkoutURL = &url
		return nil
	})
	if err != nil {
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			return nil, s.persistAwaitingPayment(ctx, subscription, err)
		}
		return nil, translateScheduleError(err, "failed to create subscription")
	}

	s.invalidator.InvalidateTeacher(ctx, subscription.TeacherID)
	s.metrics.RecordReservationsCreated("subscription", len(reservations))
	s.logger.Info("subscription purchased",
		zap.String("subscription_id", subscription.ID),
		zap.String("teacher_id", subscription.TeacherID),
		zap.String("status", string(subscription.Status)),
		zap.Int("reservations", len(reservations)),
	)
	if reservations == nil {
		reservations = []models.Reservation{}
	}
	return &dto.PurchaseSubscriptionResponse{Subscription: subscription, Reservations: reservations, PaymentURL: checkoutURL}, nil
}

// RetryPayment regenerates the reservations of a subscription left PENDING by a failed checkout
// and requests a new checkout.
func (s *SubscriptionService) RetryPayment(ctx context.Context, actor models.Actor, subscriptionID string) (*dto.PurchaseSubscriptionResponse, error) {
	var (
		subscription *models.Subscription
		reservations []models.Reservation
		checkoutURL  string
	)
	err := s.tx.WithinTx(ctx, database.Serializable(), func(exec sqlx.ExtContext) error {
		current, err := s.loadSubscription(ctx, exec, subscriptionID)
		if err != nil {
			return err
		}
		if err := authorizeSubscriptionOwner(actor, current); err != nil {
			return err
		}
		if current.Status != models.SubscriptionStatusPending {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "only pending subscriptions can be paid")
		}
		if !current.TotalPrice.IsPositive() {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "subscription does not require payment")
		}

		existing, err := s.reservations.ListBySubscription(ctx, exec, current.ID)
		if err != nil {
			return err
		}
		reservations = activeOnly(existing)
		if len(reservations) == 0 && len(current.SelectedSlots) > 0 {
			if reservations, err = s.generateAndReserve(ctx, exec, current); err != nil {
				return err
			}
		}
		if checkoutURL, err = s.checkout(ctx, exec, current); err != nil {
			return err
		}
		subscription = current
		return nil
	})
	if err != nil {
		if errors.Is(err, payment.ErrGatewayUnavailable) {
			return nil, appErrors.Wrap(err, appErrors.ErrPaymentGateway.Code, appErrors.ErrPaymentGateway.Status, "payment gateway unavailable, subscription remains pending")
		}
		return nil, translateScheduleError(err, "failed to retry payment")
	}

	s.invalidator.InvalidateTeacher(ctx, subscription.TeacherID)
	return &dto.PurchaseSubscriptionResponse{Subscription: subscription, Reservations: reservations, PaymentURL: &checkoutURL}, nil
}

// GetSubscription returns a subscription with its reservations.
func (s *SubscriptionService) GetSubscription(ctx context.Context, actor models.Actor, id string) (*models.SubscriptionWithReservations, error) {
	subscription, err := s.loadSubscription(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeSubscriptionViewer(actor, subscription); err != nil {
		return nil, err
	}
	reservations, err := s.reservations.ListBySubscription(ctx, nil, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservations")
	}
	return &models.SubscriptionWithReservations{Subscription: subscription, Reservations: reservations}, nil
}

// ListByStudent returns a student's subscriptions.
func (s *SubscriptionService) ListByStudent(ctx context.Context, actor models.Actor, studentID string) ([]models.Subscription, error) {
	if !actor.IsPrivileged() && actor.UserID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot list another student's subscriptions")
	}
	subscriptions, err := s.subscriptions.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subscriptions")
	}
	return subscriptions, nil
}

// Cancel cancels the subscription and every non-terminal reservation it owns.
func (s *SubscriptionService) Cancel(ctx context.Context, actor models.Actor, id string, req dto.CancelSubscriptionRequest) (*models.Subscription, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	var subscription *models.Subscription
	err := s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		current, err := s.loadSubscription(ctx, exec, id)
		if err != nil {
			return err
		}
		if err := authorizeSubscriptionViewer(actor, current); err != nil {
			return err
		}
		if current.Status == models.SubscriptionStatusCancelled {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "subscription already cancelled")
		}
		if err := s.subscriptions.TransitionStatus(ctx, exec, current.ID, current.Status, models.SubscriptionStatusCancelled); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrConflict, "subscription changed concurrently")
			}
			return err
		}
		if err := cancelSubscriptionReservations(ctx, exec, s.reservations, current.ID, actor.UserID, nonEmpty(req.Reason), s.now()); err != nil {
			return err
		}
		current.Status = models.SubscriptionStatusCancelled
		subscription = current
		return nil
	})
	if err != nil {
		return nil, translateScheduleError(err, "failed to cancel subscription")
	}
	s.invalidator.InvalidateTeacher(ctx, subscription.TeacherID)
	s.logger.Info("subscription cancelled", zap.String("subscription_id", subscription.ID), zap.String("actor_id", actor.UserID))
	return subscription, nil
}

// generateAndReserve runs under the teacher lock: checks windows, expands occurrences, rejects the whole
// request when any occurrence conflicts and otherwise inserts every occurrence.
func (s *SubscriptionService) generateAndReserve(ctx context.Context, exec sqlx.ExtContext, subscription *models.Subscription) ([]models.Reservation, error) {
	if len(subscription.SelectedSlots) == 0 {
		return nil, nil
	}
	if err := s.locker.LockTeacher(ctx, exec, subscription.TeacherID); err != nil {
		return nil, err
	}

	windows, err := s.windows.ListByTeacher(ctx, exec, models.RecurringWindowFilter{TeacherID: subscription.TeacherID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	if err := s.generator.ValidateAgainstWindows(subscription.SelectedSlots, windows); err != nil {
		return nil, err
	}

	occurrences := s.generator.Expand(subscription.SelectedSlots, subscription.StartDate, subscription.EndDate)
	if len(occurrences) == 0 {
		return nil, nil
	}
	existing, err := s.reservations.ListActiveInRange(ctx, exec, subscription.TeacherID, subscription.StartDate, subscription.EndDate)
	if err != nil {
		return nil, err
	}
	if conflicts := s.generator.FindConflicts(occurrences, existing); len(conflicts) > 0 {
		s.metrics.RecordSlotConflict()
		return nil, conflictError(conflicts)
	}

	status := models.ReservationStatusPending
	var confirmedAt *time.Time
	if subscription.Status == models.SubscriptionStatusActive {
		now := s.now()
		status = models.ReservationStatusConfirmed
		confirmedAt = &now
	}
	prices := splitPrice(subscription.TotalPrice, len(occurrences))
	subscriptionID := subscription.ID

	reservations := make([]models.Reservation, len(occurrences))
	for i, occ := range occurrences {
		reservations[i] = models.Reservation{
			TeacherID:       subscription.TeacherID,
			StudentID:       subscription.StudentID,
			SubscriptionID:  &subscriptionID,
			Date:            occ.Date,
			StartTime:       occ.StartTime,
			DurationMinutes: occ.Duration,
			Status:          status,
			Price:           prices[i],
			ConfirmedAt:     confirmedAt,
		}
	}
	if err := s.reservations.BulkCreate(ctx, exec, reservations); err != nil {
		return nil, err
	}
	return reservations, nil
}

func (s *SubscriptionService) checkout(ctx context.Context, exec sqlx.ExtContext, subscription *models.Subscription) (string, error) {
	if s.gateway == nil {
		return "", fmt.Errorf("%w: no gateway configured", payment.ErrGatewayUnavailable)
	}
	result, err := s.gateway.CreateCheckout(ctx, payment.CheckoutRequest{
		Amount:      subscription.TotalPrice,
		Currency:    subscription.Currency,
		Reference:   subscription.ID,
		ReturnURL:   s.cfg.ReturnURL,
		Description: fmt.Sprintf("Tutoring subscription %s", subscription.ID),
	})
	if err != nil {
		if !errors.Is(err, payment.ErrGatewayUnavailable) {
			err = fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
		}
		return "", err
	}
	if err := s.subscriptions.UpdatePayment(ctx, exec, subscription.ID, subscription.ID, result.RedirectURL); err != nil {
		return "", err
	}
	reference := subscription.ID
	subscription.PaymentReference = &reference
	subscription.PaymentURL = &result.RedirectURL
	return result.RedirectURL, nil
}

// persistAwaitingPayment stores the subscription without reservations after a failed checkout so the
// purchase can be retried.
func (s *SubscriptionService) persistAwaitingPayment(ctx context.Context, subscription *models.Subscription, cause error) error {
	subscription.Status = models.SubscriptionStatusPending
	subscription.PaymentReference = nil
	subscription.PaymentURL = nil
	if err := s.tx.WithinTx(ctx, nil, func(exec sqlx.ExtContext) error {
		return s.subscriptions.Create(ctx, exec, subscription)
	}); err != nil {
		s.logger.Error("failed to persist pending subscription", zap.String("subscription_id", subscription.ID), zap.Error(err))
		return appErrors.Wrap(cause, appErrors.ErrPaymentGateway.Code, appErrors.ErrPaymentGateway.Status, "payment gateway unavailable")
	}
	s.logger.Warn("checkout failed, subscription left pending", zap.String("subscription_id", subscription.ID), zap.Error(cause))
	appErr := appErrors.Wrap(cause, appErrors.ErrPaymentGateway.Code, appErrors.ErrPaymentGateway.Status, "payment gateway unavailable, subscription saved as pending")
	appErr.Details = map[string]string{"subscription_id": subscription.ID}
	return appErr
}

func (s *SubscriptionService) ensureTeacher(ctx context.Context, teacherID string) error {
	teacher, err := s.catalog.FindTeacher(ctx, nil, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if !teacher.IsActive {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "teacher is not accepting bookings")
	}
	return nil
}

func (s *SubscriptionService) loadSubscription(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Subscription, error) {
	subscription, err := s.subscriptions.FindByID(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	return subscription, nil
}

func (s *SubscriptionService) currency(pkg *models.Package) string {
	if pkg.Currency != "" {
		return pkg.Currency
	}
	return s.cfg.Currency
}

func cancelSubscriptionReservations(ctx context.Context, exec sqlx.ExtContext, reservations reservationStore, subscriptionID, actorID string, reason *string, at time.Time) error {
	for _, from := range models.ActiveReservationStatuses {
		if _, err := reservations.TransitionBySubscription(ctx, exec, subscriptionID, models.ReservationStatusChange{
			From: from, To: models.ReservationStatusCancelled, At: at, ActorID: actorID, CancelReason: reason,
		}); err != nil {
			return err
		}
	}
	return nil
}

// splitPrice divides total across n occurrences at cent precision; the last share absorbs rounding.
func splitPrice(total decimal.Decimal, n int) []decimal.Decimal {
	shares := make([]decimal.Decimal, n)
	if n == 0 || !total.IsPositive() {
		for i := range shares {
			shares[i] = decimal.Zero
		}
		return shares
	}
	share := total.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		shares[i] = share
		allocated = allocated.Add(share)
	}
	shares[n-1] = total.Sub(allocated)
	return shares
}

func activeOnly(reservations []models.Reservation) []models.Reservation {
	out := make([]models.Reservation, 0, len(reservations))
	for _, r := range reservations {
		if !r.Status.IsTerminal() {
			out = append(out, r)
		}
	}
	return out
}

func resolveStudent(actor models.Actor, requested string) (string, error) {
	switch actor.Role {
	case models.RoleStudent:
		if requested != "" && requested != actor.UserID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "students can only book for themselves")
		}
		return actor.UserID, nil
	case models.RoleAdmin, models.RoleSystem:
		if requested == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "student id is required")
		}
		return requested, nil
	default:
		return "", appErrors.Clone(appErrors.ErrForbidden, "only students or admins can book")
	}
}

func authorizeSubscriptionOwner(actor models.Actor, subscription *models.Subscription) error {
	if actor.IsPrivileged() || actor.UserID == subscription.StudentID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "subscription belongs to another student")
}

func authorizeSubscriptionViewer(actor models.Actor, subscription *models.Subscription) error {
	if actor.IsPrivileged() || actor.UserID == subscription.StudentID || actor.UserID == subscription.TeacherID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "subscription belongs to another user")
}

func nonEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
