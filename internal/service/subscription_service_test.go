package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
	"github.com/noah-isme/tutor-core-api/pkg/payment"
)

type subscriptionFixture struct {
	db           *memDB
	gateway      *fakeGateway
	invalidator  *recordingInvalidator
	service      *SubscriptionService
	availability *AvailabilityService
}

func newSubscriptionFixture(t *testing.T) *subscriptionFixture {
	t.Helper()
	db := newMemDB()
	db.addTeacher("teacher-1", "40")
	db.addPackage("free", "0")
	db.addPackage("monthly", "100")
	db.addWindow("teacher-1", models.Monday, "10:00", "14:00")

	gateway := &fakeGateway{}
	invalidator := &recordingInvalidator{}
	svc := NewSubscriptionService(
		memSubscriptions{db}, memReservations{db}, memWindows{db}, memCatalog{db},
		db, db, gateway, NewSlotGenerator(60), invalidator, NewMetricsService(),
		SubscriptionConfig{ReturnURL: "https://app.example/return", Currency: "USD"}, nil, nil,
	)
	availability := NewAvailabilityService(memWindows{db}, memReservations{db}, memCatalog{db}, nil, AvailabilityConfig{}, nil, nil)
	return &subscriptionFixture{db: db, gateway: gateway, invalidator: invalidator, service: svc, availability: availability}
}

func mondayRequest(packageID string) dto.PurchaseSubscriptionRequest {
	return dto.PurchaseSubscriptionRequest{
		TeacherID:     "teacher-1",
		PackageID:     packageID,
		SelectedSlots: []dto.SlotRequest{{DayOfWeek: "MONDAY", StartTime: "10:00"}},
		StartDate:     "2024-01-01",
		EndDate:       "2024-01-14",
	}
}

func appErrorCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr), "expected *errors.Error, got %T", err)
	return appErr.Code
}

func TestPurchaseReservesEveryOccurrenceAndShrinksAvailability(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()

	before, err := f.availability.GetAvailability(ctx, "teacher-1", "2024-01-01", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, []dto.FreeInterval{{Start: mustClock("10:00"), End: mustClock("14:00")}}, before[0].FreeIntervals)

	resp, err := f.service.Purchase(ctx, studentActor, mondayRequest("free"))
	require.NoError(t, err)
	require.Len(t, resp.Reservations, 2)
	assert.Equal(t, models.SubscriptionStatusActive, resp.Subscription.Status)
	assert.Nil(t, resp.PaymentURL)
	for _, r := range resp.Reservations {
		assert.Equal(t, models.ReservationStatusConfirmed, r.Status)
		assert.Equal(t, "student-1", r.StudentID)
		assert.Equal(t, 60, r.DurationMinutes)
		assert.Equal(t, mustClock("10:00"), r.StartTime)
	}
	assert.Equal(t, "2024-01-01", resp.Reservations[0].Date.String())
	assert.Equal(t, "2024-01-08", resp.Reservations[1].Date.String())
	assert.Contains(t, f.db.locked, "teacher-1")
	assert.Equal(t, []string{"teacher-1"}, f.invalidator.teachers)

	after, err := f.availability.GetAvailability(ctx, "teacher-1", "2024-01-01", "2024-01-08")
	require.NoError(t, err)
	for _, day := range after {
		if day.DayOfWeek != models.Monday {
			continue
		}
		assert.Equal(t, []dto.FreeInterval{{Start: mustClock("11:00"), End: mustClock("14:00")}}, day.FreeIntervals, day.Date.String())
	}

	other := models.Actor{UserID: "student-2", Role: models.RoleStudent}
	_, err = f.service.Purchase(ctx, other, mondayRequest("free"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	conflicts, ok := appErr.Details.([]models.SlotConflict)
	require.True(t, ok)
	require.Len(t, conflicts, 2)
	assert.Equal(t, "2024-01-01", conflicts[0].Date.String())
	assert.Equal(t, "2024-01-08", conflicts[1].Date.String())
	assert.Contains(t, appErr.Message, "2024-01-01 10:00-11:00")
	assert.Equal(t, 2, f.db.reservationCount())
}

func TestPurchaseConflictIsAllOrNothing(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.db.putReservation(models.Reservation{TeacherID: "teacher-1", StudentID: "x", Date: mustDate("2024-01-08"), StartTime: mustClock("10:30"), DurationMinutes: 60, Status: models.ReservationStatusPending})

	_, err := f.service.Purchase(context.Background(), studentActor, mondayRequest("free"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrorCode(t, err))
	assert.Equal(t, 1, f.db.reservationCount())
	assert.Zero(t, f.db.subscriptionCount())
}

func TestPurchaseRollsBackWhenInsertFailsMidway(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.db.bulkCreateErr = errors.New("connection reset")

	_, err := f.service.Purchase(context.Background(), studentActor, mondayRequest("free"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrorCode(t, err))
	assert.Zero(t, f.db.reservationCount())
	assert.Zero(t, f.db.subscriptionCount())
	assert.Equal(t, 1, f.db.rollbacks)
}

func TestPurchaseMapsDatabaseRacesToConflict(t *testing.T) {
	for name, code := range map[string]pq.ErrorCode{
		"exclusion constraint":  "23P01",
		"serialization failure": "40001",
		"deadlock":              "40P01",
	} {
		t.Run(name, func(t *testing.T) {
			f := newSubscriptionFixture(t)
			f.db.bulkCreateErr = &pq.Error{Code: code, Message: "overlap"}

			_, err := f.service.Purchase(context.Background(), studentActor, mondayRequest("free"))
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrConflict.Code, appErrorCode(t, err))
			var pqErr *pq.Error
			assert.True(t, errors.As(err, &pqErr))
			assert.Zero(t, f.db.reservationCount())
			assert.Zero(t, f.db.subscriptionCount())
		})
	}
}

func TestPurchaseIgnoresCancelledReservations(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.db.putReservation(models.Reservation{TeacherID: "teacher-1", StudentID: "x", Date: mustDate("2024-01-01"), StartTime: mustClock("10:00"), DurationMinutes: 60, Status: models.ReservationStatusCancelled})

	resp, err := f.service.Purchase(context.Background(), studentActor, mondayRequest("free"))
	require.NoError(t, err)
	assert.Len(t, resp.Reservations, 2)
}

func TestConcurrentOverlappingPurchasesExactlyOneSucceeds(t *testing.T) {
	f := newSubscriptionFixture(t)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := models.Actor{UserID: "student-" + string(rune('a'+i)), Role: models.RoleStudent}
			_, err := f.service.Purchase(context.Background(), actor, mondayRequest("free"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			var appErr *appErrors.Error
			if errors.As(err, &appErr) && appErr.Code == appErrors.ErrConflict.Code {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
	assert.Equal(t, 2, f.db.reservationCount())
}

func TestPurchaseValidationHappensBeforePersistence(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*dto.PurchaseSubscriptionRequest)
	}{
		{"no slots", func(r *dto.PurchaseSubscriptionRequest) { r.SelectedSlots = nil }},
		{"bad weekday", func(r *dto.PurchaseSubscriptionRequest) { r.SelectedSlots[0].DayOfWeek = "FUNDAY" }},
		{"bad time", func(r *dto.PurchaseSubscriptionRequest) { r.SelectedSlots[0].StartTime = "25:00" }},
		{"outside window", func(r *dto.PurchaseSubscriptionRequest) { r.SelectedSlots[0].StartTime = "13:30" }},
		{"self overlap", func(r *dto.PurchaseSubscriptionRequest) {
			r.SelectedSlots = append(r.SelectedSlots, dto.SlotRequest{DayOfWeek: "MON", StartTime: "10:30"})
		}},
		{"reversed dates", func(r *dto.PurchaseSubscriptionRequest) { r.StartDate, r.EndDate = r.EndDate, r.StartDate }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newSubscriptionFixture(t)
			req := mondayRequest("free")
			tc.mutate(&req)
			_, err := f.service.Purchase(context.Background(), studentActor, req)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrorCode(t, err))
			assert.Zero(t, f.db.reservationCount())
			assert.Zero(t, f.db.subscriptionCount())
		})
	}
}

func TestPurchaseAcceptsLegacySingleSlot(t *testing.T) {
	f := newSubscriptionFixture(t)
	req := mondayRequest("free")
	req.SelectedSlots = nil
	req.LegacySlot = &dto.SlotRequest{DayOfWeek: "1", StartTime: "12:00"}

	resp, err := f.service.Purchase(context.Background(), studentActor, req)
	require.NoError(t, err)
	require.Len(t, resp.Reservations, 2)
	assert.Equal(t, mustClock("12:00"), resp.Reservations[0].StartTime)
}

func TestPurchaseStudentCannotBookForAnotherStudent(t *testing.T) {
	f := newSubscriptionFixture(t)
	req := mondayRequest("free")
	req.StudentID = "student-2"

	_, err := f.service.Purchase(context.Background(), studentActor, req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrorCode(t, err))
}

func TestPaidPurchaseStaysPendingWithCheckout(t *testing.T) {
	f := newSubscriptionFixture(t)

	resp, err := f.service.Purchase(context.Background(), studentActor, mondayRequest("monthly"))
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPending, resp.Subscription.Status)
	require.NotNil(t, resp.PaymentURL)
	assert.Equal(t, "https://pay.example/"+resp.Subscription.ID, *resp.PaymentURL)
	require.Len(t, f.gateway.calls, 1)
	assert.Equal(t, "100", f.gateway.calls[0].Amount.String())
	assert.Equal(t, resp.Subscription.ID, f.gateway.calls[0].Reference)

	total := resp.Reservations[0].Price.Add(resp.Reservations[1].Price)
	assert.Equal(t, "100", total.String())
	for _, r := range resp.Reservations {
		assert.Equal(t, models.ReservationStatusPending, r.Status)
	}
}

func TestPurchaseGatewayFailureLeavesSubscriptionPending(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.gateway.err = payment.ErrGatewayUnavailable

	_, err := f.service.Purchase(context.Background(), studentActor, mondayRequest("monthly"))
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrPaymentGateway.Code, appErr.Code)
	details, ok := appErr.Details.(map[string]string)
	require.True(t, ok)
	subscriptionID := details["subscription_id"]
	require.NotEmpty(t, subscriptionID)

	assert.Zero(t, f.db.reservationCount())
	stored, err := f.service.GetSubscription(context.Background(), studentActor, subscriptionID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPending, stored.Subscription.Status)

	f.gateway.err = nil
	retried, err := f.service.RetryPayment(context.Background(), studentActor, subscriptionID)
	require.NoError(t, err)
	assert.Len(t, retried.Reservations, 2)
	require.NotNil(t, retried.PaymentURL)
	assert.Equal(t, 2, f.db.reservationCount())
}

func TestCancelSubscriptionReleasesReservations(t *testing.T) {
	f := newSubscriptionFixture(t)
	resp, err := f.service.Purchase(context.Background(), studentActor, mondayRequest("free"))
	require.NoError(t, err)

	cancelled, err := f.service.Cancel(context.Background(), studentActor, resp.Subscription.ID, dto.CancelSubscriptionRequest{Reason: "moving"})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, cancelled.Status)
	for _, r := range resp.Reservations {
		stored := f.db.reservation(r.ID)
		assert.Equal(t, models.ReservationStatusCancelled, stored.Status)
		require.NotNil(t, stored.CancelReason)
		assert.Equal(t, "moving", *stored.CancelReason)
	}

	_, err = f.service.Purchase(context.Background(), models.Actor{UserID: "student-2", Role: models.RoleStudent}, mondayRequest("free"))
	require.NoError(t, err)

	_, err = f.service.Cancel(context.Background(), studentActor, resp.Subscription.ID, dto.CancelSubscriptionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrorCode(t, err))
}

func TestSplitPriceKeepsTotal(t *testing.T) {
	shares := splitPrice(mustDecimal("100"), 3)
	require.Len(t, shares, 3)
	assert.Equal(t, "33.33", shares[0].String())
	assert.Equal(t, "33.33", shares[1].String())
	assert.Equal(t, "33.34", shares[2].String())
}
