package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
)

type reservationFixture struct {
	db         *memDB
	dispatcher *recordingDispatcher
	service    *ReservationService
}

func newReservationFixture(t *testing.T) *reservationFixture {
	t.Helper()
	db := newMemDB()
	db.addTeacher("teacher-1", "45")
	db.addWindow("teacher-1", models.Monday, "10:00", "14:00")
	dispatcher := &recordingDispatcher{}
	svc := NewReservationService(memReservations{db}, memWindows{db}, memCatalog{db}, db, db, NewSlotGenerator(60), nil, dispatcher, nil, nil, nil)
	return &reservationFixture{db: db, dispatcher: dispatcher, service: svc}
}

func (f *reservationFixture) seed(status models.ReservationStatus) models.Reservation {
	return f.db.putReservation(models.Reservation{
		TeacherID:       "teacher-1",
		StudentID:       "student-1",
		Date:            mustDate("2024-01-01"),
		StartTime:       mustClock("10:00"),
		DurationMinutes: 60,
		Status:          status,
		Price:           mustDecimal("45"),
	})
}

func TestBookCreatesPendingReservationPricedFromHourlyRate(t *testing.T) {
	f := newReservationFixture(t)

	reservation, err := f.service.Book(context.Background(), studentActor, dto.BookReservationRequest{TeacherID: "teacher-1", Date: "2024-01-01", StartTime: "11:00"})
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusPending, reservation.Status)
	assert.Equal(t, "student-1", reservation.StudentID)
	assert.Equal(t, "45", reservation.Price.String())
	assert.Nil(t, reservation.SubscriptionID)

	_, err = f.service.Book(context.Background(), models.Actor{UserID: "student-2", Role: models.RoleStudent}, dto.BookReservationRequest{TeacherID: "teacher-1", Date: "2024-01-01", StartTime: "11:30"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrorCode(t, err))

	_, err = f.service.Book(context.Background(), studentActor, dto.BookReservationRequest{TeacherID: "teacher-1", Date: "2024-01-02", StartTime: "11:00"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrorCode(t, err))
}

func TestReservationTransitionsFollowTheTable(t *testing.T) {
	cases := []struct {
		name   string
		from   models.ReservationStatus
		actor  models.Actor
		apply  reservationEventFunc
		want   models.ReservationStatus
		errKey string
	}{
		{"teacher confirms pending", models.ReservationStatusPending, teacherActor, eventConfirm, models.ReservationStatusConfirmed, ""},
		{"system confirms pending", models.ReservationStatusPending, models.SystemActor, eventConfirm, models.ReservationStatusConfirmed, ""},
		{"teacher rejects pending", models.ReservationStatusPending, teacherActor, eventReject, models.ReservationStatusRejected, ""},
		{"student cancels pending", models.ReservationStatusPending, studentActor, eventCancel, models.ReservationStatusCancelled, ""},
		{"admin cancels confirmed", models.ReservationStatusConfirmed, adminActor, eventCancel, models.ReservationStatusCancelled, ""},
		{"admin completes confirmed", models.ReservationStatusConfirmed, adminActor, eventComplete, models.ReservationStatusCompleted, ""},
		{"confirm confirmed", models.ReservationStatusConfirmed, teacherActor, eventConfirm, "", appErrors.ErrInvalidTransition.Code},
		{"reject confirmed", models.ReservationStatusConfirmed, teacherActor, eventReject, "", appErrors.ErrInvalidTransition.Code},
		{"complete pending", models.ReservationStatusPending, adminActor, eventComplete, "", appErrors.ErrInvalidTransition.Code},
		{"cancel completed", models.ReservationStatusCompleted, adminActor, eventCancel, "", appErrors.ErrInvalidTransition.Code},
		{"cancel rejected", models.ReservationStatusRejected, studentActor, eventCancel, "", appErrors.ErrInvalidTransition.Code},
		{"student confirms", models.ReservationStatusPending, studentActor, eventConfirm, "", appErrors.ErrForbidden.Code},
		{"admin confirms", models.ReservationStatusPending, adminActor, eventConfirm, "", appErrors.ErrForbidden.Code},
		{"other teacher rejects", models.ReservationStatusPending, models.Actor{UserID: "teacher-2", Role: models.RoleTeacher}, eventReject, "", appErrors.ErrForbidden.Code},
		{"stranger cancels", models.ReservationStatusPending, models.Actor{UserID: "student-9", Role: models.RoleStudent}, eventCancel, "", appErrors.ErrForbidden.Code},
		{"teacher completes", models.ReservationStatusConfirmed, teacherActor, eventComplete, "", appErrors.ErrForbidden.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newReservationFixture(t)
			seeded := f.seed(tc.from)

			updated, err := tc.apply(f.service, tc.actor, seeded.ID)
			if tc.errKey != "" {
				require.Error(t, err)
				assert.Equal(t, tc.errKey, appErrorCode(t, err))
				assert.Equal(t, tc.from, f.db.reservation(seeded.ID).Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, updated.Status)
			assert.Equal(t, tc.want, f.db.reservation(seeded.ID).Status)
		})
	}
}

func TestCancelRecordsActorAndReason(t *testing.T) {
	f := newReservationFixture(t)
	seeded := f.seed(models.ReservationStatusConfirmed)

	updated, err := f.service.Cancel(context.Background(), studentActor, seeded.ID, dto.ReservationReasonRequest{Reason: "sick"})
	require.NoError(t, err)
	require.NotNil(t, updated.CancelledBy)
	assert.Equal(t, "student-1", *updated.CancelledBy)
	require.NotNil(t, updated.CancelledAt)
	assert.Equal(t, "sick", *f.db.reservation(seeded.ID).CancelReason)
}

func TestCompleteDispatchesSettlement(t *testing.T) {
	f := newReservationFixture(t)
	seeded := f.seed(models.ReservationStatusConfirmed)

	_, err := f.service.Complete(context.Background(), adminActor, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{seeded.ID}, f.dispatcher.ids)
}

func TestGetHidesOtherUsersReservations(t *testing.T) {
	f := newReservationFixture(t)
	seeded := f.seed(models.ReservationStatusPending)

	_, err := f.service.Get(context.Background(), models.Actor{UserID: "student-9", Role: models.RoleStudent}, seeded.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrorCode(t, err))

	got, err := f.service.Get(context.Background(), teacherActor, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)

	_, err = f.service.Get(context.Background(), adminActor, "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrorCode(t, err))
}

func TestListByTeacherPaginatesAndValidatesStatus(t *testing.T) {
	f := newReservationFixture(t)
	f.seed(models.ReservationStatusPending)
	f.seed(models.ReservationStatusConfirmed)

	items, page, err := f.service.ListByTeacher(context.Background(), teacherActor, "teacher-1", dto.ReservationQuery{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 50, page.PageSize)
	assert.Equal(t, 2, page.TotalCount)

	_, _, err = f.service.ListByTeacher(context.Background(), teacherActor, "teacher-1", dto.ReservationQuery{Status: []string{"LOST"}})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrorCode(t, err))

	_, _, err = f.service.ListByTeacher(context.Background(), studentActor, "teacher-1", dto.ReservationQuery{})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrorCode(t, err))
}

type reservationEventFunc func(s *ReservationService, actor models.Actor, id string) (*models.Reservation, error)

func eventConfirm(s *ReservationService, actor models.Actor, id string) (*models.Reservation, error) {
	return s.Confirm(context.Background(), actor, id)
}

func eventReject(s *ReservationService, actor models.Actor, id string) (*models.Reservation, error) {
	return s.Reject(context.Background(), actor, id, dto.ReservationReasonRequest{Reason: "busy"})
}

func eventCancel(s *ReservationService, actor models.Actor, id string) (*models.Reservation, error) {
	return s.Cancel(context.Background(), actor, id, dto.ReservationReasonRequest{})
}

func eventComplete(s *ReservationService, actor models.Actor, id string) (*models.Reservation, error) {
	return s.Complete(context.Background(), actor, id)
}
