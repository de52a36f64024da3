package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-core-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func reservationRowColumns() []string {
	return []string{"id", "teacher_id", "student_id", "subscription_id", "date", "start_minute", "duration_minutes", "status", "price", "payment_id",
		"confirmed_at", "completed_at", "cancelled_at", "cancelled_by", "cancel_reason", "rejected_at", "rejected_by", "created_at", "updated_at"}
}

func TestReservationRepositoryBulkCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	date, _ := models.ParseDate("2024-01-01")
	subID := "sub-1"
	reservations := []models.Reservation{
		{TeacherID: "t-1", StudentID: "s-1", SubscriptionID: &subID, Date: date, StartTime: 600, DurationMinutes: 60, Price: decimal.Zero},
		{TeacherID: "t-1", StudentID: "s-1", SubscriptionID: &subID, Date: date.AddDays(7), StartTime: 600, DurationMinutes: 60, Price: decimal.Zero},
	}

	for range reservations {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservations")).
			WithArgs(sqlmock.AnyArg(), "t-1", "s-1", "sub-1", sqlmock.AnyArg(), 600, 60, string(models.ReservationStatusPending), "0", nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	require.NoError(t, repo.BulkCreate(context.Background(), nil, reservations))
	for _, r := range reservations {
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, models.ReservationStatusPending, r.Status)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepositoryListActiveInRange(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	from, _ := models.ParseDate("2024-01-01")
	to, _ := models.ParseDate("2024-01-14")
	now := time.Now()
	rows := sqlmock.NewRows(reservationRowColumns()).
		AddRow("r-1", "t-1", "s-1", nil, from.Time, int64(600), int64(60), "CONFIRMED", "25.00", nil, now, nil, nil, nil, nil, nil, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reservations WHERE teacher_id = $1 AND date >= $2 AND date <= $3 AND status = ANY($4) ORDER BY date, start_minute")).
		WithArgs("t-1", from.Time, to.Time, "{\"PENDING\",\"CONFIRMED\"}").
		WillReturnRows(rows)

	list, err := repo.ListActiveInRange(context.Background(), nil, "t-1", from, to)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.Clock(600), list[0].StartTime)
	assert.Equal(t, "2024-01-01", list[0].Date.String())
	assert.True(t, list[0].Price.Equal(decimal.RequireFromString("25")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepositoryTransitionStatusCancel(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	reason := "sick"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = $1, updated_at = $2, cancelled_at = $2, cancelled_by = $3, cancel_reason = $4 WHERE id = $5 AND status = $6")).
		WithArgs("CANCELLED", at, "student-1", "sick", "r-1", "CONFIRMED").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.TransitionStatus(context.Background(), nil, models.ReservationStatusChange{
		ID: "r-1", From: models.ReservationStatusConfirmed, To: models.ReservationStatusCancelled,
		At: at, ActorID: "student-1", CancelReason: &reason,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepositoryTransitionStatusStale(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = $1, updated_at = $2, confirmed_at = $2 WHERE id = $3 AND status = $4")).
		WithArgs("CONFIRMED", at, "r-1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.TransitionStatus(context.Background(), nil, models.ReservationStatusChange{
		ID: "r-1", From: models.ReservationStatusPending, To: models.ReservationStatusConfirmed, At: at,
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepositoryTransitionBySubscription(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reservations SET status = $1, updated_at = $2, confirmed_at = $2, payment_id = $3 WHERE subscription_id = $4 AND status = $5")).
		WithArgs("CONFIRMED", at, "pay-1", "sub-1", "PENDING").
		WillReturnResult(sqlmock.NewResult(0, 4))

	paymentID := "pay-1"
	affected, err := repo.TransitionBySubscription(context.Background(), nil, "sub-1", models.ReservationStatusChange{
		From: models.ReservationStatusPending, To: models.ReservationStatusConfirmed, At: at, PaymentID: &paymentID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepositoryListWithCount(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(reservationRowColumns()).
		AddRow("r-1", "t-1", "s-1", nil, now, int64(600), int64(60), "PENDING", "0", nil, nil, nil, nil, nil, nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM reservations WHERE 1=1 AND teacher_id = $1 AND status = ANY($2) ORDER BY date, start_minute LIMIT 20 OFFSET 20")).
		WithArgs("t-1", "{\"PENDING\"}").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reservations WHERE 1=1 AND teacher_id = $1 AND status = ANY($2)")).
		WithArgs("t-1", "{\"PENDING\"}").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))

	list, total, err := repo.List(context.Background(), models.ReservationFilter{
		TeacherID: "t-1", Statuses: []models.ReservationStatus{models.ReservationStatusPending}, Page: 2, PageSize: 20,
	})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 21, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleLockerRequiresTransaction(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	locker := NewScheduleLocker(db)

	assert.Error(t, locker.LockTeacher(context.Background(), nil, "t-1"))

	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("t-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.NoError(t, locker.LockTeacher(context.Background(), db, "t-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReservationRepositoryListUnsettled(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)
	mock.ExpectQuery(`SELECT r.id FROM reservations r\s+WHERE r.status = \$1 .*NOT EXISTS \(SELECT 1 FROM wallet_transactions wt WHERE wt.booking_id = r.id\)`).
		WithArgs(string(models.ReservationStatusCompleted), from, to, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("res-1").AddRow("res-2"))

	ids, err := repo.ListUnsettled(context.Background(), from, to, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"res-1", "res-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
