package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRepositoryMarkEndedKeepsStart(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	started := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ended := started.Add(time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (reservation_id) DO UPDATE SET ended_at = COALESCE(live_sessions.ended_at, EXCLUDED.ended_at)")).
		WithArgs(sqlmock.AnyArg(), "r-1", ended, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reservation_id", "started_at", "ended_at", "created_at", "updated_at"}).
			AddRow("ls-1", "r-1", started, ended, started, ended))

	session, err := repo.MarkEnded(context.Background(), nil, "r-1", ended)
	require.NoError(t, err)
	assert.True(t, session.HasTimestamps())
	assert.Equal(t, "1", session.Hours(0).String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRepositoryFindTeacher(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCatalogRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, hourly_rate, is_active FROM teachers WHERE id = $1")).
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "hourly_rate", "is_active"}).AddRow("t-1", "45.00", true))

	teacher, err := repo.FindTeacher(context.Background(), nil, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "45", teacher.HourlyRate.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
