package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
)

func newSessionFixture(t *testing.T) (*reservationFixture, *SessionService) {
	t.Helper()
	f := newReservationFixture(t)
	return f, NewSessionService(memSessions{f.db}, f.service, f.db, nil)
}

func TestSessionEndCompletesReservationAndDispatchesSettlement(t *testing.T) {
	f, sessions := newSessionFixture(t)
	seeded := f.seed(models.ReservationStatusConfirmed)
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(55 * time.Minute)

	started, err := sessions.Start(context.Background(), teacherActor, seeded.ID, dto.SessionEventRequest{At: &start})
	require.NoError(t, err)
	require.NotNil(t, started.Session.StartedAt)

	ended, err := sessions.End(context.Background(), models.SystemActor, seeded.ID, dto.SessionEventRequest{At: &end})
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusCompleted, ended.Reservation.Status)
	assert.True(t, ended.Session.HasTimestamps())
	assert.Equal(t, models.ReservationStatusCompleted, f.db.reservation(seeded.ID).Status)
	assert.Equal(t, []string{seeded.ID}, f.dispatcher.ids)

	later := end.Add(time.Hour)
	repeated, err := sessions.End(context.Background(), models.SystemActor, seeded.ID, dto.SessionEventRequest{At: &later})
	require.NoError(t, err)
	assert.Equal(t, end, *repeated.Session.EndedAt)
	assert.Len(t, f.dispatcher.ids, 1)
}

func TestSessionRequiresConfirmedReservation(t *testing.T) {
	f, sessions := newSessionFixture(t)
	pending := f.seed(models.ReservationStatusPending)

	_, err := sessions.Start(context.Background(), teacherActor, pending.ID, dto.SessionEventRequest{})
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrorCode(t, err))

	_, err = sessions.End(context.Background(), teacherActor, pending.ID, dto.SessionEventRequest{})
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrorCode(t, err))
	assert.Empty(t, f.db.state.sessions)
}

func TestSessionEventsRestrictedToHost(t *testing.T) {
	f, sessions := newSessionFixture(t)
	seeded := f.seed(models.ReservationStatusConfirmed)

	_, err := sessions.End(context.Background(), studentActor, seeded.ID, dto.SessionEventRequest{})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrorCode(t, err))
	assert.Equal(t, models.ReservationStatusConfirmed, f.db.reservation(seeded.ID).Status)
}
