package dto

import (
	"time"

	"github.com/noah-isme/tutor-core-api/internal/models"
)

// SessionEventRequest reports a session start or end; At defaults to now.
type SessionEventRequest struct {
	At *time.Time `json:"at"`
}

// SessionEventResponse echoes the recorded session with the reservation it belongs to.
type SessionEventResponse struct {
	Session     *models.LiveSession `json:"session"`
	Reservation *models.Reservation `json:"reservation"`
}
