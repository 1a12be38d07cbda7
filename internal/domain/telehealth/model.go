package telehealth

import (
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/platform/apperr"
)

// Session statuses.
const (
	StatusCreated = "created"
	StatusActive  = "active"
	StatusEnded   = "ended"
)

const (
	// EarlyJoin is how long before the start participants may join.
	EarlyJoin = 15 * time.Minute
	// roomGrace keeps the provider room open past the scheduled end.
	roomGrace = time.Hour
)

var (
	ErrNotTelehealth = apperr.Conflict("appointment is not a telehealth appointment")
	ErrSessionEnded  = apperr.Conflict("telehealth session has ended")
	ErrTooEarly      = apperr.Conflict("the session opens 15 minutes before the appointment")
)

// Session is the video room attached to one telehealth appointment.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	ProviderRoomID string     `json:"provider_room_id"`
	HostURL        string     `json:"-"`
	JoinURL        string     `json:"-"`
	Status         string     `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// JoinInfo is the URL a participant opens. Clinicians receive the host URL.
type JoinInfo struct {
	SessionID uuid.UUID `json:"session_id"`
	URL       string    `json:"url"`
	Host      bool      `json:"host"`
	Status    string    `json:"status"`
}
