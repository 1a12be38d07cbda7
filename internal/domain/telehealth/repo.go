package telehealth

import (
	"context"

	"github.com/google/uuid"
)

type SessionRepository interface {
	// Create fails with a conflict when the appointment already has a session.
	Create(ctx context.Context, s *Session) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error)
	Update(ctx context.Context, s *Session) error
}
