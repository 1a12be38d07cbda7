package telehealth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/video"
)

// Appointments resolves the appointment a session belongs to.
type Appointments interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type Service struct {
	sessions     SessionRepository
	appointments Appointments
	provider     video.Provider
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(sessions SessionRepository, appointments Appointments, provider video.Provider, logger zerolog.Logger) *Service {
	return &Service{
		sessions:     sessions,
		appointments: appointments,
		provider:     provider,
		logger:       logger.With().Str("component", "telehealth").Logger(),
		now:          time.Now,
	}
}

// hosting checks that the caller may run the session: the appointment's
// clinician, a supervisor or an admin.
func hosting(ctx context.Context, a *scheduling.Appointment) error {
	if uid, ok := auth.UserUUIDFromContext(ctx); ok && uid == a.ClinicianID {
		return nil
	}
	if auth.HasAnyRole(ctx, auth.RoleSupervisor) {
		return nil
	}
	return apperr.Forbidden("only the appointment's clinician may host the session")
}

func (s *Service) telehealthAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	a, err := s.appointments.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Location != scheduling.LocationTelehealth {
		return nil, ErrNotTelehealth
	}
	return a, nil
}

// StartSession creates the provider room for a telehealth appointment. It
// is idempotent: a session that already exists and has not ended is
// returned as-is.
func (s *Service) StartSession(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	a, err := s.telehealthAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := hosting(ctx, a); err != nil {
		return nil, err
	}
	switch a.Status {
	case scheduling.StatusCancelled, scheduling.StatusCompleted, scheduling.StatusNoShow:
		return nil, apperr.Conflict("appointment in status " + a.Status + " cannot start a session")
	}

	existing, err := s.sessions.GetByAppointment(ctx, appointmentID)
	switch {
	case err == nil && existing.Status == StatusEnded:
		return nil, ErrSessionEnded
	case err == nil:
		return existing, nil
	case apperr.KindOf(err) != apperr.KindNotFound:
		return nil, err
	}

	room, err := s.provider.CreateRoom(ctx, video.RoomRequest{
		Name:            "appt-" + a.ID.String(),
		ExpiresAt:       a.EndTime.Add(roomGrace),
		MaxParticipants: len(a.ClientIDs) + 1,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("create video room failed")
		return nil, apperr.Unavailable("video provider unavailable", err)
	}

	sess := &Session{
		AppointmentID:  a.ID,
		ProviderRoomID: room.ID,
		HostURL:        room.HostURL,
		JoinURL:        room.JoinURL,
		Status:         StatusCreated,
	}
	if sess.HostURL == "" {
		sess.HostURL = room.JoinURL
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		// Lost a race with another start; keep the winner's room.
		if apperr.KindOf(err) == apperr.KindConflict {
			s.closeRoom(ctx, room.ID)
			return s.sessions.GetByAppointment(ctx, appointmentID)
		}
		s.closeRoom(ctx, room.ID)
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("room_id", room.ID).
		Msg("telehealth session created")
	return sess, nil
}

func (s *Service) closeRoom(ctx context.Context, roomID string) {
	if err := s.provider.EndRoom(context.WithoutCancel(ctx), roomID); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("close video room failed")
	}
}

func (s *Service) GetSession(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	return s.sessions.GetByAppointment(ctx, appointmentID)
}

// JoinURL returns the caller's link into the session: the host link for the
// clinician, the participant link for a client on the appointment. The
// first join marks the session active.
func (s *Service) JoinURL(ctx context.Context, appointmentID uuid.UUID) (*JoinInfo, error) {
	a, err := s.telehealthAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	host := true
	if clientID, ok := auth.ClientIDFromContext(ctx); ok {
		if !a.HasClient(clientID) {
			return nil, apperr.NotFound("appointment")
		}
		host = false
	} else if err := hosting(ctx, a); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if now.Before(a.StartTime.Add(-EarlyJoin)) {
		return nil, ErrTooEarly
	}
	sess, err := s.sessions.GetByAppointment(ctx, appointmentID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Conflict("the clinician has not started the session yet")
		}
		return nil, err
	}
	if sess.Status == StatusEnded {
		return nil, ErrSessionEnded
	}
	if sess.Status == StatusCreated {
		sess.Status = StatusActive
		sess.StartedAt = &now
		if err := s.sessions.Update(ctx, sess); err != nil {
			return nil, err
		}
	}

	info := &JoinInfo{SessionID: sess.ID, URL: sess.JoinURL, Status: sess.Status}
	if host {
		info.URL, info.Host = sess.HostURL, true
	}
	return info, nil
}

// EndSession closes the provider room and marks the session ended.
func (s *Service) EndSession(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	a, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := hosting(ctx, a); err != nil {
		return nil, err
	}
	sess, err := s.sessions.GetByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusEnded {
		return sess, nil
	}
	if err := s.provider.EndRoom(ctx, sess.ProviderRoomID); err != nil {
		return nil, apperr.Unavailable("video provider unavailable", err)
	}
	now := s.now().UTC()
	sess.Status = StatusEnded
	sess.EndedAt = &now
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", a.ID.String()).Msg("telehealth session ended")
	return sess, nil
}

// AppointmentCancelled closes the room of a cancelled appointment.
func (s *Service) AppointmentCancelled(ctx context.Context, a *scheduling.Appointment) error {
	sess, err := s.sessions.GetByAppointment(ctx, a.ID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil
		}
		return err
	}
	if sess.Status == StatusEnded {
		return nil
	}
	s.closeRoom(ctx, sess.ProviderRoomID)
	now := s.now().UTC()
	sess.Status = StatusEnded
	sess.EndedAt = &now
	return s.sessions.Update(ctx, sess)
}

func (s *Service) AppointmentBooked(context.Context, *scheduling.Appointment) error { return nil }

func (s *Service) AppointmentRescheduled(context.Context, *scheduling.Appointment) error {
	return nil
}
