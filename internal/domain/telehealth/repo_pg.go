package telehealth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/db"
)

type sessionRepoPG struct {
	pool *pgxpool.Pool
}

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepoPG{pool: pool}
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO telehealth_session (appointment_id, provider_room_id, host_url, join_url, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		s.AppointmentID, s.ProviderRoomID, s.HostURL, s.JoinURL, s.Status,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	return db.MapError(err, "telehealth session")
}

func (r *sessionRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	var s Session
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, appointment_id, provider_room_id, host_url, join_url, status,
			started_at, ended_at, created_at, updated_at
		FROM telehealth_session WHERE appointment_id = $1`, appointmentID,
	).Scan(&s.ID, &s.AppointmentID, &s.ProviderRoomID, &s.HostURL, &s.JoinURL, &s.Status,
		&s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err, "telehealth session")
	}
	return &s, nil
}

func (r *sessionRepoPG) Update(ctx context.Context, s *Session) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE telehealth_session SET status = $2, started_at = $3, ended_at = $4, updated_at = NOW()
		WHERE id = $1`, s.ID, s.Status, s.StartedAt, s.EndedAt)
	if err != nil {
		return db.MapError(err, "telehealth session")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("telehealth session")
	}
	return nil
}
