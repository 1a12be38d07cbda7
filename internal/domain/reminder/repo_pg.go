package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/db"
	"github.com/mentalspace/ehr/internal/platform/notification"
)

type reminderRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &reminderRepoPG{pool: pool} }

const reminderCols = `id, appointment_id, client_id, channel, template, recipient, send_at, status,
	COALESCE(provider_message_id, ''), attempts, COALESCE(last_error, ''), sent_at, delivered_at,
	created_at, updated_at`

func scanReminder(row pgx.Row) (*Reminder, error) {
	var r Reminder
	err := row.Scan(&r.ID, &r.AppointmentID, &r.ClientID, &r.Channel, &r.Template, &r.Recipient, &r.SendAt, &r.Status,
		&r.ProviderMessageID, &r.Attempts, &r.LastError, &r.SentAt, &r.DeliveredAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collect(rows pgx.Rows) ([]*Reminder, error) {
	defer rows.Close()
	var out []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (r *reminderRepoPG) CreateBatch(ctx context.Context, reminders []*Reminder) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		for _, rem := range reminders {
			err := q.QueryRow(ctx, `
				INSERT INTO reminder (appointment_id, client_id, channel, template, recipient, send_at, status)
				VALUES ($1, $2, $3, $4, $5, $6, 'pending')
				ON CONFLICT (appointment_id, client_id, channel, template, send_at) DO UPDATE
					SET status = 'pending', recipient = EXCLUDED.recipient, attempts = 0,
						last_error = NULL, updated_at = NOW()
					WHERE reminder.status = 'cancelled'
				RETURNING id, status, created_at, updated_at`,
				rem.AppointmentID, rem.ClientID, rem.Channel, rem.Template, rem.Recipient, rem.SendAt,
			).Scan(&rem.ID, &rem.Status, &rem.CreatedAt, &rem.UpdatedAt)
			// A live row with the same key already exists.
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return db.MapError(err, "reminder")
			}
		}
		return nil
	})
}

func (r *reminderRepoPG) Get(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	rem, err := scanReminder(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+reminderCols+` FROM reminder WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "reminder")
	}
	return rem, nil
}

func (r *reminderRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Reminder, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+reminderCols+` FROM reminder WHERE appointment_id = $1 ORDER BY send_at, channel`, appointmentID)
	if err != nil {
		return nil, db.MapError(err, "reminder")
	}
	return collect(rows)
}

func (r *reminderRepoPG) CancelPending(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE reminder SET status = 'cancelled', updated_at = NOW()
		WHERE appointment_id = $1 AND status = 'pending'`, appointmentID)
	if err != nil {
		return 0, db.MapError(err, "reminder")
	}
	return int(tag.RowsAffected()), nil
}

func (r *reminderRepoPG) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		UPDATE reminder SET status = 'queued', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM reminder
			WHERE status = 'pending' AND send_at <= $1
			ORDER BY send_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+reminderCols, now, limit)
	if err != nil {
		return nil, db.MapError(err, "reminder")
	}
	return collect(rows)
}

func (r *reminderRepoPG) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return db.MapError(err, "reminder")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("reminder")
	}
	return nil
}

func (r *reminderRepoPG) Release(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `
		UPDATE reminder SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'queued'`, id)
}

func (r *reminderRepoPG) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, attempts int, at time.Time) error {
	return r.exec(ctx, `
		UPDATE reminder SET status = 'sent', provider_message_id = NULLIF($2, ''), attempts = $3,
			last_error = NULL, sent_at = $4, updated_at = NOW()
		WHERE id = $1`, id, providerMessageID, attempts, at)
}

func (r *reminderRepoPG) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, reason string, final bool) error {
	return r.exec(ctx, `
		UPDATE reminder SET attempts = $2, last_error = $3,
			status = CASE WHEN $4 THEN 'failed' ELSE status END, updated_at = NOW()
		WHERE id = $1`, id, attempts, reason, final)
}

func (r *reminderRepoPG) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `UPDATE reminder SET status = 'cancelled', updated_at = NOW() WHERE id = $1`, id)
}

func (r *reminderRepoPG) RecordDelivery(ctx context.Context, providerMessageID string, delivered bool, reason string, at time.Time) error {
	if delivered {
		return r.exec(ctx, `
			UPDATE reminder SET status = 'delivered', delivered_at = $2, updated_at = NOW()
			WHERE provider_message_id = $1`, providerMessageID, at)
	}
	return r.exec(ctx, `
		UPDATE reminder SET status = 'failed', last_error = NULLIF($2, ''), updated_at = NOW()
		WHERE provider_message_id = $1`, providerMessageID, reason)
}

// =========== Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository { return &templateRepoPG{pool: pool} }

func (r *templateRepoPG) List(ctx context.Context) ([]notification.Template, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT name, channel, subject, body FROM reminder_template ORDER BY name, channel`)
	if err != nil {
		return nil, db.MapError(err, "reminder template")
	}
	defer rows.Close()
	var out []notification.Template
	for rows.Next() {
		var t notification.Template
		if err := rows.Scan(&t.Name, &t.Channel, &t.Subject, &t.Body); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *templateRepoPG) Upsert(ctx context.Context, t notification.Template) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO reminder_template (name, channel, subject, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, channel) DO UPDATE
			SET subject = EXCLUDED.subject, body = EXCLUDED.body, updated_at = NOW()`,
		t.Name, t.Channel, t.Subject, t.Body)
	return db.MapError(err, "reminder template")
}

func (r *templateRepoPG) Delete(ctx context.Context, name string, ch notification.Channel) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM reminder_template WHERE name = $1 AND channel = $2`, name, ch)
	if err != nil {
		return db.MapError(err, "reminder template")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("reminder template")
	}
	return nil
}
