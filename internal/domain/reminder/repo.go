package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/platform/notification"
)

type Repository interface {
	// CreateBatch inserts reminders, reviving cancelled rows with the same
	// appointment, client, channel, template and send time.
	CreateBatch(ctx context.Context, reminders []*Reminder) error
	Get(ctx context.Context, id uuid.UUID) (*Reminder, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Reminder, error)
	// CancelPending cancels reminders of the appointment not yet claimed.
	CancelPending(ctx context.Context, appointmentID uuid.UUID) (int, error)
	// ClaimDue moves up to limit pending reminders due at or before now to
	// queued and returns them. Concurrent callers never claim the same row.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)
	// Release returns a claimed reminder to pending.
	Release(ctx context.Context, id uuid.UUID) error
	MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, attempts int, at time.Time) error
	// MarkFailed records a failed attempt. Only final failures leave the
	// queued state.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, reason string, final bool) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	// RecordDelivery applies a provider receipt to the reminder carrying
	// providerMessageID.
	RecordDelivery(ctx context.Context, providerMessageID string, delivered bool, reason string, at time.Time) error
}

type TemplateRepository interface {
	List(ctx context.Context) ([]notification.Template, error)
	Upsert(ctx context.Context, t notification.Template) error
	Delete(ctx context.Context, name string, ch notification.Channel) error
}
