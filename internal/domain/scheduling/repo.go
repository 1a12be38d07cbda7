package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *ClinicianSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicianSchedule, error)
	Update(ctx context.Context, s *ClinicianSchedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByClinician(ctx context.Context, clinicianID uuid.UUID, limit, offset int) ([]*ClinicianSchedule, int, error)
	// ListEffective returns the clinician's schedules whose effective period
	// intersects [from, to], oldest first.
	ListEffective(ctx context.Context, clinicianID uuid.UUID, from, to Date) ([]*ClinicianSchedule, error)
}

type ExceptionRepository interface {
	Create(ctx context.Context, e *ScheduleException) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduleException, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByClinician returns exceptions covering any date in [from, to].
	ListByClinician(ctx context.Context, clinicianID uuid.UUID, from, to Date) ([]*ScheduleException, error)
}

// TypeFilter narrows appointment type listings.
type TypeFilter struct {
	ActiveOnly     bool
	OnlineBookable bool
}

type AppointmentTypeRepository interface {
	Create(ctx context.Context, t *AppointmentType) error
	GetByID(ctx context.Context, id uuid.UUID) (*AppointmentType, error)
	Update(ctx context.Context, t *AppointmentType) error
	List(ctx context.Context, f TypeFilter, limit, offset int) ([]*AppointmentType, int, error)
}

// AppointmentFilter narrows appointment listings. Zero fields are ignored.
type AppointmentFilter struct {
	ClinicianID *uuid.UUID
	ClientID    *uuid.UUID
	Status      string
	From        *time.Time
	To          *time.Time
}

// BookingLimits carries the capacity windows checked while the clinician's
// booking lock is held. Zero maxima are unlimited.
type BookingLimits struct {
	MaxPerDay  int
	MaxPerWeek int
	Day        Interval
	Week       Interval
}

// exceeded reports whether adding one booking to the given counts would
// break a limit.
func (l BookingLimits) exceeded(dayCount, weekCount int) bool {
	if l.MaxPerDay > 0 && dayCount+1 > l.MaxPerDay {
		return true
	}
	return l.MaxPerWeek > 0 && weekCount+1 > l.MaxPerWeek
}

type AppointmentRepository interface {
	// Book inserts a under the clinician's booking lock after re-checking
	// overlap and capacity. It returns ErrSlotConflict or ErrCapacityReached.
	Book(ctx context.Context, a *Appointment, limits BookingLimits) error
	// Reschedule moves a to its new interval with the same guarantees as
	// Book, ignoring a's own current interval.
	Reschedule(ctx context.Context, a *Appointment, limits BookingLimits) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus persists status and cancellation fields.
	UpdateStatus(ctx context.Context, a *Appointment) error
	// ListRange returns the clinician's appointments starting in [from, to).
	ListRange(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
}
