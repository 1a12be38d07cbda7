package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/platform/apperr"
)

// Appointment statuses.
const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCheckedIn = "checked_in"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

// Booking sources.
const (
	SourceStaff  = "staff"
	SourcePortal = "portal"
)

// Locations an appointment can take place at.
const (
	LocationOffice     = "office"
	LocationTelehealth = "telehealth"
	LocationHome       = "home"
	LocationSchool     = "school"
	LocationCommunity  = "community"
)

var validLocations = map[string]bool{
	LocationOffice: true, LocationTelehealth: true, LocationHome: true,
	LocationSchool: true, LocationCommunity: true,
}

// ErrSlotConflict is returned when a booking intersects an existing
// non-cancelled appointment of the same clinician.
var ErrSlotConflict = apperr.Conflict("the requested time conflicts with an existing appointment")

// ErrOutsideAvailability is returned when a booking falls outside the
// clinician's working hours, inside a break or inside an exception.
var ErrOutsideAvailability = apperr.Validation("the requested time is outside the clinician's availability")

// ErrCapacityReached is returned when a booking would exceed the clinician's
// daily or weekly appointment limit.
var ErrCapacityReached = apperr.Conflict("the clinician has no remaining capacity on that day or week")

// ErrScheduleOverlap is returned when a clinician already has a schedule
// whose effective period intersects the new one.
var ErrScheduleOverlap = apperr.Conflict("the clinician already has a schedule for part of that period")

// DayTemplate is one weekday of a clinician's recurring availability.
// Times are wall-clock "HH:MM" in the schedule's time zone.
type DayTemplate struct {
	Weekday     time.Weekday `json:"weekday" validate:"gte=0,lte=6"`
	IsAvailable bool         `json:"is_available"`
	StartTime   string       `json:"start_time,omitempty" validate:"required_if=IsAvailable true,omitempty,clock"`
	EndTime     string       `json:"end_time,omitempty" validate:"required_if=IsAvailable true,omitempty,clock"`
	BreakStart  string       `json:"break_start,omitempty" validate:"required_with=BreakEnd,omitempty,clock"`
	BreakEnd    string       `json:"break_end,omitempty" validate:"required_with=BreakStart,omitempty,clock"`
}

// ClinicianSchedule is a clinician's weekly template plus capacity limits
// for an effective date range. EffectiveTo nil means open-ended.
type ClinicianSchedule struct {
	ID                     uuid.UUID     `json:"id"`
	ClinicianID            uuid.UUID     `json:"clinician_id" validate:"required"`
	TimeZone               string        `json:"time_zone" validate:"required,timezone"`
	WeeklyTemplate         []DayTemplate `json:"weekly_template" validate:"max=7,dive"`
	MaxAppointmentsPerDay  int           `json:"max_appointments_per_day" validate:"gte=0"`
	MaxAppointmentsPerWeek int           `json:"max_appointments_per_week" validate:"gte=0"`
	BufferMinutes          int           `json:"buffer_minutes" validate:"gte=0,lte=240"`
	AcceptedLocations      []string      `json:"accepted_locations" validate:"dive,oneof=office telehealth home school community"`
	EffectiveFrom          time.Time     `json:"effective_from" validate:"required"`
	EffectiveTo            *time.Time    `json:"effective_to,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// Day returns the template entry for wd, or nil when none is defined.
func (s *ClinicianSchedule) Day(wd time.Weekday) *DayTemplate {
	for i := range s.WeeklyTemplate {
		if s.WeeklyTemplate[i].Weekday == wd {
			return &s.WeeklyTemplate[i]
		}
	}
	return nil
}

// Location returns the schedule's time zone, or nil if it cannot be loaded.
func (s *ClinicianSchedule) Location() *time.Location {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil
	}
	return loc
}

// EffectiveOn reports whether the schedule applies on the given civil date.
func (s *ClinicianSchedule) EffectiveOn(d Date) bool {
	if d.Before(DateOf(s.EffectiveFrom)) {
		return false
	}
	return s.EffectiveTo == nil || !DateOf(*s.EffectiveTo).Before(d)
}

// AcceptsLocation reports whether loc may be booked. An empty accepted list
// accepts every location; an empty loc is always accepted.
func (s *ClinicianSchedule) AcceptsLocation(loc string) bool {
	if loc == "" || len(s.AcceptedLocations) == 0 {
		return true
	}
	for _, l := range s.AcceptedLocations {
		if l == loc {
			return true
		}
	}
	return false
}

// ScheduleException blocks a clinician's template on a date range. When
// AllDay is false only [StartTime, EndTime) of each date is blocked.
type ScheduleException struct {
	ID          uuid.UUID  `json:"id"`
	ClinicianID uuid.UUID  `json:"clinician_id" validate:"required"`
	StartDate   time.Time  `json:"start_date" validate:"required"`
	EndDate     time.Time  `json:"end_date" validate:"required"`
	AllDay      bool       `json:"all_day"`
	StartTime   string     `json:"start_time,omitempty" validate:"required_if=AllDay false,omitempty,clock"`
	EndTime     string     `json:"end_time,omitempty" validate:"required_if=AllDay false,omitempty,clock"`
	Reason      string     `json:"reason,omitempty" validate:"max=500"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Covers reports whether the exception applies on d.
func (e *ScheduleException) Covers(d Date) bool {
	return !d.Before(DateOf(e.StartDate)) && !DateOf(e.EndDate).Before(d)
}

// AppointmentType is a bookable template selected at booking time.
type AppointmentType struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name" validate:"required,max=200"`
	Description         string    `json:"description,omitempty"`
	DurationMinutes     int       `json:"duration_minutes" validate:"required,gt=0,lte=480"`
	BufferBeforeMinutes int       `json:"buffer_before_minutes" validate:"gte=0,lte=240"`
	BufferAfterMinutes  int       `json:"buffer_after_minutes" validate:"gte=0,lte=240"`
	CPTCode             string    `json:"cpt_code,omitempty" validate:"omitempty,max=10"`
	OnlineBookable      bool      `json:"online_bookable"`
	DefaultLocation     string    `json:"default_location,omitempty" validate:"omitempty,oneof=office telehealth home school community"`
	Color               string    `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Appointment binds one clinician and one or more clients to an interval.
// BlockStart/BlockEnd is the interval widened by its buffers; two live
// appointments of a clinician never have intersecting blocks.
type Appointment struct {
	ID                  uuid.UUID   `json:"id"`
	ClinicianID         uuid.UUID   `json:"clinician_id"`
	ClientIDs           []uuid.UUID `json:"client_ids"`
	AppointmentTypeID   *uuid.UUID  `json:"appointment_type_id,omitempty"`
	StartTime           time.Time   `json:"start_time"`
	EndTime             time.Time   `json:"end_time"`
	DurationMinutes     int         `json:"duration_minutes"`
	BufferBeforeMinutes int         `json:"buffer_before_minutes"`
	BufferAfterMinutes  int         `json:"buffer_after_minutes"`
	Location            string      `json:"location"`
	Status              string      `json:"status"`
	CancellationReason  string      `json:"cancellation_reason,omitempty"`
	CancelledAt         *time.Time  `json:"cancelled_at,omitempty"`
	Notes               string      `json:"notes,omitempty"`
	BookedBy            *uuid.UUID  `json:"booked_by,omitempty"`
	Source              string      `json:"source"`
	BlockStart          time.Time   `json:"block_start"`
	BlockEnd            time.Time   `json:"block_end"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Active reports whether the appointment still occupies its interval.
func (a *Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// computeBlock sets BlockStart/BlockEnd from the interval and buffers.
func (a *Appointment) computeBlock() {
	a.BlockStart = a.StartTime.Add(-time.Duration(a.BufferBeforeMinutes) * time.Minute)
	a.BlockEnd = a.EndTime.Add(time.Duration(a.BufferAfterMinutes) * time.Minute)
}

// HasClient reports whether clientID attends the appointment.
func (a *Appointment) HasClient(clientID uuid.UUID) bool {
	for _, id := range a.ClientIDs {
		if id == clientID {
			return true
		}
	}
	return false
}

// Slot is a bookable interval returned by the availability resolver.
type Slot struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
}

// statusTransitions lists the legal next statuses for each status.
var statusTransitions = map[string][]string{
	StatusScheduled: {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn: {StatusCompleted},
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
