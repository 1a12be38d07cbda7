package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/validate"
)

// MaxAvailabilityDays bounds a single availability query.
const MaxAvailabilityDays = 62

// Listener is told about appointment lifecycle changes after they commit.
// Listener errors are logged and never undo the change.
type Listener interface {
	AppointmentBooked(ctx context.Context, a *Appointment) error
	AppointmentRescheduled(ctx context.Context, a *Appointment) error
	AppointmentCancelled(ctx context.Context, a *Appointment) error
}

type Service struct {
	schedules    ScheduleRepository
	exceptions   ExceptionRepository
	types        AppointmentTypeRepository
	appointments AppointmentRepository
	listeners    []Listener
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(sched ScheduleRepository, exc ExceptionRepository, types AppointmentTypeRepository, appt AppointmentRepository, logger zerolog.Logger) *Service {
	return &Service{
		schedules:    sched,
		exceptions:   exc,
		types:        types,
		appointments: appt,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		now:          time.Now,
	}
}

// AddListener registers l for appointment lifecycle events.
func (s *Service) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// -- Schedules --

func validateSchedule(sched *ClinicianSchedule) error {
	if err := validate.Struct(sched); err != nil {
		return err
	}
	seen := make(map[time.Weekday]bool, len(sched.WeeklyTemplate))
	for _, d := range sched.WeeklyTemplate {
		if seen[d.Weekday] {
			return apperr.FieldErrors(map[string]string{"weekly_template": "weekday " + d.Weekday.String() + " is defined twice"})
		}
		seen[d.Weekday] = true
		if !d.IsAvailable {
			continue
		}
		start, _ := parseClock(d.StartTime)
		end, _ := parseClock(d.EndTime)
		if start >= end {
			return apperr.FieldErrors(map[string]string{"weekly_template": d.Weekday.String() + " must start before it ends"})
		}
		if d.BreakStart != "" {
			bs, _ := parseClock(d.BreakStart)
			be, _ := parseClock(d.BreakEnd)
			if bs >= be || bs < start || be > end {
				return apperr.FieldErrors(map[string]string{"weekly_template": d.Weekday.String() + " break must fall inside working hours"})
			}
		}
	}
	if sched.EffectiveTo != nil && DateOf(*sched.EffectiveTo).Before(DateOf(sched.EffectiveFrom)) {
		return apperr.FieldErrors(map[string]string{"effective_to": "must not be before effective_from"})
	}
	return nil
}

func (s *Service) CreateSchedule(ctx context.Context, sched *ClinicianSchedule) error {
	if sched.TimeZone == "" {
		sched.TimeZone = "UTC"
	}
	if err := validateSchedule(sched); err != nil {
		return err
	}
	return s.schedules.Create(ctx, sched)
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*ClinicianSchedule, error) {
	return s.schedules.GetByID(ctx, id)
}

func (s *Service) UpdateSchedule(ctx context.Context, sched *ClinicianSchedule) error {
	existing, err := s.schedules.GetByID(ctx, sched.ID)
	if err != nil {
		return err
	}
	sched.ClinicianID = existing.ClinicianID
	sched.CreatedAt = existing.CreatedAt
	if err := validateSchedule(sched); err != nil {
		return err
	}
	return s.schedules.Update(ctx, sched)
}

func (s *Service) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	return s.schedules.Delete(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, clinicianID uuid.UUID, limit, offset int) ([]*ClinicianSchedule, int, error) {
	return s.schedules.ListByClinician(ctx, clinicianID, limit, offset)
}

// -- Exceptions --

func (s *Service) CreateException(ctx context.Context, e *ScheduleException) error {
	if err := validate.Struct(e); err != nil {
		return err
	}
	if DateOf(e.EndDate).Before(DateOf(e.StartDate)) {
		return apperr.FieldErrors(map[string]string{"end_date": "must not be before start_date"})
	}
	if e.AllDay {
		e.StartTime, e.EndTime = "", ""
	} else {
		start, _ := parseClock(e.StartTime)
		end, _ := parseClock(e.EndTime)
		if start >= end {
			return apperr.FieldErrors(map[string]string{"end_time": "must be after start_time"})
		}
	}
	if uid, ok := auth.UserUUIDFromContext(ctx); ok {
		e.CreatedBy = &uid
	}
	return s.exceptions.Create(ctx, e)
}

func (s *Service) GetException(ctx context.Context, id uuid.UUID) (*ScheduleException, error) {
	return s.exceptions.GetByID(ctx, id)
}

func (s *Service) DeleteException(ctx context.Context, id uuid.UUID) error {
	return s.exceptions.Delete(ctx, id)
}

func (s *Service) ListExceptions(ctx context.Context, clinicianID uuid.UUID, from, to Date) ([]*ScheduleException, error) {
	return s.exceptions.ListByClinician(ctx, clinicianID, from, to)
}

// -- Appointment types --

func (s *Service) CreateAppointmentType(ctx context.Context, t *AppointmentType) error {
	if err := validate.Struct(t); err != nil {
		return err
	}
	t.Active = true
	return s.types.Create(ctx, t)
}

func (s *Service) GetAppointmentType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	return s.types.GetByID(ctx, id)
}

func (s *Service) UpdateAppointmentType(ctx context.Context, t *AppointmentType) error {
	if err := validate.Struct(t); err != nil {
		return err
	}
	if _, err := s.types.GetByID(ctx, t.ID); err != nil {
		return err
	}
	return s.types.Update(ctx, t)
}

// DeactivateAppointmentType hides a type from new bookings. Existing
// appointments keep their reference.
func (s *Service) DeactivateAppointmentType(ctx context.Context, id uuid.UUID) error {
	t, err := s.types.GetByID(ctx, id)
	if err != nil {
		return err
	}
	t.Active = false
	return s.types.Update(ctx, t)
}

func (s *Service) ListAppointmentTypes(ctx context.Context, f TypeFilter, limit, offset int) ([]*AppointmentType, int, error) {
	return s.types.List(ctx, f, limit, offset)
}

// -- Availability --

// AvailabilityRequest asks for the open slots of one appointment type.
type AvailabilityRequest struct {
	ClinicianID       uuid.UUID
	AppointmentTypeID uuid.UUID
	From              Date
	To                Date
	Location          string
	// OnlineOnly restricts the request to online-bookable types.
	OnlineOnly bool
}

// Availability resolves open slots across every schedule effective in the
// requested range. Slots starting before now are omitted.
func (s *Service) Availability(ctx context.Context, req AvailabilityRequest) ([]Slot, error) {
	if req.ClinicianID == uuid.Nil {
		return nil, apperr.FieldErrors(map[string]string{"clinician_id": "is required"})
	}
	if req.To.Before(req.From) {
		return nil, apperr.FieldErrors(map[string]string{"to": "must not be before from"})
	}
	if req.From.AddDays(MaxAvailabilityDays).Before(req.To) {
		return nil, apperr.Validationf("availability range may span at most %d days", MaxAvailabilityDays)
	}
	if req.Location != "" && !validLocations[req.Location] {
		return nil, apperr.FieldErrors(map[string]string{"location": "is not a known location"})
	}

	typ, err := s.bookableType(ctx, req.AppointmentTypeID, req.OnlineOnly)
	if err != nil {
		return nil, err
	}

	schedules, err := s.schedules.ListEffective(ctx, req.ClinicianID, req.From, req.To)
	if err != nil {
		return nil, err
	}
	slots := []Slot{}
	if len(schedules) == 0 {
		return slots, nil
	}
	exceptions, err := s.exceptions.ListByClinician(ctx, req.ClinicianID, req.From, req.To)
	if err != nil {
		return nil, err
	}
	// Whole ISO weeks, padded a day for zone offsets, so weekly caps count
	// bookings outside the requested dates.
	appts, err := s.appointments.ListRange(ctx, req.ClinicianID,
		req.From.WeekStart().AddDays(-1).In(time.UTC),
		req.To.WeekStart().AddDays(8).In(time.UTC))
	if err != nil {
		return nil, err
	}

	q := Query{From: req.From, To: req.To, Location: req.Location, NotBefore: s.now()}
	for _, sched := range schedules {
		slots = append(slots, Resolve(sched, exceptions, appts, typ, q)...)
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

func (s *Service) bookableType(ctx context.Context, id uuid.UUID, onlineOnly bool) (*AppointmentType, error) {
	if id == uuid.Nil {
		return nil, apperr.FieldErrors(map[string]string{"appointment_type_id": "is required"})
	}
	typ, err := s.types.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !typ.Active {
		return nil, apperr.FieldErrors(map[string]string{"appointment_type_id": "appointment type is inactive"})
	}
	if onlineOnly && !typ.OnlineBookable {
		return nil, apperr.FieldErrors(map[string]string{"appointment_type_id": "appointment type cannot be booked online"})
	}
	return typ, nil
}

// scheduleFor returns the schedule effective on t's local date, or nil.
func (s *Service) scheduleFor(ctx context.Context, clinicianID uuid.UUID, t time.Time) (*ClinicianSchedule, error) {
	d := DateOf(t.UTC())
	candidates, err := s.schedules.ListEffective(ctx, clinicianID, d.AddDays(-1), d.AddDays(1))
	if err != nil {
		return nil, err
	}
	for _, sched := range candidates {
		loc := sched.Location()
		if loc != nil && sched.EffectiveOn(DateOf(t.In(loc))) {
			return sched, nil
		}
	}
	return nil, nil
}

// -- Booking --

// BookingRequest books one clinician with one or more clients. Either
// AppointmentTypeID or EndTime must be given.
type BookingRequest struct {
	ClinicianID       uuid.UUID   `json:"clinician_id" validate:"required"`
	ClientIDs         []uuid.UUID `json:"client_ids" validate:"required,min=1,max=20,unique,dive,required"`
	AppointmentTypeID *uuid.UUID  `json:"appointment_type_id,omitempty"`
	StartTime         time.Time   `json:"start_time" validate:"required"`
	EndTime           *time.Time  `json:"end_time,omitempty"`
	Location          string      `json:"location,omitempty" validate:"omitempty,oneof=office telehealth home school community"`
	Notes             string      `json:"notes,omitempty" validate:"max=4000"`
	Source            string      `json:"-"`
}

// BookAppointment validates req against the clinician's availability and
// books it. Overlap with a live appointment yields ErrSlotConflict, even
// when two requests race for the same interval.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if req.Source == "" {
		req.Source = SourceStaff
	}
	if req.AppointmentTypeID == nil && req.EndTime == nil {
		return nil, apperr.FieldErrors(map[string]string{"end_time": "is required without appointment_type_id"})
	}

	a := &Appointment{
		ClinicianID:       req.ClinicianID,
		ClientIDs:         req.ClientIDs,
		AppointmentTypeID: req.AppointmentTypeID,
		StartTime:         req.StartTime.UTC(),
		Location:          req.Location,
		Status:            StatusScheduled,
		Notes:             req.Notes,
		Source:            req.Source,
	}
	var typ *AppointmentType
	if req.AppointmentTypeID != nil {
		var err error
		typ, err = s.bookableType(ctx, *req.AppointmentTypeID, req.Source == SourcePortal)
		if err != nil {
			return nil, err
		}
		a.BufferBeforeMinutes = typ.BufferBeforeMinutes
		a.BufferAfterMinutes = typ.BufferAfterMinutes
		if a.Location == "" {
			a.Location = typ.DefaultLocation
		}
	}
	if a.Location == "" {
		a.Location = LocationOffice
	}
	switch {
	case req.EndTime != nil:
		a.EndTime = req.EndTime.UTC()
	default:
		a.EndTime = a.StartTime.Add(minutes(typ.DurationMinutes))
	}
	if !a.StartTime.Before(a.EndTime) {
		return nil, apperr.FieldErrors(map[string]string{"end_time": "must be after start_time"})
	}
	a.DurationMinutes = int(a.EndTime.Sub(a.StartTime) / time.Minute)
	if req.Source == SourcePortal && a.StartTime.Before(s.now()) {
		return nil, apperr.FieldErrors(map[string]string{"start_time": "must be in the future"})
	}
	if uid, ok := auth.UserUUIDFromContext(ctx); ok && req.Source == SourceStaff {
		a.BookedBy = &uid
	}

	limits, err := s.prepare(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := s.appointments.Book(ctx, a, limits); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("clinician_id", a.ClinicianID.String()).
		Str("source", a.Source).
		Msg("appointment booked")
	s.notify(ctx, a, Listener.AppointmentBooked)
	return a, nil
}

// prepare checks a against the effective schedule, applies the schedule's
// minimum gap to the trailing buffer and returns the capacity windows.
func (s *Service) prepare(ctx context.Context, a *Appointment) (BookingLimits, error) {
	sched, err := s.scheduleFor(ctx, a.ClinicianID, a.StartTime)
	if err != nil {
		return BookingLimits{}, err
	}
	if sched == nil {
		return BookingLimits{}, ErrOutsideAvailability
	}
	if !sched.AcceptsLocation(a.Location) {
		return BookingLimits{}, apperr.FieldErrors(map[string]string{"location": "the clinician does not see clients at this location"})
	}
	loc := sched.Location()
	d := DateOf(a.StartTime.In(loc))
	exceptions, err := s.exceptions.ListByClinician(ctx, a.ClinicianID, d, d)
	if err != nil {
		return BookingLimits{}, err
	}
	if !WithinAvailability(sched, exceptions, a.StartTime, a.EndTime) {
		return BookingLimits{}, ErrOutsideAvailability
	}

	if sched.BufferMinutes > a.BufferAfterMinutes {
		a.BufferAfterMinutes = sched.BufferMinutes
	}
	a.computeBlock()

	week := d.WeekStart()
	return BookingLimits{
		MaxPerDay:  sched.MaxAppointmentsPerDay,
		MaxPerWeek: sched.MaxAppointmentsPerWeek,
		Day:        Interval{Start: d.In(loc), End: d.AddDays(1).In(loc)},
		Week:       Interval{Start: week.In(loc), End: week.AddDays(7).In(loc)},
	}, nil
}

// RescheduleRequest moves an appointment. EndTime defaults to the new start
// plus the current duration.
type RescheduleRequest struct {
	StartTime time.Time  `json:"start_time" validate:"required"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Location  string     `json:"location,omitempty" validate:"omitempty,oneof=office telehealth home school community"`
}

func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusScheduled && a.Status != StatusConfirmed {
		return nil, apperr.Conflict("only scheduled or confirmed appointments can be rescheduled")
	}

	a.StartTime = req.StartTime.UTC()
	if req.EndTime != nil {
		a.EndTime = req.EndTime.UTC()
	} else {
		a.EndTime = a.StartTime.Add(minutes(a.DurationMinutes))
	}
	if !a.StartTime.Before(a.EndTime) {
		return nil, apperr.FieldErrors(map[string]string{"end_time": "must be after start_time"})
	}
	a.DurationMinutes = int(a.EndTime.Sub(a.StartTime) / time.Minute)
	if req.Location != "" {
		a.Location = req.Location
	}
	a.Status = StatusScheduled

	limits, err := s.prepare(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := s.appointments.Reschedule(ctx, a, limits); err != nil {
		return nil, err
	}
	s.notify(ctx, a, Listener.AppointmentRescheduled)
	return a, nil
}

// CancelAppointment frees the appointment's interval for new bookings.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, StatusCancelled) {
		return nil, apperr.Conflict("appointment in status " + a.Status + " cannot be cancelled")
	}
	now := s.now().UTC()
	a.Status = StatusCancelled
	a.CancelledAt = &now
	a.CancellationReason = reason
	if err := s.appointments.UpdateStatus(ctx, a); err != nil {
		return nil, err
	}
	s.notify(ctx, a, Listener.AppointmentCancelled)
	return a, nil
}

// UpdateStatus moves an appointment along its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	if status == StatusCancelled {
		return s.CancelAppointment(ctx, id, "")
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, status) {
		return nil, apperr.Conflict("cannot move appointment from " + a.Status + " to " + status)
	}
	a.Status = status
	if err := s.appointments.UpdateStatus(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.List(ctx, f, limit, offset)
}

// ClinicianAppointments returns every appointment of a clinician starting in
// [from, to), cancelled ones included.
func (s *Service) ClinicianAppointments(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return s.appointments.ListRange(ctx, clinicianID, from, to)
}

// ClinicianSchedules returns the clinician's schedules effective in [from, to].
func (s *Service) ClinicianSchedules(ctx context.Context, clinicianID uuid.UUID, from, to Date) ([]*ClinicianSchedule, error) {
	return s.schedules.ListEffective(ctx, clinicianID, from, to)
}

func (s *Service) notify(ctx context.Context, a *Appointment, event func(Listener, context.Context, *Appointment) error) {
	for _, l := range s.listeners {
		if err := event(l, ctx, a); err != nil {
			s.logger.Error().Err(err).
				Str("appointment_id", a.ID.String()).
				Msg("appointment listener failed")
		}
	}
}
