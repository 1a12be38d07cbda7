package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentalspace/ehr/internal/platform/db"
)

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

const schedCols = `id, clinician_id, time_zone, weekly_template, max_appointments_per_day,
	max_appointments_per_week, buffer_minutes, accepted_locations, effective_from, effective_to,
	created_at, updated_at`

func (r *scheduleRepoPG) scanSchedule(row pgx.Row) (*ClinicianSchedule, error) {
	var (
		s        ClinicianSchedule
		template []byte
	)
	err := row.Scan(&s.ID, &s.ClinicianID, &s.TimeZone, &template, &s.MaxAppointmentsPerDay,
		&s.MaxAppointmentsPerWeek, &s.BufferMinutes, &s.AcceptedLocations, &s.EffectiveFrom, &s.EffectiveTo,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(template, &s.WeeklyTemplate); err != nil {
		// Unreadable templates resolve to no availability.
		s.WeeklyTemplate = nil
	}
	return &s, nil
}

func mapScheduleError(err error) error {
	if db.IsExclusionViolation(err) {
		return ErrScheduleOverlap
	}
	return db.MapError(err, "schedule")
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *ClinicianSchedule) error {
	template, err := json.Marshal(s.WeeklyTemplate)
	if err != nil {
		return fmt.Errorf("encode weekly template: %w", err)
	}
	if s.AcceptedLocations == nil {
		s.AcceptedLocations = []string{}
	}
	s.ID = uuid.New()
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinician_schedule (id, clinician_id, time_zone, weekly_template,
			max_appointments_per_day, max_appointments_per_week, buffer_minutes,
			accepted_locations, effective_from, effective_to)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		s.ID, s.ClinicianID, s.TimeZone, template,
		s.MaxAppointmentsPerDay, s.MaxAppointmentsPerWeek, s.BufferMinutes,
		s.AcceptedLocations, s.EffectiveFrom, s.EffectiveTo,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapScheduleError(err)
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClinicianSchedule, error) {
	s, err := r.scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+schedCols+` FROM clinician_schedule WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "schedule")
	}
	return s, nil
}

func (r *scheduleRepoPG) Update(ctx context.Context, s *ClinicianSchedule) error {
	template, err := json.Marshal(s.WeeklyTemplate)
	if err != nil {
		return fmt.Errorf("encode weekly template: %w", err)
	}
	if s.AcceptedLocations == nil {
		s.AcceptedLocations = []string{}
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE clinician_schedule SET time_zone=$2, weekly_template=$3,
			max_appointments_per_day=$4, max_appointments_per_week=$5, buffer_minutes=$6,
			accepted_locations=$7, effective_from=$8, effective_to=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.TimeZone, template,
		s.MaxAppointmentsPerDay, s.MaxAppointmentsPerWeek, s.BufferMinutes,
		s.AcceptedLocations, s.EffectiveFrom, s.EffectiveTo,
	).Scan(&s.UpdatedAt)
	return mapScheduleError(err)
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM clinician_schedule WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err, "schedule")
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows, "schedule")
	}
	return nil
}

func (r *scheduleRepoPG) ListByClinician(ctx context.Context, clinicianID uuid.UUID, limit, offset int) ([]*ClinicianSchedule, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM clinician_schedule WHERE clinician_id = $1`, clinicianID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+schedCols+` FROM clinician_schedule
		WHERE clinician_id = $1 ORDER BY effective_from DESC LIMIT $2 OFFSET $3`, clinicianID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *scheduleRepoPG) ListEffective(ctx context.Context, clinicianID uuid.UUID, from, to Date) ([]*ClinicianSchedule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+schedCols+` FROM clinician_schedule
		WHERE clinician_id = $1 AND effective_from <= $3 AND (effective_to IS NULL OR effective_to >= $2)
		ORDER BY effective_from`,
		clinicianID, from.In(time.UTC), to.In(time.UTC))
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *scheduleRepoPG) collect(rows pgx.Rows) ([]*ClinicianSchedule, error) {
	defer rows.Close()
	var items []*ClinicianSchedule
	for rows.Next() {
		s, err := r.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// =========== Exception Repository ===========

type exceptionRepoPG struct{ pool *pgxpool.Pool }

func NewExceptionRepoPG(pool *pgxpool.Pool) ExceptionRepository { return &exceptionRepoPG{pool: pool} }

const excCols = `id, clinician_id, start_date, end_date, all_day, COALESCE(start_time, ''),
	COALESCE(end_time, ''), COALESCE(reason, ''), created_by, created_at, updated_at`

func (r *exceptionRepoPG) scanException(row pgx.Row) (*ScheduleException, error) {
	var e ScheduleException
	err := row.Scan(&e.ID, &e.ClinicianID, &e.StartDate, &e.EndDate, &e.AllDay, &e.StartTime,
		&e.EndTime, &e.Reason, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

func (r *exceptionRepoPG) Create(ctx context.Context, e *ScheduleException) error {
	e.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO schedule_exception (id, clinician_id, start_date, end_date, all_day,
			start_time, end_time, reason, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		e.ID, e.ClinicianID, e.StartDate, e.EndDate, e.AllDay,
		nullable(e.StartTime), nullable(e.EndTime), nullable(e.Reason), e.CreatedBy,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	return db.MapError(err, "schedule exception")
}

func (r *exceptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScheduleException, error) {
	e, err := r.scanException(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+excCols+` FROM schedule_exception WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "schedule exception")
	}
	return e, nil
}

func (r *exceptionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM schedule_exception WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err, "schedule exception")
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows, "schedule exception")
	}
	return nil
}

func (r *exceptionRepoPG) ListByClinician(ctx context.Context, clinicianID uuid.UUID, from, to Date) ([]*ScheduleException, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+excCols+` FROM schedule_exception
		WHERE clinician_id = $1 AND start_date <= $3 AND end_date >= $2
		ORDER BY start_date`,
		clinicianID, from.In(time.UTC), to.In(time.UTC))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ScheduleException
	for rows.Next() {
		e, err := r.scanException(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// =========== Appointment Type Repository ===========

type typeRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentTypeRepoPG(pool *pgxpool.Pool) AppointmentTypeRepository {
	return &typeRepoPG{pool: pool}
}

const typeCols = `id, name, COALESCE(description, ''), duration_minutes, buffer_before_minutes,
	buffer_after_minutes, COALESCE(cpt_code, ''), online_bookable, COALESCE(default_location, ''),
	COALESCE(color, ''), active, created_at, updated_at`

func (r *typeRepoPG) scanType(row pgx.Row) (*AppointmentType, error) {
	var t AppointmentType
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.DurationMinutes, &t.BufferBeforeMinutes,
		&t.BufferAfterMinutes, &t.CPTCode, &t.OnlineBookable, &t.DefaultLocation,
		&t.Color, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *typeRepoPG) Create(ctx context.Context, t *AppointmentType) error {
	t.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment_type (id, name, description, duration_minutes, buffer_before_minutes,
			buffer_after_minutes, cpt_code, online_bookable, default_location, color, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		t.ID, t.Name, nullable(t.Description), t.DurationMinutes, t.BufferBeforeMinutes,
		t.BufferAfterMinutes, nullable(t.CPTCode), t.OnlineBookable, nullable(t.DefaultLocation),
		nullable(t.Color), t.Active,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return db.MapError(err, "appointment type")
}

func (r *typeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	t, err := r.scanType(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+typeCols+` FROM appointment_type WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "appointment type")
	}
	return t, nil
}

func (r *typeRepoPG) Update(ctx context.Context, t *AppointmentType) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment_type SET name=$2, description=$3, duration_minutes=$4,
			buffer_before_minutes=$5, buffer_after_minutes=$6, cpt_code=$7, online_bookable=$8,
			default_location=$9, color=$10, active=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Name, nullable(t.Description), t.DurationMinutes,
		t.BufferBeforeMinutes, t.BufferAfterMinutes, nullable(t.CPTCode), t.OnlineBookable,
		nullable(t.DefaultLocation), nullable(t.Color), t.Active,
	).Scan(&t.UpdatedAt)
	return db.MapError(err, "appointment type")
}

func (r *typeRepoPG) List(ctx context.Context, f TypeFilter, limit, offset int) ([]*AppointmentType, int, error) {
	where := ` WHERE 1=1`
	if f.ActiveOnly {
		where += ` AND active`
	}
	if f.OnlineBookable {
		where += ` AND online_bookable`
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM appointment_type`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+typeCols+` FROM appointment_type`+where+
		` ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*AppointmentType
	for rows.Next() {
		t, err := r.scanType(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `a.id, a.clinician_id,
	ARRAY(SELECT c.client_id FROM appointment_client c WHERE c.appointment_id = a.id ORDER BY c.client_id),
	a.appointment_type_id, a.start_time, a.end_time, a.duration_minutes, a.buffer_before_minutes,
	a.buffer_after_minutes, a.location, a.status, COALESCE(a.cancellation_reason, ''), a.cancelled_at,
	COALESCE(a.notes, ''), a.booked_by, a.source, a.block_start, a.block_end, a.created_at, a.updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ClinicianID, &a.ClientIDs,
		&a.AppointmentTypeID, &a.StartTime, &a.EndTime, &a.DurationMinutes, &a.BufferBeforeMinutes,
		&a.BufferAfterMinutes, &a.Location, &a.Status, &a.CancellationReason, &a.CancelledAt,
		&a.Notes, &a.BookedBy, &a.Source, &a.BlockStart, &a.BlockEnd, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

// mapBookingError turns the exclusion constraint into the domain conflict.
func mapBookingError(err error) error {
	if db.IsExclusionViolation(err) {
		return ErrSlotConflict
	}
	return db.MapError(err, "appointment")
}

func bookingLockKey(clinicianID uuid.UUID) string {
	return "booking:" + clinicianID.String()
}

// checkBooking re-runs the overlap and capacity tests inside the booking
// transaction. self is excluded so a reschedule does not collide with itself.
func checkBooking(ctx context.Context, q db.Querier, a *Appointment, limits BookingLimits) error {
	var conflict bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE clinician_id = $1 AND status <> 'cancelled' AND id <> $2
			  AND block_start < $4 AND $3 < block_end)`,
		a.ClinicianID, a.ID, a.BlockStart, a.BlockEnd).Scan(&conflict)
	if err != nil {
		return fmt.Errorf("overlap check: %w", err)
	}
	if conflict {
		return ErrSlotConflict
	}

	if limits.MaxPerDay == 0 && limits.MaxPerWeek == 0 {
		return nil
	}
	var dayCount, weekCount int
	err = q.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE start_time >= $3 AND start_time < $4),
			COUNT(*) FILTER (WHERE start_time >= $5 AND start_time < $6)
		FROM appointment
		WHERE clinician_id = $1 AND status <> 'cancelled' AND id <> $2`,
		a.ClinicianID, a.ID, limits.Day.Start, limits.Day.End, limits.Week.Start, limits.Week.End,
	).Scan(&dayCount, &weekCount)
	if err != nil {
		return fmt.Errorf("capacity check: %w", err)
	}
	if limits.exceeded(dayCount, weekCount) {
		return ErrCapacityReached
	}
	return nil
}

func (r *appointmentRepoPG) Book(ctx context.Context, a *Appointment, limits BookingLimits) error {
	a.ID = uuid.New()
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		if err := db.AdvisoryXactLock(ctx, q, bookingLockKey(a.ClinicianID)); err != nil {
			return err
		}
		if err := checkBooking(ctx, q, a, limits); err != nil {
			return err
		}
		err := q.QueryRow(ctx, `
			INSERT INTO appointment (id, clinician_id, appointment_type_id, start_time, end_time,
				duration_minutes, buffer_before_minutes, buffer_after_minutes, location, status,
				notes, booked_by, source, block_start, block_end)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			RETURNING created_at, updated_at`,
			a.ID, a.ClinicianID, a.AppointmentTypeID, a.StartTime, a.EndTime,
			a.DurationMinutes, a.BufferBeforeMinutes, a.BufferAfterMinutes, a.Location, a.Status,
			nullable(a.Notes), a.BookedBy, a.Source, a.BlockStart, a.BlockEnd,
		).Scan(&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return err
		}
		for _, clientID := range a.ClientIDs {
			if _, err := q.Exec(ctx,
				`INSERT INTO appointment_client (appointment_id, client_id) VALUES ($1, $2)`,
				a.ID, clientID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		a.ID = uuid.Nil
	}
	return mapBookingError(err)
}

func (r *appointmentRepoPG) Reschedule(ctx context.Context, a *Appointment, limits BookingLimits) error {
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		if err := db.AdvisoryXactLock(ctx, q, bookingLockKey(a.ClinicianID)); err != nil {
			return err
		}
		if err := checkBooking(ctx, q, a, limits); err != nil {
			return err
		}
		return q.QueryRow(ctx, `
			UPDATE appointment SET start_time=$2, end_time=$3, duration_minutes=$4,
				location=$5, status=$6, buffer_before_minutes=$7, buffer_after_minutes=$8,
				block_start=$9, block_end=$10, updated_at=NOW()
			WHERE id = $1
			RETURNING updated_at`,
			a.ID, a.StartTime, a.EndTime, a.DurationMinutes,
			a.Location, a.Status, a.BufferBeforeMinutes, a.BufferAfterMinutes,
			a.BlockStart, a.BlockEnd,
		).Scan(&a.UpdatedAt)
	})
	return mapBookingError(err)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppt(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment a WHERE a.id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "appointment")
	}
	return a, nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET status=$2, cancellation_reason=$3, cancelled_at=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Status, nullable(a.CancellationReason), a.CancelledAt,
	).Scan(&a.UpdatedAt)
	return mapBookingError(err)
}

func (r *appointmentRepoPG) ListRange(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+apptCols+` FROM appointment a
		WHERE a.clinician_id = $1 AND a.start_time >= $2 AND a.start_time < $3
		ORDER BY a.start_time`, clinicianID, from, to)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.ClinicianID != nil {
		where += fmt.Sprintf(` AND a.clinician_id = $%d`, idx)
		args = append(args, *f.ClinicianID)
		idx++
	}
	if f.ClientID != nil {
		where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM appointment_client c WHERE c.appointment_id = a.id AND c.client_id = $%d)`, idx)
		args = append(args, *f.ClientID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND a.status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(` AND a.start_time >= $%d`, idx)
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where += fmt.Sprintf(` AND a.start_time < $%d`, idx)
		args = append(args, *f.To)
		idx++
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM appointment a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointment a` + where +
		fmt.Sprintf(` ORDER BY a.start_time LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *appointmentRepoPG) collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
