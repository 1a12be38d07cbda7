package reporting

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/domain/staff"
	"github.com/mentalspace/ehr/internal/platform/apperr"
)

// Scheduling provides the schedules and exceptions utilization is measured
// against.
type Scheduling interface {
	ClinicianSchedules(ctx context.Context, clinicianID uuid.UUID, from, to scheduling.Date) ([]*scheduling.ClinicianSchedule, error)
	ListExceptions(ctx context.Context, clinicianID uuid.UUID, from, to scheduling.Date) ([]*scheduling.ScheduleException, error)
}

type Staff interface {
	ListClinicians(ctx context.Context, limit, offset int) ([]*staff.Staff, int, error)
}

// clinicianPage bounds the clinicians covered by one utilization report.
const clinicianPage = 500

type Service struct {
	repo       Repository
	scheduling Scheduling
	staff      Staff
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, sched Scheduling, st Staff, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		scheduling: sched,
		staff:      st,
		logger:     logger.With().Str("component", "reporting").Logger(),
		now:        time.Now,
	}
}

// CheckRange rejects inverted and oversized ranges.
func CheckRange(r Range) error {
	if r.To.Before(r.From) {
		return apperr.FieldErrors(map[string]string{"to": "must not be before from"})
	}
	if !r.To.Before(r.From.AddDays(MaxRangeDays)) {
		return apperr.Validationf("date range must not exceed %d days", MaxRangeDays)
	}
	return nil
}

// noShowRate is no-shows over appointments that reached their end state
// for attendance: completed or no-show.
func noShowRate(byStatus map[string]int) float64 {
	attended := byStatus[scheduling.StatusCompleted]
	missed := byStatus[scheduling.StatusNoShow]
	if attended+missed == 0 {
		return 0
	}
	return round(float64(missed) / float64(attended+missed))
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func (s *Service) clinicianNames(ctx context.Context) (map[uuid.UUID]string, []*staff.Staff, error) {
	clinicians, _, err := s.staff.ListClinicians(ctx, clinicianPage, 0)
	if err != nil {
		return nil, nil, err
	}
	names := make(map[uuid.UUID]string, len(clinicians))
	for _, c := range clinicians {
		names[c.ID] = c.FullName()
	}
	return names, clinicians, nil
}

// Appointments counts appointments by status, overall and per clinician.
func (s *Service) Appointments(ctx context.Context, r Range) (*AppointmentReport, error) {
	if err := CheckRange(r); err != nil {
		return nil, err
	}
	from, to := r.Bounds()
	stats, err := s.repo.AppointmentStats(ctx, from, to)
	if err != nil {
		return nil, err
	}
	names, _, err := s.clinicianNames(ctx)
	if err != nil {
		return nil, err
	}

	rep := &AppointmentReport{Range: r, GeneratedAt: s.now().UTC(), ByStatus: map[string]int{}, ByClinician: []*ClinicianAppointments{}}
	per := map[uuid.UUID]*ClinicianAppointments{}
	for _, st := range stats {
		c, ok := per[st.ClinicianID]
		if !ok {
			c = &ClinicianAppointments{ClinicianID: st.ClinicianID, ClinicianName: names[st.ClinicianID], ByStatus: map[string]int{}}
			per[st.ClinicianID] = c
			rep.ByClinician = append(rep.ByClinician, c)
		}
		c.ByStatus[st.Status] += st.Count
		c.Total += st.Count
		rep.ByStatus[st.Status] += st.Count
		rep.Total += st.Count
	}
	for _, c := range rep.ByClinician {
		c.NoShowRate = noShowRate(c.ByStatus)
	}
	rep.NoShowRate = noShowRate(rep.ByStatus)
	sort.Slice(rep.ByClinician, func(i, j int) bool {
		return rep.ByClinician[i].Total > rep.ByClinician[j].Total
	})
	return rep, nil
}

// Utilization divides each clinician's booked minutes by the minutes their
// schedules offered over the range. Cancelled appointments do not count as
// booked; no-shows do, since the time was held.
func (s *Service) Utilization(ctx context.Context, r Range) (*UtilizationReport, error) {
	if err := CheckRange(r); err != nil {
		return nil, err
	}
	from, to := r.Bounds()
	stats, err := s.repo.AppointmentStats(ctx, from, to)
	if err != nil {
		return nil, err
	}
	booked := map[uuid.UUID]int{}
	for _, st := range stats {
		if st.Status != scheduling.StatusCancelled {
			booked[st.ClinicianID] += st.Minutes
		}
	}

	_, clinicians, err := s.clinicianNames(ctx)
	if err != nil {
		return nil, err
	}
	rep := &UtilizationReport{Range: r, GeneratedAt: s.now().UTC(), Clinicians: []*ClinicianUtilization{}}
	for _, c := range clinicians {
		available, err := s.availableMinutes(ctx, c.ID, r)
		if err != nil {
			return nil, err
		}
		u := &ClinicianUtilization{
			ClinicianID:      c.ID,
			ClinicianName:    c.FullName(),
			AvailableMinutes: available,
			BookedMinutes:    booked[c.ID],
		}
		if available > 0 {
			u.Utilization = round(float64(u.BookedMinutes) / float64(available))
		}
		if available == 0 && u.BookedMinutes == 0 {
			continue
		}
		rep.Clinicians = append(rep.Clinicians, u)
	}
	sort.Slice(rep.Clinicians, func(i, j int) bool {
		return rep.Clinicians[i].Utilization > rep.Clinicians[j].Utilization
	})
	return rep, nil
}

func (s *Service) availableMinutes(ctx context.Context, clinicianID uuid.UUID, r Range) (int, error) {
	scheds, err := s.scheduling.ClinicianSchedules(ctx, clinicianID, r.From, r.To)
	if err != nil {
		return 0, err
	}
	if len(scheds) == 0 {
		return 0, nil
	}
	exceptions, err := s.scheduling.ListExceptions(ctx, clinicianID, r.From, r.To)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, sched := range scheds {
		total += scheduling.AvailableMinutes(sched, exceptions, r.From, r.To)
	}
	return total, nil
}

// Claims summarizes claims by status with charge and payment totals.
func (s *Service) Claims(ctx context.Context, r Range) (*ClaimsReport, error) {
	if err := CheckRange(r); err != nil {
		return nil, err
	}
	from, to := r.Bounds()
	stats, err := s.repo.ClaimStats(ctx, from, to)
	if err != nil {
		return nil, err
	}
	rep := &ClaimsReport{Range: r, GeneratedAt: s.now().UTC(), ByStatus: stats}
	if rep.ByStatus == nil {
		rep.ByStatus = []*ClaimStat{}
	}
	for _, st := range stats {
		rep.TotalCount += st.Count
		rep.TotalChargeCents += st.ChargeCents
		rep.TotalPaidCents += st.PaidCents
	}
	return rep, nil
}
