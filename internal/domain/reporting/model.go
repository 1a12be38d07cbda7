package reporting

import (
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/domain/scheduling"
)

// MaxRangeDays bounds a report's date range.
const MaxRangeDays = 366

// Range is an inclusive span of calendar dates.
type Range struct {
	From scheduling.Date `json:"from"`
	To   scheduling.Date `json:"to"`
}

// Bounds returns the half-open UTC instant range covering the dates.
func (r Range) Bounds() (time.Time, time.Time) {
	return r.From.In(time.UTC), r.To.AddDays(1).In(time.UTC)
}

// AppointmentStat is one (clinician, status) bucket.
type AppointmentStat struct {
	ClinicianID uuid.UUID
	Status      string
	Count       int
	Minutes     int
}

// ClinicianAppointments summarizes one clinician's appointments.
type ClinicianAppointments struct {
	ClinicianID   uuid.UUID      `json:"clinician_id"`
	ClinicianName string         `json:"clinician_name,omitempty"`
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	NoShowRate    float64        `json:"no_show_rate"`
}

type AppointmentReport struct {
	Range       Range                    `json:"range"`
	GeneratedAt time.Time                `json:"generated_at"`
	Total       int                      `json:"total"`
	ByStatus    map[string]int           `json:"by_status"`
	NoShowRate  float64                  `json:"no_show_rate"`
	ByClinician []*ClinicianAppointments `json:"by_clinician"`
}

// ClinicianUtilization compares booked time with the time the clinician's
// schedule offered.
type ClinicianUtilization struct {
	ClinicianID      uuid.UUID `json:"clinician_id"`
	ClinicianName    string    `json:"clinician_name"`
	AvailableMinutes int       `json:"available_minutes"`
	BookedMinutes    int       `json:"booked_minutes"`
	Utilization      float64   `json:"utilization"`
}

type UtilizationReport struct {
	Range       Range                   `json:"range"`
	GeneratedAt time.Time               `json:"generated_at"`
	Clinicians  []*ClinicianUtilization `json:"clinicians"`
}

// ClaimStat is one claim status bucket.
type ClaimStat struct {
	Status      string `json:"status"`
	Count       int    `json:"count"`
	ChargeCents int64  `json:"charge_cents"`
	PaidCents   int64  `json:"paid_cents"`
}

type ClaimsReport struct {
	Range            Range        `json:"range"`
	GeneratedAt      time.Time    `json:"generated_at"`
	ByStatus         []*ClaimStat `json:"by_status"`
	TotalCount       int          `json:"total_count"`
	TotalChargeCents int64        `json:"total_charge_cents"`
	TotalPaidCents   int64        `json:"total_paid_cents"`
}
