package reporting

import (
	"context"
	"time"
)

type Repository interface {
	// AppointmentStats groups appointments starting in [from, to) by
	// clinician and status.
	AppointmentStats(ctx context.Context, from, to time.Time) ([]AppointmentStat, error)
	// ClaimStats groups claims with a service date in [from, to) by status.
	ClaimStats(ctx context.Context, from, to time.Time) ([]*ClaimStat, error)
}
