package reporting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentalspace/ehr/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) AppointmentStats(ctx context.Context, from, to time.Time) ([]AppointmentStat, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT clinician_id, status, COUNT(*),
			COALESCE(SUM(EXTRACT(EPOCH FROM (end_time - start_time)) / 60), 0)::int
		FROM appointment
		WHERE start_time >= $1 AND start_time < $2
		GROUP BY clinician_id, status
		ORDER BY clinician_id, status`, from, to)
	if err != nil {
		return nil, db.MapError(err, "appointment")
	}
	defer rows.Close()
	var out []AppointmentStat
	for rows.Next() {
		var s AppointmentStat
		if err := rows.Scan(&s.ClinicianID, &s.Status, &s.Count, &s.Minutes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repoPG) ClaimStats(ctx context.Context, from, to time.Time) ([]*ClaimStat, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(charge_cents), 0)::bigint, COALESCE(SUM(paid_cents), 0)::bigint
		FROM claim
		WHERE service_date >= $1::date AND service_date < $2::date
		GROUP BY status
		ORDER BY status`, from, to)
	if err != nil {
		return nil, db.MapError(err, "claim")
	}
	defer rows.Close()
	var out []*ClaimStat
	for rows.Next() {
		var s ClaimStat
		if err := rows.Scan(&s.Status, &s.Count, &s.ChargeCents, &s.PaidCents); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
