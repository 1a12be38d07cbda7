package staff

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentalspace/ehr/internal/platform/db"
)

type staffRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &staffRepoPG{pool: pool} }

const staffCols = `id, first_name, last_name, email, COALESCE(phone, ''), roles,
	COALESCE(npi, ''), COALESCE(license_type, ''), supervisor_id, active, created_at, updated_at`

func (r *staffRepoPG) scanStaff(row pgx.Row) (*Staff, error) {
	var s Staff
	err := row.Scan(&s.ID, &s.FirstName, &s.LastName, &s.Email, &s.Phone, &s.Roles,
		&s.NPI, &s.LicenseType, &s.SupervisorID, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *staffRepoPG) Create(ctx context.Context, s *Staff) error {
	s.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO staff (id, first_name, last_name, email, phone, roles, npi, license_type, supervisor_id, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		s.ID, s.FirstName, s.LastName, s.Email, nullable(s.Phone), s.Roles,
		nullable(s.NPI), nullable(s.LicenseType), s.SupervisorID, s.Active,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return db.MapError(err, "staff")
}

func (r *staffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	s, err := r.scanStaff(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+staffCols+` FROM staff WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "staff")
	}
	return s, nil
}

func (r *staffRepoPG) GetByEmail(ctx context.Context, email string) (*Staff, error) {
	s, err := r.scanStaff(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+staffCols+` FROM staff WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, db.MapError(err, "staff")
	}
	return s, nil
}

func (r *staffRepoPG) Update(ctx context.Context, s *Staff) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE staff SET first_name=$2, last_name=$3, email=$4, phone=$5, roles=$6, npi=$7,
			license_type=$8, supervisor_id=$9, active=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.FirstName, s.LastName, s.Email, nullable(s.Phone), s.Roles, nullable(s.NPI),
		nullable(s.LicenseType), s.SupervisorID, s.Active,
	).Scan(&s.UpdatedAt)
	return db.MapError(err, "staff")
}

func (r *staffRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Staff, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Role != "" {
		where += fmt.Sprintf(` AND $%d = ANY(roles)`, idx)
		args = append(args, f.Role)
		idx++
	}
	if f.ActiveOnly {
		where += ` AND active`
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM staff`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + staffCols + ` FROM staff` + where +
		fmt.Sprintf(` ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Staff
	for rows.Next() {
		s, err := r.scanStaff(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
