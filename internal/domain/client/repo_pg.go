package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentalspace/ehr/internal/platform/db"
)

type clientRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &clientRepoPG{pool: pool} }

const clientCols = `id, mrn, first_name, last_name, COALESCE(preferred_name, ''), date_of_birth,
	COALESCE(gender, ''), COALESCE(email, ''), COALESCE(phone, ''), COALESCE(address_line1, ''),
	COALESCE(address_line2, ''), COALESCE(city, ''), COALESCE(state, ''), COALESCE(postal_code, ''),
	status, primary_clinician_id, COALESCE(emergency_contact_name, ''), COALESCE(emergency_contact_phone, ''),
	email_opt_in, sms_opt_in, discharged_at, created_at, updated_at`

func (r *clientRepoPG) scanClient(row pgx.Row) (*Client, error) {
	var c Client
	var dob time.Time
	err := row.Scan(&c.ID, &c.MRN, &c.FirstName, &c.LastName, &c.PreferredName, &dob,
		&c.Gender, &c.Email, &c.Phone, &c.AddressLine1,
		&c.AddressLine2, &c.City, &c.State, &c.PostalCode,
		&c.Status, &c.PrimaryClinicianID, &c.EmergencyContactName, &c.EmergencyContactPhone,
		&c.EmailOptIn, &c.SMSOptIn, &c.DischargedAt, &c.CreatedAt, &c.UpdatedAt)
	c.DateOfBirth = dob.Format("2006-01-02")
	return &c, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *clientRepoPG) Create(ctx context.Context, c *Client) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO client (id, mrn, first_name, last_name, preferred_name, date_of_birth, gender,
			email, phone, address_line1, address_line2, city, state, postal_code, status,
			primary_clinician_id, emergency_contact_name, emergency_contact_phone, email_opt_in, sms_opt_in)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, updated_at`,
		c.ID, c.MRN, c.FirstName, c.LastName, nullable(c.PreferredName), c.DateOfBirth, nullable(c.Gender),
		nullable(c.Email), nullable(c.Phone), nullable(c.AddressLine1), nullable(c.AddressLine2),
		nullable(c.City), nullable(c.State), nullable(c.PostalCode), c.Status,
		c.PrimaryClinicianID, nullable(c.EmergencyContactName), nullable(c.EmergencyContactPhone),
		c.EmailOptIn, c.SMSOptIn,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return db.MapError(err, "client")
}

func (r *clientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	c, err := r.scanClient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+clientCols+` FROM client WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "client")
	}
	return c, nil
}

func (r *clientRepoPG) GetByMRN(ctx context.Context, mrn string) (*Client, error) {
	c, err := r.scanClient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+clientCols+` FROM client WHERE mrn = $1`, mrn))
	if err != nil {
		return nil, db.MapError(err, "client")
	}
	return c, nil
}

func (r *clientRepoPG) Update(ctx context.Context, c *Client) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE client SET first_name=$2, last_name=$3, preferred_name=$4, date_of_birth=$5, gender=$6,
			email=$7, phone=$8, address_line1=$9, address_line2=$10, city=$11, state=$12, postal_code=$13,
			status=$14, primary_clinician_id=$15, emergency_contact_name=$16, emergency_contact_phone=$17,
			email_opt_in=$18, sms_opt_in=$19, discharged_at=$20, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.FirstName, c.LastName, nullable(c.PreferredName), c.DateOfBirth, nullable(c.Gender),
		nullable(c.Email), nullable(c.Phone), nullable(c.AddressLine1), nullable(c.AddressLine2),
		nullable(c.City), nullable(c.State), nullable(c.PostalCode),
		c.Status, c.PrimaryClinicianID, nullable(c.EmergencyContactName), nullable(c.EmergencyContactPhone),
		c.EmailOptIn, c.SMSOptIn, c.DischargedAt,
	).Scan(&c.UpdatedAt)
	return db.MapError(err, "client")
}

func (r *clientRepoPG) Search(ctx context.Context, p SearchParams, limit, offset int) ([]*Client, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if p.Name != "" {
		where += fmt.Sprintf(` AND (first_name ILIKE $%d OR last_name ILIKE $%d OR preferred_name ILIKE $%d)`, idx, idx, idx)
		args = append(args, "%"+p.Name+"%")
		idx++
	}
	if p.MRN != "" {
		where += fmt.Sprintf(` AND mrn = $%d`, idx)
		args = append(args, p.MRN)
		idx++
	}
	if p.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, p.Status)
		idx++
	}
	if p.ClinicianID != nil {
		where += fmt.Sprintf(` AND primary_clinician_id = $%d`, idx)
		args = append(args, *p.ClinicianID)
		idx++
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM client`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + clientCols + ` FROM client` + where +
		fmt.Sprintf(` ORDER BY lower(last_name), lower(first_name) LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Client
	for rows.Next() {
		c, err := r.scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
