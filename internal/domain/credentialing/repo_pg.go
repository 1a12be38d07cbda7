package credentialing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/db"
)

type credentialRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &credentialRepoPG{pool: pool} }

const credCols = `id, staff_id, credential_type, number, COALESCE(issuing_state, ''), COALESCE(issuing_body, ''),
	issued_on, expires_on, verification_status, verified_at, verified_by, COALESCE(document_key, ''),
	COALESCE(notes, ''), created_at, updated_at`

func scanCredential(row pgx.Row) (*Credential, error) {
	var (
		c                 Credential
		issued, expiresOn *time.Time
	)
	err := row.Scan(&c.ID, &c.StaffID, &c.CredentialType, &c.Number, &c.IssuingState, &c.IssuingBody,
		&issued, &expiresOn, &c.VerificationStatus, &c.VerifiedAt, &c.VerifiedBy, &c.DocumentKey,
		&c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.IssuedOn = formatDate(issued)
	c.ExpiresOn = formatDate(expiresOn)
	return &c, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *credentialRepoPG) Create(ctx context.Context, c *Credential) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO credential (id, staff_id, credential_type, number, issuing_state, issuing_body,
			issued_on, expires_on, verification_status, document_key, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7::date,$8::date,$9,$10,$11)
		RETURNING created_at, updated_at`,
		c.ID, c.StaffID, c.CredentialType, c.Number, nullable(c.IssuingState), nullable(c.IssuingBody),
		nullable(c.IssuedOn), nullable(c.ExpiresOn), c.VerificationStatus, nullable(c.DocumentKey), nullable(c.Notes),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return db.MapError(err, "credential")
}

func (r *credentialRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Credential, error) {
	c, err := scanCredential(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+credCols+` FROM credential WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "credential")
	}
	return c, nil
}

func (r *credentialRepoPG) Update(ctx context.Context, c *Credential) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE credential SET credential_type=$2, number=$3, issuing_state=$4, issuing_body=$5,
			issued_on=$6::date, expires_on=$7::date, verification_status=$8, verified_at=$9, verified_by=$10,
			document_key=$11, notes=$12, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.CredentialType, c.Number, nullable(c.IssuingState), nullable(c.IssuingBody),
		nullable(c.IssuedOn), nullable(c.ExpiresOn), c.VerificationStatus, c.VerifiedAt, c.VerifiedBy,
		nullable(c.DocumentKey), nullable(c.Notes),
	).Scan(&c.UpdatedAt)
	return db.MapError(err, "credential")
}

func (r *credentialRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM credential WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err, "credential")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("credential")
	}
	return nil
}

func (r *credentialRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Credential, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *credentialRepoPG) ListByStaff(ctx context.Context, staffID uuid.UUID) ([]*Credential, error) {
	return r.query(ctx, `SELECT `+credCols+` FROM credential WHERE staff_id = $1
		ORDER BY expires_on NULLS LAST, credential_type`, staffID)
}

func (r *credentialRepoPG) ListExpiring(ctx context.Context, from, to time.Time) ([]*Credential, error) {
	return r.query(ctx, `SELECT `+credCols+` FROM credential
		WHERE expires_on BETWEEN $1::date AND $2::date
		  AND verification_status NOT IN ('expired', 'rejected')
		ORDER BY expires_on, staff_id`, from.Format(dateLayout), to.Format(dateLayout))
}

func (r *credentialRepoPG) MarkExpired(ctx context.Context, asOf time.Time) ([]*Credential, error) {
	return r.query(ctx, `UPDATE credential SET verification_status = 'expired', updated_at = NOW()
		WHERE expires_on < $1::date AND verification_status NOT IN ('expired', 'rejected')
		RETURNING `+credCols, asOf.Format(dateLayout))
}
