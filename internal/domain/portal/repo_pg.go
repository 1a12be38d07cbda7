package portal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/db"
)

type accountRepoPG struct {
	pool *pgxpool.Pool
}

func NewAccountRepoPG(pool *pgxpool.Pool) AccountRepository {
	return &accountRepoPG{pool: pool}
}

const accountCols = `id, client_id, email, password_hash, active, failed_attempts,
	last_login_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.ClientID, &a.Email, &a.PasswordHash, &a.Active,
		&a.FailedAttempts, &a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, db.MapError(err, "portal account")
	}
	return &a, nil
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO portal_account (client_id, email, password_hash, active)
		VALUES ($1, lower($2), $3, $4)
		RETURNING id, email, failed_attempts, created_at, updated_at`,
		a.ClientID, a.Email, a.PasswordHash, a.Active,
	).Scan(&a.ID, &a.Email, &a.FailedAttempts, &a.CreatedAt, &a.UpdatedAt)
	return db.MapError(err, "portal account")
}

func (r *accountRepoPG) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+accountCols+` FROM portal_account WHERE email = lower($1)`, email))
}

func (r *accountRepoPG) GetByClientID(ctx context.Context, clientID uuid.UUID) (*Account, error) {
	return scanAccount(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+accountCols+` FROM portal_account WHERE client_id = $1`, clientID))
}

func (r *accountRepoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return db.MapError(err, "portal account")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("portal account")
	}
	return nil
}

func (r *accountRepoPG) RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, `
		UPDATE portal_account SET failed_attempts = 0, last_login_at = $2, updated_at = NOW()
		WHERE id = $1`, id, at)
}

func (r *accountRepoPG) RecordFailure(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE portal_account SET failed_attempts = failed_attempts + 1, updated_at = NOW()
		WHERE id = $1 RETURNING failed_attempts`, id).Scan(&n)
	return n, db.MapError(err, "portal account")
}

func (r *accountRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.exec(ctx, `UPDATE portal_account SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

func (r *accountRepoPG) Unlock(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `UPDATE portal_account SET failed_attempts = 0, updated_at = NOW() WHERE id = $1`, id)
}
