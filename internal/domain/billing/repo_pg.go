package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/db"
)

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

// =========== Policy Repository ===========

type policyRepoPG struct{ pool *pgxpool.Pool }

func NewPolicyRepoPG(pool *pgxpool.Pool) PolicyRepository { return &policyRepoPG{pool: pool} }

const policyCols = `id, client_id, payer_id, payer_name, member_id, COALESCE(group_number, ''), priority,
	COALESCE(subscriber_name, ''), relationship, effective_from, effective_to, copay_cents,
	eligibility_status, eligibility_checked_at, sync_status, COALESCE(sync_error, ''), last_synced_at,
	created_at, updated_at`

func scanPolicy(row pgx.Row) (*Policy, error) {
	var (
		p        Policy
		from, to *time.Time
	)
	err := row.Scan(&p.ID, &p.ClientID, &p.PayerID, &p.PayerName, &p.MemberID, &p.GroupNumber, &p.Priority,
		&p.SubscriberName, &p.Relationship, &from, &to, &p.CopayCents,
		&p.EligibilityStatus, &p.EligibilityCheckedAt, &p.SyncStatus, &p.SyncError, &p.LastSyncedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.EffectiveFrom, p.EffectiveTo = formatDate(from), formatDate(to)
	return &p, nil
}

func (r *policyRepoPG) Create(ctx context.Context, p *Policy) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO insurance_policy (id, client_id, payer_id, payer_name, member_id, group_number, priority,
			subscriber_name, relationship, effective_from, effective_to, copay_cents, eligibility_status, sync_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::date,$11::date,$12,$13,$14)
		RETURNING created_at, updated_at`,
		p.ID, p.ClientID, p.PayerID, p.PayerName, p.MemberID, nullable(p.GroupNumber), p.Priority,
		nullable(p.SubscriberName), p.Relationship, nullable(p.EffectiveFrom), nullable(p.EffectiveTo),
		p.CopayCents, p.EligibilityStatus, p.SyncStatus,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return db.MapError(err, "insurance policy")
}

func (r *policyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Policy, error) {
	p, err := scanPolicy(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+policyCols+` FROM insurance_policy WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "insurance policy")
	}
	return p, nil
}

func (r *policyRepoPG) Update(ctx context.Context, p *Policy) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE insurance_policy SET payer_id=$2, payer_name=$3, member_id=$4, group_number=$5, priority=$6,
			subscriber_name=$7, relationship=$8, effective_from=$9::date, effective_to=$10::date, copay_cents=$11,
			eligibility_status=$12, eligibility_checked_at=$13, sync_status=$14, sync_error=$15,
			last_synced_at=$16, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.PayerID, p.PayerName, p.MemberID, nullable(p.GroupNumber), p.Priority,
		nullable(p.SubscriberName), p.Relationship, nullable(p.EffectiveFrom), nullable(p.EffectiveTo), p.CopayCents,
		p.EligibilityStatus, p.EligibilityCheckedAt, p.SyncStatus, nullable(p.SyncError), p.LastSyncedAt,
	).Scan(&p.UpdatedAt)
	return db.MapError(err, "insurance policy")
}

func (r *policyRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM insurance_policy WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err, "insurance policy")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("insurance policy")
	}
	return nil
}

func (r *policyRepoPG) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*Policy, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+policyCols+` FROM insurance_policy
		WHERE client_id = $1
		ORDER BY array_position(ARRAY['primary','secondary','tertiary'], priority)`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// =========== Claim Repository ===========

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewClaimRepoPG(pool *pgxpool.Pool) ClaimRepository { return &claimRepoPG{pool: pool} }

const claimCols = `id, client_id, clinician_id, appointment_id, policy_id, service_date, cpt_code, icd10_codes,
	units, charge_cents, paid_cents, status, COALESCE(clearinghouse_id, ''), sync_status,
	COALESCE(sync_error, ''), last_synced_at, COALESCE(remittance_key, ''), submitted_at, adjudicated_at,
	created_at, updated_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var (
		c           Claim
		serviceDate time.Time
	)
	err := row.Scan(&c.ID, &c.ClientID, &c.ClinicianID, &c.AppointmentID, &c.PolicyID, &serviceDate,
		&c.CPTCode, &c.ICD10Codes, &c.Units, &c.ChargeCents, &c.PaidCents, &c.Status, &c.ClearinghouseID,
		&c.SyncStatus, &c.SyncError, &c.LastSyncedAt, &c.RemittanceKey, &c.SubmittedAt, &c.AdjudicatedAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ServiceDate = serviceDate.Format(dateLayout)
	return &c, nil
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	c.ID = uuid.New()
	if c.ICD10Codes == nil {
		c.ICD10Codes = []string{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO claim (id, client_id, clinician_id, appointment_id, policy_id, service_date, cpt_code,
			icd10_codes, units, charge_cents, status, sync_status)
		VALUES ($1,$2,$3,$4,$5,$6::date,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		c.ID, c.ClientID, c.ClinicianID, c.AppointmentID, c.PolicyID, c.ServiceDate, c.CPTCode,
		c.ICD10Codes, c.Units, c.ChargeCents, c.Status, c.SyncStatus,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return db.MapError(err, "claim")
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaim(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claim WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "claim")
	}
	return c, nil
}

func (r *claimRepoPG) GetByClearinghouseID(ctx context.Context, clearinghouseID string) (*Claim, error) {
	c, err := scanClaim(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claim WHERE clearinghouse_id = $1`, clearinghouseID))
	if err != nil {
		return nil, db.MapError(err, "claim")
	}
	return c, nil
}

func (r *claimRepoPG) Update(ctx context.Context, c *Claim) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE claim SET policy_id=$2, service_date=$3::date, cpt_code=$4, icd10_codes=$5, units=$6,
			charge_cents=$7, paid_cents=$8, status=$9, clearinghouse_id=$10, sync_status=$11, sync_error=$12,
			last_synced_at=$13, remittance_key=$14, submitted_at=$15, adjudicated_at=$16, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.PolicyID, c.ServiceDate, c.CPTCode, c.ICD10Codes, c.Units,
		c.ChargeCents, c.PaidCents, c.Status, nullable(c.ClearinghouseID), c.SyncStatus, nullable(c.SyncError),
		c.LastSyncedAt, nullable(c.RemittanceKey), c.SubmittedAt, c.AdjudicatedAt,
	).Scan(&c.UpdatedAt)
	return db.MapError(err, "claim")
}

func (r *claimRepoPG) List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.ClientID != nil {
		where += fmt.Sprintf(` AND client_id = $%d`, idx)
		args = append(args, *f.ClientID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM claim`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + claimCols + ` FROM claim` + where +
		fmt.Sprintf(` ORDER BY service_date DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *claimRepoPG) LastAdjudicatedAt(ctx context.Context) (time.Time, error) {
	var last *time.Time
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT MAX(adjudicated_at) FROM claim`).Scan(&last); err != nil {
		return time.Time{}, err
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

const paymentCols = `id, client_id, appointment_id, amount_cents, currency,
	COALESCE(stripe_payment_intent_id, ''), status, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.ClientID, &p.AppointmentID, &p.AmountCents, &p.Currency,
		&p.StripePaymentIntentID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

// Create inserts p. Retried requests reuse the Stripe intent, so a second
// insert for the same intent returns the stored row instead.
func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payment (id, client_id, appointment_id, amount_cents, currency, stripe_payment_intent_id, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (stripe_payment_intent_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		p.ID, p.ClientID, p.AppointmentID, p.AmountCents, p.Currency, nullable(p.StripePaymentIntentID), p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return db.MapError(err, "payment")
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payment WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "payment")
	}
	return p, nil
}

func (r *paymentRepoPG) GetByIntentID(ctx context.Context, intentID string) (*Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payment WHERE stripe_payment_intent_id = $1`, intentID))
	if err != nil {
		return nil, db.MapError(err, "payment")
	}
	return p, nil
}

func (r *paymentRepoPG) UpdateStatus(ctx context.Context, p *Payment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE payment SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
		p.ID, p.Status).Scan(&p.UpdatedAt)
	return db.MapError(err, "payment")
}

func (r *paymentRepoPG) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*Payment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+paymentCols+` FROM payment WHERE client_id = $1 ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
