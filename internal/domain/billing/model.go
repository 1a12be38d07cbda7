package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/platform/apperr"
)

// Policy priorities.
const (
	PriorityPrimary   = "primary"
	PrioritySecondary = "secondary"
	PriorityTertiary  = "tertiary"
)

// Eligibility statuses.
const (
	EligibilityUnknown  = "unknown"
	EligibilityActive   = "active"
	EligibilityInactive = "inactive"
	EligibilityError    = "error"
)

// Sync statuses track the last exchange with the clearinghouse.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

// Claim statuses.
const (
	ClaimDraft     = "draft"
	ClaimReady     = "ready"
	ClaimSubmitted = "submitted"
	ClaimAccepted  = "accepted"
	ClaimRejected  = "rejected"
	ClaimPaid      = "paid"
	ClaimDenied    = "denied"
)

// Payment statuses mirror the Stripe PaymentIntent lifecycle.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
)

const dateLayout = "2006-01-02"

var (
	ErrClaimLocked      = apperr.Conflict("claim can no longer be edited")
	ErrNotBillable      = apperr.Conflict("only completed appointments can be billed")
	ErrClearinghouseOff = apperr.Unavailable("clearinghouse is not configured", nil)
)

// SyncState records the outcome of the last clearinghouse call for a row.
type SyncState struct {
	SyncStatus   string     `json:"sync_status"`
	SyncError    string     `json:"sync_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

func (s *SyncState) synced(at time.Time) {
	s.SyncStatus, s.SyncError, s.LastSyncedAt = SyncSynced, "", &at
}

func (s *SyncState) failed(at time.Time, err error) {
	s.SyncStatus, s.SyncError, s.LastSyncedAt = SyncError, err.Error(), &at
}

// Policy is a client's insurance coverage.
type Policy struct {
	ID                   uuid.UUID  `json:"id"`
	ClientID             uuid.UUID  `json:"client_id" validate:"required"`
	PayerID              string     `json:"payer_id" validate:"required,max=50"`
	PayerName            string     `json:"payer_name" validate:"required,max=200"`
	MemberID             string     `json:"member_id" validate:"required,max=50"`
	GroupNumber          string     `json:"group_number,omitempty" validate:"max=50"`
	Priority             string     `json:"priority" validate:"omitempty,oneof=primary secondary tertiary"`
	SubscriberName       string     `json:"subscriber_name,omitempty" validate:"max=200"`
	Relationship         string     `json:"relationship" validate:"omitempty,oneof=self spouse child other"`
	EffectiveFrom        string     `json:"effective_from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EffectiveTo          string     `json:"effective_to,omitempty" validate:"omitempty,datetime=2006-01-02"`
	CopayCents           int64      `json:"copay_cents" validate:"gte=0"`
	EligibilityStatus    string     `json:"eligibility_status"`
	EligibilityCheckedAt *time.Time `json:"eligibility_checked_at,omitempty"`
	SyncState
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Claim is a billable service line sent to a payer through the clearinghouse.
type Claim struct {
	ID              uuid.UUID  `json:"id"`
	ClientID        uuid.UUID  `json:"client_id" validate:"required"`
	ClinicianID     uuid.UUID  `json:"clinician_id" validate:"required"`
	AppointmentID   *uuid.UUID `json:"appointment_id,omitempty"`
	PolicyID        *uuid.UUID `json:"policy_id,omitempty"`
	ServiceDate     string     `json:"service_date" validate:"required,datetime=2006-01-02"`
	CPTCode         string     `json:"cpt_code" validate:"required,alphanum,len=5"`
	ICD10Codes      []string   `json:"icd10_codes" validate:"required,min=1,max=12,dive,required,max=8"`
	Units           int        `json:"units" validate:"gte=1,lte=99"`
	ChargeCents     int64      `json:"charge_cents" validate:"gte=0"`
	PaidCents       int64      `json:"paid_cents"`
	Status          string     `json:"status"`
	ClearinghouseID string     `json:"clearinghouse_id,omitempty"`
	SyncState
	RemittanceKey string     `json:"remittance_key,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	AdjudicatedAt *time.Time `json:"adjudicated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Editable reports whether the claim has not been sent yet.
func (c *Claim) Editable() bool {
	return c.Status == ClaimDraft || c.Status == ClaimReady || c.Status == ClaimRejected
}

// Adjudicated reports whether the payer has decided the claim.
func (c *Claim) Adjudicated() bool {
	return c.Status == ClaimPaid || c.Status == ClaimDenied
}

// ClaimFilter narrows claim listings.
type ClaimFilter struct {
	ClientID *uuid.UUID
	Status   string
}

// Payment is a client copay collected through Stripe.
type Payment struct {
	ID                    uuid.UUID  `json:"id"`
	ClientID              uuid.UUID  `json:"client_id"`
	AppointmentID         *uuid.UUID `json:"appointment_id,omitempty"`
	AmountCents           int64      `json:"amount_cents"`
	Currency              string     `json:"currency"`
	StripePaymentIntentID string     `json:"stripe_payment_intent_id,omitempty"`
	Status                string     `json:"status"`
	// ClientSecret is returned once to the portal so the browser can confirm the intent.
	ClientSecret string    `json:"client_secret,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
