package portal

import (
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/platform/apperr"
)

const (
	// MaxFailedAttempts locks an account until front desk staff unlock it.
	MaxFailedAttempts = 5
	// CancelNotice is how far ahead of the start a client may cancel online.
	CancelNotice = 24 * time.Hour
)

var (
	ErrInvalidCredentials = apperr.Unauthorized("invalid email or password")
	ErrAccountLocked      = apperr.Forbidden("account is locked, please contact the practice")
	ErrAccountDisabled    = apperr.Forbidden("account is disabled")
	ErrCancelTooLate      = apperr.Conflict("appointments can only be cancelled online at least 24 hours in advance")
	ErrNoClientIdentity   = apperr.Forbidden("portal access requires a client token")
	// ErrNoMatchingClient does not say which detail failed to match.
	ErrNoMatchingClient = apperr.Validation("no client record matches the details provided")
)

// Account is a client's portal login.
type Account struct {
	ID             uuid.UUID  `json:"id"`
	ClientID       uuid.UUID  `json:"client_id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Active         bool       `json:"active"`
	FailedAttempts int        `json:"failed_attempts"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Locked reports whether too many failed logins have been recorded.
func (a *Account) Locked() bool {
	return a.FailedAttempts >= MaxFailedAttempts
}

// RegisterRequest links a portal login to an existing client record. The
// email and date of birth must match the chart.
type RegisterRequest struct {
	MRN         string `json:"mrn" validate:"required,max=32"`
	Email       string `json:"email" validate:"required,email"`
	DateOfBirth string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Password    string `json:"password" validate:"required,min=10,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Session is returned on login.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	ClientID    uuid.UUID `json:"client_id"`
}

// BookRequest is a self-booking. The client is always the caller.
type BookRequest struct {
	ClinicianID       uuid.UUID `json:"clinician_id" validate:"required"`
	AppointmentTypeID uuid.UUID `json:"appointment_type_id" validate:"required"`
	StartTime         time.Time `json:"start_time" validate:"required"`
	Location          string    `json:"location,omitempty"`
	Notes             string    `json:"notes,omitempty" validate:"max=1000"`
}
