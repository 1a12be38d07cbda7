package credentialing

import (
	"time"

	"github.com/google/uuid"
)

// Credential types.
const (
	TypeLicense        = "license"
	TypeCertification  = "certification"
	TypeDEA            = "dea"
	TypeNPI            = "npi"
	TypeInsurancePanel = "insurance_panel"
	TypeMalpractice    = "malpractice"
)

// Verification statuses.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

const dateLayout = "2006-01-02"

// Credential is a license, certification or panel enrollment held by a
// staff member. Dates are calendar dates in YYYY-MM-DD form.
type Credential struct {
	ID                 uuid.UUID  `json:"id"`
	StaffID            uuid.UUID  `json:"staff_id" validate:"required"`
	CredentialType     string     `json:"credential_type" validate:"required,oneof=license certification dea npi insurance_panel malpractice"`
	Number             string     `json:"number" validate:"required,max=64"`
	IssuingState       string     `json:"issuing_state,omitempty" validate:"omitempty,len=2"`
	IssuingBody        string     `json:"issuing_body,omitempty" validate:"max=200"`
	IssuedOn           string     `json:"issued_on,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ExpiresOn          string     `json:"expires_on,omitempty" validate:"omitempty,datetime=2006-01-02"`
	VerificationStatus string     `json:"verification_status"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	VerifiedBy         *uuid.UUID `json:"verified_by,omitempty"`
	DocumentKey        string     `json:"document_key,omitempty"`
	Notes              string     `json:"notes,omitempty" validate:"max=2000"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// expiry returns the expiration date, or false when the credential does not expire.
func (c *Credential) expiry() (time.Time, bool) {
	if c.ExpiresOn == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, c.ExpiresOn)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ExpiredOn reports whether the credential is past its expiration on day.
// A credential is valid through its expiration date.
func (c *Credential) ExpiredOn(day time.Time) bool {
	exp, ok := c.expiry()
	return ok && exp.Before(truncateDay(day))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
