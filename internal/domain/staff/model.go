package staff

import (
	"time"

	"github.com/google/uuid"
)

// Staff is a practice user: clinicians, supervisors, front desk and billing.
type Staff struct {
	ID           uuid.UUID  `json:"id"`
	FirstName    string     `json:"first_name" validate:"required,max=100"`
	LastName     string     `json:"last_name" validate:"required,max=100"`
	Email        string     `json:"email" validate:"required,email"`
	Phone        string     `json:"phone,omitempty" validate:"omitempty,e164"`
	Roles        []string   `json:"roles" validate:"required,min=1,unique,dive,oneof=admin clinician supervisor front_desk billing"`
	NPI          string     `json:"npi,omitempty" validate:"omitempty,numeric,len=10"`
	LicenseType  string     `json:"license_type,omitempty" validate:"max=50"`
	SupervisorID *uuid.UUID `json:"supervisor_id,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasRole reports whether the staff member holds role.
func (s *Staff) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (s *Staff) FullName() string {
	return s.FirstName + " " + s.LastName
}

// Filter narrows staff listings.
type Filter struct {
	Role       string
	ActiveOnly bool
}
