package client

import (
	"time"

	"github.com/google/uuid"
)

// Client statuses.
const (
	StatusActive     = "active"
	StatusInactive   = "inactive"
	StatusDischarged = "discharged"
)

// Client is a person receiving care.
type Client struct {
	ID                    uuid.UUID  `json:"id"`
	MRN                   string     `json:"mrn" validate:"omitempty,max=32"`
	FirstName             string     `json:"first_name" validate:"required,max=100"`
	LastName              string     `json:"last_name" validate:"required,max=100"`
	PreferredName         string     `json:"preferred_name,omitempty" validate:"max=100"`
	DateOfBirth           string     `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Gender                string     `json:"gender,omitempty" validate:"max=50"`
	Email                 string     `json:"email,omitempty" validate:"omitempty,email"`
	Phone                 string     `json:"phone,omitempty" validate:"omitempty,e164"`
	AddressLine1          string     `json:"address_line1,omitempty"`
	AddressLine2          string     `json:"address_line2,omitempty"`
	City                  string     `json:"city,omitempty"`
	State                 string     `json:"state,omitempty" validate:"omitempty,len=2"`
	PostalCode            string     `json:"postal_code,omitempty" validate:"max=10"`
	Status                string     `json:"status" validate:"omitempty,oneof=active inactive discharged"`
	PrimaryClinicianID    *uuid.UUID `json:"primary_clinician_id,omitempty"`
	EmergencyContactName  string     `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone string     `json:"emergency_contact_phone,omitempty" validate:"omitempty,e164"`
	EmailOptIn            bool       `json:"email_opt_in"`
	SMSOptIn              bool       `json:"sms_opt_in"`
	DischargedAt          *time.Time `json:"discharged_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// DisplayName is the name used in greetings: the preferred name when set.
func (c *Client) DisplayName() string {
	if c.PreferredName != "" {
		return c.PreferredName
	}
	return c.FirstName
}

// SearchParams filters client searches. Empty fields are ignored.
type SearchParams struct {
	Name        string
	MRN         string
	Status      string
	ClinicianID *uuid.UUID
}
