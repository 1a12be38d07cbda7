package reminder

import (
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/platform/notification"
)

// Reminder statuses. A reminder is pending until the worker claims it,
// queued while it sits on the message queue, and sent once the provider
// accepted it. Delivery receipts move it to delivered or failed.
const (
	StatusPending   = "pending"
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// dispatchBatch bounds how many reminders one worker run claims.
const dispatchBatch = 200

type Reminder struct {
	ID                uuid.UUID            `json:"id"`
	AppointmentID     uuid.UUID            `json:"appointment_id"`
	ClientID          uuid.UUID            `json:"client_id"`
	Channel           notification.Channel `json:"channel"`
	Template          string               `json:"template"`
	Recipient         string               `json:"recipient"`
	SendAt            time.Time            `json:"send_at"`
	Status            string               `json:"status"`
	ProviderMessageID string               `json:"provider_message_id,omitempty"`
	Attempts          int                  `json:"attempts"`
	LastError         string               `json:"last_error,omitempty"`
	SentAt            *time.Time           `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time           `json:"delivered_at,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// CallbackRequest is a provider delivery receipt.
type CallbackRequest struct {
	MessageID string `json:"message_id" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=delivered failed undelivered bounced"`
	Error     string `json:"error,omitempty" validate:"max=500"`
}

// Delivered reports whether the receipt confirms delivery.
func (r CallbackRequest) Delivered() bool {
	return r.Status == StatusDelivered
}

// TemplateRequest overrides a tenant's template for one name and channel.
type TemplateRequest struct {
	Subject string `json:"subject" validate:"max=200"`
	Body    string `json:"body" validate:"required,max=2000"`
}

var templateNames = map[string]bool{
	notification.TemplateAppointmentReminder:  true,
	notification.TemplateAppointmentCancelled: true,
}
