// Package notification delivers appointment reminders over email and SMS.
// Messages are rendered from templates, queued on RabbitMQ by the worker and
// handed to a channel-specific sender by the queue consumer.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Channel is the medium a message is delivered through.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Message is a rendered notification ready to send.
type Message struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Subject   string  `json:"subject,omitempty"`
	Body      string  `json:"body"`
}

// EmailSender delivers email and returns the provider message id.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// SMSSender delivers a text message and returns the provider message id.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// ErrChannelDisabled is returned when no sender is configured for a channel.
var ErrChannelDisabled = errors.New("notification channel not configured")

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template names used by the reminder module.
const (
	TemplateAppointmentReminder  = "appointment-reminder"
	TemplateAppointmentCancelled = "appointment-cancelled"
)

// Template is a {{key}} placeholder template for one channel.
type Template struct {
	Name    string  `json:"name"`
	Channel Channel `json:"channel"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
}

// TemplateEngine holds templates keyed by name and channel.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine returns an engine with the default reminder templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range DefaultTemplates() {
		e.Register(t)
	}
	return e
}

// DefaultTemplates are seeded into every tenant and used when a tenant has
// no override.
func DefaultTemplates() []Template {
	return []Template{
		{
			Name:    TemplateAppointmentReminder,
			Channel: ChannelEmail,
			Subject: "Appointment reminder: {{date}} at {{time}}",
			Body: "Hello {{client_name}},\n\nThis is a reminder of your {{appointment_type}} appointment " +
				"with {{clinician_name}} on {{date}} at {{time}} ({{location}}).\n\n" +
				"If you need to cancel, please do so at least 24 hours in advance through the client portal.",
		},
		{
			Name:    TemplateAppointmentReminder,
			Channel: ChannelSMS,
			Body:    "Reminder: {{appointment_type}} with {{clinician_name}} on {{date}} at {{time}}. Reply STOP to opt out.",
		},
		{
			Name:    TemplateAppointmentCancelled,
			Channel: ChannelEmail,
			Subject: "Appointment cancelled: {{date}} at {{time}}",
			Body:    "Hello {{client_name}},\n\nYour appointment with {{clinician_name}} on {{date}} at {{time}} has been cancelled.",
		},
		{
			Name:    TemplateAppointmentCancelled,
			Channel: ChannelSMS,
			Body:    "Your appointment with {{clinician_name}} on {{date}} at {{time}} has been cancelled.",
		},
	}
}

func templateKey(name string, ch Channel) string {
	return name + "/" + string(ch)
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[templateKey(t.Name, t.Channel)] = t
}

// Render performs {{key}} replacement. Placeholders absent from data are
// left as-is.
func (e *TemplateEngine) Render(name string, ch Channel, data map[string]string) (Message, error) {
	e.mu.RLock()
	t, ok := e.templates[templateKey(name, ch)]
	e.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("template %q for %s not found", name, ch)
	}

	subject, body := t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return Message{Channel: ch, Subject: subject, Body: body}, nil
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher routes a message to the sender for its channel.
type Dispatcher struct {
	email EmailSender
	sms   SMSSender
}

// NewDispatcher accepts nil senders; messages for those channels fail with
// ErrChannelDisabled.
func NewDispatcher(email EmailSender, sms SMSSender) *Dispatcher {
	return &Dispatcher{email: email, sms: sms}
}

// Send delivers m and returns the provider message id.
func (d *Dispatcher) Send(ctx context.Context, m Message) (string, error) {
	if m.Recipient == "" {
		return "", fmt.Errorf("message has no recipient")
	}
	switch m.Channel {
	case ChannelEmail:
		if d.email == nil {
			return "", ErrChannelDisabled
		}
		return d.email.SendEmail(ctx, m.Recipient, m.Subject, m.Body)
	case ChannelSMS:
		if d.sms == nil {
			return "", ErrChannelDisabled
		}
		return d.sms.SendSMS(ctx, m.Recipient, m.Body)
	default:
		return "", fmt.Errorf("unsupported channel: %s", m.Channel)
	}
}

// ---------------------------------------------------------------------------
// Mock Senders (test doubles)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  error
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		if m.FailError != nil {
			return "", m.FailError
		}
		return "", errors.New("email send failed")
	}
	return "email-" + uuid.NewString(), nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  error
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		if m.FailError != nil {
			return "", m.FailError
		}
		return "", errors.New("sms send failed")
	}
	return "sms-" + uuid.NewString(), nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
