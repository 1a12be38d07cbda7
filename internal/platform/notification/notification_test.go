package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestTemplateEngine_RenderReminder(t *testing.T) {
	eng := NewTemplateEngine()
	msg, err := eng.Render(TemplateAppointmentReminder, ChannelEmail, map[string]string{
		"client_name":      "Alex",
		"clinician_name":   "Dr. Rivera",
		"appointment_type": "Individual Therapy",
		"date":             "2026-03-02",
		"time":             "09:00",
		"location":         "office",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject != "Appointment reminder: 2026-03-02 at 09:00" {
		t.Errorf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Hello Alex") || !strings.Contains(msg.Body, "Dr. Rivera") {
		t.Errorf("unexpected body %q", msg.Body)
	}
	if msg.Channel != ChannelEmail {
		t.Errorf("expected email channel, got %s", msg.Channel)
	}
}

func TestTemplateEngine_MissingPlaceholderLeftAsIs(t *testing.T) {
	eng := NewTemplateEngine()
	msg, err := eng.Render(TemplateAppointmentReminder, ChannelSMS, map[string]string{"date": "2026-03-02"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(msg.Body, "{{time}}") {
		t.Errorf("expected unresolved placeholder to remain, got %q", msg.Body)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	eng := NewTemplateEngine()
	if _, err := eng.Render("nonexistent", ChannelEmail, nil); err == nil {
		t.Fatal("expected error for missing template, got nil")
	}
}

func TestTemplateEngine_RegisterOverrides(t *testing.T) {
	eng := NewTemplateEngine()
	eng.Register(Template{Name: TemplateAppointmentReminder, Channel: ChannelSMS, Body: "See you {{date}}"})
	msg, _ := eng.Render(TemplateAppointmentReminder, ChannelSMS, map[string]string{"date": "Monday"})
	if msg.Body != "See you Monday" {
		t.Errorf("expected override, got %q", msg.Body)
	}
}

func TestChannel_Valid(t *testing.T) {
	if !ChannelEmail.Valid() || !ChannelSMS.Valid() {
		t.Error("expected email and sms to be valid")
	}
	if Channel("push").Valid() {
		t.Error("expected push to be invalid")
	}
}

func TestDispatcher_RoutesByChannel(t *testing.T) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	d := NewDispatcher(email, sms)

	id, err := d.Send(context.Background(), Message{Channel: ChannelEmail, Recipient: "a@example.com", Subject: "s", Body: "b"})
	if err != nil || id == "" {
		t.Fatalf("email send: id=%q err=%v", id, err)
	}
	if _, err := d.Send(context.Background(), Message{Channel: ChannelSMS, Recipient: "+15550001111", Body: "b"}); err != nil {
		t.Fatalf("sms send: %v", err)
	}
	if len(email.Calls()) != 1 || len(sms.Calls()) != 1 {
		t.Errorf("expected one call per sender, got email=%d sms=%d", len(email.Calls()), len(sms.Calls()))
	}
	if email.Calls()[0].To != "a@example.com" {
		t.Errorf("unexpected recipient %q", email.Calls()[0].To)
	}
}

func TestDispatcher_DisabledChannel(t *testing.T) {
	d := NewDispatcher(&MockEmailSender{}, nil)
	_, err := d.Send(context.Background(), Message{Channel: ChannelSMS, Recipient: "+15550001111", Body: "b"})
	if !errors.Is(err, ErrChannelDisabled) {
		t.Errorf("expected ErrChannelDisabled, got %v", err)
	}
}

func TestDispatcher_Errors(t *testing.T) {
	d := NewDispatcher(&MockEmailSender{ShouldFail: true}, &MockSMSSender{})
	if _, err := d.Send(context.Background(), Message{Channel: ChannelEmail, Recipient: "a@example.com"}); err == nil {
		t.Error("expected sender failure to propagate")
	}
	if _, err := d.Send(context.Background(), Message{Channel: ChannelEmail}); err == nil {
		t.Error("expected error for missing recipient")
	}
	if _, err := d.Send(context.Background(), Message{Channel: "fax", Recipient: "x"}); err == nil {
		t.Error("expected error for unsupported channel")
	}
}
