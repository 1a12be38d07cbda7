package scheduling

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/mentalspace/ehr/internal/platform/db"
	"github.com/mentalspace/ehr/internal/platform/websocket"
)

type capturePublisher struct {
	events []websocket.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, ev websocket.Event) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func TestCalendarFeed_PublishesToCalendarAndClinician(t *testing.T) {
	f := newFixture(t)
	pub := &capturePublisher{}
	f.svc.AddListener(NewCalendarFeed(pub))
	ctx := db.WithTenant(context.Background(), "acme", nil)

	a, err := f.svc.BookAppointment(ctx, f.request(t, monday, "09:00"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.CancelAppointment(ctx, a.ID, "sick"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if len(pub.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(pub.events))
	}
	wantTopics := []string{TopicCalendar, ClinicianTopic(a.ClinicianID.String())}
	for i, ev := range pub.events {
		if ev.Tenant != "acme" {
			t.Errorf("event %d: tenant %q", i, ev.Tenant)
		}
		if ev.Topic != wantTopics[i%2] {
			t.Errorf("event %d: topic %q, want %q", i, ev.Topic, wantTopics[i%2])
		}
		if ev.ResourceID != a.ID.String() {
			t.Errorf("event %d: resource %q", i, ev.ResourceID)
		}
	}
	if pub.events[0].Type != "appointment.booked" || pub.events[2].Type != "appointment.cancelled" {
		t.Errorf("unexpected types %q, %q", pub.events[0].Type, pub.events[2].Type)
	}

	var entry map[string]any
	if err := json.Unmarshal(pub.events[2].Data, &entry); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if entry["status"] != StatusCancelled {
		t.Errorf("expected cancelled status, got %v", entry["status"])
	}
	for _, id := range a.ClientIDs {
		if strings.Contains(string(pub.events[0].Data), id.String()) {
			t.Error("payload must not identify the client")
		}
	}
}

func TestCalendarFeed_PublishErrorDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	f.svc.AddListener(NewCalendarFeed(&capturePublisher{err: errors.New("hub down")}))

	if _, err := f.svc.BookAppointment(context.Background(), f.request(t, monday, "10:00")); err != nil {
		t.Fatalf("booking should survive a feed failure: %v", err)
	}
}
