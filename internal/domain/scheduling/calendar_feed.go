package scheduling

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/mentalspace/ehr/internal/platform/db"
	"github.com/mentalspace/ehr/internal/platform/websocket"
)

const (
	TopicCalendar        = "calendar"
	topicClinicianPrefix = "clinician/"
)

// ClinicianTopic is the live feed topic for one clinician's calendar.
func ClinicianTopic(id string) string { return topicClinicianPrefix + id }

// Publisher delivers live events to connected staff.
type Publisher interface {
	Publish(ctx context.Context, event websocket.Event) error
}

// CalendarFeed publishes appointment changes to the practice calendar topic
// and the clinician's own topic. Payloads carry no client identifiers.
type CalendarFeed struct {
	pub Publisher
	now func() time.Time
}

func NewCalendarFeed(pub Publisher) *CalendarFeed {
	return &CalendarFeed{pub: pub, now: time.Now}
}

type calendarEntry struct {
	ID          string    `json:"id"`
	ClinicianID string    `json:"clinician_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Status      string    `json:"status"`
	Location    string    `json:"location"`
}

func (f *CalendarFeed) AppointmentBooked(ctx context.Context, a *Appointment) error {
	return f.publish(ctx, "appointment.booked", a)
}

func (f *CalendarFeed) AppointmentRescheduled(ctx context.Context, a *Appointment) error {
	return f.publish(ctx, "appointment.rescheduled", a)
}

func (f *CalendarFeed) AppointmentCancelled(ctx context.Context, a *Appointment) error {
	return f.publish(ctx, "appointment.cancelled", a)
}

func (f *CalendarFeed) publish(ctx context.Context, eventType string, a *Appointment) error {
	data, err := json.Marshal(calendarEntry{
		ID:          a.ID.String(),
		ClinicianID: a.ClinicianID.String(),
		Start:       a.StartTime.UTC(),
		End:         a.EndTime.UTC(),
		Status:      a.Status,
		Location:    a.Location,
	})
	if err != nil {
		return err
	}
	tenant := db.TenantFromContext(ctx)
	ts := f.now().UTC()
	for _, topic := range []string{TopicCalendar, ClinicianTopic(a.ClinicianID.String())} {
		ev := websocket.Event{
			Type:         eventType,
			Tenant:       tenant,
			Topic:        topic,
			ResourceType: "appointment",
			ResourceID:   a.ID.String(),
			Timestamp:    ts,
			Data:         data,
		}
		if err := f.pub.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
