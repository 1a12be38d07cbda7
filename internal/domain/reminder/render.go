package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/domain/client"
	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/platform/notification"
)

var locationLabels = map[string]string{
	scheduling.LocationOffice:     "in office",
	scheduling.LocationTelehealth: "telehealth, join from the client portal",
	scheduling.LocationHome:       "home visit",
	scheduling.LocationSchool:     "at school",
	scheduling.LocationCommunity:  "in the community",
}

// appointmentView is everything a template needs about one appointment.
type appointmentView struct {
	appt      *scheduling.Appointment
	typeName  string
	clinician string
	loc       *time.Location
}

// renderCache keeps lookups for one dispatch batch; reminders of the same
// appointment share them.
type renderCache struct {
	appts   map[uuid.UUID]*appointmentView
	clients map[uuid.UUID]*client.Client
}

func newRenderCache() *renderCache {
	return &renderCache{
		appts:   make(map[uuid.UUID]*appointmentView),
		clients: make(map[uuid.UUID]*client.Client),
	}
}

func (s *Service) appointmentView(ctx context.Context, rc *renderCache, id uuid.UUID) (*appointmentView, error) {
	if v, ok := rc.appts[id]; ok {
		return v, nil
	}
	a, err := s.scheduling.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &appointmentView{appt: a, typeName: "appointment", loc: time.UTC}
	if a.AppointmentTypeID != nil {
		if t, err := s.scheduling.GetAppointmentType(ctx, *a.AppointmentTypeID); err == nil {
			v.typeName = t.Name
		}
	}
	st, err := s.staff.GetStaff(ctx, a.ClinicianID)
	if err != nil {
		return nil, err
	}
	v.clinician = st.FullName()

	day := scheduling.DateOf(a.StartTime)
	if scheds, err := s.scheduling.ClinicianSchedules(ctx, a.ClinicianID, day, day); err == nil && len(scheds) > 0 {
		if loc := scheds[0].Location(); loc != nil {
			v.loc = loc
		}
	}
	rc.appts[id] = v
	return v, nil
}

func (s *Service) clientFor(ctx context.Context, rc *renderCache, id uuid.UUID) (*client.Client, error) {
	if c, ok := rc.clients[id]; ok {
		return c, nil
	}
	c, err := s.clients.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	rc.clients[id] = c
	return c, nil
}

// render builds the message for r. send is false when the appointment no
// longer warrants a reminder.
func (s *Service) render(ctx context.Context, engine *notification.TemplateEngine, rc *renderCache, r *Reminder) (notification.Message, bool, error) {
	v, err := s.appointmentView(ctx, rc, r.AppointmentID)
	if err != nil {
		return notification.Message{}, false, err
	}
	if r.Template == notification.TemplateAppointmentReminder {
		switch v.appt.Status {
		case scheduling.StatusScheduled, scheduling.StatusConfirmed:
		default:
			return notification.Message{}, false, nil
		}
		if !v.appt.StartTime.After(s.now()) {
			return notification.Message{}, false, nil
		}
	}
	c, err := s.clientFor(ctx, rc, r.ClientID)
	if err != nil {
		return notification.Message{}, false, err
	}

	start := v.appt.StartTime.In(v.loc)
	location := locationLabels[v.appt.Location]
	if location == "" {
		location = v.appt.Location
	}
	msg, err := engine.Render(r.Template, r.Channel, map[string]string{
		"client_name":      c.DisplayName(),
		"clinician_name":   v.clinician,
		"appointment_type": v.typeName,
		"date":             start.Format("Monday, January 2"),
		"time":             start.Format("3:04 PM MST"),
		"location":         location,
	})
	if err != nil {
		return notification.Message{}, false, err
	}
	msg.Recipient = r.Recipient
	return msg, true, nil
}
