package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/domain/client"
	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/domain/staff"
	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/db"
	"github.com/mentalspace/ehr/internal/platform/lock"
	"github.com/mentalspace/ehr/internal/platform/notification"
	"github.com/mentalspace/ehr/internal/platform/validate"
)

type Clients interface {
	GetClient(ctx context.Context, id uuid.UUID) (*client.Client, error)
}

type Staff interface {
	GetStaff(ctx context.Context, id uuid.UUID) (*staff.Staff, error)
}

type Scheduling interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	GetAppointmentType(ctx context.Context, id uuid.UUID) (*scheduling.AppointmentType, error)
	ClinicianSchedules(ctx context.Context, clinicianID uuid.UUID, from, to scheduling.Date) ([]*scheduling.ClinicianSchedule, error)
}

// Sender delivers a rendered message and returns the provider message id.
// *notification.Dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, m notification.Message) (string, error)
}

// Publisher puts jobs on the delivery queue. *notification.Queue implements it.
type Publisher interface {
	Publish(ctx context.Context, job notification.Job) error
}

type Deps struct {
	Reminders  Repository
	Templates  TemplateRepository
	Clients    Clients
	Staff      Staff
	Scheduling Scheduling
	Sender     Sender
	// LeadTimes are the offsets before an appointment's start at which
	// reminders go out.
	LeadTimes []time.Duration
}

type Service struct {
	reminders  Repository
	templates  TemplateRepository
	clients    Clients
	staff      Staff
	scheduling Scheduling
	sender     Sender
	leads      []time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(d Deps, logger zerolog.Logger) *Service {
	return &Service{
		reminders:  d.Reminders,
		templates:  d.Templates,
		clients:    d.Clients,
		staff:      d.Staff,
		scheduling: d.Scheduling,
		sender:     d.Sender,
		leads:      d.LeadTimes,
		logger:     logger.With().Str("component", "reminder").Logger(),
		now:        time.Now,
	}
}

// =========== Scheduling events ===========

// AppointmentBooked plans one reminder per lead time for every opted-in
// contact channel of every client on the appointment. Lead times that have
// already passed are skipped.
func (s *Service) AppointmentBooked(ctx context.Context, a *scheduling.Appointment) error {
	now := s.now()
	var at []time.Time
	for _, lead := range s.leads {
		t := a.StartTime.Add(-lead).UTC().Truncate(time.Second)
		if t.After(now) {
			at = append(at, t)
		}
	}
	return s.plan(ctx, a, notification.TemplateAppointmentReminder, at)
}

// AppointmentRescheduled replaces the pending reminders with ones for the
// new start time.
func (s *Service) AppointmentRescheduled(ctx context.Context, a *scheduling.Appointment) error {
	if _, err := s.reminders.CancelPending(ctx, a.ID); err != nil {
		return err
	}
	return s.AppointmentBooked(ctx, a)
}

// AppointmentCancelled cancels pending reminders and, for appointments that
// had not started yet, sends a cancellation notice right away.
func (s *Service) AppointmentCancelled(ctx context.Context, a *scheduling.Appointment) error {
	n, err := s.reminders.CancelPending(ctx, a.ID)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("appointment_id", a.ID.String()).Int("cancelled", n).Msg("pending reminders cancelled")

	now := s.now().UTC().Truncate(time.Second)
	if !a.StartTime.After(now) {
		return nil
	}
	return s.plan(ctx, a, notification.TemplateAppointmentCancelled, []time.Time{now})
}

func (s *Service) plan(ctx context.Context, a *scheduling.Appointment, template string, at []time.Time) error {
	if len(at) == 0 {
		return nil
	}
	var out []*Reminder
	for _, clientID := range a.ClientIDs {
		c, err := s.clients.GetClient(ctx, clientID)
		if err != nil {
			return err
		}
		for _, ct := range contacts(c) {
			for _, t := range at {
				out = append(out, &Reminder{
					AppointmentID: a.ID,
					ClientID:      clientID,
					Channel:       ct.channel,
					Template:      template,
					Recipient:     ct.recipient,
					SendAt:        t,
					Status:        StatusPending,
				})
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return s.reminders.CreateBatch(ctx, out)
}

type contact struct {
	channel   notification.Channel
	recipient string
}

// contacts lists the channels the client opted into and can be reached on.
func contacts(c *client.Client) []contact {
	var out []contact
	if c.EmailOptIn && c.Email != "" {
		out = append(out, contact{notification.ChannelEmail, c.Email})
	}
	if c.SMSOptIn && c.Phone != "" {
		out = append(out, contact{notification.ChannelSMS, c.Phone})
	}
	return out
}

func (s *Service) ListAppointmentReminders(ctx context.Context, appointmentID uuid.UUID) ([]*Reminder, error) {
	if _, err := s.scheduling.GetAppointment(ctx, appointmentID); err != nil {
		return nil, err
	}
	return s.reminders.ListByAppointment(ctx, appointmentID)
}

// =========== Dispatch ===========

// dispatchLockTTL outlives a batch so two workers never overlap.
const dispatchLockTTL = 2 * time.Minute

// DispatchDue runs Dispatch under a per-tenant lock. It reports zero
// without error when another worker holds the lock.
func (s *Service) DispatchDue(ctx context.Context, l lock.Locker, pub Publisher) (int, error) {
	var n int
	held, err := lock.WithLock(ctx, l, "reminders:"+db.TenantFromContext(ctx), dispatchLockTTL, func(ctx context.Context) error {
		var derr error
		n, derr = s.Dispatch(ctx, pub)
		return derr
	})
	if !held && err == nil {
		s.logger.Debug().Str("tenant", db.TenantFromContext(ctx)).Msg("reminder dispatch already running elsewhere")
	}
	return n, err
}

// Dispatch claims due reminders, renders them and publishes one job per
// reminder. Reminders whose appointment no longer needs them are
// cancelled. When the queue is unreachable the unpublished claims are
// released for the next run.
func (s *Service) Dispatch(ctx context.Context, pub Publisher) (int, error) {
	due, err := s.reminders.ClaimDue(ctx, s.now().UTC(), dispatchBatch)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}
	engine, err := s.engine(ctx)
	if err != nil {
		s.release(ctx, due)
		return 0, err
	}

	tenant := db.TenantFromContext(ctx)
	rc := newRenderCache()
	published := 0
	for i, r := range due {
		msg, send, err := s.render(ctx, engine, rc, r)
		if err != nil {
			s.logger.Error().Err(err).Str("reminder_id", r.ID.String()).Msg("render reminder failed")
			if merr := s.reminders.MarkFailed(ctx, r.ID, r.Attempts, err.Error(), true); merr != nil {
				s.logger.Error().Err(merr).Str("reminder_id", r.ID.String()).Msg("mark reminder failed")
			}
			continue
		}
		if !send {
			if merr := s.reminders.MarkCancelled(ctx, r.ID); merr != nil {
				s.logger.Error().Err(merr).Str("reminder_id", r.ID.String()).Msg("cancel stale reminder")
			}
			continue
		}
		job := notification.Job{ReminderID: r.ID, TenantID: tenant, Message: msg, Attempts: r.Attempts}
		if err := pub.Publish(ctx, job); err != nil {
			s.release(ctx, due[i:])
			return published, apperr.Unavailable("reminder queue unavailable", err)
		}
		published++
	}
	s.logger.Info().Str("tenant", tenant).Int("claimed", len(due)).Int("published", published).Msg("reminders dispatched")
	return published, nil
}

func (s *Service) release(ctx context.Context, rs []*Reminder) {
	for _, r := range rs {
		if err := s.reminders.Release(context.WithoutCancel(ctx), r.ID); err != nil {
			s.logger.Error().Err(err).Str("reminder_id", r.ID.String()).Msg("release reminder")
		}
	}
}

// Deliver is the queue consumer: it sends the job's message and records the
// outcome. Transient send failures are returned so the queue retries;
// disabled channels fail the reminder for good.
func (s *Service) Deliver(ctx context.Context, job notification.Job) error {
	r, err := s.reminders.Get(ctx, job.ReminderID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			s.logger.Warn().Str("reminder_id", job.ReminderID.String()).Msg("reminder vanished before delivery")
			return nil
		}
		return err
	}
	// Redelivered after it was already handled.
	if r.Status != StatusQueued {
		return nil
	}

	attempts := job.Attempts + 1
	providerID, err := s.sender.Send(ctx, job.Message)
	if err != nil {
		disabled := errors.Is(err, notification.ErrChannelDisabled)
		final := disabled || attempts >= notification.DefaultMaxAttempts
		if merr := s.reminders.MarkFailed(ctx, r.ID, attempts, err.Error(), final); merr != nil {
			s.logger.Error().Err(merr).Str("reminder_id", r.ID.String()).Msg("record reminder failure")
		}
		if disabled {
			return nil
		}
		return err
	}

	// The message is out; a bookkeeping failure must not trigger a resend.
	if err := s.reminders.MarkSent(ctx, r.ID, providerID, attempts, s.now().UTC()); err != nil {
		s.logger.Error().Err(err).Str("reminder_id", r.ID.String()).Str("provider_message_id", providerID).Msg("record reminder sent")
	}
	return nil
}

// HandleCallback applies a provider delivery receipt.
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	reason := req.Error
	if reason == "" && !req.Delivered() {
		reason = req.Status
	}
	return s.reminders.RecordDelivery(ctx, req.MessageID, req.Delivered(), reason, s.now().UTC())
}

// =========== Templates ===========

// engine returns the default templates with the tenant's overrides applied.
func (s *Service) engine(ctx context.Context) (*notification.TemplateEngine, error) {
	e := notification.NewTemplateEngine()
	overrides, err := s.templates.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range overrides {
		e.Register(t)
	}
	return e, nil
}

// ListTemplates returns the effective templates: defaults, replaced by the
// tenant's overrides where present.
func (s *Service) ListTemplates(ctx context.Context) ([]notification.Template, error) {
	overrides, err := s.templates.List(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]notification.Template, len(overrides))
	for _, t := range overrides {
		byKey[t.Name+"/"+string(t.Channel)] = t
	}
	out := notification.DefaultTemplates()
	for i, t := range out {
		if o, ok := byKey[t.Name+"/"+string(t.Channel)]; ok {
			out[i] = o
		}
	}
	return out, nil
}

func checkTemplateKey(name string, ch notification.Channel) error {
	fields := map[string]string{}
	if !templateNames[name] {
		fields["name"] = "unknown template"
	}
	if !ch.Valid() {
		fields["channel"] = "must be one of: email sms"
	}
	if len(fields) > 0 {
		return apperr.FieldErrors(fields)
	}
	return nil
}

func (s *Service) SetTemplate(ctx context.Context, name string, ch notification.Channel, req TemplateRequest) (*notification.Template, error) {
	if err := checkTemplateKey(name, ch); err != nil {
		return nil, err
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	t := notification.Template{Name: name, Channel: ch, Subject: req.Subject, Body: req.Body}
	if ch == notification.ChannelSMS {
		t.Subject = ""
	} else if t.Subject == "" {
		return nil, apperr.FieldErrors(map[string]string{"subject": "is required for email templates"})
	}
	if err := s.templates.Upsert(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ResetTemplate drops the tenant's override so the default applies again.
func (s *Service) ResetTemplate(ctx context.Context, name string, ch notification.Channel) error {
	if err := checkTemplateKey(name, ch); err != nil {
		return err
	}
	return s.templates.Delete(ctx, name, ch)
}

// SeedTemplates stores every built-in template the tenant has no row for,
// so admins can edit the copy in place. It returns how many were written.
func (s *Service) SeedTemplates(ctx context.Context) (int, error) {
	existing, err := s.templates.List(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t.Name+"/"+string(t.Channel)] = true
	}
	n := 0
	for _, t := range notification.DefaultTemplates() {
		if have[t.Name+"/"+string(t.Channel)] {
			continue
		}
		if err := s.templates.Upsert(ctx, t); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
