package telehealth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/video"
)

type mockSessionRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Session
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{store: make(map[uuid.UUID]*Session)}
}

func (m *mockSessionRepo) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[s.AppointmentID]; ok {
		return apperr.Conflict("telehealth session already exists")
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.store[s.AppointmentID] = &cp
	return nil
}

func (m *mockSessionRepo) GetByAppointment(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("telehealth session")
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[s.AppointmentID]; !ok {
		return apperr.NotFound("telehealth session")
	}
	cp := *s
	m.store[s.AppointmentID] = &cp
	return nil
}

type fakeAppointments map[uuid.UUID]*scheduling.Appointment

func (f fakeAppointments) GetAppointment(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	a, ok := f[id]
	if !ok {
		return nil, apperr.NotFound("appointment")
	}
	return a, nil
}

type fakeProvider struct {
	mu      sync.Mutex
	created []video.RoomRequest
	ended   []string
	fail    error
}

func (p *fakeProvider) CreateRoom(_ context.Context, req video.RoomRequest) (*video.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return nil, p.fail
	}
	p.created = append(p.created, req)
	id := req.Name
	return &video.Room{
		ID:      id,
		HostURL: "https://video.example.com/" + id + "?host=1",
		JoinURL: "https://video.example.com/" + id,
	}, nil
}

func (p *fakeProvider) EndRoom(_ context.Context, roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = append(p.ended, roomID)
	return nil
}

var sessionStart = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *Service
	repo      *mockSessionRepo
	provider  *fakeProvider
	appt      *scheduling.Appointment
	clinician context.Context
	client    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clinicianID, clientID := uuid.New(), uuid.New()
	appt := &scheduling.Appointment{
		ID:          uuid.New(),
		ClinicianID: clinicianID,
		ClientIDs:   []uuid.UUID{clientID},
		StartTime:   sessionStart,
		EndTime:     sessionStart.Add(50 * time.Minute),
		Location:    scheduling.LocationTelehealth,
		Status:      scheduling.StatusConfirmed,
	}
	f := &fixture{
		repo:      newMockSessionRepo(),
		provider:  &fakeProvider{},
		appt:      appt,
		clinician: auth.WithIdentity(context.Background(), clinicianID.String(), auth.RoleClinician),
		client:    auth.WithClient(context.Background(), clientID),
	}
	f.svc = NewService(f.repo, fakeAppointments{appt.ID: appt}, f.provider, zerolog.Nop())
	f.svc.now = func() time.Time { return sessionStart.Add(-5 * time.Minute) }
	return f
}

func TestStartSession(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.StartSession(f.clinician, f.appt.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Status != StatusCreated || sess.ProviderRoomID == "" {
		t.Errorf("unexpected session %+v", sess)
	}
	if len(f.provider.created) != 1 {
		t.Fatalf("expected one room, got %d", len(f.provider.created))
	}
	req := f.provider.created[0]
	if req.MaxParticipants != 2 || !req.ExpiresAt.Equal(f.appt.EndTime.Add(time.Hour)) {
		t.Errorf("unexpected room request %+v", req)
	}
}

func TestStartSession_Idempotent(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.StartSession(f.clinician, f.appt.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	second, err := f.svc.StartSession(f.clinician, f.appt.ID)
	if err != nil {
		t.Fatalf("second StartSession: %v", err)
	}
	if first.ID != second.ID || len(f.provider.created) != 1 {
		t.Errorf("expected the existing session to be reused")
	}
}

func TestStartSession_NotTelehealth(t *testing.T) {
	f := newFixture(t)
	f.appt.Location = scheduling.LocationOffice
	if _, err := f.svc.StartSession(f.clinician, f.appt.ID); !errors.Is(err, ErrNotTelehealth) {
		t.Errorf("expected ErrNotTelehealth, got %v", err)
	}
}

func TestStartSession_CancelledAppointment(t *testing.T) {
	f := newFixture(t)
	f.appt.Status = scheduling.StatusCancelled
	if _, err := f.svc.StartSession(f.clinician, f.appt.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestStartSession_OtherClinicianForbidden(t *testing.T) {
	f := newFixture(t)
	other := auth.WithIdentity(context.Background(), uuid.NewString(), auth.RoleClinician)
	if _, err := f.svc.StartSession(other, f.appt.ID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}
	supervisor := auth.WithIdentity(context.Background(), uuid.NewString(), auth.RoleSupervisor)
	if _, err := f.svc.StartSession(supervisor, f.appt.ID); err != nil {
		t.Errorf("supervisor should be able to start the session: %v", err)
	}
}

func TestStartSession_ProviderDown(t *testing.T) {
	f := newFixture(t)
	f.provider.fail = errors.New("connection refused")
	_, err := f.svc.StartSession(f.clinician, f.appt.ID)
	if apperr.KindOf(err) != apperr.KindUnavailable {
		t.Errorf("expected unavailable, got %v", err)
	}
	if _, err := f.repo.GetByAppointment(context.Background(), f.appt.ID); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("no session should be stored when the room could not be created")
	}
}

func TestJoinURL_ClientAndHost(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.StartSession(f.clinician, f.appt.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	client, err := f.svc.JoinURL(f.client, f.appt.ID)
	if err != nil {
		t.Fatalf("client JoinURL: %v", err)
	}
	if client.Host || client.URL != "https://video.example.com/appt-"+f.appt.ID.String() {
		t.Errorf("unexpected client join info %+v", client)
	}
	if client.Status != StatusActive {
		t.Errorf("first join should activate the session, got %s", client.Status)
	}

	host, err := f.svc.JoinURL(f.clinician, f.appt.ID)
	if err != nil {
		t.Fatalf("host JoinURL: %v", err)
	}
	if !host.Host || host.URL == client.URL {
		t.Errorf("clinician should receive the host URL, got %+v", host)
	}
}

func TestJoinURL_ClientNotOnAppointment(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.StartSession(f.clinician, f.appt.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	stranger := auth.WithClient(context.Background(), uuid.New())
	if _, err := f.svc.JoinURL(stranger, f.appt.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestJoinURL_TooEarly(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.StartSession(f.clinician, f.appt.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	f.svc.now = func() time.Time { return sessionStart.Add(-EarlyJoin - time.Minute) }
	if _, err := f.svc.JoinURL(f.client, f.appt.ID); !errors.Is(err, ErrTooEarly) {
		t.Errorf("expected ErrTooEarly, got %v", err)
	}
}

func TestJoinURL_NotStarted(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.JoinURL(f.client, f.appt.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("expected conflict before the clinician starts, got %v", err)
	}
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.StartSession(f.clinician, f.appt.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	ended, err := f.svc.EndSession(f.clinician, f.appt.ID)
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if ended.Status != StatusEnded || ended.EndedAt == nil {
		t.Errorf("unexpected session %+v", ended)
	}
	if len(f.provider.ended) != 1 || f.provider.ended[0] != sess.ProviderRoomID {
		t.Errorf("expected room %s to be closed, got %v", sess.ProviderRoomID, f.provider.ended)
	}
	if _, err := f.svc.JoinURL(f.client, f.appt.ID); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
	if _, err := f.svc.StartSession(f.clinician, f.appt.ID); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("an ended session cannot be restarted, got %v", err)
	}
}

func TestAppointmentCancelled_ClosesRoom(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.StartSession(f.clinician, f.appt.ID); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := f.svc.AppointmentCancelled(context.Background(), f.appt); err != nil {
		t.Fatalf("AppointmentCancelled: %v", err)
	}
	sess, _ := f.repo.GetByAppointment(context.Background(), f.appt.ID)
	if sess.Status != StatusEnded || len(f.provider.ended) != 1 {
		t.Errorf("expected the room to be closed, got %+v", sess)
	}

	other := &scheduling.Appointment{ID: uuid.New()}
	if err := f.svc.AppointmentCancelled(context.Background(), other); err != nil {
		t.Errorf("appointments without a session should be ignored: %v", err)
	}
}
