package staff

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
)

type mockRepo struct {
	mu    sync.Mutex
	staff map[uuid.UUID]*Staff
}

func newMockRepo() *mockRepo {
	return &mockRepo{staff: make(map[uuid.UUID]*Staff)}
}

func (m *mockRepo) Create(_ context.Context, s *Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.staff {
		if existing.Email == s.Email {
			return apperr.Conflict("staff already exists")
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.staff[s.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.staff[id]
	if !ok {
		return nil, apperr.NotFound("staff")
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.staff {
		if s.Email == email {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("staff")
}

func (m *mockRepo) Update(_ context.Context, s *Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staff[s.ID]; !ok {
		return apperr.NotFound("staff")
	}
	cp := *s
	m.staff[s.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Staff, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Staff
	for _, s := range m.staff {
		if f.Role != "" && !s.HasRole(f.Role) {
			continue
		}
		if f.ActiveOnly && !s.Active {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastName < out[j].LastName })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func newTestService() *Service {
	return NewService(newMockRepo())
}

func clinician(last string) *Staff {
	return &Staff{
		FirstName:   "Alex",
		LastName:    last,
		Email:       last + "@clinic.example",
		Roles:       []string{auth.RoleClinician},
		NPI:         "1234567893",
		LicenseType: "LCSW",
	}
}

func TestCreateStaff(t *testing.T) {
	svc := newTestService()
	st := clinician("Morgan")
	st.Email = "  Morgan@Clinic.Example "
	if err := svc.CreateStaff(context.Background(), st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Active || st.ID == uuid.Nil {
		t.Errorf("unexpected staff %+v", st)
	}
	if st.Email != "morgan@clinic.example" {
		t.Errorf("expected normalized email, got %q", st.Email)
	}
	if _, err := svc.GetStaffByEmail(context.Background(), "MORGAN@clinic.example"); err != nil {
		t.Errorf("lookup by email: %v", err)
	}
}

func TestCreateStaff_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Staff)
		field  string
	}{
		{"no roles", func(s *Staff) { s.Roles = nil }, "roles"},
		{"unknown role", func(s *Staff) { s.Roles = []string{"client"} }, "roles[0]"},
		{"duplicate roles", func(s *Staff) { s.Roles = []string{"billing", "billing"} }, "roles"},
		{"bad email", func(s *Staff) { s.Email = "nope" }, "email"},
		{"short npi", func(s *Staff) { s.NPI = "123" }, "npi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestService().CreateStaff(context.Background(), func() *Staff {
				s := clinician("Reyes")
				tt.mutate(s)
				return s
			}())
			var ae *apperr.Error
			if !errors.As(err, &ae) || ae.Kind != apperr.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := ae.Fields[tt.field]; !ok {
				t.Errorf("expected field %s in %v", tt.field, ae.Fields)
			}
		})
	}
}

func TestCreateStaff_Supervisor(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sup := clinician("Chen")
	sup.Roles = []string{auth.RoleClinician, auth.RoleSupervisor}
	if err := svc.CreateStaff(ctx, sup); err != nil {
		t.Fatalf("create supervisor: %v", err)
	}
	peer := clinician("Diaz")
	if err := svc.CreateStaff(ctx, peer); err != nil {
		t.Fatalf("create peer: %v", err)
	}

	intern := clinician("Evans")
	intern.SupervisorID = &sup.ID
	if err := svc.CreateStaff(ctx, intern); err != nil {
		t.Fatalf("expected supervisor to be accepted: %v", err)
	}

	other := clinician("Fox")
	other.SupervisorID = &peer.ID
	if err := svc.CreateStaff(ctx, other); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected non-supervisor to be rejected, got %v", err)
	}

	missing := uuid.New()
	other.SupervisorID = &missing
	if err := svc.CreateStaff(ctx, other); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected unknown supervisor to be rejected, got %v", err)
	}
}

func TestCreateStaff_DuplicateEmail(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if err := svc.CreateStaff(ctx, clinician("Gray")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.CreateStaff(ctx, clinician("Gray")); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestDeactivateStaff(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	st := clinician("Hill")
	svc.CreateStaff(ctx, st)

	if err := svc.DeactivateStaff(ctx, st.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ := svc.GetStaff(ctx, st.ID)
	if got.Active {
		t.Error("expected staff to be inactive")
	}
	if err := svc.DeactivateStaff(ctx, st.ID); err != nil {
		t.Errorf("deactivating twice should be a no-op, got %v", err)
	}
	if _, err := svc.ActiveClinician(ctx, st.ID); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected inactive clinician to be rejected, got %v", err)
	}
}

func TestListClinicians(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	svc.CreateStaff(ctx, clinician("Ito"))
	svc.CreateStaff(ctx, clinician("Jones"))
	desk := clinician("King")
	desk.Roles = []string{auth.RoleFrontDesk}
	desk.NPI = ""
	svc.CreateStaff(ctx, desk)
	gone := clinician("Lopez")
	svc.CreateStaff(ctx, gone)
	svc.DeactivateStaff(ctx, gone.ID)

	items, total, err := svc.ListClinicians(ctx, 20, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || items[0].LastName != "Ito" || items[1].LastName != "Jones" {
		t.Errorf("unexpected clinicians: %d", total)
	}

	if _, _, err := svc.ListStaff(ctx, Filter{Role: "janitor"}, 20, 0); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for unknown role, got %v", err)
	}
}

func TestActiveClinician(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	st := clinician("Moore")
	svc.CreateStaff(ctx, st)

	if _, err := svc.ActiveClinician(ctx, st.ID); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := svc.ActiveClinician(ctx, uuid.New()); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}
