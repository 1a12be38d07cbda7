package staff

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/validate"
)

type Service struct {
	staff Repository
}

func NewService(staff Repository) *Service {
	return &Service{staff: staff}
}

func (s *Service) validate(ctx context.Context, st *Staff) error {
	st.Email = strings.ToLower(strings.TrimSpace(st.Email))
	if err := validate.Struct(st); err != nil {
		return err
	}
	if st.SupervisorID == nil {
		return nil
	}
	if *st.SupervisorID == st.ID {
		return apperr.FieldErrors(map[string]string{"supervisor_id": "cannot be the staff member"})
	}
	sup, err := s.staff.GetByID(ctx, *st.SupervisorID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return apperr.FieldErrors(map[string]string{"supervisor_id": "does not exist"})
		}
		return err
	}
	if !sup.Active || !(sup.HasRole(auth.RoleSupervisor) || sup.HasRole(auth.RoleAdmin)) {
		return apperr.FieldErrors(map[string]string{"supervisor_id": "must be an active supervisor"})
	}
	return nil
}

func (s *Service) CreateStaff(ctx context.Context, st *Staff) error {
	st.Active = true
	if err := s.validate(ctx, st); err != nil {
		return err
	}
	return s.staff.Create(ctx, st)
}

func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return s.staff.GetByID(ctx, id)
}

func (s *Service) GetStaffByEmail(ctx context.Context, email string) (*Staff, error) {
	return s.staff.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Service) UpdateStaff(ctx context.Context, st *Staff) error {
	existing, err := s.staff.GetByID(ctx, st.ID)
	if err != nil {
		return err
	}
	st.CreatedAt = existing.CreatedAt
	if err := s.validate(ctx, st); err != nil {
		return err
	}
	return s.staff.Update(ctx, st)
}

// DeactivateStaff keeps the record for history but removes access.
func (s *Service) DeactivateStaff(ctx context.Context, id uuid.UUID) error {
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !st.Active {
		return nil
	}
	st.Active = false
	return s.staff.Update(ctx, st)
}

func (s *Service) ListStaff(ctx context.Context, f Filter, limit, offset int) ([]*Staff, int, error) {
	if f.Role != "" {
		if err := validate.Var("role", f.Role, "oneof=admin clinician supervisor front_desk billing"); err != nil {
			return nil, 0, err
		}
	}
	return s.staff.List(ctx, f, limit, offset)
}

// ListClinicians returns active staff holding the clinician role.
func (s *Service) ListClinicians(ctx context.Context, limit, offset int) ([]*Staff, int, error) {
	return s.staff.List(ctx, Filter{Role: auth.RoleClinician, ActiveOnly: true}, limit, offset)
}

// ActiveClinician returns the clinician with id, or a validation error when
// the id does not name an active clinician.
func (s *Service) ActiveClinician(ctx context.Context, id uuid.UUID) (*Staff, error) {
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.FieldErrors(map[string]string{"clinician_id": "does not exist"})
		}
		return nil, err
	}
	if !st.Active || !st.HasRole(auth.RoleClinician) {
		return nil, apperr.FieldErrors(map[string]string{"clinician_id": "must be an active clinician"})
	}
	return st, nil
}
