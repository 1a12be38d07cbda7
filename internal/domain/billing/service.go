package billing

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
	"github.com/mentalspace/ehr/internal/platform/blobstore"
	"github.com/mentalspace/ehr/internal/platform/clearinghouse"
	"github.com/mentalspace/ehr/internal/platform/payments"
	"github.com/mentalspace/ehr/internal/platform/validate"
)

// Clearinghouse is implemented by *clearinghouse.Client.
type Clearinghouse interface {
	Enabled() bool
	CheckEligibility(ctx context.Context, req clearinghouse.EligibilityRequest) (*clearinghouse.EligibilityResponse, error)
	SubmitClaim(ctx context.Context, claim clearinghouse.ClaimSubmission) (*clearinghouse.SubmissionResult, error)
	FetchRemittances(ctx context.Context, since time.Time) ([]clearinghouse.Remittance, []byte, error)
}

// Clients resolves client demographics.
type Clients interface {
	GetClient(ctx context.Context, id uuid.UUID) (*client.Client, error)
}

// Staff resolves rendering providers.
type Staff interface {
	GetStaff(ctx context.Context, id uuid.UUID) (*staff.Staff, error)
}

// Appointments resolves the sessions claims are created from.
type Appointments interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	GetAppointmentType(ctx context.Context, id uuid.UUID) (*scheduling.AppointmentType, error)
}

// remittanceLookback bounds the first remittance poll of a tenant.
const remittanceLookback = 30 * 24 * time.Hour

type Service struct {
	policies     PolicyRepository
	claims       ClaimRepository
	payments     PaymentRepository
	ch           Clearinghouse
	processor    payments.Processor
	store        blobstore.Store
	clients      Clients
	staff        Staff
	appointments Appointments
	logger       zerolog.Logger
	now          func() time.Time
}

type Deps struct {
	Policies      PolicyRepository
	Claims        ClaimRepository
	Payments      PaymentRepository
	Clearinghouse Clearinghouse
	Processor     payments.Processor
	Store         blobstore.Store
	Clients       Clients
	Staff         Staff
	Appointments  Appointments
}

func NewService(d Deps, logger zerolog.Logger) *Service {
	return &Service{
		policies:     d.Policies,
		claims:       d.Claims,
		payments:     d.Payments,
		ch:           d.Clearinghouse,
		processor:    d.Processor,
		store:        d.Store,
		clients:      d.Clients,
		staff:        d.Staff,
		appointments: d.Appointments,
		logger:       logger.With().Str("component", "billing").Logger(),
		now:          time.Now,
	}
}

func (s *Service) clearinghouseReady() error {
	if s.ch == nil || !s.ch.Enabled() {
		return ErrClearinghouseOff
	}
	return nil
}

// syncFailure classifies a clearinghouse error: partner rejections are
// returned as validation errors, everything else as unavailable.
func syncFailure(err error) error {
	if errors.Is(err, clearinghouse.ErrRejected) {
		return apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return apperr.Unavailable("clearinghouse unavailable", err)
}

// -- Insurance Policies --

func validatePolicy(p *Policy) error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if p.EffectiveFrom != "" && p.EffectiveTo != "" && p.EffectiveTo < p.EffectiveFrom {
		return apperr.FieldErrors(map[string]string{"effective_to": "must not be before effective_from"})
	}
	return nil
}

func (s *Service) CreatePolicy(ctx context.Context, p *Policy) error {
	if p.Priority == "" {
		p.Priority = PriorityPrimary
	}
	if p.Relationship == "" {
		p.Relationship = "self"
	}
	if err := validatePolicy(p); err != nil {
		return err
	}
	if _, err := s.clients.GetClient(ctx, p.ClientID); err != nil {
		return err
	}
	p.EligibilityStatus = EligibilityUnknown
	p.EligibilityCheckedAt = nil
	p.SyncState = SyncState{SyncStatus: SyncPending}
	return s.policies.Create(ctx, p)
}

func (s *Service) GetPolicy(ctx context.Context, id uuid.UUID) (*Policy, error) {
	return s.policies.GetByID(ctx, id)
}

// UpdatePolicy replaces coverage details. Eligibility must be rechecked
// after the payer or member changes.
func (s *Service) UpdatePolicy(ctx context.Context, p *Policy) error {
	existing, err := s.policies.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.ClientID = existing.ClientID
	p.CreatedAt = existing.CreatedAt
	if p.Priority == "" {
		p.Priority = existing.Priority
	}
	if p.Relationship == "" {
		p.Relationship = existing.Relationship
	}
	if err := validatePolicy(p); err != nil {
		return err
	}
	p.EligibilityStatus, p.EligibilityCheckedAt = existing.EligibilityStatus, existing.EligibilityCheckedAt
	p.SyncState = existing.SyncState
	if p.PayerID != existing.PayerID || p.MemberID != existing.MemberID || p.GroupNumber != existing.GroupNumber {
		p.EligibilityStatus, p.EligibilityCheckedAt = EligibilityUnknown, nil
		p.SyncState = SyncState{SyncStatus: SyncPending}
	}
	return s.policies.Update(ctx, p)
}

func (s *Service) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	return s.policies.Delete(ctx, id)
}

func (s *Service) ListClientPolicies(ctx context.Context, clientID uuid.UUID) ([]*Policy, error) {
	return s.policies.ListByClient(ctx, clientID)
}

// PrimaryPolicy returns the client's primary coverage, or nil.
func (s *Service) PrimaryPolicy(ctx context.Context, clientID uuid.UUID) (*Policy, error) {
	policies, err := s.policies.ListByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		if p.Priority == PriorityPrimary {
			return p, nil
		}
	}
	return nil, nil
}

// CheckEligibility asks the payer whether the policy is active on
// serviceDate (today when empty) and records the answer and sync state.
func (s *Service) CheckEligibility(ctx context.Context, policyID uuid.UUID, serviceDate string) (*Policy, error) {
	if err := s.clearinghouseReady(); err != nil {
		return nil, err
	}
	p, err := s.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if serviceDate == "" {
		serviceDate = s.now().UTC().Format(dateLayout)
	} else if err := validate.Var("service_date", serviceDate, "datetime=2006-01-02"); err != nil {
		return nil, err
	}
	cl, err := s.clients.GetClient(ctx, p.ClientID)
	if err != nil {
		return nil, err
	}
	req := clearinghouse.EligibilityRequest{
		PayerID:     p.PayerID,
		MemberID:    p.MemberID,
		GroupNumber: p.GroupNumber,
		FirstName:   cl.FirstName,
		LastName:    cl.LastName,
		DateOfBirth: cl.DateOfBirth,
		ServiceDate: serviceDate,
	}
	if cl.PrimaryClinicianID != nil {
		if st, err := s.staff.GetStaff(ctx, *cl.PrimaryClinicianID); err == nil {
			req.ProviderNPI = st.NPI
		}
	}

	resp, callErr := s.ch.CheckEligibility(ctx, req)
	now := s.now().UTC()
	p.EligibilityCheckedAt = &now
	switch {
	case callErr == nil:
		p.EligibilityStatus = EligibilityInactive
		if resp.IsActive() {
			p.EligibilityStatus = EligibilityActive
		}
		if resp.CopayCents > 0 {
			p.CopayCents = resp.CopayCents
		}
		p.synced(now)
	case errors.Is(callErr, clearinghouse.ErrRejected):
		p.EligibilityStatus = EligibilityError
		p.failed(now, callErr)
	default:
		p.failed(now, callErr)
	}
	if err := s.policies.Update(ctx, p); err != nil {
		return nil, err
	}
	if callErr != nil {
		s.logger.Warn().Err(callErr).Str("policy_id", p.ID.String()).Msg("eligibility check failed")
		return nil, syncFailure(callErr)
	}
	return p, nil
}
