package portal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mentalspace/ehr/internal/domain/billing"
	"github.com/mentalspace/ehr/internal/domain/client"
	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/db"
	"github.com/mentalspace/ehr/internal/platform/validate"
)

// Clients looks up the chart a registration links to.
type Clients interface {
	GetClientByMRN(ctx context.Context, mrn string) (*client.Client, error)
}

// Scheduler is the subset of the scheduling service the portal uses.
type Scheduler interface {
	ListAppointmentTypes(ctx context.Context, f scheduling.TypeFilter, limit, offset int) ([]*scheduling.AppointmentType, int, error)
	Availability(ctx context.Context, req scheduling.AvailabilityRequest) ([]scheduling.Slot, error)
	BookAppointment(ctx context.Context, req scheduling.BookingRequest) (*scheduling.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*scheduling.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	ListAppointments(ctx context.Context, f scheduling.AppointmentFilter, limit, offset int) ([]*scheduling.Appointment, int, error)
}

// Payments collects copays.
type Payments interface {
	CreateCopayPayment(ctx context.Context, clientID, appointmentID uuid.UUID) (*billing.Payment, error)
	RefreshPayment(ctx context.Context, clientID, paymentID uuid.UUID) (*billing.Payment, error)
	ListClientPayments(ctx context.Context, clientID uuid.UUID) ([]*billing.Payment, error)
}

// Tokens issues portal access tokens. Implemented by *auth.TokenIssuer.
type Tokens interface {
	IssueClientToken(tenantID string, clientID uuid.UUID) (string, time.Time, error)
}

// Compared against when the email is unknown so both paths cost one bcrypt.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("portal-timing-equalizer"), bcrypt.DefaultCost)

type Service struct {
	accounts  AccountRepository
	clients   Clients
	scheduler Scheduler
	payments  Payments
	tokens    Tokens
	revoked   auth.RevocationStore
	logger    zerolog.Logger
	now       func() time.Time
	cost      int
}

func NewService(accounts AccountRepository, clients Clients, scheduler Scheduler, payments Payments, tokens Tokens, revoked auth.RevocationStore, logger zerolog.Logger) *Service {
	return &Service{
		accounts:  accounts,
		clients:   clients,
		scheduler: scheduler,
		payments:  payments,
		tokens:    tokens,
		revoked:   revoked,
		logger:    logger.With().Str("component", "portal").Logger(),
		now:       time.Now,
		cost:      bcrypt.DefaultCost,
	}
}

// -- Accounts --

// Register creates a portal login for an existing, non-discharged client
// whose chart email and date of birth match the request.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	cl, err := s.clients.GetClientByMRN(ctx, strings.TrimSpace(req.MRN))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, ErrNoMatchingClient
		}
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(cl.Email), req.Email) || cl.DateOfBirth != req.DateOfBirth {
		return nil, ErrNoMatchingClient
	}
	if cl.Status == client.StatusDischarged {
		return nil, ErrNoMatchingClient
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, err
	}
	a := &Account{
		ClientID:     cl.ID,
		Email:        req.Email,
		PasswordHash: string(hash),
		Active:       true,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().Str("client_id", cl.ID.String()).Msg("portal account registered")
	return a, nil
}

// Login verifies the password and returns a client token. Repeated failures
// lock the account.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	a, err := s.accounts.GetByEmail(ctx, req.Email)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !a.Active {
		return nil, ErrAccountDisabled
	}
	if a.Locked() {
		return nil, ErrAccountLocked
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(req.Password)); err != nil {
		n, ferr := s.accounts.RecordFailure(ctx, a.ID)
		if ferr != nil {
			return nil, ferr
		}
		if n >= MaxFailedAttempts {
			s.logger.Warn().Str("client_id", a.ClientID.String()).Int("failed_attempts", n).Msg("portal account locked")
		}
		return nil, ErrInvalidCredentials
	}

	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		return nil, apperr.Validation("tenant could not be resolved")
	}
	token, exp, err := s.tokens.IssueClientToken(tenant, a.ClientID)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.RecordLogin(ctx, a.ID, s.now().UTC()); err != nil {
		return nil, err
	}
	return &Session{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp, ClientID: a.ClientID}, nil
}

// Logout revokes the caller's token so it stops working before it expires.
func (s *Service) Logout(ctx context.Context) error {
	tok, ok := auth.TokenFromContext(ctx)
	if !ok {
		return ErrNoClientIdentity
	}
	if s.revoked == nil {
		return apperr.Unavailable("logout is not available", nil)
	}
	if err := s.revoked.Revoke(ctx, tok.ID, tok.ExpiresAt); err != nil {
		return apperr.Unavailable("could not revoke token", err)
	}
	s.logger.Info().Str("user_id", auth.UserIDFromContext(ctx)).Msg("portal logout")
	return nil
}

func (s *Service) GetAccount(ctx context.Context, clientID uuid.UUID) (*Account, error) {
	return s.accounts.GetByClientID(ctx, clientID)
}

func (s *Service) UnlockAccount(ctx context.Context, clientID uuid.UUID) (*Account, error) {
	a, err := s.accounts.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.Unlock(ctx, a.ID); err != nil {
		return nil, err
	}
	a.FailedAttempts = 0
	return a, nil
}

func (s *Service) SetAccountActive(ctx context.Context, clientID uuid.UUID, active bool) (*Account, error) {
	a, err := s.accounts.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.SetActive(ctx, a.ID, active); err != nil {
		return nil, err
	}
	a.Active = active
	return a, nil
}

// -- Scheduling --

func (s *Service) AppointmentTypes(ctx context.Context) ([]*scheduling.AppointmentType, error) {
	items, _, err := s.scheduler.ListAppointmentTypes(ctx, scheduling.TypeFilter{ActiveOnly: true, OnlineBookable: true}, 100, 0)
	return items, err
}

// Availability only ever offers online-bookable appointment types.
func (s *Service) Availability(ctx context.Context, req scheduling.AvailabilityRequest) ([]scheduling.Slot, error) {
	req.OnlineOnly = true
	return s.scheduler.Availability(ctx, req)
}

// Appointments lists the client's own appointments, soonest first. With
// upcoming set only appointments that have not started are returned.
func (s *Service) Appointments(ctx context.Context, clientID uuid.UUID, upcoming bool, limit, offset int) ([]*scheduling.Appointment, int, error) {
	f := scheduling.AppointmentFilter{ClientID: &clientID}
	if upcoming {
		now := s.now().UTC()
		f.From = &now
	}
	return s.scheduler.ListAppointments(ctx, f, limit, offset)
}

// Appointment returns one of the client's appointments. Other clients'
// appointments are reported as not found.
func (s *Service) Appointment(ctx context.Context, clientID, id uuid.UUID) (*scheduling.Appointment, error) {
	a, err := s.scheduler.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.HasClient(clientID) {
		return nil, apperr.NotFound("appointment")
	}
	return a, nil
}

// Book runs the same booking validation as staff bookings, restricted to
// online-bookable types and future start times.
func (s *Service) Book(ctx context.Context, clientID uuid.UUID, req BookRequest) (*scheduling.Appointment, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	typeID := req.AppointmentTypeID
	a, err := s.scheduler.BookAppointment(ctx, scheduling.BookingRequest{
		ClinicianID:       req.ClinicianID,
		ClientIDs:         []uuid.UUID{clientID},
		AppointmentTypeID: &typeID,
		StartTime:         req.StartTime,
		Location:          req.Location,
		Notes:             req.Notes,
		Source:            scheduling.SourcePortal,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Cancel cancels one of the client's appointments at least CancelNotice
// before it starts.
func (s *Service) Cancel(ctx context.Context, clientID, id uuid.UUID, reason string) (*scheduling.Appointment, error) {
	a, err := s.Appointment(ctx, clientID, id)
	if err != nil {
		return nil, err
	}
	if a.StartTime.Sub(s.now()) < CancelNotice {
		return nil, ErrCancelTooLate
	}
	if reason == "" {
		reason = "cancelled by client"
	}
	return s.scheduler.CancelAppointment(ctx, id, reason)
}

// -- Payments --

func (s *Service) PayCopay(ctx context.Context, clientID, appointmentID uuid.UUID) (*billing.Payment, error) {
	if _, err := s.Appointment(ctx, clientID, appointmentID); err != nil {
		return nil, err
	}
	return s.payments.CreateCopayPayment(ctx, clientID, appointmentID)
}

func (s *Service) Payment(ctx context.Context, clientID, paymentID uuid.UUID) (*billing.Payment, error) {
	return s.payments.RefreshPayment(ctx, clientID, paymentID)
}

func (s *Service) Payments(ctx context.Context, clientID uuid.UUID) ([]*billing.Payment, error) {
	return s.payments.ListClientPayments(ctx, clientID)
}
