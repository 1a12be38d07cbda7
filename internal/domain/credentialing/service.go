package credentialing

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/blobstore"
	"github.com/mentalspace/ehr/internal/platform/db"
	"github.com/mentalspace/ehr/internal/platform/validate"
)

// MaxExpiringWindowDays bounds ListExpiring.
const MaxExpiringWindowDays = 365

type Service struct {
	creds  Repository
	store  blobstore.Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(creds Repository, store blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		creds:  creds,
		store:  store,
		logger: logger.With().Str("component", "credentialing").Logger(),
		now:    time.Now,
	}
}

func validateCredential(c *Credential) error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.IssuedOn != "" && c.ExpiresOn != "" && c.ExpiresOn < c.IssuedOn {
		return apperr.FieldErrors(map[string]string{"expires_on": "must not be before issued_on"})
	}
	return nil
}

func (s *Service) CreateCredential(ctx context.Context, c *Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	c.VerificationStatus = StatusPending
	c.VerifiedAt, c.VerifiedBy = nil, nil
	c.DocumentKey = ""
	return s.creds.Create(ctx, c)
}

func (s *Service) GetCredential(ctx context.Context, id uuid.UUID) (*Credential, error) {
	return s.creds.GetByID(ctx, id)
}

// UpdateCredential replaces the credential details. Changing the number or
// dates sends a verified credential back to pending.
func (s *Service) UpdateCredential(ctx context.Context, c *Credential) error {
	existing, err := s.creds.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	c.StaffID = existing.StaffID
	c.CreatedAt = existing.CreatedAt
	c.DocumentKey = existing.DocumentKey
	c.VerificationStatus = existing.VerificationStatus
	c.VerifiedAt, c.VerifiedBy = existing.VerifiedAt, existing.VerifiedBy
	if err := validateCredential(c); err != nil {
		return err
	}
	if c.Number != existing.Number || c.ExpiresOn != existing.ExpiresOn || c.IssuedOn != existing.IssuedOn {
		c.VerificationStatus = StatusPending
		c.VerifiedAt, c.VerifiedBy = nil, nil
	}
	return s.creds.Update(ctx, c)
}

func (s *Service) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	c, err := s.creds.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.creds.Delete(ctx, id); err != nil {
		return err
	}
	if c.DocumentKey != "" {
		if err := s.store.Delete(ctx, c.DocumentKey); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", c.DocumentKey).Msg("failed to remove credential document")
		}
	}
	return nil
}

func (s *Service) ListStaffCredentials(ctx context.Context, staffID uuid.UUID) ([]*Credential, error) {
	return s.creds.ListByStaff(ctx, staffID)
}

// VerifyRequest records the outcome of primary-source verification.
type VerifyRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes,omitempty" validate:"max=2000"`
}

func (s *Service) VerifyCredential(ctx context.Context, id uuid.UUID, req VerifyRequest) (*Credential, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	c, err := s.creds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if req.Approved && c.ExpiredOn(now) {
		return nil, apperr.Conflict("an expired credential cannot be verified")
	}
	if req.Approved {
		c.VerificationStatus = StatusVerified
	} else {
		c.VerificationStatus = StatusRejected
	}
	if req.Notes != "" {
		c.Notes = req.Notes
	}
	c.VerifiedAt = &now
	c.VerifiedBy = nil
	if verifier, ok := auth.UserUUIDFromContext(ctx); ok {
		c.VerifiedBy = &verifier
	}
	if err := s.creds.Update(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("credential_id", c.ID.String()).
		Str("staff_id", c.StaffID.String()).
		Str("status", c.VerificationStatus).
		Msg("credential verification recorded")
	return c, nil
}

// ListExpiring returns credentials that expire within days from today.
func (s *Service) ListExpiring(ctx context.Context, days int) ([]*Credential, error) {
	if days < 0 || days > MaxExpiringWindowDays {
		return nil, apperr.FieldErrors(map[string]string{"days": "must be between 0 and 365"})
	}
	today := truncateDay(s.now().UTC())
	return s.creds.ListExpiring(ctx, today, today.AddDate(0, 0, days))
}

// SweepExpired marks every credential past its expiration date as expired
// and logs each one. It returns the number of credentials changed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.creds.MarkExpired(ctx, truncateDay(s.now().UTC()))
	if err != nil {
		return 0, err
	}
	for _, c := range expired {
		s.logger.Warn().
			Str("tenant_id", db.TenantFromContext(ctx)).
			Str("credential_id", c.ID.String()).
			Str("staff_id", c.StaffID.String()).
			Str("credential_type", c.CredentialType).
			Str("expires_on", c.ExpiresOn).
			Msg("credential expired")
	}
	return len(expired), nil
}

// UploadDocument stores a scan of the credential and links it. A previous
// document is replaced.
func (s *Service) UploadDocument(ctx context.Context, id uuid.UUID, fileName, contentType string, content io.Reader) (*Credential, error) {
	c, err := s.creds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := blobstore.ValidateContentType(contentType); err != nil {
		return nil, apperr.FieldErrors(map[string]string{"file": "content type is not allowed"})
	}
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = "default"
	}
	key := blobstore.Key(tenant, "credentials", id.String(), uuid.NewString()+"-"+fileName)
	if _, err := s.store.Put(ctx, key, contentType, content); err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) {
			return nil, apperr.FieldErrors(map[string]string{"file": "exceeds the 25 MB limit"})
		}
		return nil, apperr.Unavailable("object storage unavailable", err)
	}
	previous := c.DocumentKey
	c.DocumentKey = key
	if err := s.creds.Update(ctx, c); err != nil {
		_ = s.store.Delete(ctx, key)
		return nil, err
	}
	if previous != "" {
		if err := s.store.Delete(ctx, previous); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Warn().Err(err).Str("key", previous).Msg("failed to remove replaced credential document")
		}
	}
	return c, nil
}

// OpenDocument returns the stored scan. The caller closes it.
func (s *Service) OpenDocument(ctx context.Context, id uuid.UUID) (io.ReadCloser, *blobstore.Object, error) {
	c, err := s.creds.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if c.DocumentKey == "" {
		return nil, nil, apperr.NotFound("credential document")
	}
	rc, obj, err := s.store.Get(ctx, c.DocumentKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil, apperr.NotFound("credential document")
		}
		return nil, nil, apperr.Unavailable("object storage unavailable", err)
	}
	return rc, obj, nil
}
