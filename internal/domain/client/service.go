package client

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/validate"
)

type Service struct {
	clients Repository
	now     func() time.Time
}

func NewService(clients Repository) *Service {
	return &Service{clients: clients, now: time.Now}
}

// newMRN returns a record number derived from a random UUID.
func newMRN() string {
	return "MS-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func (s *Service) CreateClient(ctx context.Context, c *Client) error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.MRN == "" {
		c.MRN = newMRN()
	}
	c.Status = StatusActive
	c.DischargedAt = nil
	return s.clients.Create(ctx, c)
}

func (s *Service) GetClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	return s.clients.GetByID(ctx, id)
}

func (s *Service) GetClientByMRN(ctx context.Context, mrn string) (*Client, error) {
	return s.clients.GetByMRN(ctx, mrn)
}

// UpdateClient replaces demographics. MRN, status and discharge date are
// managed by the service and cannot be changed here.
func (s *Service) UpdateClient(ctx context.Context, c *Client) error {
	existing, err := s.clients.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	c.MRN = existing.MRN
	c.CreatedAt = existing.CreatedAt
	c.DischargedAt = existing.DischargedAt
	if c.Status == "" || c.Status == StatusDischarged || existing.Status == StatusDischarged {
		c.Status = existing.Status
	}
	if err := validate.Struct(c); err != nil {
		return err
	}
	return s.clients.Update(ctx, c)
}

// DischargeClient closes the client's episode of care.
func (s *Service) DischargeClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	c, err := s.clients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusDischarged {
		return nil, apperr.Conflict("client is already discharged")
	}
	now := s.now().UTC()
	c.Status = StatusDischarged
	c.DischargedAt = &now
	if err := s.clients.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) SearchClients(ctx context.Context, p SearchParams, limit, offset int) ([]*Client, int, error) {
	if p.Status != "" {
		if err := validate.Var("status", p.Status, "oneof=active inactive discharged"); err != nil {
			return nil, 0, err
		}
	}
	return s.clients.Search(ctx, p, limit, offset)
}
