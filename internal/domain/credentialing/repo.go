package credentialing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Credential) error
	GetByID(ctx context.Context, id uuid.UUID) (*Credential, error)
	Update(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByStaff(ctx context.Context, staffID uuid.UUID) ([]*Credential, error)
	// ListExpiring returns unexpired, unrejected credentials whose expiration
	// date falls in [from, to].
	ListExpiring(ctx context.Context, from, to time.Time) ([]*Credential, error)
	// MarkExpired flips every credential that expired before asOf to expired
	// and returns the affected rows.
	MarkExpired(ctx context.Context, asOf time.Time) ([]*Credential, error)
}
