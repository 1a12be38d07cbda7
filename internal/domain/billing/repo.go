package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PolicyRepository interface {
	Create(ctx context.Context, p *Policy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)
	Update(ctx context.Context, p *Policy) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]*Policy, error)
}

type ClaimRepository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetByClearinghouseID(ctx context.Context, clearinghouseID string) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error)
	// LastAdjudicatedAt returns the newest adjudication time, or the zero time.
	LastAdjudicatedAt(ctx context.Context) (time.Time, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*Payment, error)
	UpdateStatus(ctx context.Context, p *Payment) error
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]*Payment, error)
}
