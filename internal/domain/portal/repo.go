package portal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AccountRepository interface {
	Create(ctx context.Context, a *Account) error
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByClientID(ctx context.Context, clientID uuid.UUID) (*Account, error)
	// RecordLogin clears failed attempts and stamps the login time.
	RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	// RecordFailure increments failed attempts and returns the new count.
	RecordFailure(ctx context.Context, id uuid.UUID) (int, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Unlock(ctx context.Context, id uuid.UUID) error
}
