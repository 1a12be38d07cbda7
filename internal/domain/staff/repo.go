package staff

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	GetByEmail(ctx context.Context, email string) (*Staff, error)
	Update(ctx context.Context, s *Staff) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Staff, int, error)
}
