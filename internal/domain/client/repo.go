package client

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	GetByMRN(ctx context.Context, mrn string) (*Client, error)
	Update(ctx context.Context, c *Client) error
	Search(ctx context.Context, p SearchParams, limit, offset int) ([]*Client, int, error)
}
