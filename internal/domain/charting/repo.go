package charting

import (
	"context"

	"github.com/google/uuid"
)

type NoteRepository interface {
	Create(ctx context.Context, n *Note) error
	GetByID(ctx context.Context, id uuid.UUID) (*Note, error)
	// UpdateDraft fails with ErrNotDraft when the stored note is no longer a draft.
	UpdateDraft(ctx context.Context, n *Note) error
	// Sign marks a draft signed. When the note amends another, the original
	// is marked amended in the same transaction.
	Sign(ctx context.Context, n *Note) error
	Cosign(ctx context.Context, n *Note) error
	// OpenAmendment returns the unsigned amendment of id, or nil.
	OpenAmendment(ctx context.Context, id uuid.UUID) (*Note, error)
	ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Note, int, error)
}

type AttachmentRepository interface {
	Create(ctx context.Context, a *Attachment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error)
	ListByNote(ctx context.Context, noteID uuid.UUID) ([]*Attachment, error)
}
