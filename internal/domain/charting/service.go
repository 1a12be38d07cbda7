package charting

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

type Service struct {
	notes       NoteRepository
	attachments AttachmentRepository
	store       blobstore.Store
	logger      zerolog.Logger
	now         func() time.Time
}

func NewService(notes NoteRepository, attachments AttachmentRepository, store blobstore.Store, logger zerolog.Logger) *Service {
	return &Service{
		notes:       notes,
		attachments: attachments,
		store:       store,
		logger:      logger.With().Str("component", "charting").Logger(),
		now:         time.Now,
	}
}

func (s *Service) CreateNote(ctx context.Context, n *Note) error {
	if n.ClinicianID == uuid.Nil {
		if id, ok := auth.UserUUIDFromContext(ctx); ok {
			n.ClinicianID = id
		}
	}
	if err := validateNote(n); err != nil {
		return err
	}
	n.Status = StatusDraft
	n.Version = 1
	n.AmendsNoteID = nil
	n.SignedAt, n.SignedBy, n.CosignedAt, n.CosignedBy = nil, nil, nil, nil
	return s.notes.Create(ctx, n)
}

func (s *Service) GetNote(ctx context.Context, id uuid.UUID) (*Note, error) {
	return s.notes.GetByID(ctx, id)
}

// UpdateNote replaces the type, content and appointment link of a draft.
func (s *Service) UpdateNote(ctx context.Context, n *Note) error {
	existing, err := s.notes.GetByID(ctx, n.ID)
	if err != nil {
		return err
	}
	if !existing.IsDraft() {
		return ErrNotDraft
	}
	if n.NoteType == "" {
		n.NoteType = existing.NoteType
	}
	n.ClientID = existing.ClientID
	n.ClinicianID = existing.ClinicianID
	n.Status = existing.Status
	n.Version = existing.Version
	n.AmendsNoteID = existing.AmendsNoteID
	n.CreatedAt = existing.CreatedAt
	if err := validateNote(n); err != nil {
		return err
	}
	return s.notes.UpdateDraft(ctx, n)
}

// SignNote locks a draft. Only its author, a supervisor or an admin may sign.
func (s *Service) SignNote(ctx context.Context, id uuid.UUID) (*Note, error) {
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !n.IsDraft() {
		return nil, ErrNotDraft
	}
	if len(n.Content) == 0 {
		return nil, apperr.FieldErrors(map[string]string{"content": "is required before signing"})
	}
	signer, ok := auth.UserUUIDFromContext(ctx)
	if ok && signer != n.ClinicianID && !auth.HasAnyRole(ctx, auth.RoleSupervisor) {
		return nil, apperr.Forbidden("only the authoring clinician can sign this note")
	}
	now := s.now().UTC()
	n.SignedAt = &now
	if ok {
		n.SignedBy = &signer
	}
	if err := s.notes.Sign(ctx, n); err != nil {
		return nil, err
	}
	n.Status = StatusSigned
	s.logger.Info().Str("note_id", n.ID.String()).Int("version", n.Version).Msg("note signed")
	return n, nil
}

// CosignNote records supervisor review of a signed note.
func (s *Service) CosignNote(ctx context.Context, id uuid.UUID) (*Note, error) {
	if !auth.HasAnyRole(ctx, auth.RoleSupervisor) {
		return nil, apperr.Forbidden("cosigning requires the supervisor role")
	}
	n, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != StatusSigned || n.CosignedAt != nil {
		return nil, ErrNotSigned
	}
	cosigner, ok := auth.UserUUIDFromContext(ctx)
	if ok && n.SignedBy != nil && *n.SignedBy == cosigner {
		return nil, apperr.Forbidden("a note cannot be cosigned by its signer")
	}
	now := s.now().UTC()
	n.CosignedAt = &now
	if ok {
		n.CosignedBy = &cosigner
	}
	if err := s.notes.Cosign(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// AmendNote opens a new draft version of a signed note. The original stays
// signed until the amendment is signed, at which point it becomes amended.
// A nil content copies the original's content into the draft.
func (s *Service) AmendNote(ctx context.Context, id uuid.UUID, content map[string]interface{}) (*Note, error) {
	orig, err := s.notes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusSigned {
		return nil, ErrNotSigned
	}
	open, err := s.notes.OpenAmendment(ctx, id)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, ErrAlreadyAmend
	}
	if content == nil {
		content = orig.Content
	}
	amendment := &Note{
		ClientID:      orig.ClientID,
		ClinicianID:   orig.ClinicianID,
		AppointmentID: orig.AppointmentID,
		NoteType:      orig.NoteType,
		Content:       content,
		Status:        StatusDraft,
		Version:       orig.Version + 1,
		AmendsNoteID:  &orig.ID,
	}
	if author, ok := auth.UserUUIDFromContext(ctx); ok {
		amendment.ClinicianID = author
	}
	if err := s.notes.Create(ctx, amendment); err != nil {
		return nil, err
	}
	return amendment, nil
}

func (s *Service) ListClientNotes(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Note, int, error) {
	return s.notes.ListByClient(ctx, clientID, limit, offset)
}

// AddAttachment uploads content to object storage and links it to a draft note.
func (s *Service) AddAttachment(ctx context.Context, noteID uuid.UUID, fileName, contentType string, content io.Reader) (*Attachment, error) {
	n, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if !n.IsDraft() {
		return nil, ErrNotDraft
	}
	if fileName == "" {
		return nil, apperr.FieldErrors(map[string]string{"file": "is required"})
	}
	if err := blobstore.ValidateContentType(contentType); err != nil {
		return nil, apperr.FieldErrors(map[string]string{"file": "content type is not allowed"})
	}

	a := &Attachment{
		ID:          uuid.New(),
		NoteID:      noteID,
		FileName:    fileName,
		ContentType: contentType,
	}
	a.ObjectKey = blobstore.Key(tenantOf(ctx), "notes", noteID.String(), a.ID.String()+"-"+fileName)
	if uploader, ok := auth.UserUUIDFromContext(ctx); ok {
		a.UploadedBy = &uploader
	}

	obj, err := s.store.Put(ctx, a.ObjectKey, contentType, content)
	if err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) {
			return nil, apperr.FieldErrors(map[string]string{"file": "exceeds the 25 MB limit"})
		}
		return nil, apperr.Unavailable("object storage unavailable", err)
	}
	a.SizeBytes = obj.Size

	if err := s.attachments.Create(ctx, a); err != nil {
		if delErr := s.store.Delete(ctx, a.ObjectKey); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", a.ObjectKey).Msg("failed to remove orphaned attachment")
		}
		return nil, err
	}
	return a, nil
}

func (s *Service) ListAttachments(ctx context.Context, noteID uuid.UUID) ([]*Attachment, error) {
	if _, err := s.notes.GetByID(ctx, noteID); err != nil {
		return nil, err
	}
	return s.attachments.ListByNote(ctx, noteID)
}

// OpenAttachment returns the attachment's content. The caller closes it.
func (s *Service) OpenAttachment(ctx context.Context, noteID, attachmentID uuid.UUID) (io.ReadCloser, *Attachment, error) {
	a, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	if a.NoteID != noteID {
		return nil, nil, apperr.NotFound("attachment")
	}
	rc, _, err := s.store.Get(ctx, a.ObjectKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil, apperr.NotFound("attachment content")
		}
		return nil, nil, apperr.Unavailable("object storage unavailable", err)
	}
	return rc, a, nil
}

func validateNote(n *Note) error {
	return validate.Struct(n)
}

func tenantOf(ctx context.Context) string {
	if t := db.TenantFromContext(ctx); t != "" {
		return t
	}
	return "default"
}
