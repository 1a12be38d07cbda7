package charting

import (
	"time"

	"github.com/google/uuid"

	"github.com/mentalspace/ehr/internal/platform/apperr"
)

// Note types.
const (
	TypeIntake        = "intake"
	TypeProgress      = "progress"
	TypeTreatmentPlan = "treatment_plan"
	TypeDischarge     = "discharge"
)

// Note statuses. A signed note whose amendment has been signed becomes amended.
const (
	StatusDraft   = "draft"
	StatusSigned  = "signed"
	StatusAmended = "amended"
)

var (
	ErrNotDraft     = apperr.Conflict("only draft notes can be changed")
	ErrNotSigned    = apperr.Conflict("only signed notes can be amended or cosigned")
	ErrAlreadyAmend = apperr.Conflict("note already has an open amendment")
)

// Note is a clinical note. Content is free-form structured JSON whose shape
// depends on NoteType.
type Note struct {
	ID            uuid.UUID              `json:"id"`
	ClientID      uuid.UUID              `json:"client_id" validate:"required"`
	ClinicianID   uuid.UUID              `json:"clinician_id" validate:"required"`
	AppointmentID *uuid.UUID             `json:"appointment_id,omitempty"`
	NoteType      string                 `json:"note_type" validate:"required,oneof=intake progress treatment_plan discharge"`
	Content       map[string]interface{} `json:"content"`
	Status        string                 `json:"status"`
	Version       int                    `json:"version"`
	AmendsNoteID  *uuid.UUID             `json:"amends_note_id,omitempty"`
	SignedAt      *time.Time             `json:"signed_at,omitempty"`
	SignedBy      *uuid.UUID             `json:"signed_by,omitempty"`
	CosignedAt    *time.Time             `json:"cosigned_at,omitempty"`
	CosignedBy    *uuid.UUID             `json:"cosigned_by,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (n *Note) IsDraft() bool { return n.Status == StatusDraft }

// Attachment is a file stored in object storage and linked to a note.
type Attachment struct {
	ID          uuid.UUID  `json:"id"`
	NoteID      uuid.UUID  `json:"note_id"`
	FileName    string     `json:"file_name"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	ObjectKey   string     `json:"-"`
	UploadedBy  *uuid.UUID `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
