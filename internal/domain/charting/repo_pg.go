package charting

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentalspace/ehr/internal/platform/db"
)

// =========== Note Repository ===========

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository { return &noteRepoPG{pool: pool} }

const noteCols = `id, client_id, clinician_id, appointment_id, note_type, content, status, version,
	amends_note_id, signed_at, signed_by, cosigned_at, cosigned_by, created_at, updated_at`

func (r *noteRepoPG) scanNote(row pgx.Row) (*Note, error) {
	var (
		n       Note
		content []byte
	)
	err := row.Scan(&n.ID, &n.ClientID, &n.ClinicianID, &n.AppointmentID, &n.NoteType, &content,
		&n.Status, &n.Version, &n.AmendsNoteID, &n.SignedAt, &n.SignedBy, &n.CosignedAt, &n.CosignedBy,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, &n.Content); err != nil {
		return nil, fmt.Errorf("decode note content: %w", err)
	}
	return &n, nil
}

func encodeContent(c map[string]interface{}) ([]byte, error) {
	if c == nil {
		c = map[string]interface{}{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode note content: %w", err)
	}
	return b, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *Note) error {
	content, err := encodeContent(n.Content)
	if err != nil {
		return err
	}
	n.ID = uuid.New()
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO clinical_note (id, client_id, clinician_id, appointment_id, note_type, content,
			status, version, amends_note_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		n.ID, n.ClientID, n.ClinicianID, n.AppointmentID, n.NoteType, content,
		n.Status, n.Version, n.AmendsNoteID,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	return db.MapError(err, "note")
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Note, error) {
	n, err := r.scanNote(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+noteCols+` FROM clinical_note WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "note")
	}
	return n, nil
}

func (r *noteRepoPG) UpdateDraft(ctx context.Context, n *Note) error {
	content, err := encodeContent(n.Content)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE clinical_note SET note_type=$2, content=$3, appointment_id=$4, updated_at=NOW()
		WHERE id = $1 AND status = 'draft'
		RETURNING updated_at`,
		n.ID, n.NoteType, content, n.AppointmentID,
	).Scan(&n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotDraft
	}
	return db.MapError(err, "note")
}

func (r *noteRepoPG) Sign(ctx context.Context, n *Note) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		err := q.QueryRow(ctx, `
			UPDATE clinical_note SET status='signed', signed_at=$2, signed_by=$3, updated_at=NOW()
			WHERE id = $1 AND status = 'draft'
			RETURNING updated_at`,
			n.ID, n.SignedAt, n.SignedBy,
		).Scan(&n.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotDraft
		}
		if err != nil {
			return db.MapError(err, "note")
		}
		if n.AmendsNoteID == nil {
			return nil
		}
		_, err = q.Exec(ctx, `
			UPDATE clinical_note SET status='amended', updated_at=NOW()
			WHERE id = $1 AND status = 'signed'`, *n.AmendsNoteID)
		return db.MapError(err, "note")
	})
}

func (r *noteRepoPG) Cosign(ctx context.Context, n *Note) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE clinical_note SET cosigned_at=$2, cosigned_by=$3, updated_at=NOW()
		WHERE id = $1 AND status = 'signed' AND cosigned_at IS NULL
		RETURNING updated_at`,
		n.ID, n.CosignedAt, n.CosignedBy,
	).Scan(&n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotSigned
	}
	return db.MapError(err, "note")
}

func (r *noteRepoPG) OpenAmendment(ctx context.Context, id uuid.UUID) (*Note, error) {
	n, err := r.scanNote(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+noteCols+` FROM clinical_note WHERE amends_note_id = $1 AND status = 'draft' LIMIT 1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.MapError(err, "note")
	}
	return n, nil
}

func (r *noteRepoPG) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Note, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM clinical_note WHERE client_id = $1`, clientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+noteCols+` FROM clinical_note WHERE client_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, clientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Note
	for rows.Next() {
		n, err := r.scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

// =========== Attachment Repository ===========

type attachmentRepoPG struct{ pool *pgxpool.Pool }

func NewAttachmentRepoPG(pool *pgxpool.Pool) AttachmentRepository {
	return &attachmentRepoPG{pool: pool}
}

const attachmentCols = `id, note_id, file_name, content_type, size_bytes, object_key, uploaded_by, created_at`

func scanAttachment(row pgx.Row) (*Attachment, error) {
	var a Attachment
	err := row.Scan(&a.ID, &a.NoteID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.ObjectKey,
		&a.UploadedBy, &a.CreatedAt)
	return &a, err
}

func (r *attachmentRepoPG) Create(ctx context.Context, a *Attachment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO note_attachment (id, note_id, file_name, content_type, size_bytes, object_key, uploaded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		a.ID, a.NoteID, a.FileName, a.ContentType, a.SizeBytes, a.ObjectKey, a.UploadedBy,
	).Scan(&a.CreatedAt)
	return db.MapError(err, "attachment")
}

func (r *attachmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error) {
	a, err := scanAttachment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+attachmentCols+` FROM note_attachment WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "attachment")
	}
	return a, nil
}

func (r *attachmentRepoPG) ListByNote(ctx context.Context, noteID uuid.UUID) ([]*Attachment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+attachmentCols+` FROM note_attachment WHERE note_id = $1 ORDER BY created_at`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
