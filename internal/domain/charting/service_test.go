package charting

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/blobstore"
)

type mockNoteRepo struct {
	mu    sync.Mutex
	notes map[uuid.UUID]*Note
}

func newMockNoteRepo() *mockNoteRepo {
	return &mockNoteRepo{notes: make(map[uuid.UUID]*Note)}
}

func (m *mockNoteRepo) Create(_ context.Context, n *Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	cp := *n
	m.notes[n.ID] = &cp
	return nil
}

func (m *mockNoteRepo) GetByID(_ context.Context, id uuid.UUID) (*Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return nil, apperr.NotFound("note")
	}
	cp := *n
	return &cp, nil
}

func (m *mockNoteRepo) UpdateDraft(_ context.Context, n *Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.notes[n.ID]
	if !ok {
		return apperr.NotFound("note")
	}
	if stored.Status != StatusDraft {
		return ErrNotDraft
	}
	stored.NoteType, stored.Content, stored.AppointmentID = n.NoteType, n.Content, n.AppointmentID
	return nil
}

func (m *mockNoteRepo) Sign(_ context.Context, n *Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.notes[n.ID]
	if !ok || stored.Status != StatusDraft {
		return ErrNotDraft
	}
	stored.Status, stored.SignedAt, stored.SignedBy = StatusSigned, n.SignedAt, n.SignedBy
	if n.AmendsNoteID != nil {
		if orig, ok := m.notes[*n.AmendsNoteID]; ok && orig.Status == StatusSigned {
			orig.Status = StatusAmended
		}
	}
	return nil
}

func (m *mockNoteRepo) Cosign(_ context.Context, n *Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.notes[n.ID]
	if !ok || stored.Status != StatusSigned || stored.CosignedAt != nil {
		return ErrNotSigned
	}
	stored.CosignedAt, stored.CosignedBy = n.CosignedAt, n.CosignedBy
	return nil
}

func (m *mockNoteRepo) OpenAmendment(_ context.Context, id uuid.UUID) (*Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notes {
		if n.AmendsNoteID != nil && *n.AmendsNoteID == id && n.Status == StatusDraft {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockNoteRepo) ListByClient(_ context.Context, clientID uuid.UUID, limit, offset int) ([]*Note, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Note
	for _, n := range m.notes {
		if n.ClientID == clientID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

type mockAttachmentRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Attachment
	err   error
}

func newMockAttachmentRepo() *mockAttachmentRepo {
	return &mockAttachmentRepo{items: make(map[uuid.UUID]*Attachment)}
}

func (m *mockAttachmentRepo) Create(_ context.Context, a *Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	a.CreatedAt = time.Now()
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockAttachmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("attachment")
	}
	cp := *a
	return &cp, nil
}

func (m *mockAttachmentRepo) ListByNote(_ context.Context, noteID uuid.UUID) ([]*Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Attachment
	for _, a := range m.items {
		if a.NoteID == noteID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

type testEnv struct {
	svc         *Service
	attachments *mockAttachmentRepo
	store       *blobstore.MemoryStore
	author      uuid.UUID
}

func newTestEnv() *testEnv {
	store := blobstore.NewMemoryStore()
	attachments := newMockAttachmentRepo()
	svc := NewService(newMockNoteRepo(), attachments, store, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC) }
	return &testEnv{svc: svc, attachments: attachments, store: store, author: uuid.New()}
}

func (e *testEnv) authorCtx() context.Context {
	return auth.WithIdentity(context.Background(), e.author.String(), auth.RoleClinician)
}

func (e *testEnv) draft(t *testing.T) *Note {
	t.Helper()
	n := &Note{
		ClientID: uuid.New(),
		NoteType: TypeProgress,
		Content:  map[string]interface{}{"subjective": "reports improved sleep"},
	}
	if err := e.svc.CreateNote(e.authorCtx(), n); err != nil {
		t.Fatalf("create note: %v", err)
	}
	return n
}

func TestCreateNote(t *testing.T) {
	env := newTestEnv()
	n := env.draft(t)
	if n.Status != StatusDraft || n.Version != 1 {
		t.Errorf("unexpected note %+v", n)
	}
	if n.ClinicianID != env.author {
		t.Errorf("expected clinician from caller identity, got %s", n.ClinicianID)
	}
}

func TestCreateNote_Validation(t *testing.T) {
	env := newTestEnv()
	n := &Note{ClientID: uuid.New(), NoteType: "soap"}
	err := env.svc.CreateNote(env.authorCtx(), n)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Fields["note_type"] == "" {
		t.Errorf("expected note_type field error, got %v", err)
	}
}

func TestUpdateNote_DraftOnly(t *testing.T) {
	env := newTestEnv()
	ctx := env.authorCtx()
	n := env.draft(t)

	upd := &Note{ID: n.ID, Content: map[string]interface{}{"plan": "continue CBT"}}
	if err := env.svc.UpdateNote(ctx, upd); err != nil {
		t.Fatalf("update draft: %v", err)
	}
	got, _ := env.svc.GetNote(ctx, n.ID)
	if got.Content["plan"] != "continue CBT" || got.NoteType != TypeProgress {
		t.Errorf("unexpected note after update %+v", got)
	}

	if _, err := env.svc.SignNote(ctx, n.ID); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := env.svc.UpdateNote(ctx, &Note{ID: n.ID, Content: map[string]interface{}{"x": 1}}); !errors.Is(err, ErrNotDraft) {
		t.Errorf("expected signed note to be immutable, got %v", err)
	}
}

func TestSignNote(t *testing.T) {
	env := newTestEnv()
	ctx := env.authorCtx()
	n := env.draft(t)

	signed, err := env.svc.SignNote(ctx, n.ID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signed.Status != StatusSigned || signed.SignedAt == nil || *signed.SignedBy != env.author {
		t.Errorf("unexpected signed note %+v", signed)
	}
	if _, err := env.svc.SignNote(ctx, n.ID); !errors.Is(err, ErrNotDraft) {
		t.Errorf("expected second sign to fail, got %v", err)
	}
}

func TestSignNote_EmptyContent(t *testing.T) {
	env := newTestEnv()
	ctx := env.authorCtx()
	n := &Note{ClientID: uuid.New(), NoteType: TypeIntake}
	env.svc.CreateNote(ctx, n)
	if _, err := env.svc.SignNote(ctx, n.ID); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSignNote_OtherClinicianForbidden(t *testing.T) {
	env := newTestEnv()
	n := env.draft(t)

	other := auth.WithIdentity(context.Background(), uuid.NewString(), auth.RoleClinician)
	if _, err := env.svc.SignNote(other, n.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}

	supervisor := auth.WithIdentity(context.Background(), uuid.NewString(), auth.RoleSupervisor)
	if _, err := env.svc.SignNote(supervisor, n.ID); err != nil {
		t.Errorf("expected supervisor to sign, got %v", err)
	}
}

func TestCosignNote(t *testing.T) {
	env := newTestEnv()
	n := env.draft(t)
	env.svc.SignNote(env.authorCtx(), n.ID)

	if _, err := env.svc.CosignNote(env.authorCtx(), n.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected clinician cosign to be forbidden, got %v", err)
	}

	supID := uuid.New()
	supervisor := auth.WithIdentity(context.Background(), supID.String(), auth.RoleSupervisor)
	got, err := env.svc.CosignNote(supervisor, n.ID)
	if err != nil {
		t.Fatalf("cosign: %v", err)
	}
	if got.CosignedBy == nil || *got.CosignedBy != supID {
		t.Errorf("unexpected cosigner %v", got.CosignedBy)
	}
	if _, err := env.svc.CosignNote(supervisor, n.ID); !errors.Is(err, ErrNotSigned) {
		t.Errorf("expected second cosign to fail, got %v", err)
	}
}

func TestAmendNote(t *testing.T) {
	env := newTestEnv()
	ctx := env.authorCtx()
	n := env.draft(t)

	if _, err := env.svc.AmendNote(ctx, n.ID, nil); !errors.Is(err, ErrNotSigned) {
		t.Errorf("expected draft amendment to fail, got %v", err)
	}
	env.svc.SignNote(ctx, n.ID)

	amendment, err := env.svc.AmendNote(ctx, n.ID, nil)
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if amendment.Version != 2 || *amendment.AmendsNoteID != n.ID || amendment.Status != StatusDraft {
		t.Errorf("unexpected amendment %+v", amendment)
	}
	if amendment.Content["subjective"] != "reports improved sleep" {
		t.Error("expected amendment to start from the original content")
	}
	if _, err := env.svc.AmendNote(ctx, n.ID, nil); !errors.Is(err, ErrAlreadyAmend) {
		t.Errorf("expected open amendment conflict, got %v", err)
	}

	orig, _ := env.svc.GetNote(ctx, n.ID)
	if orig.Status != StatusSigned {
		t.Errorf("original must stay signed until the amendment is signed, got %s", orig.Status)
	}

	if _, err := env.svc.SignNote(ctx, amendment.ID); err != nil {
		t.Fatalf("sign amendment: %v", err)
	}
	orig, _ = env.svc.GetNote(ctx, n.ID)
	if orig.Status != StatusAmended {
		t.Errorf("expected original to be amended, got %s", orig.Status)
	}
	if _, err := env.svc.AmendNote(ctx, n.ID, nil); !errors.Is(err, ErrNotSigned) {
		t.Errorf("expected superseded note to reject amendments, got %v", err)
	}

	items, total, _ := env.svc.ListClientNotes(ctx, n.ClientID, 20, 0)
	if total != 2 || items[0].Version != 2 {
		t.Errorf("expected both versions listed newest first, got %d", total)
	}
}

func TestAddAttachment(t *testing.T) {
	env := newTestEnv()
	ctx := env.authorCtx()
	n := env.draft(t)

	a, err := env.svc.AddAttachment(ctx, n.ID, "intake.pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("add attachment: %v", err)
	}
	if a.SizeBytes != 8 || !strings.HasPrefix(a.ObjectKey, "default/notes/"+n.ID.String()+"/") {
		t.Errorf("unexpected attachment %+v", a)
	}

	rc, got, err := env.svc.OpenAttachment(ctx, n.ID, a.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "%PDF-1.4" || got.FileName != "intake.pdf" {
		t.Errorf("unexpected content %q", body)
	}

	if _, _, err := env.svc.OpenAttachment(ctx, uuid.New(), a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected attachment lookup under another note to fail, got %v", err)
	}
	items, _ := env.svc.ListAttachments(ctx, n.ID)
	if len(items) != 1 {
		t.Errorf("expected 1 attachment, got %d", len(items))
	}
}

func TestAddAttachment_Rejections(t *testing.T) {
	env := newTestEnv()
	ctx := env.authorCtx()
	n := env.draft(t)

	if _, err := env.svc.AddAttachment(ctx, n.ID, "run.exe", "application/x-msdownload", strings.NewReader("MZ")); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected content type rejection, got %v", err)
	}
	big := bytes.NewReader(make([]byte, blobstore.MaxFileSize+1))
	if _, err := env.svc.AddAttachment(ctx, n.ID, "big.pdf", "application/pdf", big); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected size rejection, got %v", err)
	}

	env.svc.SignNote(ctx, n.ID)
	if _, err := env.svc.AddAttachment(ctx, n.ID, "late.pdf", "application/pdf", strings.NewReader("x")); !errors.Is(err, ErrNotDraft) {
		t.Errorf("expected signed note to reject attachments, got %v", err)
	}
}

func TestAddAttachment_RemovesObjectWhenInsertFails(t *testing.T) {
	env := newTestEnv()
	ctx := env.authorCtx()
	n := env.draft(t)
	env.attachments.err = errors.New("insert failed")

	if _, err := env.svc.AddAttachment(ctx, n.ID, "a.txt", "text/plain", strings.NewReader("hello")); err == nil {
		t.Fatal("expected error")
	}
	if n := env.store.Len(); n != 0 {
		t.Errorf("expected orphaned object to be removed, found %d objects", n)
	}
}
