package charting

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func withAuthor(env *testEnv, req *http.Request) *http.Request {
	return req.WithContext(env.authorCtx())
}

func TestHandler_CreateAndSignNote(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()

	body := `{"client_id":"` + uuid.NewString() + `","note_type":"progress","content":{"assessment":"stable"}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.CreateNote(e.NewContext(withAuthor(env, req), rec)); err != nil {
		t.Fatalf("create: %v", err)
	}
	var created Note
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = httptest.NewRecorder()
	c := e.NewContext(withAuthor(env, httptest.NewRequest(http.MethodPost, "/", nil)), rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.SignNote(c); err != nil {
		t.Fatalf("sign: %v", err)
	}
	var signed Note
	json.Unmarshal(rec.Body.Bytes(), &signed)
	if signed.Status != StatusSigned {
		t.Errorf("expected signed, got %s", signed.Status)
	}
}

func TestHandler_AmendNote_EmptyBody(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	n := env.draft(t)
	env.svc.SignNote(env.authorCtx(), n.ID)

	rec := httptest.NewRecorder()
	c := e.NewContext(withAuthor(env, httptest.NewRequest(http.MethodPost, "/", nil)), rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.AmendNote(c); err != nil {
		t.Fatalf("amend: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_UploadAndDownloadAttachment(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	n := env.draft(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="consent.txt"`)
	hdr.Set("Content-Type", "text/plain")
	part, _ := mw.CreatePart(hdr)
	part.Write([]byte("signed consent"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(withAuthor(env, req), rec)
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.UploadAttachment(c); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var a Attachment
	json.Unmarshal(rec.Body.Bytes(), &a)

	rec = httptest.NewRecorder()
	c = e.NewContext(withAuthor(env, httptest.NewRequest(http.MethodGet, "/", nil)), rec)
	c.SetParamNames("id", "attachment_id")
	c.SetParamValues(n.ID.String(), a.ID.String())
	if err := h.DownloadAttachment(c); err != nil {
		t.Fatalf("download: %v", err)
	}
	if rec.Body.String() != "signed consent" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "consent.txt") {
		t.Errorf("unexpected disposition %q", rec.Header().Get(echo.HeaderContentDisposition))
	}
}

func TestHandler_UploadAttachment_MissingFile(t *testing.T) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	n := env.draft(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	c := e.NewContext(withAuthor(env, req), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.UploadAttachment(c); err == nil {
		t.Error("expected error for missing file")
	}
}
