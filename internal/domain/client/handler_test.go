package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/pkg/pagination"
)

func newTestHandler() (*Handler, *Service, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), svc, echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_CreateClient(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"first_name":"Sam","last_name":"Lee","date_of_birth":"1985-07-01","email":"sam@example.com"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)

	if err := h.CreateClient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Client
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MRN == "" || got.DateOfBirth != "1985-07-01" {
		t.Errorf("unexpected client %+v", got)
	}
}

func TestHandler_CreateClient_BadBody(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"first_name":`), httptest.NewRecorder())
	err := h.CreateClient(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetClient_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.GetClient(c); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestHandler_DischargeClient(t *testing.T) {
	h, svc, e := newTestHandler()
	cl := sampleClient()
	if err := svc.CreateClient(context.Background(), cl); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(cl.ID.String())
	if err := h.DischargeClient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Client
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusDischarged {
		t.Errorf("expected discharged, got %s", got.Status)
	}
}

func TestHandler_SearchClients(t *testing.T) {
	h, svc, e := newTestHandler()
	for _, name := range []string{"Adams", "Baker", "Clark"} {
		cl := sampleClient()
		cl.LastName = name
		if err := svc.CreateClient(context.Background(), cl); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/clients?name=a&limit=2", nil)
	c := e.NewContext(req, rec)
	if err := h.SearchClients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp pagination.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || !resp.HasMore {
		t.Errorf("expected total 3 with more pages, got %d (has_more=%v)", resp.Total, resp.HasMore)
	}
}

func TestHandler_SearchClients_BadClinician(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/clients?clinician_id=nope", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if err := h.SearchClients(c); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}
