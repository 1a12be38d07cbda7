package staff

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
)

func TestHandler_CreateStaff(t *testing.T) {
	h := NewHandler(newTestService())
	e := echo.New()
	body := `{"first_name":"Pat","last_name":"Quinn","email":"pat@clinic.example","roles":["clinician"]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateStaff(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Staff
	json.Unmarshal(rec.Body.Bytes(), &got)
	if !got.Active || !got.HasRole(auth.RoleClinician) {
		t.Errorf("unexpected staff %+v", got)
	}
}

func TestHandler_GetStaff_NotFound(t *testing.T) {
	h := NewHandler(newTestService())
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.GetStaff(c); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestHandler_DeactivateStaff(t *testing.T) {
	svc := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	st := clinician("Ross")
	if err := svc.CreateStaff(httptest.NewRequest(http.MethodGet, "/", nil).Context(), st); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(st.ID.String())
	if err := h.DeactivateStaff(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_RegisterRoutes_AdminOnlyWrites(t *testing.T) {
	h := NewHandler(newTestService())
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}
		c.NoContent(code)
	}
	e.Pre(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), uuid.NewString(), auth.RoleFrontDesk)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/clinicians", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 listing clinicians, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/staff", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 creating staff, got %d", rec.Code)
	}
}
