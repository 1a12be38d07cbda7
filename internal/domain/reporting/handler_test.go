package reporting

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
)

func newTestRouter(t *testing.T, f *fixture, roles ...string) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		status := apperr.KindOf(err).HTTPStatus()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		}
		_ = c.NoContent(status)
	}
	e.Pre(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), uuid.NewString(), roles...)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h := NewHandler(f.svc)
	h.now = func() time.Time { return time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC) }
	h.RegisterRoutes(e.Group("/api/v1"))
	return e
}

func TestHandler_Appointments(t *testing.T) {
	f := newFixture(t)
	e := newTestRouter(t, f, auth.RoleSupervisor)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/appointments?from=2025-03-03&to=2025-03-09", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Range struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"range"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Range.From != "2025-03-03" || body.Range.To != "2025-03-09" || body.Total != 6 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandler_DefaultRangeIsMonthToDate(t *testing.T) {
	f := newFixture(t)
	e := newTestRouter(t, f, auth.RoleAdmin)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/claims", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC); !f.repo.from.Equal(want) {
		t.Errorf("expected range from %v, got %v", want, f.repo.from)
	}
	if want := time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC); !f.repo.to.Equal(want) {
		t.Errorf("expected range to %v, got %v", want, f.repo.to)
	}
}

func TestHandler_BadDate(t *testing.T) {
	f := newFixture(t)
	e := newTestRouter(t, f, auth.RoleSupervisor)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/utilization?from=03/03/2025", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_RoleChecks(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		role   string
		target string
		want   int
	}{
		{auth.RoleClinician, "/api/v1/reports/appointments", http.StatusForbidden},
		{auth.RoleBilling, "/api/v1/reports/utilization", http.StatusForbidden},
		{auth.RoleBilling, "/api/v1/reports/claims", http.StatusOK},
		{auth.RoleFrontDesk, "/api/v1/reports/claims", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role+tt.target, func(t *testing.T) {
			e := newTestRouter(t, f, tt.role)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
