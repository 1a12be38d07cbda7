package reporting

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	reports := api.Group("/reports", auth.RequireRole(auth.RoleSupervisor))
	reports.GET("/appointments", h.Appointments)
	reports.GET("/utilization", h.Utilization)

	api.GET("/reports/claims", h.Claims, auth.RequireRole(auth.RoleBilling, auth.RoleSupervisor))
}

// rangeFromQuery reads from/to (YYYY-MM-DD). Missing values default to the
// current month up to today.
func (h *Handler) rangeFromQuery(c echo.Context) (Range, error) {
	today := scheduling.DateOf(h.now().UTC())
	r := Range{From: scheduling.Date{Year: today.Year, Month: today.Month, Day: 1}, To: today}
	fields := map[string]string{}
	if v := c.QueryParam("from"); v != "" {
		d, err := scheduling.ParseDate(v)
		if err != nil {
			fields["from"] = "must be a date in YYYY-MM-DD format"
		}
		r.From = d
	}
	if v := c.QueryParam("to"); v != "" {
		d, err := scheduling.ParseDate(v)
		if err != nil {
			fields["to"] = "must be a date in YYYY-MM-DD format"
		}
		r.To = d
	}
	if len(fields) > 0 {
		return Range{}, apperr.FieldErrors(fields)
	}
	return r, nil
}

func (h *Handler) Appointments(c echo.Context) error {
	r, err := h.rangeFromQuery(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.Appointments(c.Request().Context(), r)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) Utilization(c echo.Context) error {
	r, err := h.rangeFromQuery(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.Utilization(c.Request().Context(), r)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) Claims(c echo.Context) error {
	r, err := h.rangeFromQuery(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.Claims(c.Request().Context(), r)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}
