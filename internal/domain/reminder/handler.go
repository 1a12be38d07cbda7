package reminder

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/notification"
)

// CallbackTokenHeader carries the shared secret on delivery receipts.
const CallbackTokenHeader = "X-Callback-Token"

type Handler struct {
	svc            *Service
	callbackSecret string
}

// NewHandler accepts an empty secret only for development; receipts are
// then accepted unauthenticated.
func NewHandler(svc *Service, callbackSecret string) *Handler {
	return &Handler{svc: svc, callbackSecret: callbackSecret}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/reminders/callback", h.Callback)

	staffGroup := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleSupervisor, auth.RoleFrontDesk))
	staffGroup.GET("/appointments/:id/reminders", h.ListAppointmentReminders)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.GET("/reminder-templates", h.ListTemplates)
	adminGroup.PUT("/reminder-templates/:name/:channel", h.SetTemplate)
	adminGroup.DELETE("/reminder-templates/:name/:channel", h.ResetTemplate)
}

func (h *Handler) Callback(c echo.Context) error {
	if h.callbackSecret != "" {
		got := c.Request().Header.Get(CallbackTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.callbackSecret)) != 1 {
			return apperr.Unauthorized("invalid callback token")
		}
	}
	var req CallbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.HandleCallback(c.Request().Context(), req); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListAppointmentReminders(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListAppointmentReminders(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Reminder{}
	}
	return c.JSON(http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) ListTemplates(c echo.Context) error {
	items, err := h.svc.ListTemplates(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) SetTemplate(c echo.Context) error {
	var req TemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.SetTemplate(c.Request().Context(), c.Param("name"), notification.Channel(c.Param("channel")), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ResetTemplate(c echo.Context) error {
	err := h.svc.ResetTemplate(c.Request().Context(), c.Param("name"), notification.Channel(c.Param("channel")))
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
