package telehealth

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mentalspace/ehr/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	hosts := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleSupervisor))
	hosts.POST("/appointments/:id/telehealth", h.StartSession)
	hosts.GET("/appointments/:id/telehealth", h.GetSession)
	hosts.GET("/appointments/:id/telehealth/join", h.Join)
	hosts.POST("/appointments/:id/telehealth/end", h.EndSession)

	api.GET("/portal/appointments/:id/telehealth/join", h.Join, auth.RequireRole(auth.RoleClient))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) StartSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.StartSession(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sess)
}

func (h *Handler) GetSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.GetSession(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) Join(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	info, err := h.svc.JoinURL(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) EndSession(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.EndSession(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}
