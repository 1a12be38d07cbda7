package client

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleSupervisor, auth.RoleFrontDesk, auth.RoleBilling))
	readGroup.GET("/clients", h.SearchClients)
	readGroup.GET("/clients/:id", h.GetClient)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleSupervisor, auth.RoleFrontDesk))
	writeGroup.POST("/clients", h.CreateClient)
	writeGroup.PUT("/clients/:id", h.UpdateClient)
	writeGroup.POST("/clients/:id/discharge", h.DischargeClient)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateClient(c echo.Context) error {
	var cl Client
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateClient(c.Request().Context(), &cl); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.GetClient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) UpdateClient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var cl Client
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cl.ID = id
	if err := h.svc.UpdateClient(c.Request().Context(), &cl); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) DischargeClient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.DischargeClient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) SearchClients(c echo.Context) error {
	pg := pagination.FromContext(c)
	p := SearchParams{
		Name:   c.QueryParam("name"),
		MRN:    c.QueryParam("mrn"),
		Status: c.QueryParam("status"),
	}
	if raw := c.QueryParam("clinician_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.FieldErrors(map[string]string{"clinician_id": "must be a UUID"})
		}
		p.ClinicianID = &id
	}
	items, total, err := h.svc.SearchClients(c.Request().Context(), p, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}
