package staff

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	readGroup := api.Group("", auth.RequireRole(auth.StaffRoles...))
	readGroup.GET("/staff", h.ListStaff)
	readGroup.GET("/staff/:id", h.GetStaff)
	readGroup.GET("/clinicians", h.ListClinicians)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/staff", h.CreateStaff)
	adminGroup.PUT("/staff/:id", h.UpdateStaff)
	adminGroup.DELETE("/staff/:id", h.DeactivateStaff)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateStaff(c echo.Context) error {
	var st Staff
	if err := c.Bind(&st); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateStaff(c.Request().Context(), &st); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStaff(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetStaff(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) UpdateStaff(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var st Staff
	if err := c.Bind(&st); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	st.ID = id
	if err := h.svc.UpdateStaff(c.Request().Context(), &st); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) DeactivateStaff(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateStaff(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListStaff(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Role:       c.QueryParam("role"),
		ActiveOnly: c.QueryParam("include_inactive") != "true",
	}
	items, total, err := h.svc.ListStaff(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

func (h *Handler) ListClinicians(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListClinicians(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}
