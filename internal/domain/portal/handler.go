package portal

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mentalspace/ehr/internal/domain/scheduling"
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
	// Unauthenticated; see auth.AuthSkipper.
	api.POST("/portal/register", h.Register)
	api.POST("/portal/login", h.Login)

	portal := api.Group("/portal", auth.RequireRole(auth.RoleClient))
	portal.GET("/me", h.Me)
	portal.POST("/logout", h.Logout)
	portal.GET("/appointment-types", h.AppointmentTypes)
	portal.GET("/availability", h.Availability)
	portal.GET("/appointments", h.ListAppointments)
	portal.POST("/appointments", h.Book)
	portal.GET("/appointments/:id", h.GetAppointment)
	portal.POST("/appointments/:id/cancel", h.Cancel)
	portal.POST("/appointments/:id/copay", h.PayCopay)
	portal.GET("/payments", h.ListPayments)
	portal.GET("/payments/:id", h.GetPayment)

	staff := api.Group("", auth.RequireRole(auth.RoleFrontDesk))
	staff.GET("/clients/:id/portal-account", h.GetAccount)
	staff.POST("/clients/:id/portal-account/unlock", h.UnlockAccount)
	staff.POST("/clients/:id/portal-account/deactivate", h.DeactivateAccount)
	staff.POST("/clients/:id/portal-account/activate", h.ActivateAccount)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// callerID is the client bound to the portal token.
func callerID(c echo.Context) (uuid.UUID, error) {
	id, ok := auth.ClientIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, ErrNoClientIdentity
	}
	return id, nil
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) Logout(c echo.Context) error {
	if err := h.svc.Logout(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAccount(c.Request().Context(), clientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) AppointmentTypes(c echo.Context) error {
	items, err := h.svc.AppointmentTypes(c.Request().Context())
	if err != nil {
		return err
	}
	if items == nil {
		items = []*scheduling.AppointmentType{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) Availability(c echo.Context) error {
	if _, err := callerID(c); err != nil {
		return err
	}
	req, err := scheduling.AvailabilityFromQuery(c)
	if err != nil {
		return err
	}
	slots, err := h.svc.Availability(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": slots})
}

func (h *Handler) ListAppointments(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Appointments(c.Request().Context(), clientID, c.QueryParam("upcoming") == "true", pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Appointment(c.Request().Context(), clientID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Book(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.Book(c.Request().Context(), clientID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	a, err := h.svc.Cancel(c.Request().Context(), clientID, id, body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) PayCopay(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.PayCopay(c.Request().Context(), clientID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPayments(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Payments(c.Request().Context(), clientID)
	if err != nil {
		return err
	}
	if items == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"data": []interface{}{}})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) GetPayment(c echo.Context) error {
	clientID, err := callerID(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Payment(c.Request().Context(), clientID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// -- Staff --

func (h *Handler) GetAccount(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAccount(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UnlockAccount(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.UnlockAccount(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeactivateAccount(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *Handler) ActivateAccount(c echo.Context) error {
	return h.setActive(c, true)
}

func (h *Handler) setActive(c echo.Context, active bool) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.SetAccountActive(c.Request().Context(), id, active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}
