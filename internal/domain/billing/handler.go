package billing

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
	// Coverage is maintained at the front desk as well as by billing.
	coverage := api.Group("", auth.RequireRole(auth.RoleFrontDesk, auth.RoleBilling))
	coverage.GET("/clients/:id/policies", h.ListClientPolicies)
	coverage.POST("/clients/:id/policies", h.CreatePolicy)
	coverage.GET("/policies/:id", h.GetPolicy)
	coverage.PUT("/policies/:id", h.UpdatePolicy)
	coverage.DELETE("/policies/:id", h.DeletePolicy)
	coverage.POST("/policies/:id/eligibility", h.CheckEligibility)
	coverage.GET("/clients/:id/payments", h.ListClientPayments)

	billing := api.Group("", auth.RequireRole(auth.RoleBilling))
	billing.GET("/claims", h.ListClaims)
	billing.POST("/claims", h.CreateClaim)
	billing.GET("/claims/:id", h.GetClaim)
	billing.PUT("/claims/:id", h.UpdateClaim)
	billing.POST("/claims/:id/submit", h.SubmitClaim)
	billing.POST("/appointments/:id/claims", h.CreateClaimFromAppointment)
	billing.POST("/remittances/poll", h.PollRemittance)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Policies --

func (h *Handler) CreatePolicy(c echo.Context) error {
	clientID, err := parseID(c)
	if err != nil {
		return err
	}
	var p Policy
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.ClientID = clientID
	if err := h.svc.CreatePolicy(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPolicy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPolicy(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePolicy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Policy
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p.ID = id
	if err := h.svc.UpdatePolicy(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePolicy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePolicy(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListClientPolicies(c echo.Context) error {
	clientID, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListClientPolicies(c.Request().Context(), clientID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Policy{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) CheckEligibility(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.CheckEligibility(c.Request().Context(), id, c.QueryParam("service_date"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// -- Claims --

func (h *Handler) CreateClaim(c echo.Context) error {
	var cl Claim
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateClaim(c.Request().Context(), &cl); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) CreateClaimFromAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ClaimFromAppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cl, err := h.svc.CreateClaimFromAppointment(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.GetClaim(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) UpdateClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var cl Claim
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cl.ID = id
	if err := h.svc.UpdateClaim(c.Request().Context(), &cl); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ListClaims(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ClaimFilter{Status: c.QueryParam("status")}
	if raw := c.QueryParam("client_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.FieldErrors(map[string]string{"client_id": "must be a UUID"})
		}
		f.ClientID = &id
	}
	items, total, err := h.svc.ListClaims(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.SubmitClaim(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) PollRemittance(c echo.Context) error {
	n, err := h.svc.PollRemittance(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) ListClientPayments(c echo.Context) error {
	clientID, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListClientPayments(c.Request().Context(), clientID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Payment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}
