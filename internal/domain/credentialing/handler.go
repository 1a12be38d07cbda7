package credentialing

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mentalspace/ehr/internal/platform/apperr"
	"github.com/mentalspace/ehr/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleSupervisor, auth.RoleBilling))
	readGroup.GET("/credentials", h.ListStaffCredentials)
	readGroup.GET("/credentials/expiring", h.ListExpiring)
	readGroup.GET("/credentials/:id", h.GetCredential)
	readGroup.GET("/credentials/:id/document", h.DownloadDocument)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/credentials", h.CreateCredential)
	writeGroup.PUT("/credentials/:id", h.UpdateCredential)
	writeGroup.DELETE("/credentials/:id", h.DeleteCredential)
	writeGroup.POST("/credentials/:id/verify", h.VerifyCredential)
	writeGroup.POST("/credentials/:id/document", h.UploadDocument)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateCredential(c echo.Context) error {
	var cred Credential
	if err := c.Bind(&cred); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateCredential(c.Request().Context(), &cred); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cred)
}

func (h *Handler) GetCredential(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cred, err := h.svc.GetCredential(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) UpdateCredential(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var cred Credential
	if err := c.Bind(&cred); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cred.ID = id
	if err := h.svc.UpdateCredential(c.Request().Context(), &cred); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) DeleteCredential(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCredential(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) VerifyCredential(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cred, err := h.svc.VerifyCredential(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) ListStaffCredentials(c echo.Context) error {
	staffID, err := uuid.Parse(c.QueryParam("staff_id"))
	if err != nil {
		return apperr.FieldErrors(map[string]string{"staff_id": "is required"})
	}
	items, err := h.svc.ListStaffCredentials(c.Request().Context(), staffID)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Credential{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

// ListExpiring serves ?days=N, defaulting to 30.
func (h *Handler) ListExpiring(c echo.Context) error {
	days := 30
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperr.FieldErrors(map[string]string{"days": "must be an integer"})
		}
		days = n
	}
	items, err := h.svc.ListExpiring(c.Request().Context(), days)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Credential{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) UploadDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return apperr.FieldErrors(map[string]string{"file": "is required"})
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable file")
	}
	defer f.Close()

	cred, err := h.svc.UploadDocument(c.Request().Context(), id, fh.Filename, fh.Header.Get(echo.HeaderContentType), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) DownloadDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rc, obj, err := h.svc.OpenDocument(c.Request().Context(), id)
	if err != nil {
		return err
	}
	defer rc.Close()
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}
