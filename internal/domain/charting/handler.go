package charting

import (
	"net/http"
	"strconv"

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
	// Clinical content is limited to clinicians and their supervisors.
	g := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleSupervisor))
	g.GET("/clients/:id/notes", h.ListClientNotes)
	g.POST("/notes", h.CreateNote)
	g.GET("/notes/:id", h.GetNote)
	g.PUT("/notes/:id", h.UpdateNote)
	g.POST("/notes/:id/sign", h.SignNote)
	g.POST("/notes/:id/cosign", h.CosignNote)
	g.POST("/notes/:id/amend", h.AmendNote)
	g.GET("/notes/:id/attachments", h.ListAttachments)
	g.POST("/notes/:id/attachments", h.UploadAttachment)
	g.GET("/notes/:id/attachments/:attachment_id", h.DownloadAttachment)
}

func parseUUIDParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateNote(c echo.Context) error {
	var n Note
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateNote(c.Request().Context(), &n); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) GetNote(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.GetNote(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) UpdateNote(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var n Note
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	n.ID = id
	if err := h.svc.UpdateNote(c.Request().Context(), &n); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) SignNote(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.SignNote(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) CosignNote(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.CosignNote(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

type amendRequest struct {
	Content map[string]interface{} `json:"content"`
}

func (h *Handler) AmendNote(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req amendRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	n, err := h.svc.AmendNote(c.Request().Context(), id, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ListClientNotes(c echo.Context) error {
	clientID, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListClientNotes(c.Request().Context(), clientID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

func (h *Handler) ListAttachments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAttachments(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Attachment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

// UploadAttachment accepts a multipart form with a single "file" part.
func (h *Handler) UploadAttachment(c echo.Context) error {
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

	a, err := h.svc.AddAttachment(c.Request().Context(), id, fh.Filename, fh.Header.Get(echo.HeaderContentType), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) DownloadAttachment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	attachmentID, err := parseUUIDParam(c, "attachment_id")
	if err != nil {
		return err
	}
	rc, a, err := h.svc.OpenAttachment(c.Request().Context(), id, attachmentID)
	if err != nil {
		return err
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+strconv.Quote(a.FileName))
	return c.Stream(http.StatusOK, a.ContentType, rc)
}
