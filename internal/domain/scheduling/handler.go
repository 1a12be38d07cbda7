package scheduling

import (
	"net/http"
	"time"

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
	// Read endpoints – every staff role
	readGroup := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleSupervisor, auth.RoleFrontDesk, auth.RoleBilling))
	readGroup.GET("/schedules", h.ListSchedules)
	readGroup.GET("/schedules/:id", h.GetSchedule)
	readGroup.GET("/schedule-exceptions", h.ListExceptions)
	readGroup.GET("/appointment-types", h.ListAppointmentTypes)
	readGroup.GET("/appointment-types/:id", h.GetAppointmentType)
	readGroup.GET("/availability", h.GetAvailability)
	readGroup.GET("/appointments", h.ListAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)

	// Write endpoints – clinical and front desk staff
	writeGroup := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleSupervisor, auth.RoleFrontDesk))
	writeGroup.POST("/schedules", h.CreateSchedule)
	writeGroup.PUT("/schedules/:id", h.UpdateSchedule)
	writeGroup.DELETE("/schedules/:id", h.DeleteSchedule)
	writeGroup.POST("/schedule-exceptions", h.CreateException)
	writeGroup.DELETE("/schedule-exceptions/:id", h.DeleteException)
	writeGroup.POST("/appointments", h.BookAppointment)
	writeGroup.PUT("/appointments/:id/reschedule", h.RescheduleAppointment)
	writeGroup.POST("/appointments/:id/cancel", h.CancelAppointment)
	writeGroup.PATCH("/appointments/:id/status", h.UpdateStatus)

	// Appointment type catalogue – admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/appointment-types", h.CreateAppointmentType)
	adminGroup.PUT("/appointment-types/:id", h.UpdateAppointmentType)
	adminGroup.DELETE("/appointment-types/:id", h.DeactivateAppointmentType)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.FieldErrors(map[string]string{name: "must be a UUID"})
	}
	return &id, nil
}

func queryDate(c echo.Context, name string) (Date, error) {
	d, err := ParseDate(c.QueryParam(name))
	if err != nil {
		return Date{}, apperr.FieldErrors(map[string]string{name: "must be a date in YYYY-MM-DD format"})
	}
	return d, nil
}

// -- Schedule Handlers --

// scheduleRequest accepts effective dates as YYYY-MM-DD.
type scheduleRequest struct {
	ClinicianID            uuid.UUID     `json:"clinician_id"`
	TimeZone               string        `json:"time_zone"`
	WeeklyTemplate         []DayTemplate `json:"weekly_template"`
	MaxAppointmentsPerDay  int           `json:"max_appointments_per_day"`
	MaxAppointmentsPerWeek int           `json:"max_appointments_per_week"`
	BufferMinutes          int           `json:"buffer_minutes"`
	AcceptedLocations      []string      `json:"accepted_locations"`
	EffectiveFrom          string        `json:"effective_from"`
	EffectiveTo            string        `json:"effective_to,omitempty"`
}

func (r scheduleRequest) toSchedule() (*ClinicianSchedule, error) {
	sched := &ClinicianSchedule{
		ClinicianID:            r.ClinicianID,
		TimeZone:               r.TimeZone,
		WeeklyTemplate:         r.WeeklyTemplate,
		MaxAppointmentsPerDay:  r.MaxAppointmentsPerDay,
		MaxAppointmentsPerWeek: r.MaxAppointmentsPerWeek,
		BufferMinutes:          r.BufferMinutes,
		AcceptedLocations:      r.AcceptedLocations,
	}
	from, err := ParseDate(r.EffectiveFrom)
	if err != nil {
		return nil, apperr.FieldErrors(map[string]string{"effective_from": "must be a date in YYYY-MM-DD format"})
	}
	sched.EffectiveFrom = from.In(time.UTC)
	if r.EffectiveTo != "" {
		to, err := ParseDate(r.EffectiveTo)
		if err != nil {
			return nil, apperr.FieldErrors(map[string]string{"effective_to": "must be a date in YYYY-MM-DD format"})
		}
		t := to.In(time.UTC)
		sched.EffectiveTo = &t
	}
	return sched, nil
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sched, err := req.toSchedule()
	if err != nil {
		return err
	}
	if err := h.svc.CreateSchedule(c.Request().Context(), sched); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sched)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sched, err := h.svc.GetSchedule(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sched, err := req.toSchedule()
	if err != nil {
		return err
	}
	sched.ID = id
	if err := h.svc.UpdateSchedule(c.Request().Context(), sched); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSchedule(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	clinicianID, err := queryUUID(c, "clinician_id")
	if err != nil {
		return err
	}
	if clinicianID == nil {
		return apperr.FieldErrors(map[string]string{"clinician_id": "is required"})
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSchedules(c.Request().Context(), *clinicianID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

// -- Exception Handlers --

type exceptionRequest struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	AllDay      bool      `json:"all_day"`
	StartTime   string    `json:"start_time,omitempty"`
	EndTime     string    `json:"end_time,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

func (h *Handler) CreateException(c echo.Context) error {
	var req exceptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	start, err := ParseDate(req.StartDate)
	if err != nil {
		return apperr.FieldErrors(map[string]string{"start_date": "must be a date in YYYY-MM-DD format"})
	}
	end := start
	if req.EndDate != "" {
		if end, err = ParseDate(req.EndDate); err != nil {
			return apperr.FieldErrors(map[string]string{"end_date": "must be a date in YYYY-MM-DD format"})
		}
	}
	ex := &ScheduleException{
		ClinicianID: req.ClinicianID,
		StartDate:   start.In(time.UTC),
		EndDate:     end.In(time.UTC),
		AllDay:      req.AllDay,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Reason:      req.Reason,
	}
	if err := h.svc.CreateException(c.Request().Context(), ex); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ex)
}

func (h *Handler) DeleteException(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteException(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListExceptions(c echo.Context) error {
	clinicianID, err := queryUUID(c, "clinician_id")
	if err != nil {
		return err
	}
	if clinicianID == nil {
		return apperr.FieldErrors(map[string]string{"clinician_id": "is required"})
	}
	from, err := queryDate(c, "from")
	if err != nil {
		return err
	}
	to, err := queryDate(c, "to")
	if err != nil {
		return err
	}
	items, err := h.svc.ListExceptions(c.Request().Context(), *clinicianID, from, to)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*ScheduleException{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

// -- Appointment Type Handlers --

func (h *Handler) CreateAppointmentType(c echo.Context) error {
	var t AppointmentType
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateAppointmentType(c.Request().Context(), &t); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetAppointmentType(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetAppointmentType(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateAppointmentType(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var t AppointmentType
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t.ID = id
	if err := h.svc.UpdateAppointmentType(c.Request().Context(), &t); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeactivateAppointmentType(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateAppointmentType(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListAppointmentTypes(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := TypeFilter{
		ActiveOnly:     c.QueryParam("include_inactive") != "true",
		OnlineBookable: c.QueryParam("online_bookable") == "true",
	}
	items, total, err := h.svc.ListAppointmentTypes(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}

// -- Availability & Appointment Handlers --

// AvailabilityFromQuery reads clinician_id, appointment_type_id, from, to and
// location query parameters.
func AvailabilityFromQuery(c echo.Context) (AvailabilityRequest, error) {
	var req AvailabilityRequest
	clinicianID, err := queryUUID(c, "clinician_id")
	if err != nil {
		return req, err
	}
	typeID, err := queryUUID(c, "appointment_type_id")
	if err != nil {
		return req, err
	}
	if clinicianID != nil {
		req.ClinicianID = *clinicianID
	}
	if typeID != nil {
		req.AppointmentTypeID = *typeID
	}
	if req.From, err = queryDate(c, "from"); err != nil {
		return req, err
	}
	if req.To, err = queryDate(c, "to"); err != nil {
		return req, err
	}
	req.Location = c.QueryParam("location")
	return req, nil
}

func (h *Handler) GetAvailability(c echo.Context) error {
	req, err := AvailabilityFromQuery(c)
	if err != nil {
		return err
	}
	slots, err := h.svc.Availability(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": slots})
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Source = SourceStaff
	a, err := h.svc.BookAppointment(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.RescheduleAppointment(c.Request().Context(), id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.CancelAppointment(c.Request().Context(), id, body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	var f AppointmentFilter
	var err error
	if f.ClinicianID, err = queryUUID(c, "clinician_id"); err != nil {
		return err
	}
	if f.ClientID, err = queryUUID(c, "client_id"); err != nil {
		return err
	}
	f.Status = c.QueryParam("status")
	if c.QueryParam("from") != "" {
		d, err := queryDate(c, "from")
		if err != nil {
			return err
		}
		from := d.In(time.UTC)
		f.From = &from
	}
	if c.QueryParam("to") != "" {
		d, err := queryDate(c, "to")
		if err != nil {
			return err
		}
		to := d.AddDays(1).In(time.UTC)
		f.To = &to
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}
