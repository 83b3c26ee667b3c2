package organizations

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/claimdesk/claimdesk/internal/platform/auth"
	"github.com/claimdesk/claimdesk/pkg/apperr"
	"github.com/claimdesk/claimdesk/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Onboarding – admin only
	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/hospitals", h.CreateHospital)
	admin.GET("/hospitals", h.ListHospitals)
	admin.GET("/hospitals/:id", h.GetHospital)
	admin.DELETE("/hospitals/:id", h.DeleteHospital)
	admin.POST("/insurance-companies", h.CreateInsurer)
	admin.GET("/insurance-companies", h.ListInsurers)
	admin.GET("/insurance-companies/:id", h.GetInsurer)
	admin.DELETE("/insurance-companies/:id", h.DeleteInsurer)

	// Network management – insurer
	insurer := api.Group("/insurer", auth.RequireRole(auth.RoleInsurer))
	insurer.GET("/hospitals", h.ListHospitals)
	insurer.GET("/network", h.GetNetwork)
	insurer.POST("/network", h.LinkHospitals)
	insurer.DELETE("/network/:hospital_id", h.UnlinkHospital)

	hospital := api.Group("/hospital", auth.RequireRole(auth.RoleHospital))
	hospital.GET("/insurers", h.ListLinkedInsurers)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.Message(err))
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func identity(c echo.Context) auth.Identity {
	id, _ := auth.IdentityFromContext(c.Request().Context())
	return id
}

// -- Hospital Handlers --

func (h *Handler) CreateHospital(c echo.Context) error {
	var req CreateHospitalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	hosp, err := h.svc.CreateHospital(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, hosp)
}

func (h *Handler) GetHospital(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	hosp, err := h.svc.GetHospital(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hosp)
}

func (h *Handler) ListHospitals(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListHospitals(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) DeleteHospital(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteHospital(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Insurance Company Handlers --

func (h *Handler) CreateInsurer(c echo.Context) error {
	var req CreateInsurerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ic, err := h.svc.CreateInsurer(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ic)
}

func (h *Handler) GetInsurer(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ic, err := h.svc.GetInsurer(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ic)
}

func (h *Handler) ListInsurers(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListInsurers(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) DeleteInsurer(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteInsurer(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Network Handlers --

func (h *Handler) GetNetwork(c echo.Context) error {
	items, err := h.svc.HospitalsForInsurer(c.Request().Context(), identity(c).InsurerID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Hospital{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) LinkHospitals(c echo.Context) error {
	var req LinkHospitalsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	insurerID := identity(c).InsurerID
	if err := h.svc.LinkHospitals(c.Request().Context(), insurerID, req.HospitalIDs); err != nil {
		return httpError(err)
	}
	return h.GetNetwork(c)
}

func (h *Handler) UnlinkHospital(c echo.Context) error {
	hid, err := parseID(c, "hospital_id")
	if err != nil {
		return err
	}
	if err := h.svc.UnlinkHospital(c.Request().Context(), identity(c).InsurerID, hid); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListLinkedInsurers(c echo.Context) error {
	items, err := h.svc.InsurersForHospital(c.Request().Context(), identity(c).HospitalID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*InsuranceCompany{}
	}
	return c.JSON(http.StatusOK, items)
}
