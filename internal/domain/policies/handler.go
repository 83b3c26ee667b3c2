package policies

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/platform/auth"
	"github.com/claimdesk/claimdesk/internal/platform/blobstore"
	"github.com/claimdesk/claimdesk/pkg/apperr"
	"github.com/claimdesk/claimdesk/pkg/pagination"
)

type Handler struct {
	svc       *Service
	maxUpload int64
}

func NewHandler(svc *Service, maxUpload int64) *Handler {
	return &Handler{svc: svc, maxUpload: maxUpload}
}

// RegisterRoutes mounts the policy endpoints. ai is applied to routes that
// call the generative backend.
func (h *Handler) RegisterRoutes(api *echo.Group, ai ...echo.MiddlewareFunc) {
	insurer := api.Group("/insurer/policies", auth.RequireRole(auth.RoleInsurer))
	insurer.POST("", h.CreateInsurerPolicy)
	insurer.GET("", h.ListInsurerPolicies)
	insurer.PUT("/:id/hospitals", h.LinkHospitals)

	hospital := api.Group("/hospital/policies", auth.RequireRole(auth.RoleHospital))
	hospital.POST("", h.CreateHospitalPolicy, ai...)
	hospital.GET("", h.ListHospitalPolicies)

	shared := api.Group("/policies", auth.RequireRole(auth.RoleHospital, auth.RoleInsurer))
	shared.POST("/suggest", h.Suggest, ai...)
	shared.GET("/:id", h.GetPolicy)
	shared.PUT("/:id", h.UpdatePolicy)
	shared.PUT("/:id/finalize", h.FinalizePolicy, auth.RequireRole(auth.RoleHospital))
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.Message(err))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func identity(c echo.Context) auth.Identity {
	id, _ := auth.IdentityFromContext(c.Request().Context())
	return id
}

func uploadError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrNoFile):
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

// -- Insurer Handlers --

func (h *Handler) CreateInsurerPolicy(c echo.Context) error {
	var req CreateInsurerPolicyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	p, err := h.svc.CreateInsurerPolicy(c.Request().Context(), identity(c), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListInsurerPolicies(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForInsurer(c.Request().Context(), identity(c).InsurerID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNil(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) LinkHospitals(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req LinkHospitalsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	p, err := h.svc.LinkHospitals(c.Request().Context(), identity(c), id, req.HospitalIDs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Hospital Handlers --

// CreateHospitalPolicy accepts multipart fields name, file and optionally
// insurer_id.
func (h *Handler) CreateHospitalPolicy(c echo.Context) error {
	name := strings.TrimSpace(c.FormValue("name"))
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	var insurerID *uuid.UUID
	if raw := c.FormValue("insurer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid insurer_id")
		}
		insurerID = &id
	}
	file, err := blobstore.FormFile(c, "file", h.maxUpload)
	if err != nil {
		return uploadError(err)
	}
	p, err := h.svc.CreateHospitalPolicy(c.Request().Context(), identity(c), name, insurerID, *file)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListHospitalPolicies(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForHospital(c.Request().Context(), identity(c).HospitalID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNil(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) FinalizePolicy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var docs []documents.RequiredDocument
	if err := c.Bind(&docs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	for _, d := range docs {
		if err := c.Validate(&d); err != nil {
			return err
		}
	}
	p, err := h.svc.FinalizePolicy(c.Request().Context(), identity(c), id, docs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Shared Handlers --

func (h *Handler) GetPolicy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), identity(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePolicy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdatePolicyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Update(c.Request().Context(), identity(c), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// Suggest accepts either a multipart file or a text field, as form data or
// as a JSON body {"text": "..."}.
func (h *Handler) Suggest(c echo.Context) error {
	ctx := c.Request().Context()
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var body struct {
			Text string `json:"text"`
		}
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if strings.TrimSpace(body.Text) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "file or text is required")
		}
		return c.JSON(http.StatusOK, h.svc.Suggest(ctx, nil, body.Text))
	}

	file, err := blobstore.FormFile(c, "file", h.maxUpload)
	if err != nil && !errors.Is(err, blobstore.ErrNoFile) {
		return uploadError(err)
	}
	text := c.FormValue("text")
	if file == nil && strings.TrimSpace(text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file or text is required")
	}
	return c.JSON(http.StatusOK, h.svc.Suggest(ctx, file, text))
}

func nonNil(items []*Policy) []*Policy {
	if items == nil {
		return []*Policy{}
	}
	return items
}
