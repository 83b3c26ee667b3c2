package claims

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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

// AnalyzePath is the route of the long-running analysis call.
const AnalyzePath = "/api/v1/claims/:id/analyze"

// RegisterRoutes mounts the claim endpoints. ai is applied to the analysis
// route.
func (h *Handler) RegisterRoutes(api *echo.Group, ai ...echo.MiddlewareFunc) {
	hospital := auth.RequireRole(auth.RoleHospital)
	insurer := auth.RequireRole(auth.RoleInsurer)
	either := auth.RequireRole(auth.RoleHospital, auth.RoleInsurer)

	g := api.Group("/claims")
	g.POST("", h.Create, hospital)
	g.GET("", h.List, either)
	g.GET("/:id", h.Get, either)
	g.PUT("/:id", h.Update, hospital)
	g.DELETE("/:id", h.Delete, auth.RequireRole(auth.RoleHospital, auth.RoleAdmin))
	g.POST("/:id/documents", h.UploadDocument, hospital)
	g.POST("/:id/analyze", h.Analyze, append([]echo.MiddlewareFunc{either}, ai...)...)
	g.POST("/:id/submit", h.Submit, hospital)
	g.POST("/:id/decision", h.Decide, insurer)
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

func (h *Handler) Create(c echo.Context) error {
	var req CreateClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	claim, err := h.svc.Create(c.Request().Context(), identity(c), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), identity(c), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	detail, err := h.svc.GetDetail(c.Request().Context(), identity(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	claim, err := h.svc.Update(c.Request().Context(), identity(c), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), identity(c), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UploadDocument accepts multipart fields declared_name and file.
func (h *Handler) UploadDocument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	declared := c.FormValue("declared_name")
	if declared == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "declared_name is required")
	}
	file, err := blobstore.FormFile(c, "file", h.maxUpload)
	switch {
	case errors.Is(err, blobstore.ErrNoFile):
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.UploadDocument(c.Request().Context(), identity(c), id, declared, *file)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, claim)
}

func (h *Handler) Analyze(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	resp, err := h.svc.Analyze(c.Request().Context(), identity(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Submit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	claim, err := h.svc.SubmitForReview(c.Request().Context(), identity(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}

func (h *Handler) Decide(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	claim, err := h.svc.Decide(c.Request().Context(), identity(c), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, claim)
}
