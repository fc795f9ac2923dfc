package project

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clincheck/clincheck/internal/domain/coverage"
	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/internal/platform/fhir"
	"github.com/clincheck/clincheck/pkg/pagination"
)

type Handler struct {
	svc     *Service
	schemas *fhir.SchemaRegistry
}

func NewHandler(svc *Service, schemas *fhir.SchemaRegistry) *Handler {
	return &Handler{svc: svc, schemas: schemas}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/projects", h.CreateProject)
	api.GET("/projects", h.ListProjects)
	api.GET("/projects/:id", h.GetProject)
	api.DELETE("/projects/:id", h.DeleteProject)

	api.GET("/projects/:id/rules", h.GetRules)
	api.POST("/projects/:id/rules", h.SaveRules)
	api.GET("/projects/:id/coverage", h.Coverage)
}

func (h *Handler) CreateProject(c echo.Context) error {
	var p Project
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateProject(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetProject(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProjects(c echo.Context) error {
	page := pagination.FromContext(c)
	projects, total, err := h.svc.ListProjects(c.Request().Context(), page)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(projects, total, page))
}

func (h *Handler) DeleteProject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteProject(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetRules(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ruleSet, err := h.svc.RulesForProject(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return c.JSON(http.StatusOK, ruleSet)
}

// SaveRules replaces the project's rule set through the governance gate.
// A blocked batch returns 422 with the full per-rule review so the author
// can see every verdict, not only the blocking one.
func (h *Handler) SaveRules(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var ruleSet []rules.Rule
	if err := c.Bind(&ruleSet); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.SaveRules(c.Request().Context(), id, ruleSet)
	if err != nil {
		if errors.Is(err, ErrRuleSetBlocked) {
			return c.JSON(http.StatusUnprocessableEntity, result)
		}
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// Coverage reports rule coverage over the project's resource-type schema.
func (h *Handler) Coverage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetProject(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	schema, ok := h.schemas.SchemaFor(p.ResourceType)
	if !ok {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no schema for resource type "+p.ResourceType)
	}
	ruleSet, err := h.svc.RulesForProject(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, coverage.Analyze(schema, ruleSet, nil))
}
