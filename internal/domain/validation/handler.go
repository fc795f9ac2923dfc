package validation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clincheck/clincheck/internal/domain/rules"
	"github.com/clincheck/clincheck/internal/platform/fhir"
)

// RuleSource supplies the saved rule set for a project.
type RuleSource interface {
	RulesForProject(ctx context.Context, projectID uuid.UUID) ([]rules.Rule, error)
}

type Handler struct {
	svc   *Service
	rules RuleSource
}

func NewHandler(svc *Service, ruleSource RuleSource) *Handler {
	return &Handler{svc: svc, rules: ruleSource}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/projects/:id/$validate", h.ValidateRecord)
	api.POST("/validate", h.ValidateAdHoc)
}

// ValidateRecord validates a posted bundle against the project's saved
// rule set.
func (h *Handler) ValidateRecord(c echo.Context) error {
	projectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid project id")
	}
	rec, err := readRecord(c)
	if err != nil {
		return err
	}
	ruleSet, err := h.rules.RulesForProject(c.Request().Context(), projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	return h.respond(c, rec, ruleSet)
}

type adHocRequest struct {
	Bundle json.RawMessage `json:"bundle"`
	Rules  []rules.Rule    `json:"rules"`
}

// ValidateAdHoc validates a bundle against rules carried in the request
// body, without touching saved state.
func (h *Handler) ValidateAdHoc(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	var req adHocRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rec, err := fhir.ParseRecord(req.Bundle)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bundle: "+err.Error())
	}
	return h.respond(c, rec, req.Rules)
}

func (h *Handler) respond(c echo.Context, rec *fhir.Record, ruleSet []rules.Rule) error {
	report, err := h.svc.Validate(c.Request().Context(), rec, ruleSet)
	if err != nil {
		var cfg *rules.ConfigError
		if errors.As(err, &cfg) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, cfg.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func readRecord(c echo.Context) (*fhir.Record, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	rec, err := fhir.ParseRecord(body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid bundle: "+err.Error())
	}
	return rec, nil
}
