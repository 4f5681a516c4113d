package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/casebridge/casebridge/pkg/pagination"
)

// Handler exposes the read side of the audit trail for breach investigation.
// Writes have no HTTP surface; entries are only appended by the platform.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the investigation endpoints. phiGuards wrap the
// per-patient access log (permission + consent stages); adminGuards wrap the
// platform-wide aggregations.
func (h *Handler) RegisterRoutes(api *echo.Group, phiGuards []echo.MiddlewareFunc, adminGuards []echo.MiddlewareFunc) {
	api.GET("/audit/phi-access/:patientId", h.GetPHIAccessLogs, phiGuards...)
	api.GET("/audit/failed-logins", h.GetFailedLogins, adminGuards...)
	api.GET("/audit/suspicious-activity", h.GetSuspiciousActivity, adminGuards...)
}

func (h *Handler) GetPHIAccessLogs(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	pg := pagination.FromContext(c)
	q := PHIAccessQuery{Limit: pg.Limit, Offset: pg.Offset}
	if raw := c.QueryParam("startDate"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid startDate")
		}
		q.Start = &t
	}
	if raw := c.QueryParam("endDate"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid endDate")
		}
		q.End = &t
	}

	items, total, err := h.svc.GetPHIAccessLogs(c.Request().Context(), patientID, q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load access logs")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, q.Limit, q.Offset))
}

func (h *Handler) GetFailedLogins(c echo.Context) error {
	since := time.Now().Add(-24 * time.Hour)
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since")
		}
		since = t
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	groups, err := h.svc.GetFailedLoginAttempts(c.Request().Context(), since, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to aggregate login attempts")
	}
	if groups == nil {
		groups = []*FailedLoginGroup{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"since":  since,
		"groups": groups,
	})
}

func (h *Handler) GetSuspiciousActivity(c echo.Context) error {
	since := time.Now().Add(-24 * time.Hour)
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since")
		}
		since = t
	}
	threshold, _ := strconv.Atoi(c.QueryParam("threshold"))

	actors, err := h.svc.DetectSuspiciousActivity(c.Request().Context(), since, threshold)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to aggregate access activity")
	}
	if actors == nil {
		actors = []*SuspiciousActor{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"since":  since,
		"actors": actors,
	})
}
