package rbac

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/casebridge/casebridge/internal/platform/auth"
)

// Handler exposes the platform's role administration surface.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts role administration behind the supplied guards
// (the enforcement pipeline's roles.manage permission stage).
func (h *Handler) RegisterRoutes(api *echo.Group, guards ...echo.MiddlewareFunc) {
	g := api.Group("", guards...)
	g.POST("/roles/assign", h.AssignRole)
	g.DELETE("/roles/:userId/:roleName", h.RemoveRole)
	g.GET("/users/:userId/roles", h.GetUserRoles)
	g.GET("/users/:userId/permissions", h.GetUserPermissions)
}

type assignRoleRequest struct {
	UserID    uuid.UUID  `json:"userId"`
	RoleName  string     `json:"roleName"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (h *Handler) AssignRole(c echo.Context) error {
	var req assignRoleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.UserID == uuid.Nil || req.RoleName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId and roleName are required")
	}

	var assignedBy *uuid.UUID
	if actor := auth.ActorFromContext(c.Request().Context()); actor != nil {
		id := actor.ActorID()
		assignedBy = &id
	}

	err := h.svc.AssignRole(c.Request().Context(), req.UserID, req.RoleName, assignedBy, req.ExpiresAt)
	if errors.Is(err, ErrRoleNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "role not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to assign role")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":  "role assigned",
		"userId":   req.UserID,
		"roleName": req.RoleName,
	})
}

func (h *Handler) RemoveRole(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	roleName := c.Param("roleName")

	removed, err := h.svc.RemoveRole(c.Request().Context(), userID, roleName)
	if errors.Is(err, ErrRoleNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "role not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to remove role")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"removed": removed,
	})
}

func (h *Handler) GetUserRoles(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	roles, err := h.svc.GetUserRoles(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load roles")
	}
	if roles == nil {
		roles = []*UserRole{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"roles": roles})
}

func (h *Handler) GetUserPermissions(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}
	perms, err := h.svc.GetUserPermissions(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load permissions")
	}
	if perms == nil {
		perms = []*Permission{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"permissions": perms})
}
