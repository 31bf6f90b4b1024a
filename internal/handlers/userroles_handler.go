package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"authcore/internal/repository"
	"authcore/internal/services"
)

// UserRolesHandler serves the core-compatible role recipe endpoints.
type UserRolesHandler struct {
	userRoles *services.UserRolesService
}

// NewUserRolesHandler creates a new user roles handler
func NewUserRolesHandler(userRoles *services.UserRolesService) *UserRolesHandler {
	return &UserRolesHandler{
		userRoles: userRoles,
	}
}

// GetPermissionsForRole returns the permissions of an app role in the core
// wire format: unknown roles are a status payload with HTTP 200, only a
// missing role param is a client error.
// @Summary Get permissions for role
// @Tags roles
// @Produce json
// @Param role query string true "Role name"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /recipe/role/permissions [get]
func (h *UserRolesHandler) GetPermissionsForRole(c *gin.Context) {
	role := strings.TrimSpace(c.Query("role"))
	if role == "" {
		ErrorResponse(c, http.StatusBadRequest, "Field name 'role' is missing or has an invalid value", nil)
		return
	}

	id := identifierFromRequest(c)
	permissions, err := h.userRoles.GetPermissionsForRole(c.Request.Context(), id, role)
	if err != nil {
		if repository.IsUnknownRoleError(err) {
			c.JSON(http.StatusOK, gin.H{
				"status": "UNKNOWN_ROLE_ERROR",
			})
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "Failed to fetch permissions", err)
		return
	}

	if permissions == nil {
		permissions = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "OK",
		"permissions": permissions,
	})
}
