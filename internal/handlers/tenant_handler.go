package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"authcore/internal/models"
	"authcore/internal/repository"
	"authcore/internal/services"
)

// TenantHandler handles the tenant admin HTTP API
type TenantHandler struct {
	multitenancy *services.MultitenancyService
	userRoles    *services.UserRolesService
}

// NewTenantHandler creates a new tenant handler
func NewTenantHandler(multitenancy *services.MultitenancyService, userRoles *services.UserRolesService) *TenantHandler {
	return &TenantHandler{
		multitenancy: multitenancy,
		userRoles:    userRoles,
	}
}

// identifierFromRequest builds the caller's tenant identifier from query
// params, with the path tenant id (when present) taking precedence.
func identifierFromRequest(c *gin.Context) models.TenantIdentifier {
	tenantID := c.Param("tenantId")
	if tenantID == "" {
		tenantID = c.Query("tenantId")
	}
	return models.NewTenantIdentifier(
		c.Query("connectionUriDomain"),
		c.Query("appId"),
		tenantID,
	)
}

// CreateOrUpdateTenantRequest represents the request to create or update a tenant
type CreateOrUpdateTenantRequest struct {
	ConnectionURIDomain string                       `json:"connectionUriDomain"`
	AppID               string                       `json:"appId"`
	TenantID            string                       `json:"tenantId"`
	EmailPassword       models.EmailPasswordConfig   `json:"emailPassword"`
	ThirdParty          models.ThirdPartyConfig      `json:"thirdParty"`
	Passwordless        models.PasswordlessConfig    `json:"passwordless"`
	CoreConfig          map[string]interface{}       `json:"coreConfig"`
}

// CreateOrUpdateTenant creates a tenant or overwrites its configuration
// @Summary Create or update tenant
// @Description Creates the tenant if absent, otherwise replaces its configuration
// @Tags tenants
// @Accept json
// @Produce json
// @Param request body CreateOrUpdateTenantRequest true "Tenant configuration"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/v1/tenants [put]
func (h *TenantHandler) CreateOrUpdateTenant(c *gin.Context) {
	var req CreateOrUpdateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	cfg := models.TenantConfig{
		Identifier:    models.NewTenantIdentifier(req.ConnectionURIDomain, req.AppID, req.TenantID),
		EmailPassword: req.EmailPassword,
		ThirdParty:    req.ThirdParty,
		Passwordless:  req.Passwordless,
		CoreConfig:    req.CoreConfig,
	}
	if cfg.CoreConfig == nil {
		cfg.CoreConfig = models.CoreConfig{}
	}

	createdNew, err := h.multitenancy.AddOrUpdate(c.Request.Context(), cfg)
	if err != nil {
		h.respondAdminError(c, "Failed to create or update tenant", err)
		return
	}

	SuccessResponse(c, http.StatusOK, "Tenant stored", map[string]interface{}{
		"createdNew": createdNew,
	})
}

// GetTenant returns the configuration of one tenant
// @Summary Get tenant
// @Tags tenants
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/tenants/{tenantId} [get]
func (h *TenantHandler) GetTenant(c *gin.Context) {
	id := identifierFromRequest(c)

	cfg := h.multitenancy.GetTenantInfo(c.Request.Context(), id)
	if cfg == nil {
		ErrorResponse(c, http.StatusNotFound, "Tenant not found", nil)
		return
	}
	SuccessResponse(c, http.StatusOK, "Tenant found", cfg)
}

// ListTenants lists visible tenants at the level implied by the query params:
// appId present lists the app, connectionUriDomain alone lists the domain,
// neither lists the whole core.
// @Summary List tenants
// @Tags tenants
// @Produce json
// @Param connectionUriDomain query string false "Connection URI domain"
// @Param appId query string false "App ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Router /api/v1/tenants [get]
func (h *TenantHandler) ListTenants(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		tenants []models.TenantConfig
		err     error
	)
	switch {
	case c.Query("appId") != "":
		id := models.NewTenantIdentifier(c.Query("connectionUriDomain"), c.Query("appId"), models.DefaultTenantID)
		tenants, err = h.multitenancy.GetAllTenantsForApp(ctx, id)
	case c.Query("connectionUriDomain") != "":
		id := models.NewTenantIdentifier(c.Query("connectionUriDomain"), models.DefaultAppID, models.DefaultTenantID)
		tenants, err = h.multitenancy.GetAllTenantsForConnectionURIDomain(ctx, id)
	default:
		tenants, err = h.multitenancy.GetAllTenants(ctx, models.DefaultTenantIdentifier())
	}
	if err != nil {
		h.respondAdminError(c, "Failed to list tenants", err)
		return
	}

	if tenants == nil {
		tenants = []models.TenantConfig{}
	}
	SuccessResponse(c, http.StatusOK, "Tenants listed", map[string]interface{}{
		"tenants": tenants,
	})
}

// DeleteTenant removes one tenant
// @Summary Delete tenant
// @Tags tenants
// @Produce json
// @Param tenantId path string true "Tenant ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/tenants/{tenantId} [delete]
func (h *TenantHandler) DeleteTenant(c *gin.Context) {
	id := identifierFromRequest(c)

	if err := h.multitenancy.DeleteTenant(c.Request.Context(), id); err != nil {
		h.respondAdminError(c, "Failed to delete tenant", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Tenant deleted", nil)
}

// DeleteApp soft-deletes an app and all its tenants
// @Summary Delete app
// @Tags tenants
// @Produce json
// @Param appId path string true "App ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Router /api/v1/apps/{appId} [delete]
func (h *TenantHandler) DeleteApp(c *gin.Context) {
	id := models.NewTenantIdentifier(c.Query("connectionUriDomain"), c.Param("appId"), models.DefaultTenantID)

	if err := h.multitenancy.DeleteApp(c.Request.Context(), id); err != nil {
		h.respondAdminError(c, "Failed to delete app", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "App deleted", nil)
}

// DeleteConnectionURIDomain soft-deletes a connection URI domain and all its
// apps and tenants
// @Summary Delete connection URI domain
// @Tags tenants
// @Produce json
// @Param domain path string true "Connection URI domain"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Router /api/v1/connection-uri-domains/{domain} [delete]
func (h *TenantHandler) DeleteConnectionURIDomain(c *gin.Context) {
	id := models.NewTenantIdentifier(c.Param("domain"), models.DefaultAppID, models.DefaultTenantID)

	if err := h.multitenancy.DeleteConnectionURIDomain(c.Request.Context(), id); err != nil {
		h.respondAdminError(c, "Failed to delete connection URI domain", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Connection URI domain deleted", nil)
}

// AssociateUserRequest represents the request to attach a user to a tenant
type AssociateUserRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// AssociateUser attaches an existing app user to the path tenant. The source
// tenant comes from the fromTenantId query param and defaults to "public".
// @Summary Associate user with tenant
// @Tags tenants
// @Accept json
// @Produce json
// @Param tenantId path string true "Target tenant ID"
// @Param request body AssociateUserRequest true "User to associate"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/tenants/{tenantId}/users [post]
func (h *TenantHandler) AssociateUser(c *gin.Context) {
	var req AssociateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	source := models.NewTenantIdentifier(c.Query("connectionUriDomain"), c.Query("appId"), c.Query("fromTenantId"))
	if err := h.multitenancy.AddUserIDToTenant(c.Request.Context(), source, req.UserID, c.Param("tenantId")); err != nil {
		h.respondAdminError(c, "Failed to associate user with tenant", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "User associated with tenant", nil)
}

// AssociateRoleRequest represents the request to attach a role to a tenant
type AssociateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// AssociateRole attaches an existing app role to the path tenant
// @Summary Associate role with tenant
// @Tags tenants
// @Accept json
// @Produce json
// @Param tenantId path string true "Target tenant ID"
// @Param request body AssociateRoleRequest true "Role to associate"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/tenants/{tenantId}/roles [post]
func (h *TenantHandler) AssociateRole(c *gin.Context) {
	var req AssociateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	source := models.NewTenantIdentifier(c.Query("connectionUriDomain"), c.Query("appId"), c.Query("fromTenantId"))
	if err := h.multitenancy.AddRoleToTenant(c.Request.Context(), source, req.Role, c.Param("tenantId")); err != nil {
		h.respondAdminError(c, "Failed to associate role with tenant", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Role associated with tenant", nil)
}

// CreateOrUpdateRoleRequest represents the request to upsert an app role
type CreateOrUpdateRoleRequest struct {
	Role        string   `json:"role" binding:"required"`
	Permissions []string `json:"permissions"`
}

// CreateOrUpdateRole creates an app role or replaces its permission set
// @Summary Create or update role
// @Tags roles
// @Accept json
// @Produce json
// @Param request body CreateOrUpdateRoleRequest true "Role definition"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/v1/roles [put]
func (h *TenantHandler) CreateOrUpdateRole(c *gin.Context) {
	var req CreateOrUpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request payload", err)
		return
	}

	id := identifierFromRequest(c)
	createdNew, err := h.userRoles.CreateOrUpdateRole(c.Request.Context(), id, req.Role, req.Permissions)
	if err != nil {
		h.respondAdminError(c, "Failed to create or update role", err)
		return
	}
	SuccessResponse(c, http.StatusOK, "Role stored", map[string]interface{}{
		"createdNewRole": createdNew,
	})
}

// respondAdminError maps service errors onto HTTP statuses
func (h *TenantHandler) respondAdminError(c *gin.Context, message string, err error) {
	switch {
	case services.IsDefaultTenantProtectedError(err),
		services.IsHierarchyViolationError(err):
		ErrorResponse(c, http.StatusForbidden, err.Error(), nil)
	case services.IsSameTenantError(err),
		repository.IsInvalidConfigError(err):
		ErrorResponse(c, http.StatusBadRequest, err.Error(), nil)
	case repository.IsUnknownTenantError(err),
		repository.IsTenantOrAppNotFoundError(err),
		repository.IsUnknownUserIDError(err),
		repository.IsUnknownRoleError(err):
		ErrorResponse(c, http.StatusNotFound, err.Error(), nil)
	case repository.IsDuplicateTenantError(err):
		ErrorResponse(c, http.StatusConflict, err.Error(), nil)
	default:
		ErrorResponse(c, http.StatusInternalServerError, message, err)
	}
}
