package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"authcore/internal/models"
	"authcore/internal/redis"
)

// RoleStore is the role slice of a tenant's user-pool storage.
type RoleStore interface {
	CreateOrUpdateRole(ctx context.Context, id models.TenantIdentifier, role string, permissions []string) (bool, error)
	GetPermissionsForRole(ctx context.Context, id models.TenantIdentifier, role string) ([]string, error)
}

// RoleRouter resolves the role store hosting a given tenant.
type RoleRouter interface {
	ForTenant(id models.TenantIdentifier) RoleStore
}

const rolePermissionsCacheTTL = 5 * time.Minute

// UserRolesService serves role and permission lookups against the tenant's
// user pool, with an optional read-through Redis cache.
type UserRolesService struct {
	pools RoleRouter
	log   *logrus.Logger

	cache *redis.Client
}

// NewUserRolesService creates the user-roles service.
func NewUserRolesService(pools RoleRouter, log *logrus.Logger) *UserRolesService {
	return &UserRolesService{
		pools: pools,
		log:   log,
	}
}

// SetCache wires the Redis cache. Optional; without it every lookup hits the
// user pool directly.
func (s *UserRolesService) SetCache(cache *redis.Client) {
	s.cache = cache
}

// GetPermissionsForRole returns the permissions granted to an app role.
// Returns repository.UnknownRoleError when the role does not exist for the
// tenant's app.
func (s *UserRolesService) GetPermissionsForRole(ctx context.Context, id models.TenantIdentifier, role string) ([]string, error) {
	id = models.NewTenantIdentifier(id.ConnectionURIDomain, id.AppID, id.TenantID)

	if s.cache != nil {
		permissions, found, err := s.cache.GetCachedRolePermissions(ctx, id.AppID, role)
		if err != nil {
			s.log.WithError(err).Warn("role permissions cache read failed, falling back to storage")
		} else if found {
			return permissions, nil
		}
	}

	permissions, err := s.pools.ForTenant(id).GetPermissionsForRole(ctx, id, role)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheRolePermissions(ctx, id.AppID, role, permissions, rolePermissionsCacheTTL); err != nil {
			s.log.WithError(err).Warn("role permissions cache write failed")
		}
	}
	return permissions, nil
}

// CreateOrUpdateRole creates the role for the tenant's app or replaces its
// permission set. Returns true iff the role was newly created.
func (s *UserRolesService) CreateOrUpdateRole(ctx context.Context, id models.TenantIdentifier, role string, permissions []string) (bool, error) {
	id = models.NewTenantIdentifier(id.ConnectionURIDomain, id.AppID, id.TenantID)

	createdNew, err := s.pools.ForTenant(id).CreateOrUpdateRole(ctx, id, role, permissions)
	if err != nil {
		return false, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateRolePermissions(ctx, id.AppID, role); err != nil {
			s.log.WithError(err).Warn("role permissions cache invalidation failed")
		}
	}
	return createdNew, nil
}
