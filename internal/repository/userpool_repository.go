package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"authcore/internal/models"
)

// UserPoolRepository operates on the physical database hosting one user pool.
// One instance exists per open pool handle; the storage manager hands out the
// right one for a given tenant identifier.
type UserPoolRepository struct {
	db *gorm.DB
}

// NewUserPoolRepository creates a new user pool repository
func NewUserPoolRepository(db *gorm.DB) *UserPoolRepository {
	return &UserPoolRepository{db: db}
}

// AddTenantIDInUserPool records membership of a tenant inside this pool.
// Idempotent. For non-default tenants the pool must already know the app's
// default tenant; otherwise the parent was deleted concurrently and
// TenantOrAppNotFoundError is returned.
func (r *UserPoolRepository) AddTenantIDInUserPool(ctx context.Context, id models.TenantIdentifier) error {
	if !id.IsDefaultTenant() {
		parent := id.WithTenantID(models.DefaultTenantID)
		known, err := r.tenantExists(ctx, parent)
		if err != nil {
			return err
		}
		if !known {
			return &TenantOrAppNotFoundError{Identifier: id}
		}
	}

	row := models.PoolTenant{
		ConnectionURIDomain: id.ConnectionURIDomain,
		AppID:               id.AppID,
		TenantID:            id.TenantID,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil && !isDuplicateKey(err) {
		return storageErr("add tenant in user pool", err)
	}
	return nil
}

// DeleteTenantIDInUserPool removes a tenant's membership row. Returns
// UnknownTenantError when the row is absent so callers can distinguish a
// repeat deletion.
func (r *UserPoolRepository) DeleteTenantIDInUserPool(ctx context.Context, id models.TenantIdentifier) error {
	res := r.db.WithContext(ctx).
		Where("connection_uri_domain = ? AND app_id = ? AND tenant_id = ?",
			id.ConnectionURIDomain, id.AppID, id.TenantID).
		Delete(&models.PoolTenant{})
	if res.Error != nil {
		return storageErr("delete tenant in user pool", res.Error)
	}
	if res.RowsAffected == 0 {
		return &UnknownTenantError{Identifier: id}
	}
	return nil
}

// CreateUser inserts a user row for an app. Idempotent on (appId, userId).
func (r *UserPoolRepository) CreateUser(ctx context.Context, id models.TenantIdentifier, userID, email string) error {
	row := models.PoolUser{
		AppID:  id.AppID,
		UserID: userID,
		Email:  email,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil && !isDuplicateKey(err) {
		return storageErr("create user", err)
	}
	return nil
}

// AddUserIDToTenant associates an existing user of the app with the target
// tenant. Returns UnknownUserIDError when the user is absent and
// TenantOrAppNotFoundError when the target tenant is not in this pool.
func (r *UserPoolRepository) AddUserIDToTenant(ctx context.Context, target models.TenantIdentifier, userID string) error {
	var user models.PoolUser
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND user_id = ?", target.AppID, userID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &UnknownUserIDError{UserID: userID}
	}
	if err != nil {
		return storageErr("lookup user", err)
	}

	known, err := r.tenantExists(ctx, target)
	if err != nil {
		return err
	}
	if !known {
		return &TenantOrAppNotFoundError{Identifier: target}
	}

	row := models.PoolUserTenant{
		ConnectionURIDomain: target.ConnectionURIDomain,
		AppID:               target.AppID,
		TenantID:            target.TenantID,
		UserID:              userID,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil && !isDuplicateKey(err) {
		return storageErr("add user to tenant", err)
	}
	return nil
}

// AddRoleToTenant associates an existing app role with the target tenant.
// Returns UnknownRoleError when the role was never created for the app.
func (r *UserPoolRepository) AddRoleToTenant(ctx context.Context, target models.TenantIdentifier, role string) error {
	var existing models.PoolRole
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND role = ?", target.AppID, role).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &UnknownRoleError{Role: role}
	}
	if err != nil {
		return storageErr("lookup role", err)
	}

	known, err := r.tenantExists(ctx, target)
	if err != nil {
		return err
	}
	if !known {
		return &TenantOrAppNotFoundError{Identifier: target}
	}

	row := models.PoolTenantRole{
		ConnectionURIDomain: target.ConnectionURIDomain,
		AppID:               target.AppID,
		TenantID:            target.TenantID,
		Role:                role,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil && !isDuplicateKey(err) {
		return storageErr("add role to tenant", err)
	}
	return nil
}

// CreateOrUpdateRole upserts an app role and replaces its permission set.
// Reports whether the role was newly created.
func (r *UserPoolRepository) CreateOrUpdateRole(ctx context.Context, id models.TenantIdentifier, role string, permissions []string) (bool, error) {
	createdNew := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PoolRole
		err := tx.Where("app_id = ? AND role = ?", id.AppID, role).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			createdNew = true
			if err := tx.Create(&models.PoolRole{AppID: id.AppID, Role: role}).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := tx.Where("app_id = ? AND role = ?", id.AppID, role).
			Delete(&models.PoolRolePermission{}).Error; err != nil {
			return err
		}
		for _, permission := range permissions {
			row := models.PoolRolePermission{AppID: id.AppID, Role: role, Permission: permission}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, storageErr("create or update role", err)
	}
	return createdNew, nil
}

// GetPermissionsForRole lists the permissions of an app role. Returns
// UnknownRoleError when the role does not exist.
func (r *UserPoolRepository) GetPermissionsForRole(ctx context.Context, id models.TenantIdentifier, role string) ([]string, error) {
	var existing models.PoolRole
	err := r.db.WithContext(ctx).
		Where("app_id = ? AND role = ?", id.AppID, role).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &UnknownRoleError{Role: role}
	}
	if err != nil {
		return nil, storageErr("lookup role", err)
	}

	var permissions []string
	err = r.db.WithContext(ctx).
		Model(&models.PoolRolePermission{}).
		Where("app_id = ? AND role = ?", id.AppID, role).
		Order("permission").
		Pluck("permission", &permissions).Error
	if err != nil {
		return nil, storageErr("list role permissions", err)
	}
	return permissions, nil
}

func (r *UserPoolRepository) tenantExists(ctx context.Context, id models.TenantIdentifier) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PoolTenant{}).
		Where("connection_uri_domain = ? AND app_id = ? AND tenant_id = ?",
			id.ConnectionURIDomain, id.AppID, id.TenantID).
		Count(&count).Error
	if err != nil {
		return false, storageErr("lookup tenant in user pool", err)
	}
	return count > 0, nil
}
