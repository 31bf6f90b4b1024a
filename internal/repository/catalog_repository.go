package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"authcore/internal/models"
)

// CatalogRepository is the gateway to the shared tenant catalog. All methods
// operate on the shared database; per-tenant stores are handled by
// UserPoolRepository.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListAllTenants returns every catalog row, including soft-deleted ones.
// Callers that need the visible set filter on TenantConfig.IsVisible.
func (r *CatalogRepository) ListAllTenants(ctx context.Context) ([]models.TenantConfig, error) {
	var rows []models.TenantRow
	if err := r.db.WithContext(ctx).
		Order("connection_uri_domain, app_id, tenant_id").
		Find(&rows).Error; err != nil {
		return nil, storageErr("list tenants", err)
	}

	configs := make([]models.TenantConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := row.ToConfig()
		if err != nil {
			return nil, storageErr("decode tenant row", err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// CreateTenant inserts a new catalog row. Returns DuplicateTenantError on an
// identifier collision and InvalidConfigError when the tenant's user-pool
// selector disagrees with a visible sibling of the same app.
func (r *CatalogRepository) CreateTenant(ctx context.Context, cfg models.TenantConfig) error {
	row, err := models.RowFromConfig(cfg)
	if err != nil {
		return storageErr("encode tenant row", err)
	}
	if err := r.checkPoolSharing(ctx, cfg); err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateKey(err) {
			return &DuplicateTenantError{Identifier: row.Identifier()}
		}
		return storageErr("create tenant", err)
	}
	return nil
}

// OverwriteTenantConfig replaces the config of an existing row. Returns
// UnknownTenantError when the identifier is absent.
func (r *CatalogRepository) OverwriteTenantConfig(ctx context.Context, cfg models.TenantConfig) error {
	row, err := models.RowFromConfig(cfg)
	if err != nil {
		return storageErr("encode tenant row", err)
	}
	if err := r.checkPoolSharing(ctx, cfg); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).
		Model(&models.TenantRow{}).
		Where("connection_uri_domain = ? AND app_id = ? AND tenant_id = ?",
			row.ConnectionURIDomain, row.AppID, row.TenantID).
		Updates(map[string]interface{}{
			"email_password_config": row.EmailPasswordConfig,
			"third_party_config":    row.ThirdPartyConfig,
			"passwordless_config":   row.PasswordlessConfig,
			"core_config":           row.CoreConfig,
		})
	if res.Error != nil {
		return storageErr("overwrite tenant config", res.Error)
	}
	if res.RowsAffected == 0 {
		return &UnknownTenantError{Identifier: row.Identifier()}
	}
	return nil
}

// DeleteTenant removes a catalog row. Returns UnknownTenantError when absent.
func (r *CatalogRepository) DeleteTenant(ctx context.Context, id models.TenantIdentifier) error {
	res := r.db.WithContext(ctx).
		Where("connection_uri_domain = ? AND app_id = ? AND tenant_id = ?",
			id.ConnectionURIDomain, id.AppID, id.TenantID).
		Delete(&models.TenantRow{})
	if res.Error != nil {
		return storageErr("delete tenant", res.Error)
	}
	if res.RowsAffected == 0 {
		return &UnknownTenantError{Identifier: id}
	}
	return nil
}

// MarkAppIDAsDeleted soft-deletes every tenant of an app. Idempotent.
func (r *CatalogRepository) MarkAppIDAsDeleted(ctx context.Context, appID string) error {
	if appID == "" {
		appID = models.DefaultAppID
	}
	err := r.db.WithContext(ctx).
		Model(&models.TenantRow{}).
		Where("app_id = ?", appID).
		Update("app_id_marked_as_deleted", true).Error
	if err != nil {
		return storageErr("mark app as deleted", err)
	}
	return nil
}

// MarkConnectionURIDomainAsDeleted soft-deletes every tenant of a connection
// URI domain. Idempotent.
func (r *CatalogRepository) MarkConnectionURIDomainAsDeleted(ctx context.Context, domain string) error {
	err := r.db.WithContext(ctx).
		Model(&models.TenantRow{}).
		Where("connection_uri_domain = ?", domain).
		Update("connection_uri_domain_marked_as_deleted", true).Error
	if err != nil {
		return storageErr("mark connection uri domain as deleted", err)
	}
	return nil
}

// PurgeSoftDeleted physically removes rows that have carried a soft-delete
// marker for longer than the retention window. Called by the janitor job.
func (r *CatalogRepository) PurgeSoftDeleted(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("(app_id_marked_as_deleted = ? OR connection_uri_domain_marked_as_deleted = ?) AND updated_at < ?",
			true, true, before).
		Delete(&models.TenantRow{})
	if res.Error != nil {
		return 0, storageErr("purge soft-deleted tenants", res.Error)
	}
	return res.RowsAffected, nil
}

// EnsureDefaultTenant creates the default tenant row if it is missing. The
// default tenant must exist before the first reconcile.
func (r *CatalogRepository) EnsureDefaultTenant(ctx context.Context) error {
	err := r.CreateTenant(ctx, models.DefaultTenantConfig())
	if err != nil && !IsDuplicateTenantError(err) {
		return err
	}
	return nil
}

// checkPoolSharing enforces that all visible tenants of one
// (connectionUriDomain, appId) pair resolve to the same physical user pool.
func (r *CatalogRepository) checkPoolSharing(ctx context.Context, cfg models.TenantConfig) error {
	id := cfg.Identifier
	var rows []models.TenantRow
	err := r.db.WithContext(ctx).
		Where("connection_uri_domain = ? AND app_id = ? AND tenant_id <> ?",
			id.ConnectionURIDomain, id.AppID, id.TenantID).
		Where("app_id_marked_as_deleted = ? AND connection_uri_domain_marked_as_deleted = ?", false, false).
		Find(&rows).Error
	if err != nil {
		return storageErr("list sibling tenants", err)
	}
	for _, sibling := range rows {
		if sibling.CoreConfig.UserPoolID() != cfg.UserPoolID() {
			return &InvalidConfigError{
				Identifier: id,
				Reason:     "all tenants of one app must share the same user pool database",
			}
		}
	}
	return nil
}

// isDuplicateKey detects a unique constraint violation across gorm's
// translated error and the raw postgres message.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
