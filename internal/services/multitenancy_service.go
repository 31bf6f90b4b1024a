package services

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"authcore/internal/metrics"
	"authcore/internal/models"
	"authcore/internal/repository"
)

// CatalogStore is the write side of the shared tenant catalog.
type CatalogStore interface {
	CatalogLister
	CreateTenant(ctx context.Context, cfg models.TenantConfig) error
	OverwriteTenantConfig(ctx context.Context, cfg models.TenantConfig) error
	DeleteTenant(ctx context.Context, id models.TenantIdentifier) error
	MarkAppIDAsDeleted(ctx context.Context, appID string) error
	MarkConnectionURIDomainAsDeleted(ctx context.Context, domain string) error
}

// UserPoolStore is the slice of the tenant-targeted storage the admin API
// drives.
type UserPoolStore interface {
	AddTenantIDInUserPool(ctx context.Context, id models.TenantIdentifier) error
	DeleteTenantIDInUserPool(ctx context.Context, id models.TenantIdentifier) error
	AddUserIDToTenant(ctx context.Context, target models.TenantIdentifier, userID string) error
	AddRoleToTenant(ctx context.Context, target models.TenantIdentifier, role string) error
}

// PoolRouter resolves the user-pool store hosting a given tenant.
type PoolRouter interface {
	ForTenant(id models.TenantIdentifier) UserPoolStore
}

// EventPublisher pushes tenant lifecycle events to downstream services.
// Publishing is best-effort; failures must not fail the admin operation.
type EventPublisher interface {
	PublishTenantCreated(ctx context.Context, id models.TenantIdentifier, userPoolID string) error
	PublishTenantUpdated(ctx context.Context, id models.TenantIdentifier, userPoolID string) error
	PublishTenantDeleted(ctx context.Context, id models.TenantIdentifier) error
}

// retryConfig holds configuration for retry operations
type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// defaultRetryConfig returns standard retry settings for admin write recovery
func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
		maxDelay:    2 * time.Second,
	}
}

func (cfg retryConfig) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(cfg.baseDelay) * math.Pow(2, float64(attempt-1)))
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	return delay
}

// MultitenancyService is the tenant admin API. Every mutation first touches
// the shared catalog, then forces a reconcile so readers observe the
// post-mutation state before the call returns.
type MultitenancyService struct {
	catalog CatalogStore
	pools   PoolRouter
	fleet   *FleetService
	log     *logrus.Logger
	retry   retryConfig

	events  EventPublisher
	metrics *metrics.Metrics
}

// NewMultitenancyService creates the admin API service.
func NewMultitenancyService(catalog CatalogStore, pools PoolRouter, fleet *FleetService, log *logrus.Logger) *MultitenancyService {
	return &MultitenancyService{
		catalog: catalog,
		pools:   pools,
		fleet:   fleet,
		log:     log,
		retry:   defaultRetryConfig(),
	}
}

// SetEventPublisher wires the NATS publisher. Optional.
func (s *MultitenancyService) SetEventPublisher(events EventPublisher) {
	s.events = events
}

// SetMetrics wires the Prometheus collectors. Optional.
func (s *MultitenancyService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// AddOrUpdate creates the tenant or overwrites its config when it already
// exists. Returns true iff a new catalog row was created by this call.
//
// The shared-catalog write and the user-pool membership write are not atomic;
// an earlier attempt may have written one but not the other. The duplicate
// branch therefore repeats the user-pool write, and a concurrent deletion of
// the parent app restarts the whole operation, bounded by the retry budget.
func (s *MultitenancyService) AddOrUpdate(ctx context.Context, cfg models.TenantConfig) (bool, error) {
	id := models.NewTenantIdentifier(cfg.Identifier.ConnectionURIDomain, cfg.Identifier.AppID, cfg.Identifier.TenantID)
	cfg.Identifier = id

	var lastErr error
	for attempt := 1; attempt <= s.retry.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(s.retry.backoff(attempt - 1)):
			}
		}

		createdNew, retryable, err := s.addOrUpdateOnce(ctx, cfg)
		if err == nil {
			s.countAdminOp("add_or_update", "ok")
			return createdNew, nil
		}
		if !retryable {
			s.countAdminOp("add_or_update", "error")
			return false, err
		}
		lastErr = err
		s.log.WithError(err).WithField("tenant", id.String()).
			Warnf("addOrUpdate hit concurrent catalog change (attempt %d/%d)", attempt, s.retry.maxAttempts)
	}
	s.countAdminOp("add_or_update", "error")
	return false, lastErr
}

// addOrUpdateOnce runs one attempt. The second return value reports whether
// the error came from a concurrent deletion and the operation should restart.
func (s *MultitenancyService) addOrUpdateOnce(ctx context.Context, cfg models.TenantConfig) (createdNew bool, retryable bool, err error) {
	id := cfg.Identifier

	err = s.catalog.CreateTenant(ctx, cfg)
	if err == nil {
		s.fleet.RefreshIfRequired(ctx)
		if err := s.pools.ForTenant(id).AddTenantIDInUserPool(ctx, id); err != nil {
			if repository.IsTenantOrAppNotFoundError(err) {
				// the parent app vanished between the catalog write and the
				// pool write; restart to recover
				return false, true, err
			}
			return false, false, err
		}
		s.publishCreated(ctx, cfg)
		return true, false, nil
	}

	if !repository.IsDuplicateTenantError(err) {
		return false, false, err
	}

	// identifier collision: overwrite, then repair a possibly missing
	// user-pool row from an earlier interrupted attempt
	if err := s.catalog.OverwriteTenantConfig(ctx, cfg); err != nil {
		if repository.IsUnknownTenantError(err) || repository.IsTenantOrAppNotFoundError(err) {
			// deleted mid-flight while being recreated
			return false, true, err
		}
		if repository.IsDuplicateTenantError(err) {
			return false, false, nil
		}
		return false, false, err
	}
	s.fleet.RefreshIfRequired(ctx)
	if err := s.pools.ForTenant(id).AddTenantIDInUserPool(ctx, id); err != nil {
		if repository.IsTenantOrAppNotFoundError(err) || repository.IsUnknownTenantError(err) {
			return false, true, err
		}
		return false, false, err
	}
	s.publishUpdated(ctx, cfg)
	return false, false, nil
}

// DeleteTenant removes a tenant from its user pool (best effort) and from the
// shared catalog, then reconciles. The default tenant cannot be deleted.
func (s *MultitenancyService) DeleteTenant(ctx context.Context, id models.TenantIdentifier) error {
	id = models.NewTenantIdentifier(id.ConnectionURIDomain, id.AppID, id.TenantID)
	if id == models.DefaultTenantIdentifier() {
		s.countAdminOp("delete_tenant", "rejected")
		return &DefaultTenantProtectedError{Identifier: id}
	}

	if err := s.pools.ForTenant(id).DeleteTenantIDInUserPool(ctx, id); err != nil {
		if !repository.IsUnknownTenantError(err) && !repository.IsTenantOrAppNotFoundError(err) {
			s.countAdminOp("delete_tenant", "error")
			return err
		}
		// a past deletion attempt may have removed the pool row already
	}

	if err := s.catalog.DeleteTenant(ctx, id); err != nil {
		s.countAdminOp("delete_tenant", "error")
		return err
	}
	s.fleet.RefreshIfRequired(ctx)
	s.publishDeleted(ctx, id)
	s.countAdminOp("delete_tenant", "ok")
	return nil
}

// DeleteApp soft-deletes every tenant of the app. Only permitted through the
// app's default tenant; physical cleanup is deferred to the janitor cron.
func (s *MultitenancyService) DeleteApp(ctx context.Context, id models.TenantIdentifier) error {
	id = models.NewTenantIdentifier(id.ConnectionURIDomain, id.AppID, id.TenantID)
	if !id.IsDefaultTenant() {
		s.countAdminOp("delete_app", "rejected")
		return &HierarchyViolationError{Identifier: id, Reason: "apps can only be deleted via their default tenant"}
	}
	if id.IsDefaultApp() {
		s.countAdminOp("delete_app", "rejected")
		return &DefaultTenantProtectedError{Identifier: id}
	}

	if err := s.catalog.MarkAppIDAsDeleted(ctx, id.AppID); err != nil {
		s.countAdminOp("delete_app", "error")
		return err
	}
	s.fleet.RefreshIfRequired(ctx)
	s.publishDeleted(ctx, id)
	s.countAdminOp("delete_app", "ok")
	return nil
}

// DeleteConnectionURIDomain soft-deletes every tenant of the domain. Only
// permitted through the domain's default app and tenant.
func (s *MultitenancyService) DeleteConnectionURIDomain(ctx context.Context, id models.TenantIdentifier) error {
	id = models.NewTenantIdentifier(id.ConnectionURIDomain, id.AppID, id.TenantID)
	if !id.IsDefaultTenant() || !id.IsDefaultApp() {
		s.countAdminOp("delete_connection_uri_domain", "rejected")
		return &HierarchyViolationError{Identifier: id, Reason: "connection URI domains can only be deleted via their default app and tenant"}
	}
	if id.IsDefaultConnectionURIDomain() {
		s.countAdminOp("delete_connection_uri_domain", "rejected")
		return &DefaultTenantProtectedError{Identifier: id}
	}

	if err := s.catalog.MarkConnectionURIDomainAsDeleted(ctx, id.ConnectionURIDomain); err != nil {
		s.countAdminOp("delete_connection_uri_domain", "error")
		return err
	}
	s.fleet.RefreshIfRequired(ctx)
	s.publishDeleted(ctx, id)
	s.countAdminOp("delete_connection_uri_domain", "ok")
	return nil
}

// AddUserIDToTenant attaches an existing user of the source tenant's app to a
// sibling tenant. The operation is routed to the storage hosting the source.
func (s *MultitenancyService) AddUserIDToTenant(ctx context.Context, source models.TenantIdentifier, userID, newTenantID string) error {
	source = models.NewTenantIdentifier(source.ConnectionURIDomain, source.AppID, source.TenantID)
	target := source.WithTenantID(newTenantID)
	if source == target {
		s.countAdminOp("add_user_to_tenant", "rejected")
		return &SameTenantError{Identifier: source}
	}

	if err := s.pools.ForTenant(source).AddUserIDToTenant(ctx, target, userID); err != nil {
		s.countAdminOp("add_user_to_tenant", "error")
		return err
	}
	s.countAdminOp("add_user_to_tenant", "ok")
	return nil
}

// AddRoleToTenant attaches an existing app role to a sibling tenant, routed
// through the source tenant's storage.
func (s *MultitenancyService) AddRoleToTenant(ctx context.Context, source models.TenantIdentifier, role, newTenantID string) error {
	source = models.NewTenantIdentifier(source.ConnectionURIDomain, source.AppID, source.TenantID)
	target := source.WithTenantID(newTenantID)
	if source == target {
		s.countAdminOp("add_role_to_tenant", "rejected")
		return &SameTenantError{Identifier: source}
	}

	if err := s.pools.ForTenant(source).AddRoleToTenant(ctx, target, role); err != nil {
		s.countAdminOp("add_role_to_tenant", "error")
		return err
	}
	s.countAdminOp("add_role_to_tenant", "ok")
	return nil
}

// GetTenantInfo reconciles, then resolves the tenant from the fleet snapshot.
// Returns nil when the identifier is not visible.
func (s *MultitenancyService) GetTenantInfo(ctx context.Context, id models.TenantIdentifier) *models.TenantConfig {
	id = models.NewTenantIdentifier(id.ConnectionURIDomain, id.AppID, id.TenantID)
	s.fleet.RefreshIfRequired(ctx)
	return s.fleet.Resolve(id)
}

// GetAllTenantsForApp lists the visible tenants sharing the caller's app.
// Must be called through the app's default tenant.
func (s *MultitenancyService) GetAllTenantsForApp(ctx context.Context, id models.TenantIdentifier) ([]models.TenantConfig, error) {
	id = models.NewTenantIdentifier(id.ConnectionURIDomain, id.AppID, id.TenantID)
	if !id.IsDefaultTenant() {
		return nil, &HierarchyViolationError{Identifier: id, Reason: "app-level listing requires the default tenant"}
	}
	s.fleet.RefreshIfRequired(ctx)

	var out []models.TenantConfig
	for _, t := range s.fleet.TenantConfigs() {
		if t.Identifier.AppID == id.AppID {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetAllTenantsForConnectionURIDomain lists the visible tenants sharing the
// caller's connection URI domain. Must be called through the domain's default
// app and tenant.
func (s *MultitenancyService) GetAllTenantsForConnectionURIDomain(ctx context.Context, id models.TenantIdentifier) ([]models.TenantConfig, error) {
	id = models.NewTenantIdentifier(id.ConnectionURIDomain, id.AppID, id.TenantID)
	if !id.IsDefaultTenant() || !id.IsDefaultApp() {
		return nil, &HierarchyViolationError{Identifier: id, Reason: "domain-level listing requires the default app and tenant"}
	}
	s.fleet.RefreshIfRequired(ctx)

	var out []models.TenantConfig
	for _, t := range s.fleet.TenantConfigs() {
		if t.Identifier.ConnectionURIDomain == id.ConnectionURIDomain {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetAllTenants returns the full visible snapshot. Must be called through the
// default identifier.
func (s *MultitenancyService) GetAllTenants(ctx context.Context, id models.TenantIdentifier) ([]models.TenantConfig, error) {
	id = models.NewTenantIdentifier(id.ConnectionURIDomain, id.AppID, id.TenantID)
	if id != models.DefaultTenantIdentifier() {
		return nil, &HierarchyViolationError{Identifier: id, Reason: "core-level listing requires the default identifier"}
	}
	s.fleet.RefreshIfRequired(ctx)
	return s.fleet.TenantConfigs(), nil
}

func (s *MultitenancyService) publishCreated(ctx context.Context, cfg models.TenantConfig) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTenantCreated(ctx, cfg.Identifier, cfg.UserPoolID()); err != nil {
		s.log.WithError(err).WithField("tenant", cfg.Identifier.String()).Warn("publishing tenant.created failed")
	}
}

func (s *MultitenancyService) publishUpdated(ctx context.Context, cfg models.TenantConfig) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTenantUpdated(ctx, cfg.Identifier, cfg.UserPoolID()); err != nil {
		s.log.WithError(err).WithField("tenant", cfg.Identifier.String()).Warn("publishing tenant.updated failed")
	}
}

func (s *MultitenancyService) publishDeleted(ctx context.Context, id models.TenantIdentifier) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTenantDeleted(ctx, id); err != nil {
		s.log.WithError(err).WithField("tenant", id.String()).Warn("publishing tenant.deleted failed")
	}
}

func (s *MultitenancyService) countAdminOp(operation, outcome string) {
	if s.metrics != nil {
		s.metrics.AdminOperations.WithLabelValues(operation, outcome).Inc()
	}
}
