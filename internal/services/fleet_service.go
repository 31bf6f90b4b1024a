package services

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"authcore/internal/featureflag"
	"authcore/internal/keys"
	"authcore/internal/metrics"
	"authcore/internal/models"
)

// CatalogLister is the read side of the shared catalog consumed by the
// reconciler.
type CatalogLister interface {
	ListAllTenants(ctx context.Context) ([]models.TenantConfig, error)
}

// StorageLoader aligns physical user-pool handles with the visible tenant set.
type StorageLoader interface {
	LoadAll(tenants []models.TenantConfig) error
	OpenPoolCount() int
}

// CronScheduler receives the current tenant list after every successful
// reconcile so recurring work can follow the catalog.
type CronScheduler interface {
	SetTenantsInfo(identifiers []models.TenantIdentifier)
}

// FleetService is the in-memory fleet of per-tenant runtime resources: the
// last visible catalog snapshot, per-tenant config snapshots, storage routing
// and the three signing-key registries. One instance exists per process.
type FleetService struct {
	catalog CatalogLister
	storage StorageLoader
	keys    *keys.SigningKeys
	flags   *featureflag.Flags
	log     *logrus.Logger

	cron    CronScheduler
	metrics *metrics.Metrics

	// mu guards tenantConfigs, snapshots and the whole reload sequence.
	mu            sync.Mutex
	tenantConfigs []models.TenantConfig
	snapshots     map[models.TenantIdentifier]models.CoreConfig

	// reloadPending marks a failed resource reload so the next refresh
	// re-runs the loads even when the identifier set did not drift.
	reloadPending bool
	// mtEnabledAtLoad is the MULTI_TENANCY flag state of the last successful
	// reload; a runtime flip counts as drift.
	mtEnabledAtLoad bool
}

// NewFleetService creates the fleet. The first reconcile is the caller's
// responsibility (main runs it right after the default tenant is ensured).
func NewFleetService(catalog CatalogLister, storage StorageLoader, signingKeys *keys.SigningKeys, flags *featureflag.Flags, log *logrus.Logger) *FleetService {
	return &FleetService{
		catalog:   catalog,
		storage:   storage,
		keys:      signingKeys,
		flags:     flags,
		log:       log,
		snapshots: make(map[models.TenantIdentifier]models.CoreConfig),
	}
}

// SetCronScheduler wires the scheduler that tracks the tenant set. Optional.
func (s *FleetService) SetCronScheduler(cron CronScheduler) {
	s.cron = cron
}

// SetMetrics wires the Prometheus collectors. Optional.
func (s *FleetService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// RefreshIfRequired re-reads the catalog and, when the visible tenant set
// drifted, reloads config snapshots, storage handles, signing keys and the
// cron tenant list. Load failures are logged and swallowed; the next
// invocation retries. The catalog read happens before the lock is taken to
// keep the critical section short.
func (s *FleetService) RefreshIfRequired(ctx context.Context) {
	all, err := s.catalog.ListAllTenants(ctx)
	if err != nil {
		s.log.WithError(err).Error("reconcile: listing tenant catalog failed")
		if s.metrics != nil {
			s.metrics.ReconcileFailures.Inc()
		}
		return
	}

	fresh := make([]models.TenantConfig, 0, len(all))
	for _, t := range all {
		if t.IsVisible() {
			fresh = append(fresh, t)
		}
	}

	mtEnabled := s.flags.IsEnabled(featureflag.MultiTenancy)

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := identifierSetsDiffer(s.tenantConfigs, fresh) ||
		s.reloadPending ||
		mtEnabled != s.mtEnabledAtLoad
	s.tenantConfigs = fresh

	if s.metrics != nil {
		s.metrics.ReconcileRuns.WithLabelValues(boolLabel(changed)).Inc()
		s.metrics.VisibleTenants.Set(float64(len(fresh)))
	}
	if !changed {
		return
	}

	loadable := fresh
	if !mtEnabled {
		// with multi-tenancy off only the default tenant is served; its
		// resources must stay functional regardless
		loadable = loadable[:0:0]
		for _, t := range fresh {
			if t.Identifier == models.DefaultTenantIdentifier() {
				loadable = append(loadable, t)
			}
		}
	}

	if err := s.reload(loadable); err != nil {
		s.reloadPending = true
		s.log.WithError(err).Error("reconcile: resource reload failed, will retry on next refresh")
		if s.metrics != nil {
			s.metrics.ReconcileFailures.Inc()
		}
		return
	}
	s.reloadPending = false
	s.mtEnabledAtLoad = mtEnabled

	s.log.WithField("visible_tenants", len(fresh)).Info("reconciled tenant fleet")
}

// reload runs the four load phases in order. Each target is idempotent, so a
// failed phase leaves a state the next reconcile repairs.
func (s *FleetService) reload(tenants []models.TenantConfig) error {
	s.loadConfigSnapshots(tenants)

	if err := s.storage.LoadAll(tenants); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.OpenUserPools.Set(float64(s.storage.OpenPoolCount()))
	}

	if err := s.keys.LoadForAllTenants(tenants); err != nil {
		return err
	}

	if s.cron != nil {
		identifiers := make([]models.TenantIdentifier, len(tenants))
		for i, t := range tenants {
			identifiers[i] = t.Identifier
		}
		s.cron.SetTenantsInfo(identifiers)
	}
	return nil
}

// loadConfigSnapshots materializes one config snapshot per tenant. Snapshots
// of identifiers already present are reused so handing out a snapshot stays
// stable across reconciles that do not touch the tenant.
func (s *FleetService) loadConfigSnapshots(tenants []models.TenantConfig) {
	next := make(map[models.TenantIdentifier]models.CoreConfig, len(tenants))
	for _, t := range tenants {
		if existing, ok := s.snapshots[t.Identifier]; ok {
			next[t.Identifier] = existing
			continue
		}
		snapshot := make(models.CoreConfig, len(t.CoreConfig))
		for k, v := range t.CoreConfig {
			snapshot[k] = v
		}
		next[t.Identifier] = snapshot
	}
	s.snapshots = next
}

// Resolve returns the tenant's config from the current snapshot, or nil when
// the identifier is not visible.
func (s *FleetService) Resolve(id models.TenantIdentifier) *models.TenantConfig {
	s.mu.Lock()
	snapshot := s.tenantConfigs
	s.mu.Unlock()

	for i := range snapshot {
		if snapshot[i].Identifier == id {
			cfg := snapshot[i]
			return &cfg
		}
	}
	return nil
}

// VisibleIdentifiers returns the identifier set of the current snapshot.
func (s *FleetService) VisibleIdentifiers() []models.TenantIdentifier {
	s.mu.Lock()
	snapshot := s.tenantConfigs
	s.mu.Unlock()

	out := make([]models.TenantIdentifier, len(snapshot))
	for i := range snapshot {
		out[i] = snapshot[i].Identifier
	}
	return out
}

// TenantConfigs returns a copy of the current visible snapshot.
func (s *FleetService) TenantConfigs() []models.TenantConfig {
	s.mu.Lock()
	snapshot := s.tenantConfigs
	s.mu.Unlock()

	out := make([]models.TenantConfig, len(snapshot))
	copy(out, snapshot)
	return out
}

// ConfigSnapshot returns the materialized config snapshot of a tenant, or nil.
func (s *FleetService) ConfigSnapshot(id models.TenantIdentifier) models.CoreConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[id]
}

// SigningKeyManagers resolves the three key managers of a tenant. Unknown
// identifiers fall back to the default tenant's managers.
func (s *FleetService) SigningKeyManagers(id models.TenantIdentifier) (access, refresh, jwt *keys.Manager) {
	return s.keys.AccessToken.GetInstance(id),
		s.keys.RefreshToken.GetInstance(id),
		s.keys.JWT.GetInstance(id)
}

// identifierSetsDiffer computes whether the two snapshots name different
// tenant sets. The symmetric difference is checked in both directions so an
// equal-size swap (one tenant added, one removed) still counts as drift.
func identifierSetsDiffer(current, fresh []models.TenantConfig) bool {
	if len(current) != len(fresh) {
		return true
	}
	freshSet := make(map[models.TenantIdentifier]bool, len(fresh))
	for _, t := range fresh {
		freshSet[t.Identifier] = true
	}
	for _, t := range current {
		if !freshSet[t.Identifier] {
			return true
		}
	}
	currentSet := make(map[models.TenantIdentifier]bool, len(current))
	for _, t := range current {
		currentSet[t.Identifier] = true
	}
	for _, t := range fresh {
		if !currentSet[t.Identifier] {
			return true
		}
	}
	return false
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
