package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"authcore/internal/models"
	"authcore/internal/repository"
)

// DbInitError wraps a failure to open or migrate a user-pool database.
type DbInitError struct {
	PoolID string
	Err    error
}

func (e *DbInitError) Error() string {
	return fmt.Sprintf("initializing user pool %s: %v", e.PoolID, e.Err)
}

func (e *DbInitError) Unwrap() error {
	return e.Err
}

// IsDbInitError checks if an error is a DbInitError
func IsDbInitError(err error) bool {
	var target *DbInitError
	return errors.As(err, &target)
}

// OpenFunc opens a database connection for a user pool DSN. Injectable so
// tests can substitute in-memory handles.
type OpenFunc func(dsn string) (*gorm.DB, error)

// DefaultOpen opens a postgres-backed gorm handle and migrates the user-pool
// schema.
func DefaultOpen(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&models.PoolTenant{},
		&models.PoolUser{},
		&models.PoolUserTenant{},
		&models.PoolRole{},
		&models.PoolRolePermission{},
		&models.PoolTenantRole{},
	); err != nil {
		return nil, err
	}
	return db, nil
}

type poolHandle struct {
	db   *gorm.DB
	repo *repository.UserPoolRepository
	// the default pool shares the process-wide connection and is never closed
	owned bool
}

// Manager owns the physical user-pool connections. One handle exists per
// distinct pool; tenants whose core config selects the same pool share it.
type Manager struct {
	mu         sync.Mutex
	defaultDB  *gorm.DB
	defaultDSN string
	open       OpenFunc
	log        *logrus.Logger

	pools    map[string]*poolHandle
	byTenant map[models.TenantIdentifier]string
}

// NewManager creates a pool manager. defaultDB hosts the "default" pool and is
// owned by the caller; defaultDSN is the base DSN used when a tenant selects a
// pool by database name only.
func NewManager(defaultDB *gorm.DB, defaultDSN string, open OpenFunc, log *logrus.Logger) *Manager {
	if open == nil {
		open = DefaultOpen
	}
	m := &Manager{
		defaultDB:  defaultDB,
		defaultDSN: defaultDSN,
		open:       open,
		log:        log,
		pools:      make(map[string]*poolHandle),
		byTenant:   make(map[models.TenantIdentifier]string),
	}
	m.pools["default"] = &poolHandle{
		db:   defaultDB,
		repo: repository.NewUserPoolRepository(defaultDB),
	}
	return m
}

// LoadAll aligns open pool handles with the given visible tenant set: one
// handle per distinct user pool, opened lazily, closed when no tenant
// references the pool anymore. Idempotent and re-runnable after partial
// failure.
func (m *Manager) LoadAll(tenants []models.TenantConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string][]models.TenantConfig)
	for _, t := range tenants {
		poolID := t.UserPoolID()
		wanted[poolID] = append(wanted[poolID], t)
	}
	// the default pool always stays open for the default tenant
	if _, ok := wanted["default"]; !ok {
		wanted["default"] = nil
	}

	for poolID, members := range wanted {
		if _, ok := m.pools[poolID]; ok {
			continue
		}
		dsn := m.dsnFor(members)
		db, err := m.open(dsn)
		if err != nil {
			return &DbInitError{PoolID: poolID, Err: err}
		}
		m.pools[poolID] = &poolHandle{
			db:    db,
			repo:  repository.NewUserPoolRepository(db),
			owned: true,
		}
		m.log.WithField("pool", poolID).Info("opened user pool database")
	}

	for poolID, handle := range m.pools {
		if _, ok := wanted[poolID]; ok {
			continue
		}
		if handle.owned {
			if sqlDB, err := handle.db.DB(); err == nil {
				if err := sqlDB.Close(); err != nil {
					m.log.WithField("pool", poolID).WithError(err).Warn("closing user pool database")
				}
			}
		}
		delete(m.pools, poolID)
		m.log.WithField("pool", poolID).Info("closed user pool database")
	}

	byTenant := make(map[models.TenantIdentifier]string, len(tenants))
	for poolID, members := range wanted {
		for _, t := range members {
			byTenant[t.Identifier] = poolID
		}
	}
	byTenant[models.DefaultTenantIdentifier()] = m.byTenantDefaultPool(byTenant)
	m.byTenant = byTenant
	return nil
}

func (m *Manager) byTenantDefaultPool(byTenant map[models.TenantIdentifier]string) string {
	if poolID, ok := byTenant[models.DefaultTenantIdentifier()]; ok {
		return poolID
	}
	return "default"
}

// ForTenant returns the user-pool repository hosting the given tenant. Unknown
// identifiers fall back to the default pool so that lookups stay total.
func (m *Manager) ForTenant(id models.TenantIdentifier) *repository.UserPoolRepository {
	m.mu.Lock()
	defer m.mu.Unlock()

	poolID, ok := m.byTenant[id]
	if !ok {
		poolID = "default"
	}
	handle, ok := m.pools[poolID]
	if !ok {
		handle = m.pools["default"]
	}
	return handle.repo
}

// PoolIDForTenant reports which pool a tenant is routed to. Used by tests and
// metrics.
func (m *Manager) PoolIDForTenant(id models.TenantIdentifier) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if poolID, ok := m.byTenant[id]; ok {
		return poolID
	}
	return "default"
}

// OpenPoolCount reports how many pool handles are currently open.
func (m *Manager) OpenPoolCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pools)
}

// Close releases every owned pool handle. The default handle belongs to the
// caller and is left open.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for poolID, handle := range m.pools {
		if !handle.owned {
			continue
		}
		if sqlDB, err := handle.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		delete(m.pools, poolID)
	}
}

func (m *Manager) dsnFor(members []models.TenantConfig) string {
	for _, t := range members {
		if uri := t.CoreConfig.StringValue(models.CoreConfigPostgresConnectionURI, ""); uri != "" {
			return uri
		}
		if dbName := t.CoreConfig.StringValue(models.CoreConfigPostgresDatabaseName, ""); dbName != "" {
			return fmt.Sprintf("%s dbname=%s", m.defaultDSN, dbName)
		}
	}
	return m.defaultDSN
}
