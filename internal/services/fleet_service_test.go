package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"authcore/internal/featureflag"
	"authcore/internal/keys"
	"authcore/internal/models"
)

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) ListAllTenants(ctx context.Context) ([]models.TenantConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TenantConfig), args.Error(1)
}

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) LoadAll(tenants []models.TenantConfig) error {
	args := m.Called(tenants)
	return args.Error(0)
}

func (m *mockStorage) OpenPoolCount() int {
	args := m.Called()
	return args.Int(0)
}

type mockCron struct {
	mock.Mock
}

func (m *mockCron) SetTenantsInfo(identifiers []models.TenantIdentifier) {
	m.Called(identifiers)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func tenant(tenantID string) models.TenantConfig {
	return models.TenantConfig{
		Identifier: models.NewTenantIdentifier("", "", tenantID),
		CoreConfig: models.CoreConfig{},
	}
}

func invisibleTenant(tenantID string) models.TenantConfig {
	t := tenant(tenantID)
	t.AppIDMarkedAsDeleted = true
	return t
}

func newTestFleet(catalog *mockCatalog, storage *mockStorage, flags *featureflag.Flags) *FleetService {
	return NewFleetService(catalog, storage, keys.NewSigningKeys(quietLogger()), flags, quietLogger())
}

func TestRefreshLoadsInitialFleet(t *testing.T) {
	catalog := &mockCatalog{}
	storage := &mockStorage{}
	cron := &mockCron{}
	flags := featureflag.NewWithFeatures(featureflag.MultiTenancy)

	tenants := []models.TenantConfig{tenant(""), tenant("t1")}
	catalog.On("ListAllTenants", mock.Anything).Return(tenants, nil)
	storage.On("LoadAll", tenants).Return(nil)
	storage.On("OpenPoolCount").Return(1)
	cron.On("SetTenantsInfo", mock.Anything).Return()

	fleet := newTestFleet(catalog, storage, flags)
	fleet.SetCronScheduler(cron)
	fleet.RefreshIfRequired(context.Background())

	assert.Len(t, fleet.TenantConfigs(), 2)
	assert.NotNil(t, fleet.Resolve(models.NewTenantIdentifier("", "", "t1")))
	assert.Nil(t, fleet.Resolve(models.NewTenantIdentifier("", "", "missing")))
	assert.NotNil(t, fleet.ConfigSnapshot(models.DefaultTenantIdentifier()))

	cron.AssertCalled(t, "SetTenantsInfo", []models.TenantIdentifier{
		models.DefaultTenantIdentifier(),
		models.NewTenantIdentifier("", "", "t1"),
	})
}

func TestRefreshSkipsReloadWithoutDrift(t *testing.T) {
	catalog := &mockCatalog{}
	storage := &mockStorage{}
	flags := featureflag.NewWithFeatures(featureflag.MultiTenancy)

	tenants := []models.TenantConfig{tenant(""), tenant("t1")}
	catalog.On("ListAllTenants", mock.Anything).Return(tenants, nil)
	storage.On("LoadAll", mock.Anything).Return(nil)
	storage.On("OpenPoolCount").Return(1)

	fleet := newTestFleet(catalog, storage, flags)
	fleet.RefreshIfRequired(context.Background())
	fleet.RefreshIfRequired(context.Background())

	storage.AssertNumberOfCalls(t, "LoadAll", 1)
}

func TestRefreshDetectsEqualSizeSwap(t *testing.T) {
	catalog := &mockCatalog{}
	storage := &mockStorage{}
	flags := featureflag.NewWithFeatures(featureflag.MultiTenancy)

	first := []models.TenantConfig{tenant(""), tenant("t1")}
	second := []models.TenantConfig{tenant(""), tenant("t2")}
	catalog.On("ListAllTenants", mock.Anything).Return(first, nil).Once()
	catalog.On("ListAllTenants", mock.Anything).Return(second, nil).Once()
	storage.On("LoadAll", mock.Anything).Return(nil)
	storage.On("OpenPoolCount").Return(1)

	fleet := newTestFleet(catalog, storage, flags)
	fleet.RefreshIfRequired(context.Background())
	fleet.RefreshIfRequired(context.Background())

	// t1 out, t2 in: same length, still a reload
	storage.AssertNumberOfCalls(t, "LoadAll", 2)
	assert.Nil(t, fleet.Resolve(models.NewTenantIdentifier("", "", "t1")))
	assert.NotNil(t, fleet.Resolve(models.NewTenantIdentifier("", "", "t2")))
}

func TestRefreshFiltersInvisibleTenants(t *testing.T) {
	catalog := &mockCatalog{}
	storage := &mockStorage{}
	flags := featureflag.NewWithFeatures(featureflag.MultiTenancy)

	catalog.On("ListAllTenants", mock.Anything).
		Return([]models.TenantConfig{tenant(""), invisibleTenant("hidden")}, nil)
	storage.On("LoadAll", mock.Anything).Return(nil)
	storage.On("OpenPoolCount").Return(1)

	fleet := newTestFleet(catalog, storage, flags)
	fleet.RefreshIfRequired(context.Background())

	assert.Len(t, fleet.TenantConfigs(), 1)
	assert.Nil(t, fleet.Resolve(models.NewTenantIdentifier("", "", "hidden")))
}

func TestRefreshLoadsOnlyDefaultTenantWhenFeatureDisabled(t *testing.T) {
	catalog := &mockCatalog{}
	storage := &mockStorage{}
	flags := featureflag.NewWithFeatures() // MULTI_TENANCY off

	catalog.On("ListAllTenants", mock.Anything).
		Return([]models.TenantConfig{tenant(""), tenant("t1")}, nil)
	storage.On("LoadAll", mock.MatchedBy(func(tenants []models.TenantConfig) bool {
		return len(tenants) == 1 && tenants[0].Identifier == models.DefaultTenantIdentifier()
	})).Return(nil)
	storage.On("OpenPoolCount").Return(1)

	fleet := newTestFleet(catalog, storage, flags)
	fleet.RefreshIfRequired(context.Background())

	// the snapshot still sees everything; only resource loading is gated
	assert.Len(t, fleet.TenantConfigs(), 2)
	storage.AssertExpectations(t)
}

func TestRefreshSwallowsCatalogErrors(t *testing.T) {
	catalog := &mockCatalog{}
	storage := &mockStorage{}
	flags := featureflag.NewWithFeatures(featureflag.MultiTenancy)

	tenants := []models.TenantConfig{tenant("")}
	catalog.On("ListAllTenants", mock.Anything).Return(tenants, nil).Once()
	catalog.On("ListAllTenants", mock.Anything).Return(nil, errors.New("connection refused")).Once()
	storage.On("LoadAll", mock.Anything).Return(nil)
	storage.On("OpenPoolCount").Return(1)

	fleet := newTestFleet(catalog, storage, flags)
	fleet.RefreshIfRequired(context.Background())
	fleet.RefreshIfRequired(context.Background())

	// the previous snapshot survives a failed catalog read
	assert.Len(t, fleet.TenantConfigs(), 1)
}

func TestRefreshRetriesFailedResourceLoad(t *testing.T) {
	catalog := &mockCatalog{}
	storage := &mockStorage{}
	flags := featureflag.NewWithFeatures(featureflag.MultiTenancy)

	catalog.On("ListAllTenants", mock.Anything).
		Return([]models.TenantConfig{tenant(""), tenant("t1")}, nil)
	storage.On("LoadAll", mock.Anything).Return(errors.New("pool unreachable")).Once()
	storage.On("LoadAll", mock.Anything).Return(nil).Once()
	storage.On("OpenPoolCount").Return(2)

	fleet := newTestFleet(catalog, storage, flags)
	fleet.RefreshIfRequired(context.Background())

	// readers still observe the fresh snapshot even though loading failed
	assert.Len(t, fleet.TenantConfigs(), 2)

	// the identifier set did not drift, yet the failed load is re-run
	fleet.RefreshIfRequired(context.Background())
	storage.AssertNumberOfCalls(t, "LoadAll", 2)

	// the second pass repaired the signing-key registries too
	access, refresh, jwtMgr := fleet.SigningKeyManagers(models.NewTenantIdentifier("", "", "t1"))
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	require.NotNil(t, jwtMgr)

	// once the reload succeeded, no-drift refreshes skip loading again
	fleet.RefreshIfRequired(context.Background())
	storage.AssertNumberOfCalls(t, "LoadAll", 2)
}

func TestRefreshReloadsWhenMultiTenancyFlagFlips(t *testing.T) {
	catalog := &mockCatalog{}
	storage := &mockStorage{}
	flags := featureflag.NewWithFeatures() // MULTI_TENANCY off

	catalog.On("ListAllTenants", mock.Anything).
		Return([]models.TenantConfig{tenant(""), tenant("t1")}, nil)
	storage.On("LoadAll", mock.MatchedBy(func(tenants []models.TenantConfig) bool {
		return len(tenants) == 1
	})).Return(nil).Once()
	storage.On("LoadAll", mock.MatchedBy(func(tenants []models.TenantConfig) bool {
		return len(tenants) == 2
	})).Return(nil).Once()
	storage.On("OpenPoolCount").Return(1)

	fleet := newTestFleet(catalog, storage, flags)
	fleet.RefreshIfRequired(context.Background())

	// enabling the flag at runtime counts as drift: the next refresh loads
	// the non-default tenants without any catalog change
	flags.SetEnabled(featureflag.MultiTenancy, true)
	fleet.RefreshIfRequired(context.Background())
	storage.AssertExpectations(t)

	defAccess, _, _ := fleet.SigningKeyManagers(models.DefaultTenantIdentifier())
	t1Access, _, _ := fleet.SigningKeyManagers(models.NewTenantIdentifier("", "", "t1"))
	assert.NotSame(t, defAccess, t1Access)
}

func TestSigningKeyManagersFallBackToDefault(t *testing.T) {
	catalog := &mockCatalog{}
	storage := &mockStorage{}
	flags := featureflag.NewWithFeatures(featureflag.MultiTenancy)

	catalog.On("ListAllTenants", mock.Anything).
		Return([]models.TenantConfig{tenant("")}, nil)
	storage.On("LoadAll", mock.Anything).Return(nil)
	storage.On("OpenPoolCount").Return(1)

	fleet := newTestFleet(catalog, storage, flags)
	fleet.RefreshIfRequired(context.Background())

	access, refresh, jwtMgr := fleet.SigningKeyManagers(models.NewTenantIdentifier("", "", "unknown"))
	require.NotNil(t, access)
	require.NotNil(t, refresh)
	require.NotNil(t, jwtMgr)

	defAccess, _, _ := fleet.SigningKeyManagers(models.DefaultTenantIdentifier())
	assert.Same(t, defAccess, access)
}
