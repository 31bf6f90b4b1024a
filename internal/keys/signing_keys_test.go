package keys

import (
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authcore/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func tenantWithInterval(tenantID string, hours float64) models.TenantConfig {
	cfg := models.CoreConfig{}
	if hours > 0 {
		cfg[models.CoreConfigAccessTokenKeyInterval] = hours
		cfg[models.CoreConfigRefreshTokenKeyInterval] = hours
	}
	return models.TenantConfig{
		Identifier: models.NewTenantIdentifier("", "", tenantID),
		CoreConfig: cfg,
	}
}

func TestRegistryUsesPerTenantUpdateIntervals(t *testing.T) {
	registry := NewRegistry(ClassAccessToken, testLogger())

	tenants := []models.TenantConfig{
		tenantWithInterval("", 0),    // default tenant, default interval
		tenantWithInterval("c1", 200),
		tenantWithInterval("c2", 400),
	}
	require.NoError(t, registry.LoadForAllTenants(tenants))

	defaultMgr := registry.GetInstance(models.DefaultTenantIdentifier())
	c1 := registry.GetInstance(models.NewTenantIdentifier("", "", "c1"))
	c2 := registry.GetInstance(models.NewTenantIdentifier("", "", "c2"))

	assert.Equal(t, models.DefaultSigningKeyUpdateInterval, defaultMgr.UpdateInterval())
	assert.Equal(t, 200*time.Hour, c1.UpdateInterval())
	assert.Equal(t, 400*time.Hour, c2.UpdateInterval())

	// the expiry horizon tracks the tenant's interval: c1 outlives the
	// default manager by 200h-168h=32h, c2 by far more
	defaultExpiry := defaultMgr.CurrentKey().ExpiryTime
	c1Delta := time.Duration(c1.CurrentKey().ExpiryTime-defaultExpiry) * time.Millisecond
	c2Delta := time.Duration(c2.CurrentKey().ExpiryTime-defaultExpiry) * time.Millisecond
	assert.Greater(t, c1Delta, 31*time.Hour)
	assert.Greater(t, c2Delta, 60*time.Hour)
}

func TestRegistryFallsBackToDefaultManagerForUnknownTenant(t *testing.T) {
	registry := NewRegistry(ClassAccessToken, testLogger())
	require.NoError(t, registry.LoadForAllTenants([]models.TenantConfig{
		tenantWithInterval("", 0),
		tenantWithInterval("c1", 200),
	}))

	unknown := registry.GetInstance(models.NewTenantIdentifier("", "", "c3"))
	defaultMgr := registry.GetInstance(models.DefaultTenantIdentifier())

	require.NotNil(t, unknown)
	assert.Same(t, defaultMgr, unknown)
	assert.Equal(t, defaultMgr.CurrentKey().Value, unknown.CurrentKey().Value)
}

func TestRegistryReusesManagersAcrossReloads(t *testing.T) {
	registry := NewRegistry(ClassAccessToken, testLogger())
	tenants := []models.TenantConfig{
		tenantWithInterval("", 0),
		tenantWithInterval("c1", 200),
	}
	require.NoError(t, registry.LoadForAllTenants(tenants))

	c1 := registry.GetInstance(models.NewTenantIdentifier("", "", "c1"))
	before := c1.CurrentKey()

	require.NoError(t, registry.LoadForAllTenants(tenants))
	after := registry.GetInstance(models.NewTenantIdentifier("", "", "c1")).CurrentKey()

	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.Value, after.Value)
}

func TestRegistryDestroysManagersOfRemovedTenants(t *testing.T) {
	registry := NewRegistry(ClassAccessToken, testLogger())
	require.NoError(t, registry.LoadForAllTenants([]models.TenantConfig{
		tenantWithInterval("", 0),
		tenantWithInterval("c1", 200),
	}))

	c1ID := models.NewTenantIdentifier("", "", "c1")
	oldKey := registry.GetInstance(c1ID).CurrentKey()

	// c1 disappears from the catalog
	require.NoError(t, registry.LoadForAllTenants([]models.TenantConfig{
		tenantWithInterval("", 0),
	}))
	assert.Len(t, registry.Identifiers(), 1)

	// the fallback now serves default-tenant material, not the old key
	assert.NotEqual(t, oldKey.Value, registry.GetInstance(c1ID).CurrentKey().Value)

	// the default manager is never destroyed, even without catalog rows
	require.NoError(t, registry.LoadForAllTenants(nil))
	assert.NotNil(t, registry.GetInstance(models.DefaultTenantIdentifier()))
}

func TestJWTManagerRejectsNonRSAAlgorithms(t *testing.T) {
	_, err := newManager(models.DefaultTenantIdentifier(), ClassJWT, time.Hour, "HS256")
	require.Error(t, err)
	assert.True(t, IsUnsupportedJWTSigningAlgorithmError(err))

	_, err = newManager(models.DefaultTenantIdentifier(), ClassJWT, time.Hour, "ES256")
	assert.True(t, IsUnsupportedJWTSigningAlgorithmError(err))
}

func TestSignJWTEmbedsKeyID(t *testing.T) {
	mgr, err := newManager(models.DefaultTenantIdentifier(), ClassJWT, time.Hour, "RS256")
	require.NoError(t, err)

	signed, err := mgr.SignJWT(jwt.MapClaims{"sub": "user-1"})
	require.NoError(t, err)

	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(signed, jwt.MapClaims{})
	require.NoError(t, err)
	assert.Equal(t, mgr.CurrentKey().ID, token.Header["kid"])
	assert.Equal(t, "RS256", token.Header["alg"])
}

func TestSignJWTOnNonJWTManagerFails(t *testing.T) {
	mgr, err := newManager(models.DefaultTenantIdentifier(), ClassAccessToken, time.Hour, "")
	require.NoError(t, err)

	_, err = mgr.SignJWT(jwt.MapClaims{"sub": "user-1"})
	assert.Error(t, err)
}

func TestGetAllKeysRemintsWhenAllExpired(t *testing.T) {
	mgr, err := newManager(models.DefaultTenantIdentifier(), ClassAccessToken, time.Millisecond, "")
	require.NoError(t, err)

	expired := mgr.CurrentKey()
	time.Sleep(5 * time.Millisecond)

	fresh := mgr.GetAllKeys()
	require.Len(t, fresh, 1)
	assert.NotEqual(t, expired.ID, fresh[0].ID)
}

func TestCurrentKeyServesStaleGenerationWhenMintFails(t *testing.T) {
	mgr, err := newManager(models.DefaultTenantIdentifier(), ClassAccessToken, time.Millisecond, "")
	require.NoError(t, err)
	original := mgr.CurrentKey()

	randRead = func([]byte) (int, error) { return 0, errors.New("entropy exhausted") }
	defer func() { randRead = rand.Read }()

	time.Sleep(5 * time.Millisecond)

	// minting the replacement fails, so the expired generation keeps serving
	stale := mgr.CurrentKey()
	assert.Equal(t, original.ID, stale.ID)

	randRead = rand.Read
	fresh := mgr.CurrentKey()
	assert.NotEqual(t, original.ID, fresh.ID)
}

func TestRotateIfExpired(t *testing.T) {
	mgr, err := newManager(models.DefaultTenantIdentifier(), ClassAccessToken, time.Hour, "")
	require.NoError(t, err)

	rotated, err := mgr.RotateIfExpired()
	require.NoError(t, err)
	assert.False(t, rotated)

	short, err := newManager(models.DefaultTenantIdentifier(), ClassAccessToken, time.Millisecond, "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	rotated, err = short.RotateIfExpired()
	require.NoError(t, err)
	assert.True(t, rotated)
}

func TestSigningKeysBundleLoadsAllClasses(t *testing.T) {
	sk := NewSigningKeys(testLogger())
	require.NoError(t, sk.LoadForAllTenants([]models.TenantConfig{
		tenantWithInterval("", 0),
		tenantWithInterval("c1", 200),
	}))

	c1ID := models.NewTenantIdentifier("", "", "c1")
	assert.NotNil(t, sk.AccessToken.GetInstance(c1ID))
	assert.NotNil(t, sk.RefreshToken.GetInstance(c1ID))
	assert.NotNil(t, sk.JWT.GetInstance(c1ID))

	// access and refresh material must never coincide
	assert.NotEqual(t,
		sk.AccessToken.GetInstance(c1ID).CurrentKey().Value,
		sk.RefreshToken.GetInstance(c1ID).CurrentKey().Value,
	)
}
