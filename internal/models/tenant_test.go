package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTenantIdentifierNormalizesEmptyComponents(t *testing.T) {
	id := NewTenantIdentifier("", "", "")

	assert.Equal(t, DefaultConnectionURIDomain, id.ConnectionURIDomain)
	assert.Equal(t, "public", id.AppID)
	assert.Equal(t, "public", id.TenantID)
	assert.Equal(t, DefaultTenantIdentifier(), id)
}

func TestTenantIdentifierValueEquality(t *testing.T) {
	a := NewTenantIdentifier("example.com", "app1", "t1")
	b := NewTenantIdentifier("example.com", "app1", "t1")
	c := NewTenantIdentifier("example.com", "app1", "t2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// usable as map key
	seen := map[TenantIdentifier]bool{a: true}
	assert.True(t, seen[b])
	assert.False(t, seen[c])
}

func TestTenantIdentifierDefaultsChecks(t *testing.T) {
	id := NewTenantIdentifier("example.com", "app1", "")

	assert.True(t, id.IsDefaultTenant())
	assert.False(t, id.IsDefaultApp())
	assert.False(t, id.IsDefaultConnectionURIDomain())
}

func TestWithTenantIDReplacesOnlyTenantComponent(t *testing.T) {
	source := NewTenantIdentifier("example.com", "app1", "t1")
	target := source.WithTenantID("t2")

	assert.Equal(t, "example.com", target.ConnectionURIDomain)
	assert.Equal(t, "app1", target.AppID)
	assert.Equal(t, "t2", target.TenantID)

	// empty replacement normalizes to the default tenant
	assert.Equal(t, "public", source.WithTenantID("").TenantID)
}

func TestSigningKeyUpdateIntervalDefaultsWhenAbsent(t *testing.T) {
	cfg := CoreConfig{}
	assert.Equal(t, DefaultSigningKeyUpdateInterval, cfg.SigningKeyUpdateInterval(CoreConfigAccessTokenKeyInterval))
}

func TestSigningKeyUpdateIntervalParsesNumericForms(t *testing.T) {
	cases := []struct {
		name string
		raw  interface{}
		want time.Duration
	}{
		{"float64 from JSON decode", float64(200), 200 * time.Hour},
		{"int literal", 400, 400 * time.Hour},
		{"json.Number", json.Number("72"), 72 * time.Hour},
		{"zero falls back", float64(0), DefaultSigningKeyUpdateInterval},
		{"negative falls back", -5, DefaultSigningKeyUpdateInterval},
		{"string falls back", "200", DefaultSigningKeyUpdateInterval},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := CoreConfig{CoreConfigAccessTokenKeyInterval: tc.raw}
			assert.Equal(t, tc.want, cfg.SigningKeyUpdateInterval(CoreConfigAccessTokenKeyInterval))
		})
	}
}

func TestUserPoolIDStableAndSelectorSensitive(t *testing.T) {
	noSelectors := CoreConfig{}
	assert.Equal(t, "default", noSelectors.UserPoolID())

	a := CoreConfig{
		CoreConfigPostgresConnectionURI: "postgres://db1:5432",
		CoreConfigPostgresDatabaseName:  "pool_a",
	}
	b := CoreConfig{
		CoreConfigPostgresConnectionURI: "postgres://db1:5432",
		CoreConfigPostgresDatabaseName:  "pool_a",
	}
	c := CoreConfig{
		CoreConfigPostgresConnectionURI: "postgres://db1:5432",
		CoreConfigPostgresDatabaseName:  "pool_b",
	}

	assert.Equal(t, a.UserPoolID(), b.UserPoolID())
	assert.NotEqual(t, a.UserPoolID(), c.UserPoolID())
	assert.Len(t, a.UserPoolID(), 16)
}

func TestTenantConfigVisibility(t *testing.T) {
	cfg := TenantConfig{Identifier: DefaultTenantIdentifier()}
	assert.True(t, cfg.IsVisible())

	cfg.AppIDMarkedAsDeleted = true
	assert.False(t, cfg.IsVisible())

	cfg.AppIDMarkedAsDeleted = false
	cfg.ConnectionURIDomainMarkedAsDeleted = true
	assert.False(t, cfg.IsVisible())
}

func TestTenantRowRoundTrip(t *testing.T) {
	in := TenantConfig{
		Identifier:    NewTenantIdentifier("example.com", "app1", "t1"),
		EmailPassword: EmailPasswordConfig{Enabled: true},
		ThirdParty: ThirdPartyConfig{
			Enabled: true,
			Providers: []ThirdPartyProvider{
				{ID: "google", Name: "Google"},
			},
		},
		Passwordless: PasswordlessConfig{Enabled: false},
		CoreConfig: CoreConfig{
			CoreConfigAccessTokenKeyInterval: float64(200),
		},
	}

	row, err := RowFromConfig(in)
	require.NoError(t, err)
	assert.Equal(t, "example.com", row.ConnectionURIDomain)
	assert.Equal(t, "tenant_configs", row.TableName())

	out, err := row.ToConfig()
	require.NoError(t, err)
	assert.Equal(t, in.Identifier, out.Identifier)
	assert.True(t, out.EmailPassword.Enabled)
	assert.True(t, out.ThirdParty.Enabled)
	require.Len(t, out.ThirdParty.Providers, 1)
	assert.Equal(t, "google", out.ThirdParty.Providers[0].ID)
	assert.False(t, out.Passwordless.Enabled)
	assert.Equal(t, 200*time.Hour, out.CoreConfig.SigningKeyUpdateInterval(CoreConfigAccessTokenKeyInterval))
}

func TestRowFromConfigNormalizesIdentifier(t *testing.T) {
	row, err := RowFromConfig(TenantConfig{Identifier: TenantIdentifier{}})
	require.NoError(t, err)
	assert.Equal(t, "public", row.AppID)
	assert.Equal(t, "public", row.TenantID)
	assert.NotNil(t, row.CoreConfig)
}

func TestDefaultTenantConfigEnablesAllRecipes(t *testing.T) {
	cfg := DefaultTenantConfig()
	assert.Equal(t, DefaultTenantIdentifier(), cfg.Identifier)
	assert.True(t, cfg.EmailPassword.Enabled)
	assert.True(t, cfg.ThirdParty.Enabled)
	assert.True(t, cfg.Passwordless.Enabled)
}
