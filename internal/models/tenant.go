package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known components of the default tenant. An empty string in any position
// of an identifier normalizes to these values.
const (
	DefaultConnectionURIDomain = ""
	DefaultAppID               = "public"
	DefaultTenantID            = "public"
)

// Core config keys consumed by the control plane itself. Everything else in
// CoreConfig is opaque and passed through to the per-tenant config loader.
const (
	CoreConfigAccessTokenKeyInterval  = "access_token_signing_key_update_interval"
	CoreConfigRefreshTokenKeyInterval = "refresh_token_signing_key_update_interval"
	CoreConfigJWTSigningAlgorithm     = "jwt_signing_algorithm"
	CoreConfigPostgresConnectionURI   = "postgresql_connection_uri"
	CoreConfigPostgresDatabaseName    = "postgresql_database_name"
)

// DefaultSigningKeyUpdateInterval applies when a tenant's core config does not
// override the signing key update interval.
const DefaultSigningKeyUpdateInterval = 168 * time.Hour

// TenantIdentifier is the (connectionUriDomain, appId, tenantId) triple that
// addresses one tenant. Identifiers are immutable, compared by value, and
// usable as map keys.
type TenantIdentifier struct {
	ConnectionURIDomain string `json:"connectionUriDomain"`
	AppID               string `json:"appId"`
	TenantID            string `json:"tenantId"`
}

// NewTenantIdentifier builds a normalized identifier. Empty components resolve
// to the well-known defaults.
func NewTenantIdentifier(connectionURIDomain, appID, tenantID string) TenantIdentifier {
	if appID == "" {
		appID = DefaultAppID
	}
	if tenantID == "" {
		tenantID = DefaultTenantID
	}
	return TenantIdentifier{
		ConnectionURIDomain: connectionURIDomain,
		AppID:               appID,
		TenantID:            tenantID,
	}
}

// DefaultTenantIdentifier returns the identifier of the tenant that always
// exists and can never be deleted.
func DefaultTenantIdentifier() TenantIdentifier {
	return NewTenantIdentifier("", "", "")
}

// IsDefaultTenant reports whether the tenant component is the default one.
func (ti TenantIdentifier) IsDefaultTenant() bool {
	return ti.TenantID == DefaultTenantID
}

// IsDefaultApp reports whether the app component is the default one.
func (ti TenantIdentifier) IsDefaultApp() bool {
	return ti.AppID == DefaultAppID
}

// IsDefaultConnectionURIDomain reports whether the domain component is the
// default one.
func (ti TenantIdentifier) IsDefaultConnectionURIDomain() bool {
	return ti.ConnectionURIDomain == DefaultConnectionURIDomain
}

// WithTenantID returns a copy of the identifier with only the tenant component
// replaced. Used when routing user/role attachments from a source tenant to a
// sibling tenant.
func (ti TenantIdentifier) WithTenantID(tenantID string) TenantIdentifier {
	return NewTenantIdentifier(ti.ConnectionURIDomain, ti.AppID, tenantID)
}

func (ti TenantIdentifier) String() string {
	cud := ti.ConnectionURIDomain
	if cud == DefaultConnectionURIDomain {
		cud = "<default>"
	}
	return fmt.Sprintf("(%s, %s, %s)", cud, ti.AppID, ti.TenantID)
}

// EmailPasswordConfig enables the email/password recipe for a tenant.
type EmailPasswordConfig struct {
	Enabled bool `json:"enabled"`
}

// ThirdPartyProvider is opaque to the control plane; the third-party recipe
// interprets it.
type ThirdPartyProvider struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Config JSONB  `json:"config,omitempty"`
}

// ThirdPartyConfig enables the third-party recipe and carries its providers.
type ThirdPartyConfig struct {
	Enabled   bool                 `json:"enabled"`
	Providers []ThirdPartyProvider `json:"providers,omitempty"`
}

// PasswordlessConfig enables the passwordless recipe for a tenant.
type PasswordlessConfig struct {
	Enabled bool `json:"enabled"`
}

// CoreConfig is the structured key/value configuration of one tenant. It may
// carry user-pool selectors that route the tenant to a specific physical
// database.
type CoreConfig map[string]interface{}

// Value implements driver.Valuer so CoreConfig persists as JSONB.
func (c CoreConfig) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *CoreConfig) Scan(value interface{}) error {
	if value == nil {
		*c = CoreConfig{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into CoreConfig", value)
	}
	if len(data) == 0 {
		*c = CoreConfig{}
		return nil
	}
	return json.Unmarshal(data, c)
}

// SigningKeyUpdateInterval reads an interval key expressed in hours, falling
// back to the process default when absent or malformed.
func (c CoreConfig) SigningKeyUpdateInterval(key string) time.Duration {
	raw, ok := c[key]
	if !ok {
		return DefaultSigningKeyUpdateInterval
	}
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Hour
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Hour
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return time.Duration(n) * time.Hour
		}
	}
	return DefaultSigningKeyUpdateInterval
}

// StringValue returns a string-typed core config entry or the fallback.
func (c CoreConfig) StringValue(key, fallback string) string {
	if raw, ok := c[key]; ok {
		if s, ok := raw.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

// UserPoolID derives the identity of the physical database hosting this
// tenant's user data. Tenants whose core config carries the same connection
// URI and database name share one pool.
func (c CoreConfig) UserPoolID() string {
	uri := c.StringValue(CoreConfigPostgresConnectionURI, "")
	dbName := c.StringValue(CoreConfigPostgresDatabaseName, "")
	if uri == "" && dbName == "" {
		return "default"
	}
	sum := sha256.Sum256([]byte(uri + "|" + dbName))
	return hex.EncodeToString(sum[:8])
}

// TenantConfig bundles everything the catalog knows about one tenant.
type TenantConfig struct {
	Identifier                         TenantIdentifier    `json:"tenantIdentifier"`
	EmailPassword                      EmailPasswordConfig `json:"emailPassword"`
	ThirdParty                         ThirdPartyConfig    `json:"thirdParty"`
	Passwordless                       PasswordlessConfig  `json:"passwordless"`
	CoreConfig                         CoreConfig          `json:"coreConfig"`
	AppIDMarkedAsDeleted               bool                `json:"-"`
	ConnectionURIDomainMarkedAsDeleted bool                `json:"-"`
}

// IsVisible reports whether neither parent of the tenant is soft-deleted.
func (tc TenantConfig) IsVisible() bool {
	return !tc.AppIDMarkedAsDeleted && !tc.ConnectionURIDomainMarkedAsDeleted
}

// UserPoolID is a convenience accessor over the core config.
func (tc TenantConfig) UserPoolID() string {
	return tc.CoreConfig.UserPoolID()
}

// TenantRow is the persisted catalog schema on the shared database: one row
// per tenant keyed by the identifier triple, with two soft-delete columns.
type TenantRow struct {
	ConnectionURIDomain string `gorm:"primaryKey;column:connection_uri_domain"`
	AppID               string `gorm:"primaryKey;column:app_id"`
	TenantID            string `gorm:"primaryKey;column:tenant_id"`

	EmailPasswordConfig JSONB      `gorm:"column:email_password_config;type:jsonb"`
	ThirdPartyConfig    JSONB      `gorm:"column:third_party_config;type:jsonb"`
	PasswordlessConfig  JSONB      `gorm:"column:passwordless_config;type:jsonb"`
	CoreConfig          CoreConfig `gorm:"column:core_config;type:jsonb"`

	AppIDMarkedAsDeleted               bool `gorm:"column:app_id_marked_as_deleted"`
	ConnectionURIDomainMarkedAsDeleted bool `gorm:"column:connection_uri_domain_marked_as_deleted"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the gorm default
func (TenantRow) TableName() string {
	return "tenant_configs"
}

// Identifier reconstructs the identifier triple of the row.
func (r TenantRow) Identifier() TenantIdentifier {
	return NewTenantIdentifier(r.ConnectionURIDomain, r.AppID, r.TenantID)
}

// ToConfig decodes the row into the in-memory TenantConfig.
func (r TenantRow) ToConfig() (TenantConfig, error) {
	cfg := TenantConfig{
		Identifier:                         r.Identifier(),
		CoreConfig:                         r.CoreConfig,
		AppIDMarkedAsDeleted:               r.AppIDMarkedAsDeleted,
		ConnectionURIDomainMarkedAsDeleted: r.ConnectionURIDomainMarkedAsDeleted,
	}
	if cfg.CoreConfig == nil {
		cfg.CoreConfig = CoreConfig{}
	}
	if len(r.EmailPasswordConfig) > 0 {
		if err := json.Unmarshal(r.EmailPasswordConfig, &cfg.EmailPassword); err != nil {
			return TenantConfig{}, fmt.Errorf("decoding email password config for %s: %w", cfg.Identifier, err)
		}
	}
	if len(r.ThirdPartyConfig) > 0 {
		if err := json.Unmarshal(r.ThirdPartyConfig, &cfg.ThirdParty); err != nil {
			return TenantConfig{}, fmt.Errorf("decoding third party config for %s: %w", cfg.Identifier, err)
		}
	}
	if len(r.PasswordlessConfig) > 0 {
		if err := json.Unmarshal(r.PasswordlessConfig, &cfg.Passwordless); err != nil {
			return TenantConfig{}, fmt.Errorf("decoding passwordless config for %s: %w", cfg.Identifier, err)
		}
	}
	return cfg, nil
}

// RowFromConfig encodes a TenantConfig into its catalog row.
func RowFromConfig(cfg TenantConfig) (TenantRow, error) {
	ep, err := json.Marshal(cfg.EmailPassword)
	if err != nil {
		return TenantRow{}, fmt.Errorf("encoding email password config: %w", err)
	}
	tp, err := json.Marshal(cfg.ThirdParty)
	if err != nil {
		return TenantRow{}, fmt.Errorf("encoding third party config: %w", err)
	}
	pl, err := json.Marshal(cfg.Passwordless)
	if err != nil {
		return TenantRow{}, fmt.Errorf("encoding passwordless config: %w", err)
	}
	core := cfg.CoreConfig
	if core == nil {
		core = CoreConfig{}
	}
	id := NewTenantIdentifier(cfg.Identifier.ConnectionURIDomain, cfg.Identifier.AppID, cfg.Identifier.TenantID)
	return TenantRow{
		ConnectionURIDomain:                id.ConnectionURIDomain,
		AppID:                              id.AppID,
		TenantID:                           id.TenantID,
		EmailPasswordConfig:                JSONB(ep),
		ThirdPartyConfig:                   JSONB(tp),
		PasswordlessConfig:                 JSONB(pl),
		CoreConfig:                         core,
		AppIDMarkedAsDeleted:               cfg.AppIDMarkedAsDeleted,
		ConnectionURIDomainMarkedAsDeleted: cfg.ConnectionURIDomainMarkedAsDeleted,
	}, nil
}

// DefaultTenantConfig is the seed row for the tenant that must always exist.
func DefaultTenantConfig() TenantConfig {
	return TenantConfig{
		Identifier:    DefaultTenantIdentifier(),
		EmailPassword: EmailPasswordConfig{Enabled: true},
		ThirdParty:    ThirdPartyConfig{Enabled: true},
		Passwordless:  PasswordlessConfig{Enabled: true},
		CoreConfig:    CoreConfig{},
	}
}
