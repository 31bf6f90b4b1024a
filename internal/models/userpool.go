package models

import "time"

// The user-pool schema lives in whichever physical database a tenant's core
// config routes it to. Several tenants may share one pool; rows are therefore
// always qualified by the full identifier triple.

// PoolTenant records membership of a tenant inside the physical database that
// hosts its user pool.
type PoolTenant struct {
	ConnectionURIDomain string    `gorm:"primaryKey;column:connection_uri_domain"`
	AppID               string    `gorm:"primaryKey;column:app_id"`
	TenantID            string    `gorm:"primaryKey;column:tenant_id"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the gorm default
func (PoolTenant) TableName() string {
	return "pool_tenants"
}

// Identifier reconstructs the identifier triple of the row.
func (p PoolTenant) Identifier() TenantIdentifier {
	return NewTenantIdentifier(p.ConnectionURIDomain, p.AppID, p.TenantID)
}

// PoolUser is a user row inside a user pool. Users belong to an app; tenant
// membership is tracked separately in PoolUserTenant.
type PoolUser struct {
	AppID     string    `gorm:"primaryKey;column:app_id"`
	UserID    string    `gorm:"primaryKey;column:user_id"`
	Email     string    `gorm:"column:email"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the gorm default
func (PoolUser) TableName() string {
	return "pool_users"
}

// PoolUserTenant associates a user with one tenant of its app.
type PoolUserTenant struct {
	ConnectionURIDomain string    `gorm:"primaryKey;column:connection_uri_domain"`
	AppID               string    `gorm:"primaryKey;column:app_id"`
	TenantID            string    `gorm:"primaryKey;column:tenant_id"`
	UserID              string    `gorm:"primaryKey;column:user_id"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the gorm default
func (PoolUserTenant) TableName() string {
	return "pool_user_tenants"
}

// PoolRole is a role defined for an app inside a user pool.
type PoolRole struct {
	AppID     string    `gorm:"primaryKey;column:app_id"`
	Role      string    `gorm:"primaryKey;column:role"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the gorm default
func (PoolRole) TableName() string {
	return "pool_roles"
}

// PoolRolePermission holds one permission granted to a role.
type PoolRolePermission struct {
	AppID      string `gorm:"primaryKey;column:app_id"`
	Role       string `gorm:"primaryKey;column:role"`
	Permission string `gorm:"primaryKey;column:permission"`
}

// TableName overrides the gorm default
func (PoolRolePermission) TableName() string {
	return "pool_role_permissions"
}

// PoolTenantRole associates an app-level role with one tenant of the app.
type PoolTenantRole struct {
	ConnectionURIDomain string    `gorm:"primaryKey;column:connection_uri_domain"`
	AppID               string    `gorm:"primaryKey;column:app_id"`
	TenantID            string    `gorm:"primaryKey;column:tenant_id"`
	Role                string    `gorm:"primaryKey;column:role"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the gorm default
func (PoolTenantRole) TableName() string {
	return "pool_tenant_roles"
}
