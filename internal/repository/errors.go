package repository

import (
	"errors"
	"fmt"

	"authcore/internal/models"
)

// DuplicateTenantError is returned when creating a tenant whose identifier
// already exists in the catalog.
type DuplicateTenantError struct {
	Identifier models.TenantIdentifier
}

func (e *DuplicateTenantError) Error() string {
	return fmt.Sprintf("tenant %s already exists", e.Identifier)
}

// IsDuplicateTenantError checks if an error is a DuplicateTenantError
func IsDuplicateTenantError(err error) bool {
	var target *DuplicateTenantError
	return errors.As(err, &target)
}

// UnknownTenantError is returned when an operation references a tenant that is
// not present in the store it targets.
type UnknownTenantError struct {
	Identifier models.TenantIdentifier
}

func (e *UnknownTenantError) Error() string {
	return fmt.Sprintf("tenant %s does not exist", e.Identifier)
}

// IsUnknownTenantError checks if an error is an UnknownTenantError
func IsUnknownTenantError(err error) bool {
	var target *UnknownTenantError
	return errors.As(err, &target)
}

// TenantOrAppNotFoundError is returned when a user-pool operation finds that
// the hierarchical parent of the target tenant is gone, typically because of a
// concurrent deletion.
type TenantOrAppNotFoundError struct {
	Identifier models.TenantIdentifier
}

func (e *TenantOrAppNotFoundError) Error() string {
	return fmt.Sprintf("tenant or app for %s not found in its user pool", e.Identifier)
}

// IsTenantOrAppNotFoundError checks if an error is a TenantOrAppNotFoundError
func IsTenantOrAppNotFoundError(err error) bool {
	var target *TenantOrAppNotFoundError
	return errors.As(err, &target)
}

// UnknownUserIDError is returned when attaching a user that does not exist in
// the tenant's user pool.
type UnknownUserIDError struct {
	UserID string
}

func (e *UnknownUserIDError) Error() string {
	return fmt.Sprintf("user %s does not exist", e.UserID)
}

// IsUnknownUserIDError checks if an error is an UnknownUserIDError
func IsUnknownUserIDError(err error) bool {
	var target *UnknownUserIDError
	return errors.As(err, &target)
}

// UnknownRoleError is returned when referencing a role that was never created
// for the tenant's app.
type UnknownRoleError struct {
	Role string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("role %s does not exist", e.Role)
}

// IsUnknownRoleError checks if an error is an UnknownRoleError
func IsUnknownRoleError(err error) bool {
	var target *UnknownRoleError
	return errors.As(err, &target)
}

// InvalidConfigError is returned when a tenant config violates a catalog
// invariant, e.g. two tenants of one app pointing at different user pools.
type InvalidConfigError struct {
	Identifier models.TenantIdentifier
	Reason     string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config for tenant %s: %s", e.Identifier, e.Reason)
}

// IsInvalidConfigError checks if an error is an InvalidConfigError
func IsInvalidConfigError(err error) bool {
	var target *InvalidConfigError
	return errors.As(err, &target)
}

// StorageQueryError wraps an unexpected database failure.
type StorageQueryError struct {
	Op  string
	Err error
}

func (e *StorageQueryError) Error() string {
	return fmt.Sprintf("storage query %s failed: %v", e.Op, e.Err)
}

func (e *StorageQueryError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageQueryError{Op: op, Err: err}
}
