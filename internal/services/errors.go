package services

import (
	"errors"
	"fmt"

	"authcore/internal/models"
)

// DefaultTenantProtectedError is returned when an operation would remove the
// default tenant, app, or connection URI domain.
type DefaultTenantProtectedError struct {
	Identifier models.TenantIdentifier
}

func (e *DefaultTenantProtectedError) Error() string {
	return fmt.Sprintf("the default tenant %s cannot be deleted", e.Identifier)
}

// IsDefaultTenantProtectedError checks if an error is a DefaultTenantProtectedError
func IsDefaultTenantProtectedError(err error) bool {
	var target *DefaultTenantProtectedError
	return errors.As(err, &target)
}

// HierarchyViolationError is returned when an operation is invoked from the
// wrong level of the tenant hierarchy, e.g. deleting an app through a
// non-default tenant.
type HierarchyViolationError struct {
	Identifier models.TenantIdentifier
	Reason     string
}

func (e *HierarchyViolationError) Error() string {
	return fmt.Sprintf("operation not permitted for %s: %s", e.Identifier, e.Reason)
}

// IsHierarchyViolationError checks if an error is a HierarchyViolationError
func IsHierarchyViolationError(err error) bool {
	var target *HierarchyViolationError
	return errors.As(err, &target)
}

// SameTenantError is returned when a user or role move targets the tenant it
// already lives in.
type SameTenantError struct {
	Identifier models.TenantIdentifier
}

func (e *SameTenantError) Error() string {
	return fmt.Sprintf("source and target tenant are both %s", e.Identifier)
}

// IsSameTenantError checks if an error is a SameTenantError
func IsSameTenantError(err error) bool {
	var target *SameTenantError
	return errors.As(err, &target)
}
