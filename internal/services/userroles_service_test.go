package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"authcore/internal/models"
	"authcore/internal/repository"
)

type mockRoleStore struct {
	mock.Mock
}

func (m *mockRoleStore) CreateOrUpdateRole(ctx context.Context, id models.TenantIdentifier, role string, permissions []string) (bool, error) {
	args := m.Called(ctx, id, role, permissions)
	return args.Bool(0), args.Error(1)
}

func (m *mockRoleStore) GetPermissionsForRole(ctx context.Context, id models.TenantIdentifier, role string) ([]string, error) {
	args := m.Called(ctx, id, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type staticRoleRouter struct {
	store *mockRoleStore
}

func (r *staticRoleRouter) ForTenant(models.TenantIdentifier) RoleStore {
	return r.store
}

func TestGetPermissionsForRoleNormalizesIdentifier(t *testing.T) {
	store := &mockRoleStore{}
	svc := NewUserRolesService(&staticRoleRouter{store}, quietLogger())

	store.On("GetPermissionsForRole", mock.Anything, models.DefaultTenantIdentifier(), "admin").
		Return([]string{"read", "write"}, nil)

	permissions, err := svc.GetPermissionsForRole(context.Background(), models.TenantIdentifier{}, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, permissions)
}

func TestGetPermissionsForRolePropagatesUnknownRole(t *testing.T) {
	store := &mockRoleStore{}
	svc := NewUserRolesService(&staticRoleRouter{store}, quietLogger())

	store.On("GetPermissionsForRole", mock.Anything, mock.Anything, "ghost").
		Return(nil, &repository.UnknownRoleError{Role: "ghost"})

	_, err := svc.GetPermissionsForRole(context.Background(), models.DefaultTenantIdentifier(), "ghost")
	require.Error(t, err)
	assert.True(t, repository.IsUnknownRoleError(err))
}

func TestCreateOrUpdateRoleReportsCreation(t *testing.T) {
	store := &mockRoleStore{}
	svc := NewUserRolesService(&staticRoleRouter{store}, quietLogger())

	id := models.NewTenantIdentifier("", "app1", "t1")
	store.On("CreateOrUpdateRole", mock.Anything, id, "admin", []string{"read"}).
		Return(true, nil).Once()
	store.On("CreateOrUpdateRole", mock.Anything, id, "admin", []string{"read", "write"}).
		Return(false, nil).Once()

	createdNew, err := svc.CreateOrUpdateRole(context.Background(), id, "admin", []string{"read"})
	require.NoError(t, err)
	assert.True(t, createdNew)

	createdNew, err = svc.CreateOrUpdateRole(context.Background(), id, "admin", []string{"read", "write"})
	require.NoError(t, err)
	assert.False(t, createdNew)
}
