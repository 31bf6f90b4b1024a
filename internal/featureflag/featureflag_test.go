package featureflag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagsSeedFromEnv(t *testing.T) {
	t.Setenv("AUTHCORE_ENABLED_FEATURES", "multi_tenancy, something_else ,")

	f := New()
	assert.True(t, f.IsEnabled(MultiTenancy))
	assert.True(t, f.IsEnabled("SOMETHING_ELSE"))
	assert.False(t, f.IsEnabled("ACCOUNT_LINKING"))
}

func TestFlagsRuntimeOverride(t *testing.T) {
	f := NewWithFeatures()
	assert.False(t, f.IsEnabled(MultiTenancy))

	f.SetEnabled(MultiTenancy, true)
	assert.True(t, f.IsEnabled(MultiTenancy))

	f.SetEnabled(MultiTenancy, false)
	assert.False(t, f.IsEnabled(MultiTenancy))
}

func TestFlagsCaseInsensitive(t *testing.T) {
	f := NewWithFeatures("multi_tenancy")
	assert.True(t, f.IsEnabled("MULTI_TENANCY"))
	assert.True(t, f.IsEnabled("multi_tenancy"))

	assert.ElementsMatch(t, []string{"MULTI_TENANCY"}, f.EnabledFeatures())
}
