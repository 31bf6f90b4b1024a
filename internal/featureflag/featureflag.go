package featureflag

import (
	"os"
	"strings"
	"sync"
)

// Feature names understood by the core.
const (
	MultiTenancy = "MULTI_TENANCY"
)

// Flags gates optional core behavior. The enabled set is seeded from the
// AUTHCORE_ENABLED_FEATURES environment variable (comma separated) and can be
// overridden at runtime, which tests rely on.
type Flags struct {
	mu      sync.RWMutex
	enabled map[string]bool
}

// New seeds the flag set from the environment.
func New() *Flags {
	f := &Flags{enabled: make(map[string]bool)}
	for _, name := range strings.Split(os.Getenv("AUTHCORE_ENABLED_FEATURES"), ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			f.enabled[strings.ToUpper(name)] = true
		}
	}
	return f
}

// NewWithFeatures builds a flag set with an explicit enabled list.
func NewWithFeatures(features ...string) *Flags {
	f := &Flags{enabled: make(map[string]bool, len(features))}
	for _, name := range features {
		f.enabled[strings.ToUpper(name)] = true
	}
	return f
}

// IsEnabled reports whether a feature is on.
func (f *Flags) IsEnabled(feature string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.enabled[strings.ToUpper(feature)]
}

// SetEnabled flips a feature at runtime.
func (f *Flags) SetEnabled(feature string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on {
		f.enabled[strings.ToUpper(feature)] = true
	} else {
		delete(f.enabled, strings.ToUpper(feature))
	}
}

// EnabledFeatures lists the currently enabled feature names.
func (f *Flags) EnabledFeatures() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.enabled))
	for name := range f.enabled {
		out = append(out, name)
	}
	return out
}
