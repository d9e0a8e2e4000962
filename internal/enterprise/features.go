// Package enterprise holds the enterprise feature flags of the instance.
package enterprise

import (
	"sort"
	"strings"
	"sync/atomic"
)

// FeatureDateAlerts gates the date alert job.
const FeatureDateAlerts = "date_alerts"

// Features is a concurrency-safe set of enabled feature names.
// The zero value has nothing enabled.
type Features struct {
	set atomic.Pointer[map[string]struct{}]
}

func NewFeatures(names ...string) *Features {
	f := &Features{}
	f.Apply(names)
	return f
}

// Apply replaces the enabled set.
func (f *Features) Apply(names []string) {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = normalize(n)
		if n == "" {
			continue
		}
		m[n] = struct{}{}
	}
	f.set.Store(&m)
}

func (f *Features) Enabled(name string) bool {
	if f == nil {
		return false
	}
	m := f.set.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[normalize(name)]
	return ok
}

// List returns the enabled names sorted.
func (f *Features) List() []string {
	if f == nil {
		return nil
	}
	m := f.set.Load()
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(*m))
	for n := range *m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
