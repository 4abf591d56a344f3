package automation

import (
	"sort"
	"strings"
	"sync"
)

// Redacted replaces secret values in logs, errors and reported config.
const Redacted = "[REDACTED]"

// Redactor remembers secret values and scrubs them from text.
type Redactor struct {
	mu     sync.RWMutex
	values map[string]struct{}
}

// NewRedactor creates a redactor seeded with values.
func NewRedactor(values ...string) *Redactor {
	r := &Redactor{values: make(map[string]struct{})}
	for _, v := range values {
		r.Add(v)
	}
	return r
}

// Add records a secret value. Empty values are ignored.
func (r *Redactor) Add(value string) {
	if value == "" {
		return
	}
	r.mu.Lock()
	r.values[value] = struct{}{}
	r.mu.Unlock()
}

// Redact replaces every recorded value in s. Longer values are replaced first
// so a secret containing another is removed whole.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	r.mu.RLock()
	values := make([]string, 0, len(r.values))
	for v := range r.values {
		values = append(values, v)
	}
	r.mu.RUnlock()

	sort.Slice(values, func(i, j int) bool { return len(values[i]) > len(values[j]) })
	for _, v := range values {
		s = strings.ReplaceAll(s, v, Redacted)
	}
	return s
}
