// Package lease provides per-key mutual exclusion for deploy and teardown.
//
// Memory serializes callers inside one process. Redis extends the same
// guarantee across processes sharing a Redis server.
package lease

import (
	"context"
	"sync"

	"github.com/openfroyo/froyodeploy/pkg/engine"
)

// Memory is an in-process Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ engine.Locker = (*Memory)(nil)

// NewMemory creates an in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// TryAcquire implements engine.Locker. The returned release is idempotent.
func (m *Memory) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return nil, false, nil
	}
	m.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently held.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}
