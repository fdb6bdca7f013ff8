package store

import (
	"sync"
)

// Registry is the in-memory Store
type Registry[K comparable, V any] struct {
	mu      sync.RWMutex
	storage map[K]V
}

var _ Store[string, any] = (*Registry[string, any])(nil)

// NewRegistry returns an empty Registry
func NewRegistry[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		storage: make(map[K]V),
	}
}

// GetOrCreate returns the value for the key, or creates it with the factory.
// The factory is called at most once per key, a failed factory stores nothing.
func (m *Registry[K, V]) GetOrCreate(key K, factory func() (V, error)) (V, bool, error) {
	if v, ok := m.Get(key); ok {
		return v, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.storage[key]; ok {
		return v, false, nil
	}

	v, err := factory()
	if err != nil {
		var empty V
		return empty, false, err
	}
	m.storage[key] = v
	return v, true, nil
}

// Get returns the value for the key
func (m *Registry[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.storage[key]
	return v, ok
}

// Delete removes the value, and returns true if it existed
func (m *Registry[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.storage[key]
	delete(m.storage, key)
	return ok
}

// Len returns the number of values
func (m *Registry[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.storage)
}

// Keys returns the keys in unspecified order
func (m *Registry[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, 0, len(m.storage))
	for k := range m.storage {
		keys = append(keys, k)
	}
	return keys
}
