// Package store provides the in-memory registry of the conversation sessions.
//
// The sessions live for the lifetime of the process, they are not persisted
// and never evicted.
package store

// Store is a concurrency-safe map of the sessions
type Store[K comparable, V any] interface {
	// GetOrCreate returns the value for the key, or creates it with the factory.
	// The returned bool is true when the value was created by this call.
	GetOrCreate(key K, factory func() (V, error)) (V, bool, error)
	// Get returns the value for the key
	Get(key K) (V, bool)
	// Delete removes the value, and returns true if it existed
	Delete(key K) bool
	// Len returns the number of values
	Len() int
	// Keys returns the keys in unspecified order
	Keys() []K
}
