package relay

import (
	"errors"
	"sync"
)

// Registry holds one entry per viewer-facing transport.
type Registry interface {
	// Register inserts entry. It fails with ErrDuplicateTransport if the id is
	// already present.
	Register(entry TransportEntry) error

	// Lookup returns a copy of the entry for id.
	Lookup(id TransportID) (TransportEntry, bool)

	// MarkConnected records that the transport completed its connect call.
	MarkConnected(id TransportID) error

	// Remove deletes id. Removing an absent id is a no-op.
	Remove(id TransportID)

	// RemoveOwnedBy deletes and returns every entry registered by owner.
	RemoveOwnedBy(owner ViewerID) []TransportEntry

	// Count returns the number of registered transports. Used for metrics.
	Count() int
}

var (
	// ErrDuplicateTransport means the engine handed out an id twice.
	ErrDuplicateTransport = errors.New("transport id already registered")

	// ErrTransportNotFound is returned by MarkConnected for unknown ids.
	ErrTransportNotFound = errors.New("transport not found")
)

// InMemoryRegistry is a concurrency-safe in-memory implementation of Registry.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	entries map[TransportID]*TransportEntry
}

// NewInMemoryRegistry returns an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{entries: make(map[TransportID]*TransportEntry)}
}

// Register implements Registry.Register.
func (r *InMemoryRegistry) Register(entry TransportEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.ID]; exists {
		return ErrDuplicateTransport
	}
	r.entries[entry.ID] = &entry
	return nil
}

// Lookup implements Registry.Lookup.
func (r *InMemoryRegistry) Lookup(id TransportID) (TransportEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return TransportEntry{}, false
	}
	return *e, true
}

// MarkConnected implements Registry.MarkConnected.
func (r *InMemoryRegistry) MarkConnected(id TransportID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrTransportNotFound
	}
	e.Connected = true
	return nil
}

// Remove implements Registry.Remove.
func (r *InMemoryRegistry) Remove(id TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// RemoveOwnedBy implements Registry.RemoveOwnedBy.
func (r *InMemoryRegistry) RemoveOwnedBy(owner ViewerID) []TransportEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []TransportEntry
	for id, e := range r.entries {
		if e.Owner == owner {
			removed = append(removed, *e)
			delete(r.entries, id)
		}
	}
	return removed
}

// Count implements Registry.Count.
func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
