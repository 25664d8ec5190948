// Package adapter translates generic queue mutations into calls against the
// remote system of record, one adapter per entity type.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tildaslashalef/shopsync/internal/records"
)

var (
	// ErrNoAdapter is returned when no adapter is registered for an entity type
	ErrNoAdapter = errors.New("no adapter registered")
	// ErrMissingRemoteID is returned when the remote acknowledged a create without an id
	ErrMissingRemoteID = errors.New("remote response has no id")
	// ErrUnresolvedReference is returned when a payload still points at a record the remote has never seen
	ErrUnresolvedReference = errors.New("payload references an unsynced record")
)

// PushResult is what the remote reported back for one mutation
type PushResult struct {
	// RemoteID is the server id of a created record; empty for updates and deletes
	RemoteID string
}

// RemoteRecord is one record pulled from the remote
type RemoteRecord struct {
	ID   string
	Data map[string]any
}

// Adapter pushes mutations of one entity type and pulls its remote collection
type Adapter interface {
	EntityType() records.EntityType
	Push(ctx context.Context, op records.Operation, id string, data map[string]any) (PushResult, error)
	Pull(ctx context.Context, since *time.Time) ([]RemoteRecord, error)
}

// Registry maps entity types to their adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[records.EntityType]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[records.EntityType]Adapter)}
}

// Register adds or replaces the adapter for its entity type
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.EntityType()] = a
}

// Get returns the adapter for an entity type
func (r *Registry) Get(entityType records.EntityType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[entityType]
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoAdapter, entityType)
	}
	return a, nil
}

// Types returns the registered entity types, known types in dependency order
// followed by any others sorted by name
func (r *Registry) Types() []records.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]records.EntityType, 0, len(r.adapters))
	for _, t := range records.AllEntityTypes() {
		if _, ok := r.adapters[t]; ok {
			types = append(types, t)
		}
	}

	var extra []records.EntityType
	for t := range r.adapters {
		if !slices.Contains(types, t) {
			extra = append(extra, t)
		}
	}
	slices.Sort(extra)

	return append(types, extra...)
}

// Len returns the number of registered adapters
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
