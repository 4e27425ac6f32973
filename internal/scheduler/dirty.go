package scheduler

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// EntityType identifies what kind of record a dirty marker refers to.
type EntityType string

const (
	EntityTask    EntityType = "task"
	EntityProject EntityType = "project"
	EntityUser    EntityType = "user"
)

// EntityKey is one dirty marker.
type EntityKey struct {
	Type EntityType
	ID   uuid.UUID
}

// DirtyTracker is a concurrency-safe set of changed entities. Request
// handling code marks entities as changed; the immediate loop is the
// sole consumer, draining the set atomically. Periodic runs skip
// entities currently in the set so the immediate loop wins the race for
// freshly-changed entities.
type DirtyTracker struct {
	mu  sync.Mutex
	set map[EntityKey]struct{}
}

// NewDirtyTracker creates an empty tracker.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{set: make(map[EntityKey]struct{})}
}

// MarkChanged flags an entity for immediate recomputation. Marking an
// already-dirty entity is a no-op.
func (d *DirtyTracker) MarkChanged(entityType EntityType, id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set[EntityKey{Type: entityType, ID: id}] = struct{}{}
}

// Contains reports whether the entity is currently flagged.
func (d *DirtyTracker) Contains(entityType EntityType, id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.set[EntityKey{Type: entityType, ID: id}]
	return ok
}

// Drain atomically removes and returns all flagged entities, ordered by
// type then ID for deterministic processing.
func (d *DirtyTracker) Drain() []EntityKey {
	d.mu.Lock()
	keys := make([]EntityKey, 0, len(d.set))
	for k := range d.set {
		keys = append(keys, k)
	}
	d.set = make(map[EntityKey]struct{})
	d.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].ID.String() < keys[j].ID.String()
	})
	return keys
}

// Len returns the number of flagged entities.
func (d *DirtyTracker) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.set)
}
