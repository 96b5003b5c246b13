package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/agentsim/messaging"
	"github.com/signalsfoundry/agentsim/model"
)

var (
	// ErrEntityExists is returned when adding an entity whose ID is taken.
	ErrEntityExists = errors.New("entity already exists")
	// ErrEntityNotFound is returned when removing an unknown entity.
	ErrEntityNotFound = errors.New("entity not found")
)

// Entity is anything the registry can hold.
type Entity interface {
	ID() model.EntityID
}

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventEntityAdded EventType = iota
	EventEntityRemoved
)

func (e EventType) String() string {
	switch e {
	case EventEntityAdded:
		return "added"
	case EventEntityRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when an entity is added or removed.
type Event struct {
	Type   EventType
	Entity Entity
}

// Registry is an in-memory, thread-safe store of simulation entities keyed
// by ID. Iteration follows insertion order so ticks are reproducible.
//
// Registry implements messaging.Directory: telegrams addressed to an entity
// are routed to it when it implements messaging.Receiver.
type Registry struct {
	mu sync.RWMutex

	byID  map[model.EntityID]Entity
	order []Entity

	subs   map[int]func(Event)
	nextID int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[model.EntityID]Entity),
		subs: make(map[int]func(Event)),
	}
}

// Add registers e. It returns ErrEntityExists if the ID is already taken.
func (r *Registry) Add(e Entity) error {
	r.mu.Lock()
	id := e.ID()
	if _, exists := r.byID[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: id %d", ErrEntityExists, id)
	}
	r.byID[id] = e
	r.order = append(r.order, e)
	subs := r.snapshotSubs()
	r.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(Event{Type: EventEntityAdded, Entity: e})
	}
	return nil
}

// Remove unregisters the entity with the given ID and returns it.
func (r *Registry) Remove(id model.EntityID) (Entity, error) {
	r.mu.Lock()
	e, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: id %d", ErrEntityNotFound, id)
	}
	delete(r.byID, id)
	for i, o := range r.order {
		if o.ID() == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	subs := r.snapshotSubs()
	r.mu.Unlock()

	for _, sub := range subs {
		sub(Event{Type: EventEntityRemoved, Entity: e})
	}
	return e, nil
}

// Get returns the entity with the given ID.
func (r *Registry) Get(id model.EntityID) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// Receiver implements messaging.Directory.
func (r *Registry) Receiver(id model.EntityID) (messaging.Receiver, bool) {
	e, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	rec, ok := e.(messaging.Receiver)
	return rec, ok
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns a snapshot of all entities in insertion order.
func (r *Registry) List() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entity(nil), r.order...)
}

// Each calls fn for every entity in insertion order over a snapshot, so fn
// may add or remove entities.
func (r *Registry) Each(fn func(Entity)) {
	for _, e := range r.List() {
		fn(e)
	}
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// snapshotSubs returns subscribers in registration order. Callers hold mu.
func (r *Registry) snapshotSubs() []func(Event) {
	out := make([]func(Event), 0, len(r.subs))
	for i := 0; i < r.nextID; i++ {
		if fn, ok := r.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
