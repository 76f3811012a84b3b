// Package state holds the hub's entity state map.
//
// Every Set and Remove fires exactly one state_changed event. Events are
// queued while the store lock is held and delivered after it is released,
// so listeners may read or write the store without deadlocking and observe
// changes in mutation order.
package state

import (
	"slices"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Store maps entity ids to their current State. It is safe for concurrent use.
type Store struct {
	bus    *bus.Bus
	mu     sync.RWMutex
	states map[string]*core.State
	now    func() core.Timestamp
}

// NewStore creates an empty store that fires events on b.
func NewStore(b *bus.Bus) *Store {
	return &Store{
		bus:    b,
		states: make(map[string]*core.State),
		now:    core.Now,
	}
}

// Set creates or replaces the state of entityID. The previous LastChanged is
// kept when value is unchanged. ctx may be nil.
func (s *Store) Set(entityID, value string, attrs map[string]any, ctx *core.Context) (*core.State, error) {
	id, err := core.ParseEntityID(entityID)
	if err != nil {
		return nil, err
	}
	ctx = ctx.OrNew()

	s.mu.Lock()
	key := id.String()
	old := s.states[key]
	next := core.NewState(id, value, attrs, old, ctx, s.now())
	s.states[key] = next
	s.bus.Enqueue(core.NewEvent(core.EventStateChanged, core.StateChangedData(key, old, next), ctx))
	s.mu.Unlock()

	s.bus.Flush()
	return next, nil
}

// Get returns the current state, or nil if the entity has none.
func (s *Store) Get(entityID string) (*core.State, error) {
	id, err := core.ParseEntityID(entityID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[id.String()], nil
}

// Remove deletes the state of entityID and returns the prior value. Removing
// an absent entity returns nil without firing an event.
func (s *Store) Remove(entityID string, ctx *core.Context) (*core.State, error) {
	id, err := core.ParseEntityID(entityID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	key := id.String()
	old, ok := s.states[key]
	if !ok {
		s.mu.Unlock()
		return nil, nil
	}
	delete(s.states, key)
	s.bus.Enqueue(core.NewEvent(core.EventStateChanged, core.StateChangedData(key, old, nil), ctx.OrNew()))
	s.mu.Unlock()

	s.bus.Flush()
	return old, nil
}

// EntityIDs returns the sorted ids in domain, or every id when domain is empty.
func (s *Store) EntityIDs(domain string) []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.states))
	for key := range s.states {
		if domain == "" || inDomain(key, domain) {
			ids = append(ids, key)
		}
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// All returns the states in domain sorted by entity id, or every state when
// domain is empty.
func (s *Store) All(domain string) []*core.State {
	s.mu.RLock()
	out := make([]*core.State, 0, len(s.states))
	for key, st := range s.states {
		if domain == "" || inDomain(key, domain) {
			out = append(out, st)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *core.State) int { return strings.Compare(a.EntityID, b.EntityID) })
	return out
}

// Len returns the number of entities with a state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// IsState reports whether entityID currently has the given value.
func (s *Store) IsState(entityID, value string) bool {
	st, err := s.Get(entityID)
	return err == nil && st != nil && st.State == value
}

func inDomain(entityID, domain string) bool {
	return len(entityID) > len(domain) && entityID[len(domain)] == '.' && strings.HasPrefix(entityID, domain)
}
