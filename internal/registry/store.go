package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Actions reported by *_registry_updated events.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionRemove = "remove"
)

// Logger defines the logging interface used by the registries.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is implemented by pointers to every registry entry type.
type entry[T any] interface {
	*T
	key() string
	stamps() (created, modified *Time)
	clone() *T
}

// store is the map, ordering, persistence and event plumbing shared by the
// five registries. Entries keep insertion order; an entity rename keeps its
// position.
type store[T any, P entry[T]] struct {
	kind      Kind
	eventType string
	idField   string
	bus       *bus.Bus
	repo      Repository
	logger    Logger

	// extra adds kind-specific keys to update events.
	extra func(action string, old, cur P) map[string]any

	mu    sync.RWMutex
	items map[string]P
	order []string
}

func newStore[T any, P entry[T]](kind Kind, eventType, idField string, b *bus.Bus, repo Repository) *store[T, P] {
	return &store[T, P]{
		kind:      kind,
		eventType: eventType,
		idField:   idField,
		bus:       b,
		repo:      repo,
		logger:    noopLogger{},
		items:     make(map[string]P),
	}
}

func (s *store[T, P]) load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	records, err := s.repo.List(ctx, s.kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]P, len(records))
	s.order = s.order[:0]
	for _, rec := range records {
		item := P(new(T))
		if err := json.Unmarshal(rec.Data, item); err != nil {
			return fmt.Errorf("decoding %s %s: %w", s.kind, rec.ID, err)
		}
		created, modified := item.stamps()
		*created, *modified = rec.CreatedAt, rec.ModifiedAt
		id := item.key()
		if _, dup := s.items[id]; dup {
			continue
		}
		s.items[id] = item
		s.order = append(s.order, id)
	}
	s.logger.Debug("registry loaded", "kind", string(s.kind), "count", len(s.order))
	return nil
}

func (s *store[T, P]) get(id string) P {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil
	}
	return item.clone()
}

func (s *store[T, P]) list() []P {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]P, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].clone())
	}
	return out
}

// find returns a copy of the first entry matching pred.
func (s *store[T, P]) find(pred func(P) bool) P {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if item := s.items[id]; pred(item) {
			return item.clone()
		}
	}
	return nil
}

func (s *store[T, P]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// view is the read access a build or mutate callback gets while the store
// lock is held.
type view[T any, P entry[T]] struct {
	s *store[T, P]
}

func (v view[T, P]) has(id string) bool {
	_, ok := v.s.items[id]
	return ok
}

func (v view[T, P]) exists(pred func(P) bool) bool {
	for _, item := range v.s.items {
		if pred(item) {
			return true
		}
	}
	return false
}

// create builds a new entry under the lock, persists it and fires create.
func (s *store[T, P]) create(ctx context.Context, build func(v view[T, P]) (P, error)) (P, error) {
	s.mu.Lock()
	item, err := build(view[T, P]{s})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	id := item.key()
	if _, exists := s.items[id]; exists {
		s.mu.Unlock()
		return nil, core.NewValidationError(s.idField, "%s %q already exists", s.kind, id)
	}
	created, modified := item.stamps()
	*created = now()
	*modified = *created

	if err := s.save(ctx, item); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.items[id] = item
	s.order = append(s.order, id)
	s.enqueue(ActionCreate, nil, item)
	out := item.clone()
	s.mu.Unlock()

	s.bus.Flush()
	s.logger.Info("registry entry created", "kind", string(s.kind), "id", id)
	return out, nil
}

// update applies mutate to a copy of the entry and commits it. mutate may
// change the key; the caller is responsible for validating the new key.
func (s *store[T, P]) update(ctx context.Context, id string, mutate func(v view[T, P], next P) error) (P, error) {
	s.mu.Lock()
	cur, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return nil, &core.NotFoundError{Kind: string(s.kind), ID: id}
	}
	next := P(cur.clone())
	if err := mutate(view[T, P]{s}, next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	created, modified := next.stamps()
	oldCreated, oldModified := cur.stamps()
	*created = *oldCreated
	*modified = after(*oldModified)

	newID := next.key()
	if newID != id {
		if _, taken := s.items[newID]; taken {
			s.mu.Unlock()
			return nil, core.NewValidationError(s.idField, "%s %q already exists", s.kind, newID)
		}
		if err := s.rename(ctx, id, next); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		delete(s.items, id)
		s.order[slices.Index(s.order, id)] = newID
	} else if err := s.save(ctx, next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.items[newID] = next
	s.enqueue(ActionUpdate, cur, next)
	out := next.clone()
	s.mu.Unlock()

	s.bus.Flush()
	s.logger.Debug("registry entry updated", "kind", string(s.kind), "id", newID)
	return out, nil
}

// remove deletes the entry and reports whether it existed.
func (s *store[T, P]) remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	cur, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	if s.repo != nil {
		if err := s.repo.Delete(ctx, s.kind, id); err != nil {
			s.mu.Unlock()
			return false, err
		}
	}
	delete(s.items, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	s.enqueue(ActionRemove, cur, nil)
	s.mu.Unlock()

	s.bus.Flush()
	s.logger.Info("registry entry removed", "kind", string(s.kind), "id", id)
	return true, nil
}

func (s *store[T, P]) record(item P) (Record, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return Record{}, fmt.Errorf("encoding %s %s: %w", s.kind, item.key(), err)
	}
	created, modified := item.stamps()
	return Record{Kind: s.kind, ID: item.key(), Data: data, CreatedAt: *created, ModifiedAt: *modified}, nil
}

func (s *store[T, P]) save(ctx context.Context, item P) error {
	if s.repo == nil {
		return nil
	}
	rec, err := s.record(item)
	if err != nil {
		return err
	}
	return s.repo.Save(ctx, rec)
}

func (s *store[T, P]) rename(ctx context.Context, oldID string, item P) error {
	if s.repo == nil {
		return nil
	}
	rec, err := s.record(item)
	if err != nil {
		return err
	}
	return s.repo.Rename(ctx, s.kind, oldID, rec)
}

// enqueue queues the update event; the caller holds s.mu and flushes after
// releasing it.
func (s *store[T, P]) enqueue(action string, old, cur P) {
	ref := cur
	if ref == nil {
		ref = old
	}
	data := map[string]any{
		"action":  action,
		s.idField: ref.key(),
	}
	if s.extra != nil {
		maps.Copy(data, s.extra(action, old, cur))
	}
	s.bus.Enqueue(core.NewEvent(s.eventType, data, nil))
}
