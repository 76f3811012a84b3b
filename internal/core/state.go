package core

import (
	"maps"
	"strings"
)

// State is an immutable snapshot of one entity.
//
// LastChanged moves only when the State string differs from the prior value;
// LastUpdated and LastReported move on every write.
type State struct {
	EntityID     string         `json:"entity_id"`
	State        string         `json:"state"`
	Attributes   map[string]any `json:"attributes"`
	LastChanged  Timestamp      `json:"last_changed"`
	LastReported Timestamp      `json:"last_reported"`
	LastUpdated  Timestamp      `json:"last_updated"`
	Context      *Context       `json:"context"`
}

// NewState builds the successor of prev (which may be nil) for a write at now.
// The attribute map is copied.
func NewState(id EntityID, value string, attrs map[string]any, prev *State, ctx *Context, now Timestamp) *State {
	s := &State{
		EntityID:     id.String(),
		State:        value,
		Attributes:   cloneAttributes(attrs),
		LastChanged:  now,
		LastReported: now,
		LastUpdated:  now,
		Context:      ctx.OrNew(),
	}
	if prev != nil && prev.State == value {
		s.LastChanged = prev.LastChanged
	}
	return s
}

// Domain returns the domain segment of the entity id.
func (s *State) Domain() string {
	d, _, _ := strings.Cut(s.EntityID, ".")
	return d
}

// ObjectID returns the object id segment of the entity id.
func (s *State) ObjectID() string {
	_, o, _ := strings.Cut(s.EntityID, ".")
	return o
}

// Attribute returns a single attribute value.
func (s *State) Attribute(name string) (any, bool) {
	v, ok := s.Attributes[name]
	return v, ok
}

func cloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	return maps.Clone(attrs)
}
