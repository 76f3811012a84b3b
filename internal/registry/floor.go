package registry

import (
	"context"
	"slices"
	"strings"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Floor is a floor registry entry.
type Floor struct {
	FloorID    string   `json:"floor_id"`
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases"`
	Icon       *string  `json:"icon"`
	Level      *int     `json:"level"`
	CreatedAt  Time     `json:"created_at"`
	ModifiedAt Time     `json:"modified_at"`
}

func (f *Floor) key() string                       { return f.FloorID }
func (f *Floor) stamps() (created, modified *Time) { return &f.CreatedAt, &f.ModifiedAt }

func (f *Floor) clone() *Floor {
	c := *f
	c.Aliases = slices.Clone(f.Aliases)
	if f.Level != nil {
		c.Level = ptr(*f.Level)
	}
	return &c
}

// FloorCreate holds the fields of a new floor.
type FloorCreate struct {
	Name    string
	Aliases []string
	Icon    *string
	Level   *int
}

// FloorUpdate is a partial update. ClearLevel sets level to null.
type FloorUpdate struct {
	Name       *string
	Aliases    *[]string
	Icon       *string
	Level      *int
	ClearLevel bool
}

// FloorRegistry tracks the floors of the home.
type FloorRegistry struct {
	s *store[Floor, *Floor]
}

// NewFloorRegistry creates a floor registry. repo may be nil.
func NewFloorRegistry(b *bus.Bus, repo Repository) *FloorRegistry {
	return &FloorRegistry{s: newStore[Floor](KindFloor, core.EventFloorRegistryUpdated, "floor_id", b, repo)}
}

// SetLogger sets the logger for the registry.
func (r *FloorRegistry) SetLogger(logger Logger) { r.s.logger = logger }

// Load replaces the in-memory floors with the persisted ones.
func (r *FloorRegistry) Load(ctx context.Context) error { return r.s.load(ctx) }

// List returns every floor in creation order.
func (r *FloorRegistry) List() []*Floor { return r.s.list() }

// Get returns the floor with id, or nil.
func (r *FloorRegistry) Get(id string) *Floor { return r.s.get(id) }

// Len returns the number of floors.
func (r *FloorRegistry) Len() int { return r.s.len() }

// GetByName returns the floor whose name matches case-insensitively.
func (r *FloorRegistry) GetByName(name string) *Floor {
	norm := normalizeName(name)
	return r.s.find(func(f *Floor) bool { return normalizeName(f.Name) == norm })
}

// Create adds a floor.
func (r *FloorRegistry) Create(ctx context.Context, c FloorCreate) (*Floor, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return nil, core.NewValidationError("name", "name is required")
	}
	return r.s.create(ctx, func(v view[Floor, *Floor]) (*Floor, error) {
		if err := floorNameFree(v, name, ""); err != nil {
			return nil, err
		}
		base := slugify(name)
		if base == "" {
			base = "unknown"
		}
		f := &Floor{
			FloorID: uniqueID(base, v.has),
			Name:    name,
			Aliases: dedupe(c.Aliases),
			Icon:    nonEmpty(c.Icon),
		}
		if c.Level != nil {
			f.Level = ptr(*c.Level)
		}
		return f, nil
	})
}

// Update applies u to the floor with id.
func (r *FloorRegistry) Update(ctx context.Context, id string, u FloorUpdate) (*Floor, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return nil, core.NewValidationError("name", "name must not be empty")
	}
	return r.s.update(ctx, id, func(v view[Floor, *Floor], f *Floor) error {
		if u.Name != nil {
			name := strings.TrimSpace(*u.Name)
			if err := floorNameFree(v, name, id); err != nil {
				return err
			}
			f.Name = name
		}
		if u.Aliases != nil {
			f.Aliases = dedupe(*u.Aliases)
		}
		setNullable(&f.Icon, u.Icon)
		switch {
		case u.ClearLevel:
			f.Level = nil
		case u.Level != nil:
			f.Level = ptr(*u.Level)
		}
		return nil
	})
}

// Remove deletes the floor and reports whether it existed.
func (r *FloorRegistry) Remove(ctx context.Context, id string) (bool, error) {
	return r.s.remove(ctx, id)
}

func floorNameFree(v view[Floor, *Floor], name, self string) error {
	norm := normalizeName(name)
	if v.exists(func(f *Floor) bool { return f.FloorID != self && normalizeName(f.Name) == norm }) {
		return core.NewValidationError("name", "The name %s (%s) is already in use", name, norm)
	}
	return nil
}
