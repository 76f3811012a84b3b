package registry

import (
	"context"
	"slices"
	"strings"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Area is an area registry entry.
type Area struct {
	AreaID              string   `json:"area_id"`
	Name                string   `json:"name"`
	Aliases             []string `json:"aliases"`
	FloorID             *string  `json:"floor_id"`
	HumidityEntityID    *string  `json:"humidity_entity_id"`
	TemperatureEntityID *string  `json:"temperature_entity_id"`
	Icon                *string  `json:"icon"`
	Labels              []string `json:"labels"`
	Picture             *string  `json:"picture"`
	CreatedAt           Time     `json:"created_at"`
	ModifiedAt          Time     `json:"modified_at"`
}

func (a *Area) key() string                       { return a.AreaID }
func (a *Area) stamps() (created, modified *Time) { return &a.CreatedAt, &a.ModifiedAt }

func (a *Area) clone() *Area {
	c := *a
	c.Aliases = slices.Clone(a.Aliases)
	c.Labels = slices.Clone(a.Labels)
	return &c
}

// AreaCreate holds the fields of a new area.
type AreaCreate struct {
	Name                string
	Aliases             []string
	FloorID             *string
	HumidityEntityID    *string
	TemperatureEntityID *string
	Icon                *string
	Labels              []string
	Picture             *string
}

// AreaUpdate is a partial update. Nil fields are left unchanged; an empty
// string clears a nullable field.
type AreaUpdate struct {
	Name                *string
	Aliases             *[]string
	FloorID             *string
	HumidityEntityID    *string
	TemperatureEntityID *string
	Icon                *string
	Labels              *[]string
	Picture             *string
}

// AreaRegistry tracks the rooms and zones of the home.
type AreaRegistry struct {
	s *store[Area, *Area]
}

// NewAreaRegistry creates an area registry. repo may be nil.
func NewAreaRegistry(b *bus.Bus, repo Repository) *AreaRegistry {
	return &AreaRegistry{s: newStore[Area](KindArea, core.EventAreaRegistryUpdated, "area_id", b, repo)}
}

// SetLogger sets the logger for the registry.
func (r *AreaRegistry) SetLogger(logger Logger) { r.s.logger = logger }

// Load replaces the in-memory areas with the persisted ones.
func (r *AreaRegistry) Load(ctx context.Context) error { return r.s.load(ctx) }

// List returns every area in creation order.
func (r *AreaRegistry) List() []*Area { return r.s.list() }

// Get returns the area with id, or nil.
func (r *AreaRegistry) Get(id string) *Area { return r.s.get(id) }

// Len returns the number of areas.
func (r *AreaRegistry) Len() int { return r.s.len() }

// GetByName returns the area whose name matches case-insensitively.
func (r *AreaRegistry) GetByName(name string) *Area {
	norm := normalizeName(name)
	return r.s.find(func(a *Area) bool { return normalizeName(a.Name) == norm })
}

// ForFloor returns the areas on the floor.
func (r *AreaRegistry) ForFloor(floorID string) []*Area {
	var out []*Area
	for _, a := range r.s.list() {
		if a.FloorID != nil && *a.FloorID == floorID {
			out = append(out, a)
		}
	}
	return out
}

// Create adds an area. The id is the slug of the name; names must be unique.
func (r *AreaRegistry) Create(ctx context.Context, c AreaCreate) (*Area, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return nil, core.NewValidationError("name", "name is required")
	}
	return r.s.create(ctx, func(v view[Area, *Area]) (*Area, error) {
		if err := areaNameFree(v, name, ""); err != nil {
			return nil, err
		}
		base := slugify(name)
		if base == "" {
			base = "unknown"
		}
		a := &Area{
			AreaID:              uniqueID(base, v.has),
			Name:                name,
			Aliases:             dedupe(c.Aliases),
			FloorID:             nonEmpty(c.FloorID),
			HumidityEntityID:    nonEmpty(c.HumidityEntityID),
			TemperatureEntityID: nonEmpty(c.TemperatureEntityID),
			Icon:                nonEmpty(c.Icon),
			Labels:              dedupe(c.Labels),
			Picture:             nonEmpty(c.Picture),
		}
		return a, nil
	})
}

// GetOrCreate returns the area named name, creating it when absent.
func (r *AreaRegistry) GetOrCreate(ctx context.Context, name string) (*Area, error) {
	if a := r.GetByName(name); a != nil {
		return a, nil
	}
	return r.Create(ctx, AreaCreate{Name: name})
}

// Update applies u to the area with id. Renaming keeps the id.
func (r *AreaRegistry) Update(ctx context.Context, id string, u AreaUpdate) (*Area, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return nil, core.NewValidationError("name", "name must not be empty")
	}
	return r.s.update(ctx, id, func(v view[Area, *Area], a *Area) error {
		if u.Name != nil {
			name := strings.TrimSpace(*u.Name)
			if err := areaNameFree(v, name, id); err != nil {
				return err
			}
			a.Name = name
		}
		if u.Aliases != nil {
			a.Aliases = dedupe(*u.Aliases)
		}
		if u.Labels != nil {
			a.Labels = dedupe(*u.Labels)
		}
		setNullable(&a.FloorID, u.FloorID)
		setNullable(&a.HumidityEntityID, u.HumidityEntityID)
		setNullable(&a.TemperatureEntityID, u.TemperatureEntityID)
		setNullable(&a.Icon, u.Icon)
		setNullable(&a.Picture, u.Picture)
		return nil
	})
}

// Remove deletes the area and reports whether it existed. Devices and
// entities that reference it are left untouched.
func (r *AreaRegistry) Remove(ctx context.Context, id string) (bool, error) {
	return r.s.remove(ctx, id)
}

func areaNameFree(v view[Area, *Area], name, self string) error {
	norm := normalizeName(name)
	if v.exists(func(a *Area) bool { return a.AreaID != self && normalizeName(a.Name) == norm }) {
		return core.NewValidationError("name", "The name %s (%s) is already in use", name, norm)
	}
	return nil
}

// nonEmpty maps an empty string to nil.
func nonEmpty(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return ptr(*v)
}
