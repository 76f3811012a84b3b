package registry

import (
	"context"
	"strings"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Label is a label registry entry.
type Label struct {
	LabelID     string  `json:"label_id"`
	Name        string  `json:"name"`
	Color       *string `json:"color"`
	Description *string `json:"description"`
	Icon        *string `json:"icon"`
	CreatedAt   Time    `json:"created_at"`
	ModifiedAt  Time    `json:"modified_at"`
}

func (l *Label) key() string                       { return l.LabelID }
func (l *Label) stamps() (created, modified *Time) { return &l.CreatedAt, &l.ModifiedAt }

func (l *Label) clone() *Label {
	c := *l
	return &c
}

// LabelCreate holds the fields of a new label.
type LabelCreate struct {
	Name        string
	Color       *string
	Description *string
	Icon        *string
}

// LabelUpdate is a partial update. Nil fields are left unchanged; an empty
// string clears a nullable field.
type LabelUpdate struct {
	Name        *string
	Color       *string
	Description *string
	Icon        *string
}

// LabelRegistry tracks user-defined labels.
type LabelRegistry struct {
	s *store[Label, *Label]
}

// NewLabelRegistry creates a label registry. repo may be nil.
func NewLabelRegistry(b *bus.Bus, repo Repository) *LabelRegistry {
	return &LabelRegistry{s: newStore[Label](KindLabel, core.EventLabelRegistryUpdated, "label_id", b, repo)}
}

// SetLogger sets the logger for the registry.
func (r *LabelRegistry) SetLogger(logger Logger) { r.s.logger = logger }

// Load replaces the in-memory labels with the persisted ones.
func (r *LabelRegistry) Load(ctx context.Context) error { return r.s.load(ctx) }

// List returns every label in creation order.
func (r *LabelRegistry) List() []*Label { return r.s.list() }

// Get returns the label with id, or nil.
func (r *LabelRegistry) Get(id string) *Label { return r.s.get(id) }

// Len returns the number of labels.
func (r *LabelRegistry) Len() int { return r.s.len() }

// Create adds a label.
func (r *LabelRegistry) Create(ctx context.Context, c LabelCreate) (*Label, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return nil, core.NewValidationError("name", "name is required")
	}
	return r.s.create(ctx, func(v view[Label, *Label]) (*Label, error) {
		if err := labelNameFree(v, name, ""); err != nil {
			return nil, err
		}
		base := slugify(name)
		if base == "" {
			base = "label"
		}
		return &Label{
			LabelID:     uniqueID(base, v.has),
			Name:        name,
			Color:       nonEmpty(c.Color),
			Description: nonEmpty(c.Description),
			Icon:        nonEmpty(c.Icon),
		}, nil
	})
}

// Update applies u to the label with id.
func (r *LabelRegistry) Update(ctx context.Context, id string, u LabelUpdate) (*Label, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return nil, core.NewValidationError("name", "name must not be empty")
	}
	return r.s.update(ctx, id, func(v view[Label, *Label], l *Label) error {
		if u.Name != nil {
			name := strings.TrimSpace(*u.Name)
			if err := labelNameFree(v, name, id); err != nil {
				return err
			}
			l.Name = name
		}
		setNullable(&l.Color, u.Color)
		setNullable(&l.Description, u.Description)
		setNullable(&l.Icon, u.Icon)
		return nil
	})
}

// Remove deletes the label and reports whether it existed.
func (r *LabelRegistry) Remove(ctx context.Context, id string) (bool, error) {
	return r.s.remove(ctx, id)
}

func labelNameFree(v view[Label, *Label], name, self string) error {
	norm := normalizeName(name)
	if v.exists(func(l *Label) bool { return l.LabelID != self && normalizeName(l.Name) == norm }) {
		return core.NewValidationError("name", "The name %s (%s) is already in use", name, norm)
	}
	return nil
}
