package registry

import (
	"context"
	"maps"
	"slices"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Hider and category values for entities.
const (
	HiddenByUser             = "user"
	HiddenByIntegration      = "integration"
	EntityCategoryConfig     = "config"
	EntityCategoryDiagnostic = "diagnostic"
)

// Entity is an entity registry entry. It is keyed by EntityID; ID is an
// opaque identifier that survives renames.
type Entity struct {
	EntityID            string                    `json:"entity_id"`
	ID                  string                    `json:"id"`
	UniqueID            *string                   `json:"unique_id"`
	Platform            string                    `json:"platform"`
	DeviceID            *string                   `json:"device_id"`
	ConfigEntryID       *string                   `json:"config_entry_id"`
	Name                *string                   `json:"name"`
	OriginalName        *string                   `json:"original_name"`
	Icon                *string                   `json:"icon"`
	OriginalIcon        *string                   `json:"original_icon"`
	AreaID              *string                   `json:"area_id"`
	DisabledBy          *string                   `json:"disabled_by"`
	HiddenBy            *string                   `json:"hidden_by"`
	EntityCategory      *string                   `json:"entity_category"`
	HasEntityName       bool                      `json:"has_entity_name"`
	Aliases             []string                  `json:"aliases"`
	Labels              []string                  `json:"labels"`
	Categories          map[string]string         `json:"categories"`
	Capabilities        map[string]any            `json:"capabilities"`
	DeviceClass         *string                   `json:"device_class"`
	OriginalDeviceClass *string                   `json:"original_device_class"`
	TranslationKey      *string                   `json:"translation_key"`
	Options             map[string]map[string]any `json:"options"`
	CreatedAt           Time                      `json:"created_at"`
	ModifiedAt          Time                      `json:"modified_at"`
}

func (e *Entity) key() string                       { return e.EntityID }
func (e *Entity) stamps() (created, modified *Time) { return &e.CreatedAt, &e.ModifiedAt }

func (e *Entity) clone() *Entity {
	c := *e
	c.Aliases = slices.Clone(e.Aliases)
	c.Labels = slices.Clone(e.Labels)
	c.Categories = maps.Clone(e.Categories)
	c.Capabilities = maps.Clone(e.Capabilities)
	c.Options = make(map[string]map[string]any, len(e.Options))
	for k, v := range e.Options {
		c.Options[k] = maps.Clone(v)
	}
	return &c
}

// Domain returns the domain segment of the entity id.
func (e *Entity) Domain() string {
	id, err := core.ParseEntityID(e.EntityID)
	if err != nil {
		return ""
	}
	return id.Domain
}

// Disabled reports whether the entity is disabled.
func (e *Entity) Disabled() bool { return e.DisabledBy != nil }

// Hidden reports whether the entity is hidden.
func (e *Entity) Hidden() bool { return e.HiddenBy != nil }

// EntityCreate describes an entity registered by an integration platform.
type EntityCreate struct {
	Domain              string
	Platform            string
	UniqueID            string
	EntityID            string // optional explicit id
	SuggestedObjectID   string
	ConfigEntryID       *string
	DeviceID            *string
	OriginalName        *string
	OriginalIcon        *string
	OriginalDeviceClass *string
	EntityCategory      *string
	HasEntityName       bool
	Capabilities        map[string]any
	TranslationKey      *string
	DisabledBy          *string
	HiddenBy            *string
}

// EntityUpdate is a partial update. Nil fields are left unchanged; an empty
// string clears a nullable field.
type EntityUpdate struct {
	Name          *string
	Icon          *string
	AreaID        *string
	DeviceID      *string
	ConfigEntryID *string
	DisabledBy    *string
	HiddenBy      *string
	DeviceClass   *string
	OriginalName  *string
	OriginalIcon  *string
	NewEntityID   *string
	NewUniqueID   *string
	Aliases       *[]string
	Labels        *[]string
	// Categories maps a scope to a category id; an empty id removes the scope.
	Categories map[string]string
	// OptionsDomain selects the options namespace replaced by Options.
	OptionsDomain string
	Options       map[string]any
}

// EntityRegistry tracks entities registered by integrations.
type EntityRegistry struct {
	s *store[Entity, *Entity]

	// reserved reports entity ids in use outside the registry, such as
	// states set without a registry entry.
	reserved func(entityID string) bool
}

// NewEntityRegistry creates an entity registry. repo may be nil.
func NewEntityRegistry(b *bus.Bus, repo Repository) *EntityRegistry {
	r := &EntityRegistry{s: newStore[Entity](KindEntity, core.EventEntityRegistryUpdated, "entity_id", b, repo)}
	r.s.extra = func(action string, old, cur *Entity) map[string]any {
		if action == ActionUpdate && old.EntityID != cur.EntityID {
			return map[string]any{"old_entity_id": old.EntityID}
		}
		return nil
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *EntityRegistry) SetLogger(logger Logger) { r.s.logger = logger }

// SetReserved installs a check for entity ids taken outside the registry.
// Generated ids skip reserved ones.
func (r *EntityRegistry) SetReserved(fn func(entityID string) bool) { r.reserved = fn }

// Load replaces the in-memory entities with the persisted ones.
func (r *EntityRegistry) Load(ctx context.Context) error { return r.s.load(ctx) }

// List returns every entity in creation order.
func (r *EntityRegistry) List() []*Entity { return r.s.list() }

// Get returns the entity with entityID, or nil.
func (r *EntityRegistry) Get(entityID string) *Entity { return r.s.get(entityID) }

// GetByEntityID is an alias for Get.
func (r *EntityRegistry) GetByEntityID(entityID string) *Entity { return r.s.get(entityID) }

// GetByID returns the entity whose opaque id is id, or nil.
func (r *EntityRegistry) GetByID(id string) *Entity {
	return r.s.find(func(e *Entity) bool { return e.ID == id })
}

// Len returns the number of entities.
func (r *EntityRegistry) Len() int { return r.s.len() }

// GetEntityID returns the entity id registered for (domain, platform,
// uniqueID), or "" when there is none.
func (r *EntityRegistry) GetEntityID(domain, platform, uniqueID string) string {
	e := r.s.find(func(e *Entity) bool { return matchesUnique(e, domain, platform, uniqueID) })
	if e == nil {
		return ""
	}
	return e.EntityID
}

// ForDevice returns the entities linked to the device.
func (r *EntityRegistry) ForDevice(deviceID string) []*Entity {
	return r.filter(func(e *Entity) bool { return e.DeviceID != nil && *e.DeviceID == deviceID })
}

// ForConfigEntry returns the entities created by the config entry.
func (r *EntityRegistry) ForConfigEntry(entryID string) []*Entity {
	return r.filter(func(e *Entity) bool { return e.ConfigEntryID != nil && *e.ConfigEntryID == entryID })
}

// ForArea returns the entities assigned directly to the area.
func (r *EntityRegistry) ForArea(areaID string) []*Entity {
	return r.filter(func(e *Entity) bool { return e.AreaID != nil && *e.AreaID == areaID })
}

func (r *EntityRegistry) filter(pred func(*Entity) bool) []*Entity {
	var out []*Entity
	for _, e := range r.s.list() {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Create registers a new entity. The entity id is c.EntityID when set,
// otherwise generated from the suggested object id, the original name or
// the platform and unique id, with a numeric suffix when taken.
func (r *EntityRegistry) Create(ctx context.Context, c EntityCreate) (*Entity, error) {
	if !core.ValidDomain(c.Domain) {
		return nil, core.NewValidationError("domain", "invalid domain %q", c.Domain)
	}
	if c.Platform == "" {
		return nil, core.NewValidationError("platform", "platform is required")
	}
	if c.DisabledBy != nil && !validDisabler(*c.DisabledBy) {
		return nil, core.NewValidationError("disabled_by", "invalid disabled_by %q", *c.DisabledBy)
	}
	if c.HiddenBy != nil && !validHider(*c.HiddenBy) {
		return nil, core.NewValidationError("hidden_by", "invalid hidden_by %q", *c.HiddenBy)
	}
	if c.EntityCategory != nil && !validCategory(*c.EntityCategory) {
		return nil, core.NewValidationError("entity_category", "invalid entity_category %q", *c.EntityCategory)
	}
	if c.EntityID != "" {
		id, err := core.ParseEntityID(c.EntityID)
		if err != nil {
			return nil, err
		}
		if id.Domain != c.Domain {
			return nil, core.NewValidationError("entity_id", "entity id %q is not in domain %s", c.EntityID, c.Domain)
		}
	}

	return r.s.create(ctx, func(v view[Entity, *Entity]) (*Entity, error) {
		if c.UniqueID != "" && v.exists(func(e *Entity) bool {
			return matchesUnique(e, c.Domain, c.Platform, c.UniqueID)
		}) {
			return nil, core.NewValidationError("unique_id", "unique id %q is already registered for %s.%s", c.UniqueID, c.Platform, c.Domain)
		}
		entityID := c.EntityID
		if entityID == "" {
			entityID = r.generateEntityID(v, c)
		}
		e := &Entity{
			EntityID:            entityID,
			ID:                  newDeviceID(),
			Platform:            c.Platform,
			DeviceID:            c.DeviceID,
			ConfigEntryID:       c.ConfigEntryID,
			OriginalName:        c.OriginalName,
			OriginalIcon:        c.OriginalIcon,
			OriginalDeviceClass: c.OriginalDeviceClass,
			EntityCategory:      c.EntityCategory,
			HasEntityName:       c.HasEntityName,
			Aliases:             []string{},
			Labels:              []string{},
			Categories:          map[string]string{},
			Capabilities:        maps.Clone(c.Capabilities),
			TranslationKey:      c.TranslationKey,
			DisabledBy:          c.DisabledBy,
			HiddenBy:            c.HiddenBy,
			Options:             map[string]map[string]any{},
		}
		if c.UniqueID != "" {
			e.UniqueID = ptr(c.UniqueID)
		}
		return e, nil
	})
}

// GetOrCreate returns the entity registered for (domain, platform,
// unique id) or creates it.
func (r *EntityRegistry) GetOrCreate(ctx context.Context, c EntityCreate) (*Entity, error) {
	if c.UniqueID != "" {
		if id := r.GetEntityID(c.Domain, c.Platform, c.UniqueID); id != "" {
			if e := r.Get(id); e != nil {
				return e, nil
			}
		}
	}
	return r.Create(ctx, c)
}

func (r *EntityRegistry) generateEntityID(v view[Entity, *Entity], c EntityCreate) string {
	var base string
	switch {
	case c.SuggestedObjectID != "":
		base = objectIDSlug(c.SuggestedObjectID)
	case c.OriginalName != nil && *c.OriginalName != "":
		base = objectIDSlug(*c.OriginalName)
	case c.UniqueID != "":
		base = objectIDSlug(c.Platform + " " + c.UniqueID)
	default:
		base = objectIDSlug(c.Platform)
	}
	if base == "" {
		base = "unnamed"
	}
	full := uniqueID(c.Domain+"."+base, func(id string) bool {
		return v.has(id) || (r.reserved != nil && r.reserved(id))
	})
	return full
}

// Update applies u to the entity. A NewEntityID renames the entity within
// the same domain.
func (r *EntityRegistry) Update(ctx context.Context, entityID string, u EntityUpdate) (*Entity, error) {
	if u.DisabledBy != nil && *u.DisabledBy != "" && !validDisabler(*u.DisabledBy) {
		return nil, core.NewValidationError("disabled_by", "invalid disabled_by %q", *u.DisabledBy)
	}
	if u.HiddenBy != nil && *u.HiddenBy != "" && !validHider(*u.HiddenBy) {
		return nil, core.NewValidationError("hidden_by", "invalid hidden_by %q", *u.HiddenBy)
	}
	if u.Options != nil && !core.ValidDomain(u.OptionsDomain) {
		return nil, core.NewValidationError("options_domain", "invalid options domain %q", u.OptionsDomain)
	}

	return r.s.update(ctx, entityID, func(v view[Entity, *Entity], e *Entity) error {
		if u.NewEntityID != nil && *u.NewEntityID != e.EntityID {
			newID, err := core.ParseEntityID(*u.NewEntityID)
			if err != nil {
				return err
			}
			if newID.Domain != e.Domain() {
				return core.NewValidationError("new_entity_id", "domain of new entity id must match old entity id")
			}
			if v.has(newID.String()) || (r.reserved != nil && r.reserved(newID.String())) {
				return core.NewValidationError("new_entity_id", "entity id is already in use: %s", newID)
			}
			e.EntityID = newID.String()
		}
		if u.NewUniqueID != nil && *u.NewUniqueID != "" {
			domain := e.Domain()
			if v.exists(func(o *Entity) bool {
				return o.ID != e.ID && matchesUnique(o, domain, e.Platform, *u.NewUniqueID)
			}) {
				return core.NewValidationError("new_unique_id", "unique id %q is already in use", *u.NewUniqueID)
			}
			e.UniqueID = ptr(*u.NewUniqueID)
		}
		setNullable(&e.Name, u.Name)
		setNullable(&e.Icon, u.Icon)
		setNullable(&e.AreaID, u.AreaID)
		setNullable(&e.DeviceID, u.DeviceID)
		setNullable(&e.ConfigEntryID, u.ConfigEntryID)
		setNullable(&e.DisabledBy, u.DisabledBy)
		setNullable(&e.HiddenBy, u.HiddenBy)
		setNullable(&e.DeviceClass, u.DeviceClass)
		setNullable(&e.OriginalName, u.OriginalName)
		setNullable(&e.OriginalIcon, u.OriginalIcon)
		if u.Aliases != nil {
			e.Aliases = dedupe(*u.Aliases)
		}
		if u.Labels != nil {
			e.Labels = dedupe(*u.Labels)
		}
		if e.Categories == nil {
			e.Categories = map[string]string{}
		}
		for scope, category := range u.Categories {
			if category == "" {
				delete(e.Categories, scope)
				continue
			}
			e.Categories[scope] = category
		}
		if u.Options != nil {
			e.Options[u.OptionsDomain] = maps.Clone(u.Options)
		}
		return nil
	})
}

// Remove deletes the entity and reports whether it existed.
func (r *EntityRegistry) Remove(ctx context.Context, entityID string) (bool, error) {
	return r.s.remove(ctx, entityID)
}

func matchesUnique(e *Entity, domain, platform, uniqueID string) bool {
	return e.UniqueID != nil && *e.UniqueID == uniqueID && e.Platform == platform && e.Domain() == domain
}

func validHider(v string) bool {
	return v == HiddenByUser || v == HiddenByIntegration
}

func validCategory(v string) bool {
	return v == EntityCategoryConfig || v == EntityCategoryDiagnostic
}
