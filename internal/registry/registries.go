package registry

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
)

// Registries groups the five registries over one bus and repository.
type Registries struct {
	Devices  *DeviceRegistry
	Entities *EntityRegistry
	Areas    *AreaRegistry
	Floors   *FloorRegistry
	Labels   *LabelRegistry
}

// New creates empty registries. repo may be nil for purely in-memory use.
func New(b *bus.Bus, repo Repository) *Registries {
	return &Registries{
		Devices:  NewDeviceRegistry(b, repo),
		Entities: NewEntityRegistry(b, repo),
		Areas:    NewAreaRegistry(b, repo),
		Floors:   NewFloorRegistry(b, repo),
		Labels:   NewLabelRegistry(b, repo),
	}
}

// SetLogger sets the logger on every registry.
func (r *Registries) SetLogger(logger Logger) {
	r.Devices.SetLogger(logger)
	r.Entities.SetLogger(logger)
	r.Areas.SetLogger(logger)
	r.Floors.SetLogger(logger)
	r.Labels.SetLogger(logger)
}

// Load loads every registry from the repository.
func (r *Registries) Load(ctx context.Context) error {
	loaders := []struct {
		kind Kind
		load func(context.Context) error
	}{
		{KindFloor, r.Floors.Load},
		{KindArea, r.Areas.Load},
		{KindLabel, r.Labels.Load},
		{KindDevice, r.Devices.Load},
		{KindEntity, r.Entities.Load},
	}
	for _, l := range loaders {
		if err := l.load(ctx); err != nil {
			return fmt.Errorf("loading %s registry: %w", l.kind, err)
		}
	}
	return nil
}

// ResolveDevice returns a copy of d with references to absent areas and
// parent devices nulled.
func (r *Registries) ResolveDevice(d *Device) *Device {
	if d == nil {
		return nil
	}
	out := d.clone()
	if out.AreaID != nil && r.Areas.Get(*out.AreaID) == nil {
		out.AreaID = nil
	}
	if out.ViaDeviceID != nil && r.Devices.Get(*out.ViaDeviceID) == nil {
		out.ViaDeviceID = nil
	}
	return out
}

// ResolveEntity returns a copy of e with references to absent devices and
// areas nulled.
func (r *Registries) ResolveEntity(e *Entity) *Entity {
	if e == nil {
		return nil
	}
	out := e.clone()
	if out.DeviceID != nil && r.Devices.Get(*out.DeviceID) == nil {
		out.DeviceID = nil
	}
	if out.AreaID != nil && r.Areas.Get(*out.AreaID) == nil {
		out.AreaID = nil
	}
	return out
}

// ResolveArea returns a copy of a with a reference to an absent floor nulled.
func (r *Registries) ResolveArea(a *Area) *Area {
	if a == nil {
		return nil
	}
	out := a.clone()
	if out.FloorID != nil && r.Floors.Get(*out.FloorID) == nil {
		out.FloorID = nil
	}
	return out
}

// DeviceList returns every device with dangling references resolved.
func (r *Registries) DeviceList() []*Device {
	devices := r.Devices.List()
	for i, d := range devices {
		devices[i] = r.ResolveDevice(d)
	}
	return devices
}

// EntityList returns every entity with dangling references resolved.
func (r *Registries) EntityList() []*Entity {
	entities := r.Entities.List()
	for i, e := range entities {
		entities[i] = r.ResolveEntity(e)
	}
	return entities
}

// AreaList returns every area with dangling references resolved.
func (r *Registries) AreaList() []*Area {
	areas := r.Areas.List()
	for i, a := range areas {
		areas[i] = r.ResolveArea(a)
	}
	return areas
}

// GetOrCreateDevice registers a device, creating its suggested area first
// when the device has none.
func (r *Registries) GetOrCreateDevice(ctx context.Context, info DeviceInfo) (*Device, error) {
	if info.AreaID == nil && info.SuggestedArea != nil && *info.SuggestedArea != "" {
		existing := r.Devices.GetByIdentifiers(info.Identifiers, info.Connections)
		if existing == nil {
			area, err := r.Areas.GetOrCreate(ctx, *info.SuggestedArea)
			if err != nil {
				return nil, err
			}
			info.AreaID = &area.AreaID
		}
	}
	info.SuggestedArea = nil
	return r.Devices.GetOrCreate(ctx, info)
}

// AreaEntities returns the entities in the area, directly or through their
// device.
func (r *Registries) AreaEntities(areaID string) []*Entity {
	var out []*Entity
	for _, e := range r.Entities.List() {
		if e.AreaID != nil {
			if *e.AreaID == areaID {
				out = append(out, e)
			}
			continue
		}
		if e.DeviceID == nil {
			continue
		}
		if d := r.Devices.Get(*e.DeviceID); d != nil && d.AreaID != nil && *d.AreaID == areaID {
			out = append(out, e)
		}
	}
	return out
}
