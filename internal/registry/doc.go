// Package registry implements the device, entity, area, floor and label
// registries.
//
// Each registry is an in-memory map keyed by a stable opaque id and backed
// by a Repository that stores entries as JSON documents. Every create,
// update and remove advances modified_at (created_at never changes) and
// fires the kind's *_registry_updated event with the action and the entry
// id.
//
// Relational fields (a device's area_id, an entity's device_id, an area's
// floor_id) hold ids, never references. Nothing cascades when a referent is
// removed; Registries.ResolveDevice and friends null dangling references at
// read time instead.
//
//	regs := registry.New(bus, registry.NewSQLiteRepository(db))
//	if err := regs.Load(ctx); err != nil {
//	    return err
//	}
//	area, err := regs.Areas.Create(ctx, registry.AreaCreate{Name: "Kitchen"})
package registry
