package api

import (
	"context"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/registry"
)

func init() {
	register("config/device_registry/list", handleDeviceList)
	register("config/device_registry/update", handleDeviceUpdate)
	register("config/device_registry/remove_config_entry", handleDeviceRemoveConfigEntry)

	register("config/entity_registry/list", handleEntityList)
	register("config/entity_registry/get", handleEntityGet)
	register("config/entity_registry/update", handleEntityUpdate)
	register("config/entity_registry/remove", handleEntityRemove)

	register("config/area_registry/list", handleAreaList)
	register("config/area_registry/create", handleAreaCreate)
	register("config/area_registry/update", handleAreaUpdate)
	register("config/area_registry/delete", handleAreaDelete)

	register("config/floor_registry/list", handleFloorList)
	register("config/floor_registry/create", handleFloorCreate)
	register("config/floor_registry/update", handleFloorUpdate)
	register("config/floor_registry/delete", handleFloorDelete)

	register("config/label_registry/list", handleLabelList)
	register("config/label_registry/create", handleLabelCreate)
	register("config/label_registry/update", handleLabelUpdate)
	register("config/label_registry/delete", handleLabelDelete)
}

// orEmpty keeps list results encoded as [] rather than null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Devices

func handleDeviceList(_ context.Context, c *conn, _ *command) (any, error) {
	return orEmpty(c.srv.hub.Registries.DeviceList()), nil
}

func handleDeviceUpdate(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		DeviceID   string          `json:"device_id"`
		AreaID     field[string]   `json:"area_id"`
		NameByUser field[string]   `json:"name_by_user"`
		DisabledBy field[string]   `json:"disabled_by"`
		Labels     field[[]string] `json:"labels"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.DeviceID == "" {
		return nil, requiredKey("device_id")
	}

	regs := c.srv.hub.Registries
	d, err := regs.Devices.Update(ctx, req.DeviceID, registry.DeviceUpdate{
		AreaID:     clearable(req.AreaID),
		NameByUser: clearable(req.NameByUser),
		DisabledBy: clearable(req.DisabledBy),
		Labels:     list(req.Labels),
	})
	if err != nil {
		return nil, err
	}
	return regs.ResolveDevice(d), nil
}

func handleDeviceRemoveConfigEntry(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		DeviceID      string `json:"device_id"`
		ConfigEntryID string `json:"config_entry_id"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	switch {
	case req.DeviceID == "":
		return nil, requiredKey("device_id")
	case req.ConfigEntryID == "":
		return nil, requiredKey("config_entry_id")
	}

	regs := c.srv.hub.Registries
	if regs.Devices.Get(req.DeviceID) == nil {
		return nil, newCommandError(CodeNotFound, "Unknown device")
	}
	if c.srv.hub.ConfigEntries.Get(req.ConfigEntryID) == nil {
		return nil, newCommandError(CodeNotFound, "Unknown config entry")
	}
	d, err := regs.Devices.RemoveConfigEntry(ctx, req.DeviceID, req.ConfigEntryID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	return regs.ResolveDevice(d), nil
}

// Entities

func entityNotFound(entityID string) error {
	return newCommandError(CodeNotFound, "Entity not found: %s", entityID)
}

func decodeEntityID(cmd *command) (string, error) {
	var req struct {
		EntityID string `json:"entity_id"`
	}
	if err := cmd.decode(&req); err != nil {
		return "", err
	}
	if req.EntityID == "" {
		return "", requiredKey("entity_id")
	}
	return req.EntityID, nil
}

func handleEntityList(_ context.Context, c *conn, _ *command) (any, error) {
	return orEmpty(c.srv.hub.Registries.EntityList()), nil
}

func handleEntityGet(_ context.Context, c *conn, cmd *command) (any, error) {
	entityID, err := decodeEntityID(cmd)
	if err != nil {
		return nil, err
	}
	regs := c.srv.hub.Registries
	e := regs.Entities.Get(entityID)
	if e == nil {
		return nil, entityNotFound(entityID)
	}
	return regs.ResolveEntity(e), nil
}

func handleEntityUpdate(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		EntityID      string                `json:"entity_id"`
		Name          field[string]         `json:"name"`
		Icon          field[string]         `json:"icon"`
		AreaID        field[string]         `json:"area_id"`
		DeviceClass   field[string]         `json:"device_class"`
		DisabledBy    field[string]         `json:"disabled_by"`
		HiddenBy      field[string]         `json:"hidden_by"`
		NewEntityID   string                `json:"new_entity_id"`
		Aliases       field[[]string]       `json:"aliases"`
		Labels        field[[]string]       `json:"labels"`
		Categories    map[string]*string    `json:"categories"`
		OptionsDomain string                `json:"options_domain"`
		Options       field[map[string]any] `json:"options"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.EntityID == "" {
		return nil, requiredKey("entity_id")
	}
	if req.Options.Set && req.OptionsDomain == "" {
		return nil, requiredKey("options_domain")
	}

	regs := c.srv.hub.Registries
	if regs.Entities.Get(req.EntityID) == nil {
		return nil, entityNotFound(req.EntityID)
	}

	u := registry.EntityUpdate{
		Name:        clearable(req.Name),
		Icon:        clearable(req.Icon),
		AreaID:      clearable(req.AreaID),
		DeviceClass: clearable(req.DeviceClass),
		DisabledBy:  clearable(req.DisabledBy),
		HiddenBy:    clearable(req.HiddenBy),
		Aliases:     list(req.Aliases),
		Labels:      list(req.Labels),
	}
	if req.NewEntityID != "" && req.NewEntityID != req.EntityID {
		u.NewEntityID = &req.NewEntityID
	}
	if len(req.Categories) > 0 {
		u.Categories = make(map[string]string, len(req.Categories))
		for scope, id := range req.Categories {
			if id == nil {
				u.Categories[scope] = ""
				continue
			}
			u.Categories[scope] = *id
		}
	}
	if req.Options.Set {
		u.OptionsDomain = req.OptionsDomain
		u.Options = req.Options.Value
		if u.Options == nil {
			u.Options = map[string]any{}
		}
	}

	e, err := regs.Entities.Update(ctx, req.EntityID, u)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entity_entry": regs.ResolveEntity(e)}, nil
}

func handleEntityRemove(ctx context.Context, c *conn, cmd *command) (any, error) {
	entityID, err := decodeEntityID(cmd)
	if err != nil {
		return nil, err
	}
	ok, err := c.srv.hub.Registries.Entities.Remove(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, entityNotFound(entityID)
	}
	return nil, nil
}

// Areas

type areaFields struct {
	Name                field[string]   `json:"name"`
	Aliases             field[[]string] `json:"aliases"`
	FloorID             field[string]   `json:"floor_id"`
	HumidityEntityID    field[string]   `json:"humidity_entity_id"`
	TemperatureEntityID field[string]   `json:"temperature_entity_id"`
	Icon                field[string]   `json:"icon"`
	Labels              field[[]string] `json:"labels"`
	Picture             field[string]   `json:"picture"`
}

func handleAreaList(_ context.Context, c *conn, _ *command) (any, error) {
	return orEmpty(c.srv.hub.Registries.AreaList()), nil
}

func handleAreaCreate(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req areaFields
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if !req.Name.Set || req.Name.Null {
		return nil, requiredKey("name")
	}

	regs := c.srv.hub.Registries
	a, err := regs.Areas.Create(ctx, registry.AreaCreate{
		Name:                req.Name.Value,
		Aliases:             req.Aliases.Value,
		FloorID:             optional(req.FloorID),
		HumidityEntityID:    optional(req.HumidityEntityID),
		TemperatureEntityID: optional(req.TemperatureEntityID),
		Icon:                optional(req.Icon),
		Labels:              req.Labels.Value,
		Picture:             optional(req.Picture),
	})
	if err != nil {
		return nil, err
	}
	return regs.ResolveArea(a), nil
}

func handleAreaUpdate(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		AreaID string `json:"area_id"`
		areaFields
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.AreaID == "" {
		return nil, requiredKey("area_id")
	}

	regs := c.srv.hub.Registries
	a, err := regs.Areas.Update(ctx, req.AreaID, registry.AreaUpdate{
		Name:                optional(req.Name),
		Aliases:             list(req.Aliases),
		FloorID:             clearable(req.FloorID),
		HumidityEntityID:    clearable(req.HumidityEntityID),
		TemperatureEntityID: clearable(req.TemperatureEntityID),
		Icon:                clearable(req.Icon),
		Labels:              list(req.Labels),
		Picture:             clearable(req.Picture),
	})
	if err != nil {
		return nil, err
	}
	return regs.ResolveArea(a), nil
}

func handleAreaDelete(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		AreaID string `json:"area_id"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.AreaID == "" {
		return nil, requiredKey("area_id")
	}
	ok, err := c.srv.hub.Registries.Areas.Remove(ctx, req.AreaID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &core.NotFoundError{Kind: "area", ID: req.AreaID}
	}
	return "success", nil
}

// Floors

type floorFields struct {
	Name    field[string]   `json:"name"`
	Aliases field[[]string] `json:"aliases"`
	Icon    field[string]   `json:"icon"`
	Level   field[int]      `json:"level"`
}

func handleFloorList(_ context.Context, c *conn, _ *command) (any, error) {
	return orEmpty(c.srv.hub.Registries.Floors.List()), nil
}

func handleFloorCreate(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req floorFields
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if !req.Name.Set || req.Name.Null {
		return nil, requiredKey("name")
	}
	return c.srv.hub.Registries.Floors.Create(ctx, registry.FloorCreate{
		Name:    req.Name.Value,
		Aliases: req.Aliases.Value,
		Icon:    optional(req.Icon),
		Level:   optional(req.Level),
	})
}

func handleFloorUpdate(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		FloorID string `json:"floor_id"`
		floorFields
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.FloorID == "" {
		return nil, requiredKey("floor_id")
	}
	return c.srv.hub.Registries.Floors.Update(ctx, req.FloorID, registry.FloorUpdate{
		Name:       optional(req.Name),
		Aliases:    list(req.Aliases),
		Icon:       clearable(req.Icon),
		Level:      optional(req.Level),
		ClearLevel: req.Level.Set && req.Level.Null,
	})
}

func handleFloorDelete(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		FloorID string `json:"floor_id"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.FloorID == "" {
		return nil, requiredKey("floor_id")
	}
	ok, err := c.srv.hub.Registries.Floors.Remove(ctx, req.FloorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &core.NotFoundError{Kind: "floor", ID: req.FloorID}
	}
	return nil, nil
}

// Labels

type labelFields struct {
	Name        field[string] `json:"name"`
	Color       field[string] `json:"color"`
	Description field[string] `json:"description"`
	Icon        field[string] `json:"icon"`
}

func handleLabelList(_ context.Context, c *conn, _ *command) (any, error) {
	return orEmpty(c.srv.hub.Registries.Labels.List()), nil
}

func handleLabelCreate(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req labelFields
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if !req.Name.Set || req.Name.Null {
		return nil, requiredKey("name")
	}
	return c.srv.hub.Registries.Labels.Create(ctx, registry.LabelCreate{
		Name:        req.Name.Value,
		Color:       optional(req.Color),
		Description: optional(req.Description),
		Icon:        optional(req.Icon),
	})
}

func handleLabelUpdate(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		LabelID string `json:"label_id"`
		labelFields
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.LabelID == "" {
		return nil, requiredKey("label_id")
	}
	return c.srv.hub.Registries.Labels.Update(ctx, req.LabelID, registry.LabelUpdate{
		Name:        optional(req.Name),
		Color:       clearable(req.Color),
		Description: clearable(req.Description),
		Icon:        clearable(req.Icon),
	})
}

func handleLabelDelete(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		LabelID string `json:"label_id"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.LabelID == "" {
		return nil, requiredKey("label_id")
	}
	ok, err := c.srv.hub.Registries.Labels.Remove(ctx, req.LabelID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &core.NotFoundError{Kind: "label", ID: req.LabelID}
	}
	return nil, nil
}
