package registry

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Pair is a (type, value) tuple serialised as a two-element JSON array, as
// used for device identifiers and connections.
type Pair [2]string

// Device entry types.
const (
	DeviceEntryTypeService = "service"
)

// Disabler values shared by devices and entities.
const (
	DisabledByUser        = "user"
	DisabledByIntegration = "integration"
	DisabledByConfigEntry = "config_entry"
	DisabledByDevice      = "device"
)

// Device is a device registry entry.
type Device struct {
	ID                      string               `json:"id"`
	ConfigEntries           []string             `json:"config_entries"`
	ConfigEntriesSubentries map[string][]*string `json:"config_entries_subentries"`
	Connections             []Pair               `json:"connections"`
	Identifiers             []Pair               `json:"identifiers"`
	Manufacturer            *string              `json:"manufacturer"`
	Model                   *string              `json:"model"`
	ModelID                 *string              `json:"model_id"`
	Name                    *string              `json:"name"`
	NameByUser              *string              `json:"name_by_user"`
	SWVersion               *string              `json:"sw_version"`
	HWVersion               *string              `json:"hw_version"`
	SerialNumber            *string              `json:"serial_number"`
	ViaDeviceID             *string              `json:"via_device_id"`
	AreaID                  *string              `json:"area_id"`
	EntryType               *string              `json:"entry_type"`
	DisabledBy              *string              `json:"disabled_by"`
	ConfigurationURL        *string              `json:"configuration_url"`
	Labels                  []string             `json:"labels"`
	PrimaryConfigEntry      *string              `json:"primary_config_entry"`
	CreatedAt               Time                 `json:"created_at"`
	ModifiedAt              Time                 `json:"modified_at"`
}

func (d *Device) key() string                       { return d.ID }
func (d *Device) stamps() (created, modified *Time) { return &d.CreatedAt, &d.ModifiedAt }

func (d *Device) clone() *Device {
	c := *d
	c.ConfigEntries = slices.Clone(d.ConfigEntries)
	c.Connections = slices.Clone(d.Connections)
	c.Identifiers = slices.Clone(d.Identifiers)
	c.Labels = slices.Clone(d.Labels)
	c.ConfigEntriesSubentries = make(map[string][]*string, len(d.ConfigEntriesSubentries))
	for k, v := range d.ConfigEntriesSubentries {
		c.ConfigEntriesSubentries[k] = slices.Clone(v)
	}
	return &c
}

// Disabled reports whether the device is disabled.
func (d *Device) Disabled() bool { return d.DisabledBy != nil }

// HasIdentifier reports whether d carries any of ids.
func (d *Device) HasIdentifier(ids ...Pair) bool {
	for _, id := range ids {
		if slices.Contains(d.Identifiers, id) {
			return true
		}
	}
	return false
}

// HasConnection reports whether d carries any of conns. Connection values
// compare case-insensitively.
func (d *Device) HasConnection(conns ...Pair) bool {
	for _, c := range conns {
		for _, have := range d.Connections {
			if have[0] == c[0] && strings.EqualFold(have[1], c[1]) {
				return true
			}
		}
	}
	return false
}

// DeviceInfo describes a device as reported by an integration.
type DeviceInfo struct {
	ConfigEntryID    string
	Identifiers      []Pair
	Connections      []Pair
	Manufacturer     *string
	Model            *string
	ModelID          *string
	Name             *string
	SWVersion        *string
	HWVersion        *string
	SerialNumber     *string
	ViaDevice        *Pair
	EntryType        *string
	ConfigurationURL *string
	SuggestedArea    *string
	AreaID           *string
	DisabledBy       *string
}

// DeviceUpdate is a partial update. Nil fields are left unchanged; an empty
// string clears a nullable field.
type DeviceUpdate struct {
	AreaID              *string
	NameByUser          *string
	DisabledBy          *string
	Labels              *[]string
	Name                *string
	Manufacturer        *string
	Model               *string
	ModelID             *string
	SWVersion           *string
	HWVersion           *string
	SerialNumber        *string
	ViaDeviceID         *string
	ConfigurationURL    *string
	EntryType           *string
	AddConfigEntryID    string
	RemoveConfigEntryID string
	NewIdentifiers      *[]Pair
	MergeIdentifiers    []Pair
	MergeConnections    []Pair
}

// DeviceRegistry tracks physical and logical devices.
type DeviceRegistry struct {
	s *store[Device, *Device]
}

// NewDeviceRegistry creates a device registry. repo may be nil.
func NewDeviceRegistry(b *bus.Bus, repo Repository) *DeviceRegistry {
	return &DeviceRegistry{s: newStore[Device](KindDevice, core.EventDeviceRegistryUpdated, "device_id", b, repo)}
}

// SetLogger sets the logger for the registry.
func (r *DeviceRegistry) SetLogger(logger Logger) { r.s.logger = logger }

// Load replaces the in-memory devices with the persisted ones.
func (r *DeviceRegistry) Load(ctx context.Context) error { return r.s.load(ctx) }

// List returns every device in creation order.
func (r *DeviceRegistry) List() []*Device { return r.s.list() }

// Get returns the device with id, or nil.
func (r *DeviceRegistry) Get(id string) *Device { return r.s.get(id) }

// Len returns the number of devices.
func (r *DeviceRegistry) Len() int { return r.s.len() }

// GetByIdentifiers returns the device carrying any of ids or conns.
func (r *DeviceRegistry) GetByIdentifiers(ids []Pair, conns []Pair) *Device {
	return r.s.find(func(d *Device) bool {
		return d.HasIdentifier(ids...) || d.HasConnection(conns...)
	})
}

// ForConfigEntry returns the devices linked to the config entry.
func (r *DeviceRegistry) ForConfigEntry(entryID string) []*Device {
	var out []*Device
	for _, d := range r.s.list() {
		if slices.Contains(d.ConfigEntries, entryID) {
			out = append(out, d)
		}
	}
	return out
}

// ForArea returns the devices assigned to the area.
func (r *DeviceRegistry) ForArea(areaID string) []*Device {
	var out []*Device
	for _, d := range r.s.list() {
		if d.AreaID != nil && *d.AreaID == areaID {
			out = append(out, d)
		}
	}
	return out
}

// Create adds a new device. At least one identifier or connection is
// required and neither may already belong to another device.
func (r *DeviceRegistry) Create(ctx context.Context, info DeviceInfo) (*Device, error) {
	if err := validateDeviceInfo(info); err != nil {
		return nil, err
	}
	return r.s.create(ctx, func(v view[Device, *Device]) (*Device, error) {
		if v.exists(func(d *Device) bool {
			return d.HasIdentifier(info.Identifiers...) || d.HasConnection(info.Connections...)
		}) {
			return nil, core.NewValidationError("identifiers", "a device with these identifiers or connections already exists")
		}
		d := &Device{
			ID:                      newDeviceID(),
			ConfigEntries:           []string{},
			ConfigEntriesSubentries: map[string][]*string{},
			Connections:             normalizeConnections(info.Connections),
			Identifiers:             dedupePairs(info.Identifiers),
			Manufacturer:            info.Manufacturer,
			Model:                   info.Model,
			ModelID:                 info.ModelID,
			Name:                    info.Name,
			SWVersion:               info.SWVersion,
			HWVersion:               info.HWVersion,
			SerialNumber:            info.SerialNumber,
			EntryType:               info.EntryType,
			DisabledBy:              info.DisabledBy,
			ConfigurationURL:        info.ConfigurationURL,
			Labels:                  []string{},
		}
		if info.ViaDevice != nil {
			for _, other := range v.s.items {
				if other.HasIdentifier(*info.ViaDevice) {
					d.ViaDeviceID = ptr(other.ID)
					break
				}
			}
		}
		switch {
		case info.AreaID != nil:
			d.AreaID = nonEmpty(info.AreaID)
		case info.SuggestedArea != nil && *info.SuggestedArea != "":
			d.AreaID = ptr(slugify(*info.SuggestedArea))
		}
		if info.ConfigEntryID != "" {
			d.ConfigEntries = append(d.ConfigEntries, info.ConfigEntryID)
			d.ConfigEntriesSubentries[info.ConfigEntryID] = []*string{nil}
			d.PrimaryConfigEntry = ptr(info.ConfigEntryID)
		}
		return d, nil
	})
}

// GetOrCreate returns the device matching info's identifiers or connections,
// merging info into it, or creates a new device.
func (r *DeviceRegistry) GetOrCreate(ctx context.Context, info DeviceInfo) (*Device, error) {
	if err := validateDeviceInfo(info); err != nil {
		return nil, err
	}
	existing := r.GetByIdentifiers(info.Identifiers, info.Connections)
	if existing == nil {
		return r.Create(ctx, info)
	}
	u := DeviceUpdate{
		Manufacturer:     info.Manufacturer,
		Model:            info.Model,
		ModelID:          info.ModelID,
		Name:             info.Name,
		SWVersion:        info.SWVersion,
		HWVersion:        info.HWVersion,
		SerialNumber:     info.SerialNumber,
		ConfigurationURL: info.ConfigurationURL,
		EntryType:        info.EntryType,
		AddConfigEntryID: info.ConfigEntryID,
		MergeIdentifiers: info.Identifiers,
		MergeConnections: info.Connections,
	}
	if info.ViaDevice != nil {
		if via := r.GetByIdentifiers([]Pair{*info.ViaDevice}, nil); via != nil {
			u.ViaDeviceID = ptr(via.ID)
		}
	}
	return r.Update(ctx, existing.ID, u)
}

// Update applies u to the device with id.
func (r *DeviceRegistry) Update(ctx context.Context, id string, u DeviceUpdate) (*Device, error) {
	if u.DisabledBy != nil && *u.DisabledBy != "" && !validDisabler(*u.DisabledBy) {
		return nil, core.NewValidationError("disabled_by", "invalid disabled_by %q", *u.DisabledBy)
	}
	if u.NewIdentifiers != nil && len(*u.NewIdentifiers) == 0 {
		return nil, core.NewValidationError("new_identifiers", "must not be empty")
	}
	return r.s.update(ctx, id, func(v view[Device, *Device], d *Device) error {
		if u.ViaDeviceID != nil && *u.ViaDeviceID == id {
			return core.NewValidationError("via_device_id", "a device cannot be its own parent")
		}
		setNullable(&d.AreaID, u.AreaID)
		setNullable(&d.NameByUser, u.NameByUser)
		setNullable(&d.DisabledBy, u.DisabledBy)
		setNullable(&d.Name, u.Name)
		setNullable(&d.Manufacturer, u.Manufacturer)
		setNullable(&d.Model, u.Model)
		setNullable(&d.ModelID, u.ModelID)
		setNullable(&d.SWVersion, u.SWVersion)
		setNullable(&d.HWVersion, u.HWVersion)
		setNullable(&d.SerialNumber, u.SerialNumber)
		setNullable(&d.ViaDeviceID, u.ViaDeviceID)
		setNullable(&d.ConfigurationURL, u.ConfigurationURL)
		setNullable(&d.EntryType, u.EntryType)
		if u.Labels != nil {
			d.Labels = dedupe(*u.Labels)
		}
		if u.NewIdentifiers != nil {
			d.Identifiers = dedupePairs(*u.NewIdentifiers)
		}
		for _, ident := range u.MergeIdentifiers {
			if !slices.Contains(d.Identifiers, ident) {
				d.Identifiers = append(d.Identifiers, ident)
			}
		}
		for _, c := range normalizeConnections(u.MergeConnections) {
			if !slices.Contains(d.Connections, c) {
				d.Connections = append(d.Connections, c)
			}
		}
		if e := u.AddConfigEntryID; e != "" && !slices.Contains(d.ConfigEntries, e) {
			d.ConfigEntries = append(d.ConfigEntries, e)
			d.ConfigEntriesSubentries[e] = []*string{nil}
			if d.PrimaryConfigEntry == nil {
				d.PrimaryConfigEntry = ptr(e)
			}
		}
		if e := u.RemoveConfigEntryID; e != "" {
			if !slices.Contains(d.ConfigEntries, e) {
				return &core.NotFoundError{Kind: "config entry on device", ID: e}
			}
			d.ConfigEntries = slices.DeleteFunc(d.ConfigEntries, func(c string) bool { return c == e })
			delete(d.ConfigEntriesSubentries, e)
			if d.PrimaryConfigEntry != nil && *d.PrimaryConfigEntry == e {
				d.PrimaryConfigEntry = nil
				if len(d.ConfigEntries) > 0 {
					d.PrimaryConfigEntry = ptr(d.ConfigEntries[0])
				}
			}
		}
		return nil
	})
}

// RemoveConfigEntry unlinks a config entry from a device. A device left with
// no config entries is removed; the returned device is nil in that case.
func (r *DeviceRegistry) RemoveConfigEntry(ctx context.Context, deviceID, entryID string) (*Device, error) {
	d, err := r.Update(ctx, deviceID, DeviceUpdate{RemoveConfigEntryID: entryID})
	if err != nil {
		return nil, err
	}
	if len(d.ConfigEntries) > 0 {
		return d, nil
	}
	if _, err := r.Remove(ctx, deviceID); err != nil {
		return nil, err
	}
	return nil, nil
}

// Remove deletes the device with id and reports whether it existed.
func (r *DeviceRegistry) Remove(ctx context.Context, id string) (bool, error) {
	return r.s.remove(ctx, id)
}

func validateDeviceInfo(info DeviceInfo) error {
	if len(info.Identifiers) == 0 && len(info.Connections) == 0 {
		return core.NewValidationError("identifiers", "at least one identifier or connection is required")
	}
	for _, p := range append(slices.Clone(info.Identifiers), info.Connections...) {
		if p[0] == "" || p[1] == "" {
			return core.NewValidationError("identifiers", "pair %v has an empty element", p)
		}
	}
	if info.EntryType != nil && *info.EntryType != DeviceEntryTypeService {
		return core.NewValidationError("entry_type", "invalid entry_type %q", *info.EntryType)
	}
	return nil
}

func newDeviceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// normalizeConnections lowercases MAC-style connection values and drops
// duplicates.
func normalizeConnections(conns []Pair) []Pair {
	out := make([]Pair, 0, len(conns))
	for _, c := range conns {
		c[1] = strings.ToLower(c[1])
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func dedupePairs(pairs []Pair) []Pair {
	out := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func validDisabler(v string) bool {
	switch v {
	case DisabledByUser, DisabledByIntegration, DisabledByConfigEntry, DisabledByDevice:
		return true
	}
	return false
}

// setNullable applies a partial-update value: nil leaves dst alone and an
// empty string clears it.
func setNullable(dst **string, v *string) {
	if v == nil {
		return
	}
	if *v == "" {
		*dst = nil
		return
	}
	*dst = ptr(*v)
}

func ptr[T any](v T) *T { return &v }
