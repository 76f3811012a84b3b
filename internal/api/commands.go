package api

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

func init() {
	register("get_states", handleGetStates)
	register("get_services", handleGetServices)
	register("get_config", handleGetConfig)
	register("subscribe_events", handleSubscribeEvents)
	register("unsubscribe_events", handleUnsubscribeEvents)
	register("fire_event", handleFireEvent)
	registerAsync("call_service", handleCallService)
}

func handleGetStates(_ context.Context, c *conn, _ *command) (any, error) {
	states := c.srv.hub.States.All("")
	if states == nil {
		states = []*core.State{}
	}
	return states, nil
}

type serviceDescription struct {
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Fields      map[string]service.Field `json:"fields"`
	Response    *serviceResponse         `json:"response,omitempty"`
}

type serviceResponse struct {
	Optional bool `json:"optional"`
}

func handleGetServices(_ context.Context, c *conn, _ *command) (any, error) {
	out := make(map[string]map[string]serviceDescription)
	for domain, services := range c.srv.hub.Services.AllServices() {
		inner := make(map[string]serviceDescription, len(services))
		for name, info := range services {
			desc := serviceDescription{Name: name, Fields: map[string]service.Field{}}
			if info.Schema != nil {
				maps.Copy(desc.Fields, info.Schema.Fields)
			}
			if info.SupportsResponse != service.SupportsNone {
				desc.Response = &serviceResponse{Optional: info.SupportsResponse == service.SupportsOptional}
			}
			inner[name] = desc
		}
		out[domain] = inner
	}
	return out, nil
}

type unitSystem struct {
	Length                   string `json:"length"`
	AccumulatedPrecipitation string `json:"accumulated_precipitation"`
	Mass                     string `json:"mass"`
	Pressure                 string `json:"pressure"`
	Temperature              string `json:"temperature"`
	Volume                   string `json:"volume"`
	WindSpeed                string `json:"wind_speed"`
	Area                     string `json:"area"`
}

var (
	metricUnits   = unitSystem{"km", "mm", "g", "Pa", "°C", "L", "m/s", "m²"}
	imperialUnits = unitSystem{"mi", "in", "lb", "psi", "°F", "gal", "mph", "ft²"}
)

func unitsFor(site config.SiteConfig) unitSystem {
	if site.UnitSystem == "us_customary" || site.UnitSystem == "imperial" {
		return imperialUnits
	}
	return metricUnits
}

func handleGetConfig(_ context.Context, c *conn, _ *command) (any, error) {
	h := c.srv.hub
	site := c.srv.site

	components := append(h.ConfigEntries.Domains(), h.Services.Domains()...)
	slices.Sort(components)
	components = slices.Compact(components)
	if components == nil {
		components = []string{}
	}

	return map[string]any{
		"latitude":                site.Latitude,
		"longitude":               site.Longitude,
		"elevation":               site.Elevation,
		"unit_system":             unitsFor(site),
		"location_name":           site.LocationName,
		"time_zone":               site.TimeZone,
		"components":              components,
		"config_dir":              h.Config.ConfigDir,
		"allowlist_external_dirs": []string{},
		"allowlist_external_urls": []string{},
		"version":                 c.srv.version,
		"config_source":           "yaml",
		"recovery_mode":           false,
		"safe_mode":               false,
		"state":                   "RUNNING",
		"external_url":            nil,
		"internal_url":            nil,
		"currency":                site.Currency,
		"country":                 nilIfEmpty(site.Country),
		"language":                site.Language,
		"radius":                  100,
		"debug":                   false,
	}, nil
}

func handleSubscribeEvents(_ context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		EventType string `json:"event_type"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	eventType := req.EventType
	if eventType == "" {
		eventType = core.MatchAll
	}

	id := cmd.ID
	unsub := c.srv.hub.Bus.Listen(eventType, func(ev *core.Event) {
		c.sendEvent(id, ev)
	})
	c.subscribe(id, unsub)
	return nil, nil
}

func handleUnsubscribeEvents(_ context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		Subscription *int64 `json:"subscription"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.Subscription == nil {
		return nil, requiredKey("subscription")
	}
	if !c.unsubscribe(*req.Subscription) {
		return nil, newCommandError(CodeNotFound, "Subscription not found.")
	}
	return nil, nil
}

type contextResult struct {
	Context  *core.Context `json:"context"`
	Response any           `json:"response,omitempty"`
}

func handleFireEvent(_ context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		EventType string         `json:"event_type"`
		EventData map[string]any `json:"event_data"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	if req.EventType == "" {
		return nil, requiredKey("event_type")
	}

	ctx := c.newContext()
	c.srv.hub.Bus.Fire(req.EventType, req.EventData, bus.WithContext(ctx))
	return contextResult{Context: ctx}, nil
}

// target narrows a service call to entities, devices, areas, floors or labels.
type target struct {
	EntityID stringList `json:"entity_id"`
	DeviceID stringList `json:"device_id"`
	AreaID   stringList `json:"area_id"`
	FloorID  stringList `json:"floor_id"`
	LabelID  stringList `json:"label_id"`
}

// ids returns the keys that were given, or nil.
func (t *target) ids() map[string][]string {
	if t == nil {
		return nil
	}
	out := make(map[string][]string)
	for key, ids := range map[string]stringList{
		"entity_id": t.EntityID,
		"device_id": t.DeviceID,
		"area_id":   t.AreaID,
		"floor_id":  t.FloorID,
		"label_id":  t.LabelID,
	} {
		if ids != nil {
			out[key] = []string(ids)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func handleCallService(ctx context.Context, c *conn, cmd *command) (any, error) {
	var req struct {
		Domain         string         `json:"domain"`
		Service        string         `json:"service"`
		ServiceData    map[string]any `json:"service_data"`
		Target         *target        `json:"target"`
		ReturnResponse bool           `json:"return_response"`
	}
	if err := cmd.decode(&req); err != nil {
		return nil, err
	}
	switch {
	case req.Domain == "":
		return nil, requiredKey("domain")
	case req.Service == "":
		return nil, requiredKey("service")
	}

	call := core.NewServiceCall(req.Domain, req.Service, req.ServiceData)
	call.Target = req.Target.ids()
	call.Context = c.newContext()
	call.ReturnResponse = req.ReturnResponse

	resp, err := c.srv.hub.Services.Call(ctx, call)
	if err != nil {
		return nil, serviceCallError(call, err)
	}
	return contextResult{Context: call.Context, Response: resp}, nil
}

// serviceCallError rewrites service registry errors into the codes callers
// of call_service expect.
func serviceCallError(call core.ServiceCall, err error) error {
	switch {
	case core.IsNotFound(err):
		return newCommandError(CodeNotFound, "Service %s.%s not found.", call.Domain, call.Service)
	case core.IsValidation(err),
		errors.Is(err, service.ErrResponseNotSupported),
		errors.Is(err, service.ErrResponseRequired):
		return newCommandError(CodeServiceValidationError, "%s", err.Error())
	default:
		var he *service.HandlerError
		if errors.As(err, &he) {
			return newCommandError(CodeHomeAssistantError, "%s", he.Err.Error())
		}
		return err
	}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
