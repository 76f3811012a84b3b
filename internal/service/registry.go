// Package service implements the registry of invokable services, keyed by
// domain and service name.
package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

var tracer = otel.Tracer("github.com/nerrad567/gray-logic-hub/internal/service")

// SupportsResponse declares whether a service may, must or never returns a value.
type SupportsResponse string

// Response support levels.
const (
	SupportsNone     SupportsResponse = "none"
	SupportsOptional SupportsResponse = "optional"
	SupportsOnly     SupportsResponse = "only"
)

// Valid reports whether s is one of the three levels.
func (s SupportsResponse) Valid() bool {
	return s == SupportsNone || s == SupportsOptional || s == SupportsOnly
}

// Handler executes a service call. The returned value is the service
// response; it is discarded unless the caller asked for it.
type Handler func(ctx context.Context, call core.ServiceCall) (any, error)

// Info describes a registered service.
type Info struct {
	Domain           string           `json:"domain"`
	Service          string           `json:"service"`
	Schema           *Schema          `json:"schema,omitempty"`
	SupportsResponse SupportsResponse `json:"supports_response"`
}

type entry struct {
	info    Info
	handler Handler
}

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry maps (domain, service) to handlers. It is safe for concurrent use;
// no lock is held while a handler runs.
type Registry struct {
	bus      *bus.Bus
	mu       sync.RWMutex
	services map[string]map[string]*entry
	logger   Logger
}

// NewRegistry creates an empty registry that fires events on b.
func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{
		bus:      b,
		services: make(map[string]map[string]*entry),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds or replaces a service. An empty supports defaults to none.
// On error the registry is unchanged.
func (r *Registry) Register(domain, svc string, handler Handler, schema *Schema, supports SupportsResponse) error {
	if handler == nil {
		return ErrInvalidHandler
	}
	if supports == "" {
		supports = SupportsNone
	}
	if !supports.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSupportsResponse, supports)
	}
	if !core.ValidDomain(domain) || !core.ValidDomain(svc) {
		return fmt.Errorf("%w: %s.%s", ErrInvalidName, domain, svc)
	}
	if err := schema.Check(); err != nil {
		return err
	}

	r.mu.Lock()
	byName, ok := r.services[domain]
	if !ok {
		byName = make(map[string]*entry)
		r.services[domain] = byName
	}
	byName[svc] = &entry{
		info:    Info{Domain: domain, Service: svc, Schema: schema, SupportsResponse: supports},
		handler: handler,
	}
	r.bus.Enqueue(core.NewEvent(core.EventServiceRegistered, map[string]any{"domain": domain, "service": svc}, nil))
	r.mu.Unlock()

	r.bus.Flush()
	r.logger.Debug("service registered", "domain", domain, "service", svc)
	return nil
}

// HasService reports whether domain.service is registered.
func (r *Registry) HasService(domain, svc string) bool {
	_, ok := r.lookup(domain, svc)
	return ok
}

// GetService returns the description of domain.service.
func (r *Registry) GetService(domain, svc string) (Info, bool) {
	e, ok := r.lookup(domain, svc)
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

func (r *Registry) lookup(domain, svc string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[domain][svc]
	return e, ok
}

// Unregister removes domain.service and reports whether it existed.
func (r *Registry) Unregister(domain, svc string) bool {
	r.mu.Lock()
	byName := r.services[domain]
	if _, ok := byName[svc]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(byName, svc)
	if len(byName) == 0 {
		delete(r.services, domain)
	}
	r.bus.Enqueue(core.NewEvent(core.EventServiceRemoved, map[string]any{"domain": domain, "service": svc}, nil))
	r.mu.Unlock()

	r.bus.Flush()
	return true
}

// UnregisterDomain removes every service of domain and returns how many
// were removed. One service_removed event fires per service.
func (r *Registry) UnregisterDomain(domain string) int {
	r.mu.Lock()
	byName := r.services[domain]
	names := slices.Sorted(maps.Keys(byName))
	delete(r.services, domain)
	for _, svc := range names {
		r.bus.Enqueue(core.NewEvent(core.EventServiceRemoved, map[string]any{"domain": domain, "service": svc}, nil))
	}
	r.mu.Unlock()

	r.bus.Flush()
	return len(names)
}

// Domains returns the sorted domains that have at least one service.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.services))
}

// DomainServices returns the services of domain keyed by service name.
func (r *Registry) DomainServices(domain string) map[string]Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Info, len(r.services[domain]))
	for name, e := range r.services[domain] {
		out[name] = e.info
	}
	return out
}

// AllServices returns every service keyed by domain then service name.
func (r *Registry) AllServices() map[string]map[string]Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]Info, len(r.services))
	for domain, byName := range r.services {
		inner := make(map[string]Info, len(byName))
		for name, e := range byName {
			inner[name] = e.info
		}
		out[domain] = inner
	}
	return out
}

// Call invokes the handler for call.Domain/call.Service and waits for it.
// The registry enforces no timeout; callers bound the wait through ctx.
func (r *Registry) Call(ctx context.Context, call core.ServiceCall) (any, error) {
	e, ok := r.lookup(call.Domain, call.Service)
	if !ok {
		return nil, &core.NotFoundError{Kind: "service", ID: call.Domain + "." + call.Service}
	}

	if call.Data == nil {
		call.Data = map[string]any{}
	}
	call.Context = call.Context.OrNew()

	if err := e.info.Schema.Validate(call.Data); err != nil {
		return nil, err
	}
	if len(call.Target) > 0 {
		data := maps.Clone(call.Data)
		for key, ids := range call.Target {
			data[key] = slices.Clone(ids)
		}
		call.Data = data
	}

	supports := e.info.SupportsResponse
	if call.ReturnResponse && supports == SupportsNone {
		return nil, ErrResponseNotSupported
	}
	if !call.ReturnResponse && supports == SupportsOnly {
		return nil, ErrResponseRequired
	}

	ctx, span := tracer.Start(ctx, "service.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("service.domain", call.Domain),
		attribute.String("service.name", call.Service),
		attribute.String("context.id", call.Context.ID),
	)

	r.bus.Fire(core.EventCallService, map[string]any{
		"domain":       call.Domain,
		"service":      call.Service,
		"service_data": call.Data,
	}, bus.WithContext(call.Context))

	resp, err := r.invoke(ctx, e.handler, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")

	switch {
	case supports == SupportsOnly && resp == nil:
		return nil, ErrNoResponse
	case !call.ReturnResponse:
		return nil, nil
	}
	return resp, nil
}

func (r *Registry) invoke(ctx context.Context, h Handler, call core.ServiceCall) (resp any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("service handler panicked", "domain", call.Domain, "service", call.Service, "panic", p)
			err = &HandlerError{Domain: call.Domain, Service: call.Service, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	resp, err = h(ctx, call)
	if err != nil {
		if core.IsValidation(err) {
			return nil, err
		}
		return nil, &HandlerError{Domain: call.Domain, Service: call.Service, Err: err}
	}
	return resp, nil
}

// Result is the outcome of an asynchronous call.
type Result struct {
	Response any
	Err      error
}

// CallAsync runs the call on its own goroutine. The returned channel
// receives exactly one Result; callers that do not care may ignore it.
func (r *Registry) CallAsync(ctx context.Context, call core.ServiceCall) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		resp, err := r.Call(ctx, call)
		out <- Result{Response: resp, Err: err}
	}()
	return out
}
