package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// SourceBus marks entries derived from bus events.
const SourceBus = "bus"

const queueSize = 256

// Logger is the subset of logging.Logger used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// audited maps event type to the entity type recorded and the data key
// holding its id.
var audited = map[string]struct{ entityType, idKey string }{
	core.EventConfigEntriesUpdated:          {"config_entry", "entry_id"},
	core.EventDeviceRegistryUpdated:         {"device", "device_id"},
	core.EventEntityRegistryUpdated:         {"entity", "entity_id"},
	core.EventAreaRegistryUpdated:           {"area", "area_id"},
	core.EventFloorRegistryUpdated:          {"floor", "floor_id"},
	core.EventLabelRegistryUpdated:          {"label", "label_id"},
	core.EventApplicationCredentialsUpdated: {"application_credentials", "application_credentials_id"},
	core.EventCallService:                   {"service", ""},
}

// Recorder turns configuration and service-call events into audit entries.
// Writes happen on a worker goroutine so bus dispatch never waits on SQLite.
type Recorder struct {
	bus    *bus.Bus
	repo   Repository
	logger Logger

	mu     sync.Mutex
	closed bool
	queue  chan *Entry
	unsubs []func()
	wg     sync.WaitGroup
}

// NewRecorder returns a recorder writing to repo. Call Start to subscribe.
func NewRecorder(b *bus.Bus, repo Repository) *Recorder {
	return &Recorder{bus: b, repo: repo, logger: noopLogger{}, queue: make(chan *Entry, queueSize)}
}

// SetLogger sets the logger used for dropped or failed writes.
func (r *Recorder) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// Start subscribes to the audited events and starts the writer.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
	for eventType := range audited {
		r.unsubs = append(r.unsubs, r.bus.Listen(eventType, r.handle))
	}
}

// Stop unsubscribes and waits for queued entries to be written.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, unsub := range r.unsubs {
		unsub()
	}
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) handle(ev *core.Event) {
	e, ok := EntryFor(ev)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("audit queue full, dropping entry", "event_type", ev.EventType)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.queue {
		if err := r.repo.Create(context.Background(), e); err != nil {
			r.logger.Error("writing audit entry", "action", e.Action, "entity_type", e.EntityType, "error", err)
		}
	}
}

// EntryFor builds the audit entry for ev. ok is false for events that are
// not audited.
func EntryFor(ev *core.Event) (e *Entry, ok bool) {
	spec, ok := audited[ev.EventType]
	if !ok {
		return nil, false
	}
	e = &Entry{
		EntityType: spec.entityType,
		Source:     SourceBus,
		CreatedAt:  ev.TimeFired.Time.UTC(),
	}
	if ev.Context != nil {
		e.ContextID = ev.Context.ID
		if ev.Context.UserID != nil {
			e.UserID = *ev.Context.UserID
		}
	}

	if ev.EventType == core.EventCallService {
		e.Action = "call"
		e.EntityID = fmt.Sprintf("%v.%v", ev.Data["domain"], ev.Data["service"])
		if data, _ := ev.Data["service_data"].(map[string]any); len(data) > 0 {
			e.Details = map[string]any{"service_data": data}
		}
		return e, true
	}

	e.Action, _ = ev.Data["action"].(string)
	e.EntityID, _ = ev.Data[spec.idKey].(string)
	details := make(map[string]any)
	for k, v := range ev.Data {
		if k != "action" && k != spec.idKey {
			details[k] = v
		}
	}
	if len(details) > 0 {
		e.Details = details
	}
	return e, true
}
