// Package bus implements the hub's synchronous event bus.
//
// Listeners register per event type (or for every type with core.MatchAll)
// and are invoked in registration order. Fire dispatches over a snapshot of
// the listener set, so listeners added during a dispatch do not see the
// in-flight event and listeners removed during a dispatch are skipped if not
// yet reached.
//
// Resources that mutate shared state under their own lock use Enqueue and
// Flush instead of Fire: events are queued while the lock is held and
// delivered after it is released, in the same order as the mutations.
package bus

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Logger defines the logging interface used by the Bus.
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

// Listener receives a dispatched event. It runs on the firing goroutine and
// must hand off long-running work.
type Listener func(*core.Event)

// Filter rejects events for a listener without unsubscribing it.
type Filter func(*core.Event) bool

type registration struct {
	seq       uint64
	eventType string
	fn        Listener
	filter    Filter
	once      bool
	fired     atomic.Bool
	removed   atomic.Bool
}

// Bus owns listener registrations and dispatch. It is safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	seq       uint64
	listeners map[string][]*registration

	qmu      sync.Mutex
	queue    []*core.Event
	draining bool

	logger Logger
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		listeners: make(map[string][]*registration),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger used to report listener panics.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// Listen registers fn for eventType and returns its unsubscribe function.
// The unsubscribe function is idempotent.
func (b *Bus) Listen(eventType string, fn Listener) func() {
	return b.add(eventType, fn, nil, false)
}

// ListenFiltered registers fn for events of eventType accepted by filter.
func (b *Bus) ListenFiltered(eventType string, filter Filter, fn Listener) func() {
	return b.add(eventType, fn, filter, false)
}

// ListenOnce registers fn for the next event of eventType only.
func (b *Bus) ListenOnce(eventType string, fn Listener) func() {
	return b.add(eventType, fn, nil, true)
}

func (b *Bus) add(eventType string, fn Listener, filter Filter, once bool) func() {
	b.mu.Lock()
	b.seq++
	reg := &registration{seq: b.seq, eventType: eventType, fn: fn, filter: filter, once: once}
	// Copy on write so snapshots held by in-flight dispatches stay intact.
	b.listeners[eventType] = append(slices.Clip(b.listeners[eventType]), reg)
	b.mu.Unlock()

	return func() { b.remove(reg) }
}

func (b *Bus) remove(reg *registration) {
	if reg.removed.Swap(true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.listeners[reg.eventType]
	idx := slices.Index(current, reg)
	if idx < 0 {
		return
	}
	next := slices.Delete(slices.Clone(current), idx, idx+1)
	if len(next) == 0 {
		delete(b.listeners, reg.eventType)
		return
	}
	b.listeners[reg.eventType] = next
}

// ListenerCount returns the number of registrations across all event types.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, regs := range b.listeners {
		n += len(regs)
	}
	return n
}

// ListenerCounts returns the number of registrations per event type.
func (b *Bus) ListenerCounts() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[string]int, len(b.listeners))
	for eventType, regs := range b.listeners {
		counts[eventType] = len(regs)
	}
	return counts
}

// FireOption customises an event built by Fire.
type FireOption func(*core.Event)

// WithOrigin sets the event origin.
func WithOrigin(origin core.Origin) FireOption {
	return func(e *core.Event) { e.Origin = origin }
}

// WithContext attaches an existing causality context.
func WithContext(ctx *core.Context) FireOption {
	return func(e *core.Event) {
		if ctx != nil {
			e.Context = ctx
		}
	}
}

// Fire builds an event and delivers it to every listener registered at the
// time of the call before returning.
func (b *Bus) Fire(eventType string, data map[string]any, opts ...FireOption) *core.Event {
	ev := core.NewEvent(eventType, data, nil)
	for _, opt := range opts {
		opt(ev)
	}
	b.FireEvent(ev)
	return ev
}

// FireEvent delivers a prepared event.
func (b *Bus) FireEvent(ev *core.Event) {
	for _, reg := range b.snapshot(ev.EventType) {
		b.deliver(reg, ev)
	}
}

// snapshot merges the typed and match-all listeners in registration order.
func (b *Bus) snapshot(eventType string) []*registration {
	b.mu.RLock()
	typed := b.listeners[eventType]
	var all []*registration
	if eventType != core.MatchAll {
		all = b.listeners[core.MatchAll]
	}
	b.mu.RUnlock()

	if len(all) == 0 {
		return typed
	}
	if len(typed) == 0 {
		return all
	}

	merged := make([]*registration, 0, len(typed)+len(all))
	i, j := 0, 0
	for i < len(typed) && j < len(all) {
		if typed[i].seq < all[j].seq {
			merged = append(merged, typed[i])
			i++
		} else {
			merged = append(merged, all[j])
			j++
		}
	}
	merged = append(merged, typed[i:]...)
	return append(merged, all[j:]...)
}

func (b *Bus) deliver(reg *registration, ev *core.Event) {
	if reg.removed.Load() {
		return
	}
	if reg.filter != nil && !b.safeFilter(reg, ev) {
		return
	}
	if reg.once {
		if !reg.fired.CompareAndSwap(false, true) {
			return
		}
		b.remove(reg)
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				"event_type", ev.EventType,
				"panic", r,
			)
		}
	}()
	reg.fn(ev)
}

func (b *Bus) safeFilter(reg *registration, ev *core.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event filter panicked", "event_type", ev.EventType, "panic", r)
			ok = false
		}
	}()
	return reg.filter(ev)
}

// Enqueue appends ev to the ordered delivery queue without dispatching it.
// Callers hold their own resource lock while enqueueing and call Flush once
// the lock is released.
func (b *Bus) Enqueue(ev *core.Event) {
	b.qmu.Lock()
	b.queue = append(b.queue, ev)
	b.qmu.Unlock()
}

// Flush delivers queued events in enqueue order. If another goroutine is
// already draining, Flush returns and that goroutine delivers the events.
// Events enqueued by listeners during a drain are delivered after the
// current event finishes.
func (b *Bus) Flush() {
	b.qmu.Lock()
	if b.draining {
		b.qmu.Unlock()
		return
	}
	b.draining = true

	for len(b.queue) > 0 {
		ev := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.qmu.Unlock()

		b.FireEvent(ev)

		b.qmu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.qmu.Unlock()
}
