// Package recorder writes numeric entity states to a time-series store.
package recorder

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Measurement is the measurement name of every recorded point.
const Measurement = "state"

// Writer accepts points. *influxdb.Client implements it.
type Writer interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Recorder forwards numeric state_changed events to a Writer.
type Recorder struct {
	bus    *bus.Bus
	writer Writer

	mu    sync.Mutex
	unsub func()
}

// New returns a recorder. Call Start to subscribe.
func New(b *bus.Bus, w Writer) *Recorder {
	return &Recorder{bus: b, writer: w}
}

// Start subscribes to state_changed. Calling it twice is a no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsub == nil {
		r.unsub = r.bus.Listen(core.EventStateChanged, r.handle)
	}
}

// Stop unsubscribes.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

func (r *Recorder) handle(ev *core.Event) {
	st, _ := ev.Data["new_state"].(*core.State)
	if st == nil {
		return
	}
	value, ok := numeric(st.State)
	if !ok {
		return
	}
	r.writer.WritePoint(Measurement,
		map[string]string{"entity_id": st.EntityID, "domain": st.Domain()},
		map[string]any{"value": value},
		st.LastUpdated.Time,
	)
}

// numeric parses a finite float state.
func numeric(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
