package statestream

import (
	"encoding/json"
	"sync"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
)

const defaultQueueSize = 1024

type message struct {
	topic   string
	payload []byte
}

// Publisher streams state_changed events to retained MQTT topics. Messages
// are queued and sent in event order by a single worker; a full queue drops
// the message.
type Publisher struct {
	bus    *bus.Bus
	client Client
	logger Logger

	mu      sync.Mutex
	running bool
	queue   chan message
	unsub   func()
	done    chan struct{}
}

// NewPublisher returns a publisher. Call Start to begin streaming.
func NewPublisher(b *bus.Bus, c Client) *Publisher {
	return &Publisher{bus: b, client: c, logger: noopLogger{}}
}

// SetLogger sets the logger for dropped and failed publishes.
func (p *Publisher) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// Start subscribes to state_changed and starts the worker.
func (p *Publisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.queue = make(chan message, defaultQueueSize)
	p.done = make(chan struct{})
	go p.run(p.queue, p.done)
	p.unsub = p.bus.Listen(core.EventStateChanged, p.handle)
}

// Stop unsubscribes and waits for queued messages to be sent.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.unsub()
	close(p.queue)
	done := p.done
	p.mu.Unlock()
	<-done
}

// PublishAll queues the current value of every state, for use after a
// broker reconnect.
func (p *Publisher) PublishAll(states []*core.State) {
	for _, st := range states {
		p.enqueue(st.EntityID, st)
	}
}

func (p *Publisher) handle(ev *core.Event) {
	entityID, _ := ev.Data["entity_id"].(string)
	st, _ := ev.Data["new_state"].(*core.State)
	p.enqueue(entityID, st)
}

// enqueue queues the retained message for entityID; a nil state clears it.
func (p *Publisher) enqueue(entityID string, st *core.State) {
	id, err := core.ParseEntityID(entityID)
	if err != nil {
		return
	}
	msg := message{topic: p.client.Topics().State(id.Domain, id.ObjectID)}
	if st != nil {
		if msg.payload, err = json.Marshal(st); err != nil {
			p.logger.Error("encoding state", "entity_id", entityID, "error", err)
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.logger.Warn("statestream queue full, dropping state", "entity_id", entityID)
	}
}

func (p *Publisher) run(queue <-chan message, done chan<- struct{}) {
	defer close(done)
	for msg := range queue {
		if err := p.client.PublishRetained(msg.topic, msg.payload); err != nil {
			p.logger.Warn("publishing state", "topic", msg.topic, "error", err)
		}
	}
}
