package statestream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/bus"
	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

// fakeClient records publishes and lets tests deliver messages to
// subscribed handlers.
type fakeClient struct {
	mu       sync.Mutex
	topics   mqtt.Topics
	messages []published
	handlers map[string]mqtt.MessageHandler
	notify   chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		topics:   mqtt.NewTopics("hub"),
		handlers: make(map[string]mqtt.MessageHandler),
		notify:   make(chan struct{}, 64),
	}
}

func (f *fakeClient) Topics() mqtt.Topics { return f.topics }

func (f *fakeClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	f.messages = append(f.messages, published{topic, string(payload), retained})
	f.mu.Unlock()
	f.notify <- struct{}{}
	return nil
}

func (f *fakeClient) PublishRetained(topic string, payload []byte) error {
	return f.Publish(topic, payload, 1, true)
}

func (f *fakeClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeClient) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeClient) deliver(t *testing.T, topic, payload string) error {
	t.Helper()
	f.mu.Lock()
	h := f.handlers[f.topics.AllServices()]
	f.mu.Unlock()
	if h == nil {
		t.Fatal("no handler subscribed")
	}
	return h(topic, []byte(payload))
}

func (f *fakeClient) waitFor(t *testing.T, n int) []published {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		f.mu.Lock()
		if len(f.messages) >= n {
			out := append([]published(nil), f.messages...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		select {
		case <-f.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
}

func TestPublisherStreamsStates(t *testing.T) {
	b := bus.New()
	states := state.NewStore(b)
	client := newFakeClient()
	pub := NewPublisher(b, client)
	pub.Start()

	if _, err := states.Set("light.kitchen", "on", map[string]any{"brightness": 200}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := states.Remove("light.kitchen", nil); err != nil {
		t.Fatal(err)
	}
	pub.Stop()

	msgs := client.waitFor(t, 2)
	if msgs[0].topic != "hub/state/light/kitchen" || !msgs[0].retained {
		t.Errorf("first = %+v", msgs[0])
	}
	var st core.State
	if err := json.Unmarshal([]byte(msgs[0].payload), &st); err != nil {
		t.Fatalf("payload not a state: %v", err)
	}
	if st.State != "on" || st.Attributes["brightness"] != 200.0 {
		t.Errorf("state = %+v", st)
	}
	if msgs[1].topic != "hub/state/light/kitchen" || msgs[1].payload != "" {
		t.Errorf("removal = %+v, want empty retained payload", msgs[1])
	}

	if _, err := states.Set("light.kitchen", "off", nil, nil); err != nil {
		t.Fatal(err)
	}
	if len(client.messages) != 2 {
		t.Error("published after Stop")
	}
}

func TestPublishAll(t *testing.T) {
	b := bus.New()
	states := state.NewStore(b)
	if _, err := states.Set("sensor.a", "1", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := states.Set("sensor.b", "2", nil, nil); err != nil {
		t.Fatal(err)
	}

	client := newFakeClient()
	pub := NewPublisher(b, client)
	pub.Start()
	pub.PublishAll(states.All(""))
	pub.Stop()

	if got := len(client.waitFor(t, 2)); got != 2 {
		t.Errorf("published %d, want 2", got)
	}
}

func TestServiceBridge(t *testing.T) {
	b := bus.New()
	reg := service.NewRegistry(b)
	mustRegister := func(domain, svc string, h service.Handler, supports service.SupportsResponse) {
		t.Helper()
		if err := reg.Register(domain, svc, h, nil, supports); err != nil {
			t.Fatal(err)
		}
	}
	var gotData map[string]any
	mustRegister("light", "turn_on", func(_ context.Context, call core.ServiceCall) (any, error) {
		gotData = call.Data
		return nil, nil
	}, service.SupportsNone)
	mustRegister("weather", "forecast", func(context.Context, core.ServiceCall) (any, error) {
		return map[string]any{"temperature": 12.5}, nil
	}, service.SupportsOnly)
	mustRegister("lock", "open", func(context.Context, core.ServiceCall) (any, error) {
		return nil, errors.New("jammed")
	}, service.SupportsNone)

	client := newFakeClient()
	bridge := NewServiceBridge(reg, client)
	if err := bridge.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tests := []struct {
		topic   string
		payload string
		success bool
		check   func(t *testing.T, r Result)
	}{
		{"hub/service/light/turn_on", `{"entity_id":"light.kitchen"}`, true, func(t *testing.T, _ Result) {
			if gotData["entity_id"] != "light.kitchen" {
				t.Errorf("service data = %v", gotData)
			}
		}},
		{"hub/service/weather/forecast", ``, true, func(t *testing.T, r Result) {
			resp, _ := r.Response.(map[string]any)
			if resp["temperature"] != 12.5 {
				t.Errorf("response = %v", r.Response)
			}
		}},
		{"hub/service/lock/open", `{}`, false, func(t *testing.T, r Result) {
			if r.Error == "" {
				t.Error("missing error message")
			}
		}},
		{"hub/service/fan/spin", `{}`, false, nil},
	}
	for i, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			if err := client.deliver(t, tt.topic, tt.payload); err != nil {
				t.Fatalf("handler error = %v", err)
			}
			msgs := client.waitFor(t, i+1)
			last := msgs[i]
			var r Result
			if err := json.Unmarshal([]byte(last.payload), &r); err != nil {
				t.Fatalf("result payload: %v", err)
			}
			domain, svc, _ := client.topics.ParseService(tt.topic)
			if last.topic != client.topics.ServiceResult(domain, svc) || last.retained {
				t.Errorf("result message = %+v", last)
			}
			if r.Success != tt.success || r.ContextID == "" {
				t.Errorf("result = %+v", r)
			}
			if tt.check != nil {
				tt.check(t, r)
			}
		})
	}

	if err := client.deliver(t, "hub/service/light/turn_on", `not json`); err == nil {
		t.Error("invalid JSON accepted")
	}
	bridge.Stop()
}
