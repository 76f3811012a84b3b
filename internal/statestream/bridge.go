package statestream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

const (
	bridgeQoS   = 1
	callTimeout = 30 * time.Second
)

// Result is the payload published on the service_result topic.
type Result struct {
	Success   bool   `json:"success"`
	Response  any    `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
	ContextID string `json:"context_id"`
}

// ServiceBridge executes service calls received over MQTT.
type ServiceBridge struct {
	services *service.Registry
	client   Client
	logger   Logger
	wg       sync.WaitGroup
}

// NewServiceBridge returns a bridge calling services in reg.
func NewServiceBridge(reg *service.Registry, c Client) *ServiceBridge {
	return &ServiceBridge{services: reg, client: c, logger: noopLogger{}}
}

// SetLogger sets the bridge logger.
func (s *ServiceBridge) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// Start subscribes to the service topics.
func (s *ServiceBridge) Start() error {
	topic := s.client.Topics().AllServices()
	if err := s.client.Subscribe(topic, bridgeQoS, s.handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return nil
}

// Stop unsubscribes and waits for in-flight calls.
func (s *ServiceBridge) Stop() {
	if err := s.client.Unsubscribe(s.client.Topics().AllServices()); err != nil {
		s.logger.Debug("unsubscribing service bridge", "error", err)
	}
	s.wg.Wait()
}

// handle runs each call on its own goroutine so a slow service does not
// hold up the MQTT client's delivery loop.
func (s *ServiceBridge) handle(topic string, payload []byte) error {
	domain, svc, ok := s.client.Topics().ParseService(topic)
	if !ok {
		return fmt.Errorf("unexpected service topic %q", topic)
	}
	data := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			s.publish(domain, svc, Result{Error: "service data must be a JSON object"})
			return fmt.Errorf("decoding service data: %w", err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.publish(domain, svc, s.call(domain, svc, data))
	}()
	return nil
}

func (s *ServiceBridge) call(domain, svc string, data map[string]any) Result {
	call := core.NewServiceCall(domain, svc, data)
	if info, ok := s.services.GetService(domain, svc); ok {
		call.ReturnResponse = info.SupportsResponse != service.SupportsNone
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	resp, err := s.services.Call(ctx, call)
	if err != nil {
		return Result{Error: err.Error(), ContextID: call.Context.ID}
	}
	return Result{Success: true, Response: resp, ContextID: call.Context.ID}
}

func (s *ServiceBridge) publish(domain, svc string, r Result) {
	payload, err := json.Marshal(r)
	if err != nil {
		s.logger.Error("encoding service result", "domain", domain, "service", svc, "error", err)
		return
	}
	topic := s.client.Topics().ServiceResult(domain, svc)
	if err := s.client.Publish(topic, payload, bridgeQoS, false); err != nil {
		s.logger.Warn("publishing service result", "topic", topic, "error", err)
	}
}
