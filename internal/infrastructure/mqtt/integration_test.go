//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Requires a broker at 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
func TestPublishSubscribeRoundTrip(t *testing.T) {
	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := client.Topics().State("sensor", "roundtrip")
	received := make(chan string, 1)
	if err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.PublishRetained(topic, []byte("21.5")); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "21.5" {
			t.Errorf("payload = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
	_ = client.PublishRetained(topic, nil)
}
