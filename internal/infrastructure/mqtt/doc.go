// Package mqtt connects the hub to an MQTT broker.
//
// The client wraps paho.mqtt.golang with reconnection, subscription
// restoration, panic-safe handlers and an availability topic:
//
//	<prefix>/status   "online" (retained) while connected, "offline" via LWT
//
// Higher layers (statestream) publish entity state and bridge service calls
// through it. Topic layout is built by Topics so every component agrees on
// the same prefix.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)
//	_ = client.PublishRetained(topics.State("light", "kitchen"), payload)
package mqtt
