package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "grayhub"

// Payloads published on the availability topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics builds the hub's topic names under a common prefix.
//
//	<prefix>/status
//	<prefix>/state/<domain>/<object_id>
//	<prefix>/service/<domain>/<service>
//	<prefix>/service_result/<domain>/<service>
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Trailing slashes are dropped.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string { return t.prefix }

// Status is the availability topic.
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// State is the retained state topic for one entity.
func (t Topics) State(domain, objectID string) string {
	return t.prefix + "/state/" + domain + "/" + objectID
}

// AllStates matches every entity state topic.
func (t Topics) AllStates() string {
	return t.prefix + "/state/#"
}

// Service is the topic external clients publish service calls on.
func (t Topics) Service(domain, service string) string {
	return t.prefix + "/service/" + domain + "/" + service
}

// AllServices matches every service call topic.
func (t Topics) AllServices() string {
	return t.prefix + "/service/+/+"
}

// ServiceResult carries the outcome of a service call received over MQTT.
func (t Topics) ServiceResult(domain, service string) string {
	return t.prefix + "/service_result/" + domain + "/" + service
}

// ParseService extracts domain and service from a topic matching
// AllServices. ok is false for any other topic.
func (t Topics) ParseService(topic string) (domain, service string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix+"/service/")
	if !found {
		return "", "", false
	}
	domain, service, found = strings.Cut(rest, "/")
	if !found || domain == "" || service == "" || strings.Contains(service, "/") {
		return "", "", false
	}
	return domain, service, true
}
