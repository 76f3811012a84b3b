// Package statestream mirrors the hub onto MQTT.
//
// Publisher writes every entity state as a retained message under
// <prefix>/state/<domain>/<object_id> and clears it when the entity is
// removed. ServiceBridge lets MQTT clients call services by publishing JSON
// service data to <prefix>/service/<domain>/<service>; the outcome is
// published to <prefix>/service_result/<domain>/<service>.
package statestream
