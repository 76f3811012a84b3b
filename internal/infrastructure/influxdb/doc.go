// Package influxdb writes time-series points to InfluxDB v2.
//
// Writes are non-blocking and batched by the client library; failures are
// reported asynchronously through SetOnError. The recorder package turns
// state_changed events into points:
//
//	state,entity_id=sensor.outdoor,domain=sensor value=21.5 <time>
package influxdb
