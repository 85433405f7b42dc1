// Package metrics publishes benchmark results. A Sink receives one value
// per operation at the end of its measurement; the Prometheus sink exposes
// them, with the run id as a label, on an HTTP /metrics endpoint.
package metrics
