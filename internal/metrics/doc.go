// Package metrics defines the Prometheus metrics exported by the meeting service.
package metrics
