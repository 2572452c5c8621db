// Package server implements the HTTP API: the meeting audio delivery endpoint,
// liveness and health checks, session monitoring and Prometheus metrics.
package server
