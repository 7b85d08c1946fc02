// Package httpserver wires the provisioning API into an HTTP service:
// chi routing with request logging, liveness and readiness probes, drain
// and undrain endpoints for load balancer coordination, optional pprof,
// and a dedicated prometheus metrics listener.
package httpserver
