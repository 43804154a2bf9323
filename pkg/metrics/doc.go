/*
Package metrics exposes the hub's Prometheus collectors and the /metrics
HTTP handler. Collectors are package-level and registered at init; the
components that own the underlying state update them directly.
*/
package metrics
