/*
Package api serves the hub's HTTP request surface.

Routes live under /api/v1: integration registration, querying, config
patching, enable/disable, one-shot testing, action dispatch, and
per-integration metrics; deintegration runs with manual confirmation
and reintegration; the event history; and an on-demand discovery scan.
/healthz and the Prometheus /metrics endpoint sit at the root.

Component errors carry stable kinds, and the server translates each
kind to a fixed HTTP status so clients can switch on either. Every
request is logged and counted through the shared metrics registry.
*/
package api
