/*
Package health implements HTTP health probing for managed integrations.

A probe is a single HTTP GET to the integration's declared health URL
with a fixed User-Agent and no body, measured against a timeout. Any 2xx
response is healthy; non-2xx responses and transport errors are not.

The Prober schedules one probe loop per armed integration. Loops are
sequential, so at most one probe per integration is in flight at any
instant; missed intervals do not compound. Outcomes are handed to a
Reporter (the registry), which owns the active/unhealthy status
transitions. Disarming a loop lets an in-flight probe finish but its
result is discarded.

CheckOnce performs the fail-fast initial probe used at registration time
and by the test-integration operation.
*/
package health
