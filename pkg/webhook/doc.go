/*
Package webhook delivers bus events to webhook-type integrations.

Each delivery is an HTTP POST of the JSON-serialized event to the
integration's configured URL. Configured headers are merged over the
Content-Type default, and when a secret is set the body's HMAC-SHA256
signature (lowercase hex) rides along in X-Junction-Signature.

Deliveries run on a bounded worker pool (weighted semaphore) so slow
endpoints cannot starve the event bus dispatch loop. A per-endpoint
circuit breaker opens after consecutive failures and sheds further
attempts until the endpoint recovers. Outcomes are returned to the
registry, which appends them to the integration's bounded delivery log.
*/
package webhook
