/*
Package bus implements Junction's in-process event bus: topic pub/sub
with trailing-wildcard matching, request/reply correlation, a bounded
event history, and optional distributed fan-out over Redis.

# Topics and patterns

Topics are dotted strings (integration.registered,
deintegration.completed). Subscription patterns may end in "*", which
matches any trailing segments:

	integration.*   matches  integration.registered
	integration.*   matches  integration.alpha.request
	integration.*   does not match  unrelated.topic

# Delivery semantics

A single dispatch goroutine delivers each event to every matching
subscriber, so the order any one subscriber observes events in is the
publish order. Handlers run on the dispatch goroutine; a slow handler
delays later handlers for the same event. Handler errors are caught and
retried per the subscription's options, then surfaced as an event.error
event once the retry budget is exhausted. A failing subscriber never
prevents delivery to other subscribers and never fails a Publish.

# History

The bus retains at most MaxHistorySize events, oldest evicted first.
Events carrying a TTL are additionally dropped once it elapses.

# Distributed fan-out

With a Transport attached, every locally published event is also sent to
the shared channel, and remote events are injected into local dispatch.
Receivers ignore events whose source equals their own node id, so a
process never redelivers its own events. Transport loss degrades the bus
to local-only delivery; the Redis transport reconnects with exponential
backoff (50ms initial, 2s cap).
*/
package bus
