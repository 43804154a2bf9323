/*
Package registry is the hub's source of truth for integration records.

The registry owns the full lifecycle: Register validates a request
against the closed type catalog, resolves a port through the allocator
(auto-detection from the catalog default, or conflict resolution that
shifts the requested port and rewrites the URLs embedded in the config),
runs the initial health probe, performs type-specific initialization
(OpenAPI endpoint extraction, webhook topic subscription, adapter
construction), and inserts the record in active status.

After registration the health prober reports back through OnProbeResult,
which drives the active/unhealthy transitions and emits the recovered
and unhealthy lifecycle events. Enable and Disable toggle probing and
webhook delivery; Remove is the terminal teardown invoked by the
deintegration manager; Restore re-registers an integration from a saved
state snapshot under its original id.

Records are persisted write-through to the attached store and reloaded
with LoadPersisted on startup, which re-acquires port leases and re-arms
probe loops and webhook subscriptions.

All public methods return snapshots; callers never see the registry's
mutable records.
*/
package registry
