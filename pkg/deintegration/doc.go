/*
Package deintegration tears integrations down without losing their
state.

Every run walks the same pipeline: validate that no in-flight work
blocks the teardown (force skips this), notify dependent services and
give them a grace period, snapshot the adapter state when preserveData
is requested, run the adapter cleanup, verify nothing is left behind,
and finalize by removing the record from the registry. The cleanup
policy decides when the post-validation steps execute: immediately, at
a scheduled time, or once an operator confirms a manual run. Under
every policy but immediate, the cleanup step drains pending operations
after stopping intake and before releasing resources.

Runs are recorded step by step and persisted as pretty-printed
<deintegrationID>-record.json files alongside <deintegrationID>-state.json
snapshots. Reintegrate reverses a preserved teardown: it rebuilds the
integration from its snapshot under the original id and restores the
adapter state.

A failed run after the validate step marks the integration failed so
its port lease and subscriptions are released either way.
*/
package deintegration
