/*
Package storage persists hub state in an embedded BoltDB database.

Two buckets are kept: integrations (live records, reloaded and re-armed
at boot) and deintegrations (completed teardown history, queried by
re-integration). Values are JSON-encoded records from pkg/types.
*/
package storage
