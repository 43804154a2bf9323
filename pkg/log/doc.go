/*
Package log provides structured logging for Junction built on zerolog.

A single global logger is initialized once at process start via Init and
shared by all components. Child loggers carry stable identifying fields:

	logger := log.WithComponent("registry")
	logger.Info().Str("integration_id", id).Msg("integration registered")

Console output (human-readable, RFC3339 timestamps) is the default;
JSON output is selected through Config for machine ingestion. The level
can be changed at runtime with SetLevel, which the config watcher uses
for hot reload.
*/
package log
