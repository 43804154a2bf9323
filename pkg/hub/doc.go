/*
Package hub is the composition root: it builds the store, event bus,
port allocator, webhook deliverer, registry, deintegration manager,
discovery scanner, and API server from one Config, then runs them as a
unit. The serve command is a thin wrapper around this package.
*/
package hub
