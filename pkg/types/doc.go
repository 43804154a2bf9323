/*
Package types defines the shared data model of the Junction hub: the
integration record and its lifecycle states, the closed integration type
catalog, deintegration records and cleanup policies, the capability
interfaces adapters may implement, and the stable error kinds surfaced
across component boundaries.

# Integration lifecycle

	         Register ok                 Disable
	 (new) ────────────▶ active ───────────────▶ disabled
	                       │  ▲                       │
	   health fail (prober)│  │ health ok             │ Enable
	                       ▼  │                       ▼
	                    unhealthy◀──── (same prober) ─┘
	                       │
	                       │ Delete / teardown success
	                       ▼
	                     removed  (terminal)

	 Register fail ─▶ failed (terminal; no port held)

Status values only move along the edges above. Transitions are driven by
the registry (register, enable, disable), the health prober
(active ↔ unhealthy), and the deintegration manager (→ removed).

# Type catalog

The catalog is a process-wide constant table. Each entry declares a
default port (or none), a health path (or none), a health timeout, and
the config fields a registration must supply. Types without a health
path (webhook, plugin) are never probed.

# Error kinds

Components return *types.Error values carrying an ErrorKind. The API
layer maps kinds one-to-one onto stable string identifiers, so clients
can switch on them without parsing messages.
*/
package types
