package types

import "context"

// Handle is the capability set an integration adapter may implement.
// All methods are optional; the hub probes for capabilities with type
// assertions and treats missing ones as no-ops.
type Handle any

// Initializer is called once during registration, after validation and
// port allocation. A failing initializer aborts the registration.
type Initializer interface {
	Initialize(ctx context.Context, cfg Config) error
}

// Cleaner releases the adapter's external resources during teardown.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// StopAcceptor is asked to stop taking new work before a graceful
// cleanup drains pending operations.
type StopAcceptor interface {
	StopAcceptingOperations(ctx context.Context) error
}

// OperationCounter exposes the in-flight work the deintegration
// manager's validate and graceful-drain steps look at.
type OperationCounter interface {
	ActiveConnections() int
	PendingOperations() int
}

// DependentLister names services that depend on this integration and
// must be notified before teardown.
type DependentLister interface {
	Dependents() []string
}

// StateSaver produces a serializable snapshot for preserveData
// deintegrations.
type StateSaver interface {
	SaveState(ctx context.Context) (any, error)
}

// StateRestorer rehydrates an adapter from a snapshot during
// re-integration.
type StateRestorer interface {
	RestoreState(ctx context.Context, state any) error
}

// ActionHandler dispatches named actions invoked through the request
// surface.
type ActionHandler interface {
	Action(ctx context.Context, name string, params map[string]any) (any, error)
}
