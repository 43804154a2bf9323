package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/junctionhq/junction/pkg/types"
)

// HandleFactory builds the adapter handle for one integration type.
type HandleFactory func(cfg types.Config) (types.Handle, error)

// defaultFactories covers the closed type catalog. The hub owner may
// override entries (e.g. a real plugin loader) before the registry
// starts.
func defaultFactories() map[types.IntegrationType]HandleFactory {
	return map[types.IntegrationType]HandleFactory{
		types.TypeWebUI:           newGenericHandle,
		types.TypeDevelopmentTool: newGenericHandle,
		types.TypeAPIService:      newGenericHandle,
		types.TypeWebhook:         newGenericHandle,
		types.TypeOpenAPI:         newGenericHandle,
		types.TypeDatabase: func(cfg types.Config) (types.Handle, error) {
			return newConnectionAdapter("database", cfg.String("connectionString"))
		},
		types.TypeMessageQueue: func(cfg types.Config) (types.Handle, error) {
			return newConnectionAdapter("message-queue", cfg.String("brokerUrl"))
		},
		types.TypePlugin: newPluginHandle,
	}
}

// GenericHandle backs integration types that need no special adapter.
// Its state is an opaque bag preserved across deintegration and restored
// verbatim on re-integration.
type GenericHandle struct {
	mu    sync.Mutex
	state map[string]any

	activeConnections int
	pendingOperations int
	stopped           bool
}

func newGenericHandle(cfg types.Config) (types.Handle, error) {
	return &GenericHandle{state: make(map[string]any)}, nil
}

func (h *GenericHandle) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeConnections
}

func (h *GenericHandle) PendingOperations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pendingOperations
}

func (h *GenericHandle) StopAcceptingOperations(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

func (h *GenericHandle) Cleanup(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeConnections = 0
	h.pendingOperations = 0
	return nil
}

func (h *GenericHandle) SaveState(ctx context.Context) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]any, len(h.state))
	for k, v := range h.state {
		out[k] = v
	}
	return out, nil
}

func (h *GenericHandle) RestoreState(ctx context.Context, state any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := state.(map[string]any); ok {
		h.state = m
	}
	return nil
}

// connectionAdapter is the typed handle for database and message-queue
// integrations. It keeps the connection parameters and tracks in-flight
// work for graceful teardown.
type connectionAdapter struct {
	kind string
	dsn  string

	mu      sync.Mutex
	pending int
	active  int
	stopped bool
}

func newConnectionAdapter(kind, dsn string) (types.Handle, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s adapter requires connection parameters", kind)
	}
	return &connectionAdapter{kind: kind, dsn: dsn}, nil
}

func (a *connectionAdapter) ActiveConnections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *connectionAdapter) PendingOperations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

func (a *connectionAdapter) StopAcceptingOperations(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	return nil
}

func (a *connectionAdapter) Cleanup(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = 0
	a.pending = 0
	return nil
}

func (a *connectionAdapter) SaveState(ctx context.Context) (any, error) {
	return map[string]any{"kind": a.kind, "dsn": a.dsn}, nil
}

func (a *connectionAdapter) RestoreState(ctx context.Context, state any) error {
	m, ok := state.(map[string]any)
	if !ok {
		return nil
	}
	if dsn, ok := m["dsn"].(string); ok && dsn != "" {
		a.dsn = dsn
	}
	return nil
}

// pluginSources are the module origins a plugin integration may declare.
var pluginSources = map[string]bool{
	"npm":   true,
	"local": true,
	"url":   true,
}

// pluginHandle resolves a plugin's declared source at registration time.
// Loading external plugin binaries is out of scope; the handle records
// where the module lives so operators can manage it out of band.
type pluginHandle struct {
	source string
	module string
}

func newPluginHandle(cfg types.Config) (types.Handle, error) {
	source := cfg.String("source")
	if !pluginSources[source] {
		return nil, fmt.Errorf("unknown plugin source %q (want npm, local, or url)", source)
	}
	return &pluginHandle{source: source, module: cfg.String("module")}, nil
}

func (p *pluginHandle) Initialize(ctx context.Context, cfg types.Config) error {
	if p.source == "local" && p.module == "" {
		return fmt.Errorf("local plugin requires a module path")
	}
	return nil
}

func (p *pluginHandle) Action(ctx context.Context, name string, params map[string]any) (any, error) {
	return nil, fmt.Errorf("plugin action %q is not loaded", name)
}
