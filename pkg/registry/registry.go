package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/health"
	"github.com/junctionhq/junction/pkg/log"
	"github.com/junctionhq/junction/pkg/metrics"
	"github.com/junctionhq/junction/pkg/ports"
	"github.com/junctionhq/junction/pkg/storage"
	"github.com/junctionhq/junction/pkg/types"
	"github.com/junctionhq/junction/pkg/webhook"
)

// deliveryLogCapacity bounds each webhook integration's delivery log.
const deliveryLogCapacity = 100

// Registry validates, registers, queries, updates, and removes
// integration records. It owns every record mutation: the health prober
// and webhook deliverer report outcomes back here, and the deintegration
// manager asks the registry to perform the terminal removal.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*types.Integration
	handles map[string]types.Handle
	// webhookUnsubs holds the bus unsubscribe functions armed for each
	// webhook integration.
	webhookUnsubs map[string][]func()

	allocator *ports.Allocator
	bus       *bus.Bus
	prober    *health.Prober
	store     storage.Store
	deliverer *webhook.Deliverer
	factories map[types.IntegrationType]HandleFactory

	developmentMode bool
	defaultInterval time.Duration
	defaultTimeout  time.Duration

	logger zerolog.Logger
}

// Options configures a Registry.
type Options struct {
	Allocator *ports.Allocator
	Bus       *bus.Bus
	// Store may be nil for an ephemeral registry (tests).
	Store     storage.Store
	Deliverer *webhook.Deliverer

	DevelopmentMode      bool
	DefaultProbeInterval time.Duration
	DefaultProbeTimeout  time.Duration
}

// New creates a Registry and its health prober.
func New(opts Options) *Registry {
	r := &Registry{
		records:         make(map[string]*types.Integration),
		handles:         make(map[string]types.Handle),
		webhookUnsubs:   make(map[string][]func()),
		allocator:       opts.Allocator,
		bus:             opts.Bus,
		store:           opts.Store,
		deliverer:       opts.Deliverer,
		factories:       defaultFactories(),
		developmentMode: opts.DevelopmentMode,
		defaultInterval: opts.DefaultProbeInterval,
		defaultTimeout:  opts.DefaultProbeTimeout,
		logger:          log.WithComponent("registry"),
	}
	r.prober = health.NewProber(r, opts.DefaultProbeInterval, opts.DefaultProbeTimeout)
	return r
}

// SetFactory overrides the adapter factory for one integration type.
// Must be called before registrations begin.
func (r *Registry) SetFactory(t types.IntegrationType, f HandleFactory) {
	r.factories[t] = f
}

// Close cancels all scheduled probes.
func (r *Registry) Close() {
	r.prober.Stop()
}

// Register validates req against the type catalog, resolves a port,
// runs the initial health probe and type-specific initialization, and
// inserts the record in active status.
func (r *Registry) Register(ctx context.Context, req types.RegisterRequest) (*types.Integration, error) {
	rec, err := r.register(ctx, uuid.New().String(), req, nil)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	return rec, nil
}

// register is the shared path behind Register and Restore. restoreState
// is non-nil only during re-integration.
func (r *Registry) register(ctx context.Context, id string, req types.RegisterRequest, restoreState any) (*types.Integration, error) {
	if req.Name == "" {
		return nil, types.NewError(types.KindMissingField, "integration name is required")
	}
	if req.Type == "" {
		return nil, types.NewError(types.KindMissingField, "integration type is required")
	}
	tc, ok := types.Catalog(req.Type)
	if !ok {
		return nil, types.NewError(types.KindInvalidType, "unknown integration type %q", req.Type)
	}

	cfg := req.Config
	if cfg == nil {
		cfg = types.Config{}
	} else {
		cfg = cfg.Clone()
	}
	for _, field := range tc.RequiredFields {
		if _, present := cfg[field]; !present {
			return nil, types.NewError(types.KindMissingField,
				"config field %q is required for type %q", field, req.Type)
		}
	}

	now := time.Now().UTC()
	rec := &types.Integration{
		ID:         id,
		Name:       req.Name,
		Type:       req.Type,
		Config:     cfg,
		Status:     types.StatusInitializing,
		CreatedAt:  now,
		UpdatedAt:  now,
		TypeConfig: tc,
	}

	// Port allocation. released on any subsequent failure.
	if err := r.resolvePort(rec, tc, req.Options); err != nil {
		return nil, err
	}
	releasePort := func() {
		if rec.AllocatedPort != 0 {
			r.allocator.Release(rec.AllocatedPort)
			rec.AllocatedPort = 0
		}
	}

	// Initial probe, fail-fast at the catalog's health timeout.
	rec.HealthCheck = r.healthCheckFor(rec, tc)
	if tc.HasHealthPath() && rec.HealthCheck.URL != "" && !req.Options.SkipHealthCheck && restoreState == nil {
		result := health.CheckOnce(ctx, rec.HealthCheck.URL, tc.HealthTimeout)
		if !result.Healthy && !req.Options.BypassHealthCheck && !r.developmentMode {
			releasePort()
			return nil, types.NewError(types.KindServiceUnreachable,
				"initial health probe of %s failed: %s", rec.HealthCheck.URL, result.Message)
		}
	}

	// Type-specific initialization
	handle, err := r.initialize(ctx, rec, restoreState)
	if err != nil {
		releasePort()
		rec.Status = types.StatusFailed
		rec.UpdatedAt = time.Now().UTC()
		r.mu.Lock()
		r.records[rec.ID] = rec
		r.mu.Unlock()
		r.updateGauges()
		return nil, err
	}

	rec.Status = types.StatusActive
	rec.RegisteredAt = time.Now().UTC()
	rec.UpdatedAt = rec.RegisteredAt

	r.mu.Lock()
	r.records[rec.ID] = rec
	r.handles[rec.ID] = handle
	if rec.Type == types.TypeWebhook {
		r.armWebhookLocked(rec)
	}
	snapshot := rec.Clone()
	r.mu.Unlock()

	r.persist(snapshot)
	r.updateGauges()

	if rec.HealthCheck.Enabled {
		r.prober.Arm(health.Target{
			IntegrationID: rec.ID,
			URL:           rec.HealthCheck.URL,
			Interval:      rec.HealthCheck.Interval,
			Timeout:       rec.HealthCheck.Timeout,
		})
	}

	r.bus.Publish(bus.TopicIntegrationRegistered, eventPayload(snapshot))
	r.logger.Info().
		Str("integration_id", rec.ID).
		Str("name", rec.Name).
		Str("type", string(rec.Type)).
		Int("port", rec.AllocatedPort).
		Msg("integration registered")

	return snapshot, nil
}

// resolvePort implements auto-detection and conflict resolution. On
// success rec.AllocatedPort holds the leased port (or 0 when the type
// uses none).
func (r *Registry) resolvePort(rec *types.Integration, tc *types.TypeConfig, opts types.RegisterOptions) error {
	cfg := rec.Config

	if _, hasPort := cfg.Int("port"); !hasPort && opts.AutoDetectPort && tc.DefaultPort > 0 {
		port, err := r.allocator.FindAvailable(tc.DefaultPort, ports.DefaultMaxAttempts, rec.ID)
		if err != nil {
			return err
		}
		cfg["port"] = port
		rec.AllocatedPort = port
		metrics.PortsLeased.Set(float64(r.allocator.LeaseCount()))
		return nil
	}

	port, hasPort := cfg.Int("port")
	if !hasPort {
		return nil
	}

	if !r.allocator.Leased(port) && r.allocator.Bindable(port) {
		if err := r.allocator.Acquire(port, rec.ID); err == nil {
			rec.AllocatedPort = port
			metrics.PortsLeased.Set(float64(r.allocator.LeaseCount()))
			return nil
		}
		// Lost the race; fall through to conflict resolution
	}

	newPort, err := r.allocator.FindAvailable(port+1, ports.DefaultMaxAttempts, rec.ID)
	if err != nil {
		return err
	}

	rec.AllocatedPort = newPort
	rec.OriginalPort = port
	cfg["port"] = newPort
	cfg["originalPort"] = port
	rewritePortURLs(cfg, port, newPort)
	metrics.PortsLeased.Set(float64(r.allocator.LeaseCount()))

	r.logger.Info().
		Str("integration_id", rec.ID).
		Int("requested_port", port).
		Int("allocated_port", newPort).
		Msg("resolved port conflict")
	return nil
}

// rewritePortURLs rewrites ":<oldPort>" to ":<newPort>" in the URL
// fields embedded in the config.
func rewritePortURLs(cfg types.Config, oldPort, newPort int) {
	oldRef := fmt.Sprintf(":%d", oldPort)
	newRef := fmt.Sprintf(":%d", newPort)
	for _, key := range []string{"apiUrl", "url"} {
		if v := cfg.String(key); v != "" && strings.Contains(v, oldRef) {
			cfg[key] = strings.ReplaceAll(v, oldRef, newRef)
		}
	}
}

// healthCheckFor derives the probe schedule for a record from its
// config, the catalog entry, and the process defaults.
func (r *Registry) healthCheckFor(rec *types.Integration, tc *types.TypeConfig) types.HealthCheck {
	hc := types.HealthCheck{
		Interval: r.defaultInterval,
		Timeout:  tc.HealthTimeout,
		Enabled:  tc.HasHealthPath(),
	}
	if hc.Interval <= 0 {
		hc.Interval = 30 * time.Second
	}
	if hc.Timeout <= 0 {
		hc.Timeout = r.defaultTimeout
	}

	if !tc.HasHealthPath() {
		return hc
	}

	base := rec.Config.String("apiUrl")
	if base == "" {
		base = rec.Config.String("url")
	}
	if base == "" {
		if port, ok := rec.Config.Int("port"); ok {
			base = fmt.Sprintf("http://127.0.0.1:%d", port)
		}
	}
	if base == "" {
		hc.Enabled = false
		return hc
	}
	hc.URL = strings.TrimRight(base, "/") + tc.HealthPath
	return hc
}

// initialize runs the type-specific initialization and returns the
// adapter handle. Failures are wrapped in the RegistrationFailed kind.
func (r *Registry) initialize(ctx context.Context, rec *types.Integration, restoreState any) (types.Handle, error) {
	switch rec.Type {
	case types.TypeOpenAPI:
		endpoints, err := ExtractEndpoints([]byte(rec.Config.String("spec")))
		if err != nil {
			return nil, err
		}
		rec.Endpoints = endpoints
	case types.TypeWebhook:
		rec.SubscribedTopics = webhookTopics(rec.Config)
	}

	factory, ok := r.factories[rec.Type]
	if !ok {
		return nil, types.NewError(types.KindTypeUnavailable,
			"no adapter registered for type %q", rec.Type)
	}
	handle, err := factory(rec.Config)
	if err != nil {
		return nil, types.WrapError(types.KindRegistrationFailed, err,
			"adapter construction failed for %q", rec.Name)
	}

	if restoreState != nil {
		if restorer, ok := handle.(types.StateRestorer); ok {
			if err := restorer.RestoreState(ctx, restoreState); err != nil {
				return nil, types.WrapError(types.KindStateCorrupt, err,
					"state restore failed for %q", rec.Name)
			}
		}
	}

	if init, ok := handle.(types.Initializer); ok {
		if err := init.Initialize(ctx, rec.Config); err != nil {
			return nil, types.WrapError(types.KindRegistrationFailed, err,
				"initialization failed for %q", rec.Name)
		}
	}

	return handle, nil
}

// Get returns a snapshot of the record with the given id.
func (r *Registry) Get(id string) (*types.Integration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "no integration with id %s", id)
	}
	return rec.Clone(), nil
}

// List returns snapshots of all records matching filter, in unspecified
// order.
func (r *Registry) List(filter types.ListFilter) []*types.Integration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Integration, 0, len(r.records))
	for _, rec := range r.records {
		if filter.Type != "" && rec.Type != filter.Type {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.Tag != "" && !hasTag(rec.Config, filter.Tag) {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out
}

func hasTag(cfg types.Config, tag string) bool {
	tags, ok := cfg["tags"].([]any)
	if !ok {
		return false
	}
	for _, t := range tags {
		if s, ok := t.(string); ok && s == tag {
			return true
		}
	}
	return false
}

// Handle returns the adapter handle for id, or nil.
func (r *Registry) Handle(id string) types.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[id]
}

// UpdateConfig merges patch into the record's config, re-validates the
// required fields, and re-arms the probe when the health URL changed.
func (r *Registry) UpdateConfig(id string, patch types.Config) (*types.Integration, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return nil, types.NewError(types.KindNotFound, "no integration with id %s", id)
	}
	if rec.Status == types.StatusRemoved {
		r.mu.Unlock()
		return nil, types.NewError(types.KindImmutable, "integration %s is removed", id)
	}

	for k, v := range patch {
		if v == nil {
			delete(rec.Config, k)
			continue
		}
		rec.Config[k] = v
	}

	for _, field := range rec.TypeConfig.RequiredFields {
		if _, present := rec.Config[field]; !present {
			r.mu.Unlock()
			return nil, types.NewError(types.KindMissingField,
				"config field %q is required for type %q", field, rec.Type)
		}
	}

	oldURL := rec.HealthCheck.URL
	rec.HealthCheck = r.healthCheckFor(rec, rec.TypeConfig)
	rec.UpdatedAt = time.Now().UTC()
	reprobe := rec.HealthCheck.Enabled && rec.HealthCheck.URL != oldURL &&
		(rec.Status == types.StatusActive || rec.Status == types.StatusUnhealthy)
	snapshot := rec.Clone()
	r.mu.Unlock()

	if reprobe {
		r.prober.Arm(health.Target{
			IntegrationID: id,
			URL:           snapshot.HealthCheck.URL,
			Interval:      snapshot.HealthCheck.Interval,
			Timeout:       snapshot.HealthCheck.Timeout,
		})
	}

	r.persist(snapshot)
	return snapshot, nil
}

// Enable transitions a disabled integration back to active. Enabling an
// already-live integration is a no-op.
func (r *Registry) Enable(id string) (types.IntegrationStatus, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return "", types.NewError(types.KindNotFound, "no integration with id %s", id)
	}
	switch rec.Status {
	case types.StatusRemoved, types.StatusFailed:
		status := rec.Status
		r.mu.Unlock()
		return "", types.NewError(types.KindImmutable, "integration %s is %s", id, status)
	case types.StatusActive, types.StatusUnhealthy:
		status := rec.Status
		r.mu.Unlock()
		return status, nil
	}

	rec.Status = types.StatusActive
	rec.UpdatedAt = time.Now().UTC()
	if rec.Type == types.TypeWebhook {
		r.armWebhookLocked(rec)
	}
	snapshot := rec.Clone()
	r.mu.Unlock()

	if snapshot.HealthCheck.Enabled {
		r.prober.Arm(health.Target{
			IntegrationID: id,
			URL:           snapshot.HealthCheck.URL,
			Interval:      snapshot.HealthCheck.Interval,
			Timeout:       snapshot.HealthCheck.Timeout,
		})
	}

	r.persist(snapshot)
	r.updateGauges()
	r.bus.Publish(bus.TopicIntegrationEnabled, eventPayload(snapshot))
	return types.StatusActive, nil
}

// Disable stops probing and webhook delivery for an integration.
// Disabling an already-disabled integration is a no-op.
func (r *Registry) Disable(id string) (types.IntegrationStatus, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return "", types.NewError(types.KindNotFound, "no integration with id %s", id)
	}
	switch rec.Status {
	case types.StatusRemoved, types.StatusFailed:
		status := rec.Status
		r.mu.Unlock()
		return "", types.NewError(types.KindImmutable, "integration %s is %s", id, status)
	case types.StatusDisabled:
		r.mu.Unlock()
		return types.StatusDisabled, nil
	}

	rec.Status = types.StatusDisabled
	rec.UpdatedAt = time.Now().UTC()
	r.cancelWebhookLocked(id)
	snapshot := rec.Clone()
	r.mu.Unlock()

	r.prober.Disarm(id)
	r.persist(snapshot)
	r.updateGauges()
	r.bus.Publish(bus.TopicIntegrationDisabled, eventPayload(snapshot))
	return types.StatusDisabled, nil
}

// Remove performs the terminal removal: probes and subscriptions are
// cancelled, the port lease is returned, and the record leaves the
// registry. Called by the deintegration manager's cleanup step.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return types.NewError(types.KindNotFound, "no integration with id %s", id)
	}

	rec.Status = types.StatusRemoved
	rec.UpdatedAt = time.Now().UTC()
	r.cancelWebhookLocked(id)
	delete(r.records, id)
	delete(r.handles, id)
	snapshot := rec.Clone()
	r.mu.Unlock()

	r.prober.Disarm(id)
	if rec.AllocatedPort != 0 {
		r.allocator.Release(rec.AllocatedPort)
		metrics.PortsLeased.Set(float64(r.allocator.LeaseCount()))
	}
	if r.deliverer != nil {
		r.deliverer.Forget(id)
	}
	if r.store != nil {
		if err := r.store.DeleteIntegration(id); err != nil {
			r.logger.Warn().Err(err).Str("integration_id", id).Msg("failed to delete persisted record")
		}
	}

	r.updateGauges()
	r.bus.Publish(bus.TopicIntegrationRemoved, eventPayload(snapshot))
	r.logger.Info().Str("integration_id", id).Msg("integration removed")
	return nil
}

// MarkFailed puts the record in the terminal failed state and releases
// its resources. Called when a deintegration pipeline fails.
func (r *Registry) MarkFailed(id string, reason string) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.Status = types.StatusFailed
	rec.LastHealthError = reason
	rec.UpdatedAt = time.Now().UTC()
	r.cancelWebhookLocked(id)
	port := rec.AllocatedPort
	rec.AllocatedPort = 0
	snapshot := rec.Clone()
	r.mu.Unlock()

	r.prober.Disarm(id)
	if port != 0 {
		r.allocator.Release(port)
		metrics.PortsLeased.Set(float64(r.allocator.LeaseCount()))
	}
	r.persist(snapshot)
	r.updateGauges()
}

// Restore re-registers an integration from a deintegration snapshot,
// reusing its original id. The initial health probe is skipped; the
// armed prober takes over from there.
func (r *Registry) Restore(ctx context.Context, id string, req types.RegisterRequest, state any) (*types.Integration, error) {
	r.mu.RLock()
	_, exists := r.records[id]
	r.mu.RUnlock()
	if exists {
		return nil, types.NewError(types.KindRegistrationFailed,
			"integration %s is still registered", id)
	}
	// The armed prober takes over; no fail-fast probe on restore
	req.Options.SkipHealthCheck = true
	if state == nil {
		state = map[string]any{}
	}
	return r.register(ctx, id, req, state)
}

// TestResult is the outcome of the test-integration operation.
type TestResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Test runs a one-shot health probe against the integration.
func (r *Registry) Test(ctx context.Context, id string) (*TestResult, error) {
	rec, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.HealthCheck.URL == "" {
		return &TestResult{
			Success: true,
			Message: fmt.Sprintf("type %q has no health check", rec.Type),
		}, nil
	}

	result := health.CheckOnce(ctx, rec.HealthCheck.URL, rec.HealthCheck.Timeout)
	return &TestResult{
		Success: result.Healthy,
		Message: result.Message,
		Details: map[string]any{
			"url":        rec.HealthCheck.URL,
			"statusCode": result.StatusCode,
			"durationMs": result.Duration.Milliseconds(),
		},
	}, nil
}

// ExecuteAction dispatches a named action to the integration's handle.
func (r *Registry) ExecuteAction(ctx context.Context, id, action string, params map[string]any) (any, error) {
	handle := r.Handle(id)
	if handle == nil {
		return nil, types.NewError(types.KindNotFound, "no integration with id %s", id)
	}
	actor, ok := handle.(types.ActionHandler)
	if !ok {
		return nil, types.NewError(types.KindNotFound,
			"integration %s does not support actions", id)
	}

	r.recordRequest(id)
	r.bus.Publish(bus.TopicIntegrationRequest(id), map[string]any{
		"action": action,
		"params": params,
	})
	out, err := actor.Action(ctx, action, params)
	if err != nil {
		r.recordError(id)
		r.bus.Publish(bus.TopicIntegrationError(id), map[string]any{
			"action": action,
			"error":  err.Error(),
		})
		return nil, types.WrapError(types.KindRegistrationFailed, err,
			"action %q failed", action)
	}
	return out, nil
}

// GetMetrics returns the record's counters.
func (r *Registry) GetMetrics(id string) (*types.Metrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "no integration with id %s", id)
	}
	m := rec.Metrics
	return &m, nil
}

func (r *Registry) recordRequest(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Metrics.Requests++
	}
}

func (r *Registry) recordError(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Metrics.Errors++
	}
}

// OnProbeResult implements health.Reporter. Results for records that are
// no longer live are discarded.
func (r *Registry) OnProbeResult(id string, result health.Result) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok || (rec.Status != types.StatusActive && rec.Status != types.StatusUnhealthy) {
		r.mu.Unlock()
		return
	}

	m := &rec.Metrics
	m.HealthTotal++
	m.LastHealthCheckAt = result.CheckedAt
	durMs := float64(result.Duration.Milliseconds())
	m.AvgResponseTimeMs += (durMs - m.AvgResponseTimeMs) / float64(m.HealthTotal)

	var topic string
	if result.Healthy {
		m.HealthOK++
		rec.LastHealthError = ""
		if rec.Status == types.StatusUnhealthy {
			rec.Status = types.StatusActive
			topic = bus.TopicIntegrationRecovered
		}
	} else {
		m.HealthFail++
		rec.LastHealthError = result.Message
		if rec.Status == types.StatusActive {
			rec.Status = types.StatusUnhealthy
			topic = bus.TopicIntegrationUnhealthy
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	snapshot := rec.Clone()
	r.mu.Unlock()

	if result.Healthy {
		metrics.HealthChecksTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.HealthChecksTotal.WithLabelValues("fail").Inc()
	}

	r.persist(snapshot)
	if topic != "" {
		r.updateGauges()
		r.bus.Publish(topic, eventPayload(snapshot))
		logger := log.WithIntegrationID(id)
		logger.Info().
			Str("status", string(snapshot.Status)).
			Msg("health status transition")
	}
}

// LoadPersisted reloads records from the store, re-acquires their port
// leases, and re-arms probes and webhook subscriptions.
func (r *Registry) LoadPersisted(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	persisted, err := r.store.ListIntegrations()
	if err != nil {
		return fmt.Errorf("failed to load persisted integrations: %w", err)
	}

	for _, rec := range persisted {
		tc, ok := types.Catalog(rec.Type)
		if !ok {
			r.logger.Warn().Str("integration_id", rec.ID).Msg("skipping record with unknown type")
			continue
		}
		rec.TypeConfig = tc

		if rec.AllocatedPort != 0 {
			if err := r.allocator.Acquire(rec.AllocatedPort, rec.ID); err != nil {
				r.logger.Warn().Err(err).Str("integration_id", rec.ID).Msg("failed to re-lease port")
			}
		}

		handle, err := r.initialize(ctx, rec, nil)
		if err != nil {
			r.logger.Warn().Err(err).Str("integration_id", rec.ID).Msg("failed to rebuild adapter")
			continue
		}

		r.mu.Lock()
		r.records[rec.ID] = rec
		r.handles[rec.ID] = handle
		live := rec.Status == types.StatusActive || rec.Status == types.StatusUnhealthy
		if live && rec.Type == types.TypeWebhook {
			r.armWebhookLocked(rec)
		}
		r.mu.Unlock()

		if live && rec.HealthCheck.Enabled {
			r.prober.Arm(health.Target{
				IntegrationID: rec.ID,
				URL:           rec.HealthCheck.URL,
				Interval:      rec.HealthCheck.Interval,
				Timeout:       rec.HealthCheck.Timeout,
			})
		}
	}

	metrics.PortsLeased.Set(float64(r.allocator.LeaseCount()))
	r.updateGauges()
	r.logger.Info().Int("count", len(persisted)).Msg("reloaded persisted integrations")
	return nil
}

// persist writes the snapshot through to the store, if one is attached.
func (r *Registry) persist(snapshot *types.Integration) {
	if r.store == nil {
		return
	}
	if err := r.store.PutIntegration(snapshot); err != nil {
		r.logger.Warn().Err(err).Str("integration_id", snapshot.ID).Msg("failed to persist record")
	}
}

// updateGauges recomputes the integrations-by-type-and-status gauge.
func (r *Registry) updateGauges() {
	r.mu.RLock()
	counts := make(map[[2]string]int)
	for _, rec := range r.records {
		counts[[2]string{string(rec.Type), string(rec.Status)}]++
	}
	r.mu.RUnlock()

	metrics.IntegrationsTotal.Reset()
	for key, n := range counts {
		metrics.IntegrationsTotal.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

// eventPayload is the data carried on integration lifecycle events.
func eventPayload(rec *types.Integration) map[string]any {
	return map[string]any{
		"id":     rec.ID,
		"name":   rec.Name,
		"type":   string(rec.Type),
		"status": string(rec.Status),
	}
}
