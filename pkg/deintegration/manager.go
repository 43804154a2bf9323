package deintegration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/log"
	"github.com/junctionhq/junction/pkg/metrics"
	"github.com/junctionhq/junction/pkg/storage"
	"github.com/junctionhq/junction/pkg/types"
)

// SnapshotVersion tags state files so future readers can migrate.
const SnapshotVersion = "1"

// Registry is the subset of the integration registry the manager drives.
type Registry interface {
	Get(id string) (*types.Integration, error)
	Handle(id string) types.Handle
	Remove(ctx context.Context, id string) error
	MarkFailed(id string, reason string)
	Restore(ctx context.Context, id string, req types.RegisterRequest, state any) (*types.Integration, error)
}

// Notifier delivers the pre-teardown warning to one dependent service.
type Notifier interface {
	NotifyDependent(ctx context.Context, dependent, integrationID string) error
}

// busNotifier is the default Notifier: dependents are warned over the
// event bus and are expected to subscribe to integration.removing.
type busNotifier struct {
	bus *bus.Bus
}

func (n *busNotifier) NotifyDependent(ctx context.Context, dependent, integrationID string) error {
	n.bus.Publish("integration.removing", map[string]any{
		"integrationId": integrationID,
		"dependent":     dependent,
	})
	return nil
}

// Manager runs the teardown pipeline. Every run walks the same six
// steps: validate, notify dependents, save state, cleanup, verify
// cleanup, finalize. The cleanup policy only decides when the
// post-validation steps execute.
type Manager struct {
	registry Registry
	bus      *bus.Bus
	store    storage.Store
	dir      string
	notifier Notifier

	gracePeriod   time.Duration
	drainTimeout  time.Duration
	drainInterval time.Duration

	mu       sync.Mutex
	runs     map[string]*types.Deintegration
	timers   map[string]*time.Timer
	deferred map[string]types.DeintegrateOptions

	logger zerolog.Logger
}

// Options configures a Manager. Zero durations get the production
// defaults (60s grace, 60s drain window polled every second).
type Options struct {
	Registry Registry
	Bus      *bus.Bus
	// Store may be nil; records are always written to Dir.
	Store storage.Store
	// Dir receives <deintegrationID>-record.json and
	// <deintegrationID>-state.json files.
	Dir      string
	Notifier Notifier

	GracePeriod   time.Duration
	DrainTimeout  time.Duration
	DrainInterval time.Duration
}

// NewManager creates a Manager writing records under opts.Dir.
func NewManager(opts Options) (*Manager, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create deintegration directory: %w", err)
	}
	if opts.Notifier == nil {
		opts.Notifier = &busNotifier{bus: opts.Bus}
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 60 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 60 * time.Second
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = time.Second
	}
	return &Manager{
		registry:      opts.Registry,
		bus:           opts.Bus,
		store:         opts.Store,
		dir:           opts.Dir,
		notifier:      opts.Notifier,
		gracePeriod:   opts.GracePeriod,
		drainTimeout:  opts.DrainTimeout,
		drainInterval: opts.DrainInterval,
		runs:          make(map[string]*types.Deintegration),
		timers:        make(map[string]*time.Timer),
		deferred:      make(map[string]types.DeintegrateOptions),
		logger:        log.WithComponent("deintegration"),
	}, nil
}

// Stop cancels scheduled runs that have not fired yet.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}

// pipeline carries one run's working set between steps.
type pipeline struct {
	run    *types.Deintegration
	rec    *types.Integration
	handle types.Handle
	opts   types.DeintegrateOptions
}

// Deintegrate starts the teardown of an integration. Immediate and
// graceful runs complete (or fail) before returning; scheduled and
// manual runs return with their interim status and finish later.
func (m *Manager) Deintegrate(ctx context.Context, integrationID string, opts types.DeintegrateOptions) (*types.Deintegration, error) {
	rec, err := m.registry.Get(integrationID)
	if err != nil {
		return nil, err
	}
	if opts.Policy == "" {
		opts.Policy = types.PolicyImmediate
	}

	run := &types.Deintegration{
		ID:            uuid.New().String(),
		IntegrationID: integrationID,
		Policy:        opts.Policy,
		StartedAt:     time.Now().UTC(),
		Status:        types.DeintegrationInProgress,
	}
	p := &pipeline{run: run, rec: rec, handle: m.registry.Handle(integrationID), opts: opts}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.deferred[run.ID] = opts
	m.mu.Unlock()

	m.bus.Publish(bus.TopicDeintegrationStarted, map[string]any{
		"deintegrationId": run.ID,
		"integrationId":   integrationID,
		"policy":          string(opts.Policy),
	})

	// Step 1 runs under every policy before anything is torn down.
	if err := m.validate(p); err != nil {
		m.finishFailed(p, err)
		return m.snapshot(run), err
	}

	switch opts.Policy {
	case types.PolicyImmediate, types.PolicyGraceful:
		err = m.execute(ctx, p)

	case types.PolicyScheduled:
		m.schedule(p)

	case types.PolicyManual:
		m.setStatus(run, types.DeintegrationAwaitingConfirmation)
		m.bus.Publish(bus.TopicDeintegrationManualRequired, map[string]any{
			"deintegrationId": run.ID,
			"integrationId":   integrationID,
		})

	default:
		err = types.NewError(types.KindInvalidType, "unknown cleanup policy %q", opts.Policy)
		m.finishFailed(p, err)
	}

	return m.snapshot(run), err
}

// ConfirmManual resumes a run parked in awaiting_confirmation.
func (m *Manager) ConfirmManual(ctx context.Context, deintegrationID string) (*types.Deintegration, error) {
	m.mu.Lock()
	run, ok := m.runs[deintegrationID]
	if !ok || run.Status != types.DeintegrationAwaitingConfirmation {
		m.mu.Unlock()
		return nil, types.NewError(types.KindRecordNotFound,
			"no deintegration %s awaiting confirmation", deintegrationID)
	}
	run.Status = types.DeintegrationInProgress
	m.mu.Unlock()

	p, err := m.rebuildPipeline(run)
	if err != nil {
		m.finishFailed(&pipeline{run: run}, err)
		return m.snapshot(run), err
	}
	err = m.execute(ctx, p)
	return m.snapshot(run), err
}

// rebuildPipeline re-resolves the integration for a deferred run. The
// record may have changed between scheduling and execution.
func (m *Manager) rebuildPipeline(run *types.Deintegration) (*pipeline, error) {
	rec, err := m.registry.Get(run.IntegrationID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	opts := m.pendingOpts(run.ID)
	m.mu.Unlock()
	return &pipeline{
		run:    run,
		rec:    rec,
		handle: m.registry.Handle(run.IntegrationID),
		opts:   opts,
	}, nil
}

// pendingOpts recovers the options stored for a deferred run. Caller
// holds m.mu.
func (m *Manager) pendingOpts(runID string) types.DeintegrateOptions {
	if opts, ok := m.deferred[runID]; ok {
		return opts
	}
	return types.DeintegrateOptions{}
}

// schedule parks the run until opts.At, then executes it on the timer
// goroutine.
func (m *Manager) schedule(p *pipeline) {
	m.setStatus(p.run, types.DeintegrationScheduled)
	delay := time.Until(p.opts.At)
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	m.timers[p.run.ID] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.timers, p.run.ID)
		p.run.Status = types.DeintegrationInProgress
		m.mu.Unlock()

		fresh, err := m.rebuildPipeline(p.run)
		if err != nil {
			m.finishFailed(p, err)
			return
		}
		if err := m.execute(context.Background(), fresh); err != nil {
			m.logger.Warn().Err(err).Str("deintegration_id", p.run.ID).Msg("scheduled run failed")
		}
	})
	m.mu.Unlock()

	m.logger.Info().
		Str("deintegration_id", p.run.ID).
		Time("at", p.opts.At).
		Msg("deintegration scheduled")
}

// execute runs steps 2 through 6.
func (m *Manager) execute(ctx context.Context, p *pipeline) error {
	if err := m.notifyDependents(ctx, p); err != nil {
		m.finishFailed(p, err)
		return err
	}
	if err := m.saveState(ctx, p); err != nil {
		m.finishFailed(p, err)
		return err
	}
	if err := m.cleanup(ctx, p); err != nil {
		m.finishFailed(p, err)
		return err
	}
	if err := m.verifyCleanup(p); err != nil {
		m.finishFailed(p, err)
		return err
	}
	return m.finalize(ctx, p)
}

// validate is step 1: a live integration with in-flight work cannot be
// torn down unless the caller forces it.
func (m *Manager) validate(p *pipeline) error {
	step := m.beginStep(p.run, "validate")

	if p.opts.Force {
		step.Checks = append(step.Checks, "forced, checks skipped")
		m.endStep(step, nil)
		return nil
	}
	if p.opts.Policy != types.PolicyImmediate {
		// The cleanup drain owns the in-flight work for these policies
		step.Checks = append(step.Checks, "in-flight checks deferred to the cleanup drain")
		m.endStep(step, nil)
		return nil
	}

	if counter, ok := p.handle.(types.OperationCounter); ok {
		active, pending := counter.ActiveConnections(), counter.PendingOperations()
		step.Checks = append(step.Checks,
			fmt.Sprintf("active connections: %d", active),
			fmt.Sprintf("pending operations: %d", pending))
		if active > 0 || pending > 0 {
			err := types.NewError(types.KindDeintegrationBlocked,
				"integration %s has %d active connections and %d pending operations",
				p.run.IntegrationID, active, pending)
			m.endStep(step, err)
			return err
		}
	}

	m.endStep(step, nil)
	return nil
}

// notifyDependents is step 2. Individual notification failures are
// recorded but do not abort the teardown; the grace period gives
// dependents time to react.
func (m *Manager) notifyDependents(ctx context.Context, p *pipeline) error {
	step := m.beginStep(p.run, "notify_dependents")

	lister, ok := p.handle.(types.DependentLister)
	if !ok || len(lister.Dependents()) == 0 {
		step.Checks = append(step.Checks, "no dependents")
		m.endStep(step, nil)
		return nil
	}

	for _, dep := range lister.Dependents() {
		if err := m.notifier.NotifyDependent(ctx, dep, p.run.IntegrationID); err != nil {
			step.Checks = append(step.Checks, fmt.Sprintf("notify %s failed: %v", dep, err))
			continue
		}
		step.Checks = append(step.Checks, "notified "+dep)
	}

	select {
	case <-time.After(m.gracePeriod):
	case <-ctx.Done():
		err := ctx.Err()
		m.endStep(step, err)
		return err
	}

	m.endStep(step, nil)
	return nil
}

// saveState is step 3. The snapshot is written before any resource is
// released so a failed teardown never loses state.
func (m *Manager) saveState(ctx context.Context, p *pipeline) error {
	step := m.beginStep(p.run, "save_state")

	if !p.opts.PreserveData {
		step.Checks = append(step.Checks, "preserveData not requested")
		m.endStep(step, nil)
		return nil
	}

	var handleState any
	if saver, ok := p.handle.(types.StateSaver); ok {
		var err error
		handleState, err = saver.SaveState(ctx)
		if err != nil {
			wrapped := types.WrapError(types.KindStateCorrupt, err, "adapter state capture failed")
			m.endStep(step, wrapped)
			return wrapped
		}
	}

	snapshot := types.StateSnapshot{
		IntegrationID:   p.run.IntegrationID,
		DeintegrationID: p.run.ID,
		Timestamp:       time.Now().UTC(),
		State: map[string]any{
			"name":   p.rec.Name,
			"config": p.rec.Config,
			"handle": handleState,
		},
		Metadata: types.SnapshotMetadata{
			AdapterType: p.rec.Type,
			Version:     SnapshotVersion,
		},
	}

	if err := m.writeJSON(m.statePath(p.run.ID), snapshot); err != nil {
		wrapped := types.WrapError(types.KindStateCorrupt, err, "failed to write state snapshot")
		m.endStep(step, wrapped)
		return wrapped
	}

	step.Checks = append(step.Checks, "state written to "+m.statePath(p.run.ID))
	m.endStep(step, nil)
	return nil
}

// cleanup is step 4: stop intake, wait out the drain window under the
// deferred policies, then release the adapter's resources. The state
// snapshot is already on disk by the time intake stops.
func (m *Manager) cleanup(ctx context.Context, p *pipeline) error {
	step := m.beginStep(p.run, "cleanup")

	if stopper, ok := p.handle.(types.StopAcceptor); ok {
		if err := stopper.StopAcceptingOperations(ctx); err != nil {
			m.endStep(step, err)
			return err
		}
		step.Checks = append(step.Checks, "intake stopped")
	}
	if p.opts.Policy != types.PolicyImmediate && !p.opts.Force {
		if err := m.awaitDrain(ctx, step, p.handle); err != nil {
			m.endStep(step, err)
			return err
		}
	}
	if cleaner, ok := p.handle.(types.Cleaner); ok {
		if err := cleaner.Cleanup(ctx); err != nil {
			m.endStep(step, err)
			return err
		}
		step.Checks = append(step.Checks, "adapter cleanup ran")
	}

	m.endStep(step, nil)
	return nil
}

// verifyCleanup is step 5: the adapter must report no residual work.
func (m *Manager) verifyCleanup(p *pipeline) error {
	step := m.beginStep(p.run, "verify_cleanup")

	if counter, ok := p.handle.(types.OperationCounter); ok {
		active, pending := counter.ActiveConnections(), counter.PendingOperations()
		if active > 0 || pending > 0 {
			err := types.NewError(types.KindCleanupVerificationFailed,
				"cleanup left %d active connections and %d pending operations", active, pending)
			m.endStep(step, err)
			return err
		}
		step.Checks = append(step.Checks, "no residual connections or operations")
	} else {
		step.Checks = append(step.Checks, "adapter exposes no counters")
	}

	m.endStep(step, nil)
	return nil
}

// finalize is step 6: the record leaves the registry, the run is
// persisted, and completion is announced.
func (m *Manager) finalize(ctx context.Context, p *pipeline) error {
	step := m.beginStep(p.run, "finalize")

	if err := m.registry.Remove(ctx, p.run.IntegrationID); err != nil {
		m.endStep(step, err)
		m.finishFailed(p, err)
		return err
	}
	m.endStep(step, nil)

	m.mu.Lock()
	p.run.Status = types.DeintegrationCompleted
	p.run.EndedAt = time.Now().UTC()
	delete(m.deferred, p.run.ID)
	m.mu.Unlock()

	m.persistRun(p.run)
	metrics.DeintegrationsTotal.WithLabelValues(string(p.run.Policy), "completed").Inc()
	m.bus.Publish(bus.TopicDeintegrationCompleted, map[string]any{
		"deintegrationId": p.run.ID,
		"integrationId":   p.run.IntegrationID,
	})
	logger := log.WithDeintegrationID(p.run.ID)
	logger.Info().
		Str("integration_id", p.run.IntegrationID).
		Msg("deintegration completed")
	return nil
}

// awaitDrain polls the adapter's counters inside the cleanup step until
// the in-flight work hits zero or the drain window closes. Graceful,
// scheduled, and manual runs all pass through here after intake stops.
func (m *Manager) awaitDrain(ctx context.Context, step *types.DeintegrationStep, handle types.Handle) error {
	counter, ok := handle.(types.OperationCounter)
	if !ok {
		step.Checks = append(step.Checks, "adapter exposes no counters")
		return nil
	}

	deadline := time.Now().Add(m.drainTimeout)
	for {
		active, pending := counter.ActiveConnections(), counter.PendingOperations()
		if active == 0 && pending == 0 {
			step.Checks = append(step.Checks, "drained")
			return nil
		}
		if time.Now().After(deadline) {
			return types.NewError(types.KindDeintegrationBlocked,
				"drain window closed with %d active connections and %d pending operations", active, pending)
		}
		select {
		case <-time.After(m.drainInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// finishFailed marks the run failed, fails the integration so its
// resources are released, and persists the record.
func (m *Manager) finishFailed(p *pipeline, cause error) {
	m.mu.Lock()
	p.run.Status = types.DeintegrationFailed
	p.run.EndedAt = time.Now().UTC()
	delete(m.deferred, p.run.ID)
	m.mu.Unlock()

	// Validation failures leave the integration alone; anything that
	// failed after teardown began poisons it.
	if types.KindOf(cause) != types.KindDeintegrationBlocked {
		m.registry.MarkFailed(p.run.IntegrationID, cause.Error())
	}

	m.persistRun(p.run)
	metrics.DeintegrationsTotal.WithLabelValues(string(p.run.Policy), "failed").Inc()
	logger := log.WithDeintegrationID(p.run.ID)
	logger.Warn().
		Err(cause).
		Str("integration_id", p.run.IntegrationID).
		Msg("deintegration failed")
}

// Reintegrate re-registers a previously deintegrated integration from
// its saved state snapshot, under its original id.
func (m *Manager) Reintegrate(ctx context.Context, deintegrationID string) (*types.Integration, error) {
	run, err := m.Get(deintegrationID)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(m.statePath(run.ID))
	if err != nil {
		return nil, types.WrapError(types.KindStateCorrupt, err,
			"no usable state snapshot for deintegration %s", deintegrationID)
	}
	var snapshot types.StateSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, types.WrapError(types.KindStateCorrupt, err,
			"state snapshot for deintegration %s is unreadable", deintegrationID)
	}

	state, _ := snapshot.State.(map[string]any)
	if state == nil {
		return nil, types.NewError(types.KindStateCorrupt,
			"state snapshot for deintegration %s has no payload", deintegrationID)
	}
	name, _ := state["name"].(string)
	cfg, _ := state["config"].(map[string]any)
	if name == "" || cfg == nil {
		return nil, types.NewError(types.KindStateCorrupt,
			"state snapshot for deintegration %s is missing its registration data", deintegrationID)
	}

	rec, err := m.registry.Restore(ctx, run.IntegrationID, types.RegisterRequest{
		Name:   name,
		Type:   snapshot.Metadata.AdapterType,
		Config: types.Config(cfg),
	}, state["handle"])
	if err != nil {
		return nil, err
	}

	m.bus.Publish(bus.TopicReintegrationCompleted, map[string]any{
		"deintegrationId": deintegrationID,
		"integrationId":   rec.ID,
	})
	m.logger.Info().
		Str("deintegration_id", deintegrationID).
		Str("integration_id", rec.ID).
		Msg("reintegration completed")
	return rec, nil
}

// Get returns the run with the given id, consulting memory, then the
// store, then the record files.
func (m *Manager) Get(deintegrationID string) (*types.Deintegration, error) {
	m.mu.Lock()
	if run, ok := m.runs[deintegrationID]; ok {
		out := cloneRun(run)
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	if m.store != nil {
		if run, err := m.store.GetDeintegration(deintegrationID); err == nil {
			return run, nil
		}
	}

	raw, err := os.ReadFile(m.recordPath(deintegrationID))
	if err != nil {
		return nil, types.NewError(types.KindRecordNotFound,
			"no deintegration record with id %s", deintegrationID)
	}
	var run types.Deintegration
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, types.WrapError(types.KindStateCorrupt, err,
			"deintegration record %s is unreadable", deintegrationID)
	}
	return &run, nil
}

// List returns all runs known in memory, newest first.
func (m *Manager) List() []*types.Deintegration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Deintegration, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, cloneRun(run))
	}
	return out
}

func (m *Manager) beginStep(run *types.Deintegration, name string) *types.DeintegrationStep {
	step := &types.DeintegrationStep{
		Name:      name,
		StartedAt: time.Now().UTC(),
		Status:    types.DeintegrationInProgress,
	}
	m.mu.Lock()
	run.Steps = append(run.Steps, step)
	m.mu.Unlock()
	return step
}

func (m *Manager) endStep(step *types.DeintegrationStep, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step.EndedAt = time.Now().UTC()
	if err != nil {
		step.Status = types.DeintegrationFailed
		step.Error = err.Error()
		return
	}
	step.Status = types.DeintegrationCompleted
}

func (m *Manager) setStatus(run *types.Deintegration, status types.DeintegrationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.Status = status
}

func (m *Manager) snapshot(run *types.Deintegration) *types.Deintegration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRun(run)
}

func cloneRun(run *types.Deintegration) *types.Deintegration {
	out := *run
	out.Steps = make([]*types.DeintegrationStep, len(run.Steps))
	for i, step := range run.Steps {
		s := *step
		out.Steps[i] = &s
	}
	return &out
}

// persistRun writes the run record to the record file and the store.
func (m *Manager) persistRun(run *types.Deintegration) {
	snapshot := m.snapshot(run)
	if err := m.writeJSON(m.recordPath(run.ID), snapshot); err != nil {
		m.logger.Warn().Err(err).Str("deintegration_id", run.ID).Msg("failed to write record file")
	}
	if m.store != nil {
		if err := m.store.PutDeintegration(snapshot); err != nil {
			m.logger.Warn().Err(err).Str("deintegration_id", run.ID).Msg("failed to persist record")
		}
	}
}

// writeJSON writes v pretty-printed so operators can read the records
// directly.
func (m *Manager) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (m *Manager) recordPath(deintegrationID string) string {
	return filepath.Join(m.dir, deintegrationID+"-record.json")
}

// statePath keys snapshots by the run, not the integration, so repeated
// teardowns of a re-integrated service never clobber each other.
func (m *Manager) statePath(deintegrationID string) string {
	return filepath.Join(m.dir, deintegrationID+"-state.json")
}
