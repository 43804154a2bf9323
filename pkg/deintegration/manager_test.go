package deintegration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/ports"
	"github.com/junctionhq/junction/pkg/registry"
	"github.com/junctionhq/junction/pkg/types"
)

type fixture struct {
	manager  *Manager
	registry *registry.Registry
	bus      *bus.Bus
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	b := bus.New(bus.Options{NodeID: "test-node", MaxHistorySize: 100})
	b.Start()
	t.Cleanup(b.Stop)

	reg := registry.New(registry.Options{
		Allocator:            ports.NewAllocator(42000, 42099),
		Bus:                  b,
		DefaultProbeInterval: time.Minute,
		DefaultProbeTimeout:  time.Second,
	})
	t.Cleanup(reg.Close)

	dir := t.TempDir()
	m, err := NewManager(Options{
		Registry:      reg,
		Bus:           b,
		Dir:           dir,
		GracePeriod:   time.Millisecond,
		DrainTimeout:  300 * time.Millisecond,
		DrainInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	return &fixture{manager: m, registry: reg, bus: b, dir: dir}
}

func (f *fixture) register(t *testing.T, name string) *types.Integration {
	t.Helper()
	rec, err := f.registry.Register(context.Background(), types.RegisterRequest{
		Name:    name,
		Type:    types.TypeDevelopmentTool,
		Config:  types.Config{"command": "run", "extra": "survives"},
		Options: types.RegisterOptions{SkipHealthCheck: true},
	})
	require.NoError(t, err)
	return rec
}

// busyHandle reports in-flight work until intake stops.
type busyHandle struct {
	mu      sync.Mutex
	pending int
	stopped bool
}

func (h *busyHandle) ActiveConnections() int { return 0 }

func (h *busyHandle) PendingOperations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return 0
	}
	return h.pending
}

func (h *busyHandle) StopAcceptingOperations(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

// stuckHandle never drains and leaves residue after cleanup.
type stuckHandle struct{ pending int }

func (h *stuckHandle) ActiveConnections() int            { return 0 }
func (h *stuckHandle) PendingOperations() int            { return h.pending }
func (h *stuckHandle) Cleanup(ctx context.Context) error { return nil }

// dependentHandle names one downstream service.
type dependentHandle struct{}

func (h *dependentHandle) Dependents() []string { return []string{"billing-sync"} }

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) NotifyDependent(ctx context.Context, dependent, integrationID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, dependent)
	return nil
}

func TestDeintegrate_ImmediateCompletes(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, "victim")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyImmediate,
	})
	require.NoError(t, err)

	assert.Equal(t, types.DeintegrationCompleted, run.Status)
	assert.False(t, run.EndedAt.IsZero())

	names := make([]string, len(run.Steps))
	for i, s := range run.Steps {
		names[i] = s.Name
		assert.Equal(t, types.DeintegrationCompleted, s.Status, "step %s", s.Name)
	}
	assert.Equal(t, []string{"validate", "notify_dependents", "save_state", "cleanup", "verify_cleanup", "finalize"}, names)

	_, err = f.registry.Get(rec.ID)
	assert.True(t, types.IsKind(err, types.KindNotFound))

	// The run record is readable from disk
	_, err = os.Stat(filepath.Join(f.dir, run.ID+"-record.json"))
	assert.NoError(t, err)
}

func TestDeintegrate_BlockedByInFlightWork(t *testing.T) {
	f := newFixture(t)
	f.registry.SetFactory(types.TypeDevelopmentTool, func(cfg types.Config) (types.Handle, error) {
		return &busyHandle{pending: 3}, nil
	})
	rec := f.register(t, "busy")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyImmediate,
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindDeintegrationBlocked))
	assert.Equal(t, types.DeintegrationFailed, run.Status)

	// A blocked validation leaves the integration untouched
	got, err := f.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
}

func TestDeintegrate_ForceSkipsValidation(t *testing.T) {
	f := newFixture(t)
	f.registry.SetFactory(types.TypeDevelopmentTool, func(cfg types.Config) (types.Handle, error) {
		return &busyHandle{pending: 3}, nil
	})
	rec := f.register(t, "busy-forced")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyImmediate,
		Force:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationCompleted, run.Status)
}

func TestDeintegrate_GracefulDrainsPendingWork(t *testing.T) {
	f := newFixture(t)
	f.registry.SetFactory(types.TypeDevelopmentTool, func(cfg types.Config) (types.Handle, error) {
		return &busyHandle{pending: 2}, nil
	})
	rec := f.register(t, "drainer")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyGraceful,
	})
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationCompleted, run.Status)

	// The drain lives inside the cleanup step; the step sequence stays
	// the same under every policy
	names := make([]string, len(run.Steps))
	for i, s := range run.Steps {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"validate", "notify_dependents", "save_state", "cleanup", "verify_cleanup", "finalize"}, names)
	assert.Contains(t, run.Steps[3].Checks, "drained")
}

// snapshotOrderHandle records whether the state snapshot was already on
// disk when intake was first stopped.
type snapshotOrderHandle struct {
	dir string

	mu             sync.Mutex
	stops          int
	snapshotOnStop bool
}

func (h *snapshotOrderHandle) ActiveConnections() int { return 0 }
func (h *snapshotOrderHandle) PendingOperations() int { return 0 }

func (h *snapshotOrderHandle) StopAcceptingOperations(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	if h.stops == 1 {
		matches, _ := filepath.Glob(filepath.Join(h.dir, "*-state.json"))
		h.snapshotOnStop = len(matches) > 0
	}
	return nil
}

func TestDeintegrate_GracefulSnapshotPrecedesIntakeStop(t *testing.T) {
	f := newFixture(t)
	handle := &snapshotOrderHandle{dir: f.dir}
	f.registry.SetFactory(types.TypeDevelopmentTool, func(cfg types.Config) (types.Handle, error) {
		return handle, nil
	})
	rec := f.register(t, "orderly")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy:       types.PolicyGraceful,
		PreserveData: true,
	})
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationCompleted, run.Status)

	handle.mu.Lock()
	defer handle.mu.Unlock()
	assert.Equal(t, 1, handle.stops)
	assert.True(t, handle.snapshotOnStop)
}

func TestDeintegrate_GracefulDrainTimeout(t *testing.T) {
	f := newFixture(t)
	f.registry.SetFactory(types.TypeDevelopmentTool, func(cfg types.Config) (types.Handle, error) {
		return &stuckHandle{pending: 1}, nil
	})
	rec := f.register(t, "stuck")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyGraceful,
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindDeintegrationBlocked))
	assert.Equal(t, types.DeintegrationFailed, run.Status)
}

func TestDeintegrate_VerifyFailureMarksIntegrationFailed(t *testing.T) {
	f := newFixture(t)
	f.registry.SetFactory(types.TypeDevelopmentTool, func(cfg types.Config) (types.Handle, error) {
		return &leakyHandle{}, nil
	})
	rec := f.register(t, "leaky")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyImmediate,
	})
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindCleanupVerificationFailed))
	assert.Equal(t, types.DeintegrationFailed, run.Status)

	got, err := f.registry.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
}

// leakyHandle passes validation clean but leaves residue after cleanup.
type leakyHandle struct {
	mu      sync.Mutex
	cleaned bool
}

func (h *leakyHandle) ActiveConnections() int { return 0 }

func (h *leakyHandle) PendingOperations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cleaned {
		return 1
	}
	return 0
}

func (h *leakyHandle) Cleanup(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleaned = true
	return nil
}

func TestDeintegrate_NotifiesDependents(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	f.manager.notifier = notifier
	f.registry.SetFactory(types.TypeDevelopmentTool, func(cfg types.Config) (types.Handle, error) {
		return &dependentHandle{}, nil
	})
	rec := f.register(t, "upstream")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyImmediate,
	})
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationCompleted, run.Status)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, []string{"billing-sync"}, notifier.calls)
}

func TestDeintegrate_ManualAwaitsConfirmation(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, "manual")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyManual,
	})
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationAwaitingConfirmation, run.Status)

	// The integration is still live until the operator confirms
	_, err = f.registry.Get(rec.ID)
	require.NoError(t, err)

	confirmed, err := f.manager.ConfirmManual(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationCompleted, confirmed.Status)

	_, err = f.registry.Get(rec.ID)
	assert.True(t, types.IsKind(err, types.KindNotFound))

	// Confirming twice fails
	_, err = f.manager.ConfirmManual(context.Background(), run.ID)
	assert.True(t, types.IsKind(err, types.KindRecordNotFound))
}

func TestConfirmManual_DrainsInFlightWork(t *testing.T) {
	f := newFixture(t)
	handle := &busyHandle{pending: 2}
	f.registry.SetFactory(types.TypeDevelopmentTool, func(cfg types.Config) (types.Handle, error) {
		return handle, nil
	})
	rec := f.register(t, "manual-busy")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyManual,
	})
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationAwaitingConfirmation, run.Status)

	confirmed, err := f.manager.ConfirmManual(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationCompleted, confirmed.Status)

	cleanup := confirmed.Steps[3]
	require.Equal(t, "cleanup", cleanup.Name)
	assert.Contains(t, cleanup.Checks, "drained")
}

func TestDeintegrate_ScheduledFiresLater(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, "later")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyScheduled,
		At:     time.Now().Add(30 * time.Millisecond),
	})
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationScheduled, run.Status)

	assert.Eventually(t, func() bool {
		got, err := f.manager.Get(run.ID)
		return err == nil && got.Status == types.DeintegrationCompleted
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.registry.Get(rec.ID)
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestReintegrate_RoundTripPreservesConfig(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, "phoenix")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy:       types.PolicyImmediate,
		PreserveData: true,
	})
	require.NoError(t, err)
	require.Equal(t, types.DeintegrationCompleted, run.Status)

	_, err = os.Stat(filepath.Join(f.dir, run.ID+"-state.json"))
	require.NoError(t, err)

	restored, err := f.manager.Reintegrate(context.Background(), run.ID)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, restored.ID)
	assert.Equal(t, "phoenix", restored.Name)
	assert.Equal(t, types.StatusActive, restored.Status)
	assert.Equal(t, "survives", restored.Config.String("extra"))
}

func TestReintegrate_RepeatedTeardownsKeepDistinctSnapshots(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, "recurring")

	first, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy:       types.PolicyImmediate,
		PreserveData: true,
	})
	require.NoError(t, err)

	restored, err := f.manager.Reintegrate(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, restored.ID)

	second, err := f.manager.Deintegrate(context.Background(), restored.ID, types.DeintegrateOptions{
		Policy:       types.PolicyImmediate,
		PreserveData: true,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	_, err = os.Stat(filepath.Join(f.dir, first.ID+"-state.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.dir, second.ID+"-state.json"))
	assert.NoError(t, err)

	again, err := f.manager.Reintegrate(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
}

func TestReintegrate_WithoutPreservedStateFails(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, "ash")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyImmediate,
	})
	require.NoError(t, err)

	_, err = f.manager.Reintegrate(context.Background(), run.ID)
	assert.True(t, types.IsKind(err, types.KindStateCorrupt))
}

func TestReintegrate_UnknownRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Reintegrate(context.Background(), "no-such-run")
	assert.True(t, types.IsKind(err, types.KindRecordNotFound))
}

func TestGet_ReadsRecordFromDisk(t *testing.T) {
	f := newFixture(t)
	rec := f.register(t, "archived")

	run, err := f.manager.Deintegrate(context.Background(), rec.ID, types.DeintegrateOptions{
		Policy: types.PolicyImmediate,
	})
	require.NoError(t, err)

	// A fresh manager over the same directory finds the record
	m2, err := NewManager(Options{
		Registry: f.registry,
		Bus:      f.bus,
		Dir:      f.dir,
	})
	require.NoError(t, err)

	got, err := m2.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationCompleted, got.Status)
	assert.Equal(t, rec.ID, got.IntegrationID)
}
