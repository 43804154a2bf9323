package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/junctionhq/junction/pkg/log"
)

// Reporter receives probe outcomes. The registry implements this to
// drive status transitions; results for integrations that are no longer
// live are its to discard.
type Reporter interface {
	OnProbeResult(integrationID string, result Result)
}

// Target describes one integration's probe schedule.
type Target struct {
	IntegrationID string
	URL           string
	Interval      time.Duration
	Timeout       time.Duration
}

// Prober runs at most one scheduled probe loop per integration. Probes
// are sequential within a loop, so at most one probe per integration is
// ever in flight.
type Prober struct {
	reporter Reporter

	mu    sync.Mutex
	tasks map[string]context.CancelFunc

	defaultInterval time.Duration
	defaultTimeout  time.Duration

	logger zerolog.Logger
}

// NewProber creates a prober reporting to reporter.
func NewProber(reporter Reporter, defaultInterval, defaultTimeout time.Duration) *Prober {
	if defaultInterval <= 0 {
		defaultInterval = 30 * time.Second
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Prober{
		reporter:        reporter,
		tasks:           make(map[string]context.CancelFunc),
		defaultInterval: defaultInterval,
		defaultTimeout:  defaultTimeout,
		logger:          log.WithComponent("prober"),
	}
}

// Arm schedules a probe loop for target, replacing any existing loop for
// the same integration.
func (p *Prober) Arm(target Target) {
	if target.Interval <= 0 {
		target.Interval = p.defaultInterval
	}
	if target.Timeout <= 0 {
		target.Timeout = p.defaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if old, ok := p.tasks[target.IntegrationID]; ok {
		old()
	}
	p.tasks[target.IntegrationID] = cancel
	p.mu.Unlock()

	go p.loop(ctx, target)
}

// Disarm cancels the probe loop for an integration. An in-flight probe
// finishes but its result is discarded by the reporter.
func (p *Prober) Disarm(integrationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.tasks[integrationID]; ok {
		cancel()
		delete(p.tasks, integrationID)
	}
}

// Armed reports whether a probe loop is scheduled for integrationID.
func (p *Prober) Armed(integrationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tasks[integrationID]
	return ok
}

// Stop cancels every probe loop.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cancel := range p.tasks {
		cancel()
		delete(p.tasks, id)
	}
}

// loop runs probes every interval until cancelled. Missed intervals do
// not compound: the loop probes, then waits for the next tick.
func (p *Prober) loop(ctx context.Context, target Target) {
	checker := NewHTTPChecker(target.URL)
	ticker := time.NewTicker(target.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probe(ctx, checker, target)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prober) probe(ctx context.Context, checker *HTTPChecker, target Target) {
	checkCtx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	result := checker.Check(checkCtx)

	// Discard results for loops cancelled mid-probe
	if ctx.Err() != nil {
		return
	}

	p.logger.Debug().
		Str("integration_id", target.IntegrationID).
		Bool("healthy", result.Healthy).
		Dur("duration", result.Duration).
		Msg("probe completed")

	p.reporter.OnProbeResult(target.IntegrationID, result)
}
