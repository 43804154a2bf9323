package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/log"
	"github.com/junctionhq/junction/pkg/types"
)

// TopicServiceDiscovered announces each auto-registered service.
const TopicServiceDiscovered = "discovery.found"

// DefaultScanPorts are the local ports development services commonly
// bind.
var DefaultScanPorts = []int{3000, 3001, 4200, 5173, 8000, 8080, 8081, 8888, 9000}

// probeTimeout bounds each per-port HTTP probe.
const probeTimeout = 2 * time.Second

// ServiceManager is the registry surface the scanner registers
// discovered services through.
type ServiceManager interface {
	List(filter types.ListFilter) []*types.Integration
	Register(ctx context.Context, req types.RegisterRequest) (*types.Integration, error)
}

// CandidateSource enumerates integratable services for one sweep. The
// default source probes the common local development ports; an external
// service manager plugs in here instead.
type CandidateSource interface {
	Candidates(ctx context.Context) []Candidate
}

// Candidate is one service found on a scan, before registration.
type Candidate struct {
	Name   string
	Type   types.IntegrationType
	Config types.Config
	Port   int
}

// Scanner periodically asks its source for candidates and registers the
// new ones. Candidates on ports already covered by a registered
// integration are skipped, so the scanner never duplicates records
// across runs.
type Scanner struct {
	manager  ServiceManager
	bus      *bus.Bus
	interval time.Duration
	source   CandidateSource

	cancel context.CancelFunc
	done   chan struct{}

	logger zerolog.Logger
}

// Options configures a Scanner. Zero values get defaults (5 minute
// interval, a sweep of the common development ports).
type Options struct {
	Manager  ServiceManager
	Bus      *bus.Bus
	Interval time.Duration
	// Ports narrows the default port sweep; ignored when Source is set.
	Ports []int
	// Source supplies candidates instead of the built-in port sweep.
	Source CandidateSource
}

// NewScanner creates a Scanner.
func NewScanner(opts Options) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Source == nil {
		opts.Source = NewPortSweep(opts.Ports)
	}
	return &Scanner{
		manager:  opts.Manager,
		bus:      opts.Bus,
		interval: opts.Interval,
		source:   opts.Source,
		logger:   log.WithComponent("discovery"),
	}
}

// Start launches the scan loop. The first scan runs immediately.
func (s *Scanner) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.ScanOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.ScanOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the scan loop and waits for it to exit.
func (s *Scanner) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// ScanOnce registers every new candidate the source reports. One
// misbehaving candidate never aborts the rest of the scan.
func (s *Scanner) ScanOnce(ctx context.Context) []*types.Integration {
	occupied := s.occupiedPorts()

	var registered []*types.Integration
	for _, candidate := range s.source.Candidates(ctx) {
		if candidate.Port != 0 && occupied[candidate.Port] {
			continue
		}

		rec, err := s.manager.Register(ctx, types.RegisterRequest{
			Name:    candidate.Name,
			Type:    candidate.Type,
			Config:  candidate.Config,
			Options: types.RegisterOptions{BypassHealthCheck: true},
		})
		if err != nil {
			s.logger.Warn().
				Err(err).
				Int("port", candidate.Port).
				Str("type", string(candidate.Type)).
				Msg("failed to register discovered service")
			continue
		}

		if candidate.Port != 0 {
			occupied[candidate.Port] = true
		}
		registered = append(registered, rec)
		s.bus.Publish(TopicServiceDiscovered, map[string]any{
			"id":   rec.ID,
			"name": rec.Name,
			"type": string(rec.Type),
			"port": candidate.Port,
		})
		s.logger.Info().
			Str("integration_id", rec.ID).
			Str("type", string(rec.Type)).
			Int("port", candidate.Port).
			Msg("discovered service registered")
	}
	return registered
}

// occupiedPorts collects the local ports already covered by registered
// integrations, from both explicit port config and the ports embedded
// in their URLs.
func (s *Scanner) occupiedPorts() map[int]bool {
	occupied := make(map[int]bool)
	for _, rec := range s.manager.List(types.ListFilter{}) {
		if port, ok := rec.Config.Int("port"); ok {
			occupied[port] = true
		}
		if rec.AllocatedPort != 0 {
			occupied[rec.AllocatedPort] = true
		}
		for _, key := range []string{"apiUrl", "url"} {
			if port := urlPort(rec.Config.String(key)); port != 0 {
				occupied[port] = true
			}
		}
	}
	return occupied
}

func urlPort(raw string) int {
	if raw == "" {
		return 0
	}
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(u.Port(), "%d", &port)
	return port
}

// PortSweep is the default CandidateSource: it probes a fixed list of
// local ports and classifies whatever answers.
type PortSweep struct {
	ports  []int
	client *http.Client
}

// NewPortSweep creates a sweep over ports, defaulting to the common
// development ports.
func NewPortSweep(scanPorts []int) *PortSweep {
	if len(scanPorts) == 0 {
		scanPorts = DefaultScanPorts
	}
	return &PortSweep{
		ports:  scanPorts,
		client: &http.Client{},
	}
}

// Candidates probes every configured port and returns the services that
// answered.
func (s *PortSweep) Candidates(ctx context.Context) []Candidate {
	var out []Candidate
	for _, port := range s.ports {
		if candidate, found := s.probe(ctx, port); found {
			out = append(out, *candidate)
		}
	}
	return out
}

// probe classifies the service on a port. An OpenAPI document wins over
// a plain health endpoint, which wins over anything serving a root page.
func (s *PortSweep) probe(ctx context.Context, port int) (*Candidate, bool) {
	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	if spec, ok := s.fetchOpenAPI(ctx, base); ok {
		return &Candidate{
			Name: fmt.Sprintf("discovered-openapi-%d", port),
			Type: types.TypeOpenAPI,
			Config: types.Config{
				"apiUrl":     base,
				"spec":       spec,
				"discovered": true,
			},
			Port: port,
		}, true
	}

	if s.responds(ctx, base+"/health") {
		return &Candidate{
			Name: fmt.Sprintf("discovered-api-%d", port),
			Type: types.TypeAPIService,
			Config: types.Config{
				"apiUrl":     base,
				"discovered": true,
			},
			Port: port,
		}, true
	}

	if s.responds(ctx, base+"/") {
		return &Candidate{
			Name: fmt.Sprintf("discovered-web-%d", port),
			Type: types.TypeWebUI,
			Config: types.Config{
				"url":        base,
				"discovered": true,
			},
			Port: port,
		}, true
	}

	return nil, false
}

// fetchOpenAPI returns the raw document if the service publishes one at
// the conventional path.
func (s *PortSweep) fetchOpenAPI(ctx context.Context, base string) (string, bool) {
	body, ok := s.get(ctx, base+"/openapi.json")
	if !ok {
		return "", false
	}
	var doc struct {
		OpenAPI string `json:"openapi"`
		Swagger string `json:"swagger"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}
	if doc.OpenAPI == "" && doc.Swagger == "" {
		return "", false
	}
	return string(body), true
}

func (s *PortSweep) responds(ctx context.Context, url string) bool {
	_, ok := s.get(ctx, url)
	return ok
}

func (s *PortSweep) get(ctx context.Context, url string) ([]byte, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, false
	}
	return body, true
}
