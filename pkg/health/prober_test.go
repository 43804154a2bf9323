package health

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu      sync.Mutex
	results map[string][]Result
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{results: make(map[string][]Result)}
}

func (r *recordingReporter) OnProbeResult(id string, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[id] = append(r.results[id], result)
}

func (r *recordingReporter) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results[id])
}

func (r *recordingReporter) last(id string) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs := r.results[id]
	if len(rs) == 0 {
		return Result{}, false
	}
	return rs[len(rs)-1], true
}

func TestProber_ReportsOnInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reporter := newRecordingReporter()
	p := NewProber(reporter, 30*time.Second, 5*time.Second)
	defer p.Stop()

	p.Arm(Target{
		IntegrationID: "int-1",
		URL:           server.URL,
		Interval:      20 * time.Millisecond,
		Timeout:       time.Second,
	})

	require.Eventually(t, func() bool {
		return reporter.count("int-1") >= 2
	}, 2*time.Second, 10*time.Millisecond)

	last, ok := reporter.last("int-1")
	require.True(t, ok)
	assert.True(t, last.Healthy)
}

func TestProber_ReportsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	reporter := newRecordingReporter()
	p := NewProber(reporter, 30*time.Second, 5*time.Second)
	defer p.Stop()

	p.Arm(Target{
		IntegrationID: "int-1",
		URL:           server.URL,
		Interval:      20 * time.Millisecond,
		Timeout:       time.Second,
	})

	require.Eventually(t, func() bool {
		return reporter.count("int-1") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	last, _ := reporter.last("int-1")
	assert.False(t, last.Healthy)
}

func TestProber_DisarmStopsReporting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reporter := newRecordingReporter()
	p := NewProber(reporter, 30*time.Second, 5*time.Second)
	defer p.Stop()

	p.Arm(Target{IntegrationID: "int-1", URL: server.URL, Interval: 20 * time.Millisecond})
	require.Eventually(t, func() bool {
		return reporter.count("int-1") >= 1
	}, 2*time.Second, 10*time.Millisecond)

	p.Disarm("int-1")
	assert.False(t, p.Armed("int-1"))

	settled := reporter.count("int-1")
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, reporter.count("int-1"), settled+1)
}

func TestProber_ArmReplacesExistingLoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reporter := newRecordingReporter()
	p := NewProber(reporter, 30*time.Second, 5*time.Second)
	defer p.Stop()

	p.Arm(Target{IntegrationID: "int-1", URL: server.URL, Interval: time.Hour})
	p.Arm(Target{IntegrationID: "int-1", URL: server.URL, Interval: 20 * time.Millisecond})

	assert.True(t, p.Armed("int-1"))
	require.Eventually(t, func() bool {
		return reporter.count("int-1") >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
