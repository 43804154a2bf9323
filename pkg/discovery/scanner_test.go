package discovery

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/ports"
	"github.com/junctionhq/junction/pkg/registry"
	"github.com/junctionhq/junction/pkg/types"
)

func newScannerFixture(t *testing.T, scanPorts []int) (*Scanner, *registry.Registry, *bus.Bus) {
	t.Helper()

	b := bus.New(bus.Options{NodeID: "test-node", MaxHistorySize: 100})
	b.Start()
	t.Cleanup(b.Stop)

	reg := registry.New(registry.Options{
		Allocator:            ports.NewAllocator(43000, 43099),
		Bus:                  b,
		DefaultProbeInterval: time.Minute,
		DefaultProbeTimeout:  time.Second,
	})
	t.Cleanup(reg.Close)

	s := NewScanner(Options{
		Manager:  reg,
		Bus:      b,
		Interval: time.Hour,
		Ports:    scanPorts,
	})
	return s, reg, b
}

func serverPort(t *testing.T, server *httptest.Server) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestScanOnce_ClassifiesOpenAPI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			w.Write([]byte(`{"openapi":"3.0.0","info":{"title":"t","version":"1"},"paths":{"/x":{"get":{"responses":{"200":{"description":"ok"}}}}}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s, reg, _ := newScannerFixture(t, []int{serverPort(t, server)})

	registered := s.ScanOnce(context.Background())
	require.Len(t, registered, 1)
	assert.Equal(t, types.TypeOpenAPI, registered[0].Type)
	assert.NotEmpty(t, registered[0].Endpoints)

	got, err := reg.Get(registered[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)
}

func TestScanOnce_ClassifiesAPIService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s, _, _ := newScannerFixture(t, []int{serverPort(t, server)})

	registered := s.ScanOnce(context.Background())
	require.Len(t, registered, 1)
	assert.Equal(t, types.TypeAPIService, registered[0].Type)
}

func TestScanOnce_ClassifiesWebUI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte("<html></html>"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s, _, _ := newScannerFixture(t, []int{serverPort(t, server)})

	registered := s.ScanOnce(context.Background())
	require.Len(t, registered, 1)
	assert.Equal(t, types.TypeWebUI, registered[0].Type)
}

func TestScanOnce_SkipsUnresponsivePorts(t *testing.T) {
	s, _, _ := newScannerFixture(t, []int{1})
	assert.Empty(t, s.ScanOnce(context.Background()))
}

func TestScanOnce_NeverDuplicates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s, reg, _ := newScannerFixture(t, []int{serverPort(t, server)})

	first := s.ScanOnce(context.Background())
	require.Len(t, first, 1)

	second := s.ScanOnce(context.Background())
	assert.Empty(t, second)
	assert.Len(t, reg.List(types.ListFilter{}), 1)
}

func TestScanOnce_OneBadCandidateDoesNotAbortScan(t *testing.T) {
	// This server responds but its OpenAPI document is unparsable, so
	// registration of the openapi candidate fails; the healthy candidate
	// on the other port still registers.
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openapi.json" {
			w.Write([]byte(`{"openapi":"3.0.0","paths":123}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer good.Close()

	s, _, _ := newScannerFixture(t, []int{serverPort(t, bad), serverPort(t, good)})

	registered := s.ScanOnce(context.Background())
	require.Len(t, registered, 1)
	assert.Equal(t, types.TypeAPIService, registered[0].Type)
}

type staticSource struct {
	candidates []Candidate
}

func (s *staticSource) Candidates(ctx context.Context) []Candidate {
	return s.candidates
}

func TestScanOnce_ExternalCandidateSource(t *testing.T) {
	b := bus.New(bus.Options{NodeID: "test-node", MaxHistorySize: 100})
	b.Start()
	t.Cleanup(b.Stop)

	reg := registry.New(registry.Options{
		Allocator:            ports.NewAllocator(43100, 43199),
		Bus:                  b,
		DefaultProbeInterval: time.Minute,
		DefaultProbeTimeout:  time.Second,
	})
	t.Cleanup(reg.Close)

	s := NewScanner(Options{
		Manager:  reg,
		Bus:      b,
		Interval: time.Hour,
		Source: &staticSource{candidates: []Candidate{{
			Name:   "managed-billing",
			Type:   types.TypeAPIService,
			Config: types.Config{"apiUrl": "http://127.0.0.1:43150", "discovered": true},
			Port:   43150,
		}}},
	})

	registered := s.ScanOnce(context.Background())
	require.Len(t, registered, 1)
	assert.Equal(t, "managed-billing", registered[0].Name)
	assert.Equal(t, types.TypeAPIService, registered[0].Type)

	// The same candidate is deduped on the next sweep
	assert.Empty(t, s.ScanOnce(context.Background()))
	assert.Len(t, reg.List(types.ListFilter{}), 1)
}

func TestScanner_PublishesDiscoveryEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s, _, b := newScannerFixture(t, []int{serverPort(t, server)})

	ch, cancel := b.Once(TopicServiceDiscovered)
	defer cancel()

	s.Start(context.Background())
	defer s.Stop()

	select {
	case ev := <-ch:
		data, ok := ev.Data.(map[string]any)
		require.True(t, ok)
		assert.NotEmpty(t, data["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no discovery event published")
	}
}
