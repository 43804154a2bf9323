package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/types"
)

func testEvent() *bus.Event {
	return &bus.Event{
		ID:        "ev-1",
		Topic:     "integration.registered",
		Data:      map[string]any{"id": "int-1"},
		Timestamp: time.Now().UTC(),
		Source:    "node-a",
	}
}

func TestDeliver_PostsSerializedEvent(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDeliverer(Options{})
	record := d.Deliver(context.Background(), Target{
		IntegrationID: "int-1",
		URL:           server.URL,
		Headers:       map[string]string{"X-Custom": "v"},
	}, testEvent())

	assert.Equal(t, http.StatusOK, record.HTTPStatus)
	assert.Empty(t, record.ErrorKind)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "v", gotCustom)

	var decoded bus.Event
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "ev-1", decoded.ID)
	assert.Equal(t, "integration.registered", decoded.Topic)
}

func TestDeliver_SignsBodyWithSecret(t *testing.T) {
	var gotBody []byte
	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDeliverer(Options{})
	d.Deliver(context.Background(), Target{
		IntegrationID: "int-1",
		URL:           server.URL,
		Secret:        "s3cret",
	}, testEvent())

	require.NotEmpty(t, gotSignature)
	assert.Equal(t, Sign(gotBody, "s3cret"), gotSignature)
}

func TestDeliver_NoSignatureWithoutSecret(t *testing.T) {
	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDeliverer(Options{})
	d.Deliver(context.Background(), Target{IntegrationID: "int-1", URL: server.URL}, testEvent())

	assert.Empty(t, gotSignature)
}

func TestDeliver_Non2xxIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewDeliverer(Options{})
	record := d.Deliver(context.Background(), Target{IntegrationID: "int-1", URL: server.URL}, testEvent())

	assert.Equal(t, http.StatusBadGateway, record.HTTPStatus)
	assert.Equal(t, string(types.KindDeliveryFailed), record.ErrorKind)
}

func TestDeliver_TransportErrorIsFailure(t *testing.T) {
	d := NewDeliverer(Options{})
	record := d.Deliver(context.Background(), Target{
		IntegrationID: "int-1",
		URL:           "http://127.0.0.1:59999",
	}, testEvent())

	assert.Zero(t, record.HTTPStatus)
	assert.Equal(t, string(types.KindDeliveryFailed), record.ErrorKind)
}

func TestDeliver_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	d := NewDeliverer(Options{})
	target := Target{IntegrationID: "int-1", URL: server.URL}

	for i := 0; i < 10; i++ {
		d.Deliver(context.Background(), target, testEvent())
	}

	// Breaker trips at 5 consecutive failures; later attempts are shed
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, hits)
}

func TestDeliver_BoundedConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDeliverer(Options{MaxConcurrent: 2})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Deliver(context.Background(), Target{IntegrationID: "int-1", URL: server.URL}, testEvent())
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}
