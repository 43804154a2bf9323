package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPChecker_HealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).Check(context.Background())

	assert.True(t, result.Healthy, result.Message)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestHTTPChecker_Non2xxIsUnhealthy(t *testing.T) {
	for _, status := range []int{http.StatusMovedPermanently, http.StatusNotFound, http.StatusInternalServerError} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		result := NewHTTPChecker(server.URL).Check(context.Background())
		assert.False(t, result.Healthy, "status %d should be unhealthy", status)

		server.Close()
	}
}

func TestHTTPChecker_TransportError(t *testing.T) {
	// No listener on this port
	result := NewHTTPChecker("http://127.0.0.1:59999").Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Zero(t, result.StatusCode)
}

func TestCheckOnce_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := CheckOnce(context.Background(), server.URL, 50*time.Millisecond)
	assert.False(t, result.Healthy)
}
