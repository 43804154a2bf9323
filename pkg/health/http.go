package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// UserAgent is sent on every probe request.
const UserAgent = "junction-health-prober/1.0"

// Result represents the outcome of a single health probe.
type Result struct {
	Healthy    bool
	StatusCode int
	Message    string
	CheckedAt  time.Time
	Duration   time.Duration
}

// HTTPChecker performs HTTP GET health checks against one URL.
type HTTPChecker struct {
	// URL is the full health URL (e.g. "http://127.0.0.1:8080/health")
	URL string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates a checker for url. The client carries no
// timeout of its own; per-probe deadlines come from the context.
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:    url,
		Client: &http.Client{},
	}
}

// Check issues a single GET with no body. Any 2xx response is healthy;
// everything else, including transport errors, is not.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected 2xx)", message)
	}

	return Result{
		Healthy:    healthy,
		StatusCode: resp.StatusCode,
		Message:    message,
		CheckedAt:  start,
		Duration:   time.Since(start),
	}
}

// CheckOnce probes url once with the given timeout. Used for the initial
// registration probe and the test-integration operation.
func CheckOnce(ctx context.Context, url string, timeout time.Duration) Result {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return NewHTTPChecker(url).Check(checkCtx)
}
