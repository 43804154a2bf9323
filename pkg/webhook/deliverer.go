package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/log"
	"github.com/junctionhq/junction/pkg/metrics"
	"github.com/junctionhq/junction/pkg/types"
)

// SignatureHeader carries the HMAC-SHA256 hex signature of the request
// body when the webhook has a secret configured.
const SignatureHeader = "X-Junction-Signature"

// DefaultMaxConcurrent bounds in-flight deliveries across all webhooks.
const DefaultMaxConcurrent = 16

// Target is the destination of one delivery attempt, captured as a
// snapshot so the registry's locks are never held across the HTTP call.
type Target struct {
	IntegrationID string
	URL           string
	Headers       map[string]string
	Secret        string
}

// Deliverer posts events to webhook endpoints on a bounded worker pool.
// A per-endpoint circuit breaker sheds deliveries to endpoints that keep
// failing; failures are not retried here (retries are a subscription
// option on the event bus).
type Deliverer struct {
	client  *http.Client
	sem     *semaphore.Weighted
	timeout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	logger zerolog.Logger
}

// Options configures a Deliverer. Zero values get defaults.
type Options struct {
	MaxConcurrent int64
	Timeout       time.Duration
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(opts Options) *Deliverer {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Deliverer{
		client:   &http.Client{},
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		timeout:  opts.Timeout,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   log.WithComponent("webhook"),
	}
}

// Deliver posts ev to target and returns the outcome for the delivery
// log. It blocks while the worker pool is saturated.
func (d *Deliverer) Deliver(ctx context.Context, target Target, ev *bus.Event) types.DeliveryRecord {
	record := types.DeliveryRecord{
		EventID: ev.ID,
		Topic:   ev.Topic,
		At:      time.Now(),
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		record.ErrorKind = string(types.KindDeliveryFailed)
		return record
	}
	defer d.sem.Release(1)

	start := time.Now()
	status, err := d.post(ctx, target, ev)
	record.Duration = time.Since(start)
	record.HTTPStatus = status

	metrics.WebhookDeliveryDuration.Observe(record.Duration.Seconds())

	if err != nil || status < 200 || status >= 300 {
		record.ErrorKind = string(types.KindDeliveryFailed)
		metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
		d.logger.Debug().
			Err(err).
			Str("integration_id", target.IntegrationID).
			Str("event_id", ev.ID).
			Int("status", status).
			Msg("delivery failed")
	} else {
		metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	}

	return record
}

// post performs the HTTP POST through the target's circuit breaker.
func (d *Deliverer) post(ctx context.Context, target Target, ev *bus.Event) (int, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}

	result, err := d.breaker(target.IntegrationID).Execute(func() (any, error) {
		reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target.URL, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}

		req.Header.Set("Content-Type", "application/json")
		for k, v := range target.Headers {
			req.Header.Set(k, v)
		}
		if target.Secret != "" {
			req.Header.Set(SignatureHeader, Sign(body, target.Secret))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.StatusCode, types.NewError(types.KindDeliveryFailed,
				"endpoint returned %d", resp.StatusCode)
		}
		return resp.StatusCode, nil
	})

	status, _ := result.(int)
	return status, err
}

// breaker returns the circuit breaker for an integration, creating it on
// first use.
func (d *Deliverer) breaker(integrationID string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.breakers[integrationID]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "webhook:" + integrationID,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		d.breakers[integrationID] = cb
	}
	return cb
}

// Forget drops the circuit breaker state for a removed integration.
func (d *Deliverer) Forget(integrationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakers, integrationID)
}

// Sign computes the lowercase hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
