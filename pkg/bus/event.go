package bus

import (
	"time"
)

// Event is an immutable message published on the bus. Topics are dotted
// strings, e.g. "integration.registered".
type Event struct {
	ID            string            `json:"id"`
	Topic         string            `json:"topic"`
	Data          any               `json:"data"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlationId,omitempty"`
	ReplyTo       string            `json:"replyTo,omitempty"`
	TTL           time.Duration     `json:"ttl,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the event's TTL has elapsed at now.
func (e *Event) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.Timestamp.Add(e.TTL))
}

// Topic conventions observable on the bus.
const (
	TopicIntegrationRegistered = "integration.registered"
	TopicIntegrationEnabled    = "integration.enabled"
	TopicIntegrationDisabled   = "integration.disabled"
	TopicIntegrationUnhealthy  = "integration.unhealthy"
	TopicIntegrationRecovered  = "integration.recovered"
	TopicIntegrationRemoved    = "integration.removed"

	TopicDeintegrationStarted        = "deintegration.started"
	TopicDeintegrationCompleted      = "deintegration.completed"
	TopicDeintegrationManualRequired = "deintegration.manual_required"
	TopicReintegrationCompleted      = "reintegration.completed"

	// TopicEventError is emitted when a subscriber's handler keeps
	// failing after its configured retries.
	TopicEventError = "event.error"
)

// TopicIntegrationRequest is the per-integration topic announcing each
// action dispatched to that integration.
func TopicIntegrationRequest(id string) string {
	return "integration." + id + ".request"
}

// TopicIntegrationError is the per-integration topic announcing a failed
// action.
func TopicIntegrationError(id string) string {
	return "integration." + id + ".error"
}

// PublishOptions tunes a single Publish call. The zero value is valid.
type PublishOptions struct {
	CorrelationID string
	ReplyTo       string
	TTL           time.Duration
	Metadata      map[string]string
	// Source overrides the bus node id; used when re-dispatching events
	// received from the distributed transport.
	Source string
}

// Handler consumes one event. Returned errors are caught by the bus and
// fed into the subscription's retry policy; they never abort the
// enclosing publish.
type Handler func(ev *Event) error

// SubscribeOptions tunes a subscription. The zero value is valid.
type SubscribeOptions struct {
	// Filter drops non-matching events before the handler runs.
	Filter func(ev *Event) bool
	// Retries is how many times a failing handler is re-invoked.
	Retries int
	// RetryDelay is the pause before each retry.
	RetryDelay time.Duration
}

// HistoryFilter narrows GetHistory results. Zero values match everything.
type HistoryFilter struct {
	Topic         string
	Since         time.Time
	Until         time.Time
	CorrelationID string
	Limit         int
}
