package registry

import (
	"context"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/types"
	"github.com/junctionhq/junction/pkg/webhook"
)

// webhookTopics reads the topic patterns a webhook integration wants.
// Absent or malformed config means subscribe to everything.
func webhookTopics(cfg types.Config) []string {
	raw, ok := cfg["events"].([]any)
	if !ok {
		return []string{"*"}
	}
	var topics []string
	for _, t := range raw {
		if s, ok := t.(string); ok && s != "" {
			topics = append(topics, s)
		}
	}
	if len(topics) == 0 {
		return []string{"*"}
	}
	return topics
}

// armWebhookLocked subscribes the webhook integration to its configured
// topic patterns. Caller holds r.mu.
func (r *Registry) armWebhookLocked(rec *types.Integration) {
	if len(r.webhookUnsubs[rec.ID]) > 0 {
		return
	}
	id := rec.ID
	var unsubs []func()
	for _, pattern := range rec.SubscribedTopics {
		unsubs = append(unsubs, r.bus.Subscribe(pattern, func(ev *bus.Event) error {
			r.deliverEvent(id, ev)
			return nil
		}))
	}
	r.webhookUnsubs[id] = unsubs
}

// cancelWebhookLocked tears down the integration's bus subscriptions.
// Caller holds r.mu.
func (r *Registry) cancelWebhookLocked(id string) {
	for _, unsub := range r.webhookUnsubs[id] {
		unsub()
	}
	delete(r.webhookUnsubs, id)
}

// deliverEvent snapshots the delivery target under the read lock, then
// posts asynchronously. Only active integrations receive deliveries;
// unhealthy, disabled, and removed ones are skipped.
func (r *Registry) deliverEvent(id string, ev *bus.Event) {
	if r.deliverer == nil {
		return
	}

	r.mu.RLock()
	rec, ok := r.records[id]
	if !ok || rec.Status != types.StatusActive {
		r.mu.RUnlock()
		return
	}
	target := webhook.Target{
		IntegrationID: id,
		URL:           rec.Config.String("url"),
		Secret:        rec.Config.String("secret"),
		Headers:       configHeaders(rec.Config),
	}
	r.mu.RUnlock()

	if target.URL == "" {
		return
	}

	go func() {
		record := r.deliverer.Deliver(context.Background(), target, ev)
		r.appendDeliveryLog(id, record)
	}()
}

// appendDeliveryLog records the delivery outcome, keeping the most
// recent entries up to the log capacity.
func (r *Registry) appendDeliveryLog(id string, record types.DeliveryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.DeliveryLog = append(rec.DeliveryLog, record)
	if n := len(rec.DeliveryLog); n > deliveryLogCapacity {
		rec.DeliveryLog = rec.DeliveryLog[n-deliveryLogCapacity:]
	}
	rec.Metrics.Requests++
	if record.ErrorKind != "" {
		rec.Metrics.Errors++
	}
}

// configHeaders extracts the custom header map from a webhook config.
func configHeaders(cfg types.Config) map[string]string {
	raw, ok := cfg["headers"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
