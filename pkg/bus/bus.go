package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/junctionhq/junction/pkg/log"
	"github.com/junctionhq/junction/pkg/metrics"
	"github.com/junctionhq/junction/pkg/types"
)

// DefaultMaxHistorySize bounds the event history ring when the config
// does not say otherwise.
const DefaultMaxHistorySize = 1000

// subscription is one registered handler with its options.
type subscription struct {
	id      string
	pattern string
	handler Handler
	opts    SubscribeOptions
}

// Bus is the process-wide topic pub/sub broker. Handlers run on the
// dispatch goroutine, so the order a subscriber observes events in is
// the publish order. An optional distributed transport fans events out
// to other hub processes.
type Bus struct {
	nodeID     string
	maxHistory int
	defaultTTL time.Duration

	mu      sync.RWMutex
	subs    map[string]*subscription
	history []*Event

	// queue is the unbounded dispatch buffer; events are delivered in
	// exactly the order they were appended.
	queueMu sync.Mutex
	queue   []*Event
	wakeCh  chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}

	transport Transport

	errorCount int64
	logger     zerolog.Logger
}

// Options configures a Bus.
type Options struct {
	NodeID         string
	MaxHistorySize int
	DefaultTTL     time.Duration
}

// New creates a Bus. Call Start before publishing.
func New(opts Options) *Bus {
	if opts.NodeID == "" {
		opts.NodeID = uuid.New().String()
	}
	if opts.MaxHistorySize <= 0 {
		opts.MaxHistorySize = DefaultMaxHistorySize
	}
	return &Bus{
		nodeID:     opts.NodeID,
		maxHistory: opts.MaxHistorySize,
		defaultTTL: opts.DefaultTTL,
		subs:       make(map[string]*subscription),
		wakeCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     log.WithComponent("bus"),
	}
}

// NodeID returns the bus's node identity, used to deduplicate events
// echoed back by the distributed transport.
func (b *Bus) NodeID() string {
	return b.nodeID
}

// SetTransport attaches a distributed transport. Must be called before
// Start.
func (b *Bus) SetTransport(t Transport) {
	b.transport = t
}

// Start begins the dispatch loop.
func (b *Bus) Start() {
	go b.run()
}

// Stop shuts the dispatch loop down and waits for it to drain.
func (b *Bus) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

// Publish builds an event with a fresh id and the current timestamp,
// appends it to the bounded history, and schedules local dispatch.
// It returns the event id once dispatch is scheduled; a failing
// subscriber never surfaces here.
func (b *Bus) Publish(topic string, data any, opts ...PublishOptions) string {
	var o PublishOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.TTL == 0 {
		o.TTL = b.defaultTTL
	}
	source := b.nodeID
	if o.Source != "" {
		source = o.Source
	}

	ev := &Event{
		ID:            uuid.New().String(),
		Topic:         topic,
		Data:          data,
		Timestamp:     time.Now(),
		Source:        source,
		CorrelationID: o.CorrelationID,
		ReplyTo:       o.ReplyTo,
		TTL:           o.TTL,
		Metadata:      o.Metadata,
	}

	b.record(ev)
	b.schedule(ev)
	metrics.EventsPublishedTotal.Inc()

	// Fan out to other nodes. Transport loss degrades to local-only;
	// it never fails the publish.
	if b.transport != nil && o.Source == "" {
		go func() {
			if err := b.transport.Publish(context.Background(), ev); err != nil {
				b.logger.Debug().Err(err).Str("topic", topic).Msg("transport publish failed")
			}
		}()
	}

	return ev.ID
}

// Inject dispatches an event received from the distributed transport.
// Events originating from this node are ignored.
func (b *Bus) Inject(ev *Event) {
	if ev.Source == b.nodeID {
		return
	}
	b.record(ev)
	b.schedule(ev)
}

// record appends to the history ring, evicting expired events and the
// oldest entries beyond capacity.
func (b *Bus) record(ev *Event) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.history[:0]
	for _, h := range b.history {
		if !h.Expired(now) {
			kept = append(kept, h)
		}
	}
	b.history = append(kept, ev)
	if over := len(b.history) - b.maxHistory; over > 0 {
		b.history = append([]*Event(nil), b.history[over:]...)
	}
}

// schedule appends the event to the dispatch queue. It never blocks, so
// a handler may publish from inside dispatch, and the queue keeps
// publish order intact no matter how deep the backlog grows.
func (b *Bus) schedule(ev *Event) {
	b.queueMu.Lock()
	b.queue = append(b.queue, ev)
	b.queueMu.Unlock()
	select {
	case b.wakeCh <- struct{}{}:
	default:
	}
}

func (b *Bus) run() {
	defer close(b.doneCh)
	for {
		select {
		case <-b.wakeCh:
			b.drainQueue()
		case <-b.stopCh:
			return
		}
	}
}

// drainQueue dispatches queued events in order until none remain.
func (b *Bus) drainQueue() {
	for {
		b.queueMu.Lock()
		batch := b.queue
		b.queue = nil
		b.queueMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			b.dispatch(ev)
		}
	}
}

// dispatch delivers ev to every matching subscriber, in subscription
// order. Handler errors are caught here and retried per the
// subscription's options.
func (b *Bus) dispatch(ev *Event) {
	b.mu.RLock()
	matched := make([]*subscription, 0, 4)
	for _, s := range b.subs {
		if MatchTopic(s.pattern, ev.Topic) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		if s.opts.Filter != nil && !s.opts.Filter(ev) {
			continue
		}
		if err := b.invoke(s, ev); err != nil {
			b.retry(s, ev, err)
		}
	}
}

// invoke runs one handler, converting panics into errors.
func (b *Bus) invoke(s *subscription, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.KindDeliveryFailed, "handler panic: %v", r)
		}
	}()
	return s.handler(ev)
}

// retry re-invokes a failing handler after its configured delay, off the
// dispatch goroutine. When the retry budget is exhausted the failure is
// surfaced as an event.error event.
func (b *Bus) retry(s *subscription, ev *Event, cause error) {
	go func() {
		err := cause
		for attempt := 0; attempt < s.opts.Retries; attempt++ {
			select {
			case <-time.After(s.opts.RetryDelay):
			case <-b.stopCh:
				return
			}
			if err = b.invoke(s, ev); err == nil {
				return
			}
		}

		atomic.AddInt64(&b.errorCount, 1)
		metrics.EventHandlerErrorsTotal.Inc()
		b.logger.Warn().
			Err(err).
			Str("topic", ev.Topic).
			Str("subscription", s.id).
			Msg("handler failed after retries")
		if ev.Topic != TopicEventError {
			b.Publish(TopicEventError, map[string]any{
				"eventId":      ev.ID,
				"topic":        ev.Topic,
				"subscription": s.id,
				"error":        err.Error(),
			})
		}
	}()
}

// Subscribe registers handler for every topic matching pattern and
// returns a function that removes the subscription.
func (b *Bus) Subscribe(pattern string, handler Handler, opts ...SubscribeOptions) func() {
	var o SubscribeOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	s := &subscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: handler,
		opts:    o,
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s.id)
			b.mu.Unlock()
		})
	}
}

// Once returns a channel that receives the first event matching pattern,
// then unsubscribes itself. The second return cancels early.
func (b *Bus) Once(pattern string) (<-chan *Event, func()) {
	ch := make(chan *Event, 1)
	var unsub func()
	var once sync.Once
	unsub = b.Subscribe(pattern, func(ev *Event) error {
		once.Do(func() {
			ch <- ev
			unsub()
		})
		return nil
	})
	return ch, func() {
		once.Do(unsub)
	}
}

// WaitFor blocks until an event matching pattern arrives or the timeout
// elapses. The subscription never leaks: it is removed on both paths.
func (b *Bus) WaitFor(ctx context.Context, pattern string, timeout time.Duration) (*Event, error) {
	ch, cancel := b.Once(pattern)
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return nil, types.NewError(types.KindRequestTimeout,
			"no event matching %q within %s", pattern, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestOptions tunes a Request call.
type RequestOptions struct {
	Timeout       time.Duration
	CorrelationID string
}

// Request publishes a request event carrying a fresh correlation id and
// a unique reply topic, then awaits the reply. It fails with the
// RequestTimeout kind when the deadline elapses.
func (b *Bus) Request(ctx context.Context, topic string, data any, opts RequestOptions) (*Event, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	replyTo := "reply." + uuid.New().String()

	ch, cancel := b.Once(replyTo)
	defer cancel()

	b.Publish(topic, data, PublishOptions{
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
	})

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	select {
	case ev := <-ch:
		return ev, nil
	case <-timer.C:
		return nil, types.NewError(types.KindRequestTimeout,
			"no reply on %q within %s", topic, opts.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply publishes data on the request's reply topic with the same
// correlation id.
func (b *Bus) Reply(req *Event, data any) error {
	if req.ReplyTo == "" {
		return types.NewError(types.KindDeliveryFailed, "event %s has no replyTo topic", req.ID)
	}
	b.Publish(req.ReplyTo, data, PublishOptions{CorrelationID: req.CorrelationID})
	return nil
}

// GetHistory returns retained events matching filter, newest first.
func (b *Bus) GetHistory(filter HistoryFilter) []*Event {
	now := time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Event, 0, len(b.history))
	for i := len(b.history) - 1; i >= 0; i-- {
		ev := b.history[i]
		if ev.Expired(now) {
			continue
		}
		if filter.Topic != "" && !MatchTopic(filter.Topic, ev.Topic) {
			continue
		}
		if !filter.Since.IsZero() && ev.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && ev.Timestamp.After(filter.Until) {
			continue
		}
		if filter.CorrelationID != "" && ev.CorrelationID != filter.CorrelationID {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ErrorCount returns how many handler failures exhausted their retries.
func (b *Bus) ErrorCount() int64 {
	return atomic.LoadInt64(&b.errorCount)
}
