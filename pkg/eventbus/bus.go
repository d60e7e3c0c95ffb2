package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueCapacity bounds the number of queued events.
	DefaultQueueCapacity = 10000

	// DefaultEnqueueWait is how long a publisher waits for queue space
	// before the event is dropped and counted.
	DefaultEnqueueWait = 10 * time.Millisecond

	// DefaultHistorySize bounds the in-memory event history ring.
	DefaultHistorySize = 1000
)

// Stats is a snapshot of bus counters.
type Stats struct {
	Published      uint64 `json:"published"`
	Processed      uint64 `json:"processed"`
	Vetoed         uint64 `json:"vetoed"`
	Approved       uint64 `json:"approved"`
	Unapproved     uint64 `json:"unapproved"`
	DroppedFull    uint64 `json:"dropped_full"`
	DeliveryErrors uint64 `json:"delivery_errors"`
	QueueDepth     int    `json:"queue_depth"`
	Subscriptions  int    `json:"subscriptions"`
}

// Observer receives bus outcomes for metrics export. Implementations must be
// safe for concurrent use.
type Observer interface {
	EventPublished(category, priority string)
	EventDropped(reason string)
	EventResolved(outcome string)
	DeliveryError()
}

// NopObserver discards all observations.
type NopObserver struct{}

func (NopObserver) EventPublished(string, string) {}
func (NopObserver) EventDropped(string)           {}
func (NopObserver) EventResolved(string)          {}
func (NopObserver) DeliveryError()                {}

// Bus is the authority-aware event bus. Publishers run concurrently and
// contend only on enqueue; a single consumer goroutine drains the priority
// queue one event at a time to completion (veto, then approval, then
// delivery), so veto and approval decisions can never race each other for
// the same event.
type Bus struct {
	mu sync.Mutex

	queue    priorityQueue
	capacity int
	seq      uint64

	subs  map[string]*Subscription
	order []string // subscriber ids in subscription order

	history     []Event
	historySize int

	stats Stats

	enqueueWait time.Duration

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	wakeCh  chan struct{}
	freedCh chan struct{}

	observer Observer
	spanHook DeliverySpanHook
	logger   zerolog.Logger
}

// DeliverySpanHook opens a trace span as an event enters processing. The
// returned func closes the span with the event's resolution outcome.
type DeliverySpanHook func(eventID, category string) func(outcome string)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithCapacity overrides the queue capacity.
func WithCapacity(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithEnqueueWait overrides the bounded publisher wait on a full queue.
func WithEnqueueWait(d time.Duration) BusOption {
	return func(b *Bus) {
		if d >= 0 {
			b.enqueueWait = d
		}
	}
}

// WithHistorySize overrides the event history ring size.
func WithHistorySize(n int) BusOption {
	return func(b *Bus) {
		if n >= 0 {
			b.historySize = n
		}
	}
}

// WithObserver wires a metrics observer.
func WithObserver(o Observer) BusOption {
	return func(b *Bus) {
		if o != nil {
			b.observer = o
		}
	}
}

// WithDeliverySpanHook wires per-delivery trace spans.
func WithDeliverySpanHook(h DeliverySpanHook) BusOption {
	return func(b *Bus) {
		if h != nil {
			b.spanHook = h
		}
	}
}

// New creates a stopped bus; call Start to begin delivery.
func New(logger zerolog.Logger, opts ...BusOption) *Bus {
	b := &Bus{
		capacity:    DefaultQueueCapacity,
		enqueueWait: DefaultEnqueueWait,
		historySize: DefaultHistorySize,
		subs:        make(map[string]*Subscription),
		wakeCh:      make(chan struct{}, 1),
		freedCh:     make(chan struct{}, 1),
		observer:    NopObserver{},
		logger:      logger.With().Str("component", "eventbus").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the delivery worker. Starting twice is a no-op with a
// warning.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		b.logger.Warn().Msg("event bus already running")
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.deliveryLoop()
	b.logger.Info().Msg("event bus started")
}

// Stop signals the delivery worker and waits for it to drain the queue and
// exit. Stopping a stopped bus is a no-op.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	done := b.doneCh
	b.mu.Unlock()

	<-done
	b.logger.Info().Msg("event bus stopped")
}

// Subscribe registers interest in the given categories and returns the
// subscriber id. Subscriptions are evaluated in registration order during
// the veto and approval phases.
func (b *Bus) Subscribe(sub Subscription) (string, error) {
	if sub.SubscriberID == "" {
		return "", fmt.Errorf("subscriber id is required")
	}
	if sub.Callback == nil {
		return "", fmt.Errorf("subscriber %s has no callback", sub.SubscriberID)
	}
	if len(sub.Categories) == 0 {
		return "", fmt.Errorf("subscriber %s subscribes to no categories", sub.SubscriberID)
	}

	sub.Active = true

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[sub.SubscriberID]; !exists {
		b.order = append(b.order, sub.SubscriberID)
	}
	b.subs[sub.SubscriberID] = &sub

	b.logger.Info().
		Str("subscriber_id", sub.SubscriberID).
		Str("domain", sub.Domain).
		Bool("can_veto", sub.CanVeto).
		Bool("can_approve", sub.CanApprove).
		Msg("subscription created")

	return sub.SubscriberID, nil
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(subscriberID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[subscriberID]; !ok {
		return false
	}
	delete(b.subs, subscriberID)
	for i, id := range b.order {
		if id == subscriberID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.logger.Info().Str("subscriber_id", subscriberID).Msg("unsubscribed")
	return true
}

// Publish enqueues an event and returns its id. If the queue is full the
// publisher waits at most the configured enqueue wait for space; past that
// the event is dropped and counted, never blocking indefinitely.
func (b *Bus) Publish(category Category, sourceDomain string, payload map[string]interface{}, priority Priority, requiresApproval, canBeVetoed bool) string {
	return b.PublishEvent(Event{
		Category:         category,
		SourceDomain:     sourceDomain,
		Payload:          payload,
		Priority:         priority,
		RequiresApproval: requiresApproval,
		CanBeVetoed:      canBeVetoed,
	})
}

// PublishEvent enqueues a pre-built event, assigning id and timestamp if
// unset.
func (b *Bus) PublishEvent(ev Event) string {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	deadline := time.Now().Add(b.enqueueWait)
	for {
		b.mu.Lock()
		if b.queue.Len() < b.capacity {
			b.queue.push(queueItem{event: ev, seq: b.seq})
			b.seq++
			b.stats.Published++
			b.mu.Unlock()

			b.observer.EventPublished(string(ev.Category), ev.Priority.String())
			select {
			case b.wakeCh <- struct{}{}:
			default:
			}
			return ev.ID
		}
		b.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		select {
		case <-b.freedCh:
			// Space may be available, retry.
		case <-time.After(remaining):
		}
	}

	b.mu.Lock()
	b.stats.DroppedFull++
	b.mu.Unlock()
	b.observer.EventDropped("queue_full")
	b.logger.Error().Str("event_id", ev.ID).Str("category", string(ev.Category)).Msg("event queue full, dropping event")
	return ev.ID
}

// Stats returns a copy of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.QueueDepth = b.queue.Len()
	s.Subscriptions = len(b.subs)
	return s
}

// History returns copies of the most recent events, oldest first.
func (b *Bus) History(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Event, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// Subscriptions returns copies of all current subscriptions in registration
// order.
func (b *Bus) Subscriptions() []Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Subscription, 0, len(b.order))
	for _, id := range b.order {
		if sub, ok := b.subs[id]; ok {
			out = append(out, *sub)
		}
	}
	return out
}

// deliveryLoop is the single ordered consumer. One event is fully resolved
// before the next is pulled; on stop the remaining queue is drained first.
func (b *Bus) deliveryLoop() {
	defer close(b.doneCh)

	for {
		b.mu.Lock()
		if b.queue.Len() == 0 {
			b.mu.Unlock()
			select {
			case <-b.wakeCh:
				continue
			case <-b.stopCh:
				// Drain whatever arrived before the stop.
				b.mu.Lock()
				empty := b.queue.Len() == 0
				b.mu.Unlock()
				if empty {
					return
				}
				continue
			}
		}
		item := b.queue.pop()
		b.mu.Unlock()

		select {
		case b.freedCh <- struct{}{}:
		default:
		}

		b.process(item.event)

		b.mu.Lock()
		b.stats.Processed++
		stopped := !b.running && b.queue.Len() == 0
		b.mu.Unlock()
		if stopped {
			return
		}
	}
}

// process runs the three delivery phases for one event.
func (b *Bus) process(ev Event) {
	finish := func(string) {}
	if b.spanHook != nil {
		finish = b.spanHook(ev.ID, string(ev.Category))
	}

	b.appendHistory(&ev)

	matching := b.matchingSubscribers(ev)
	if len(matching) == 0 {
		finish("no_subscribers")
		return
	}

	// Veto phase: veto-capable subscribers are asked in subscription order;
	// the first veto wins and stops all further processing.
	if ev.CanBeVetoed {
		for _, sub := range matching {
			if !sub.CanVeto {
				continue
			}
			if b.invoke(sub, ev) {
				ev.VetoedBy = sub.SubscriberID
				b.recordResolution(&ev)
				b.mu.Lock()
				b.stats.Vetoed++
				b.mu.Unlock()
				b.observer.EventResolved("vetoed")
				finish("vetoed")
				b.logger.Info().
					Str("event_id", ev.ID).
					Str("vetoed_by", sub.SubscriberID).
					Str("domain", sub.Domain).
					Msg("event vetoed")
				return
			}
		}
	}

	// Approval phase: approval-capable subscribers are asked until one
	// approves; with no approval the event is dropped and counted.
	if ev.RequiresApproval {
		approved := false
		for _, sub := range matching {
			if !sub.CanApprove {
				continue
			}
			if b.invoke(sub, ev) {
				ev.ApprovedBy = sub.SubscriberID
				approved = true
				b.recordResolution(&ev)
				b.mu.Lock()
				b.stats.Approved++
				b.mu.Unlock()
				b.logger.Info().
					Str("event_id", ev.ID).
					Str("approved_by", sub.SubscriberID).
					Msg("event approved")
				break
			}
		}
		if !approved {
			b.mu.Lock()
			b.stats.Unapproved++
			b.mu.Unlock()
			b.observer.EventResolved("unapproved")
			finish("unapproved")
			b.logger.Warn().Str("event_id", ev.ID).Msg("event not approved, dropping")
			return
		}
	}

	// Delivery phase: remaining normal subscribers each get the event; a
	// failure for one never interrupts delivery to the others.
	delivered := 0
	for _, sub := range matching {
		if sub.CanVeto || sub.CanApprove {
			continue
		}
		b.invoke(sub, ev)
		delivered++
	}
	b.observer.EventResolved("delivered")
	finish("delivered")
	b.logger.Debug().
		Str("event_id", ev.ID).
		Int("delivered", delivered).
		Msg("event delivered")
}

// matchingSubscribers returns the active, filter-matching subscriptions for
// an event in subscription order. Copies are taken under the lock so
// delivery never holds it.
func (b *Bus) matchingSubscribers(ev Event) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Subscription, 0, len(b.order))
	for _, id := range b.order {
		sub, ok := b.subs[id]
		if !ok || !sub.Active {
			continue
		}
		if !sub.subscribesTo(ev.Category) || !sub.matches(ev) {
			continue
		}
		clone := *sub
		out = append(out, &clone)
	}
	return out
}

// invoke calls a subscription callback, absorbing panics as delivery errors.
func (b *Bus) invoke(sub *Subscription, ev Event) (result bool) {
	defer func() {
		if rec := recover(); rec != nil {
			b.mu.Lock()
			b.stats.DeliveryErrors++
			b.mu.Unlock()
			b.observer.DeliveryError()
			b.logger.Error().
				Str("event_id", ev.ID).
				Str("subscriber_id", sub.SubscriberID).
				Interface("panic", rec).
				Msg("subscriber callback panicked")
			result = false
		}
	}()
	return sub.Callback(ev)
}

// appendHistory stores the event in the bounded history ring.
func (b *Bus) appendHistory(ev *Event) {
	if b.historySize == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, *ev)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// recordResolution updates the history copy with resolution fields so
// inspection sees who vetoed or approved.
func (b *Bus) recordResolution(ev *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.history) - 1; i >= 0; i-- {
		if b.history[i].ID == ev.ID {
			b.history[i].VetoedBy = ev.VetoedBy
			b.history[i].ApprovedBy = ev.ApprovedBy
			return
		}
	}
}
