package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/dyluth/agora/internal/metrics"
	"github.com/dyluth/agora/pkg/blackboard"
)

// ErrSubscriptionClosed is returned by Next once a subscriber is closed and
// its queue is drained.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Hub fans live events out to subscribers. Publishing never blocks: each
// subscriber buffers events in its own unbounded queue, so a slow observer
// only delays itself.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	closed  bool
	metrics *metrics.Collector
}

// NewHub creates a hub. m may be nil.
func NewHub(m *metrics.Collector) *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{}), metrics: m}
}

// Subscribe registers a new observer. It sees only events published after
// this call returns.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{hub: h, notify: make(chan struct{}, 1)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.closed = true
		return s
	}
	h.subs[s] = struct{}{}
	h.metrics.SubscriberAdded()
	return s
}

// Emit implements Emitter; it never fails.
func (h *Hub) Emit(_ context.Context, e blackboard.Event) error {
	h.Publish(e)
	return nil
}

// Publish queues e for every current subscriber.
func (h *Hub) Publish(e blackboard.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.push(e)
	}
}

// Len returns the number of current subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber. Later subscribers start closed.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscriber]struct{})
	h.closed = true
	h.mu.Unlock()

	for s := range subs {
		s.markClosed()
		h.metrics.SubscriberRemoved()
	}
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if ok {
		h.metrics.SubscriberRemoved()
	}
}

// Subscriber is one observer's ordered event queue.
type Subscriber struct {
	hub    *Hub
	mu     sync.Mutex
	queue  []blackboard.Event
	notify chan struct{}
	closed bool
}

func (s *Subscriber) push(e blackboard.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscriber) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

// Next blocks until an event is available, ctx is done, or the subscriber is
// closed. Events queued before Close are still delivered.
func (s *Subscriber) Next(ctx context.Context) (blackboard.Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = blackboard.Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return e, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return blackboard.Event{}, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return blackboard.Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close detaches the subscriber from its hub. Safe to call more than once.
func (s *Subscriber) Close() {
	s.hub.remove(s)
	s.markClosed()
}

// Pipe delivers events to emit until a terminal event has been delivered,
// the subscriber is closed, or ctx is done. Returns nil in the first two cases.
func (s *Subscriber) Pipe(ctx context.Context, emit Emitter) error {
	for {
		e, err := s.Next(ctx)
		if errors.Is(err, ErrSubscriptionClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit.Emit(ctx, e); err != nil {
			return err
		}
		if e.Type.Terminal() {
			return nil
		}
	}
}
