package agent

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/agentchain-dev/agentchain/pkg/event"
)

// ErrSlowSubscriber is the terminal error of a subscription dropped because
// its buffer filled up. The publisher never blocks on a slow reader.
var ErrSlowSubscriber = errors.New("subscriber too slow, dropped")

// Hub fans events out to subscriptions. Registration happens under the same
// lock as publishing, so once Subscribe returns, every subsequently published
// event is delivered (or the subscription is dropped with ErrSlowSubscriber).
type Hub struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	buffer   int
	closed   bool
	closeErr error
}

// NewHub returns a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
	}
}

// Subscription is one reader's tap on the hub. The channel is closed when the
// subscription ends; buffered events are still delivered first, then Err
// reports why it ended (nil for a normal close).
type Subscription struct {
	id  string
	hub *Hub
	ch  chan event.Event

	errMu sync.Mutex
	err   error
}

// C returns the event channel.
func (s *Subscription) C() <-chan event.Event { return s.ch }

// Err returns the terminal error, if any. Valid after C is closed.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close detaches the subscription from the hub. Idempotent.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

func (s *Subscription) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// Subscribe registers a new subscription. On a closed hub the returned
// subscription is already finished, carrying the hub's close error.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		id:  uuid.NewString(),
		hub: h,
		ch:  make(chan event.Event, h.buffer),
	}
	if h.closed {
		sub.setErr(h.closeErr)
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers ev to every subscription without ever blocking. A
// subscription whose buffer is full is removed and finished with
// ErrSlowSubscriber.
func (h *Hub) Publish(ev event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(h.subs, id)
			sub.setErr(ErrSlowSubscriber)
			close(sub.ch)
		}
	}
}

// Close finishes every subscription with err (nil for a graceful end) and
// rejects future publishes. Already-buffered events still drain to readers.
func (h *Hub) Close(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.closeErr = err
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.setErr(err)
		close(sub.ch)
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
}
