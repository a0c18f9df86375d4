package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentchain-dev/agentchain/pkg/event"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	h := NewHub(8)
	sub := h.Subscribe()
	defer sub.Close()

	h.Publish(event.NewTextDelta("a"))
	h.Publish(event.NewTextDelta("b"))

	ev := <-sub.C()
	assert.Equal(t, "a", ev.Delta)
	ev = <-sub.C()
	assert.Equal(t, "b", ev.Delta)
}

func TestHubSlowSubscriberDropped(t *testing.T) {
	h := NewHub(2)
	slow := h.Subscribe()
	fast := h.Subscribe()

	// The fast subscriber keeps up between publishes; the slow one never
	// reads, so the third publish overflows its buffer.
	h.Publish(event.NewTextDelta("a"))
	<-fast.C()
	h.Publish(event.NewTextDelta("b"))
	<-fast.C()
	h.Publish(event.NewTextDelta("c"))
	<-fast.C()

	assert.Equal(t, 1, h.Subscribers())

	// Buffered events still drain, then the channel closes with the error.
	var got []string
	for ev := range slow.C() {
		got = append(got, ev.Delta)
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.ErrorIs(t, slow.Err(), ErrSlowSubscriber)

	assert.NoError(t, fast.Err())
	fast.Close()
}

func TestHubCloseDrainsBuffered(t *testing.T) {
	h := NewHub(8)
	sub := h.Subscribe()

	h.Publish(event.NewTextDelta("a"))
	h.Close(nil)

	ev, ok := <-sub.C()
	require.True(t, ok)
	assert.Equal(t, "a", ev.Delta)

	_, ok = <-sub.C()
	assert.False(t, ok)
	assert.NoError(t, sub.Err())
}

func TestHubCloseWithError(t *testing.T) {
	h := NewHub(8)
	sub := h.Subscribe()

	fatal := errors.New("processor down")
	h.Close(fatal)

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), fatal)

	// Publishing after close is a no-op, not a panic.
	h.Publish(event.NewTextDelta("late"))
}

func TestHubSubscribeAfterClose(t *testing.T) {
	h := NewHub(8)
	h.Close(nil)

	sub := h.Subscribe()
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	h := NewHub(8)
	sub := h.Subscribe()
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Subscribers())
}
