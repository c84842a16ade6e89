package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToSessionSubscribersOnly(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("s1")
	b := h.Subscribe("s2")

	h.Publish(Event{Type: TypeStatus, SessionID: "s1"})

	require.Len(t, a.Ch, 1)
	assert.Equal(t, TypeStatus, (<-a.Ch).Type)
	assert.Len(t, b.Ch, 0)
	h.Close()
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("s1")

	for i := 0; i < SubscriberBuffer+10; i++ {
		h.Publish(Event{Type: TypeMessage, SessionID: "s1"})
	}
	assert.Len(t, sub.Ch, SubscriberBuffer)
	h.Close()
}

func TestHubUnsubscribeAndCloseSession(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("s1")
	b := h.Subscribe("s1")
	assert.Equal(t, 2, h.Count("s1"))

	h.Unsubscribe("s1", a)
	_, open := <-a.Ch
	assert.False(t, open)
	assert.Equal(t, 1, h.Count("s1"))

	h.CloseSession("s1")
	_, open = <-b.Ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Count("s1"))

	// Already closed by CloseSession; must not panic.
	h.Unsubscribe("s1", b)
	h.Publish(Event{SessionID: "s1"})
}

func TestHubSubscribeAfterClose(t *testing.T) {
	h := NewHub()
	h.Close()

	sub := h.Subscribe("s1")
	_, open := <-sub.Ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Count("s1"))

	h.Unsubscribe("s1", sub)
	h.Publish(Event{SessionID: "s1"})
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "intel.session.report", Subject("", TypeReport))
	assert.Equal(t, "acme.session.status", Subject("acme.", TypeStatus))
}

func TestNewNATSPublisherErrors(t *testing.T) {
	_, err := NewNATSPublisher("", "intel", nil)
	assert.ErrorContains(t, err, "nats url is required")

	_, err = NewNATSPublisher("nats://127.0.0.1:1", "intel", nil)
	assert.ErrorContains(t, err, "failed to connect to NATS")
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	assert.NoError(t, s.Publish(context.Background(), Event{}))
	assert.NoError(t, s.Close())
}
