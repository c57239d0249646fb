package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/onboard/pkg/types"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventTaskStatus, TaskID: "t1", Status: types.StatusOK, Code: 200})

	for _, sub := range []Subscriber{sub1, sub2} {
		ev := receive(t, sub)
		assert.Equal(t, "t1", ev.TaskID)
		assert.Equal(t, types.StatusOK, ev.Status)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Zero(t, b.SubscriberCount())
}

func TestPublishAfterStopReturns(t *testing.T) {
	b := NewBroker()
	b.Stop()
	b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventTaskCreated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "publish blocked on a stopped broker")
	}
}

func TestNilBrokerPublish(t *testing.T) {
	var b *Broker
	assert.NotPanics(t, func() { b.Publish(&Event{Type: EventTaskCreated}) })
}
