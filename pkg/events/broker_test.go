package events_test

import (
	"testing"
	"time"

	"github.com/cotoami/cotoami-node/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberReceivesPublishedValue(t *testing.T) {
	b := events.NewBroker[string](4)
	sub := b.Subscribe("topic-a")

	b.Publish("topic-a", "hello")

	select {
	case v := <-sub:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published value")
	}
}

func TestLateSubscriberMissesEarlierPublish(t *testing.T) {
	b := events.NewBroker[string](4)
	b.Publish("topic-a", "before")

	sub := b.Subscribe("topic-a")
	select {
	case <-sub:
		t.Fatal("late subscriber should not see values published before it subscribed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := events.NewBroker[string](4)
	sub := b.Subscribe("topic-a")
	b.Unsubscribe("topic-a", sub)

	_, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount("topic-a"))
}

func TestPublishAndCloseTearsDownTopic(t *testing.T) {
	b := events.NewBroker[string](4)
	sub1 := b.Subscribe("responses:req-1")
	sub2 := b.Subscribe("responses:req-1")

	b.PublishAndClose("responses:req-1", "result")

	for _, sub := range []events.Subscriber[string]{sub1, sub2} {
		v, ok := <-sub
		require.True(t, ok)
		assert.Equal(t, "result", v)
		_, ok = <-sub
		assert.False(t, ok)
	}
	assert.Equal(t, 0, b.SubscriberCount("responses:req-1"))
}

func TestFullSubscriberBufferDropsRatherThanBlocks(t *testing.T) {
	b := events.NewBroker[int](1)
	sub := b.Subscribe("topic-a")

	b.Publish("topic-a", 1)
	b.Publish("topic-a", 2) // buffer full, dropped rather than blocking

	assert.Equal(t, 1, <-sub)
}

func TestResponseTopicNamingIsPerRequest(t *testing.T) {
	assert.NotEqual(t, events.ResponseTopic("req-1"), events.ResponseTopic("req-2"))
}
