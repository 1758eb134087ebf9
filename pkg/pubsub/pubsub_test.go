package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishOrdering(t *testing.T) {
	bus := New(nil)

	var order []string
	bus.Subscribe("topic", func(args ...any) { order = append(order, "A") })
	bus.Subscribe("topic", func(args ...any) { order = append(order, "B") })

	bus.Publish("topic")
	bus.Publish("topic")

	require.Equal(t, []string{"A", "B", "A", "B"}, order)
}

func TestPublishPassesArgs(t *testing.T) {
	bus := New(nil)

	var got []any
	bus.Subscribe("topic", func(args ...any) { got = args })
	bus.Publish("topic", 1, "two", 3.0)

	require.Equal(t, []any{1, "two", 3.0}, got)
}

func TestUnsubscribeDuringDispatchIsSkipped(t *testing.T) {
	bus := New(nil)

	var calledB bool
	var subA Subscription
	subA = bus.Subscribe("topic", func(args ...any) { bus.Unsubscribe(subA) })
	bus.Subscribe("topic", func(args ...any) { calledB = true })

	bus.Publish("topic")
	require.True(t, calledB)

	calledB = false
	bus.Publish("topic")
	require.True(t, calledB, "B should still fire on subsequent publications")
}

func TestAsyncSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := New(nil)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	bus.SubscribeAsync("topic", func(args ...any) {
		defer wg.Done()
		<-release
	})

	done := make(chan struct{})
	go func() {
		bus.Publish("topic")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on an async subscriber")
	}

	close(release)
	wg.Wait()
}

func TestSubscriberPanicDoesNotStopDispatch(t *testing.T) {
	bus := New(nil)

	var calledB bool
	bus.Subscribe("topic", func(args ...any) { panic("boom") })
	bus.Subscribe("topic", func(args ...any) { calledB = true })

	require.NotPanics(t, func() { bus.Publish("topic") })
	require.True(t, calledB)
}
