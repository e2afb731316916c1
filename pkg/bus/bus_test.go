package bus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/orgloop/orgloop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers delivered events for assertions
type collector struct {
	mu     sync.Mutex
	events []*types.Event
}

func (c *collector) handler(module string, event *types.Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *collector) snapshot() []*types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) waitFor(t *testing.T, n int) []*types.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(c.snapshot()))
	return nil
}

func TestPublishDeliversInFIFOOrder(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	var c collector
	b.Subscribe(Filter{}, c.handler)

	const n = 50
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ev := types.NewEvent("gh", types.EventResourceChanged)
		ids = append(ids, ev.ID)
		require.NoError(t, b.Publish("eng", ev))
	}

	got := c.waitFor(t, n)
	for i, ev := range got {
		assert.Equal(t, ids[i], ev.ID, "delivery order must match publish order")
	}
}

func TestSubscriptionFiltering(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	var bySource, byType, byModule, all collector
	b.Subscribe(Filter{Source: "gh"}, bySource.handler)
	b.Subscribe(Filter{Type: types.EventActorStopped}, byType.handler)
	b.Subscribe(Filter{Module: "eng"}, byModule.handler)
	b.Subscribe(Filter{}, all.handler)

	b.Publish("eng", types.NewEvent("gh", types.EventResourceChanged))
	b.Publish("ops", types.NewEvent("ci", types.EventActorStopped))

	all.waitFor(t, 2)
	assert.Len(t, bySource.waitFor(t, 1), 1)
	assert.Equal(t, "gh", bySource.snapshot()[0].Source)
	assert.Len(t, byType.waitFor(t, 1), 1)
	assert.Len(t, byModule.waitFor(t, 1), 1)
}

func TestAckRemovesFromPending(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	ev1 := types.NewEvent("gh", types.EventResourceChanged)
	ev2 := types.NewEvent("gh", types.EventResourceChanged)
	b.Publish("eng", ev1)
	b.Publish("eng", ev2)

	assert.Len(t, b.Unacked(), 2)

	b.Ack(ev1.ID)
	unacked := b.Unacked()
	require.Len(t, unacked, 1)
	assert.Equal(t, ev2.ID, unacked[0].Event.ID)

	// Acking twice is harmless.
	b.Ack(ev1.ID)
	assert.Len(t, b.Unacked(), 1)
}

func TestUnsubscribePreventsFurtherDeliveries(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	var c collector
	sub := b.Subscribe(Filter{}, c.handler)

	b.Publish("eng", types.NewEvent("gh", types.EventResourceChanged))
	c.waitFor(t, 1)

	sub.Unsubscribe()
	b.Publish("eng", types.NewEvent("gh", types.EventResourceChanged))

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.snapshot(), 1)
}

func TestHandlerPanicDoesNotAbortBus(t *testing.T) {
	errs := make(chan error, 1)
	b := NewMemoryBus(func(err error) { errs <- err })
	defer b.Close()

	var c collector
	b.Subscribe(Filter{}, func(module string, event *types.Event) {
		if event.Source == "bad" {
			panic("boom")
		}
		c.handler(module, event)
	})

	boom := types.NewEvent("bad", types.EventResourceChanged)
	b.Publish("eng", boom)
	b.Publish("eng", types.NewEvent("gh", types.EventResourceChanged))

	c.waitFor(t, 1)

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), boom.ID)
	case <-time.After(time.Second):
		t.Fatal("expected the panic on the error sink")
	}

	// The panicking handler never acked its event.
	found := false
	for _, p := range b.Unacked() {
		if p.Event.ID == boom.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	release := make(chan struct{})
	b.Subscribe(Filter{}, func(module string, event *types.Event) {
		<-release
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("eng", types.NewEvent("gh", types.EventResourceChanged))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	close(release)
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := NewMemoryBus(nil)
	b.Close()
	err := b.Publish("eng", types.NewEvent("gh", types.EventResourceChanged))
	assert.Error(t, err)
}

func TestConcurrentPublishersSingleSubscriberPrefixOrder(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	var c collector
	b.Subscribe(Filter{}, c.handler)

	const publishers = 4
	const perPublisher = 25

	var wg sync.WaitGroup
	published := make([][]string, publishers)
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				ev := types.NewEvent(fmt.Sprintf("src%d", p), types.EventResourceChanged)
				published[p] = append(published[p], ev.ID)
				b.Publish("eng", ev)
			}
		}(p)
	}
	wg.Wait()

	got := c.waitFor(t, publishers*perPublisher)

	// Per publisher, observed order must preserve that publisher's order.
	for p := 0; p < publishers; p++ {
		src := fmt.Sprintf("src%d", p)
		var observed []string
		for _, ev := range got {
			if ev.Source == src {
				observed = append(observed, ev.ID)
			}
		}
		assert.Equal(t, published[p], observed)
	}
}
