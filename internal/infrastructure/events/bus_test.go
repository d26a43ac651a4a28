package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blackms/flyswarm-go/internal/shared"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestEventBus_TypedAndWildcardSubscribers(t *testing.T) {
	eb := New()
	typed := eb.Subscribe(EventTaskAssigned)
	all := eb.SubscribeAll()

	eb.EmitTaskAssigned("task-1", "implement-feature", "worker-2")
	eb.EmitWorkerSpawned("worker-5", shared.WorkerTypeCoder)

	ev := receive(t, typed)
	require.Equal(t, EventTaskAssigned, ev.Type)
	require.Equal(t, "worker-2", ev.Payload["workerId"])
	require.NotZero(t, ev.Timestamp)

	require.Equal(t, EventTaskAssigned, receive(t, all).Type)
	require.Equal(t, EventWorkerSpawned, receive(t, all).Type)

	select {
	case ev := <-typed.C:
		t.Fatalf("typed subscriber received unrelated event %v", ev.Type)
	default:
	}
}

func TestEventBus_UnsubscribeRemovesOnlyThatSubscription(t *testing.T) {
	eb := New()
	first := eb.Subscribe(EventTaskFailed)
	second := eb.Subscribe(EventTaskFailed)
	require.NotEqual(t, first.ID, second.ID)

	eb.Unsubscribe(first)
	_, ok := <-first.C
	require.False(t, ok, "expected unsubscribed channel closed")
	require.Equal(t, 1, eb.SubscriberCount())

	eb.EmitTaskFailed("task-1", "worker-1", "boom")
	ev := receive(t, second)
	require.Equal(t, "boom", ev.Payload["error"])

	eb.Unsubscribe(first)
	require.Equal(t, 1, eb.SubscriberCount())
}

func TestEventBus_FullSubscriberDropsWithoutBlocking(t *testing.T) {
	eb := New(WithBufferSize(1))
	sub := eb.Subscribe(EventWorkerRemoved)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			eb.EmitWorkerRemoved("worker-1", shared.WorkerTypeTester)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full subscriber")
	}
	require.Equal(t, uint64(4), eb.Dropped())
	require.Equal(t, EventWorkerRemoved, receive(t, sub).Type)
}

func TestEventBus_HandlersAndOff(t *testing.T) {
	eb := New()
	var wg sync.WaitGroup
	wg.Add(1)

	var mu sync.Mutex
	var seen []EventType
	id := eb.On(EventConsensusResolved, func(ev Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
		wg.Done()
	})

	eb.EmitConsensusResolved("consensus-1", shared.ProposalStatusApproved, 3, 4)
	wg.Wait()

	eb.Off(EventConsensusResolved, id)
	eb.EmitConsensusResolved("consensus-2", shared.ProposalStatusRejected, 0, 4)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EventType{EventConsensusResolved}, seen)
}

func TestEventBus_CloseClosesSubscriptionsAndIgnoresEmit(t *testing.T) {
	eb := New()
	sub := eb.SubscribeAll()
	eb.Close()
	eb.Close()

	_, ok := <-sub.C
	require.False(t, ok)

	eb.EmitTaskCompleted("task-1", "worker-1", 10)
	late := eb.Subscribe(EventTaskCompleted)
	_, ok = <-late.C
	require.False(t, ok, "expected subscription on closed bus to be closed")
	require.Zero(t, eb.SubscriberCount())
}
