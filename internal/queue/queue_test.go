package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/queue"
)

type recordingMirror struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recordingMirror) Publish(_ context.Context, event types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingMirror) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestManagerCreateOrTapReturnsSameQueue(t *testing.T) {
	m := queue.NewManager()
	q1 := m.CreateOrTap("task-1")
	q2 := m.CreateOrTap("task-1")
	assert.Same(t, q1, q2)
}

func TestManagerTapAbsentReturnsNil(t *testing.T) {
	m := queue.NewManager()
	assert.Nil(t, m.Tap("missing"))
}

func TestEventQueueFIFOPerSubscriber(t *testing.T) {
	m := queue.NewManager()
	q := m.CreateOrTap("task-1")
	recv := q.Subscribe()

	ev1 := types.Event{Kind: types.EventMessageAppended, TaskID: "task-1"}
	ev2 := types.Event{Kind: types.EventStatusUpdate, TaskID: "task-1", Final: true}

	require.True(t, q.Enqueue(ev1))
	require.True(t, q.Enqueue(ev2))

	got1 := <-recv.Events()
	got2 := <-recv.Events()
	assert.Equal(t, ev1.Kind, got1.Kind)
	assert.Equal(t, ev2.Kind, got2.Kind)
	assert.True(t, got2.Final)
}

func TestEventQueueCloseDrainsThenEndsStream(t *testing.T) {
	m := queue.NewManager()
	q := m.CreateOrTap("task-1")
	recv := q.Subscribe()
	require.True(t, q.Enqueue(types.Event{Kind: types.EventStatusUpdate}))

	m.Close("task-1")
	assert.False(t, q.Enqueue(types.Event{}), "enqueue must fail after close")

	_, ok := <-recv.Events()
	assert.True(t, ok, "buffered event must still be delivered after close")
	_, ok = <-recv.Events()
	assert.False(t, ok, "channel must close once drained")
}

func TestSubscribeTappedDeliversSnapshot(t *testing.T) {
	q := queue.NewManager().CreateOrTap("task-1")
	task := &types.Task{ID: "task-1"}
	q.SetSnapshot(task)

	recv := q.SubscribeTapped()
	select {
	case ev := <-recv.Events():
		assert.Equal(t, types.EventTaskSnapshot, ev.Kind)
		assert.Equal(t, task, ev.Task)
	case <-time.After(time.Second):
		t.Fatal("expected snapshot event")
	}
}

func TestManagerMirrorsEnqueueToDistributedTap(t *testing.T) {
	mirror := &recordingMirror{}
	m := queue.NewManager().WithMirror(mirror, nil)
	q := m.CreateOrTap("task-1")

	q.Enqueue(types.Event{Kind: types.EventStatusUpdate, TaskID: "task-1"})

	require.Eventually(t, func() bool { return mirror.count() == 1 }, time.Second, time.Millisecond*5)
}

func TestOneSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	q := queue.NewManager().CreateOrTap("task-1")
	slow := q.Subscribe()
	fast := q.Subscribe()

	for i := 0; i < queue.DefaultCapacity+5; i++ {
		q.Enqueue(types.Event{Kind: types.EventMessageAppended})
	}

	select {
	case <-slow.Lagged():
	default:
		t.Fatal("expected slow subscriber to observe Lagged")
	}

	count := 0
	for {
		select {
		case _, ok := <-fast.Events():
			if !ok {
				t.Fatal("unexpected close")
			}
			count++
			if count == queue.DefaultCapacity {
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber only received %d events", count)
		}
	}
}
