// Package queue implements the Event Queue + Queue Manager (spec.md §4.E):
// a bounded, multi-producer, multi-consumer broadcast primitive keyed by
// task_id, used to fan out task events to every live subscriber of a task.
package queue

import (
	"context"
	"sync"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

// Mirror publishes an event to a cross-process distributed tap (see
// internal/queue/pulse), so a subscriber connected to a different
// control-plane replica than the one producing events still observes them.
// Mirroring is best-effort: a Mirror failure never fails Enqueue.
type Mirror interface {
	Publish(ctx context.Context, event types.Event) error
}

// DefaultCapacity is the default per-subscriber buffer capacity (spec.md
// §3.1: "bounded capacity (default 1000)").
const DefaultCapacity = 1000

// Lagged is delivered to a subscriber on its Events channel's companion
// Dropped signal when its buffer overflowed and one or more events were
// skipped for that subscriber only; other subscribers are unaffected.
type Lagged struct {
	// Skipped is the number of dropped events this signal reports. Enqueue
	// always sends 1, and a drop that happens while an earlier signal is
	// still unread raises no new signal, so it is not counted.
	Skipped int
}

// Receiver is a consumer-side handle on an EventQueue subscription. Callers
// range over Events until the channel closes (end-of-stream) and check
// Lagged for back-pressure signals delivered out-of-band from Events.
type Receiver struct {
	events  chan types.Event
	lagged  chan Lagged
	cancel  func()
}

// Events returns the channel of events forwarded to this subscriber in
// FIFO enqueue order (spec.md invariant I2).
func (r *Receiver) Events() <-chan types.Event { return r.events }

// Lagged returns the channel on which back-pressure signals are delivered
// when this subscriber's buffer overflowed.
func (r *Receiver) Lagged() <-chan Lagged { return r.lagged }

// Close detaches the receiver from its queue. Safe to call more than once.
func (r *Receiver) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

type subscriber struct {
	id     uint64
	events chan types.Event
	lagged chan Lagged
}

// EventQueue is the bounded broadcast primitive described in spec.md §4.E.
// It is safe for concurrent use by multiple producers and consumers.
type EventQueue struct {
	mu          sync.Mutex
	capacity    int
	subscribers map[uint64]*subscriber
	nextID      uint64
	closed      bool
	snapshot    *types.Task // set by create_or_tap; delivered to new subscribers
	mirror      Mirror
	log         telemetry.Logger
}

// newEventQueue constructs an EventQueue with the given capacity. Callers
// go through QueueManager; this is not exported because queues are always
// owned by the manager's mapping.
func newEventQueue(capacity int, mirror Mirror, log telemetry.Logger) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &EventQueue{capacity: capacity, subscribers: make(map[uint64]*subscriber), mirror: mirror, log: log}
}

// Enqueue copies event to every live subscriber's buffer. If a subscriber's
// buffer is full, that subscriber observes a Lagged signal instead of the
// event; other subscribers are unaffected. Enqueue fails on a closed queue.
func (q *EventQueue) Enqueue(event types.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	for _, sub := range q.subscribers {
		select {
		case sub.events <- event:
		default:
			select {
			case sub.lagged <- Lagged{Skipped: 1}:
			default:
			}
		}
	}
	if q.mirror != nil {
		go func() {
			if err := q.mirror.Publish(context.Background(), event); err != nil {
				q.log.Warn(context.Background(), "mirror event to distributed tap", "task_id", event.TaskID, "error", err)
			}
		}()
	}
	return true
}

// Subscribe registers a new receiver. Receivers only see events enqueued
// after subscription.
func (q *EventQueue) Subscribe() *Receiver {
	return q.subscribe(nil)
}

// SubscribeTapped registers a receiver that additionally receives the
// current task snapshot (if any was recorded via SetSnapshot) as its first
// event, matching create_or_tap semantics for newly-joining subscribers.
func (q *EventQueue) SubscribeTapped() *Receiver {
	q.mu.Lock()
	snap := q.snapshot
	q.mu.Unlock()
	var initial []types.Event
	if snap != nil {
		initial = append(initial, types.TaskSnapshotEvent(snap))
	}
	return q.subscribe(initial)
}

func (q *EventQueue) subscribe(initial []types.Event) *Receiver {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	sub := &subscriber{
		id:     id,
		events: make(chan types.Event, q.capacity),
		lagged: make(chan Lagged, 1),
	}
	if !q.closed {
		q.subscribers[id] = sub
	}
	closedAlready := q.closed
	q.mu.Unlock()

	for _, ev := range initial {
		sub.events <- ev
	}
	if closedAlready {
		close(sub.events)
	}

	recv := &Receiver{events: sub.events, lagged: sub.lagged}
	recv.cancel = func() {
		q.mu.Lock()
		delete(q.subscribers, id)
		q.mu.Unlock()
	}
	return recv
}

// SetSnapshot records the current task snapshot delivered to subscribers
// created via SubscribeTapped after this call.
func (q *EventQueue) SetSnapshot(task *types.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.snapshot = task
}

// Close idempotently closes the queue. After Close, Enqueue fails and every
// subscriber's Events channel is closed once its buffered events have been
// drained by the channel's normal close semantics.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, sub := range q.subscribers {
		close(sub.events)
	}
	q.subscribers = make(map[uint64]*subscriber)
}

// Closed reports whether Close has been called.
func (q *EventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Manager is the QueueManager of spec.md §4.E: a mapping from task_id to
// EventQueue guarded by a lock, with the critical section bounded to the
// mapping operation only.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*EventQueue
	mirror Mirror
	log    telemetry.Logger
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{queues: make(map[string]*EventQueue)}
}

// WithMirror attaches a distributed tap (see internal/queue/pulse) that
// every queue subsequently created by CreateOrTap mirrors Enqueue calls to,
// for deployments running more than one control-plane replica. Queues
// already created before WithMirror is called are unaffected; call this
// once at startup before serving traffic.
func (m *Manager) WithMirror(mirror Mirror, log telemetry.Logger) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirror = mirror
	m.log = log
	return m
}

// CreateOrTap returns the existing queue for task_id, or creates one
// atomically. Matches spec.md §4.E create_or_tap.
func (m *Manager) CreateOrTap(taskID string) *EventQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[taskID]; ok {
		return q
	}
	q := newEventQueue(DefaultCapacity, m.mirror, m.log)
	m.queues[taskID] = q
	return q
}

// Tap returns the existing queue for task_id, or nil if absent. Used by
// tasks/resubscribe, which must never create a producer-less queue.
func (m *Manager) Tap(taskID string) *EventQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues[taskID]
}

// Close removes and closes the queue for task_id, if any.
func (m *Manager) Close(taskID string) {
	m.mu.Lock()
	q := m.queues[taskID]
	delete(m.queues, taskID)
	m.mu.Unlock()
	if q != nil {
		q.Close()
	}
}

// Drain consumes every buffered and subsequently-enqueued event from r
// until ctx is done or the queue closes, invoking fn for each. It serves
// callers that need a synchronous sweep rather than a long-lived streaming
// consumer; tasks/cancel does not use it (it drains through a fresh
// aggregator).
func Drain(ctx context.Context, r *Receiver, fn func(types.Event)) {
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				return
			}
			fn(ev)
		case <-ctx.Done():
			return
		}
	}
}
