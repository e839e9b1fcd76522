// Package aggregator implements the ResultAggregator of spec.md §4.F: it
// reduces an EventQueue's stream into the canonical Task-or-Message result,
// in either a consume-to-completion mode (unary message/send) or a
// forward-and-persist streaming mode (message/stream, tasks/resubscribe).
package aggregator

import (
	"context"
	"sync"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/queue"
	"github.com/agentbridge/control-plane/internal/task"
)

// Result is the aggregated current-result: exactly one of Task or Message
// is set, matching spec.md's SendMessageResult shape.
type Result struct {
	Task    *types.Task
	Message *types.Message
}

// Aggregator consumes events from a single task's EventQueue, applying
// StatusUpdate events to the task store in passing and tracking the most
// recent Task-or-Message synthesis so the push notifier can read it on a
// terminal transition (spec.md §4.F "current_result").
type Aggregator struct {
	tasks *task.Manager

	mu      sync.Mutex
	current Result
}

// New constructs an Aggregator backed by the given TaskManager.
func New(tasks *task.Manager) *Aggregator {
	return &Aggregator{tasks: tasks}
}

// CurrentResult returns the most recently observed Task-or-Message
// synthesis. Safe for concurrent use.
func (a *Aggregator) CurrentResult() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Aggregator) setCurrent(r Result) {
	a.mu.Lock()
	a.current = r
	a.mu.Unlock()
}

// ConsumeAndBreakOnInterrupt pulls events from recv until it observes either
// a final StatusUpdate, an input-required StatusUpdate (interrupted, the
// task remains runnable), or the queue closes having only ever delivered a
// lone MessageAppended event with no task ever reaching a status (returns
// the Message with interrupted=false). It always drops the consumer
// (unsubscribes) before returning, per spec.md §4.F.
func (a *Aggregator) ConsumeAndBreakOnInterrupt(ctx context.Context, recv *queue.Receiver) (Result, bool, error) {
	defer recv.Close()

	var sawMessage *types.Message
	sawTask := false
	for {
		select {
		case ev, ok := <-recv.Events():
			if !ok {
				if sawMessage != nil && !sawTask {
					res := Result{Message: sawMessage}
					a.setCurrent(res)
					return res, false, nil
				}
				return a.CurrentResult(), false, nil
			}
			switch ev.Kind {
			case types.EventMessageAppended:
				sawMessage = ev.Message
			case types.EventStatusUpdate:
				sawTask = true
				t, err := a.tasks.ApplyEvent(ctx, ev)
				if err != nil {
					return Result{}, false, err
				}
				res := Result{Task: t}
				a.setCurrent(res)
				if ev.Final {
					return res, false, nil
				}
				if ev.Status.State == types.TaskInputRequired {
					return res, true, nil
				}
			case types.EventTaskSnapshot:
				sawTask = true
				a.setCurrent(Result{Task: ev.Task})
			}
		case <-ctx.Done():
			return a.CurrentResult(), false, ctx.Err()
		}
	}
}

// ConsumeAndEmit forwards every event from recv to the returned channel,
// applying each StatusUpdate to the task store in passing, and closes the
// channel when a final StatusUpdate is observed or the queue closes.
// Callers that stop reading the returned channel (stream dropped by the
// caller) must call recv.Close() themselves; ConsumeAndEmit only closes
// recv when it reaches end-of-stream on its own.
func (a *Aggregator) ConsumeAndEmit(ctx context.Context, recv *queue.Receiver) <-chan types.Event {
	out := make(chan types.Event)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-recv.Events():
				if !ok {
					recv.Close()
					return
				}
				if ev.Kind == types.EventStatusUpdate {
					if t, err := a.tasks.ApplyEvent(ctx, ev); err == nil {
						a.setCurrent(Result{Task: t})
					}
				} else if ev.Kind == types.EventMessageAppended {
					a.setCurrent(Result{Message: ev.Message})
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Kind == types.EventStatusUpdate && ev.Final {
					recv.Close()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
