package pulse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentbridge/control-plane/internal/a2a/types"
)

// Subscriber consumes a task's Pulse stream and decodes entries back into
// types.Event, for a message/stream or tasks/resubscribe caller that landed
// on a replica other than the one whose in-memory EventQueue is producing
// the task's events.
type Subscriber struct {
	client Client
	name   string
}

// SubscriberOptions configures a Subscriber.
type SubscriberOptions struct {
	// Client is the Pulse client used to consume events. Required.
	Client Client
	// SinkName identifies the Pulse consumer group. Defaults to
	// "controlplane_subscriber".
	SinkName string
}

// NewSubscriber constructs a Subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = "controlplane_subscriber"
	}
	return &Subscriber{client: opts.Client, name: name}, nil
}

// Subscribe opens a Pulse sink on taskID's stream and returns channels for
// decoded events and delivery errors. The returned cancel function stops
// consumption and closes the sink; callers must call it to release the
// consumer group.
func (s *Subscriber) Subscribe(ctx context.Context, taskID string) (<-chan types.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamName(taskID))
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan types.Event, 64)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go s.consume(runCtx, sink, events, errs)
	cancelFunc := func() {
		cancel()
		sink.Close(context.Background())
	}
	return events, errs, cancelFunc, nil
}

func (s *Subscriber) consume(ctx context.Context, sink Sink, out chan<- types.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			var event types.Event
			if err := json.Unmarshal(entry.Payload, &event); err != nil {
				errs <- fmt.Errorf("pulse decode event: %w", err)
				return
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, entry); err != nil {
				errs <- fmt.Errorf("pulse ack: %w", err)
				return
			}
		}
	}
}
