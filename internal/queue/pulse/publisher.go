package pulse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentbridge/control-plane/internal/a2a/types"
)

// Publisher mirrors EventQueue.Enqueue calls onto a Pulse stream named by
// task ID, so a Subscriber running in another control-plane process can tap
// the same task. It is safe for concurrent use.
type Publisher struct {
	client Client
}

// NewPublisher constructs a Publisher over client.
func NewPublisher(client Client) *Publisher {
	return &Publisher{client: client}
}

// Publish writes event to the Pulse stream for event.TaskID. It is meant to
// be called alongside (not instead of) EventQueue.Enqueue on the producing
// replica; the in-process queue still serves that replica's own
// subscribers directly.
func (p *Publisher) Publish(ctx context.Context, event types.Event) error {
	str, err := p.client.Stream(streamName(event.TaskID))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = str.Add(ctx, string(event.Kind), payload)
	return err
}

func streamName(taskID string) string {
	return fmt.Sprintf("task/%s", taskID)
}
