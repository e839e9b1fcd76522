package types

import "time"

// EventKind discriminates the tagged Event variant emitted on an
// EventQueue (spec.md §3.1).
type EventKind string

const (
	// EventTaskSnapshot carries a full Task, delivered to newly-joining
	// create_or_tap subscribers.
	EventTaskSnapshot EventKind = "task_snapshot"
	// EventMessageAppended carries a single appended Message.
	EventMessageAppended EventKind = "message_appended"
	// EventStatusUpdate carries a task status transition. The Final flag
	// is the sole in-band end-of-stream marker (spec.md §3.1).
	EventStatusUpdate EventKind = "status_update"
	// EventArtifactUpdate carries an incremental or terminal artifact.
	EventArtifactUpdate EventKind = "artifact_update"
)

// Event is the tagged variant enqueued on an EventQueue and forwarded to
// message/stream and tasks/resubscribe callers.
type Event struct {
	Kind      EventKind `json:"kind"`
	ContextID string    `json:"contextId"`
	TaskID    string    `json:"taskId"`

	// Task is set when Kind == EventTaskSnapshot.
	Task *Task `json:"task,omitempty"`
	// Message is set when Kind == EventMessageAppended.
	Message *Message `json:"message,omitempty"`
	// Status is set when Kind == EventStatusUpdate.
	Status *TaskStatus `json:"status,omitempty"`
	// Final reports whether this StatusUpdate is the last event on the
	// queue. Only meaningful when Kind == EventStatusUpdate.
	Final bool `json:"final,omitempty"`
	// Artifact is set when Kind == EventArtifactUpdate.
	Artifact *Artifact `json:"artifact,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Artifact represents an output artifact attached to a task.
type Artifact struct {
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Index       int            `json:"index,omitempty"`
	Append      bool           `json:"append,omitempty"`
	LastChunk   bool           `json:"lastChunk,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// StatusUpdateEvent is a convenience constructor.
func StatusUpdateEvent(contextID, taskID string, status TaskStatus, final bool) Event {
	return Event{
		Kind:      EventStatusUpdate,
		ContextID: contextID,
		TaskID:    taskID,
		Status:    &status,
		Final:     final,
		Timestamp: status.Timestamp,
	}
}

// TaskSnapshotEvent is a convenience constructor.
func TaskSnapshotEvent(task *Task) Event {
	return Event{
		Kind:      EventTaskSnapshot,
		ContextID: task.ContextID,
		TaskID:    task.ID,
		Task:      task,
		Timestamp: task.UpdatedAt,
	}
}

// MessageAppendedEvent is a convenience constructor.
func MessageAppendedEvent(contextID string, msg *Message) Event {
	return Event{
		Kind:      EventMessageAppended,
		ContextID: contextID,
		TaskID:    msg.TaskID,
		Message:   msg,
		Timestamp: msg.CreatedAt,
	}
}
