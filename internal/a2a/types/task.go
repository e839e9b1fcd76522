// Package types defines the A2A protocol wire types: tasks, messages,
// parts, events, and push-notification configuration. Field names use
// camelCase JSON tags to conform to the A2A protocol specification.
//
//nolint:tagliatelle // A2A protocol specification requires camelCase JSON field names
package types

import "time"

// TaskStatusState is the canonical task lifecycle state (§3.3).
type TaskStatusState string

const (
	// TaskSubmitted is the initial state of a task after its first message.
	TaskSubmitted TaskStatusState = "submitted"
	// TaskWorking indicates an executor is actively producing output.
	TaskWorking TaskStatusState = "working"
	// TaskInputRequired indicates the executor is suspended awaiting more
	// input; the task is not terminal.
	TaskInputRequired TaskStatusState = "input-required"
	// TaskCompleted is a terminal success state.
	TaskCompleted TaskStatusState = "completed"
	// TaskCanceled is a terminal state reached via tasks/cancel.
	TaskCanceled TaskStatusState = "canceled"
	// TaskFailed is a terminal state reached on executor error.
	TaskFailed TaskStatusState = "failed"
	// TaskRejected is a terminal state reached when the request handler
	// refuses to create or continue a task.
	TaskRejected TaskStatusState = "rejected"
)

// Terminal reports whether the state is one of the absorbing terminal
// states named in spec.md §3.2 invariant 3.
func (s TaskStatusState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskCanceled, TaskFailed, TaskRejected:
		return true
	default:
		return false
	}
}

// MessageRole identifies who authored a Message.
type MessageRole string

const (
	// RoleUser identifies a message authored by the caller.
	RoleUser MessageRole = "user"
	// RoleAgent identifies a message authored by the executing agent.
	RoleAgent MessageRole = "agent"
)

type (
	// Task is the canonical aggregate the ResultAggregator reduces an event
	// stream into, and the response type for tasks/get.
	Task struct {
		// ID is the task's unique identifier (UUID).
		ID string `json:"id"`
		// ContextID groups related tasks together.
		ContextID string `json:"contextId"`
		// Status is the most recent task status snapshot.
		Status TaskStatus `json:"status"`
		// History contains the ordered message history for the task.
		History []*Message `json:"history,omitempty"`
		// Metadata holds implementation-defined task metadata.
		Metadata map[string]any `json:"metadata,omitempty"`
		// CreatedAt records task creation time.
		CreatedAt time.Time `json:"createdAt"`
		// UpdatedAt records the last mutation time.
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// TaskStatus represents the status of a task at a point in time.
	TaskStatus struct {
		// State is the canonical task state.
		State TaskStatusState `json:"state"`
		// MessageID optionally references the Message explaining this
		// status (e.g. an input-required prompt).
		MessageID string `json:"messageId,omitempty"`
		// Timestamp is the RFC3339 timestamp of the status transition.
		Timestamp time.Time `json:"timestamp"`
	}

	// Message is a single immutable entry in a task's conversation.
	Message struct {
		// ID uniquely identifies the message.
		ID string `json:"id"`
		// TaskID back-references the owning task. Empty on the first message
		// of a new task; the request handler generates one.
		TaskID string `json:"taskId,omitempty"`
		// ContextID groups the task this message starts or continues with
		// related tasks. Required when TaskID is empty.
		ContextID string `json:"contextId,omitempty"`
		// Role identifies the author.
		Role MessageRole `json:"role"`
		// Parts are the ordered content parts making up the message.
		Parts []Part `json:"parts"`
		// ReferenceTaskIDs are weak, lookup-only references to other tasks.
		ReferenceTaskIDs []string `json:"referenceTaskIds,omitempty"`
		// Metadata holds implementation-defined message metadata.
		Metadata map[string]any `json:"metadata,omitempty"`
		// CreatedAt records when the message was written. Messages are
		// immutable once written.
		CreatedAt time.Time `json:"createdAt"`
	}

	// Part is a tagged variant of message content. Today only TextPart is
	// populated; Data and File are reserved per spec.md §3.1.
	Part struct {
		// Type discriminates the variant: "text", "data", or "file".
		Type string `json:"type"`
		Text *TextPart `json:"text,omitempty"`
		Data *DataPart `json:"data,omitempty"`
		File *FilePart `json:"file,omitempty"`
	}

	// TextPart carries plain text content.
	TextPart struct {
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// DataPart carries structured content. Reserved: no producer in this
	// implementation emits DataPart today.
	DataPart struct {
		Data     map[string]any `json:"data"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	// FilePart references file content by URI. Reserved: no producer in
	// this implementation emits FilePart today.
	FilePart struct {
		URI      string         `json:"uri"`
		MIMEType string         `json:"mimeType,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
)

// NewTextPart is a convenience constructor for the common text-only case.
func NewTextPart(text string) Part {
	return Part{Type: "text", Text: &TextPart{Text: text}}
}

// TaskTimelineKind discriminates TaskTimelineItem variants.
type TaskTimelineKind string

const (
	// TimelineStatusUpdate records a status transition.
	TimelineStatusUpdate TaskTimelineKind = "status_update"
	// TimelineMessageAdded records a message append.
	TimelineMessageAdded TaskTimelineKind = "message_added"
)

// TaskTimelineItem is an append-only audit-log entry for a task (spec.md
// §3.1). The task store persists these alongside the denormalized Task so
// that the full history of status transitions is recoverable even though
// Task itself only carries the latest status.
type TaskTimelineItem struct {
	Kind      TaskTimelineKind `json:"kind"`
	TaskID    string           `json:"taskId"`
	Status    *TaskStatus      `json:"status,omitempty"`
	Message   *Message         `json:"message,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
