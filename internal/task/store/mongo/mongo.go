// Package mongo provides a MongoDB-backed implementation of task.Store,
// persisting the Task aggregate and its append-only timeline for durability
// across control-plane restarts.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/task"
)

func nanoToTime(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// Store is a MongoDB implementation of task.Store.
type Store struct {
	tasks     *mongo.Collection
	timelines *mongo.Collection
}

// Compile-time check that Store implements task.Store.
var _ task.Store = (*Store)(nil)

// New creates a Store using the given database. Collections are named
// "tasks" and "task_timeline".
func New(db *mongo.Database) *Store {
	return &Store{
		tasks:     db.Collection("tasks"),
		timelines: db.Collection("task_timeline"),
	}
}

type taskDocument struct {
	ID        string           `bson:"_id"`
	ContextID string           `bson:"context_id"`
	Status    statusDocument   `bson:"status"`
	History   []messageDocument `bson:"history,omitempty"`
	Metadata  bson.M           `bson:"metadata,omitempty"`
	CreatedAt int64            `bson:"created_at"`
	UpdatedAt int64            `bson:"updated_at"`
}

type statusDocument struct {
	State     string `bson:"state"`
	MessageID string `bson:"message_id,omitempty"`
	Timestamp int64  `bson:"timestamp"`
}

type messageDocument struct {
	ID               string   `bson:"id"`
	TaskID           string   `bson:"task_id"`
	Role             string   `bson:"role"`
	Parts            bson.M   `bson:"parts"`
	ReferenceTaskIDs []string `bson:"reference_task_ids,omitempty"`
	Metadata         bson.M   `bson:"metadata,omitempty"`
	CreatedAt        int64    `bson:"created_at"`
}

type timelineDocument struct {
	TaskID    string `bson:"task_id"`
	Kind      string `bson:"kind"`
	Payload   bson.M `bson:"payload,omitempty"`
	CreatedAt int64  `bson:"created_at"`
}

// Create persists a newly-created task.
func (s *Store) Create(ctx context.Context, t *types.Task) error {
	doc := toDocument(t)
	if _, err := s.tasks.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongodb create task %q: %w", t.ID, err)
	}
	return nil
}

// Get retrieves a task by ID.
func (s *Store) Get(ctx context.Context, taskID string) (*types.Task, error) {
	var doc taskDocument
	err := s.tasks.FindOne(ctx, bson.M{"_id": taskID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, task.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get task %q: %w", taskID, err)
	}
	return fromDocument(&doc), nil
}

// Update replaces the persisted task state.
func (s *Store) Update(ctx context.Context, t *types.Task) error {
	doc := toDocument(t)
	opts := options.Replace().SetUpsert(false)
	res, err := s.tasks.ReplaceOne(ctx, bson.M{"_id": t.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb update task %q: %w", t.ID, err)
	}
	if res.MatchedCount == 0 {
		return task.ErrNotFound
	}
	return nil
}

// AppendTimeline appends an audit-log entry for a task.
func (s *Store) AppendTimeline(ctx context.Context, item types.TaskTimelineItem) error {
	doc := timelineDocument{
		TaskID:    item.TaskID,
		Kind:      string(item.Kind),
		CreatedAt: item.CreatedAt.UnixNano(),
	}
	switch item.Kind {
	case types.TimelineStatusUpdate:
		doc.Payload = bson.M{
			"state":      string(item.Status.State),
			"message_id": item.Status.MessageID,
			"timestamp":  item.Status.Timestamp.UnixNano(),
		}
	case types.TimelineMessageAdded:
		doc.Payload = bson.M{"message_id": item.Message.ID}
	}
	if _, err := s.timelines.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongodb append timeline for task %q: %w", item.TaskID, err)
	}
	return nil
}

func toDocument(t *types.Task) *taskDocument {
	history := make([]messageDocument, len(t.History))
	for i, m := range t.History {
		history[i] = messageDocument{
			ID:               m.ID,
			TaskID:           m.TaskID,
			Role:             string(m.Role),
			Parts:            partsToBSON(m.Parts),
			ReferenceTaskIDs: m.ReferenceTaskIDs,
			Metadata:         bson.M(m.Metadata),
			CreatedAt:        m.CreatedAt.UnixNano(),
		}
	}
	return &taskDocument{
		ID:        t.ID,
		ContextID: t.ContextID,
		Status: statusDocument{
			State:     string(t.Status.State),
			MessageID: t.Status.MessageID,
			Timestamp: t.Status.Timestamp.UnixNano(),
		},
		History:   history,
		Metadata:  bson.M(t.Metadata),
		CreatedAt: t.CreatedAt.UnixNano(),
		UpdatedAt: t.UpdatedAt.UnixNano(),
	}
}

func fromDocument(doc *taskDocument) *types.Task {
	history := make([]*types.Message, len(doc.History))
	for i, m := range doc.History {
		history[i] = &types.Message{
			ID:               m.ID,
			TaskID:           m.TaskID,
			Role:             types.MessageRole(m.Role),
			Parts:            partsFromBSON(m.Parts),
			ReferenceTaskIDs: m.ReferenceTaskIDs,
			Metadata:         map[string]any(m.Metadata),
			CreatedAt:        nanoToTime(m.CreatedAt),
		}
	}
	return &types.Task{
		ID:        doc.ID,
		ContextID: doc.ContextID,
		Status: types.TaskStatus{
			State:     types.TaskStatusState(doc.Status.State),
			MessageID: doc.Status.MessageID,
			Timestamp: nanoToTime(doc.Status.Timestamp),
		},
		History:   history,
		Metadata:  map[string]any(doc.Metadata),
		CreatedAt: nanoToTime(doc.CreatedAt),
		UpdatedAt: nanoToTime(doc.UpdatedAt),
	}
}

// partsToBSON/partsFromBSON round-trip the Part tagged variant through a
// bson.M since the driver's struct codec does not handle Go-side "exactly
// one of" tagged unions well; only the "text" variant is populated today
// (spec.md §3.1: file/data variants reserved).
func partsToBSON(parts []types.Part) bson.M {
	out := make([]bson.M, len(parts))
	for i, p := range parts {
		m := bson.M{"type": p.Type}
		if p.Text != nil {
			m["text"] = p.Text.Text
		}
		out[i] = m
	}
	return bson.M{"items": out}
}

func partsFromBSON(m bson.M) []types.Part {
	raw, ok := m["items"].(bson.A)
	if !ok {
		return nil
	}
	parts := make([]types.Part, 0, len(raw))
	for _, item := range raw {
		im, ok := item.(bson.M)
		if !ok {
			continue
		}
		p := types.Part{Type: fmt.Sprint(im["type"])}
		if p.Type == "text" {
			p.Text = &types.TextPart{Text: fmt.Sprint(im["text"])}
		}
		parts = append(parts, p)
	}
	return parts
}
