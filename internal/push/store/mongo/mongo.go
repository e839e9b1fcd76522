// Package mongo provides a MongoDB-backed PushNotificationConfig store.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentbridge/control-plane/internal/a2a/types"
)

// ErrNotFound is returned when a config lookup finds no row.
var ErrNotFound = errors.New("push notification config not found")

// Store is a MongoDB implementation of handler.PushConfigStore.
type Store struct {
	configs *mongo.Collection
}

// New creates a Store using the given database. Configs are stored in the
// "push_notification_configs" collection, keyed by a compound id of
// task_id/config_id.
func New(db *mongo.Database) *Store {
	return &Store{configs: db.Collection("push_notification_configs")}
}

type document struct {
	Key            string            `bson:"_id"`
	ID             string            `bson:"id"`
	TaskID         string            `bson:"task_id"`
	URL            string            `bson:"url"`
	Token          string            `bson:"token,omitempty"`
	AuthSchemes    []string          `bson:"auth_schemes,omitempty"`
	AuthCredentials map[string]string `bson:"auth_credentials,omitempty"`
}

func key(taskID, configID string) string { return taskID + "/" + configID }

func toDocument(cfg *types.PushNotificationConfig) *document {
	d := &document{
		Key:    key(cfg.TaskID, cfg.ID),
		ID:     cfg.ID,
		TaskID: cfg.TaskID,
		URL:    cfg.URL,
		Token:  cfg.Token,
	}
	if cfg.Authentication != nil {
		d.AuthSchemes = cfg.Authentication.Schemes
		d.AuthCredentials = cfg.Authentication.Credentials
	}
	return d
}

func fromDocument(d *document) *types.PushNotificationConfig {
	cfg := &types.PushNotificationConfig{ID: d.ID, TaskID: d.TaskID, URL: d.URL, Token: d.Token}
	if len(d.AuthSchemes) > 0 {
		cfg.Authentication = &types.PushNotificationAuthentication{
			Schemes:     d.AuthSchemes,
			Credentials: d.AuthCredentials,
		}
	}
	return cfg
}

// Set upserts cfg, keyed by (task_id, id).
func (s *Store) Set(ctx context.Context, cfg *types.PushNotificationConfig) error {
	doc := toDocument(cfg)
	opts := options.Replace().SetUpsert(true)
	if _, err := s.configs.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, opts); err != nil {
		return fmt.Errorf("mongodb set push notification config %q: %w", doc.Key, err)
	}
	return nil
}

// Get retrieves one config by task_id and config_id.
func (s *Store) Get(ctx context.Context, taskID, configID string) (*types.PushNotificationConfig, error) {
	var doc document
	err := s.configs.FindOne(ctx, bson.M{"_id": key(taskID, configID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get push notification config %q: %w", key(taskID, configID), err)
	}
	return fromDocument(&doc), nil
}

// List returns every config registered for taskID.
func (s *Store) List(ctx context.Context, taskID string) ([]*types.PushNotificationConfig, error) {
	cur, err := s.configs.Find(ctx, bson.M{"task_id": taskID})
	if err != nil {
		return nil, fmt.Errorf("mongodb list push notification configs for %q: %w", taskID, err)
	}
	defer cur.Close(ctx)

	var out []*types.PushNotificationConfig
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongodb decode push notification config: %w", err)
		}
		out = append(out, fromDocument(&doc))
	}
	return out, cur.Err()
}

// Delete removes one config. Deleting an absent config is not an error.
func (s *Store) Delete(ctx context.Context, taskID, configID string) error {
	if _, err := s.configs.DeleteOne(ctx, bson.M{"_id": key(taskID, configID)}); err != nil {
		return fmt.Errorf("mongodb delete push notification config %q: %w", key(taskID, configID), err)
	}
	return nil
}
