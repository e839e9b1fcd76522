// Package mongo provides a MongoDB-backed credential.Store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentbridge/control-plane/internal/credential"
	"github.com/agentbridge/control-plane/internal/envelope"
)

// Store is a MongoDB implementation of credential.Store.
type Store struct {
	resourceServer *mongo.Collection
	user           *mongo.Collection
	brokerStates   *mongo.Collection
	instanceLinks  *mongo.Collection
	toolGroups     *mongo.Collection
}

var _ credential.Store = (*Store)(nil)

// New creates a Store using the given database.
func New(db *mongo.Database) *Store {
	return &Store{
		resourceServer: db.Collection("resource_server_credentials"),
		user:           db.Collection("user_credentials"),
		brokerStates:   db.Collection("credential_broker_states"),
		instanceLinks:  db.Collection("tool_group_instance_credential_links"),
		toolGroups:     db.Collection("tool_group_instances"),
	}
}

type credentialDocument struct {
	ID                         string     `bson:"_id"`
	TypeID                     string     `bson:"type_id"`
	DeploymentTypeID           string     `bson:"deployment_type_id,omitempty"`
	Metadata                   map[string]string `bson:"metadata,omitempty"`
	Value                      string     `bson:"value"`
	DEKAlias                   string     `bson:"dek_alias"`
	CreatedAt                  time.Time  `bson:"created_at"`
	UpdatedAt                  time.Time  `bson:"updated_at"`
	NextRotationTime           *time.Time `bson:"next_rotation_time,omitempty"`
	ResourceServerCredentialID string     `bson:"resource_server_credential_id,omitempty"`
}

func toResourceServerDocument(c credential.ResourceServerCredential) credentialDocument {
	return credentialDocument{
		ID: c.ID, TypeID: c.TypeID, DeploymentTypeID: c.DeploymentTypeID, Metadata: c.Metadata,
		Value: string(c.Value), DEKAlias: c.DEKAlias, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
		NextRotationTime: c.NextRotationTime,
	}
}

func fromResourceServerDocument(d credentialDocument) credential.ResourceServerCredential {
	return credential.ResourceServerCredential{Credential: credential.Credential{
		ID: d.ID, TypeID: d.TypeID, DeploymentTypeID: d.DeploymentTypeID, Metadata: d.Metadata,
		Value: envelope.EncryptedString(d.Value), DEKAlias: d.DEKAlias, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
		NextRotationTime: d.NextRotationTime,
	}}
}

func toUserDocument(c credential.UserCredential) credentialDocument {
	doc := credentialDocument{
		ID: c.ID, TypeID: c.TypeID, DeploymentTypeID: c.DeploymentTypeID, Metadata: c.Metadata,
		Value: string(c.Value), DEKAlias: c.DEKAlias, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
		NextRotationTime: c.NextRotationTime, ResourceServerCredentialID: c.ResourceServerCredentialID,
	}
	return doc
}

func fromUserDocument(d credentialDocument) credential.UserCredential {
	return credential.UserCredential{
		Credential: credential.Credential{
			ID: d.ID, TypeID: d.TypeID, DeploymentTypeID: d.DeploymentTypeID, Metadata: d.Metadata,
			Value: envelope.EncryptedString(d.Value), DEKAlias: d.DEKAlias, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
			NextRotationTime: d.NextRotationTime,
		},
		ResourceServerCredentialID: d.ResourceServerCredentialID,
	}
}

func (s *Store) CreateResourceServerCredential(ctx context.Context, c credential.ResourceServerCredential) error {
	if _, err := s.resourceServer.InsertOne(ctx, toResourceServerDocument(c)); err != nil {
		return fmt.Errorf("mongodb create resource server credential %q: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetResourceServerCredential(ctx context.Context, id string) (credential.ResourceServerCredential, error) {
	var doc credentialDocument
	if err := s.resourceServer.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return credential.ResourceServerCredential{}, credential.ErrNotFound
		}
		return credential.ResourceServerCredential{}, fmt.Errorf("mongodb get resource server credential %q: %w", id, err)
	}
	return fromResourceServerDocument(doc), nil
}

func (s *Store) UpdateResourceServerCredential(ctx context.Context, c credential.ResourceServerCredential) error {
	res, err := s.resourceServer.ReplaceOne(ctx, bson.M{"_id": c.ID}, toResourceServerDocument(c))
	if err != nil {
		return fmt.Errorf("mongodb update resource server credential %q: %w", c.ID, err)
	}
	if res.MatchedCount == 0 {
		return credential.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteResourceServerCredential(ctx context.Context, id string) error {
	if _, err := s.resourceServer.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("mongodb delete resource server credential %q: %w", id, err)
	}
	return nil
}

func (s *Store) ListResourceServerCredentialsDueForRotation(ctx context.Context, before time.Time, cursor string, limit int) (credential.Page[credential.ResourceServerCredential], error) {
	filter := bson.M{"next_rotation_time": bson.M{"$lte": before}}
	if cursor != "" {
		filter["_id"] = bson.M{"$gt": cursor}
	}
	opts := options.Find().SetSort(bson.M{"_id": 1}).SetLimit(int64(limit))
	cur, err := s.resourceServer.Find(ctx, filter, opts)
	if err != nil {
		return credential.Page[credential.ResourceServerCredential]{}, fmt.Errorf("mongodb list resource server credentials due for rotation: %w", err)
	}
	defer cur.Close(ctx)

	var page credential.Page[credential.ResourceServerCredential]
	for cur.Next(ctx) {
		var doc credentialDocument
		if err := cur.Decode(&doc); err != nil {
			return credential.Page[credential.ResourceServerCredential]{}, fmt.Errorf("mongodb decode resource server credential: %w", err)
		}
		page.Rows = append(page.Rows, fromResourceServerDocument(doc))
	}
	if len(page.Rows) == limit && limit > 0 {
		page.NextCursor = page.Rows[len(page.Rows)-1].ID
	}
	return page, cur.Err()
}

func (s *Store) CreateUserCredential(ctx context.Context, c credential.UserCredential) error {
	if _, err := s.user.InsertOne(ctx, toUserDocument(c)); err != nil {
		return fmt.Errorf("mongodb create user credential %q: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetUserCredential(ctx context.Context, id string) (credential.UserCredential, error) {
	var doc credentialDocument
	if err := s.user.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return credential.UserCredential{}, credential.ErrNotFound
		}
		return credential.UserCredential{}, fmt.Errorf("mongodb get user credential %q: %w", id, err)
	}
	return fromUserDocument(doc), nil
}

func (s *Store) UpdateUserCredential(ctx context.Context, c credential.UserCredential) error {
	res, err := s.user.ReplaceOne(ctx, bson.M{"_id": c.ID}, toUserDocument(c))
	if err != nil {
		return fmt.Errorf("mongodb update user credential %q: %w", c.ID, err)
	}
	if res.MatchedCount == 0 {
		return credential.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUserCredential(ctx context.Context, id string) error {
	if _, err := s.user.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("mongodb delete user credential %q: %w", id, err)
	}
	return nil
}

func (s *Store) ListUserCredentialsDueForRotation(ctx context.Context, before time.Time, cursor string, limit int) (credential.Page[credential.UserCredential], error) {
	filter := bson.M{"next_rotation_time": bson.M{"$lte": before}}
	if cursor != "" {
		filter["_id"] = bson.M{"$gt": cursor}
	}
	opts := options.Find().SetSort(bson.M{"_id": 1}).SetLimit(int64(limit))
	cur, err := s.user.Find(ctx, filter, opts)
	if err != nil {
		return credential.Page[credential.UserCredential]{}, fmt.Errorf("mongodb list user credentials due for rotation: %w", err)
	}
	defer cur.Close(ctx)

	var page credential.Page[credential.UserCredential]
	for cur.Next(ctx) {
		var doc credentialDocument
		if err := cur.Decode(&doc); err != nil {
			return credential.Page[credential.UserCredential]{}, fmt.Errorf("mongodb decode user credential: %w", err)
		}
		page.Rows = append(page.Rows, fromUserDocument(doc))
	}
	if len(page.Rows) == limit && limit > 0 {
		page.NextCursor = page.Rows[len(page.Rows)-1].ID
	}
	return page, cur.Err()
}

type brokerStateDocument struct {
	ID                  string            `bson:"_id"`
	ToolGroupInstanceID string            `bson:"tool_group_instance_id"`
	DeploymentTypeID    string            `bson:"deployment_type_id"`
	Metadata            map[string]string `bson:"metadata,omitempty"`
	ActionKind          string            `bson:"action_kind"`
	ActionURL           string            `bson:"action_url,omitempty"`
	CreatedAt           time.Time         `bson:"created_at"`
}

func toBrokerStateDocument(s credential.BrokerState) brokerStateDocument {
	doc := brokerStateDocument{
		ID: s.ID, ToolGroupInstanceID: s.ToolGroupInstanceID, DeploymentTypeID: s.DeploymentTypeID,
		Metadata: s.Metadata, CreatedAt: s.CreatedAt, ActionKind: "none",
	}
	if redirect, ok := s.Action.(credential.RedirectAction); ok {
		doc.ActionKind = "redirect"
		doc.ActionURL = redirect.URL
	}
	return doc
}

func fromBrokerStateDocument(d brokerStateDocument) credential.BrokerState {
	var action credential.Action = credential.NoAction{}
	if d.ActionKind == "redirect" {
		action = credential.RedirectAction{URL: d.ActionURL}
	}
	return credential.BrokerState{
		ID: d.ID, ToolGroupInstanceID: d.ToolGroupInstanceID, DeploymentTypeID: d.DeploymentTypeID,
		Metadata: d.Metadata, Action: action, CreatedAt: d.CreatedAt,
	}
}

func (s *Store) CreateBrokerState(ctx context.Context, st credential.BrokerState) error {
	if _, err := s.brokerStates.InsertOne(ctx, toBrokerStateDocument(st)); err != nil {
		return fmt.Errorf("mongodb create broker state %q: %w", st.ID, err)
	}
	return nil
}

func (s *Store) GetBrokerState(ctx context.Context, id string) (credential.BrokerState, bool, error) {
	var doc brokerStateDocument
	if err := s.brokerStates.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return credential.BrokerState{}, false, nil
		}
		return credential.BrokerState{}, false, fmt.Errorf("mongodb get broker state %q: %w", id, err)
	}
	return fromBrokerStateDocument(doc), true, nil
}

func (s *Store) DeleteBrokerState(ctx context.Context, id string) error {
	if _, err := s.brokerStates.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("mongodb delete broker state %q: %w", id, err)
	}
	return nil
}

type instanceLinkDocument struct {
	ToolGroupInstanceID string `bson:"_id"`
	UserCredentialID    string `bson:"user_credential_id"`
	SourceStateID       string `bson:"source_state_id,omitempty"`
}

func (s *Store) LinkToolGroupInstance(ctx context.Context, toolGroupInstanceID, userCredentialID, sourceStateID string) error {
	doc := instanceLinkDocument{ToolGroupInstanceID: toolGroupInstanceID, UserCredentialID: userCredentialID, SourceStateID: sourceStateID}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.instanceLinks.ReplaceOne(ctx, bson.M{"_id": toolGroupInstanceID}, doc, opts); err != nil {
		return fmt.Errorf("mongodb link tool group instance %q: %w", toolGroupInstanceID, err)
	}
	return nil
}

type toolGroupInstanceDocument struct {
	ID                          string  `bson:"_id"`
	DisplayName                 string  `bson:"display_name,omitempty"`
	ResourceServerCredentialID  string  `bson:"resource_server_credential_id,omitempty"`
	UserCredentialID            string  `bson:"user_credential_id,omitempty"`
	Status                      string  `bson:"status"`
	ToolGroupDeploymentTypeID   string  `bson:"tool_group_deployment_type_id,omitempty"`
	CredentialDeploymentTypeID  string  `bson:"credential_deployment_type_id,omitempty"`
	ReturnOnSuccessfulBrokering *string `bson:"return_on_successful_brokering_url,omitempty"`
}

func toToolGroupInstanceDocument(inst credential.ToolGroupInstance) toolGroupInstanceDocument {
	doc := toolGroupInstanceDocument{
		ID: inst.ID, DisplayName: inst.DisplayName, ResourceServerCredentialID: inst.ResourceServerCredentialID,
		UserCredentialID: inst.UserCredentialID, Status: string(inst.Status),
		ToolGroupDeploymentTypeID: inst.ToolGroupDeploymentTypeID, CredentialDeploymentTypeID: inst.CredentialDeploymentTypeID,
	}
	if inst.ReturnOnSuccessfulBrokering != nil {
		url := inst.ReturnOnSuccessfulBrokering.URL
		doc.ReturnOnSuccessfulBrokering = &url
	}
	return doc
}

func fromToolGroupInstanceDocument(d toolGroupInstanceDocument) credential.ToolGroupInstance {
	inst := credential.ToolGroupInstance{
		ID: d.ID, DisplayName: d.DisplayName, ResourceServerCredentialID: d.ResourceServerCredentialID,
		UserCredentialID: d.UserCredentialID, Status: credential.ToolGroupInstanceStatus(d.Status),
		ToolGroupDeploymentTypeID: d.ToolGroupDeploymentTypeID, CredentialDeploymentTypeID: d.CredentialDeploymentTypeID,
	}
	if d.ReturnOnSuccessfulBrokering != nil {
		inst.ReturnOnSuccessfulBrokering = &credential.ReturnOnSuccessfulBrokering{URL: *d.ReturnOnSuccessfulBrokering}
	}
	return inst
}

func (s *Store) CreateToolGroupInstance(ctx context.Context, inst credential.ToolGroupInstance) error {
	if _, err := s.toolGroups.InsertOne(ctx, toToolGroupInstanceDocument(inst)); err != nil {
		return fmt.Errorf("mongodb create tool group instance %q: %w", inst.ID, err)
	}
	return nil
}

func (s *Store) GetToolGroupInstance(ctx context.Context, id string) (credential.ToolGroupInstance, error) {
	var doc toolGroupInstanceDocument
	if err := s.toolGroups.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return credential.ToolGroupInstance{}, credential.ErrNotFound
		}
		return credential.ToolGroupInstance{}, fmt.Errorf("mongodb get tool group instance %q: %w", id, err)
	}
	return fromToolGroupInstanceDocument(doc), nil
}

func (s *Store) UpdateToolGroupInstanceAfterBrokering(ctx context.Context, id, userCredentialID string) (credential.ToolGroupInstance, error) {
	update := bson.M{"$set": bson.M{
		"user_credential_id": userCredentialID,
		"status":              string(credential.ToolGroupInstanceActive),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc toolGroupInstanceDocument
	if err := s.toolGroups.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return credential.ToolGroupInstance{}, credential.ErrNotFound
		}
		return credential.ToolGroupInstance{}, fmt.Errorf("mongodb transition tool group instance %q to active: %w", id, err)
	}
	return fromToolGroupInstanceDocument(doc), nil
}

func (s *Store) UserCredentialByConsumedState(ctx context.Context, stateID string) (credential.UserCredential, bool, error) {
	var link instanceLinkDocument
	err := s.instanceLinks.FindOne(ctx, bson.M{"source_state_id": stateID}).Decode(&link)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return credential.UserCredential{}, false, nil
		}
		return credential.UserCredential{}, false, fmt.Errorf("mongodb find instance link for state %q: %w", stateID, err)
	}
	cred, err := s.GetUserCredential(ctx, link.UserCredentialID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return credential.UserCredential{}, false, nil
		}
		return credential.UserCredential{}, false, err
	}
	return cred, true, nil
}
