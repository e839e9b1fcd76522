// Package credential implements the Credential Store, Broker state machine,
// and Rotation loop (spec.md §4.B–§4.D): CRUD on encrypted
// ResourceServerCredential/UserCredential rows, the external-credential
// acquisition flow (brokering), and the background job that refreshes
// rotatable credentials before they expire.
package credential

import (
	"context"
	"errors"
	"time"

	"github.com/agentbridge/control-plane/internal/envelope"
)

// ErrNotFound is returned by a Store when a credential row does not exist.
var ErrNotFound = errors.New("credential: not found")

// Credential is the shape shared by ResourceServerCredential and
// UserCredential: an opaque, already-encrypted value plus the alias of the
// DEK that can decrypt it. The store never sees plaintext (spec.md §4.B).
type Credential struct {
	ID     string
	TypeID string
	// DeploymentTypeID is the credential_deployment_type_id a broker is
	// registered under (Coordinator.RegisterBroker); it names which Broker
	// manages and can rotate this row.
	DeploymentTypeID string
	Metadata         map[string]string
	Value            envelope.EncryptedString
	DEKAlias         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	NextRotationTime *time.Time
}

// ResourceServerCredential describes how to reach an upstream resource
// server (the thing a UserCredential is brokered against).
type ResourceServerCredential Credential

// UserCredential is a brokered, per-user credential for a resource server.
// ResourceServerCredentialID names the ResourceServerCredential it was
// brokered against, so the rotation loop can hand a broker the config it
// needs to refresh the credential.
type UserCredential struct {
	Credential
	ResourceServerCredentialID string
}

// Page is one page of a rotation-window scan: rows due for rotation plus an
// opaque cursor for the next page (empty when exhausted).
type Page[T any] struct {
	Rows       []T
	NextCursor string
}

// ToolGroupInstanceStatus is the lifecycle state of a ToolGroupInstance
// (spec.md §3.1).
type ToolGroupInstanceStatus string

const (
	// ToolGroupInstanceBrokering means the instance has no user credential
	// wired yet and is waiting on a broker flow to complete.
	ToolGroupInstanceBrokering ToolGroupInstanceStatus = "brokering"
	// ToolGroupInstanceActive means a user credential is wired and the
	// instance is usable.
	ToolGroupInstanceActive ToolGroupInstanceStatus = "active"
)

// ReturnOnSuccessfulBrokering, when set on a ToolGroupInstance, redirects
// the caller to URL once brokering succeeds instead of returning the new
// user-credential reference directly (spec.md §3.1, §4.C Success path).
type ReturnOnSuccessfulBrokering struct {
	URL string
}

// ToolGroupInstance ("ProviderInstance", spec.md §3.1) binds a tool group
// deployment to the resource-server and, once brokered, user credentials it
// authenticates with.
type ToolGroupInstance struct {
	ID                          string
	DisplayName                 string
	ResourceServerCredentialID  string
	UserCredentialID            string
	Status                      ToolGroupInstanceStatus
	ToolGroupDeploymentTypeID   string
	CredentialDeploymentTypeID  string
	ReturnOnSuccessfulBrokering *ReturnOnSuccessfulBrokering
}

// ConfigChangeEventKind identifies what mutated a ToolGroupInstance's
// credential wiring.
type ConfigChangeEventKind string

// ConfigChangeToolGroupInstanceAdded fires when a brokering flow succeeds
// and wires a user credential to a previously credential-less instance
// (spec.md §4.C Success path: "publish a ConfigChange event").
const ConfigChangeToolGroupInstanceAdded ConfigChangeEventKind = "tool_group_instance_added"

// ConfigChangeEvent is published whenever brokering mutates a
// ToolGroupInstance's credential wiring, so subscribers (e.g. a running
// agent's tool-group cache) can pick up the new credential without polling.
type ConfigChangeEvent struct {
	Kind              ConfigChangeEventKind
	ToolGroupInstance ToolGroupInstance
}

// ConfigChangePublisher receives ConfigChangeEvents. Publishing is
// best-effort from the Coordinator's point of view: a publish failure is
// logged, not surfaced as a brokering error, since the credential itself
// was already durably persisted and linked.
type ConfigChangePublisher interface {
	PublishConfigChange(ctx context.Context, event ConfigChangeEvent) error
}

// Store is the persistence port for credential rows and broker state
// (component B, plus the state half of component C).
type Store interface {
	CreateResourceServerCredential(ctx context.Context, c ResourceServerCredential) error
	GetResourceServerCredential(ctx context.Context, id string) (ResourceServerCredential, error)
	UpdateResourceServerCredential(ctx context.Context, c ResourceServerCredential) error
	DeleteResourceServerCredential(ctx context.Context, id string) error
	// ListResourceServerCredentialsDueForRotation returns rows whose
	// next_rotation_time is at or before before, paginated by cursor.
	ListResourceServerCredentialsDueForRotation(ctx context.Context, before time.Time, cursor string, limit int) (Page[ResourceServerCredential], error)

	CreateUserCredential(ctx context.Context, c UserCredential) error
	GetUserCredential(ctx context.Context, id string) (UserCredential, error)
	UpdateUserCredential(ctx context.Context, c UserCredential) error
	DeleteUserCredential(ctx context.Context, id string) error
	ListUserCredentialsDueForRotation(ctx context.Context, before time.Time, cursor string, limit int) (Page[UserCredential], error)

	CreateBrokerState(ctx context.Context, s BrokerState) error
	// GetBrokerState reports found=false, rather than an error, when no row
	// exists — resume() treats a missing row as potentially-already-consumed,
	// not as a hard failure.
	GetBrokerState(ctx context.Context, id string) (state BrokerState, found bool, err error)
	DeleteBrokerState(ctx context.Context, id string) error

	// LinkToolGroupInstance records that toolGroupInstanceID's active
	// credential is userCredentialID, brokered from sourceStateID. Invariant
	// I5 (broker resume idempotence) is built on this link surviving after
	// the BrokerState row that produced it is deleted.
	LinkToolGroupInstance(ctx context.Context, toolGroupInstanceID, userCredentialID, sourceStateID string) error
	// UserCredentialByConsumedState looks up the credential, if any, that
	// was already brokered from stateID — the idempotent-resume check.
	UserCredentialByConsumedState(ctx context.Context, stateID string) (UserCredential, bool, error)

	CreateToolGroupInstance(ctx context.Context, inst ToolGroupInstance) error
	GetToolGroupInstance(ctx context.Context, id string) (ToolGroupInstance, error)
	// UpdateToolGroupInstanceAfterBrokering wires userCredentialID onto the
	// instance and transitions its status brokering → active (spec.md §3.1,
	// §4.C Success path), returning the updated row.
	UpdateToolGroupInstanceAfterBrokering(ctx context.Context, id, userCredentialID string) (ToolGroupInstance, error)
}
