package credential

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agentbridge/control-plane/internal/apierr"
	"github.com/agentbridge/control-plane/internal/envelope"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

func newCredentialID() string { return uuid.NewString() }

// Action is what the caller must do next to make progress on a brokering
// flow (spec.md §4.C).
type Action interface{ isAction() }

// RedirectAction asks the caller to send the end user to URL (e.g. an OAuth
// authorization endpoint).
type RedirectAction struct{ URL string }

func (RedirectAction) isAction() {}

// NoAction means the broker needs nothing further from the caller before
// the next step (e.g. it is already polling an upstream on its own).
type NoAction struct{}

func (NoAction) isAction() {}

// Outcome is the broker's verdict after a start or resume call.
type Outcome interface{ isOutcome() }

// SuccessOutcome carries a freshly-brokered user credential's plaintext
// value (the logic layer, not the broker, is responsible for encrypting it
// under the resource server's dek_alias before persisting).
type SuccessOutcome struct {
	UserCredentialTypeID string
	UserCredentialValue  []byte
	Metadata             map[string]string
}

func (SuccessOutcome) isOutcome() {}

// ContinueOutcome means the flow isn't done; state_id is the broker-chosen,
// globally-unique id a later resume call will be keyed by.
type ContinueOutcome struct {
	StateID       string
	StateMetadata map[string]string
}

func (ContinueOutcome) isOutcome() {}

// Input is caller-supplied data handed to resume to advance a broker flow.
type Input interface{ isInput() }

// OAuth2AuthorizationCodeInput carries a bare authorization code, for flows
// without PKCE.
type OAuth2AuthorizationCodeInput struct{ Code string }

func (OAuth2AuthorizationCodeInput) isInput() {}

// OAuth2AuthorizationCodeWithPKCEInput carries an authorization code plus
// the PKCE code verifier generated when the flow was started.
type OAuth2AuthorizationCodeWithPKCEInput struct {
	Code         string
	CodeVerifier string
}

func (OAuth2AuthorizationCodeWithPKCEInput) isInput() {}

// BrokerState is the persisted checkpoint of an in-progress brokering flow
// (spec.md §3.3: created by start when the outcome is Continue, deleted on
// a successful resume).
type BrokerState struct {
	ID                  string
	ToolGroupInstanceID string
	DeploymentTypeID    string
	Metadata            map[string]string
	Action              Action
	CreatedAt           time.Time
}

// Broker is the extension point registered per
// credential_deployment_type_id (spec.md §4.C). Implementations own one
// external IdP's or credential provider's multi-step acquisition protocol.
type Broker interface {
	Start(ctx context.Context, resourceServerCred ResourceServerCredential) (Action, Outcome, error)
	Resume(ctx context.Context, state BrokerState, input Input, resourceServerCred ResourceServerCredential) (Action, Outcome, error)
}

// Rotatable is an optional capability a Broker may implement to support the
// rotation loop (component D). plaintext is the credential's current,
// decrypted value; resourceServerCred is the resource server it was
// brokered against, which a broker typically needs to know where to call
// out to refresh it.
type Rotatable interface {
	Rotate(ctx context.Context, current UserCredential, plaintext []byte, resourceServerCred ResourceServerCredential) (newValue []byte, nextRotation time.Time, err error)
}

// RotatableResourceServer is the resource-server-credential analogue of
// Rotatable: brokers whose resource server configuration itself expires
// (a client-credentials secret, a static API key with a TTL) implement this
// to let the rotation loop refresh it directly, without a brokered user
// credential in the loop (spec.md §3.1: "the broker can expose each as a
// rotatable").
type RotatableResourceServer interface {
	RotateResourceServer(ctx context.Context, current ResourceServerCredential, plaintext []byte) (newValue []byte, nextRotation time.Time, err error)
}

// Result is what Start/Resume returns to the caller: exactly one of a
// redirect to hand back to the end user, a freshly-brokered credential, or
// a still-in-progress broker state.
type Result struct {
	Redirect   *string
	Credential *UserCredential
	State      *BrokerState
}

// Coordinator ties the credential Store, the envelope Store (for
// encrypt-under-dek_alias), and the registered Brokers together into
// process_broker_outcome (spec.md §4.C).
type Coordinator struct {
	store         Store
	keys          *envelope.Store
	log           telemetry.Logger
	brokers       map[string]Broker
	configChanges ConfigChangePublisher
}

// NewCoordinator constructs a Coordinator with no brokers registered; call
// RegisterBroker for each supported credential_deployment_type_id.
func NewCoordinator(store Store, keys *envelope.Store, log telemetry.Logger) *Coordinator {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Coordinator{store: store, keys: keys, log: log, brokers: make(map[string]Broker)}
}

// WithConfigChangePublisher registers a ConfigChangePublisher that receives
// a ConfigChangeEvent every time a brokering flow wires a user credential
// onto a ToolGroupInstance (spec.md §4.C Success path).
func (c *Coordinator) WithConfigChangePublisher(p ConfigChangePublisher) *Coordinator {
	c.configChanges = p
	return c
}

// RegisterBroker associates a Broker implementation with a
// credential_deployment_type_id.
func (c *Coordinator) RegisterBroker(deploymentTypeID string, b Broker) {
	c.brokers[deploymentTypeID] = b
}

// BrokerFor returns the Broker registered for deploymentTypeID, for callers
// (e.g. RotationLoop) that need to reach a specific broker's capabilities
// directly rather than going through Start/Resume.
func (c *Coordinator) BrokerFor(deploymentTypeID string) (Broker, error) {
	return c.brokerFor(deploymentTypeID)
}

func (c *Coordinator) brokerFor(deploymentTypeID string) (Broker, error) {
	b, ok := c.brokers[deploymentTypeID]
	if !ok {
		return nil, apierr.Newf(apierr.InvalidParams, "no credential broker registered for deployment type %q", deploymentTypeID)
	}
	return b, nil
}

// Start begins a brokering flow for toolGroupInstanceID against
// resourceServerCred, using the broker registered for deploymentTypeID.
func (c *Coordinator) Start(ctx context.Context, deploymentTypeID, toolGroupInstanceID string, resourceServerCred ResourceServerCredential) (Result, error) {
	broker, err := c.brokerFor(deploymentTypeID)
	if err != nil {
		return Result{}, err
	}
	action, outcome, err := broker.Start(ctx, resourceServerCred)
	if err != nil {
		return Result{}, classifyBrokerError(err)
	}
	return c.processOutcome(ctx, deploymentTypeID, toolGroupInstanceID, "", resourceServerCred, action, outcome)
}

// Resume advances a brokering flow previously checkpointed by Start or a
// prior Resume. Per invariant I5, replaying the same input against a
// state_id that has already been consumed by a successful resume is a
// no-op that returns the existing user credential rather than an error
// (SPEC_FULL.md §12 item 4).
func (c *Coordinator) Resume(ctx context.Context, deploymentTypeID, stateID string, input Input, resourceServerCred ResourceServerCredential) (Result, error) {
	state, found, err := c.store.GetBrokerState(ctx, stateID)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.Internal, "load broker state "+stateID, err)
	}
	if !found {
		existing, ok, err := c.store.UserCredentialByConsumedState(ctx, stateID)
		if err != nil {
			return Result{}, apierr.Wrap(apierr.Internal, "check consumed broker state "+stateID, err)
		}
		if ok {
			cred := existing
			return Result{Credential: &cred}, nil
		}
		return Result{}, apierr.Newf(apierr.InvalidParams, "broker state %q not found", stateID)
	}

	broker, err := c.brokerFor(deploymentTypeID)
	if err != nil {
		return Result{}, err
	}
	action, outcome, err := broker.Resume(ctx, state, input, resourceServerCred)
	if err != nil {
		return Result{}, classifyBrokerError(err)
	}
	return c.processOutcome(ctx, deploymentTypeID, state.ToolGroupInstanceID, stateID, resourceServerCred, action, outcome)
}

func (c *Coordinator) processOutcome(ctx context.Context, deploymentTypeID, toolGroupInstanceID, consumedStateID string, resourceServerCred ResourceServerCredential, action Action, outcome Outcome) (Result, error) {
	switch o := outcome.(type) {
	case SuccessOutcome:
		return c.onSuccess(ctx, toolGroupInstanceID, consumedStateID, deploymentTypeID, resourceServerCred, o)
	case ContinueOutcome:
		return c.onContinue(ctx, deploymentTypeID, toolGroupInstanceID, action, o)
	default:
		return Result{}, apierr.New(apierr.Internal, "broker returned an unrecognized outcome type")
	}
}

func (c *Coordinator) onSuccess(ctx context.Context, toolGroupInstanceID, consumedStateID, deploymentTypeID string, resourceServerCred ResourceServerCredential, o SuccessOutcome) (Result, error) {
	ciphertext, err := c.keys.Encrypt(ctx, resourceServerCred.DEKAlias, o.UserCredentialValue)
	if err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	cred := UserCredential{
		Credential: Credential{
			ID:               newCredentialID(),
			TypeID:           o.UserCredentialTypeID,
			DeploymentTypeID: deploymentTypeID,
			Metadata:         o.Metadata,
			Value:            ciphertext,
			DEKAlias:         resourceServerCred.DEKAlias,
			CreatedAt:        now,
			UpdatedAt:        now,
		},
		ResourceServerCredentialID: resourceServerCred.ID,
	}
	if err := c.store.CreateUserCredential(ctx, cred); err != nil {
		return Result{}, apierr.Wrap(apierr.Internal, "persist brokered user credential", err)
	}
	if err := c.store.LinkToolGroupInstance(ctx, toolGroupInstanceID, cred.ID, consumedStateID); err != nil {
		return Result{}, apierr.Wrap(apierr.Internal, "link tool group instance to brokered credential", err)
	}
	if consumedStateID != "" {
		if err := c.store.DeleteBrokerState(ctx, consumedStateID); err != nil {
			return Result{}, apierr.Wrap(apierr.Internal, "delete consumed broker state "+consumedStateID, err)
		}
	}

	// Transition the owning instance brokering → active and wire the new
	// credential onto it (spec.md §3.1, §4.C Success path).
	instance, err := c.store.UpdateToolGroupInstanceAfterBrokering(ctx, toolGroupInstanceID, cred.ID)
	if err != nil {
		return Result{}, apierr.Wrap(apierr.Internal, "transition tool group instance "+toolGroupInstanceID+" to active", err)
	}

	if c.configChanges != nil {
		event := ConfigChangeEvent{Kind: ConfigChangeToolGroupInstanceAdded, ToolGroupInstance: instance}
		if err := c.configChanges.PublishConfigChange(ctx, event); err != nil {
			c.log.Warn(ctx, "publish config change event", "tool_group_instance_id", instance.ID, "error", err)
		}
	}

	if instance.ReturnOnSuccessfulBrokering != nil && instance.ReturnOnSuccessfulBrokering.URL != "" {
		url := instance.ReturnOnSuccessfulBrokering.URL
		return Result{Redirect: &url}, nil
	}
	return Result{Credential: &cred}, nil
}

func (c *Coordinator) onContinue(ctx context.Context, deploymentTypeID, toolGroupInstanceID string, action Action, o ContinueOutcome) (Result, error) {
	state := BrokerState{
		ID:                  o.StateID,
		ToolGroupInstanceID: toolGroupInstanceID,
		DeploymentTypeID:    deploymentTypeID,
		Metadata:            o.StateMetadata,
		Action:              action,
		CreatedAt:           time.Now().UTC(),
	}
	if err := c.store.CreateBrokerState(ctx, state); err != nil {
		return Result{}, apierr.Wrap(apierr.Internal, "persist broker state "+o.StateID, err)
	}

	result := Result{State: &state}
	if redirect, ok := action.(RedirectAction); ok {
		url := redirect.URL
		result.Redirect = &url
	}
	return result, nil
}

// classifyBrokerError maps an unclassified error from a Broker
// implementation to the §7 taxonomy, defaulting to Network since most
// broker failures are upstream-IdP transport errors (spec.md §4.C).
func classifyBrokerError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return apierr.Wrap(apierr.Network, "credential broker call failed", err)
}
