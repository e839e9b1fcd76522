package credential

import (
	"context"
	"sync"
	"time"

	"github.com/agentbridge/control-plane/internal/apierr"
	"github.com/agentbridge/control-plane/internal/envelope"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

const (
	defaultTickInterval = 30 * time.Second
	defaultLookahead    = 5 * time.Minute
	defaultPageSize     = 100
)

// RotationLoop periodically refreshes rotatable credentials before they
// expire (component D, spec.md §4.D). It is a single long-running task:
// call Run once from a goroutine the caller owns, and cancel its context to
// stop it.
type RotationLoop struct {
	store        Store
	keys         *envelope.Store
	brokers      func(deploymentTypeID string) (Broker, error)
	log          telemetry.Logger
	tickInterval time.Duration
	lookahead    time.Duration
	pageSize     int

	idLocks sync.Map // "user:"- or "rs:"-prefixed credential id -> *sync.Mutex
}

// NewRotationLoop constructs a RotationLoop. brokerFor resolves the broker
// registered for a credential's deployment type, typically
// Coordinator.BrokerFor.
func NewRotationLoop(store Store, keys *envelope.Store, brokerFor func(string) (Broker, error), log telemetry.Logger) *RotationLoop {
	return &RotationLoop{
		store:        store,
		keys:         keys,
		brokers:      brokerFor,
		log:          log,
		tickInterval: defaultTickInterval,
		lookahead:    defaultLookahead,
		pageSize:     defaultPageSize,
	}
}

// WithTickInterval overrides the default poll interval (tests use this to
// avoid a real 30s wait).
func (l *RotationLoop) WithTickInterval(d time.Duration) *RotationLoop {
	l.tickInterval = d
	return l
}

// WithLookahead overrides how far ahead of now a credential's
// next_rotation_time must fall to be refreshed this tick.
func (l *RotationLoop) WithLookahead(d time.Duration) *RotationLoop {
	l.lookahead = d
	return l
}

// WithPageSize overrides the number of rows fetched per
// ListUserCredentialsDueForRotation call.
func (l *RotationLoop) WithPageSize(n int) *RotationLoop {
	if n > 0 {
		l.pageSize = n
	}
	return l
}

// Run ticks until ctx is canceled, refreshing every user credential and
// resource server credential whose next_rotation_time falls within the
// lookahead window on each tick.
func (l *RotationLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick scans one full cursor-paginated pass over both rotation-window
// tables — UserCredential and ResourceServerCredential (spec.md §4.D:
// "periodically scan both credential tables"; §3.1: the broker can expose
// each as a rotatable). Refreshes for distinct credentials, and across the
// two tables, are unordered.
func (l *RotationLoop) tick(ctx context.Context) {
	cutoff := time.Now().UTC().Add(l.lookahead)
	l.tickUserCredentials(ctx, cutoff)
	l.tickResourceServerCredentials(ctx, cutoff)
}

func (l *RotationLoop) tickUserCredentials(ctx context.Context, cutoff time.Time) {
	cursor := ""
	for {
		page, err := l.store.ListUserCredentialsDueForRotation(ctx, cutoff, cursor, l.pageSize)
		if err != nil {
			l.log.Error(ctx, "credential rotation: list due user credentials", "error", err)
			return
		}
		for _, c := range page.Rows {
			l.refresh(ctx, c)
		}
		if page.NextCursor == "" {
			return
		}
		cursor = page.NextCursor
	}
}

func (l *RotationLoop) tickResourceServerCredentials(ctx context.Context, cutoff time.Time) {
	cursor := ""
	for {
		page, err := l.store.ListResourceServerCredentialsDueForRotation(ctx, cutoff, cursor, l.pageSize)
		if err != nil {
			l.log.Error(ctx, "credential rotation: list due resource server credentials", "error", err)
			return
		}
		for _, c := range page.Rows {
			l.refreshResourceServer(ctx, c)
		}
		if page.NextCursor == "" {
			return
		}
		cursor = page.NextCursor
	}
}

func (l *RotationLoop) lockFor(credentialID string) *sync.Mutex {
	mu, _ := l.idLocks.LoadOrStore(credentialID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// refresh rotates a single credential, serialized per credential id so two
// overlapping ticks never refresh the same row concurrently. On failure it
// logs and leaves next_rotation_time unchanged, so the row stays eligible
// on the next tick (spec.md §4.D).
func (l *RotationLoop) refresh(ctx context.Context, c UserCredential) {
	mu := l.lockFor("user:" + c.ID)
	mu.Lock()
	defer mu.Unlock()

	broker, err := l.brokers(c.DeploymentTypeID)
	if err != nil {
		l.log.Error(ctx, "credential rotation: no broker for deployment type", "credential_id", c.ID, "deployment_type_id", c.DeploymentTypeID, "error", err)
		return
	}
	rotatable, ok := broker.(Rotatable)
	if !ok {
		l.log.Error(ctx, "credential rotation: broker does not support rotation", "credential_id", c.ID, "type_id", c.TypeID)
		return
	}

	plaintext, err := l.keys.Decrypt(ctx, c.DEKAlias, c.Value)
	if err != nil {
		l.log.Error(ctx, "credential rotation: decrypt current value", "credential_id", c.ID, "error", err)
		return
	}

	resourceServerCred, err := l.store.GetResourceServerCredential(ctx, c.ResourceServerCredentialID)
	if err != nil {
		l.log.Error(ctx, "credential rotation: load resource server credential", "credential_id", c.ID, "error", err)
		return
	}

	newValue, nextRotation, err := rotatable.Rotate(ctx, c, plaintext, resourceServerCred)
	if err != nil {
		if apierr.KindOf(err) == apierr.Network {
			l.log.Info(ctx, "credential rotation: transient failure, will retry next tick", "credential_id", c.ID, "error", err)
		} else {
			l.log.Error(ctx, "credential rotation: rotate", "credential_id", c.ID, "error", err)
		}
		return
	}

	ciphertext, err := l.keys.Encrypt(ctx, c.DEKAlias, newValue)
	if err != nil {
		l.log.Error(ctx, "credential rotation: re-encrypt rotated value", "credential_id", c.ID, "error", err)
		return
	}

	updated := c
	updated.Value = ciphertext
	updated.NextRotationTime = &nextRotation
	updated.UpdatedAt = time.Now().UTC()
	if err := l.store.UpdateUserCredential(ctx, updated); err != nil {
		l.log.Error(ctx, "credential rotation: persist rotated credential", "credential_id", c.ID, "error", err)
	}
}

// refreshResourceServer rotates a single resource server credential, the
// ResourceServerCredential half of §4.D's "scan both credential tables".
// Brokers that only support Rotatable (user credentials) are skipped with a
// log line, not an error — not every broker's resource server
// configuration is itself rotatable.
func (l *RotationLoop) refreshResourceServer(ctx context.Context, c ResourceServerCredential) {
	mu := l.lockFor("rs:" + c.ID)
	mu.Lock()
	defer mu.Unlock()

	broker, err := l.brokers(c.DeploymentTypeID)
	if err != nil {
		l.log.Error(ctx, "credential rotation: no broker for deployment type", "resource_server_credential_id", c.ID, "deployment_type_id", c.DeploymentTypeID, "error", err)
		return
	}
	rotatable, ok := broker.(RotatableResourceServer)
	if !ok {
		l.log.Info(ctx, "credential rotation: broker does not support resource server rotation", "resource_server_credential_id", c.ID, "type_id", c.TypeID)
		return
	}

	plaintext, err := l.keys.Decrypt(ctx, c.DEKAlias, c.Value)
	if err != nil {
		l.log.Error(ctx, "credential rotation: decrypt current resource server value", "resource_server_credential_id", c.ID, "error", err)
		return
	}

	newValue, nextRotation, err := rotatable.RotateResourceServer(ctx, c, plaintext)
	if err != nil {
		if apierr.KindOf(err) == apierr.Network {
			l.log.Info(ctx, "credential rotation: transient failure, will retry next tick", "resource_server_credential_id", c.ID, "error", err)
		} else {
			l.log.Error(ctx, "credential rotation: rotate resource server credential", "resource_server_credential_id", c.ID, "error", err)
		}
		return
	}

	ciphertext, err := l.keys.Encrypt(ctx, c.DEKAlias, newValue)
	if err != nil {
		l.log.Error(ctx, "credential rotation: re-encrypt rotated resource server value", "resource_server_credential_id", c.ID, "error", err)
		return
	}

	updated := c
	updated.Value = ciphertext
	updated.NextRotationTime = &nextRotation
	updated.UpdatedAt = time.Now().UTC()
	if err := l.store.UpdateResourceServerCredential(ctx, updated); err != nil {
		l.log.Error(ctx, "credential rotation: persist rotated resource server credential", "resource_server_credential_id", c.ID, "error", err)
	}
}
