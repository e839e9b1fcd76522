// Command controlplane runs the A2A control plane: the JSON-RPC request
// surface (spec.md §6.1), the credential broker and rotation loop, and the
// agent executor bridge.
//
// # Configuration
//
// Environment variables (see internal/config for defaults):
//
//	CONTROLPLANE_RPC_ADDR                - JSON-RPC listen address
//	CONTROLPLANE_GRPC_ADDR                - reserved for the gRPC mirror (§6.2)
//	CONTROLPLANE_STORE_DRIVER             - "memory" or "mongo"
//	CONTROLPLANE_MONGO_URI                - Mongo connection string
//	CONTROLPLANE_MONGO_DATABASE           - Mongo database name
//	CONTROLPLANE_MANIFEST_PATH            - path to the registration manifest
//	CONTROLPLANE_ROTATION_TICK_INTERVAL   - rotation loop tick period
//	CONTROLPLANE_ROTATION_LOOKAHEAD       - rotation lookahead window
//	CONTROLPLANE_ROTATION_PAGE_SIZE       - rotation scan page size
//	CONTROLPLANE_PUSH_NOTIFY_TIMEOUT      - push notification HTTP timeout
//	CONTROLPLANE_PUSH_NOTIFY_RATE         - push notification callbacks/sec
//	CONTROLPLANE_PUSH_NOTIFY_BURST        - push notification rate burst size
//	CONTROLPLANE_ENGINE                   - "inmem" or "temporal"
//	CONTROLPLANE_TEMPORAL_HOST_PORT       - Temporal frontend address (engine=temporal)
//	CONTROLPLANE_TEMPORAL_NAMESPACE       - Temporal namespace (engine=temporal)
//	CONTROLPLANE_TEMPORAL_TASK_QUEUE      - default Temporal task queue
//	CONTROLPLANE_REDIS_ADDR               - enables the Pulse distributed event tap when set
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/agentbridge/control-plane/internal/a2a/rpcserver"
	"github.com/agentbridge/control-plane/internal/bridge"
	bridgeinmem "github.com/agentbridge/control-plane/internal/bridge/engine/inmem"
	bridgetemporal "github.com/agentbridge/control-plane/internal/bridge/engine/temporal"
	"github.com/agentbridge/control-plane/internal/config"
	"github.com/agentbridge/control-plane/internal/credential"
	credmem "github.com/agentbridge/control-plane/internal/credential/store/memory"
	credmongo "github.com/agentbridge/control-plane/internal/credential/store/mongo"
	"github.com/agentbridge/control-plane/internal/envelope"
	envmem "github.com/agentbridge/control-plane/internal/envelope/store/memory"
	envmongo "github.com/agentbridge/control-plane/internal/envelope/store/mongo"
	"github.com/agentbridge/control-plane/internal/handler"
	"github.com/agentbridge/control-plane/internal/push"
	pushmem "github.com/agentbridge/control-plane/internal/push/store/memory"
	pushmongo "github.com/agentbridge/control-plane/internal/push/store/mongo"
	"github.com/agentbridge/control-plane/internal/queue"
	queuepulse "github.com/agentbridge/control-plane/internal/queue/pulse"
	"github.com/agentbridge/control-plane/internal/task"
	taskmem "github.com/agentbridge/control-plane/internal/task/store/memory"
	taskmongo "github.com/agentbridge/control-plane/internal/task/store/mongo"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(context.Background(), err)
	}
}

func run() error {
	dbgF := flag.Bool("debug", false, "log request and response bodies")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	manifest, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()

	var db *mongo.Database
	if cfg.StoreDriver == "mongo" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		defer func() {
			if err := mongoClient.Disconnect(ctx); err != nil {
				log.Error(ctx, err, log.KV{K: "msg", V: "disconnect mongo"})
			}
		}()
		db = mongoClient.Database(cfg.MongoDatabase)
	}

	keys, err := buildEnvelopeStore(db, manifest)
	if err != nil {
		return fmt.Errorf("build envelope store: %w", err)
	}

	credStore := buildCredentialStore(db)
	coordinator := credential.NewCoordinator(credStore, keys, logger)
	registerBrokers(coordinator, manifest)

	rotation := credential.NewRotationLoop(credStore, keys, coordinator.BrokerFor, logger).
		WithTickInterval(cfg.RotationTickInterval).
		WithLookahead(cfg.RotationLookahead).
		WithPageSize(cfg.RotationPageSize)
	go rotation.Run(ctx)

	taskStore := buildTaskStore(db)
	taskManager := task.NewManager(taskStore)

	queues := queue.NewManager()
	if cfg.RedisAddr != "" {
		mirror, err := buildQueueMirror(cfg)
		if err != nil {
			return fmt.Errorf("build queue distributed tap: %w", err)
		}
		queues.WithMirror(mirror, logger)
	}

	engine, err := buildEngine(cfg, logger, metrics, tracer)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	brg := bridge.New(engine, taskManager, logger)

	pushStore := buildPushStore(db)
	notifier := push.New(&http.Client{Timeout: cfg.PushNotifyTimeout}, logger, metrics).
		WithRateLimit(cfg.PushNotifyRatePerSecond, cfg.PushNotifyBurst)

	h := handler.New(taskManager, queues, brg, pushStore, notifier, logger)

	srv := &http.Server{
		Addr:    cfg.RPCAddr,
		Handler: rpcserver.New(h, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Print(ctx, log.KV{K: "rpc-addr", V: cfg.RPCAddr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.PushNotifyTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildEnvelopeStore wires the envelope Store and registers every Local
// (master-key file) EEK named in the manifest. A manifest entry of the AWS
// KMS variant is not registered: it makes buildEnvelopeStore return an
// error.
func buildEnvelopeStore(db *mongo.Database, manifest config.Manifest) (*envelope.Store, error) {
	var keys envelope.KeyStore
	if db != nil {
		keys = envmongo.New(db)
	} else {
		keys = envmem.New()
	}
	store := envelope.New(keys)

	for _, m := range manifest.EEKs {
		if !m.Local() {
			return nil, fmt.Errorf("eek %q: AWS KMS EEKs require a live kms.Client, not yet wired into manifest bootstrap", m.ID)
		}
		key, err := os.ReadFile(m.LocalFileName)
		if err != nil {
			return nil, fmt.Errorf("read eek %q key file: %w", m.ID, err)
		}
		eek, err := envelope.NewLocalEEK(m.ID, m.LocalFileName, key)
		if err != nil {
			return nil, fmt.Errorf("construct eek %q: %w", m.ID, err)
		}
		store.RegisterEEK(eek)
	}
	return store, nil
}

func buildCredentialStore(db *mongo.Database) credential.Store {
	if db != nil {
		return credmongo.New(db)
	}
	return credmem.New()
}

func buildTaskStore(db *mongo.Database) task.Store {
	if db != nil {
		return taskmongo.New(db)
	}
	return taskmem.New()
}

func buildPushStore(db *mongo.Database) handler.PushConfigStore {
	if db != nil {
		return pushmongo.New(db)
	}
	return pushmem.New()
}

// registerBrokers wires one OAuth2AuthorizationCodeBroker per deployment
// type named in the manifest, resolving per-resource-server endpoint
// configuration by deployment type id at call time.
func registerBrokers(coordinator *credential.Coordinator, manifest config.Manifest) {
	byDeploymentType := make(map[string]config.OAuth2DeploymentManifest, len(manifest.OAuth2DeploymentTypes))
	for _, d := range manifest.OAuth2DeploymentTypes {
		byDeploymentType[d.DeploymentTypeID] = d
	}
	for _, d := range manifest.OAuth2DeploymentTypes {
		broker := &credential.OAuth2AuthorizationCodeBroker{
			UsePKCE: d.UsePKCE,
			ConfigFor: func(rc credential.ResourceServerCredential) (credential.OAuth2Config, error) {
				m, ok := byDeploymentType[rc.DeploymentTypeID]
				if !ok {
					return credential.OAuth2Config{}, fmt.Errorf("no oauth2 deployment config for %q", rc.DeploymentTypeID)
				}
				return credential.OAuth2Config{
					ClientID:     m.ClientID,
					ClientSecret: m.ClientSecret,
					AuthURL:      m.AuthURL,
					TokenURL:     m.TokenURL,
					RedirectURL:  m.RedirectURL,
					Scopes:       m.Scopes,
				}, nil
			},
		}
		coordinator.RegisterBroker(d.DeploymentTypeID, broker)
	}
}

// buildQueueMirror constructs the optional Redis/Pulse distributed event
// tap (component E) used to mirror task events across control-plane
// replicas when CONTROLPLANE_REDIS_ADDR is set.
func buildQueueMirror(cfg config.Config) (queue.Mirror, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pulseClient, err := queuepulse.NewClient(queuepulse.ClientOptions{Redis: rdb})
	if err != nil {
		return nil, err
	}
	return queuepulse.NewPublisher(pulseClient), nil
}

// buildEngine selects the workflow engine backing the agent executor
// bridge. "inmem" is the zero-config default for local development; the
// Temporal adapter is opt-in via CONTROLPLANE_ENGINE=temporal since it
// requires a reachable Temporal frontend.
func buildEngine(cfg config.Config, logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) (bridge.Engine, error) {
	switch cfg.Engine {
	case "temporal":
		clientOpts := client.Options{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
		}
		eng, err := bridgetemporal.New(bridgetemporal.Options{
			ClientOptions: &clientOpts,
			TaskQueue:     cfg.TemporalTaskQueue,
			Logger:        logger,
			Metrics:       metrics,
			Tracer:        tracer,
		})
		if err != nil {
			return nil, fmt.Errorf("construct temporal engine: %w", err)
		}
		return eng, nil
	default:
		return bridgeinmem.New(logger, metrics, tracer), nil
	}
}
