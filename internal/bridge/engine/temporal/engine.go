// Package temporal adapts go.temporal.io/sdk to the bridge.Engine port, so
// the Agent Executor Bridge (spec.md §4.I) can run against Temporal as its
// durable workflow engine instead of the in-memory adapter used for tests
// and local development.
package temporal

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/agentbridge/control-plane/internal/bridge"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

// Options configures the Temporal engine adapter. Either Client or
// ClientOptions must be provided, along with a default task queue.
type Options struct {
	Client        client.Client
	ClientOptions *client.Options
	TaskQueue     string
	WorkerOptions worker.Options

	DisableTracing bool
	DisableMetrics bool

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Engine implements bridge.Engine on top of a Temporal client and a single
// worker pool. One worker per unique task queue is created lazily.
type Engine struct {
	client      client.Client
	closeClient bool

	defaultQueue string
	workerOpts   worker.Options

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu        sync.Mutex
	workers   map[string]*workerBundle
	started   bool
	workflows map[string]bridge.WorkflowDefinition

	workflowContexts sync.Map // runID -> *temporalContext
}

var _ bridge.Engine = (*Engine)(nil)

// New constructs a Temporal-backed Engine.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: a default task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}

	var tracingInterceptor interceptor.Interceptor
	var metricsHandler client.MetricsHandler
	if !opts.DisableTracing {
		ti, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return nil, fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
		}
		tracingInterceptor = ti
	}
	if !opts.DisableMetrics {
		metricsHandler = temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		if tracingInterceptor != nil {
			clientOpts.Interceptors = append(clientOpts.Interceptors, tracingInterceptor)
		}
		if metricsHandler != nil && clientOpts.MetricsHandler == nil {
			clientOpts.MetricsHandler = metricsHandler
		}
		var err error
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	workerOpts := opts.WorkerOptions
	if tracingInterceptor != nil {
		workerOpts.Interceptors = append(workerOpts.Interceptors, tracingInterceptor)
	}

	return &Engine{
		client:       cli,
		closeClient:  closeClient,
		defaultQueue: opts.TaskQueue,
		workerOpts:   workerOpts,
		logger:       logger,
		metrics:      metrics,
		tracer:       tracer,
		workers:      make(map[string]*workerBundle),
		workflows:    make(map[string]bridge.WorkflowDefinition),
	}, nil
}

// RegisterWorkflow registers a workflow definition on the worker for its
// task queue (the engine's default queue if unset).
func (e *Engine) RegisterWorkflow(_ context.Context, def bridge.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid workflow definition")
	}
	bundle, err := e.workerForQueue(def.TaskQueue)
	if err != nil {
		return err
	}

	bundle.registerWorkflow(def.Name, func(tctx workflow.Context, input any) (any, error) {
		wfCtx := newTemporalContext(e, tctx)
		e.workflowContexts.Store(wfCtx.RunID(), wfCtx)
		defer e.workflowContexts.Delete(wfCtx.RunID())
		return def.Handler(wfCtx, input)
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

// RegisterActivity registers an activity handler on the worker for its
// queue (the engine's default queue if unset).
func (e *Engine) RegisterActivity(_ context.Context, def bridge.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal engine: invalid activity definition")
	}
	bundle, err := e.workerForQueue(def.Options.Queue)
	if err != nil {
		return err
	}
	bundle.registerActivity(def.Name, def.Handler)
	return nil
}

// StartWorkflow starts workflows on Temporal, using req.Workflow as the
// registered workflow name. Workers start on first call unless already
// running.
func (e *Engine) StartWorkflow(ctx context.Context, req bridge.WorkflowStartRequest) (bridge.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("temporal engine: workflow name is required")
	}
	e.mu.Lock()
	def, ok := e.workflows[req.Workflow]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("temporal engine: workflow %q is not registered", req.Workflow)
	}
	e.ensureStarted()

	queue := req.TaskQueue
	if queue == "" {
		queue = def.TaskQueue
	}
	if queue == "" {
		queue = e.defaultQueue
	}

	opts := client.StartWorkflowOptions{ID: req.ID, TaskQueue: queue}
	if rp := req.RetryPolicy; rp.MaxAttempts > 0 || rp.InitialInterval > 0 {
		opts.RetryPolicy = &temporal.RetryPolicy{
			InitialInterval:    rp.InitialInterval,
			BackoffCoefficient: rp.BackoffCoefficient,
			MaximumAttempts:    int32(rp.MaxAttempts),
		}
	}

	run, err := e.client.ExecuteWorkflow(ctx, opts, req.Workflow, req.Input)
	if err != nil {
		return nil, fmt.Errorf("temporal engine: start workflow %q: %w", req.ID, err)
	}
	return &workflowHandle{run: run, client: e.client}, nil
}

// Close shuts down the Temporal client if this Engine created it.
func (e *Engine) Close() {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
}

func (e *Engine) workerForQueue(queue string) (*workerBundle, error) {
	if queue == "" {
		queue = e.defaultQueue
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.workers[queue]; ok {
		return b, nil
	}
	b := &workerBundle{queue: queue, worker: worker.New(e.client, queue, e.workerOpts), logger: e.logger}
	e.workers[queue] = b
	if e.started {
		b.start()
	}
	return b, nil
}

func (e *Engine) ensureStarted() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	bundles := make([]*workerBundle, 0, len(e.workers))
	for _, b := range e.workers {
		bundles = append(bundles, b)
	}
	e.mu.Unlock()
	for _, b := range bundles {
		b.start()
	}
}

type workerBundle struct {
	queue     string
	worker    worker.Worker
	logger    telemetry.Logger
	startOnce sync.Once
}

func (b *workerBundle) start() {
	b.startOnce.Do(func() {
		go func() {
			if err := b.worker.Run(worker.InterruptCh()); err != nil {
				b.logger.Error(context.Background(), "temporal worker exited", "queue", b.queue, "error", err)
			}
		}()
	})
}

func (b *workerBundle) registerWorkflow(name string, fn any) {
	b.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

func (b *workerBundle) registerActivity(name string, fn bridge.ActivityFunc) {
	wrapped := func(ctx context.Context, input any) (any, error) { return fn(ctx, input) }
	b.worker.RegisterActivityWithOptions(wrapped, activity.RegisterOptions{Name: name})
}

type workflowHandle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *workflowHandle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *workflowHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
