// Package inmem provides a single-process, non-durable bridge.Engine
// implementation for local development and tests. It is not replay-safe:
// workflow handlers run as plain goroutines and any in-flight workflow is
// lost on process restart.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/agentbridge/control-plane/internal/bridge"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

type engine struct {
	mu         sync.RWMutex
	workflows  map[string]bridge.WorkflowDefinition
	activities map[string]bridge.ActivityDefinition

	log telemetry.Logger
	met telemetry.Metrics
	trc telemetry.Tracer
}

// New returns a new in-memory bridge.Engine.
func New(log telemetry.Logger, met telemetry.Metrics, trc telemetry.Tracer) bridge.Engine {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if met == nil {
		met = telemetry.NewNoopMetrics()
	}
	if trc == nil {
		trc = telemetry.NewNoopTracer()
	}
	return &engine{
		workflows:  make(map[string]bridge.WorkflowDefinition),
		activities: make(map[string]bridge.ActivityDefinition),
		log:        log,
		met:        met,
		trc:        trc,
	}
}

func (e *engine) RegisterWorkflow(_ context.Context, def bridge.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("inmem engine: invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("inmem engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *engine) RegisterActivity(_ context.Context, def bridge.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("inmem engine: invalid activity definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("inmem engine: activity %q already registered", def.Name)
	}
	e.activities[def.Name] = def
	return nil
}

func (e *engine) StartWorkflow(ctx context.Context, req bridge.WorkflowStartRequest) (bridge.WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmem engine: workflow %q not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, errors.New("inmem engine: workflow id is required")
	}

	wctx := &workflowContext{
		ctx:   ctx,
		id:    req.ID,
		runID: req.ID,
		eng:   e,
		sigs:  make(map[string]chan any),
	}
	h := &handle{done: make(chan struct{}), wctx: wctx}

	go func() {
		defer close(h.done)
		res, err := def.Handler(wctx, req.Input)
		h.mu.Lock()
		h.result, h.err = res, err
		h.mu.Unlock()
	}()

	return h, nil
}

type workflowContext struct {
	ctx   context.Context
	id    string
	runID string
	eng   *engine

	sigMu sync.Mutex
	sigs  map[string]chan any
}

func (w *workflowContext) Context() context.Context   { return w.ctx }
func (w *workflowContext) WorkflowID() string         { return w.id }
func (w *workflowContext) RunID() string              { return w.runID }
func (w *workflowContext) Logger() telemetry.Logger   { return w.eng.log }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.eng.met }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.eng.trc }
func (w *workflowContext) Now() time.Time             { return time.Now().UTC() }

func (w *workflowContext) ExecuteActivity(ctx context.Context, req bridge.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (w *workflowContext) ExecuteActivityAsync(ctx context.Context, req bridge.ActivityRequest) (bridge.Future, error) {
	w.eng.mu.RLock()
	def, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmem engine: activity %q not registered", req.Name)
	}
	f := &future{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		res, err := def.Handler(ctx, req.Input)
		f.mu.Lock()
		f.result, f.err = res, err
		f.mu.Unlock()
	}()
	return f, nil
}

func (w *workflowContext) SignalChannel(name string) bridge.SignalChannel {
	w.sigMu.Lock()
	defer w.sigMu.Unlock()
	ch, ok := w.sigs[name]
	if !ok {
		ch = make(chan any, 1)
		w.sigs[name] = ch
	}
	return &signalChannel{ch: ch}
}

type signalChannel struct{ ch chan any }

func (s *signalChannel) Receive(ctx context.Context, dest any) error {
	select {
	case v := <-s.ch:
		assign(dest, v)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		assign(dest, v)
		return true
	default:
		return false
	}
}

type future struct {
	mu     sync.Mutex
	ready  chan struct{}
	result any
	err    error
}

func (f *future) Get(ctx context.Context, result any) error {
	select {
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()
		assign(result, f.result)
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

type handle struct {
	mu     sync.Mutex
	done   chan struct{}
	result any
	err    error
	wctx   *workflowContext
}

func (h *handle) Wait(ctx context.Context, result any) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		assign(result, h.result)
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	ch := h.wctx.SignalChannel(name).(*signalChannel)
	select {
	case ch.ch <- payload:
		return nil
	case <-h.done:
		return errors.New("inmem engine: workflow already completed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel is best-effort: the in-memory engine does not propagate
// cancellation into a running workflow handler.
func (h *handle) Cancel(context.Context) error { return nil }

func assign(dst, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if dv.Elem().Kind() == reflect.Interface && sv.Type().Implements(dv.Elem().Type()) {
		dv.Elem().Set(sv)
	}
}
