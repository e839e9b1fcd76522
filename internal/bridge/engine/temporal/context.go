package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/agentbridge/control-plane/internal/bridge"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

// temporalContext adapts a Temporal workflow.Context to bridge.WorkflowContext.
type temporalContext struct {
	eng  *Engine
	wctx workflow.Context
	info *workflow.Info
}

func newTemporalContext(eng *Engine, wctx workflow.Context) *temporalContext {
	info := workflow.GetInfo(wctx)
	return &temporalContext{eng: eng, wctx: wctx, info: info}
}

// Context returns a context.Context usable for non-deterministic calls made
// outside workflow replay (e.g. from within an activity). Workflow code
// itself must use the workflow.Context passed to the handler, not this.
func (c *temporalContext) Context() context.Context { return context.Background() }

func (c *temporalContext) WorkflowID() string { return c.info.WorkflowExecution.ID }
func (c *temporalContext) RunID() string      { return c.info.WorkflowExecution.RunID }

func (c *temporalContext) Logger() telemetry.Logger   { return c.eng.logger }
func (c *temporalContext) Metrics() telemetry.Metrics { return c.eng.metrics }
func (c *temporalContext) Tracer() telemetry.Tracer   { return c.eng.tracer }

func (c *temporalContext) Now() time.Time { return workflow.Now(c.wctx) }

func (c *temporalContext) ExecuteActivity(_ context.Context, req bridge.ActivityRequest, result any) error {
	fut, err := c.ExecuteActivityAsync(context.Background(), req)
	if err != nil {
		return err
	}
	return fut.Get(context.Background(), result)
}

func (c *temporalContext) ExecuteActivityAsync(_ context.Context, req bridge.ActivityRequest) (bridge.Future, error) {
	ao := workflow.ActivityOptions{
		TaskQueue:           req.Queue,
		StartToCloseTimeout: req.Timeout,
	}
	if req.RetryPolicy.MaxAttempts > 0 || req.RetryPolicy.InitialInterval > 0 {
		ao.RetryPolicy = &temporal.RetryPolicy{
			InitialInterval:    req.RetryPolicy.InitialInterval,
			BackoffCoefficient: req.RetryPolicy.BackoffCoefficient,
			MaximumAttempts:    int32(req.RetryPolicy.MaxAttempts),
		}
	}
	actCtx := workflow.WithActivityOptions(c.wctx, ao)
	f := workflow.ExecuteActivity(actCtx, req.Name, req.Input)
	return &temporalFuture{wctx: c.wctx, f: f}, nil
}

func (c *temporalContext) SignalChannel(name string) bridge.SignalChannel {
	return &temporalSignalChannel{wctx: c.wctx, ch: workflow.GetSignalChannel(c.wctx, name)}
}

type temporalFuture struct {
	wctx workflow.Context
	f    workflow.Future
}

func (f *temporalFuture) Get(_ context.Context, result any) error {
	return f.f.Get(f.wctx, result)
}

func (f *temporalFuture) IsReady() bool { return f.f.IsReady() }

type temporalSignalChannel struct {
	wctx workflow.Context
	ch   workflow.ReceiveChannel
}

func (s *temporalSignalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.wctx, dest)
	return nil
}

func (s *temporalSignalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}
