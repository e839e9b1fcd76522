package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/bridge"
	"github.com/agentbridge/control-plane/internal/bridge/engine/inmem"
)

func TestStartWorkflowRunsHandlerAndReturnsResult(t *testing.T) {
	eng := inmem.New(nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, eng.RegisterWorkflow(ctx, bridge.WorkflowDefinition{
		Name: "echo",
		Handler: func(wctx bridge.WorkflowContext, input any) (any, error) {
			return input, nil
		},
	}))

	h, err := eng.StartWorkflow(ctx, bridge.WorkflowStartRequest{ID: "run-1", Workflow: "echo", Input: "hello"})
	require.NoError(t, err)

	var result string
	require.NoError(t, h.Wait(ctx, &result))
	assert.Equal(t, "hello", result)
}

func TestWorkflowSignalUnblocksHandler(t *testing.T) {
	eng := inmem.New(nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, eng.RegisterWorkflow(ctx, bridge.WorkflowDefinition{
		Name: "await-signal",
		Handler: func(wctx bridge.WorkflowContext, _ any) (any, error) {
			var payload string
			if err := wctx.SignalChannel("go").Receive(wctx.Context(), &payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}))

	h, err := eng.StartWorkflow(ctx, bridge.WorkflowStartRequest{ID: "run-2", Workflow: "await-signal"})
	require.NoError(t, err)

	require.NoError(t, h.Signal(ctx, "go", "proceed"))

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	var result string
	require.NoError(t, h.Wait(waitCtx, &result))
	assert.Equal(t, "proceed", result)
}

func TestExecuteActivityReturnsHandlerResult(t *testing.T) {
	eng := inmem.New(nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, eng.RegisterActivity(ctx, bridge.ActivityDefinition{
		Name: "double",
		Handler: func(_ context.Context, input any) (any, error) {
			return input.(int) * 2, nil
		},
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, bridge.WorkflowDefinition{
		Name: "doubler",
		Handler: func(wctx bridge.WorkflowContext, input any) (any, error) {
			var out int
			err := wctx.ExecuteActivity(wctx.Context(), bridge.ActivityRequest{Name: "double", Input: input}, &out)
			return out, err
		},
	}))

	h, err := eng.StartWorkflow(ctx, bridge.WorkflowStartRequest{ID: "run-3", Workflow: "doubler", Input: 21})
	require.NoError(t, err)

	var result int
	require.NoError(t, h.Wait(ctx, &result))
	assert.Equal(t, 42, result)
}
