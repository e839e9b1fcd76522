package rpcserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/a2a/rpcserver"
	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/apierr"
)

type fakeHandler struct {
	sendResult types.SendMessageResult
	sendErr    error
	getTask    *types.Task
	getErr     error
	stream     chan types.Event
	streamErr  error
}

func (f *fakeHandler) OnMessageSend(context.Context, types.MessageSendParams) (types.SendMessageResult, error) {
	return f.sendResult, f.sendErr
}
func (f *fakeHandler) OnMessageSendStream(context.Context, types.MessageSendParams) (<-chan types.Event, error) {
	return f.stream, f.streamErr
}
func (f *fakeHandler) OnGetTask(context.Context, types.TaskQueryParams) (*types.Task, error) {
	return f.getTask, f.getErr
}
func (f *fakeHandler) OnCancelTask(context.Context, types.TaskIDParams) (*types.Task, error) {
	return f.getTask, f.getErr
}
func (f *fakeHandler) OnResubscribeToTask(context.Context, types.TaskIDParams) (<-chan types.Event, error) {
	return f.stream, f.streamErr
}
func (f *fakeHandler) OnSetPushNotificationConfig(_ context.Context, cfg types.PushNotificationConfig) (*types.PushNotificationConfig, error) {
	return &cfg, nil
}
func (f *fakeHandler) OnGetPushNotificationConfig(context.Context, string, string) (*types.PushNotificationConfig, error) {
	return nil, nil
}
func (f *fakeHandler) OnListPushNotificationConfig(context.Context, string) (types.ListPushNotificationConfigResult, error) {
	return types.ListPushNotificationConfigResult{}, nil
}
func (f *fakeHandler) OnDeletePushNotificationConfig(context.Context, string, string) error {
	return nil
}

func doRPC(t *testing.T, srv http.Handler, method string, params any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestMessageSendReturnsResult(t *testing.T) {
	fh := &fakeHandler{sendResult: types.SendMessageResult{Task: &types.Task{ID: "task-1"}}}
	srv := rpcserver.New(fh, nil)

	rec := doRPC(t, srv, "message/send", types.MessageSendParams{})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Result types.SendMessageResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result.Task)
	assert.Equal(t, "task-1", resp.Result.Task.ID)
}

func TestGetTaskMapsNotFoundToRPCError(t *testing.T) {
	fh := &fakeHandler{getErr: apierr.New(apierr.TaskNotFound, "no such task")}
	srv := rpcserver.New(fh, nil)

	rec := doRPC(t, srv, "tasks/get", types.TaskQueryParams{ID: "missing"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32001, resp.Error.Code)
}

func TestUnknownMethodReturnsInvalidParamsError(t *testing.T) {
	fh := &fakeHandler{}
	srv := rpcserver.New(fh, nil)

	rec := doRPC(t, srv, "tasks/frobnicate", nil)

	var resp struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

func TestMessageStreamUpgradesToSSE(t *testing.T) {
	ch := make(chan types.Event, 1)
	ch <- types.StatusUpdateEvent("ctx-1", "task-1", types.TaskStatus{State: types.TaskCompleted}, true)
	close(ch)
	fh := &fakeHandler{stream: ch}
	srv := rpcserver.New(fh, nil)

	rec := doRPC(t, srv, "message/stream", types.MessageSendParams{})
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: message")
}
