package push_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/push"
)

func TestNotifyDeliversToSuccessfulCallback(t *testing.T) {
	var got types.Task
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := push.New(srv.Client(), nil, nil)
	task := &types.Task{ID: "t1", Status: types.TaskStatus{State: types.TaskCompleted}}
	cfg := &types.PushNotificationConfig{ID: "c1", TaskID: "t1", URL: srv.URL}

	n.Notify(t.Context(), task, []*types.PushNotificationConfig{cfg})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, time.Millisecond*5)
	assert.Equal(t, "t1", got.ID)
}

func TestNotifyDoesNotRetryOn4xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := push.New(srv.Client(), nil, nil)
	task := &types.Task{ID: "t1", Status: types.TaskStatus{State: types.TaskCompleted}}
	cfg := &types.PushNotificationConfig{ID: "c1", TaskID: "t1", URL: srv.URL}

	n.Notify(t.Context(), task, []*types.PushNotificationConfig{cfg})

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestNotifyRetriesOn429(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := push.New(srv.Client(), nil, nil)
	task := &types.Task{ID: "t1", Status: types.TaskStatus{State: types.TaskCompleted}}
	cfg := &types.PushNotificationConfig{ID: "c1", TaskID: "t1", URL: srv.URL}

	n.Notify(t.Context(), task, []*types.PushNotificationConfig{cfg})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) >= 2 }, time.Second, time.Millisecond*5)
}

func TestWithRateLimitStillDeliversEveryCallback(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := push.New(srv.Client(), nil, nil).WithRateLimit(1000, 1)
	task := &types.Task{ID: "t1", Status: types.TaskStatus{State: types.TaskCompleted}}
	configs := []*types.PushNotificationConfig{
		{ID: "c1", TaskID: "t1", URL: srv.URL},
		{ID: "c2", TaskID: "t1", URL: srv.URL},
		{ID: "c3", TaskID: "t1", URL: srv.URL},
	}

	n.Notify(t.Context(), task, configs)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 3 }, time.Second, time.Millisecond*5)
}
