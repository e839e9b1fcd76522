package grpcbridge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentbridge/control-plane/internal/a2a/grpcbridge"
)

func TestTaskResourceNameRoundTrip(t *testing.T) {
	name := grpcbridge.TaskResourceName("task-1")
	assert.Equal(t, "tasks/task-1", name)
	assert.Equal(t, "task-1", grpcbridge.ParseTaskResourceName(name))
}

func TestPushNotificationConfigResourceNameRoundTrip(t *testing.T) {
	name := grpcbridge.PushNotificationConfigResourceName("task-1", "config-1")
	assert.Equal(t, "tasks/task-1/pushNotificationConfigs/config-1", name)

	taskID, configID := grpcbridge.ParsePushNotificationConfigResourceName(name)
	assert.Equal(t, "task-1", taskID)
	assert.Equal(t, "config-1", configID)
}

func TestParsePushNotificationConfigResourceNameFallsBackOnMismatch(t *testing.T) {
	taskID, configID := grpcbridge.ParsePushNotificationConfigResourceName("not-a-resource-name")
	assert.Empty(t, taskID)
	assert.Equal(t, "not-a-resource-name", configID)
}
