// Package grpcbridge translates between the A2A JSON-RPC wire shapes and
// their gRPC mirror: resource names (spec.md §6.2) and struct-valued
// metadata fields.
package grpcbridge

import "strings"

// TaskResourceName builds the gRPC resource name for a task: "tasks/{id}".
func TaskResourceName(taskID string) string {
	return "tasks/" + taskID
}

// PushNotificationConfigResourceName builds the gRPC resource name for a
// task's push-notification config:
// "tasks/{id}/pushNotificationConfigs/{config_id}".
func PushNotificationConfigResourceName(taskID, configID string) string {
	return "tasks/" + taskID + "/pushNotificationConfigs/" + configID
}

// ParseTaskResourceName extracts the task id from a "tasks/{id}" resource
// name by returning its trailing "/"-separated segment. The prefix is not
// checked: any name yields its last segment, and a name with no "/" comes
// back whole.
func ParseTaskResourceName(name string) string {
	segments := strings.Split(name, "/")
	return segments[len(segments)-1]
}

// ParsePushNotificationConfigResourceName extracts the task id and config
// id from a "tasks/{id}/pushNotificationConfigs/{config_id}" resource
// name. It validates that segment 0 is "tasks" and segment 2 is
// "pushNotificationConfigs"; on any mismatch it falls back to treating
// the whole name as the config id with an empty task id, per spec.md
// §6.2.
func ParsePushNotificationConfigResourceName(name string) (taskID, configID string) {
	segments := strings.Split(name, "/")
	if len(segments) == 4 && segments[0] == "tasks" && segments[2] == "pushNotificationConfigs" {
		return segments[1], segments[3]
	}
	return "", name
}
