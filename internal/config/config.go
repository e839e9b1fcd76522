// Package config loads process configuration from environment variables,
// plus the static agent/tool-group registration manifest from YAML
// (spec.md §10.3). It is a library, not a command surface: the CLI layer
// that might wrap it is a named external collaborator, out of scope here.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the control plane's process-level configuration, loaded once
// at startup from environment variables.
type Config struct {
	// RPCAddr is the JSON-RPC listen address.
	RPCAddr string
	// GRPCAddr is reserved for the gRPC mirror's listen address; the
	// controlplane binary starts no listener on it.
	GRPCAddr string

	// StoreDriver selects the backing store for tasks, credentials, and
	// envelope keys: "memory" or "mongo".
	StoreDriver string
	// MongoURI is the connection string used when StoreDriver is "mongo".
	MongoURI string
	// MongoDatabase is the database name used when StoreDriver is "mongo".
	MongoDatabase string

	// ManifestPath points at the YAML manifest (see manifest.go) declaring
	// EEKs, DEK aliases, and static resource-server credentials.
	ManifestPath string

	// RotationTickInterval overrides the credential rotation loop's poll
	// interval (component D).
	RotationTickInterval time.Duration
	// RotationLookahead overrides how far ahead of now a credential's
	// next_rotation_time must fall to be refreshed this tick.
	RotationLookahead time.Duration
	// RotationPageSize bounds how many due credentials are fetched per
	// page during a rotation tick.
	RotationPageSize int

	// PushNotifyTimeout bounds a single push-notification HTTP POST.
	PushNotifyTimeout time.Duration
	// PushNotifyRatePerSecond caps outbound push-notification callback
	// throughput process-wide.
	PushNotifyRatePerSecond float64
	// PushNotifyBurst is the push-notification rate limiter's token
	// bucket size.
	PushNotifyBurst int

	// Engine selects the bridge.Engine backing the agent executor bridge
	// (component I): "inmem" or "temporal".
	Engine string
	// TemporalHostPort is the Temporal frontend address, used when Engine
	// is "temporal".
	TemporalHostPort string
	// TemporalNamespace is the Temporal namespace, used when Engine is
	// "temporal".
	TemporalNamespace string
	// TemporalTaskQueue is the default task queue workflows and activities
	// register against when Engine is "temporal".
	TemporalTaskQueue string

	// RedisAddr, when non-empty, enables the Pulse-backed distributed
	// event tap (component E's optional cross-process mirror): every
	// EventQueue mirrors Enqueue calls to a Redis stream so a
	// message/stream or tasks/resubscribe caller can tap a task from any
	// control-plane replica, not just the one producing its events.
	// Empty disables the tap; a single-process deployment needs it unset.
	RedisAddr string
}

// Load reads Config from environment variables, applying the documented
// defaults for anything unset.
func Load() Config {
	return Config{
		RPCAddr:       envOr("CONTROLPLANE_RPC_ADDR", ":8080"),
		GRPCAddr:      envOr("CONTROLPLANE_GRPC_ADDR", ":9090"),
		StoreDriver:   envOr("CONTROLPLANE_STORE_DRIVER", "memory"),
		MongoURI:      envOr("CONTROLPLANE_MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: envOr("CONTROLPLANE_MONGO_DATABASE", "controlplane"),
		ManifestPath:  envOr("CONTROLPLANE_MANIFEST_PATH", "manifest.yaml"),

		RotationTickInterval: envDurationOr("CONTROLPLANE_ROTATION_TICK_INTERVAL", 30*time.Second),
		RotationLookahead:    envDurationOr("CONTROLPLANE_ROTATION_LOOKAHEAD", 5*time.Minute),
		RotationPageSize:     envIntOr("CONTROLPLANE_ROTATION_PAGE_SIZE", 100),

		PushNotifyTimeout:       envDurationOr("CONTROLPLANE_PUSH_NOTIFY_TIMEOUT", 10*time.Second),
		PushNotifyRatePerSecond: envFloatOr("CONTROLPLANE_PUSH_NOTIFY_RATE", 50),
		PushNotifyBurst:         envIntOr("CONTROLPLANE_PUSH_NOTIFY_BURST", 10),

		Engine:            envOr("CONTROLPLANE_ENGINE", "inmem"),
		TemporalHostPort:  envOr("CONTROLPLANE_TEMPORAL_HOST_PORT", "localhost:7233"),
		TemporalNamespace: envOr("CONTROLPLANE_TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: envOr("CONTROLPLANE_TEMPORAL_TASK_QUEUE", "controlplane"),

		RedisAddr: envOr("CONTROLPLANE_REDIS_ADDR", ""),
	}
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
