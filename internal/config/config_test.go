package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentbridge/control-plane/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := config.Load()
	assert.Equal(t, ":8080", cfg.RPCAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 30*time.Second, cfg.RotationTickInterval)
	assert.Equal(t, 5*time.Minute, cfg.RotationLookahead)
	assert.Equal(t, 100, cfg.RotationPageSize)
	assert.Equal(t, "inmem", cfg.Engine)
	assert.Equal(t, "controlplane", cfg.TemporalTaskQueue)
	assert.Equal(t, 50.0, cfg.PushNotifyRatePerSecond)
	assert.Equal(t, 10, cfg.PushNotifyBurst)
	assert.Equal(t, "", cfg.RedisAddr)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("CONTROLPLANE_RPC_ADDR", ":1234")
	t.Setenv("CONTROLPLANE_STORE_DRIVER", "mongo")
	t.Setenv("CONTROLPLANE_ROTATION_TICK_INTERVAL", "1s")
	t.Setenv("CONTROLPLANE_ROTATION_PAGE_SIZE", "7")
	t.Setenv("CONTROLPLANE_ENGINE", "temporal")
	t.Setenv("CONTROLPLANE_PUSH_NOTIFY_RATE", "200")
	t.Setenv("CONTROLPLANE_PUSH_NOTIFY_BURST", "20")
	t.Setenv("CONTROLPLANE_REDIS_ADDR", "localhost:6379")

	cfg := config.Load()
	assert.Equal(t, ":1234", cfg.RPCAddr)
	assert.Equal(t, "mongo", cfg.StoreDriver)
	assert.Equal(t, time.Second, cfg.RotationTickInterval)
	assert.Equal(t, 7, cfg.RotationPageSize)
	assert.Equal(t, "temporal", cfg.Engine)
	assert.Equal(t, 200.0, cfg.PushNotifyRatePerSecond)
	assert.Equal(t, 20, cfg.PushNotifyBurst)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}
