package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "herdwatch", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.False(t, cfg.Kafka.Enabled())

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.Ingest.Timeout)
	assert.Equal(t, "tracker/+/data", cfg.Ingest.MQTTTopic)
	assert.Equal(t, 24, cfg.Alert.DedupHours)
	assert.Equal(t, LockBackendMemory, cfg.Alert.LockBackend)
	assert.Equal(t, 4*time.Hour, cfg.Breeding.Interval)
	assert.Equal(t, "herdwatch:events", cfg.Notify.RelayChannel)
	assert.Equal(t, "herdwatch:alerts:stream", cfg.Notify.AlertStream)
	assert.Equal(t, "", cfg.Notify.WebhookURL)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.NeedsRedis())
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "pg.internal")
	t.Setenv("DB_NAME", "ranch")
	t.Setenv("INGEST_TIMEOUT", "3s")
	t.Setenv("ALERT_LOCK_BACKEND", "Redis")
	t.Setenv("BREEDING_SCAN_INTERVAL", "30m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_TOPIC", "herd-alerts")
	t.Setenv("MQTT_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pg.internal", cfg.Database.Host)
	assert.Equal(t, "ranch", cfg.Database.Database)
	assert.Equal(t, 3*time.Second, cfg.Ingest.Timeout)
	assert.Equal(t, LockBackendRedis, cfg.Alert.LockBackend)
	assert.Equal(t, 30*time.Minute, cfg.Breeding.Interval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.Ingest.MQTTEnabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.NeedsRedis())
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("ALERT_DEDUP_HOURS", "many")
	t.Setenv("INGEST_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.Alert.DedupHours)
	assert.Equal(t, 10*time.Second, cfg.Ingest.Timeout)
}

func TestLoad_UnknownLockBackend(t *testing.T) {
	t.Setenv("ALERT_LOCK_BACKEND", "etcd")

	_, err := Load()
	assert.Error(t, err)
}
