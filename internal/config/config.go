package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"herdwatch/common/config"
)

// 告警锁后端
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// Config 牲畜监测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	Kafka    config.KafkaConfig

	HTTP struct {
		Addr            string
		ShutdownTimeout time.Duration
	}

	// 遥测接入
	Ingest struct {
		Timeout     time.Duration // 单次接入超时，默认 10s
		MQTTEnabled bool
		MQTTTopic   string // 订阅主题，默认 tracker/+/data

		// Redis Stream 接入（可选）
		StreamEnabled  bool
		Stream         string
		StreamGroup    string
		StreamConsumer string
	}

	// 告警
	Alert struct {
		DedupHours  int    // 去重窗口（小时），默认 24
		LockBackend string // memory | redis
		LockTTL     time.Duration
	}

	// 繁育扫描
	Breeding struct {
		Enabled  bool
		Interval time.Duration // 默认 4h
	}

	// 实时推送与外部通知
	Notify struct {
		QueueSize     int
		Workers       int
		SubscriberBuf int

		RelayEnabled bool
		RelayChannel string

		AlertStreamEnabled bool
		AlertStream        string
		AlertStreamMaxLen  int64

		WebhookURL     string
		WebhookTimeout time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "herdwatch"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5
	cfg.Database.ConnectRetries = 3
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.DialTimeout = 5 * time.Second
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "herdwatch"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Kafka.Acks = 1
	cfg.Kafka.LoadFromEnv("KAFKA")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTP.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg.Ingest.Timeout = getEnvDuration("INGEST_TIMEOUT", 10*time.Second)
	cfg.Ingest.MQTTEnabled = getEnvBool("MQTT_ENABLED", true)
	cfg.Ingest.MQTTTopic = getEnv("MQTT_TOPIC", "tracker/+/data")
	cfg.Ingest.StreamEnabled = getEnvBool("INGEST_STREAM_ENABLED", false)
	cfg.Ingest.Stream = getEnv("INGEST_STREAM", "herdwatch:telemetry:stream")
	cfg.Ingest.StreamGroup = getEnv("INGEST_STREAM_GROUP", "herdwatch-ingest")
	cfg.Ingest.StreamConsumer = getEnv("INGEST_STREAM_CONSUMER", hostnameOr("herdwatch-1"))

	cfg.Alert.DedupHours = getEnvInt("ALERT_DEDUP_HOURS", 24)
	cfg.Alert.LockBackend = strings.ToLower(getEnv("ALERT_LOCK_BACKEND", LockBackendMemory))
	cfg.Alert.LockTTL = getEnvDuration("ALERT_LOCK_TTL", 5*time.Second)

	cfg.Breeding.Enabled = getEnvBool("BREEDING_SCAN_ENABLED", true)
	cfg.Breeding.Interval = getEnvDuration("BREEDING_SCAN_INTERVAL", 4*time.Hour)

	cfg.Notify.QueueSize = getEnvInt("NOTIFY_QUEUE_SIZE", 1024)
	cfg.Notify.Workers = getEnvInt("NOTIFY_WORKERS", 4)
	cfg.Notify.SubscriberBuf = getEnvInt("NOTIFY_SUBSCRIBER_BUFFER", 64)
	cfg.Notify.RelayEnabled = getEnvBool("NOTIFY_RELAY_ENABLED", false)
	cfg.Notify.RelayChannel = getEnv("NOTIFY_RELAY_CHANNEL", "herdwatch:events")
	cfg.Notify.AlertStreamEnabled = getEnvBool("ALERT_STREAM_ENABLED", false)
	cfg.Notify.AlertStream = getEnv("ALERT_STREAM", "herdwatch:alerts:stream")
	cfg.Notify.AlertStreamMaxLen = int64(getEnvInt("ALERT_STREAM_MAXLEN", 10000))
	cfg.Notify.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	cfg.Notify.WebhookTimeout = getEnvDuration("ALERT_WEBHOOK_TIMEOUT", 5*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Ingest.Timeout <= 0 {
		return fmt.Errorf("INGEST_TIMEOUT must be positive")
	}
	if c.Alert.DedupHours <= 0 {
		return fmt.Errorf("ALERT_DEDUP_HOURS must be positive")
	}
	switch c.Alert.LockBackend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("unknown ALERT_LOCK_BACKEND: %q", c.Alert.LockBackend)
	}
	if c.Breeding.Enabled && c.Breeding.Interval <= 0 {
		return fmt.Errorf("BREEDING_SCAN_INTERVAL must be positive")
	}
	if c.Notify.QueueSize <= 0 || c.Notify.Workers <= 0 || c.Notify.SubscriberBuf <= 0 {
		return fmt.Errorf("notify queue size, workers and subscriber buffer must be positive")
	}
	return nil
}

// NeedsRedis 是否有组件依赖 Redis
func (c *Config) NeedsRedis() bool {
	return c.Alert.LockBackend == LockBackendRedis ||
		c.Notify.RelayEnabled ||
		c.Notify.AlertStreamEnabled ||
		c.Ingest.StreamEnabled
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
