package consumer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	mqttcommon "herdwatch/common/mqtt"
	"herdwatch/internal/ingestion"
	"herdwatch/internal/metrics"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 订阅 tracker/{device_id}/data，逐条交给接入服务
type MQTTConsumer struct {
	client   Subscriber
	topic    string
	qos      byte
	ingester Ingester
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu      sync.RWMutex
	baseCtx context.Context
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(client Subscriber, topic string, qos byte, ingester Ingester, m *metrics.Metrics, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		client:   client,
		topic:    topic,
		qos:      qos,
		ingester: ingester,
		metrics:  m,
		logger:   logger,
		baseCtx:  context.Background(),
	}
}

// Start 订阅主题并阻塞到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	if err := c.client.Subscribe(c.topic, c.qos, c.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", c.topic),
		zap.Uint8("qos", c.qos),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() {
	if err := c.client.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("MQTT consumer stopped")
}

// HandleMessage 处理一条MQTT消息
// 主题格式: tracker/{device_id}/data，主题里的设备号优先于负载里的 device_id
func (c *MQTTConsumer) HandleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	deviceID, err := deviceFromTopic(topic)
	if err != nil {
		c.metrics.IngestRejected("topic")
		return err
	}

	reading, err := decodeReading(payload)
	if err != nil {
		c.metrics.IngestRejected("decode")
		return err
	}
	reading.DeviceID = deviceID

	c.mu.RLock()
	ctx := c.baseCtx
	c.mu.RUnlock()

	outcome, err := c.ingester.Ingest(ctx, reading)
	if err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}
	if outcome.Status == ingestion.StatusAccepted {
		c.logger.Debug("Telemetry accepted",
			zap.String("device_id", deviceID),
			zap.Int64("sample_id", outcome.SampleID),
		)
	}
	return nil
}

func deviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}
