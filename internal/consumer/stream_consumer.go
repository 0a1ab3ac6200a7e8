package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	rediscommon "herdwatch/common/redis"
	"herdwatch/internal/ingestion"
	"herdwatch/internal/metrics"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	defaultBatchSize = 10
	defaultBlock     = 2 * time.Second
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
)

// StreamConsumer Redis Streams 遥测消费者（消费者组）
type StreamConsumer struct {
	client    *redis.Client
	stream    string
	group     string
	consumer  string
	batchSize int64
	block     time.Duration
	ingester  Ingester
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// retryPending 为 true 时先重读本消费者的 pending 消息，读空后再读新消息
	retryPending bool
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	client *redis.Client,
	stream, group, consumer string,
	ingester Ingester,
	m *metrics.Metrics,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		client:    client,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		batchSize: defaultBatchSize,
		block:     defaultBlock,
		ingester:  ingester,
		metrics:   m,
		logger:    logger,

		retryPending: true,
	}
}

// Start 创建消费者组并循环消费，读取失败时指数退避
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.client, c.stream, c.group); err != nil {
		return err
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.group),
		zap.String("consumer_name", c.consumer),
	)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume telemetry stream",
				zap.String("stream", c.stream),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = initialBackoff
	}
}

// consumeOnce 读取一批消息并处理，返回已确认的条数
// 有消息因存储失败留在 pending 时返回 ErrStorage，由 Start 退避后重读
func (c *StreamConsumer) consumeOnce(ctx context.Context) (int, error) {
	messages, err := c.read(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream %s: %w", c.stream, err)
	}

	var ack []string
	for _, msg := range messages {
		if c.handle(ctx, msg) {
			ack = append(ack, msg.ID)
		}
	}
	if err := rediscommon.AckMessage(ctx, c.client, c.stream, c.group, ack...); err != nil {
		return 0, fmt.Errorf("failed to ack messages: %w", err)
	}

	if left := len(messages) - len(ack); left > 0 {
		c.retryPending = true
		return len(ack), fmt.Errorf("%w: %d message(s) left pending on %s", ingestion.ErrStorage, left, c.stream)
	}
	return len(ack), nil
}

func (c *StreamConsumer) read(ctx context.Context) ([]rediscommon.StreamMessage, error) {
	if c.retryPending {
		messages, err := rediscommon.ReadPendingFromStream(ctx, c.client, c.stream, c.group, c.consumer, c.batchSize)
		if err != nil {
			return nil, err
		}
		if len(messages) > 0 {
			return messages, nil
		}
		c.retryPending = false
	}
	return rediscommon.ReadFromStream(ctx, c.client, c.stream, c.group, c.consumer, c.batchSize, c.block)
}

// handle 处理单条消息，返回是否应确认
// 存储失败的消息保留在 pending 列表，其余（含非法数据）都确认
func (c *StreamConsumer) handle(ctx context.Context, msg rediscommon.StreamMessage) bool {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		c.metrics.IngestRejected("decode")
		c.logger.Warn("Stream message without data field",
			zap.String("message_id", msg.ID),
		)
		return true
	}

	reading, err := decodeReading([]byte(raw))
	if err != nil {
		c.metrics.IngestRejected("decode")
		c.logger.Warn("Failed to decode stream message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return true
	}

	if _, err := c.ingester.Ingest(ctx, reading); err != nil {
		if errors.Is(err, ingestion.ErrStorage) {
			c.logger.Error("Failed to ingest stream message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			return false
		}
		c.logger.Warn("Rejected stream message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	return true
}
