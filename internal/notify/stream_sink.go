package notify

import (
	"context"
	"fmt"

	commonredis "herdwatch/common/redis"

	"github.com/go-redis/redis/v8"
)

// StreamSink 新告警追加到 Redis Stream，供下游服务消费
type StreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamSink 创建 Stream sink
func NewStreamSink(client *redis.Client, stream string, maxLen int64) *StreamSink {
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Name sink 名称
func (s *StreamSink) Name() string { return "alert_stream" }

// Handle 只处理 NewAlert
func (s *StreamSink) Handle(ctx context.Context, n Notification) error {
	if n.Type != EventNewAlert {
		return nil
	}
	_, err := commonredis.PublishToStream(ctx, s.client, s.stream, s.maxLen, map[string]interface{}{
		"event_id":  n.ID,
		"type":      string(n.Type),
		"data":      []byte(n.Payload),
		"timestamp": n.Timestamp.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to append alert to %s: %w", s.stream, err)
	}
	return nil
}
