package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisRelay 通过 Redis Pub/Sub 在多个实例之间转发通知
// 本实例产生的通知发布到频道；收到其他实例的通知后投递到本地 Hub（不再进入 Dispatcher）
type RedisRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	hub        *Hub
	logger     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisRelay 创建转发器
func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		hub:        hub,
		logger:     logger,
	}
}

// Name sink 名称
func (r *RedisRelay) Name() string { return "redis_relay" }

// InstanceID 本实例 ID
func (r *RedisRelay) InstanceID() string { return r.instanceID }

// Handle 发布本实例产生的通知
func (r *RedisRelay) Handle(ctx context.Context, n Notification) error {
	if n.Origin != "" && n.Origin != r.instanceID {
		return nil
	}
	n.Origin = r.instanceID

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}
	return nil
}

// Start 订阅频道；订阅确认后返回
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe %s: %w", r.channel, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.receive(msg.Payload)
			}
		}
	}()

	r.logger.Info("Redis relay started",
		zap.String("channel", r.channel),
		zap.String("instance_id", r.instanceID),
	)
	return nil
}

// Stop 停止订阅
func (r *RedisRelay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *RedisRelay) receive(payload string) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		r.logger.Warn("Failed to decode relayed notification", zap.Error(err))
		return
	}
	if n.Origin == r.instanceID {
		return
	}
	r.hub.PublishNotification(n)
}
