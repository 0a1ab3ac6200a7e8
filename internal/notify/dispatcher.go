package notify

import (
	"context"
	"sync"

	"herdwatch/internal/metrics"

	"go.uber.org/zap"
)

// Sink 外部通知出口（Redis 转发、Redis Stream、Kafka、Webhook）
type Sink interface {
	Name() string
	Handle(ctx context.Context, n Notification) error
}

// Dispatcher 有界队列 + 固定 worker，把通知交给各 sink；队列满时丢弃，不阻塞调用方
type Dispatcher struct {
	queue   chan Notification
	sinks   []Sink
	workers int
	metrics *metrics.Metrics
	logger  *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDispatcher 创建分发器
func NewDispatcher(queueSize, workers int, m *metrics.Metrics, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		queue:   make(chan Notification, queueSize),
		sinks:   sinks,
		workers: workers,
		metrics: m,
		logger:  logger,
	}
}

// Sinks 已配置的 sink
func (d *Dispatcher) Sinks() []Sink {
	return d.sinks
}

// Dispatch 入队；没有 sink 时直接返回
func (d *Dispatcher) Dispatch(n Notification) bool {
	if len(d.sinks) == 0 {
		return false
	}
	select {
	case d.queue <- n:
		return true
	default:
		d.metrics.FanoutDropped("queue")
		d.logger.Warn("Notification queue full, dropped",
			zap.String("event_id", n.ID),
			zap.String("type", string(n.Type)),
		)
		return false
	}
}

// Start 启动 worker
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		d.cancel = cancel
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker(runCtx)
		}
		d.logger.Info("Notification dispatcher started",
			zap.Int("workers", d.workers),
			zap.Int("sinks", len(d.sinks)),
		)
	})
}

// Stop 停止 worker 并等待退出；队列中剩余的通知被丢弃
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	for _, s := range d.sinks {
		if err := s.Handle(ctx, n); err != nil {
			d.metrics.SinkError(s.Name())
			d.logger.Error("Failed to deliver notification",
				zap.String("sink", s.Name()),
				zap.String("event_id", n.ID),
				zap.String("type", string(n.Type)),
				zap.Error(err),
			)
		}
	}
}
