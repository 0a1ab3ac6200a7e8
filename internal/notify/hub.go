package notify

import (
	"sync"

	"herdwatch/internal/metrics"

	"go.uber.org/zap"
)

// Hub 按主题维护订阅并分发事件；Publish 不阻塞，订阅者缓冲满时丢弃
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Subscription]struct{}
	subs    map[*Subscription]struct{}
	buffer  int
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Subscription 一个订阅者（通常对应一个 websocket 连接）
type Subscription struct {
	hub    *Hub
	ch     chan Event
	topics map[string]struct{}
	closed bool
}

// NewHub 创建 Hub；buffer 为每个订阅者的缓冲大小
func NewHub(buffer int, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		topics:  make(map[string]map[*Subscription]struct{}),
		subs:    make(map[*Subscription]struct{}),
		buffer:  buffer,
		metrics: m,
		logger:  logger,
	}
}

// Subscribe 创建订阅并加入初始主题
func (h *Hub) Subscribe(topics ...string) (*Subscription, error) {
	s := &Subscription{
		hub:    h,
		ch:     make(chan Event, h.buffer),
		topics: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	for _, t := range topics {
		if err := s.Join(t); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Publish 投递到主题下所有订阅者，返回成功投递数
func (h *Hub) Publish(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.topics[ev.Topic] {
		select {
		case s.ch <- ev:
			delivered++
		default:
			h.metrics.FanoutDropped("subscriber")
			h.logger.Debug("Subscriber buffer full, event dropped",
				zap.String("topic", ev.Topic),
				zap.String("event_id", ev.ID),
			)
		}
	}
	return delivered
}

// PublishNotification 按通知的每个主题投递
func (h *Hub) PublishNotification(n Notification) int {
	delivered := 0
	for _, topic := range n.Topics {
		delivered += h.Publish(n.EventFor(topic))
	}
	return delivered
}

// SubscriberCount 主题下的订阅者数量
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close 关闭全部订阅
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// C 事件通道；订阅关闭后被关闭
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Join 加入主题
func (s *Subscription) Join(topic string) error {
	if _, _, err := ParseTopic(topic); err != nil {
		return err
	}

	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.closed {
		return nil
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.topics[topic] = set
	}
	set[s] = struct{}{}
	s.topics[topic] = struct{}{}
	return nil
}

// Leave 离开主题；未加入时无操作
func (s *Subscription) Leave(topic string) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	s.leaveLocked(topic)
}

func (s *Subscription) leaveLocked(topic string) {
	h := s.hub
	if set, ok := h.topics[topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(s.topics, topic)
}

// Topics 当前订阅的主题
func (s *Subscription) Topics() []string {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// Close 退订全部主题并关闭事件通道；可重复调用
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for t := range s.topics {
		s.leaveLocked(t)
	}
	delete(h.subs, s)
	close(s.ch)
}
