package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType 推送事件类型
type EventType string

const (
	EventLocationUpdate EventType = "LocationUpdate"
	EventNewAlert       EventType = "NewAlert"
)

// 主题前缀
const (
	TopicFarm   = "farm"
	TopicAnimal = "animal"
)

// Event 推送给订阅者的单条消息
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notification 一次通知，投递到多个主题；外部 sink 与跨实例转发以此为单位
type Notification struct {
	Event
	Topics []string `json:"topics"`
	Origin string   `json:"origin,omitempty"` // 产生通知的实例 ID
}

// NewNotification 构造通知（payload 序列化为 JSON）
func NewNotification(typ EventType, payload any, topics ...string) (Notification, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Notification{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return Notification{
		Event: Event{
			ID:        uuid.NewString(),
			Type:      typ,
			Payload:   data,
			Timestamp: time.Now().UTC(),
		},
		Topics: topics,
	}, nil
}

// EventFor 取某个主题上的事件
func (n Notification) EventFor(topic string) Event {
	ev := n.Event
	ev.Topic = topic
	return ev
}

// FarmTopic farm:{id}
func FarmTopic(farmID int64) string {
	return fmt.Sprintf("%s:%d", TopicFarm, farmID)
}

// AnimalTopic animal:{id}
func AnimalTopic(animalID int64) string {
	return fmt.Sprintf("%s:%d", TopicAnimal, animalID)
}

// ParseTopic 解析 "farm:1" / "animal:7"
func ParseTopic(topic string) (kind string, id int64, err error) {
	parts := strings.SplitN(topic, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("invalid topic: %q", topic)
	}
	switch parts[0] {
	case TopicFarm, TopicAnimal:
	default:
		return "", 0, fmt.Errorf("unknown topic kind: %q", parts[0])
	}
	id, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("invalid topic id: %q", topic)
	}
	return parts[0], id, nil
}
