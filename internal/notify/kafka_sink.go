package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"herdwatch/common/config"
	"herdwatch/internal/models"

	"github.com/segmentio/kafka-go"
)

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 新告警写入 Kafka（key = animal id，同一牲畜的告警落在同一分区）
type KafkaSink struct {
	writer kafkaMessageWriter
	topic  string
}

// NewKafkaSink 创建 Kafka sink
func NewKafkaSink(cfg config.KafkaConfig) (*KafkaSink, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		AllowAutoTopicCreation: false,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           5 * time.Second,
	}
	return newKafkaSinkWithWriter(w, cfg.Topic), nil
}

func newKafkaSinkWithWriter(w kafkaMessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

// Name sink 名称
func (k *KafkaSink) Name() string { return "kafka" }

// Handle 只处理 NewAlert
func (k *KafkaSink) Handle(ctx context.Context, n Notification) error {
	if n.Type != EventNewAlert {
		return nil
	}

	var alert models.AlertView
	if err := json.Unmarshal(n.Payload, &alert); err != nil {
		return fmt.Errorf("failed to decode alert payload: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(alert.AnimalID, 10)),
		Value: n.Payload,
		Time:  n.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(n.ID)},
			{Key: "kind", Value: []byte(alert.Kind)},
			{Key: "severity", Value: []byte(alert.Severity)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write alert to kafka topic %s: %w", k.topic, err)
	}
	return nil
}

// Close 关闭 writer
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
