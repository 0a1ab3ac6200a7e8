package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"herdwatch/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookPayload Webhook 请求体
type WebhookPayload struct {
	EventID   string           `json:"event_id"`
	Timestamp time.Time        `json:"timestamp"`
	Alert     models.AlertView `json:"alert"`
}

// WebhookSink 高级别告警 POST 到外部 Webhook
type WebhookSink struct {
	url        string
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewWebhookSink 创建 Webhook sink
func NewWebhookSink(url string, timeout time.Duration, logger *zap.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookSink{
		url:        url,
		httpClient: client,
		logger:     logger,
	}
}

// Name sink 名称
func (w *WebhookSink) Name() string { return "webhook" }

// Handle 只处理 High 级别的 NewAlert
func (w *WebhookSink) Handle(ctx context.Context, n Notification) error {
	if n.Type != EventNewAlert {
		return nil
	}

	var alert models.AlertView
	if err := json.Unmarshal(n.Payload, &alert); err != nil {
		return fmt.Errorf("failed to decode alert payload: %w", err)
	}
	if alert.Severity != models.SeverityHigh {
		return nil
	}

	resp, err := w.httpClient.R().
		SetContext(ctx).
		SetBody(WebhookPayload{EventID: n.ID, Timestamp: n.Timestamp, Alert: alert}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	w.logger.Debug("Alert delivered to webhook",
		zap.String("alert_id", alert.ID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
