package notify

import (
	"context"

	"herdwatch/internal/models"

	"go.uber.org/zap"
)

// Fanout 本地 Hub 同步投递（不阻塞）+ 外部 sink 异步投递
type Fanout struct {
	hub        *Hub
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewFanout 创建 Fanout；dispatcher 可为 nil
func NewFanout(hub *Hub, dispatcher *Dispatcher, logger *zap.Logger) *Fanout {
	return &Fanout{
		hub:        hub,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// NotifyAlert 新告警推送到 farm:{id} 和 animal:{id}
func (f *Fanout) NotifyAlert(_ context.Context, alert models.AlertView) {
	n, err := NewNotification(EventNewAlert, alert, FarmTopic(alert.FarmID), AnimalTopic(alert.AnimalID))
	if err != nil {
		f.logger.Error("Failed to build alert notification",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
		return
	}
	f.publish(n)
}

// PublishLocation 位置更新推送到 animal:{id} 和 farm:{id}
func (f *Fanout) PublishLocation(_ context.Context, update models.LocationUpdate) {
	n, err := NewNotification(EventLocationUpdate, update, AnimalTopic(update.AnimalID), FarmTopic(update.FarmID))
	if err != nil {
		f.logger.Error("Failed to build location notification",
			zap.Int64("animal_id", update.AnimalID),
			zap.Error(err),
		)
		return
	}
	f.publish(n)
}

func (f *Fanout) publish(n Notification) {
	delivered := f.hub.PublishNotification(n)
	f.logger.Debug("Notification published",
		zap.String("type", string(n.Type)),
		zap.Strings("topics", n.Topics),
		zap.Int("delivered", delivered),
	)
	if f.dispatcher != nil {
		f.dispatcher.Dispatch(n)
	}
}
