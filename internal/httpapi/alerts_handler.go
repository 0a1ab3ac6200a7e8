package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"herdwatch/internal/models"
	"herdwatch/internal/report"

	"go.uber.org/zap"
)

const defaultExportWindow = 30 * 24 * time.Hour

// AlertService 告警查询与状态流转（alerting.Service 实现）
type AlertService interface {
	ActiveAlerts(ctx context.Context, farmID int64) ([]models.AlertView, error)
	CriticalAlerts(ctx context.Context, farmID int64) ([]models.AlertView, error)
	UnreadCount(ctx context.Context, farmID int64) (int, error)
	AnimalAlerts(ctx context.Context, animalID int64, onlyActive bool) ([]models.AlertView, error)
	FarmAlerts(ctx context.Context, farmID int64, since time.Time) ([]models.AlertView, error)
	MarkRead(ctx context.Context, alertID string) (bool, error)
	Resolve(ctx context.Context, alertID string) (bool, error)
}

// AlertsHandler 告警接口
type AlertsHandler struct {
	alerts AlertService
	logger *zap.Logger
	now    func() time.Time
}

func NewAlertsHandler(alerts AlertService, logger *zap.Logger) *AlertsHandler {
	return &AlertsHandler{alerts: alerts, logger: logger, now: time.Now}
}

// FarmActive GET /api/alerts/farm/{id}
func (h *AlertsHandler) FarmActive(w http.ResponseWriter, r *http.Request) {
	h.listForFarm(w, r, h.alerts.ActiveAlerts)
}

// FarmCritical GET /api/alerts/farm/{id}/critical
func (h *AlertsHandler) FarmCritical(w http.ResponseWriter, r *http.Request) {
	h.listForFarm(w, r, h.alerts.CriticalAlerts)
}

func (h *AlertsHandler) listForFarm(w http.ResponseWriter, r *http.Request, list func(context.Context, int64) ([]models.AlertView, error)) {
	farmID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	alerts, err := list(r.Context(), farmID)
	if err != nil {
		h.logger.Error("Failed to list alerts", zap.Int64("farm_id", farmID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, Ok(nonNil(alerts)))
}

// FarmUnreadCount GET /api/alerts/farm/{id}/unread-count
func (h *AlertsHandler) FarmUnreadCount(w http.ResponseWriter, r *http.Request) {
	farmID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.alerts.UnreadCount(r.Context(), farmID)
	if err != nil {
		h.logger.Error("Failed to count unread alerts", zap.Int64("farm_id", farmID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count alerts")
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]int{"count": n}))
}

// FarmExport GET /api/alerts/farm/{id}/export?since=（RFC3339，默认 30 天）
func (h *AlertsHandler) FarmExport(w http.ResponseWriter, r *http.Request) {
	farmID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since, err := parseTimeQuery(r, "since", h.now().UTC().Add(-defaultExportWindow))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	alerts, err := h.alerts.FarmAlerts(r.Context(), farmID, since)
	if err != nil {
		h.logger.Error("Failed to load alerts for export", zap.Int64("farm_id", farmID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export alerts")
		return
	}
	data, err := report.GenerateAlertExport(alerts)
	if err != nil {
		h.logger.Error("Failed to generate alert export", zap.Int64("farm_id", farmID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export alerts")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=farm-%d-alerts.xlsx", farmID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// AnimalAlerts GET /api/alerts/animal/{id}?onlyActive=true
func (h *AlertsHandler) AnimalAlerts(w http.ResponseWriter, r *http.Request) {
	animalID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	onlyActive := parseBool(r.URL.Query().Get("onlyActive"), false)
	alerts, err := h.alerts.AnimalAlerts(r.Context(), animalID, onlyActive)
	if err != nil {
		h.logger.Error("Failed to list animal alerts", zap.Int64("animal_id", animalID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, Ok(nonNil(alerts)))
}

// MarkRead PUT /api/alerts/{id}/read（未知 id 不报错，changed=false）
func (h *AlertsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "read", h.alerts.MarkRead)
}

// Resolve PUT /api/alerts/{id}/resolve
func (h *AlertsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resolve", h.alerts.Resolve)
}

func (h *AlertsHandler) transition(w http.ResponseWriter, r *http.Request, action string, apply func(context.Context, string) (bool, error)) {
	alertID := r.PathValue("id")
	changed, err := apply(r.Context(), alertID)
	if err != nil {
		h.logger.Error("Failed to update alert",
			zap.String("alert_id", alertID),
			zap.String("action", action),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to update alert")
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]bool{"changed": changed}))
}

func nonNil(alerts []models.AlertView) []models.AlertView {
	if alerts == nil {
		return []models.AlertView{}
	}
	return alerts
}
