package httpapi

import (
	"net/http"

	"herdwatch/internal/metrics"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（方法 + 路径参数模式）
type Router struct {
	mux     *http.ServeMux
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRouter(m *metrics.Metrics, logger *zap.Logger) *Router {
	return &Router{
		mux:     http.NewServeMux(),
		metrics: m,
		logger:  logger,
	}
}

// Handle 注册路由，pattern 同时作为指标的 route 标签
func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.Handle(pattern, r.metrics.WrapHandler(pattern, h))
}

// HandleHandler 支持 http.Handler 接口（/metrics 等，不计入请求指标）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterTrackingRoutes 定位接入与查询
func (r *Router) RegisterTrackingRoutes(h *TrackingHandler) {
	r.Handle("POST /api/tracking/tracker-data", h.TrackerData)
	r.Handle("POST /api/tracking/save-location-history", h.SaveLocationHistory)
	r.Handle("GET /api/tracking/animal/{id}/current-location", h.CurrentLocation)
	r.Handle("GET /api/tracking/animal/{id}/location-history", h.LocationHistory)
	r.Handle("GET /api/tracking/farm/{id}/animals", h.FarmAnimals)
	r.Handle("GET /api/tracking/animals-in-area", h.AnimalsInArea)
}

// RegisterAlertRoutes 告警查询与状态流转
func (r *Router) RegisterAlertRoutes(h *AlertsHandler) {
	r.Handle("GET /api/alerts/farm/{id}", h.FarmActive)
	r.Handle("GET /api/alerts/farm/{id}/critical", h.FarmCritical)
	r.Handle("GET /api/alerts/farm/{id}/unread-count", h.FarmUnreadCount)
	r.Handle("GET /api/alerts/farm/{id}/export", h.FarmExport)
	r.Handle("GET /api/alerts/animal/{id}", h.AnimalAlerts)
	r.Handle("PUT /api/alerts/{id}/read", h.MarkRead)
	r.Handle("PUT /api/alerts/{id}/resolve", h.Resolve)
}

// RegisterFarmRoutes 牧场边界
func (r *Router) RegisterFarmRoutes(h *FarmsHandler) {
	r.Handle("GET /api/farms/{id}/boundary", h.Boundary)
}

// RegisterSystemRoutes /health、/metrics、/ws
func (r *Router) RegisterSystemRoutes(health *HealthHandler, ws http.HandlerFunc) {
	r.Handle("GET /health", health.Health)
	r.HandleHandler("GET /metrics", r.metrics.Handler())
	if ws != nil {
		r.Handle("GET /ws", ws)
	}
}
