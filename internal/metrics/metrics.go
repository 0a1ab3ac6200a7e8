package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务指标；nil 接收者上的方法均为空操作，便于测试中省略
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	ingestTotal     *prometheus.CounterVec
	ingestDuration  prometheus.Histogram
	ruleErrors      *prometheus.CounterVec
	alertsRaised    *prometheus.CounterVec
	alertsSuppressed *prometheus.CounterVec
	fanoutDropped   *prometheus.CounterVec
	sinkErrors      *prometheus.CounterVec
	wsClients       prometheus.Gauge
	breedingScans   *prometheus.CounterVec
}

// New 创建指标并注册到独立的 registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herdwatch_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_ingest_total",
			Help: "Telemetry readings by outcome (accepted, discarded, rejected, failed) and reason.",
		}, []string{"outcome", "reason"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "herdwatch_ingest_duration_seconds",
			Help:    "Histogram of end-to-end ingestion durations.",
			Buckets: prometheus.DefBuckets,
		}),
		ruleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_rule_errors_total",
			Help: "Rule evaluation failures by rule.",
		}, []string{"rule"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_alerts_raised_total",
			Help: "Alerts persisted by kind.",
		}, []string{"kind"}),
		alertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_alerts_suppressed_total",
			Help: "Alert candidates suppressed by the deduplication window, by kind.",
		}, []string{"kind"}),
		fanoutDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_fanout_dropped_total",
			Help: "Notifications dropped because a subscriber or queue was full, by stage.",
		}, []string{"stage"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_sink_errors_total",
			Help: "External notification sink failures by sink.",
		}, []string{"sink"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "herdwatch_ws_clients",
			Help: "Currently connected websocket clients.",
		}),
		breedingScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herdwatch_breeding_scans_total",
			Help: "Breeding scans by result (ok, error).",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.ingestTotal,
		m.ingestDuration,
		m.ruleErrors,
		m.alertsRaised,
		m.alertsSuppressed,
		m.fanoutDropped,
		m.sinkErrors,
		m.wsClients,
		m.breedingScans,
	)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Unwrap 供 http.ResponseController 取到底层 writer
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Hijack websocket 升级需要
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// WrapHandler 记录请求数与耗时
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 测试用
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IngestAccepted(d time.Duration) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues("accepted", "").Inc()
	m.ingestDuration.Observe(d.Seconds())
}

func (m *Metrics) IngestDiscarded(reason string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues("discarded", reason).Inc()
}

func (m *Metrics) IngestRejected(reason string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues("rejected", reason).Inc()
}

func (m *Metrics) IngestFailed(stage string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues("failed", stage).Inc()
}

func (m *Metrics) RuleError(rule string) {
	if m == nil {
		return
	}
	m.ruleErrors.WithLabelValues(rule).Inc()
}

func (m *Metrics) AlertRaised(kind string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(kind).Inc()
}

func (m *Metrics) AlertSuppressed(kind string) {
	if m == nil {
		return
	}
	m.alertsSuppressed.WithLabelValues(kind).Inc()
}

func (m *Metrics) FanoutDropped(stage string) {
	if m == nil {
		return
	}
	m.fanoutDropped.WithLabelValues(stage).Inc()
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) WSClientConnected() {
	if m == nil {
		return
	}
	m.wsClients.Inc()
}

func (m *Metrics) WSClientDisconnected() {
	if m == nil {
		return
	}
	m.wsClients.Dec()
}

func (m *Metrics) BreedingScan(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.breedingScans.WithLabelValues(result).Inc()
}
