package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"herdwatch/common/database"
	mqttcommon "herdwatch/common/mqtt"
	rediscommon "herdwatch/common/redis"
	"herdwatch/internal/alerting"
	"herdwatch/internal/config"
	"herdwatch/internal/consumer"
	"herdwatch/internal/evaluator"
	"herdwatch/internal/httpapi"
	"herdwatch/internal/ingestion"
	"herdwatch/internal/metrics"
	"herdwatch/internal/notify"
	"herdwatch/internal/repository"
	"herdwatch/internal/scheduler"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Deps 外部连接；nil 表示未启用
type Deps struct {
	DB    *sql.DB
	Redis *redis.Client
	MQTT  *mqttcommon.Client
}

// HerdwatchService 牲畜监测服务（整合各层）
type HerdwatchService struct {
	config  *config.Config
	deps    Deps
	metrics *metrics.Metrics
	logger  *zap.Logger

	// 各层组件
	hub            *notify.Hub
	dispatcher     *notify.Dispatcher
	relay          *notify.RedisRelay
	kafkaSink      *notify.KafkaSink
	alerts         *alerting.Service
	ingest         *ingestion.Service
	mqttConsumer   *consumer.MQTTConsumer
	streamConsumer *consumer.StreamConsumer
	scanner        *scheduler.BreedingScanner
	router         *httpapi.Router
	server         *httpapi.Server

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 建立数据库、Redis、MQTT 连接并组装服务
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*HerdwatchService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	deps := Deps{DB: db}

	// 2. 连接 Redis（仅当有组件需要）
	if cfg.NeedsRedis() {
		deps.Redis, err = rediscommon.Connect(ctx, &cfg.Redis)
		if err != nil {
			deps.close(logger)
			return nil, err
		}
	}

	// 3. 连接 MQTT
	if cfg.Ingest.MQTTEnabled {
		deps.MQTT, err = mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			deps.close(logger)
			return nil, err
		}
	}

	svc, err := Assemble(cfg, deps, metrics.New(), logger)
	if err != nil {
		deps.close(logger)
		return nil, err
	}
	return svc, nil
}

// Assemble 用已建立的连接组装各层组件
func Assemble(cfg *config.Config, deps Deps, m *metrics.Metrics, logger *zap.Logger) (*HerdwatchService, error) {
	if deps.DB == nil {
		return nil, errors.New("database connection is required")
	}
	if cfg.NeedsRedis() && deps.Redis == nil {
		return nil, errors.New("redis connection is required by the current configuration")
	}
	if cfg.Ingest.MQTTEnabled && deps.MQTT == nil {
		return nil, errors.New("mqtt connection is required when MQTT ingestion is enabled")
	}

	s := &HerdwatchService{config: cfg, deps: deps, metrics: m, logger: logger}

	// 1. Repository 层
	trackersRepo := repository.NewTrackersRepository(deps.DB, logger)
	animalsRepo := repository.NewAnimalsRepository(deps.DB, logger)
	boundariesRepo := repository.NewBoundariesRepository(deps.DB)
	historyRepo := repository.NewLocationHistoryRepository(deps.DB, logger)
	alertsRepo := repository.NewAlertsRepository(deps.DB, logger)

	// 2. 推送层：Hub + 外部 sink
	s.hub = notify.NewHub(cfg.Notify.SubscriberBuf, m, logger)
	sinks, err := s.buildSinks()
	if err != nil {
		return nil, err
	}
	s.dispatcher = notify.NewDispatcher(cfg.Notify.QueueSize, cfg.Notify.Workers, m, logger, sinks...)
	fanout := notify.NewFanout(s.hub, s.dispatcher, logger)

	// 3. 规则与告警
	eval := evaluator.NewEvaluator(historyRepo, boundariesRepo, m, logger)
	s.alerts = alerting.NewService(alertsRepo, s.buildLocker(), fanout, m, logger)
	s.alerts.SetDedupHours(cfg.Alert.DedupHours)

	// 4. 接入
	s.ingest = ingestion.NewService(trackersRepo, animalsRepo, historyRepo, eval, s.alerts, fanout, m, logger)
	s.ingest.SetTimeout(cfg.Ingest.Timeout)
	if deps.MQTT != nil {
		s.mqttConsumer = consumer.NewMQTTConsumer(deps.MQTT, cfg.Ingest.MQTTTopic, cfg.MQTT.QoS, s.ingest, m, logger)
	}
	if cfg.Ingest.StreamEnabled {
		s.streamConsumer = consumer.NewStreamConsumer(deps.Redis,
			cfg.Ingest.Stream, cfg.Ingest.StreamGroup, cfg.Ingest.StreamConsumer, s.ingest, m, logger)
	}

	// 5. 繁育扫描
	if cfg.Breeding.Enabled {
		s.scanner = scheduler.NewBreedingScanner(animalsRepo, eval, s.alerts, cfg.Breeding.Interval, m, logger)
	}

	// 6. HTTP
	s.router = httpapi.NewRouter(m, logger)
	s.router.RegisterTrackingRoutes(httpapi.NewTrackingHandler(s.ingest, historyRepo, animalsRepo, logger))
	s.router.RegisterAlertRoutes(httpapi.NewAlertsHandler(s.alerts, logger))
	s.router.RegisterFarmRoutes(httpapi.NewFarmsHandler(boundariesRepo, logger))
	s.router.RegisterSystemRoutes(httpapi.NewHealthHandler(s.healthChecks(), logger), notify.ServeWS(s.hub, m, logger))
	s.server = httpapi.NewServer(cfg.HTTP.Addr, s.router, logger)

	return s, nil
}

func (s *HerdwatchService) buildLocker() alerting.Locker {
	if s.config.Alert.LockBackend == config.LockBackendRedis {
		return alerting.NewRedisLocker(s.deps.Redis, s.config.Alert.LockTTL, s.logger)
	}
	return alerting.NewKeyedMutex()
}

func (s *HerdwatchService) buildSinks() ([]notify.Sink, error) {
	var sinks []notify.Sink
	cfg := s.config

	if cfg.Notify.RelayEnabled {
		s.relay = notify.NewRedisRelay(s.deps.Redis, cfg.Notify.RelayChannel, s.hub, s.logger)
		sinks = append(sinks, s.relay)
	}
	if cfg.Notify.AlertStreamEnabled {
		sinks = append(sinks, notify.NewStreamSink(s.deps.Redis, cfg.Notify.AlertStream, cfg.Notify.AlertStreamMaxLen))
	}
	if cfg.Kafka.Enabled() {
		k, err := notify.NewKafkaSink(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		s.kafkaSink = k
		sinks = append(sinks, k)
	}
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout, s.logger))
	}
	return sinks, nil
}

func (s *HerdwatchService) healthChecks() map[string]httpapi.HealthCheck {
	checks := map[string]httpapi.HealthCheck{
		"database": func(ctx context.Context) error {
			return database.Ping(ctx, s.deps.DB)
		},
	}
	if s.deps.Redis != nil {
		client := s.deps.Redis
		checks["redis"] = func(ctx context.Context) error {
			return rediscommon.Ping(ctx, client)
		}
	}
	if s.deps.MQTT != nil {
		client := s.deps.MQTT
		checks["mqtt"] = func(context.Context) error {
			if !client.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	return checks
}

// Handler HTTP 入口（测试用）
func (s *HerdwatchService) Handler() http.Handler {
	return s.router
}

// Start 启动所有组件，阻塞到 ctx 取消或某个组件出错
func (s *HerdwatchService) Start(ctx context.Context) error {
	s.logger.Info("Starting herdwatch service",
		zap.Bool("mqtt", s.mqttConsumer != nil),
		zap.Bool("stream", s.streamConsumer != nil),
		zap.Bool("breeding_scan", s.scanner != nil),
		zap.Int("sinks", len(s.dispatcher.Sinks())),
	)

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.dispatcher.Start(ctx)
	if s.relay != nil {
		if err := s.relay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start redis relay: %w", err)
		}
	}

	errCh := make(chan error, 4)
	s.run(errCh, "http server", func() error { return s.server.Start() })
	if s.mqttConsumer != nil {
		s.run(errCh, "mqtt consumer", func() error { return s.mqttConsumer.Start(ctx) })
	}
	if s.streamConsumer != nil {
		s.run(errCh, "stream consumer", func() error { return s.streamConsumer.Start(ctx) })
	}
	if s.scanner != nil {
		s.run(errCh, "breeding scanner", func() error { return s.scanner.Start(ctx) })
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *HerdwatchService) run(errCh chan<- error, name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			errCh <- fmt.Errorf("%s: %w", name, err)
		}
	}()
}

// Stop 按依赖逆序停止组件并关闭连接
func (s *HerdwatchService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping herdwatch service")

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	var errs []error
	if err := s.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if s.mqttConsumer != nil {
		s.mqttConsumer.Stop()
	}
	s.wg.Wait()

	if s.relay != nil {
		s.relay.Stop()
	}
	s.dispatcher.Stop()
	if s.kafkaSink != nil {
		if err := s.kafkaSink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka sink: %w", err))
		}
	}
	s.hub.Close()
	s.deps.close(s.logger)

	return errors.Join(errs...)
}

func (d Deps) close(logger *zap.Logger) {
	if d.MQTT != nil {
		d.MQTT.Disconnect()
	}
	if d.Redis != nil {
		if err := rediscommon.Close(d.Redis); err != nil {
			logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	if d.DB != nil {
		if err := database.Close(d.DB); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}
}
