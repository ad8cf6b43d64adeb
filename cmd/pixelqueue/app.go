package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/pixelqueue/config"
	"github.com/BaSui01/pixelqueue/generation"
	"github.com/BaSui01/pixelqueue/internal/cache"
	"github.com/BaSui01/pixelqueue/internal/database"
	"github.com/BaSui01/pixelqueue/internal/metrics"
	"github.com/BaSui01/pixelqueue/internal/server"
	"github.com/BaSui01/pixelqueue/internal/telemetry"
	"github.com/BaSui01/pixelqueue/llm/providers"
	"github.com/BaSui01/pixelqueue/llm/providers/openaicompat"
	"github.com/BaSui01/pixelqueue/llm/retry"
	"github.com/BaSui01/pixelqueue/store"
)

var _ generation.Recorder = (*metrics.Collector)(nil)

// =============================================================================
// 🧩 运行时装配
// =============================================================================

// app 持有一次命令执行期间的全部组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector

	kv          store.KV
	generations *store.GenerationStore
	history     *store.HistoryStore

	provider *openaicompat.Provider
	queue    *generation.Queue
	service  *generation.Service

	metricsServer *server.Manager
	telemetry     *telemetry.Providers

	closers []func(context.Context) error
}

// newStorageApp 只打开持久化层，用于 history 类命令
func newStorageApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)

	kv, err := a.openStorage(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.kv = kv
	a.generations = store.NewGenerationStore(kv, logger)
	a.history = store.NewHistoryStore(kv, logger)
	return a, nil
}

// newApp 装配完整的生成链路：存储、执行器、队列、服务、指标与遥测
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if err := cfg.RequireAPI(); err != nil {
		return nil, err
	}

	a, err := newStorageApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	tp, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	a.telemetry = tp
	a.closers = append(a.closers, tp.Shutdown)

	policy := retry.ModelListPolicy()
	policy.MaxRetries = cfg.API.ModelsMaxRetries

	a.provider = openaicompat.New(openaicompat.Config{
		BaseProviderConfig: providers.BaseProviderConfig{
			APIKey:  cfg.API.APIKey,
			BaseURL: cfg.API.BaseURL,
			Model:   cfg.API.Model,
			Timeout: cfg.Queue.Timeout,
		},
		ModelsRetry: policy,
	}, logger)

	a.queue = generation.NewQueue(a.provider,
		generation.WithLogger(logger),
		generation.WithRecorder(a.collector),
		generation.WithMaxConcurrency(cfg.Queue.MaxConcurrency),
	)
	a.queue.SetTimeoutMs(int(cfg.Queue.Timeout / time.Millisecond))
	a.service = generation.NewService(a.queue, a.generations, a.history, logger)

	if cfg.Metrics.Enabled {
		if err := a.startMetrics(); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	return a, nil
}

// openStorage 按配置选择 KV 后端
func (a *app) openStorage(ctx context.Context) (store.KV, error) {
	sc := a.cfg.Storage
	switch sc.Backend {
	case "memory":
		a.logger.Warn("memory storage selected, state will not survive this process")
		return store.NewMemoryKV(), nil

	case "redis":
		cc := cache.DefaultConfig()
		cc.Addr = sc.Redis.Addr
		cc.Password = sc.Redis.Password
		cc.DB = sc.Redis.DB
		cc.KeyPrefix = sc.Redis.KeyPrefix
		cc.TLS = sc.Redis.TLS
		if sc.Redis.PoolSize > 0 {
			cc.PoolSize = sc.Redis.PoolSize
		}
		client, err := cache.NewManager(cc, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return store.NewRedisKV(client), nil

	case database.DriverSQLite, database.DriverPostgres, database.DriverMySQL:
		db, err := database.Open(sc.Backend, sc.DSN(), a.logger)
		if err != nil {
			return nil, err
		}
		pc := database.DefaultPoolConfig()
		if sc.Database.MaxOpenConns > 0 {
			pc.MaxOpenConns = sc.Database.MaxOpenConns
		}
		if sc.Database.MaxIdleConns > 0 {
			pc.MaxIdleConns = min(sc.Database.MaxIdleConns, pc.MaxOpenConns)
		}
		if sc.Database.ConnMaxLifetime > 0 {
			pc.ConnMaxLifetime = sc.Database.ConnMaxLifetime
		}
		pool, err := database.NewPoolManager(db, pc, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure pool: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pool.Close() })

		kv := store.NewSQLKV(pool.DB(), a.logger)
		if err := kv.Migrate(ctx); err != nil {
			return nil, err
		}
		stats := pool.GetStats()
		a.collector.RecordDBConnections(sc.Backend, stats.OpenConnections, stats.Idle)
		return kv, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", sc.Backend)
	}
}

func (a *app) startMetrics() error {
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sc := server.DefaultConfig()
	if a.cfg.Metrics.Addr != "" {
		sc.Addr = a.cfg.Metrics.Addr
	}
	a.metricsServer = server.NewManager(server.MetricsHandler(a.registry), sc, a.logger)
	if err := a.metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	a.closers = append(a.closers, a.metricsServer.Shutdown)
	return nil
}

// Close 逆序释放资源
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown finished with errors", zap.Error(err))
		return err
	}
	return nil
}
