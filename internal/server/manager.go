package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 📈 /metrics 端点
// =============================================================================

var (
	ErrAlreadyStarted = errors.New("metrics server already started")
	ErrClosed         = errors.New("metrics server is closed")
)

// Config 端点配置
type Config struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":9091",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// MetricsHandler 只暴露 /metrics；gatherer 为 nil 时使用默认注册表
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Manager 管理 /metrics HTTP 服务的启动与关闭。
// 一个 Manager 只能启动一次。
type Manager struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger
	errs   chan error

	mu    sync.RWMutex
	ln    net.Listener
	state int // 0 idle, 1 serving, 2 closed
}

// NewManager 创建 Manager
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg: cfg,
		srv: &http.Server{
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger.With(zap.String("component", "metrics_server")),
		errs:   make(chan error, 1),
	}
}

// Start 监听并在后台提供服务
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case 1:
		return ErrAlreadyStarted
	case 2:
		return ErrClosed
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Addr, err)
	}
	m.ln = ln
	m.state = 1
	m.logger.Info("metrics endpoint listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics endpoint stopped unexpectedly", zap.Error(err))
			select {
			case m.errs <- err:
			default:
			}
		}
	}()
	return nil
}

// Shutdown 在 ShutdownTimeout 内关闭；重复调用直接返回
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == 2 {
		return nil
	}
	wasServing := m.state == 1
	m.state = 2
	if !wasServing {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics endpoint shutdown: %w", err)
	}
	m.logger.Debug("metrics endpoint closed")
	return nil
}

// Errors 返回后台服务错误
func (m *Manager) Errors() <-chan error { return m.errs }

// Addr 返回实际监听地址；未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

// IsRunning 是否仍可服务（未关闭）
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != 2
}
