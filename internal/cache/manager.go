package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/pixelqueue/internal/tlsutil"
)

// =============================================================================
// 💾 Redis 管理器
// =============================================================================

// Manager 包装 Redis 客户端，所有键自动加上前缀
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// Config Redis 配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`

	// 密码
	Password string `yaml:"password" json:"password" env:"PASSWORD"`

	// 数据库编号
	DB int `yaml:"db" json:"db" env:"DB"`

	// 键前缀，例如 "pixelqueue:"
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`

	// 是否启用 TLS
	TLS bool `yaml:"tls" json:"tls" env:"TLS"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`

	// 健康检查间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		KeyPrefix:  "pixelqueue:",
		MaxRetries: 3,
		PoolSize:   4,
	}
}

// ErrCacheMiss 键不存在
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss 判断是否为未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// NewManager 连接 Redis 并做一次 Ping
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
		TLSConfig:  tlsutil.RedisTLSConfig(config.TLS, ""),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "redis")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	} else {
		close(m.done)
	}

	m.logger.Info("redis manager initialized",
		zap.String("addr", config.Addr),
		zap.String("key_prefix", config.KeyPrefix),
	)
	return m, nil
}

func (m *Manager) key(k string) string {
	return m.config.KeyPrefix + k
}

func (m *Manager) checkOpen() error {
	if m.closed {
		return fmt.Errorf("redis manager is closed")
	}
	return nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 读取原始字节，不存在时返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	val, err := m.redis.Get(ctx, m.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("redis get failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return val, nil
}

// Set 写入值，ttl 为 0 表示永不过期
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return err
	}

	if err := m.redis.Set(ctx, m.key(key), value, ttl).Err(); err != nil {
		m.logger.Error("redis set failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Delete 删除键
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = m.key(k)
	}
	if err := m.redis.Del(ctx, prefixed...).Err(); err != nil {
		m.logger.Error("redis delete failed", zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	return nil
}

// Ping 检查连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.redis.Ping(ctx).Err()
}

// Close 停止健康检查并关闭客户端
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	<-m.done
	m.logger.Info("closing redis manager")
	return m.redis.Close()
}

func (m *Manager) healthCheckLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil {
			m.logger.Error("redis health check failed", zap.Error(err))
		} else {
			m.logger.Debug("redis health check passed")
		}
		cancel()
	}
}
