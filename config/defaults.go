// =============================================================================
// 📦 PixelQueue 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		API:       DefaultAPIConfig(),
		Queue:     DefaultQueueConfig(),
		Storage:   DefaultStorageConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultAPIConfig 返回默认上游配置
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Model:            "gemini-2.5-flash-image-landscape",
		ModelsMaxRetries: 3,
	}
}

// DefaultQueueConfig 返回默认队列配置
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrency: 5,
		Timeout:        240 * time.Second,
	}
}

// DefaultStorageConfig 返回默认持久化配置，sqlite 文件放在当前目录
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend: "sqlite",
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "pixelqueue",
			Name:            "pixelqueue.db",
			SSLMode:         "disable",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "pixelqueue:",
			PoolSize:  4,
		},
	}
}

// DefaultLogConfig 返回默认日志配置；CLI 输出走 stdout，日志走 stderr
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{"stderr"},
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Addr:      ":9091",
		Namespace: "pixelqueue",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "pixelqueue",
		SampleRate:   1.0,
		Insecure:     true,
	}
}
