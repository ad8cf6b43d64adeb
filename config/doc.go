// Package config 提供 PixelQueue 的配置加载。
//
// 配置按 默认值 → YAML 文件 → PIXELQUEUE_* 环境变量 的顺序叠加，
// 环境变量名由结构体的 env 标签逐级拼接而成，例如
// PIXELQUEUE_QUEUE_MAX_CONCURRENCY、PIXELQUEUE_STORAGE_REDIS_ADDR。
package config
