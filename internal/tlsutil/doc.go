// Package tlsutil 提供集中式 TLS 配置：上游 HTTP 客户端（普通请求与流式请求）
// 以及 Redis 连接共用同一套加固设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
