/*
包 server 管理 Prometheus /metrics 端点的 HTTP 生命周期。

Manager 封装 net/http.Server：Start 非阻塞监听，Shutdown 在
ShutdownTimeout 内优雅关闭，Errors 传播后台服务错误。
MetricsHandler 基于任意 prometheus.Gatherer 构造只包含 /metrics
的路由，便于测试时使用独立 Registry。
*/
package server
