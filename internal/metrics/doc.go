/*
包 metrics 提供基于 Prometheus 的队列与生成指标采集。

# 核心类型

  - Collector：通过 promauto 注册指标，实现 generation.Recorder，
    可直接作为队列的记录器使用。

# 指标

  - 队列：queue_active_requests、queue_length、queue_max_concurrency（Gauge）。
  - 生成：generations_total 与 generation_duration_seconds，
    按 outcome（completed / violation / failed）分组。
  - 模型列表：model_list_requests_total，按 status 分组。
  - 数据库：db_connections_open / db_connections_idle，按 driver 分组。
*/
package metrics
