/*
pixelqueue 是图片生成队列的命令行入口。

子命令：

  - generate：每个 prompt 提交一个请求，经队列限流后调用上游；
    data URL 图片写入 -out 目录，远程 URL 直接打印。
  - models：列出上游 /v1/models 的模型（失败时按退避重试）。
  - history / history-clear：浏览或清空持久化的历史记录。
  - version / help。

配置来源依次为默认值、-config 指定的 YAML、PIXELQUEUE_* 环境变量。
metrics.enabled 时在 metrics.addr 暴露 /metrics。
*/
package main
