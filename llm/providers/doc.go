/*
# 概述

包 providers 提供上游 chat-completions 兼容接口的公共层：请求体结构、
参考图片片段组装、HTTP 错误映射以及模型列表解析。具体的流式执行器
位于 openaicompat 子包。

# 核心类型与函数

  - BaseProviderConfig：APIKey、BaseURL、Model、Timeout
  - ChatRequest / ChatMessage / ContentPart：请求体结构
  - BuildContent：prompt 与参考图片按顺序组装为 user 消息片段
  - MapHTTPError / ReadErrorMessage：非 2xx 响应转 NetworkError
  - DecodeModelList：兼容 {data:[...]} 与裸数组两种模型列表格式
*/
package providers
