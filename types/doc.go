// Copyright (c) PixelQueue Authors.
// Licensed under the MIT License.

/*
Package types 提供 pixelqueue 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - NetworkError：非 2xx 或传输失败；401/403 使用 UNAUTHORIZED / FORBIDDEN
  - StreamError：响应体不可读、超时，或流中没有可解析的事件
  - ReadError：参考图片编码失败

"违规"（violation）不是错误：提取不到图片时生成调用仍然成功返回，
由 GenerationResponse.Violation 标记。
*/
package types
