/*
包 image 提供基于 chat-completions 协议的图像生成所需的公共模型与工具。

# 概述

上游兼容接口（OpenAI 风格、Gemini 转发、各类聚合网关）返回图片的位置
并不一致：data 列表、message.content 列表、Markdown 文本、HTML video
标签、流式 delta 中的 url 或 base64 字段都可能出现。本包把这些差异
收敛到一个按优先级排列的提取器里，并提供参考图片的编码工具。

# 核心类型

  - GenerationRequest / GenerationResponse：一次生成的请求与结果，
    结果中的 Violation 表示没有提取到图片，URL 为占位图。
  - File：参考图片句柄，LocalFile / BytesFile / UploadFile 三种实现，
    CanonicalFile 负责拆开 UploadFile 这类包装。
  - Extractor / Strategy：提取策略链，Extract 为默认链的快捷入口。

# 编码

ToBase64 读取整个文件生成 data URL，Normalize 统一 MIME 前缀
（image/jpg 归一为 image/jpeg，缺省为 image/jpeg），EncodeReference
串起两步。ValidateImageFile 用于上传前的类型与大小校验。
*/
package image
