// Package openaicompat 实现面向 OpenAI 兼容 chat-completions 接口的图像生成执行器。
//
// 每次生成发送一个 stream=true 的请求，逐行解析 "data:" 帧并把增量内容
// 折叠为单个响应结构，交给 image.Extract 解析最终图片地址。
// 模型列表接口走同一套鉴权，失败时按 retry.ModelListPolicy 退避重试。
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    BaseProviderConfig: providers.BaseProviderConfig{
//	        APIKey:  cfg.API.APIKey,
//	        BaseURL: cfg.API.BaseURL,
//	        Model:   cfg.API.Model,
//	        Timeout: cfg.Queue.Timeout,
//	    },
//	}, logger)
//	raw, err := p.Execute(ctx, &image.GenerationRequest{Prompt: "a red fox"})
package openaicompat
