// Package testutil 提供 pixelqueue 测试共用的辅助函数：
// 带超时的上下文、最终一致断言、event-stream 上游模拟（SSEServer），
// 以及 mocks 子包中的执行器模拟和 fixtures 子包中的响应样例。
package testutil
