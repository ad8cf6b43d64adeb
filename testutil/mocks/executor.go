// MockExecutor 是生成执行器的测试模拟实现。
//
// 支持固定响应、错误注入、按调用阻塞以及并发度统计。
package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/BaSui01/pixelqueue/llm/image"
)

// MockExecutor 实现 generation.Executor
type MockExecutor struct {
	mu sync.Mutex

	response json.RawMessage
	err      error
	fn       func(ctx context.Context, req *image.GenerationRequest) (json.RawMessage, error)
	delay    time.Duration
	hold     bool
	gates    map[string]chan struct{}

	started     []string
	inFlight    int
	maxInFlight int
	timeout     time.Duration
}

// NewMockExecutor 创建返回 data 列表 URL 的模拟执行器
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		response: json.RawMessage(`{"data":[{"url":"https://img.test/ok.png"}]}`),
		gates:    make(map[string]chan struct{}),
	}
}

// WithResponse 设置固定响应
func (m *MockExecutor) WithResponse(raw string) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = json.RawMessage(raw)
	return m
}

// WithError 设置返回错误
func (m *MockExecutor) WithError(err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFunc 完全接管 Execute
func (m *MockExecutor) WithFunc(fn func(ctx context.Context, req *image.GenerationRequest) (json.RawMessage, error)) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// WithDelay 每次调用前休眠 d
func (m *MockExecutor) WithDelay(d time.Duration) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithHold 让每次调用阻塞，直到对应 prompt 被 Release
func (m *MockExecutor) WithHold() *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = true
	return m
}

// Release 放行 prompt 对应的调用（可以在调用开始前放行）
func (m *MockExecutor) Release(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.gate(prompt))
}

func (m *MockExecutor) gate(prompt string) chan struct{} {
	g, ok := m.gates[prompt]
	if !ok {
		g = make(chan struct{})
		m.gates[prompt] = g
	}
	return g
}

// Execute 实现执行器接口
func (m *MockExecutor) Execute(ctx context.Context, req *image.GenerationRequest) (json.RawMessage, error) {
	m.mu.Lock()
	m.started = append(m.started, req.Prompt)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	fn, resp, err, delay, hold := m.fn, m.response, m.err, m.delay, m.hold
	var gate chan struct{}
	if hold {
		gate = m.gate(req.Prompt)
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// SetTimeout 记录队列转发的超时
func (m *MockExecutor) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

// Timeout 返回最近一次 SetTimeout 的值
func (m *MockExecutor) Timeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeout
}

// Started 返回按开始顺序排列的 prompt
func (m *MockExecutor) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.started))
	copy(out, m.started)
	return out
}

// InFlight 返回当前执行中的调用数
func (m *MockExecutor) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// MaxInFlight 返回观测到的最大并发
func (m *MockExecutor) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}
