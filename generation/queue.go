package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/pixelqueue/internal/ctxkeys"
	"github.com/BaSui01/pixelqueue/llm/image"
	"github.com/BaSui01/pixelqueue/store"
	"github.com/BaSui01/pixelqueue/types"
)

// 并发上限沿用持久化层的定义，两处不会漂移
const (
	DefaultMaxConcurrency = store.DefaultConcurrencyLimit
	MinConcurrency        = store.MinConcurrencyLimit
	MaxConcurrency        = store.MaxConcurrencyLimit

	DefaultTimeoutMs = 240000
	MinTimeoutMs     = 1000
	MaxTimeoutMs     = 600000
)

// Generation outcomes reported to the Recorder.
const (
	OutcomeCompleted = "completed"
	OutcomeViolation = "violation"
	OutcomeFailed    = "failed"
)

// Executor performs one network round trip for a request.
type Executor interface {
	Execute(ctx context.Context, req *image.GenerationRequest) (json.RawMessage, error)
}

// TimeoutSetter is implemented by executors whose abort deadline can be changed.
type TimeoutSetter interface {
	SetTimeout(d time.Duration)
}

// Recorder receives queue gauges and per-request outcomes.
type Recorder interface {
	ObserveQueue(active, queued, max int)
	RecordGeneration(outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveQueue(int, int, int)             {}
func (nopRecorder) RecordGeneration(string, time.Duration) {}

// =============================================================================
// Pending
// =============================================================================

// Pending is the caller's handle on a submitted request.
type Pending struct {
	done    chan struct{}
	dropped chan struct{} // closed by CancelAllRequests; done then never closes
	resp    *image.GenerationResponse
	err     error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{}), dropped: make(chan struct{})}
}

func (p *Pending) settle(resp *image.GenerationResponse, err error) {
	p.resp, p.err = resp, err
	close(p.done)
}

// Done is closed once the request settles.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the request settles or ctx ends. A request dropped by
// CancelAllRequests never settles, so only ctx can end the wait.
func (p *Pending) Wait(ctx context.Context) (*image.GenerationResponse, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// =============================================================================
// Queue
// =============================================================================

type entry struct {
	id       string // assigned at admission
	ctx      context.Context
	req      *image.GenerationRequest
	pending  *Pending
	enqueued time.Time
}

// Queue admits at most MaxConcurrency requests to the executor at a time,
// in submission order. Admitted requests cannot be cancelled by the caller;
// only the executor's own deadline ends them.
type Queue struct {
	exec     Executor
	logger   *zap.Logger
	recorder Recorder
	extract  func([]byte) string
	now      func() time.Time

	mu        sync.Mutex
	entries   []*entry
	active    int
	max       int
	timeoutMs int

	running int           // run goroutines not yet finished, active included
	idle    chan struct{} // closed once running and entries both reach zero; nil while idle
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithRecorder reports queue gauges and outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(q *Queue) {
		if r != nil {
			q.recorder = r
		}
	}
}

// WithExtractor replaces image.Extract.
func WithExtractor(fn func([]byte) string) Option {
	return func(q *Queue) {
		if fn != nil {
			q.extract = fn
		}
	}
}

// WithMaxConcurrency sets the initial admission limit (clamped to [1, 10]).
func WithMaxConcurrency(n int) Option {
	return func(q *Queue) { q.max = ClampConcurrency(n) }
}

// NewQueue creates a queue in front of exec with limit 5 and a 240 s deadline.
func NewQueue(exec Executor, opts ...Option) *Queue {
	q := &Queue{
		exec:      exec,
		logger:    zap.NewNop(),
		recorder:  nopRecorder{},
		extract:   image.Extract,
		now:       time.Now,
		max:       DefaultMaxConcurrency,
		timeoutMs: DefaultTimeoutMs,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With(zap.String("component", "queue"))
	q.forwardTimeout(q.timeoutMs)
	return q
}

// ClampConcurrency clamps n to [1, 10].
func ClampConcurrency(n int) int {
	return store.ClampConcurrency(n)
}

// ClampTimeoutMs clamps ms to [1000, 600000].
func ClampTimeoutMs(ms int) int {
	return max(MinTimeoutMs, min(MaxTimeoutMs, ms))
}

// Submit enqueues req and returns immediately. Values carried by ctx (trace
// spans, request ids) reach the executor; its cancellation does not.
func (q *Queue) Submit(ctx context.Context, req *image.GenerationRequest) *Pending {
	p := newPending()
	if req == nil {
		p.settle(nil, types.NewError(types.ErrInvalidRequest, "nil generation request"))
		return p
	}

	q.mu.Lock()
	q.entries = append(q.entries, &entry{ctx: ctx, req: req, pending: p, enqueued: q.now()})
	if q.idle == nil {
		q.idle = make(chan struct{})
	}
	q.observeLocked()
	q.mu.Unlock()

	q.logger.Debug("request queued", zap.Int("prompt_len", len(req.Prompt)))
	q.dispatch()
	return p
}

// Generate submits req and waits for its result.
func (q *Queue) Generate(ctx context.Context, req *image.GenerationRequest) (*image.GenerationResponse, error) {
	return q.Submit(ctx, req).Wait(ctx)
}

// dispatch admits queued entries while the window has room.
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if q.active >= q.max || len(q.entries) == 0 {
			q.mu.Unlock()
			return
		}
		e := q.entries[0]
		q.entries[0] = nil
		q.entries = q.entries[1:]
		// ID 在锁内分配，顺序与 FIFO 准入一致
		e.id = NewImageID(q.now())
		q.active++
		q.running++
		q.observeLocked()
		q.mu.Unlock()

		go q.run(e)
	}
}

func (q *Queue) run(e *entry) {
	start := q.now()

	resp, err := q.execute(e)

	q.mu.Lock()
	q.active--
	q.observeLocked()
	q.mu.Unlock()

	e.pending.settle(resp, err)

	outcome := OutcomeCompleted
	switch {
	case err != nil:
		outcome = OutcomeFailed
		q.logger.Warn("generation failed", zap.Error(err))
	case resp.Violation:
		outcome = OutcomeViolation
		q.logger.Warn("no image in response, placeholder substituted", zap.String("id", resp.ID))
	default:
		q.logger.Info("generation completed",
			zap.String("id", resp.ID),
			zap.Duration("queued", start.Sub(e.enqueued)),
			zap.Duration("duration", q.now().Sub(start)))
	}
	q.recorder.RecordGeneration(outcome, q.now().Sub(start))

	q.mu.Lock()
	q.running--
	q.signalIdleLocked()
	q.mu.Unlock()

	q.dispatch()
}

func (q *Queue) execute(e *entry) (resp *image.GenerationResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("executor panicked", zap.Any("panic", r))
			resp, err = nil, fmt.Errorf("executor panicked: %v", r)
		}
	}()

	ctx := ctxkeys.WithRequestID(context.WithoutCancel(e.ctx), e.id)

	raw, err := q.exec.Execute(ctx, e.req)
	if err != nil {
		return nil, err
	}

	url := q.extract(raw)
	violation := url == ""
	if violation {
		url = image.PlaceholderURL
	}
	now := q.now()
	return &image.GenerationResponse{
		ID:        e.id,
		URL:       url,
		Prompt:    e.req.Prompt,
		Timestamp: now.UnixMilli(),
		Violation: violation,
	}, nil
}

// SetMaxConcurrency sets the admission limit (clamped to [1, 10]) and
// returns the applied value. Running requests are never preempted; a raised
// limit admits waiting requests immediately.
func (q *Queue) SetMaxConcurrency(n int) int {
	q.mu.Lock()
	q.max = ClampConcurrency(n)
	applied := q.max
	q.observeLocked()
	q.mu.Unlock()

	q.logger.Info("concurrency limit updated", zap.Int("max_concurrency", applied))
	q.dispatch()
	return applied
}

// SetTimeoutMs sets the executor abort deadline (clamped to [1000, 600000])
// and returns the applied value.
func (q *Queue) SetTimeoutMs(ms int) int {
	ms = ClampTimeoutMs(ms)
	q.mu.Lock()
	q.timeoutMs = ms
	q.mu.Unlock()

	q.forwardTimeout(ms)
	return ms
}

func (q *Queue) forwardTimeout(ms int) {
	if ts, ok := q.exec.(TimeoutSetter); ok {
		ts.SetTimeout(time.Duration(ms) * time.Millisecond)
	}
}

// CancelAllRequests drops every request that has not been admitted yet
// without settling it, and returns how many were dropped.
func (q *Queue) CancelAllRequests() int {
	q.mu.Lock()
	dropped := q.entries
	q.entries = nil
	q.signalIdleLocked()
	q.observeLocked()
	q.mu.Unlock()

	for _, e := range dropped {
		close(e.pending.dropped)
	}
	n := len(dropped)

	if n > 0 {
		q.logger.Info("queued requests cancelled", zap.Int("count", n))
	}
	return n
}

// ActiveRequests returns the number of admitted, unsettled requests.
func (q *Queue) ActiveRequests() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// QueueLength returns the number of waiting requests.
func (q *Queue) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// MaxConcurrency returns the admission limit.
func (q *Queue) MaxConcurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.max
}

// Timeout returns the executor deadline.
func (q *Queue) Timeout() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return time.Duration(q.timeoutMs) * time.Millisecond
}

// WaitIdle blocks until no request is admitted or queued, or ctx ends.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	if idle == nil {
		return nil
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalIdleLocked wakes WaitIdle callers once the queue has drained.
func (q *Queue) signalIdleLocked() {
	if q.idle != nil && q.running == 0 && len(q.entries) == 0 {
		close(q.idle)
		q.idle = nil
	}
}

func (q *Queue) observeLocked() {
	q.recorder.ObserveQueue(q.active, len(q.entries), q.max)
}

// NewImageID returns "img_<epoch ms>_<9 random chars>".
func NewImageID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("img_%d_%s", now.UnixMilli(), suffix)
}
