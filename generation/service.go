package generation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/pixelqueue/llm/image"
	"github.com/BaSui01/pixelqueue/store"
)

// ViolationReason is recorded when a response carried no image.
const ViolationReason = "no image found in response"

// ErrDropped is returned by Generate when its request was cancelled while queued.
var ErrDropped = errors.New("request dropped before admission")

// Service ties the queue to the generation and history stores.
//
// Every submission is recorded as pending, then marked completed or failed
// on settlement. Images with a real URL are also appended to history.
type Service struct {
	queue       *Queue
	generations *store.GenerationStore
	history     *store.HistoryStore
	logger      *zap.Logger
}

// NewService creates a service. Stores may be nil, in which case
// in-memory stores are used.
func NewService(queue *Queue, generations *store.GenerationStore, history *store.HistoryStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if generations == nil {
		generations = store.NewGenerationStore(nil, logger)
	}
	if history == nil {
		history = store.NewHistoryStore(nil, logger)
	}
	return &Service{
		queue:       queue,
		generations: generations,
		history:     history,
		logger:      logger.With(zap.String("component", "generation_service")),
	}
}

// Start loads persisted state and applies the stored concurrency limit.
func (s *Service) Start(ctx context.Context) error {
	if err := s.generations.Load(ctx); err != nil {
		return fmt.Errorf("load generation store: %w", err)
	}
	if err := s.history.Load(ctx); err != nil {
		return fmt.Errorf("load history store: %w", err)
	}
	applied := s.queue.SetMaxConcurrency(s.generations.ConcurrencyLimit())
	s.logger.Info("generation service started",
		zap.Int("max_concurrency", applied),
		zap.Int("history_images", s.history.TotalImages()))
	return nil
}

// Queue returns the underlying queue.
func (s *Service) Queue() *Queue { return s.queue }

// Generations returns the generation store.
func (s *Service) Generations() *store.GenerationStore { return s.generations }

// History returns the history store.
func (s *Service) History() *store.HistoryStore { return s.history }

// SetConcurrencyLimit persists n (clamped) and applies it to the queue.
func (s *Service) SetConcurrencyLimit(ctx context.Context, n int) (int, error) {
	applied, err := s.generations.SetConcurrencyLimit(ctx, n)
	s.queue.SetMaxConcurrency(applied)
	return applied, err
}

// Generate records a pending image, runs req through the queue and records
// the outcome. Persistence failures are logged and do not fail the request.
func (s *Service) Generate(ctx context.Context, req *image.GenerationRequest) (*image.GenerationResponse, error) {
	if req == nil {
		return s.queue.Generate(ctx, req)
	}

	record := store.GeneratedImage{
		ID:        NewImageID(s.queue.now()),
		Prompt:    req.Prompt,
		Timestamp: s.queue.now().UnixMilli(),
		Status:    store.StatusPending,
	}
	s.persist("add pending image", s.generations.AddGeneratedImage(ctx, record))

	pending := s.queue.Submit(ctx, req)
	select {
	case <-pending.Done():
		s.settle(context.WithoutCancel(ctx), record, pending.resp, pending.err)
		return pending.resp, pending.err
	case <-pending.dropped:
		s.settle(context.WithoutCancel(ctx), record, nil, ErrDropped)
		return nil, ErrDropped
	case <-ctx.Done():
		// 调用方放弃等待，结果仍会落库
		go s.settleLater(record, pending)
		return nil, ctx.Err()
	}
}

// CancelAllRequests drops every queued request. Their Generate calls return ErrDropped.
func (s *Service) CancelAllRequests() int {
	return s.queue.CancelAllRequests()
}

func (s *Service) settleLater(record store.GeneratedImage, pending *Pending) {
	select {
	case <-pending.Done():
		s.settle(context.Background(), record, pending.resp, pending.err)
	case <-pending.dropped:
		s.settle(context.Background(), record, nil, ErrDropped)
	}
}

func (s *Service) settle(ctx context.Context, record store.GeneratedImage, resp *image.GenerationResponse, err error) {
	if err != nil {
		s.persist("mark failed", s.generations.SetImageResult(ctx, record.ID, "", store.StatusFailed))
		return
	}

	s.persist("set result", s.generations.SetImageResult(ctx, record.ID, resp.URL, store.StatusCompleted))
	if resp.Violation {
		s.persist("set violation", s.generations.SetViolation(ctx, record.ID, ViolationReason))
		return
	}

	record.URL = resp.URL
	record.Status = store.StatusCompleted
	record.Timestamp = resp.Timestamp
	s.persist("add history image", s.history.AddImage(ctx, record))
}

func (s *Service) persist(op string, err error) {
	if err != nil {
		s.logger.Warn("persist failed", zap.String("op", op), zap.Error(err))
	}
}
