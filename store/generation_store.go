package store

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	DefaultConcurrencyLimit = 5
	MinConcurrencyLimit     = 1
	MaxConcurrencyLimit     = 10
)

// ClampConcurrency clamps n to [1, 10].
func ClampConcurrency(n int) int {
	if n < MinConcurrencyLimit {
		return MinConcurrencyLimit
	}
	if n > MaxConcurrencyLimit {
		return MaxConcurrencyLimit
	}
	return n
}

// GenerationStore 保存并发上限与生成记录，每次变更后写回 KV。
// 变更总会先作用于内存，写回失败只通过返回值告知调用方。
type GenerationStore struct {
	kv     KV
	logger *zap.Logger

	mu               sync.Mutex
	concurrencyLimit int
	images           []GeneratedImage
}

// NewGenerationStore creates a store with defaults. A nil kv keeps state in memory.
func NewGenerationStore(kv KV, logger *zap.Logger) *GenerationStore {
	if kv == nil {
		kv = NewMemoryKV()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationStore{
		kv:               kv,
		logger:           logger.With(zap.String("component", "generation_store")),
		concurrencyLimit: DefaultConcurrencyLimit,
	}
}

// Load replaces in-memory state with the persisted record, if any.
func (s *GenerationStore) Load(ctx context.Context) error {
	var st generationState
	found, err := loadJSON(ctx, s.kv, GenerationKey, &st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !found {
		return nil
	}
	s.concurrencyLimit = DefaultConcurrencyLimit
	if st.ConcurrencyLimit != 0 {
		s.concurrencyLimit = ClampConcurrency(st.ConcurrencyLimit)
	}
	s.images = st.GeneratedImages
	s.logger.Debug("state loaded",
		zap.Int("concurrency_limit", s.concurrencyLimit),
		zap.Int("images", len(s.images)))
	return nil
}

// Save writes the current state.
func (s *GenerationStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *GenerationStore) saveLocked(ctx context.Context) error {
	st := generationState{ConcurrencyLimit: s.concurrencyLimit, GeneratedImages: s.images}
	if st.GeneratedImages == nil {
		st.GeneratedImages = []GeneratedImage{}
	}
	if err := saveJSON(ctx, s.kv, GenerationKey, st); err != nil {
		s.logger.Warn("persist failed", zap.Error(err))
		return err
	}
	return nil
}

// ConcurrencyLimit returns the stored limit.
func (s *GenerationStore) ConcurrencyLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.concurrencyLimit
}

// GeneratedImages returns a copy of the records, newest first.
func (s *GenerationStore) GeneratedImages() []GeneratedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GeneratedImage(nil), s.images...)
}

// Image looks up one record by id.
func (s *GenerationStore) Image(id string) (GeneratedImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.images[i], true
	}
	return GeneratedImage{}, false
}

// SetConcurrencyLimit stores n clamped to [1, 10] and returns the applied value.
func (s *GenerationStore) SetConcurrencyLimit(ctx context.Context, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concurrencyLimit = ClampConcurrency(n)
	return s.concurrencyLimit, s.saveLocked(ctx)
}

// AddGeneratedImage prepends img.
func (s *GenerationStore) AddGeneratedImage(ctx context.Context, img GeneratedImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append([]GeneratedImage{img}, s.images...)
	return s.saveLocked(ctx)
}

// SetImageResult sets url and status on the record with id. An empty status
// means completed. Unknown ids are ignored.
func (s *GenerationStore) SetImageResult(ctx context.Context, id, url string, status ImageStatus) error {
	if status == "" {
		status = StatusCompleted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	s.images[i].URL = url
	s.images[i].Status = status
	return s.saveLocked(ctx)
}

// SetViolation flags the record with id as a content violation.
func (s *GenerationStore) SetViolation(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return nil
	}
	s.images[i].Violation = true
	s.images[i].ViolationReason = reason
	return s.saveLocked(ctx)
}

// ClearGeneratedImages drops every record and keeps the limit.
func (s *GenerationStore) ClearGeneratedImages(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = nil
	return s.saveLocked(ctx)
}

func (s *GenerationStore) indexLocked(id string) int {
	for i := range s.images {
		if s.images[i].ID == id {
			return i
		}
	}
	return -1
}
