package store

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const (
	DefaultPageSize = 12
	MinPageSize     = 6
	MaxPageSize     = 48
)

// HistoryStore 分页展示的历史记录，和生成记录分开持久化。
type HistoryStore struct {
	kv     KV
	logger *zap.Logger

	mu          sync.Mutex
	images      []GeneratedImage
	currentPage int
	pageSize    int
}

// NewHistoryStore creates an empty history on page 1. A nil kv keeps state in memory.
func NewHistoryStore(kv KV, logger *zap.Logger) *HistoryStore {
	if kv == nil {
		kv = NewMemoryKV()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryStore{
		kv:          kv,
		logger:      logger.With(zap.String("component", "history_store")),
		currentPage: 1,
		pageSize:    DefaultPageSize,
	}
}

// Load replaces in-memory state with the persisted record, if any.
// Out-of-range page and page size values are clamped.
func (h *HistoryStore) Load(ctx context.Context) error {
	var st historyState
	found, err := loadJSON(ctx, h.kv, HistoryKey, &st)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !found {
		return nil
	}
	h.images = st.Images
	h.pageSize = DefaultPageSize
	if st.PageSize != 0 {
		h.pageSize = clampPageSize(st.PageSize)
	}
	h.currentPage = 1
	if st.CurrentPage != 0 {
		h.currentPage = st.CurrentPage
	}
	h.clampPageLocked()
	return nil
}

// Save writes the current state.
func (h *HistoryStore) Save(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saveLocked(ctx)
}

func (h *HistoryStore) saveLocked(ctx context.Context) error {
	st := historyState{Images: h.images, CurrentPage: h.currentPage, PageSize: h.pageSize}
	if st.Images == nil {
		st.Images = []GeneratedImage{}
	}
	if err := saveJSON(ctx, h.kv, HistoryKey, st); err != nil {
		h.logger.Warn("persist failed", zap.Error(err))
		return err
	}
	return nil
}

// =============================================================================
// 变更
// =============================================================================

// AddImage prepends img.
func (h *HistoryStore) AddImage(ctx context.Context, img GeneratedImage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.images = append([]GeneratedImage{img}, h.images...)
	return h.saveLocked(ctx)
}

// RemoveImage deletes the image with id.
func (h *HistoryStore) RemoveImage(ctx context.Context, id string) error {
	return h.RemoveImages(ctx, []string{id})
}

// RemoveImages deletes every image whose id is listed.
func (h *HistoryStore) RemoveImages(ctx context.Context, ids []string) error {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.images[:0:0]
	for _, img := range h.images {
		if _, ok := drop[img.ID]; !ok {
			kept = append(kept, img)
		}
	}
	h.images = kept
	h.clampPageLocked()
	return h.saveLocked(ctx)
}

// ClearHistory removes every image and returns to page 1.
func (h *HistoryStore) ClearHistory(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.images = nil
	h.currentPage = 1
	return h.saveLocked(ctx)
}

// GoToPage moves to page clamped to [1, max(1, TotalPages)].
func (h *HistoryStore) GoToPage(ctx context.Context, page int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentPage = page
	h.clampPageLocked()
	return h.saveLocked(ctx)
}

// SetPageSize sets size clamped to [6, 48] and returns to page 1.
func (h *HistoryStore) SetPageSize(ctx context.Context, size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pageSize = clampPageSize(size)
	h.currentPage = 1
	return h.saveLocked(ctx)
}

// =============================================================================
// 查询
// =============================================================================

// Images returns a copy of every image, newest first.
func (h *HistoryStore) Images() []GeneratedImage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]GeneratedImage(nil), h.images...)
}

// CurrentPage returns the 1-based current page.
func (h *HistoryStore) CurrentPage() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPage
}

// PageSize returns the page size.
func (h *HistoryStore) PageSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pageSize
}

// TotalImages returns the number of stored images.
func (h *HistoryStore) TotalImages() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.images)
}

// TotalPages returns ceil(TotalImages / PageSize); 0 when empty.
func (h *HistoryStore) TotalPages() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalPagesLocked()
}

// PaginatedImages returns the images on the current page.
func (h *HistoryStore) PaginatedImages() []GeneratedImage {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := (h.currentPage - 1) * h.pageSize
	if start >= len(h.images) {
		return []GeneratedImage{}
	}
	end := min(start+h.pageSize, len(h.images))
	return append([]GeneratedImage(nil), h.images[start:end]...)
}

// HasPreviousPage reports whether the current page is after page 1.
func (h *HistoryStore) HasPreviousPage() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPage > 1
}

// HasNextPage reports whether pages follow the current one.
func (h *HistoryStore) HasNextPage() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPage < h.totalPagesLocked()
}

func (h *HistoryStore) totalPagesLocked() int {
	return (len(h.images) + h.pageSize - 1) / h.pageSize
}

func (h *HistoryStore) clampPageLocked() {
	h.currentPage = max(1, min(h.totalPagesLocked(), h.currentPage))
}

func clampPageSize(n int) int {
	return max(MinPageSize, min(MaxPageSize, n))
}
