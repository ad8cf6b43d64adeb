package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func fillHistory(t *testing.T, h *HistoryStore, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, h.AddImage(ctx, GeneratedImage{ID: fmt.Sprintf("img_%02d", i), Status: StatusCompleted}))
	}
}

func TestHistoryStore_Defaults(t *testing.T) {
	h := NewHistoryStore(nil, nil)
	assert.Equal(t, 1, h.CurrentPage())
	assert.Equal(t, DefaultPageSize, h.PageSize())
	assert.Equal(t, 0, h.TotalPages())
	assert.Empty(t, h.PaginatedImages())
	assert.False(t, h.HasPreviousPage())
	assert.False(t, h.HasNextPage())
}

func TestHistoryStore_Pagination(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryStore(nil, nil)
	fillHistory(t, h, 25)

	assert.Equal(t, 25, h.TotalImages())
	assert.Equal(t, 3, h.TotalPages())

	page := h.PaginatedImages()
	require.Len(t, page, 12)
	assert.Equal(t, "img_24", page[0].ID, "newest first")
	assert.True(t, h.HasNextPage())
	assert.False(t, h.HasPreviousPage())

	require.NoError(t, h.GoToPage(ctx, 3))
	page = h.PaginatedImages()
	require.Len(t, page, 1)
	assert.Equal(t, "img_00", page[0].ID)
	assert.False(t, h.HasNextPage())
	assert.True(t, h.HasPreviousPage())

	require.NoError(t, h.GoToPage(ctx, 99))
	assert.Equal(t, 3, h.CurrentPage())
	require.NoError(t, h.GoToPage(ctx, -1))
	assert.Equal(t, 1, h.CurrentPage())
}

func TestHistoryStore_SetPageSize(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryStore(nil, nil)
	fillHistory(t, h, 30)
	require.NoError(t, h.GoToPage(ctx, 2))

	require.NoError(t, h.SetPageSize(ctx, 1))
	assert.Equal(t, MinPageSize, h.PageSize())
	assert.Equal(t, 1, h.CurrentPage(), "page size change resets page")

	require.NoError(t, h.SetPageSize(ctx, 100))
	assert.Equal(t, MaxPageSize, h.PageSize())
	assert.Equal(t, 1, h.TotalPages())
}

func TestHistoryStore_Remove(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryStore(nil, nil)
	fillHistory(t, h, 13)
	require.NoError(t, h.GoToPage(ctx, 2))

	require.NoError(t, h.RemoveImage(ctx, "img_00"))
	assert.Equal(t, 12, h.TotalImages())
	assert.Equal(t, 1, h.CurrentPage(), "page clamped after the last page vanished")

	require.NoError(t, h.RemoveImages(ctx, []string{"img_01", "img_02", "nope"}))
	assert.Equal(t, 10, h.TotalImages())
	for _, img := range h.Images() {
		assert.NotContains(t, []string{"img_00", "img_01", "img_02"}, img.ID)
	}
}

func TestHistoryStore_Clear(t *testing.T) {
	ctx := context.Background()
	h := NewHistoryStore(nil, nil)
	fillHistory(t, h, 20)
	require.NoError(t, h.GoToPage(ctx, 2))

	require.NoError(t, h.ClearHistory(ctx))
	assert.Equal(t, 0, h.TotalImages())
	assert.Equal(t, 1, h.CurrentPage())
}

func TestHistoryStore_PersistsAndReloads(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			h := NewHistoryStore(kv, nil)
			require.NoError(t, h.SetPageSize(ctx, 6))
			fillHistory(t, h, 8)
			require.NoError(t, h.GoToPage(ctx, 2))

			reloaded := NewHistoryStore(kv, nil)
			require.NoError(t, reloaded.Load(ctx))
			assert.Equal(t, 6, reloaded.PageSize())
			assert.Equal(t, 2, reloaded.CurrentPage())
			assert.Equal(t, 8, reloaded.TotalImages())
			assert.Len(t, reloaded.PaginatedImages(), 2)
		})
	}
}

func TestHistoryStore_LoadClamps(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, HistoryKey, []byte(`{"images":[{"id":"a"}],"currentPage":9,"pageSize":500}`)))

	h := NewHistoryStore(kv, nil)
	require.NoError(t, h.Load(ctx))
	assert.Equal(t, MaxPageSize, h.PageSize())
	assert.Equal(t, 1, h.CurrentPage())

	require.NoError(t, kv.Set(ctx, HistoryKey, []byte(`{}`)))
	require.NoError(t, h.Load(ctx))
	assert.Equal(t, DefaultPageSize, h.PageSize())
	assert.Equal(t, 0, h.TotalImages())
}

func TestHistoryStore_PaginationProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		h := NewHistoryStore(nil, nil)
		n := rapid.IntRange(0, 120).Draw(rt, "n")
		for i := 0; i < n; i++ {
			_ = h.AddImage(ctx, GeneratedImage{ID: fmt.Sprintf("%d", i)})
		}
		_ = h.SetPageSize(ctx, rapid.IntRange(-10, 80).Draw(rt, "size"))
		_ = h.GoToPage(ctx, rapid.IntRange(-5, 40).Draw(rt, "page"))

		size := h.PageSize()
		page := h.CurrentPage()
		total := h.TotalPages()
		if size < MinPageSize || size > MaxPageSize {
			rt.Fatalf("page size %d out of range", size)
		}
		if page < 1 || page > max(1, total) {
			rt.Fatalf("page %d outside [1, %d]", page, max(1, total))
		}
		if got := len(h.PaginatedImages()); got > size {
			rt.Fatalf("page holds %d images, size %d", got, size)
		}
		if n > 0 && len(h.PaginatedImages()) == 0 {
			rt.Fatalf("non-empty history produced an empty page")
		}
	})
}
