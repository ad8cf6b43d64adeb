package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BaSui01/pixelqueue/types"
)

// Fixed record keys.
const (
	GenerationKey = "generation-store"
	HistoryKey    = "history-store"
)

// KV is the key-value backend the stores persist their JSON blobs into.
// Get reports ok=false for a missing key.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// MemoryKV keeps records in process memory. Used when persistence is disabled.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory backend.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func storageError(op, key string, err error) error {
	return types.NewError(types.ErrStorage, fmt.Sprintf("%s %q", op, key)).WithCause(err)
}

// loadJSON decodes the record at key into dst. Missing records leave dst untouched.
func loadJSON(ctx context.Context, kv KV, key string, dst any) (bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, storageError("decode", key, err)
	}
	return true, nil
}

func saveJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return storageError("encode", key, err)
	}
	return kv.Set(ctx, key, raw)
}
