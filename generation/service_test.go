package generation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/pixelqueue/llm/image"
	"github.com/BaSui01/pixelqueue/store"
	"github.com/BaSui01/pixelqueue/testutil"
	"github.com/BaSui01/pixelqueue/testutil/mocks"
	"github.com/BaSui01/pixelqueue/types"
)

func newTestService(t *testing.T, exec Executor, kv store.KV) *Service {
	t.Helper()
	q := NewQueue(exec)
	svc := NewService(q, store.NewGenerationStore(kv, nil), store.NewHistoryStore(kv, nil), nil)
	require.NoError(t, svc.Start(testutil.TestContext(t)))
	return svc
}

func TestService_StartAppliesPersistedLimit(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, store.GenerationKey, []byte(`{"concurrencyLimit":2,"generatedImages":[]}`)))

	svc := newTestService(t, mocks.NewMockExecutor(), kv)
	assert.Equal(t, 2, svc.Queue().MaxConcurrency())

	applied, err := svc.SetConcurrencyLimit(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 10, applied)
	assert.Equal(t, 10, svc.Queue().MaxConcurrency())
	assert.Equal(t, 10, svc.Generations().ConcurrencyLimit())
}

func TestService_StartFailsOnCorruptState(t *testing.T) {
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(context.Background(), store.HistoryKey, []byte(`[`)))

	svc := NewService(NewQueue(mocks.NewMockExecutor()), store.NewGenerationStore(kv, nil), store.NewHistoryStore(kv, nil), nil)
	err := svc.Start(context.Background())
	assert.True(t, types.IsErrorCode(err, types.ErrStorage))
}

func TestService_CompletedGoesToHistory(t *testing.T) {
	svc := newTestService(t, mocks.NewMockExecutor(), nil)

	resp, err := svc.Generate(testutil.TestContext(t), &image.GenerationRequest{Prompt: "sunset"})
	require.NoError(t, err)

	records := svc.Generations().GeneratedImages()
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusCompleted, records[0].Status)
	assert.Equal(t, resp.URL, records[0].URL)
	assert.Equal(t, "sunset", records[0].Prompt)
	assert.False(t, records[0].Violation)

	history := svc.History().Images()
	require.Len(t, history, 1)
	assert.Equal(t, records[0].ID, history[0].ID)
	assert.Equal(t, resp.URL, history[0].URL)
}

func TestService_ViolationRecorded(t *testing.T) {
	exec := mocks.NewMockExecutor().WithResponse(`{"choices":[{"message":{"content":"refused"}}]}`)
	svc := newTestService(t, exec, nil)

	resp, err := svc.Generate(testutil.TestContext(t), &image.GenerationRequest{Prompt: "nope"})
	require.NoError(t, err)
	assert.True(t, resp.Violation)

	rec := svc.Generations().GeneratedImages()[0]
	assert.Equal(t, store.StatusCompleted, rec.Status)
	assert.True(t, rec.Violation)
	assert.Equal(t, ViolationReason, rec.ViolationReason)
	assert.Equal(t, image.PlaceholderURL, rec.URL)
	assert.Equal(t, 0, svc.History().TotalImages())
}

func TestService_FailureMarksFailed(t *testing.T) {
	exec := mocks.NewMockExecutor().WithError(types.NewNetworkError(502, "HTTP 502"))
	svc := newTestService(t, exec, nil)

	_, err := svc.Generate(testutil.TestContext(t), &image.GenerationRequest{Prompt: "x"})
	require.Error(t, err)

	rec := svc.Generations().GeneratedImages()[0]
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.Empty(t, rec.URL)
	assert.Equal(t, 0, svc.History().TotalImages())
}

func TestService_PendingWhileRunning(t *testing.T) {
	exec := mocks.NewMockExecutor().WithHold()
	svc := newTestService(t, exec, nil)
	ctx := testutil.TestContext(t)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(ctx, &image.GenerationRequest{Prompt: "slow"})
		done <- err
	}()

	testutil.AssertEventuallyTrue(t, func() bool { return len(exec.Started()) == 1 }, time.Second)
	rec := svc.Generations().GeneratedImages()[0]
	assert.Equal(t, store.StatusPending, rec.Status)

	exec.Release("slow")
	err, ok := testutil.WaitForChannel(done, time.Second)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, svc.Generations().GeneratedImages()[0].Status)
}

func TestService_AbandonedWaitStillSettles(t *testing.T) {
	exec := mocks.NewMockExecutor().WithHold()
	svc := newTestService(t, exec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(ctx, &image.GenerationRequest{Prompt: "a"})
		done <- err
	}()
	testutil.AssertEventuallyTrue(t, func() bool { return len(exec.Started()) == 1 }, time.Second)

	cancel()
	err, ok := testutil.WaitForChannel(done, time.Second)
	require.True(t, ok)
	assert.ErrorIs(t, err, context.Canceled)

	exec.Release("a")
	testutil.AssertEventuallyTrue(t, func() bool {
		return svc.History().TotalImages() == 1
	}, time.Second)
}

func TestService_CancelAllRequests(t *testing.T) {
	exec := mocks.NewMockExecutor().WithHold()
	svc := newTestService(t, exec, nil)
	svc.Queue().SetMaxConcurrency(1)
	ctx := testutil.TestContext(t)

	results := make(chan error, 2)
	for _, p := range []string{"a", "b"} {
		go func(p string) {
			_, err := svc.Generate(ctx, &image.GenerationRequest{Prompt: p})
			results <- err
		}(p)
		testutil.AssertEventuallyTrue(t, func() bool { return len(svc.Generations().GeneratedImages()) >= 1 }, time.Second)
	}
	testutil.AssertEventuallyTrue(t, func() bool { return svc.Queue().QueueLength() == 1 }, time.Second)

	assert.Equal(t, 1, svc.CancelAllRequests())
	err, ok := testutil.WaitForChannel(results, time.Second)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrDropped)

	testutil.AssertEventuallyTrue(t, func() bool { return len(exec.Started()) == 1 }, time.Second)
	exec.Release(exec.Started()[0])
	err, ok = testutil.WaitForChannel(results, time.Second)
	require.True(t, ok)
	assert.NoError(t, err)

	statuses := map[store.ImageStatus]int{}
	for _, rec := range svc.Generations().GeneratedImages() {
		statuses[rec.Status]++
	}
	assert.Equal(t, map[store.ImageStatus]int{store.StatusCompleted: 1, store.StatusFailed: 1}, statuses)
}

func TestService_PersistsAcrossRestart(t *testing.T) {
	kv := store.NewMemoryKV()
	svc := newTestService(t, mocks.NewMockExecutor(), kv)
	_, err := svc.Generate(testutil.TestContext(t), &image.GenerationRequest{Prompt: "keep"})
	require.NoError(t, err)

	restarted := newTestService(t, mocks.NewMockExecutor(), kv)
	assert.Len(t, restarted.Generations().GeneratedImages(), 1)
	assert.Equal(t, 1, restarted.History().TotalImages())
}
