package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/pixelqueue/types"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), nil)

	calls := 0
	got, err := Do(context.Background(), r, func(context.Context) ([]string, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("temporary")
		}
		return []string{"m1"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, got)
	assert.Equal(t, 3, calls)
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), nil)

	calls := 0
	cause := types.NewNetworkError(500, "HTTP 500")
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return cause
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls, "一次原始调用加三次重试")
	assert.ErrorIs(t, err, cause)
	assert.True(t, types.IsNetworkError(err))
}

func TestBackoffRetryer_ShouldRetryFilter(t *testing.T) {
	policy := fastPolicy(3)
	policy.ShouldRetry = types.IsRetryable
	r := NewBackoffRetryer(policy, nil)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return types.NewNetworkError(401, "HTTP 401")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, types.IsAuthError(err))
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	policy := fastPolicy(5)
	policy.InitialDelay = time.Second
	policy.MaxDelay = time.Second
	r := NewBackoffRetryer(policy, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestBackoffRetryer_CanceledErrorNotRetried(t *testing.T) {
	r := NewBackoffRetryer(fastPolicy(3), nil)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestModelListPolicy_Delays(t *testing.T) {
	r := NewBackoffRetryer(ModelListPolicy(), nil)

	assert.Equal(t, time.Duration(0), r.Delay(0))
	assert.Equal(t, 2*time.Second, r.Delay(1))
	assert.Equal(t, 4*time.Second, r.Delay(2))
	assert.Equal(t, 8*time.Second, r.Delay(3))
	assert.Equal(t, 3, r.Policy().MaxRetries)
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	policy := fastPolicy(2)
	var attempts []int
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		assert.Error(t, err)
		assert.Positive(t, delay)
	}
	r := NewBackoffRetryer(policy, nil)

	_ = r.Do(context.Background(), func(context.Context) error { return errors.New("x") })

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestNewBackoffRetryer_NormalisesPolicy(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{MaxRetries: -1, Multiplier: 0.5}, nil)
	p := r.Policy()

	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
}
