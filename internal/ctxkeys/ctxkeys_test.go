package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	_, ok := RequestID(context.Background())
	assert.False(t, ok)

	_, ok = RequestID(WithRequestID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := RequestID(WithRequestID(context.Background(), "img_1_abc"))
	assert.True(t, ok)
	assert.Equal(t, "img_1_abc", id)

	// 脱离取消后值仍然可见
	id, ok = RequestID(context.WithoutCancel(WithRequestID(context.Background(), "x")))
	assert.True(t, ok)
	assert.Equal(t, "x", id)
}
