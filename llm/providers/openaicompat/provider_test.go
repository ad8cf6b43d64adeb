package openaicompat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/BaSui01/pixelqueue/llm/image"
	"github.com/BaSui01/pixelqueue/llm/providers"
	"github.com/BaSui01/pixelqueue/llm/retry"
	"github.com/BaSui01/pixelqueue/testutil"
	"github.com/BaSui01/pixelqueue/testutil/fixtures"
	"github.com/BaSui01/pixelqueue/types"
)

func newTestProvider(baseURL string) *Provider {
	return New(Config{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-test", BaseURL: baseURL + "/"},
		ModelsRetry: &retry.RetryPolicy{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     4 * time.Millisecond,
			Multiplier:   2,
		},
	}, zap.NewNop())
}

// ---------------------------------------------------------------------------
// New() / timeout
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, nil)

	assert.Equal(t, "openaicompat", p.Name())
	assert.Equal(t, "/v1/chat/completions", p.cfg.EndpointPath)
	assert.Equal(t, "/v1/models", p.cfg.ModelsEndpoint)
	assert.Equal(t, image.DefaultModel, p.cfg.Model)
	assert.Equal(t, DefaultTimeout, p.Timeout())
}

func TestSetTimeout_Clamps(t *testing.T) {
	p := New(Config{}, nil)

	p.SetTimeout(10 * time.Millisecond)
	assert.Equal(t, MinTimeout, p.Timeout())

	p.SetTimeout(time.Hour)
	assert.Equal(t, MaxTimeout, p.Timeout())

	p.SetTimeout(90 * time.Second)
	assert.Equal(t, 90*time.Second, p.Timeout())
}

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

func TestExecute_RequestShape(t *testing.T) {
	srv := testutil.NewSSEServer(t, fixtures.MarkdownDeltaFrame(fixtures.SampleImageURL), fixtures.Done)
	p := newTestProvider(srv.URL)

	req := &image.GenerationRequest{
		Prompt:         "a cat",
		ReferenceImage: &image.BytesFile{FileName: "r.jpg", MIMEType: "image/jpg", Data: []byte("ref")},
		Params:         &image.GenerationParams{Model: "custom-model"},
	}
	out, err := p.Execute(testutil.TestContext(t), req)
	require.NoError(t, err)
	assert.Equal(t, fixtures.SampleImageURL, image.Extract(out))

	bodies := srv.Requests()
	require.Len(t, bodies, 1)
	body := gjson.ParseBytes(bodies[0])
	assert.Equal(t, "custom-model", body.Get("model").String())
	assert.True(t, body.Get("stream").Bool())
	assert.Equal(t, "user", body.Get("messages.0.role").String())
	assert.Equal(t, "text", body.Get("messages.0.content.0.type").String())
	assert.Equal(t, "a cat", body.Get("messages.0.content.0.text").String())
	assert.Equal(t, "data:image/jpeg;base64,cmVm", body.Get("messages.0.content.1.image_url.url").String())

	h := srv.Headers()[0]
	assert.Equal(t, "Bearer sk-test", h.Get("Authorization"))
	assert.Equal(t, "text/event-stream", h.Get("Accept"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestExecute_DefaultModel(t *testing.T) {
	srv := testutil.NewSSEServer(t, fixtures.DataListResponse(fixtures.SampleImageURL))
	p := newTestProvider(srv.URL)

	_, err := p.Execute(testutil.TestContext(t), &image.GenerationRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, image.DefaultModel, gjson.GetBytes(srv.Requests()[0], "model").String())
}

func TestExecute_ConfiguredModelFallback(t *testing.T) {
	srv := testutil.NewSSEServer(t, fixtures.DataListResponse(fixtures.SampleImageURL))
	p := newTestProvider(srv.URL)
	p.cfg.Model = "configured-model"

	ctx := testutil.TestContext(t)
	_, err := p.Execute(ctx, &image.GenerationRequest{Prompt: "x"})
	require.NoError(t, err)
	_, err = p.Execute(ctx, &image.GenerationRequest{Prompt: "y", Params: &image.GenerationParams{Model: "per-request"}})
	require.NoError(t, err)

	require.Len(t, srv.Requests(), 2)
	assert.Equal(t, "configured-model", gjson.GetBytes(srv.Requests()[0], "model").String())
	assert.Equal(t, "per-request", gjson.GetBytes(srv.Requests()[1], "model").String())
}

func TestExecute_HTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		code   types.ErrorCode
	}{
		{http.StatusUnauthorized, types.ErrUnauthorized},
		{http.StatusForbidden, types.ErrForbidden},
		{http.StatusInternalServerError, types.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := testutil.NewSSEServer(t).WithStatus(tt.status)
			p := newTestProvider(srv.URL)

			_, err := p.Execute(testutil.TestContext(t), &image.GenerationRequest{Prompt: "x"})
			require.Error(t, err)
			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.status, e.HTTPStatus)
			assert.True(t, types.IsNetworkError(err))
		})
	}
}

func TestExecute_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newTestProvider(url)
	_, err := p.Execute(testutil.TestContext(t), &image.GenerationRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrNetwork))
}

func TestExecute_NoDataParsed(t *testing.T) {
	srv := testutil.NewSSEServer(t, fixtures.Done)
	p := newTestProvider(srv.URL)

	_, err := p.Execute(testutil.TestContext(t), &image.GenerationRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStream))
}

func TestExecute_TimeoutAborts(t *testing.T) {
	srv := testutil.NewSSEServer(t, fixtures.TextDeltaFrame("thinking")).BlockUntilClientGone()
	p := newTestProvider(srv.URL)
	p.SetTimeout(time.Second)

	start := time.Now()
	_, err := p.Execute(testutil.TestContext(t), &image.GenerationRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStream))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecute_ReadErrorFromReference(t *testing.T) {
	p := newTestProvider("http://127.0.0.1:1")
	missing := &image.LocalFile{Path: t.TempDir() + "/missing.png", MIMEType: "image/png"}

	_, err := p.Execute(testutil.TestContext(t), &image.GenerationRequest{Prompt: "x", ReferenceImage: missing})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRead))
}

// ---------------------------------------------------------------------------
// ListModels
// ---------------------------------------------------------------------------

func TestListModels_Envelopes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"data envelope", `{"object":"list","data":[{"id":"m1"},{"name":"m2"},{"id":""}]}`, []string{"m1", "m2"}},
		{"bare list", `[{"id":"a"}]`, []string{"a"}},
		{"other", `{"models":[]}`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/models", r.URL.Path)
				assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := newTestProvider(srv.URL).ListModels(testutil.TestContext(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListModels_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"m1"}]}`))
	}))
	defer srv.Close()

	got, err := newTestProvider(srv.URL).ListModels(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListModels_GivesUpAfterThreeRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestProvider(srv.URL).ListModels(testutil.TestContext(t))
	require.Error(t, err)
	assert.True(t, types.IsAuthError(err))
	assert.Equal(t, int32(4), calls.Load())
}
