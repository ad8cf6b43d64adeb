package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/pixelqueue/config"
	"github.com/BaSui01/pixelqueue/llm/image"
	"github.com/BaSui01/pixelqueue/testutil"
	"github.com/BaSui01/pixelqueue/testutil/fixtures"
)

// isolateEnv 指向临时 sqlite 文件并压低日志级别
func isolateEnv(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PIXELQUEUE_API_BASE_URL", baseURL)
	t.Setenv("PIXELQUEUE_API_API_KEY", "sk-test")
	t.Setenv("PIXELQUEUE_STORAGE_BACKEND", "sqlite")
	t.Setenv("PIXELQUEUE_STORAGE_DATABASE_NAME", filepath.Join(dir, "pixelqueue.db"))
	t.Setenv("PIXELQUEUE_LOG_LEVEL", "error")
	t.Setenv("PIXELQUEUE_METRICS_ENABLED", "false")
	return dir
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// =============================================================================
// 🧪 命令分发
// =============================================================================

func TestRun_NoArgs(t *testing.T) {
	code, _, stderr := runCLI()
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage:")
}

func TestRun_Help(t *testing.T) {
	code, stdout, _ := runCLI("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "generate")
	assert.Contains(t, stdout, "history-clear")
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := runCLI("version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "PixelQueue dev")
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, stderr := runCLI("serve")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: serve")
}

func TestRun_GenerateRequiresPrompt(t *testing.T) {
	isolateEnv(t, "http://127.0.0.1:1")
	code, _, stderr := runCLI("generate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "at least one prompt")
}

func TestRun_GenerateRequiresBaseURL(t *testing.T) {
	isolateEnv(t, "")
	code, _, stderr := runCLI("generate", "a cat")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "base_url")
}

func TestRun_InvalidTimeoutFlag(t *testing.T) {
	isolateEnv(t, "http://127.0.0.1:1")
	code, _, stderr := runCLI("generate", "-timeout", "20m", "a cat")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid config")
}

func TestRun_FlagHelpExitsZero(t *testing.T) {
	code, _, stderr := runCLI("history", "-h")
	assert.Equal(t, 0, code)
	assert.Contains(t, stderr, "page-size")
}

// =============================================================================
// 🧪 端到端
// =============================================================================

func TestGenerate_SavesDataURLAndRecordsHistory(t *testing.T) {
	pixels := []byte("not really a png")
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pixels)
	srv := testutil.NewSSEServer(t, fixtures.MarkdownDeltaFrame(dataURL), fixtures.Done)
	isolateEnv(t, srv.URL)
	out := filepath.Join(t.TempDir(), "images")

	code, stdout, stderr := runCLI("generate", "-out", out, "a red fox")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "\tcompleted\t")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".png"))
	saved, err := os.ReadFile(filepath.Join(out, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, pixels, saved)

	code, stdout, _ = runCLI("history")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Page 1/1 (1 images, 12 per page)")
	assert.Contains(t, stdout, `"a red fox"`)
	assert.Contains(t, stdout, "data:image/png (")

	code, stdout, _ = runCLI("history-clear", "-all")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Removed 1 images")

	_, stdout, _ = runCLI("history")
	assert.Contains(t, stdout, "(0 images")
}

func TestGenerate_ViolationIsReportedNotSaved(t *testing.T) {
	srv := testutil.NewSSEServer(t, fixtures.TextDeltaFrame("I can't draw that."), fixtures.Done)
	isolateEnv(t, srv.URL)
	out := t.TempDir()

	code, stdout, _ := runCLI("generate", "-out", out, "blocked")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "\tviolation\t")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, stdout, _ = runCLI("history")
	assert.Contains(t, stdout, "(0 images")
}

func TestGenerate_UpstreamFailureExitsNonZero(t *testing.T) {
	srv := testutil.NewSSEServer(t).WithStatus(http.StatusUnauthorized)
	isolateEnv(t, srv.URL)

	code, _, stderr := runCLI("generate", "-out", t.TempDir(), "one", "two")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "2 of 2 generations failed")
}

func TestGenerate_PersistsConcurrencyFlag(t *testing.T) {
	srv := testutil.NewSSEServer(t, fixtures.MarkdownDeltaFrame(fixtures.SampleImageURL), fixtures.Done)
	isolateEnv(t, srv.URL)

	code, stdout, stderr := runCLI("generate", "-concurrency", "2", "-out", t.TempDir(), "a", "b", "c")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, 3, strings.Count(stdout, fixtures.SampleImageURL))
	assert.Len(t, srv.Requests(), 3)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	a, err := newStorageApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close(context.Background())
	require.NoError(t, a.generations.Load(context.Background()))
	assert.Equal(t, 2, a.generations.ConcurrencyLimit())
	assert.Len(t, a.generations.GeneratedImages(), 3)
}

func TestGenerate_RejectsUnsupportedReference(t *testing.T) {
	isolateEnv(t, "http://127.0.0.1:1")
	ref := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(ref, []byte("hello"), 0o644))

	code, _, stderr := runCLI("generate", "-image", ref, "a cat")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unsupported image type")
}

func TestModels_ListsIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[{"id":"img-a"},{"name":"img-b"},{"id":""}]}`))
	}))
	t.Cleanup(srv.Close)
	isolateEnv(t, srv.URL)

	code, stdout, stderr := runCLI("models")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "img-a\nimg-b\n", stdout)
}

func TestModels_FailsAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	isolateEnv(t, srv.URL)
	t.Setenv("PIXELQUEUE_API_MODELS_MAX_RETRIES", "0")

	code, _, stderr := runCLI("models")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
	assert.Equal(t, int32(1), calls.Load())
}

// =============================================================================
// 🧪 辅助函数
// =============================================================================

type fakeGenerator struct{}

func (fakeGenerator) Generate(_ context.Context, req *image.GenerationRequest) (*image.GenerationResponse, error) {
	if req.Prompt == "bad" {
		return nil, errors.New("boom")
	}
	model := ""
	if req.Params != nil {
		model = req.Params.Model
	}
	return &image.GenerationResponse{ID: "img_" + req.Prompt, URL: "https://x.test/" + model, Prompt: req.Prompt}, nil
}

func TestGenerateAll_PreservesOrder(t *testing.T) {
	results := generateAll(context.Background(), fakeGenerator{}, []string{"a", "bad", "c"}, nil, "m1")
	require.Len(t, results, 3)
	assert.Equal(t, "img_a", results[0].resp.ID)
	assert.EqualError(t, results[1].err, "boom")
	assert.Equal(t, "https://x.test/m1", results[2].resp.URL)

	var stdout, stderr bytes.Buffer
	err := reportResults(results, t.TempDir(), &stdout, &stderr)
	assert.EqualError(t, err, "1 of 3 generations failed")
	assert.Contains(t, stdout.String(), "img_a\tcompleted\thttps://x.test/m1")
	assert.Contains(t, stderr.String(), `failed	"bad"	boom`)
}

func TestSaveImage(t *testing.T) {
	dir := t.TempDir()

	path, err := saveImage(dir, &image.GenerationResponse{ID: "remote", URL: "https://x.test/a.png"})
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = saveImage(dir, &image.GenerationResponse{ID: "jpg", URL: "data:image/jpg;base64,aGk="})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "jpg.jpg"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	_, err = saveImage(dir, &image.GenerationResponse{ID: "bad", URL: "data:image/png,plain"})
	assert.Error(t, err)

	_, err = saveImage(dir, &image.GenerationResponse{ID: "bad64", URL: "data:image/png;base64,%%%"})
	assert.Error(t, err)
}

func TestDisplayURL(t *testing.T) {
	assert.Equal(t, "https://x.test/a.png", displayURL("https://x.test/a.png"))
	assert.Equal(t, "data:image/png (4 base64 chars)", displayURL("data:image/png;base64,aGk="))
}

func TestInitLogger(t *testing.T) {
	l := initLogger(config.LogConfig{Level: "warn", Format: "json", OutputPaths: []string{"stderr"}})
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l = initLogger(config.LogConfig{Level: "debug", Format: "console"})
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l = initLogger(config.LogConfig{Level: "nonsense"})
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestStringList(t *testing.T) {
	var s stringList
	require.NoError(t, s.Set("a.png"))
	require.NoError(t, s.Set("b.png"))
	assert.Equal(t, "a.png,b.png", s.String())
}
