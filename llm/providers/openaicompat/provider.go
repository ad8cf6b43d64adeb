// =============================================================================
// PixelQueue OpenAI-Compatible Image Executor
// =============================================================================
// Sends one streamed chat-completions request per generation and folds the
// event stream into a single response shape for the extractor. Also serves
// the model list endpoint with backoff retries.
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/pixelqueue/internal/ctxkeys"
	"github.com/BaSui01/pixelqueue/internal/tlsutil"
	"github.com/BaSui01/pixelqueue/llm/image"
	"github.com/BaSui01/pixelqueue/llm/providers"
	"github.com/BaSui01/pixelqueue/llm/retry"
	"github.com/BaSui01/pixelqueue/types"
)

const (
	instrumentationName = "github.com/BaSui01/pixelqueue/llm/providers/openaicompat"

	DefaultTimeout = 240 * time.Second
	MinTimeout     = time.Second
	MaxTimeout     = 600 * time.Second
)

// Config holds the configuration for an OpenAI-compatible image endpoint.
type Config struct {
	providers.BaseProviderConfig `yaml:",inline"`

	// ProviderName tags errors, logs and spans. Defaults to "openaicompat".
	ProviderName string

	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string

	// ModelsEndpoint defaults to "/v1/models".
	ModelsEndpoint string

	// ModelsRetry defaults to retry.ModelListPolicy().
	ModelsRetry *retry.RetryPolicy

	// MeterProvider defaults to the global OTel provider.
	MeterProvider metric.MeterProvider `yaml:"-"`
}

// Provider executes generation requests against one upstream.
type Provider struct {
	cfg     Config
	client  *http.Client
	logger  *zap.Logger
	retryer *retry.BackoffRetryer
	tracer  trace.Tracer

	requestTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram

	mu      sync.RWMutex
	timeout time.Duration
}

// New creates a provider. A nil logger is replaced by a no-op logger.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openaicompat"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if cfg.Model == "" {
		cfg.Model = image.DefaultModel
	}
	policy := cfg.ModelsRetry
	if policy == nil {
		policy = retry.ModelListPolicy()
	}

	logger = logger.With(zap.String("component", "executor"), zap.String("provider", cfg.ProviderName))
	p := &Provider{
		cfg:     cfg,
		client:  tlsutil.StreamingHTTPClient(),
		logger:  logger,
		retryer: retry.NewBackoffRetryer(policy, logger),
		tracer:  otel.Tracer(instrumentationName),
		timeout: DefaultTimeout,
	}
	p.initInstruments()
	if cfg.Timeout > 0 {
		p.SetTimeout(cfg.Timeout)
	}
	return p
}

// initInstruments 创建 OTel 指标；全局 MeterProvider 未安装时为 no-op
func (p *Provider) initInstruments() {
	mp := p.cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	var err error
	p.requestTotal, err = meter.Int64Counter("image.request.total",
		metric.WithDescription("Total number of image generation requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		p.logger.Warn("otel counter unavailable", zap.Error(err))
		p.requestTotal, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("image.request.total")
	}
	p.requestDuration, err = meter.Float64Histogram("image.request.duration",
		metric.WithDescription("Image generation round trip duration"),
		metric.WithUnit("s"))
	if err != nil {
		p.logger.Warn("otel histogram unavailable", zap.Error(err))
		p.requestDuration, _ = noop.NewMeterProvider().Meter(instrumentationName).Float64Histogram("image.request.duration")
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.cfg.ProviderName }

// SetHTTPClient replaces the transport, mainly for tests and proxies.
func (p *Provider) SetHTTPClient(c *http.Client) {
	if c != nil {
		p.client = c
	}
}

// SetTimeout sets the per-request abort deadline, clamped to [1s, 600s].
func (p *Provider) SetTimeout(d time.Duration) {
	if d < MinTimeout {
		d = MinTimeout
	}
	if d > MaxTimeout {
		d = MaxTimeout
	}
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
}

// Timeout returns the current abort deadline.
func (p *Provider) Timeout() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timeout
}

func (p *Provider) endpoint(path string) string {
	return providers.Endpoint(p.cfg.BaseURL, path)
}

// Execute performs one streamed generation round trip and returns the
// provider response shape, ready for image.Extract.
func (p *Provider) Execute(ctx context.Context, req *image.GenerationRequest) (json.RawMessage, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "nil generation request")
	}
	model := req.ModelOr(p.cfg.Model)

	ctx, span := p.tracer.Start(ctx, "image.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", p.cfg.ProviderName),
			attribute.String("llm.model", model),
			attribute.Int("image.reference_count", referenceCount(req)),
		))
	defer span.End()
	if id, ok := ctxkeys.RequestID(ctx); ok {
		span.SetAttributes(attribute.String("request.id", id))
	}

	start := time.Now()
	out, err := p.execute(ctx, req, model)

	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", p.cfg.ProviderName),
		attribute.String("llm.model", model),
		attribute.String("status", status),
	)
	p.requestTotal.Add(ctx, 1, attrs)
	p.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("response.bytes", len(out)))
	return out, nil
}

func (p *Provider) execute(ctx context.Context, req *image.GenerationRequest, model string) (json.RawMessage, error) {
	logger := p.logger
	if id, ok := ctxkeys.RequestID(ctx); ok {
		logger = logger.With(zap.String("request_id", id))
	}
	content, err := providers.BuildContent(req, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("request prepared",
		zap.String("model", model),
		zap.Int("content_items", len(content)),
		zap.Bool("has_image", providers.HasImage(content)))

	payload, err := json.Marshal(providers.ChatRequest{
		Model:    model,
		Messages: []providers.ChatMessage{{Role: "user", Content: content}},
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := providers.ReadErrorMessage(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			logger.Error("unauthorized", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		}
		return nil, providers.MapHTTPError(resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode), p.cfg.ProviderName).
			WithCause(errors.New(msg))
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, types.NewStreamError("stream not available").WithProvider(p.cfg.ProviderName)
	}

	out, err := DecodeStream(ctx, resp.Body, image.Extract)
	if err != nil {
		if se, ok := types.AsError(err); ok {
			se.Provider = p.cfg.ProviderName
		}
		logger.Warn("stream failed", zap.Error(err))
		return nil, err
	}
	return out, nil
}

func (p *Provider) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.NewStreamError("request aborted").WithCause(ctxErr).WithProvider(p.cfg.ProviderName)
	}
	return types.NewNetworkError(0, err.Error()).WithCause(err).WithProvider(p.cfg.ProviderName)
}

// ListModels fetches the model ids, retrying failures with backoff.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	ctx, span := p.tracer.Start(ctx, "image.list_models",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.provider", p.cfg.ProviderName)))
	defer span.End()

	models, err := retry.Do(ctx, p.retryer, p.listModelsOnce)
	if err != nil {
		p.logger.Error("list models failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("models.count", len(models)))
	return models, nil
}

func (p *Provider) listModelsOnce(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewNetworkError(0, err.Error()).WithCause(err).WithProvider(p.cfg.ProviderName)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg), p.cfg.ProviderName)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewNetworkError(0, "failed to read models response").WithCause(err).WithProvider(p.cfg.ProviderName)
	}
	return providers.DecodeModelList(body), nil
}

func referenceCount(req *image.GenerationRequest) int {
	n := 0
	if req.ReferenceImage != nil {
		n++
	}
	for _, f := range req.ReferenceImages {
		if f != nil {
			n++
		}
	}
	return n
}
