package openaicompat

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/BaSui01/pixelqueue/internal/ctxkeys"
	"github.com/BaSui01/pixelqueue/llm/image"
	"github.com/BaSui01/pixelqueue/llm/providers"
	"github.com/BaSui01/pixelqueue/testutil"
	"github.com/BaSui01/pixelqueue/testutil/fixtures"
)

func collectCounter(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "image.request.total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				out[status.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestExecute_RecordsOTelMetrics(t *testing.T) {
	ok := testutil.NewSSEServer(t, fixtures.MarkdownDeltaFrame(fixtures.SampleImageURL), fixtures.Done)
	denied := testutil.NewSSEServer(t).WithStatus(http.StatusForbidden)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	newProvider := func(baseURL string) *Provider {
		return New(Config{
			BaseProviderConfig: providers.BaseProviderConfig{APIKey: "sk-test", BaseURL: baseURL},
			MeterProvider:      mp,
		}, nil)
	}

	ctx := ctxkeys.WithRequestID(testutil.TestContext(t), "img_1_abc")
	_, err := newProvider(ok.URL).Execute(ctx, &image.GenerationRequest{Prompt: "a cat"})
	require.NoError(t, err)
	_, err = newProvider(ok.URL).Execute(ctx, &image.GenerationRequest{Prompt: "a dog"})
	require.NoError(t, err)
	_, err = newProvider(denied.URL).Execute(ctx, &image.GenerationRequest{Prompt: "nope"})
	require.Error(t, err)

	counts := collectCounter(t, reader)
	assert.Equal(t, int64(2), counts["success"])
	assert.Equal(t, int64(1), counts["error"])
}
