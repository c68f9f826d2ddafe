package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNormalizeOTLPEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hostport string
		urlPath  string
		insecure bool
		resolved string
		wantErr  bool
	}{
		{"default localhost", "http://localhost:4318", "localhost:4318", "/v1/traces", true, "http://localhost:4318/v1/traces", false},
		{"trailing slash base", "http://collector:4318/", "collector:4318", "/v1/traces", true, "http://collector:4318/v1/traces", false},
		{"already traces path", "http://collector:4318/v1/traces", "collector:4318", "/v1/traces", true, "http://collector:4318/v1/traces", false},
		{"custom base path", "https://otlp.example.com:4318/otlp", "otlp.example.com:4318", "/otlp/v1/traces", false, "https://otlp.example.com:4318/otlp/v1/traces", false},
		{"invalid no scheme", "collector:4318", "", "", true, "", true},
		{"unsupported scheme", "grpc://collector:4317", "", "", false, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hp, path, insecure, resolved, err := normalizeOTLPEndpoint(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hostport, hp)
			assert.Equal(t, tt.urlPath, path)
			assert.Equal(t, tt.insecure, insecure)
			assert.Equal(t, tt.resolved, resolved)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.True(t, config.Enabled)
	assert.Equal(t, ServiceName, config.ServiceName)
	assert.Equal(t, ServiceVersion, config.ServiceVersion)
	assert.Equal(t, 1.0, config.SampleRate)
}

func TestInitTelemetry_Disabled(t *testing.T) {
	assert.NoError(t, InitTelemetry(TelemetryConfig{Enabled: false}))
	assert.NoError(t, Shutdown(context.Background()))
}

func TestInitTelemetry_InvalidEndpoint(t *testing.T) {
	err := InitTelemetry(TelemetryConfig{Enabled: true, OTLPEndpoint: "not a url"})
	assert.Error(t, err)
}

func TestSetTracerProvider_InstallsGlobal(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	SetTracerProvider(tp)
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	_, span := GetHTTPTracer().Start(context.Background(), "sample-span")
	span.End()

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "sample-span", recorder.Ended()[0].Name())
	assert.NotNil(t, otel.GetTextMapPropagator())
}

func spanAttributes(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestBusinessTracer_CointegrationSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	bt := NewBusinessTracerWithTracer(tp.Tracer("test"))

	_, span := bt.TraceCointegrationAnalysis(context.Background(), []string{"BTC/USDT", "ETH/USDT"}, 2, "model1")
	bt.RecordCointegrationResult(span, CointegrationMetrics{
		Observations: 498,
		Rank:         1,
		Eigenvalues:  []float64{0.31, 0.002},
		Duration:     15 * time.Millisecond,
	})
	RecordError(span, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "cointegration_analysis", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)

	attrs := spanAttributes(ended[0])
	assert.Equal(t, "BTC/USDT,ETH/USDT", attrs["symbols"].AsString())
	assert.Equal(t, int64(2), attrs["series"].AsInt64())
	assert.Equal(t, "model1", attrs["model"].AsString())
	assert.Equal(t, int64(1), attrs["rank"].AsInt64())
	assert.Equal(t, []float64{0.31, 0.002}, attrs["eigenvalues"].AsFloat64Slice())
	assert.Equal(t, int64(15), attrs["duration_ms"].AsInt64())
}

func TestBusinessTracer_FilterSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	bt := NewBusinessTracerWithTracer(tp.Tracer("test"))

	ctx, replay := bt.TraceReplay(context.Background(), "btc-eth", []string{"BTC/USDT", "ETH/USDT"}, 100)
	_, update := bt.TraceFilterUpdate(ctx, "btc-eth", 1)
	bt.RecordFilterUpdate(update, FilterMetrics{Betas: []float64{1.7}, Spread: 0.01, ZScore: 2.2, Signal: "short_spread", Updates: 30})
	update.End()
	RecordError(replay, errors.New("prices unavailable"))
	replay.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "hedge_filter_update", ended[0].Name())
	assert.Equal(t, ended[1].SpanContext().SpanID(), ended[0].Parent().SpanID())

	attrs := spanAttributes(ended[0])
	assert.Equal(t, "short_spread", attrs["signal"].AsString())
	assert.Equal(t, 2.2, attrs["zscore"].AsFloat64())

	assert.Equal(t, "hedge_filter_replay", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "prices unavailable", ended[1].Status().Description)
}

func TestBusinessTracer_NotificationSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	bt := NewBusinessTracerWithTracer(tp.Tracer("test"))

	_, span := bt.TraceNotification(context.Background(), "spread_signal", "telegram")
	span.End()

	require.Len(t, recorder.Ended(), 1)
	attrs := spanAttributes(recorder.Ended()[0])
	assert.Equal(t, "telegram", attrs["channel"].AsString())
}
