package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Service information
	ServiceName    = "celebrum-quant"
	ServiceVersion = "1.0.0"

	httpTracerName     = "celebrum-quant/http"
	businessTracerName = "celebrum-quant/analytics"
	databaseTracerName = "celebrum-quant/database"
)

// TelemetryConfig holds configuration for telemetry
type TelemetryConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRate     float64
}

// DefaultConfig returns default telemetry configuration
func DefaultConfig() *TelemetryConfig {
	return &TelemetryConfig{
		Enabled:        true,
		OTLPEndpoint:   "",
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    "development",
		SampleRate:     1.0,
	}
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// InitTelemetry installs the global tracer provider and W3C propagator. Spans are
// exported over OTLP/HTTP when an endpoint is configured and to stdout otherwise.
func InitTelemetry(config TelemetryConfig) error {
	if !config.Enabled {
		return nil
	}
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	if config.OTLPEndpoint != "" {
		hostport, urlPath, insecure, _, err := normalizeOTLPEndpoint(config.OTLPEndpoint)
		if err != nil {
			return err
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(hostport),
			otlptracehttp.WithURLPath(urlPath),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("otlp trace exporter: %w", err)
		}
		exporter = exp
	} else {
		exp, err := stdouttrace.New()
		if err != nil {
			return fmt.Errorf("stdout trace exporter: %w", err)
		}
		exporter = exp
	}

	name := config.ServiceName
	if name == "" {
		name = ServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("telemetry resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))
	if config.SampleRate <= 0 || config.SampleRate >= 1 {
		sampler = sdktrace.ParentBased(sdktrace.AlwaysSample())
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	SetTracerProvider(tp)
	return nil
}

// SetTracerProvider installs tp globally; tests use it with an in-memory recorder.
func SetTracerProvider(tp *sdktrace.TracerProvider) {
	providerMu.Lock()
	provider = tp
	providerMu.Unlock()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Shutdown flushes and stops the installed tracer provider, if any.
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// GetHTTPTracer returns the tracer used by HTTP middleware.
func GetHTTPTracer() trace.Tracer {
	return otel.Tracer(httpTracerName)
}

// GetBusinessTracer returns the tracer used for analytics spans.
func GetBusinessTracer() trace.Tracer {
	return otel.Tracer(businessTracerName)
}

// GetDatabaseTracer returns the tracer used for database spans.
func GetDatabaseTracer() trace.Tracer {
	return otel.Tracer(databaseTracerName)
}

// normalizeOTLPEndpoint splits a collector URL into the host:port and path that
// otlptracehttp expects, appending /v1/traces unless already present.
func normalizeOTLPEndpoint(raw string) (hostport, urlPath string, insecure bool, resolved string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false, "", fmt.Errorf("invalid OTLP endpoint %q: expected scheme://host[:port][/path]", raw)
	}
	switch u.Scheme {
	case "http":
		insecure = true
	case "https":
		insecure = false
	default:
		return "", "", false, "", fmt.Errorf("invalid OTLP endpoint scheme %q", u.Scheme)
	}

	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, "/v1/traces") {
		path += "/v1/traces"
	}
	return u.Host, path, insecure, u.Scheme + "://" + u.Host + path, nil
}
