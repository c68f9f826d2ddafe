// Package middleware provides HTTP middleware components for authentication,
// authorization, telemetry, and other cross-cutting concerns.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/irfndi/celebrum-quant/internal/logging"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"
	// ContextRequestID is the gin context key holding the request id.
	ContextRequestID = "request_id"
)

// RequestTelemetry stamps each request with an id, annotates the span opened
// by otelgin and logs the request once it completes. Register it after
// otelgin.Middleware.
func RequestTelemetry(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestID, requestID)
		c.Header(RequestIDHeader, requestID)

		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			attrs := []attribute.KeyValue{
				attribute.String("request.id", requestID),
				attribute.String("http.client_ip", c.ClientIP()),
			}
			if route := c.FullPath(); route != "" {
				attrs = append(attrs, attribute.String("http.route", route))
			}
			span.SetAttributes(attrs...)
		}

		start := time.Now()
		c.Next()

		statusCode := c.Writer.Status()
		elapsed := time.Since(start)
		if span.IsRecording() {
			span.SetAttributes(
				attribute.Int64("http.response.time_ms", elapsed.Milliseconds()),
				attribute.Int64("http.response.size_bytes", int64(c.Writer.Size())),
			)
			if statusCode >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
			}
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.LogAPIRequest(c.Request.Method, path, statusCode, elapsed.Milliseconds(), requestID)
	}
}

// RequestID returns the id stamped by RequestTelemetry, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(ContextRequestID)
}

// RecordError records an error on the current span
func RecordError(c *gin.Context, err error, description string) {
	span := trace.SpanFromContext(c.Request.Context())
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, description)
	}
}

// AddSpanAttribute adds an attribute to the current span
func AddSpanAttribute(c *gin.Context, key string, value interface{}) {
	span := trace.SpanFromContext(c.Request.Context())
	if !span.IsRecording() {
		return
	}
	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	case []string:
		span.SetAttributes(attribute.StringSlice(key, v))
	default:
		span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", value)))
	}
}
