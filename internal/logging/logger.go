package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger defines the structured logging methods shared by the slog fallback
// logger and the OTLP-backed logger.
type Logger interface {
	WithService(serviceName string) *slog.Logger
	WithComponent(componentName string) *slog.Logger
	WithOperation(operationName string) *slog.Logger
	WithRequestID(requestID string) *slog.Logger
	WithSymbols(symbols []string) *slog.Logger
	WithError(err error) *slog.Logger
	LogStartup(serviceName string, version string, port int)
	LogShutdown(serviceName string, reason string)
	LogCacheOperation(operation string, key string, hit bool, duration int64)
	LogDatabaseOperation(operation string, table string, duration int64, rowsAffected int64)
	LogAPIRequest(method string, path string, statusCode int, duration int64, requestID string)
	LogAnalysis(event AnalysisEvent)
	LogSignal(pairID string, signal string, zScore float64)
	Logger() *slog.Logger
}

// AnalysisEvent summarizes one completed cointegration analysis.
type AnalysisEvent struct {
	ReportID     string
	Symbols      []string
	Model        string
	Lags         int
	Observations int
	Rank         int
	DurationMS   int64
	CacheHit     bool
}

// StandardLogger provides a standardized logging interface
type StandardLogger struct {
	logger Logger
}

// NewStandardLogger creates a JSON logger on stdout at the given level.
func NewStandardLogger(logLevel string) *StandardLogger {
	return NewStandardLoggerWithWriter(os.Stdout, logLevel)
}

// NewStandardLoggerWithWriter creates a JSON logger writing to w.
func NewStandardLoggerWithWriter(w io.Writer, logLevel string) *StandardLogger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: getSlogLevel(logLevel),
	}))
	return &StandardLogger{logger: &slogLogger{logger: logger}}
}

// NewStandardOTLPLogger creates a logger that exports through OTLP, falling back
// to stdout JSON when the exporter cannot be created.
func NewStandardOTLPLogger(config OTLPConfig) (*StandardLogger, *OTLPLogger) {
	otlpLogger, err := NewOTLPLogger(config)
	if err != nil {
		return NewStandardLogger(config.LogLevel), nil
	}
	return &StandardLogger{logger: &slogLogger{logger: otlpLogger.Logger()}}, otlpLogger
}

// SetLogger sets the underlying logger implementation
func (l *StandardLogger) SetLogger(logger Logger) {
	l.logger = logger
}

func (l *StandardLogger) WithService(serviceName string) *slog.Logger {
	return l.logger.WithService(serviceName)
}

func (l *StandardLogger) WithComponent(componentName string) *slog.Logger {
	return l.logger.WithComponent(componentName)
}

func (l *StandardLogger) WithOperation(operationName string) *slog.Logger {
	return l.logger.WithOperation(operationName)
}

func (l *StandardLogger) WithRequestID(requestID string) *slog.Logger {
	return l.logger.WithRequestID(requestID)
}

func (l *StandardLogger) WithSymbols(symbols []string) *slog.Logger {
	return l.logger.WithSymbols(symbols)
}

func (l *StandardLogger) WithError(err error) *slog.Logger {
	return l.logger.WithError(err)
}

func (l *StandardLogger) LogStartup(serviceName string, version string, port int) {
	l.logger.LogStartup(serviceName, version, port)
}

func (l *StandardLogger) LogShutdown(serviceName string, reason string) {
	l.logger.LogShutdown(serviceName, reason)
}

func (l *StandardLogger) LogCacheOperation(operation string, key string, hit bool, duration int64) {
	l.logger.LogCacheOperation(operation, key, hit, duration)
}

func (l *StandardLogger) LogDatabaseOperation(operation string, table string, duration int64, rowsAffected int64) {
	l.logger.LogDatabaseOperation(operation, table, duration, rowsAffected)
}

func (l *StandardLogger) LogAPIRequest(method string, path string, statusCode int, duration int64, requestID string) {
	l.logger.LogAPIRequest(method, path, statusCode, duration, requestID)
}

// LogAnalysis records a completed cointegration analysis.
func (l *StandardLogger) LogAnalysis(event AnalysisEvent) {
	l.logger.LogAnalysis(event)
}

// LogSignal records a spread signal transition for a tracked pair.
func (l *StandardLogger) LogSignal(pairID string, signal string, zScore float64) {
	l.logger.LogSignal(pairID, signal, zScore)
}

// Logger returns the underlying *slog.Logger
func (l *StandardLogger) Logger() *slog.Logger {
	return l.logger.Logger()
}

// getSlogLevel converts string level to slog.Level
func getSlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLogrusLevel converts string level to logrus.Level
func ParseLogrusLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// NewLogrusLogger returns a JSON logrus logger for services and repositories.
func NewLogrusLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(ParseLogrusLevel(level))
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger
}

// slogLogger implements Logger on top of any *slog.Logger.
type slogLogger struct {
	logger *slog.Logger
}

func (s *slogLogger) WithService(serviceName string) *slog.Logger {
	return s.logger.With("service", serviceName)
}

func (s *slogLogger) WithComponent(componentName string) *slog.Logger {
	return s.logger.With("component", componentName)
}

func (s *slogLogger) WithOperation(operationName string) *slog.Logger {
	return s.logger.With("operation", operationName)
}

func (s *slogLogger) WithRequestID(requestID string) *slog.Logger {
	return s.logger.With("request_id", requestID)
}

func (s *slogLogger) WithSymbols(symbols []string) *slog.Logger {
	return s.logger.With("symbols", strings.Join(symbols, ","))
}

func (s *slogLogger) WithError(err error) *slog.Logger {
	if err == nil {
		return s.logger
	}
	return s.logger.With("error", err.Error())
}

func (s *slogLogger) LogStartup(serviceName string, version string, port int) {
	s.logger.Info("Service starting",
		"event", "startup",
		"service", serviceName,
		"version", version,
		"port", port,
	)
}

func (s *slogLogger) LogShutdown(serviceName string, reason string) {
	s.logger.Info("Service shutting down",
		"event", "shutdown",
		"service", serviceName,
		"reason", reason,
	)
}

func (s *slogLogger) LogCacheOperation(operation string, key string, hit bool, duration int64) {
	s.logger.Debug("Cache operation",
		"event", "cache_operation",
		"operation", operation,
		"key", key,
		"hit", hit,
		"duration_ms", duration,
	)
}

func (s *slogLogger) LogDatabaseOperation(operation string, table string, duration int64, rowsAffected int64) {
	s.logger.Debug("Database operation",
		"event", "database_operation",
		"operation", operation,
		"table", table,
		"duration_ms", duration,
		"rows_affected", rowsAffected,
	)
}

func (s *slogLogger) LogAPIRequest(method string, path string, statusCode int, duration int64, requestID string) {
	s.logger.Info("API request",
		"event", "api_request",
		"method", method,
		"path", path,
		"status_code", statusCode,
		"duration_ms", duration,
		"request_id", requestID,
	)
}

func (s *slogLogger) LogAnalysis(event AnalysisEvent) {
	s.logger.Info("Cointegration analysis completed",
		"event", "cointegration_analysis",
		"report_id", event.ReportID,
		"symbols", strings.Join(event.Symbols, ","),
		"model", event.Model,
		"lags", event.Lags,
		"observations", event.Observations,
		"rank", event.Rank,
		"duration_ms", event.DurationMS,
		"cache_hit", event.CacheHit,
	)
}

func (s *slogLogger) LogSignal(pairID string, signal string, zScore float64) {
	s.logger.Info("Spread signal",
		"event", "spread_signal",
		"pair_id", pairID,
		"signal", signal,
		"zscore", zScore,
	)
}

func (s *slogLogger) Logger() *slog.Logger {
	return s.logger
}
