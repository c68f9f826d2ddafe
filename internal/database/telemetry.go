package database

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/irfndi/celebrum-quant/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SlowQueryThreshold is the duration above which a statement is logged as slow.
const SlowQueryThreshold = 500 * time.Millisecond

// TracedDB wraps a DatabasePool and records a span per statement.
type TracedDB struct {
	pool   DatabasePool
	tracer trace.Tracer
	logger *logrus.Logger
}

// NewTracedDB creates a traced pool using the global database tracer.
func NewTracedDB(pool DatabasePool, logger *logrus.Logger) *TracedDB {
	return NewTracedDBWithTracer(pool, telemetry.GetDatabaseTracer(), logger)
}

// NewTracedDBWithTracer creates a traced pool over a specific tracer.
func NewTracedDBWithTracer(pool DatabasePool, tracer trace.Tracer, logger *logrus.Logger) *TracedDB {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TracedDB{pool: pool, tracer: tracer, logger: logger}
}

func (db *TracedDB) start(ctx context.Context, sql string) (context.Context, trace.Span, time.Time) {
	operation, table := parseSQL(sql)
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
		attribute.String("db.statement", truncateSQL(sql, 200)),
	}
	if table != "" {
		attrs = append(attrs, attribute.String("db.table", table))
	}
	ctx, span := db.tracer.Start(ctx, "db.sql."+strings.ToLower(operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, span, time.Now()
}

func (db *TracedDB) finish(span trace.Span, sql string, started time.Time, rowsAffected int64, err error) {
	duration := time.Since(started)
	span.SetAttributes(
		attribute.Int64("db.duration_ms", duration.Milliseconds()),
		attribute.Int64("db.rows_affected", rowsAffected),
	)
	finishSpanWithError(span, err)
	span.End()

	if duration > SlowQueryThreshold {
		db.logger.WithFields(logrus.Fields{
			"statement":   truncateSQL(sql, 100),
			"duration_ms": duration.Milliseconds(),
		}).Warn("Slow database query")
	}
}

// Query executes a query that returns rows.
func (db *TracedDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span, started := db.start(ctx, sql)
	rows, err := db.pool.Query(ctx, sql, args...)
	db.finish(span, sql, started, 0, err)
	return rows, err
}

// QueryRow executes a query that returns at most one row. The span ends when
// the row is scanned.
func (db *TracedDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span, started := db.start(ctx, sql)
	row := db.pool.QueryRow(ctx, sql, args...)
	return &tracedRow{row: row, done: func(err error) { db.finish(span, sql, started, 0, err) }}
}

// Exec executes a statement without returning rows.
func (db *TracedDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span, started := db.start(ctx, sql)
	tag, err := db.pool.Exec(ctx, sql, args...)
	db.finish(span, sql, started, tag.RowsAffected(), err)
	return tag, err
}

type tracedRow struct {
	row  pgx.Row
	done func(error)
}

func (r *tracedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	r.done(err)
	return err
}

// finishSpanWithError sets the span status. pgx.ErrNoRows is not a failure.
func finishSpanWithError(span trace.Span, err error) {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		span.SetAttributes(
			attribute.String("pg.code", pgErr.Code),
			attribute.String("pg.severity", pgErr.Severity),
			attribute.String("pg.constraint", pgErr.ConstraintName),
		)
	}
}

// RedisTracingHook implements redis.Hook with OpenTelemetry spans.
type RedisTracingHook struct {
	tracer trace.Tracer
}

// NewRedisTracingHook creates a hook over the given tracer, or the global
// database tracer when nil.
func NewRedisTracingHook(tracer trace.Tracer) *RedisTracingHook {
	if tracer == nil {
		tracer = telemetry.GetDatabaseTracer()
	}
	return &RedisTracingHook{tracer: tracer}
}

// DialHook is called when a new connection is established.
func (h *RedisTracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		ctx, span := h.tracer.Start(ctx, "db.redis.dial",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", "redis"),
				attribute.String("net.peer.name", addr),
				attribute.String("net.transport", network),
			),
		)
		defer span.End()

		conn, err := next(ctx, network, addr)
		finishRedisSpan(span, err)
		return conn, err
	}
}

// ProcessHook is called around each command.
func (h *RedisTracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		ctx, span := h.tracer.Start(ctx, "db.redis."+cmd.Name(),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", "redis"),
				attribute.String("db.operation", cmd.Name()),
			),
		)
		defer span.End()

		err := next(ctx, cmd)
		finishRedisSpan(span, err)
		return err
	}
}

// ProcessPipelineHook is called around pipelined commands.
func (h *RedisTracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		names := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, cmd.Name())
		}
		ctx, span := h.tracer.Start(ctx, "db.redis.pipeline",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", "redis"),
				attribute.StringSlice("db.commands", names),
			),
		)
		defer span.End()

		err := next(ctx, cmds)
		finishRedisSpan(span, err)
		return err
	}
}

func finishRedisSpan(span trace.Span, err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func parseSQL(sql string) (operation string, table string) {
	sql = strings.TrimSpace(strings.ToUpper(sql))

	switch {
	case strings.HasPrefix(sql, "SELECT"), strings.HasPrefix(sql, "WITH"):
		operation = "SELECT"
	case strings.HasPrefix(sql, "INSERT"):
		operation = "INSERT"
	case strings.HasPrefix(sql, "UPDATE"):
		operation = "UPDATE"
	case strings.HasPrefix(sql, "DELETE"):
		operation = "DELETE"
	case strings.HasPrefix(sql, "CREATE"):
		operation = "CREATE"
	default:
		operation = "OTHER"
	}

	table = extractTableName(sql)
	return
}

func extractTableName(sql string) string {
	sql = strings.ToUpper(sql)

	patterns := []struct {
		prefix string
		offset int
	}{
		{"FROM ", 5},
		{"INTO ", 5},
		{"UPDATE ", 7},
		{"EXISTS ", 7},
		{"TABLE ", 6},
	}

	for _, p := range patterns {
		if idx := strings.Index(sql, p.prefix); idx != -1 {
			rest := strings.TrimSpace(sql[idx+p.offset:])
			end := strings.IndexAny(rest, " \t\n(),")
			if end == -1 {
				end = len(rest)
			}
			if end > 0 {
				return strings.ToLower(rest[:end])
			}
		}
	}
	return ""
}

func truncateSQL(sql string, maxLen int) string {
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen] + "..."
}
