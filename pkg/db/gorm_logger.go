package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/bizledger-backend/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowQuery is the statement duration above which queries are logged.
const DefaultSlowQuery = 250 * time.Millisecond

// queryLogger forwards GORM diagnostics to the service logger. Only slow
// statements and real failures are reported; record-not-found is expected
// on lookups and stays quiet.
type queryLogger struct {
	logg     *logger.Logger
	database string
	slow     time.Duration
	level    gormlogger.LogLevel
}

func newQueryLogger(logg *logger.Logger, database string, slow time.Duration) gormlogger.Interface {
	if slow <= 0 {
		slow = DefaultSlowQuery
	}
	return &queryLogger{logg: logg, database: database, slow: slow, level: gormlogger.Warn}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *q
	clone.level = level
	return &clone
}

func (q *queryLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if q.level >= gormlogger.Info {
		q.logg.Info(q.fields(ctx, nil), fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if q.level >= gormlogger.Warn {
		q.logg.Warn(q.fields(ctx, nil), fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if q.level >= gormlogger.Error {
		q.logg.Error(q.fields(ctx, nil), "gorm error", fmt.Errorf(msg, args...))
	}
}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && q.level >= gormlogger.Error:
		statement, rows := fc()
		q.logg.Error(q.fields(ctx, map[string]any{
			"sql":         statement,
			"rows":        rows,
			"duration_ms": elapsed.Milliseconds(),
		}), "query failed", err)
	case elapsed > q.slow && q.level >= gormlogger.Warn:
		statement, rows := fc()
		q.logg.Warn(q.fields(ctx, map[string]any{
			"sql":         statement,
			"rows":        rows,
			"duration_ms": elapsed.Milliseconds(),
			"slow_ms":     q.slow.Milliseconds(),
		}), "slow query")
	case q.level >= gormlogger.Info:
		statement, rows := fc()
		q.logg.Debug(q.fields(ctx, map[string]any{
			"sql":         statement,
			"rows":        rows,
			"duration_ms": elapsed.Milliseconds(),
		}), "query")
	}
}

func (q *queryLogger) fields(ctx context.Context, extra map[string]any) context.Context {
	ctx = q.logg.WithField(ctx, "database", q.database)
	if len(extra) > 0 {
		ctx = q.logg.WithFields(ctx, extra)
	}
	return ctx
}
