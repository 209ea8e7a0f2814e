package profiler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gormlogger "gorm.io/gorm/logger"
)

// logAdapter implements gorm.io/gorm/logger.Interface over a
// zerolog.Logger, adapted from pkg/x_db/logger.go's x_log-based version.
type logAdapter struct {
	log           zerolog.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newLogAdapter(log zerolog.Logger, level gormlogger.LogLevel) gormlogger.Interface {
	return &logAdapter{log: log.With().Str("component", "profiler").Logger(), level: level, slowThreshold: 200 * time.Millisecond}
}

func (l *logAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *logAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Info().Msgf(msg, data...)
	}
}

func (l *logAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warn().Msgf(msg, data...)
	}
}

func (l *logAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Error().Msgf(msg, data...)
	}
}

func (l *logAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	e := l.log.With().Str("elapsed", elapsed.String()).Int64("rows", rows).Logger()

	switch {
	case err != nil && l.level >= gormlogger.Error:
		e.Error().Err(err).Msg(sql)
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		e.Warn().Msgf("slow sql: %s", sql)
	case l.level >= gormlogger.Info:
		e.Info().Msg(sql)
	}
}
