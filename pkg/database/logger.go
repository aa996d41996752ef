package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"roomchat/pkg/logging"
)

// queryLogger sends gorm's output through the process logger so SQL errors
// follow LOG_FORMAT like everything else.
type queryLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newQueryLogger() gormlogger.Interface {
	return &queryLogger{level: gormlogger.Warn, slowThreshold: 500 * time.Millisecond}
}

func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *queryLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		logging.Info().Msg("[db] " + fmt.Sprintf(msg, data...))
	}
}

func (l *queryLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		logging.Warn().Msg("[db] " + fmt.Sprintf(msg, data...))
	}
}

func (l *queryLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		logging.Error().Msg("[db] " + fmt.Sprintf(msg, data...))
	}
}

func (l *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var ev *zerolog.Event
	msg := "[db] query"
	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		ev = logging.Error().Err(err)
		msg = "[db] query failed"
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		ev = logging.Warn()
		msg = "[db] slow query"
	case l.level >= gormlogger.Info:
		ev = logging.Debug()
	default:
		return
	}
	sql, rows := fc()
	ev.Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg(msg)
}
