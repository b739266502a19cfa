package solvelog

import (
	"context"
	"fmt"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"tokscraper/pkg/logger"
)

// GormLogger routes gorm's logging through the application logger
type GormLogger struct {
	logger.Logger
	LogLevel gormlogger.LogLevel
}

// NewGormLogger creates a bridge that only reports warnings and errors
func NewGormLogger(l logger.Logger) *GormLogger {
	return &GormLogger{
		Logger:   l.WithField("component", "solvelog"),
		LogLevel: gormlogger.Warn,
	}
}

// LogMode sets the log level
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.LogLevel = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		l.Logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		l.Logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		l.Logger.Error(fmt.Sprintf(msg, data...))
	}
}

// Trace logs failed and slow statements
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := map[string]interface{}{
		"sql":     sql,
		"rows":    rows,
		"time_ms": float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && l.LogLevel >= gormlogger.Error && err != gormlogger.ErrRecordNotFound:
		fields["error"] = err.Error()
		l.Logger.ErrorWithFields("SQL statement failed", fields)
	case elapsed > time.Second && l.LogLevel >= gormlogger.Warn:
		fields["threshold"] = "1s"
		l.Logger.WarnWithFields("slow SQL statement", fields)
	case l.LogLevel == gormlogger.Info:
		l.Logger.DebugWithFields("SQL statement", fields)
	}
}
