package logger

import (
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs a direct-path HTTP request
func LogRequest(l Logger, method, url string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		l.DebugWithFields("HTTP request completed", fields)
	case statusCode >= 400 && statusCode < 500:
		l.WarnWithFields("HTTP request client error", fields)
	case statusCode >= 500 || statusCode == 0:
		l.ErrorWithFields("HTTP request server error", fields)
	}
}

// LogFetch logs the final outcome of one logical fetch
func LogFetch(l Logger, kind, source, reason string, items int, duration time.Duration) {
	fields := map[string]interface{}{
		"kind":        kind,
		"source":      source,
		"items":       items,
		"duration_ms": duration.Milliseconds(),
	}

	if reason != "" {
		fields["reason"] = reason
		l.WarnWithFields("Fetch failed", fields)
		return
	}
	l.InfoWithFields("Fetch completed", fields)
}

// LogCapture logs a captured network response
func LogCapture(l Logger, pattern, url string, size int) {
	l.DebugWithFields("Response captured", map[string]interface{}{
		"pattern": pattern,
		"url":     url,
		"size":    size,
	})
}

// LogChallenge logs a challenge solver state transition
func LogChallenge(l Logger, kind, phase string, attempt int) {
	l.InfoWithFields("Challenge state changed", map[string]interface{}{
		"challenge": kind,
		"phase":     phase,
		"attempt":   attempt,
	})
}

// LogRateLimit logs rate limiting events
func LogRateLimit(l Logger, endpoint string, delay time.Duration) {
	l.WithFields(map[string]interface{}{
		"endpoint": endpoint,
		"delay_ms": delay.Milliseconds(),
		"action":   "rate_limited",
	}).Warn("Rate limit reached, backing off")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	logger := l.WithField("component", component)
	if len(config) > 0 {
		logger = logger.WithFields(config)
	}
	logger.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) Zerolog() *zerolog.Logger                                  { nop := zerolog.Nop(); return &nop }
