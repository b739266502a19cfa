// Package logger provides the structured logging interface used across the scraper.
//
// It wraps zerolog and adds:
//   - console output on stderr, colored on a terminal, or JSON with format: json
//   - optional JSON file output rotated by lumberjack
//   - a process-wide logger (Initialize, GetLogger)
//   - NewNopLogger and NewTestLogger for tests
//
// Basic usage:
//
//	cfg := &config.LoggingConfig{Level: "info", File: "logs/tokscraper.log", MaxSize: 50}
//	if err := logger.Initialize(cfg); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "orchestrator")
//	log.InfoWithFields("Fetch completed", map[string]interface{}{"kind": "user_info"})
package logger
