// Package logging provides structured logging for the WyzeSense bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the application.
//
// # Features
//
//   - JSON or text console output at a configurable level
//   - A rolling debug log file (lumberjack) that records everything from DEBUG up
//   - Default fields (service, version) on all log entries
//
// # Configuration
//
//	logging:
//	  level: "info"      # console level: debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//	  file:
//	    path: "logs/wyzesense2mqtt.log"
//	    max_size: 10     # MB before rotation
//	    max_backups: 3
//	    max_age: 28      # days
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Info("gateway session open", "mac", mac)
package logging
