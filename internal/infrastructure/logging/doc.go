// Package logging provides structured logging for usbroles.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the daemon and the CLI.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stdout"   # stdout, stderr
//	  file:
//	    path: "./logs/usbroles.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("scan complete", "devices", 4)
//	logger.Error("scan failed", "error", err)
package logging
