// Package logging provides structured logging with per-module log level
// configuration.
//
// The logging system uses Go's slog package with automatic output routing:
// logs go to stdout as text or json, and additionally to the systemd journal
// when journald is available. The worker process never logs to stderr; that
// stream is reserved for crash output, which the supervisor captures and
// surfaces as a process error.
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"camera": "debug", // per-module overrides
//			"wire":   "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("worker")
//	logger.Info("listening", "port", 5855)
//
// The worker subprocess receives its level as a positional integer on the
// Python logging scale (10=debug, 20=info, 30=warn, 40=error); LevelName and
// LevelNumber convert between that and the string levels used here.
//
// When running under systemd:
//
//	journalctl -t camlink -f
//	journalctl -t camlink MODULE=camera
package logging
