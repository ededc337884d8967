// Package logging provides slog loggers with per-module levels.
//
// Records go to stdout (text or json), to the systemd journal when
// journald is reachable, and to an in-memory ring buffer served by the
// HTTP API. Levels can be changed at runtime with SetLevels; the config
// watcher uses this to apply edits to the [logging] section.
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{"capture": "debug"},
//	})
//	logger := logging.GetLogger("capture")
//	logger.Debug("Dequeued frame", "index", 2, "bytes", 614400)
//
// Journal entries carry SYSLOG_IDENTIFIER=v4l2queue and one upper-case
// field per attribute:
//
//	journalctl -t v4l2queue MODULE=capture -f
package logging
