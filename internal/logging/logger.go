package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultBufferSize = 500

// Logger is the subset of *slog.Logger used by packages that only emit logs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = &slog.LevelVar{}
	isInitialized   bool
	mutex           sync.RWMutex
	logBuffer       *RingBuffer
	logCallback     LogCallback
)

// LogCallback receives every entry written to the ring buffer.
type LogCallback func(entry LogEntry)

// Config is the [logging] section of the configuration file.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// Initialize sets up the handler chain and the default logger. Loggers
// handed out by GetLogger before Initialize are rebuilt in place.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true
	if logBuffer == nil {
		logBuffer = NewRingBuffer(defaultBufferSize)
	}

	applyLevels(config)

	for module, levelVar := range moduleLevelVars {
		moduleLoggers[module] = slog.New(createHandler(config.Format, levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(createHandler(config.Format, globalLevelVar)))
}

// SetLevels changes the global and per-module levels without rebuilding
// handlers. The output format is fixed at Initialize.
func SetLevels(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig.Level = config.Level
	globalConfig.Modules = config.Modules
	applyLevels(config)
}

// applyLevels must be called with mutex held.
func applyLevels(config Config) {
	globalLevel := levelOrDefault(config.Level, slog.LevelInfo)
	globalLevelVar.Set(globalLevel)

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(config, module, globalLevel))
	}
}

func moduleLevel(config Config, module string, fallback slog.Level) slog.Level {
	if levelStr, ok := config.Modules[module]; ok {
		return levelOrDefault(levelStr, fallback)
	}
	return fallback
}

func levelOrDefault(level string, fallback slog.Level) slog.Level {
	if parsed := parseLevel(level); parsed != nil {
		return *parsed
	}
	return fallback
}

// GetBuffer returns the ring buffer holding recent log entries, or nil
// before Initialize.
func GetBuffer() *RingBuffer {
	mutex.RLock()
	defer mutex.RUnlock()
	return logBuffer
}

// SetLogCallback installs a callback invoked for each new log entry. The
// API server uses it to forward entries to the event bus.
func SetLogCallback(callback LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = callback
}

func getLogCallback() LogCallback {
	mutex.RLock()
	defer mutex.RUnlock()
	return logCallback
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	if logger, exists := moduleLoggers[module]; exists {
		mutex.RUnlock()
		return logger
	}
	mutex.RUnlock()

	mutex.Lock()
	defer mutex.Unlock()

	if logger, exists := moduleLoggers[module]; exists {
		return logger
	}

	levelVar := &slog.LevelVar{}
	format := "text"
	if isInitialized {
		levelVar.Set(moduleLevel(globalConfig, module, levelOrDefault(globalConfig.Level, slog.LevelInfo)))
		format = globalConfig.Format
	} else {
		levelVar.Set(slog.LevelInfo)
	}

	logger := slog.New(createHandler(format, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

// createHandler builds the handler chain: stdout (text or json), the
// systemd journal when present, and the in-memory ring buffer.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdoutHandler slog.Handler
	if format == "json" {
		stdoutHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdoutHandler = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if isStdoutAvailable() {
		handlers = append(handlers, stdoutHandler)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))
	return NewMultiHandler(handlers...)
}

// isStdoutAvailable reports whether stdout goes anywhere other than /dev/null.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	return parseLevel(level) != nil
}
