// Package logging provides per-module slog loggers for the bridge.
//
// Each subsystem asks for its logger by module name (GetLogger("consumer"),
// GetLogger("discovery"), ...). Levels are adjustable per module at runtime
// through slog.LevelVar, and records fan out to stdout, the systemd journal
// when available, and an in-memory ring of recent entries served by the API.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const historySize = 1000

var (
	mu            sync.RWMutex
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevels  = make(map[string]*slog.LevelVar)
	globalLevel   = &slog.LevelVar{}
	globalConfig  Config
	initialized   bool
	history       *History
)

// Config selects the global level and format plus per-module level overrides.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

// Initialize sets up the logging system. Module loggers created before
// Initialize are rebuilt on the configured handler chain, and GetLogger
// returns the rebuilt ones; a *slog.Logger obtained before Initialize keeps
// the handler it was created with.
func Initialize(config Config) {
	mu.Lock()
	defer mu.Unlock()

	globalConfig = config
	initialized = true
	history = NewHistory(historySize)

	level := parseLevel(config.Level, slog.LevelInfo)
	globalLevel.Set(level)

	for module, levelVar := range moduleLevels {
		moduleLevel := level
		if s, ok := config.Modules[module]; ok {
			moduleLevel = parseLevel(s, moduleLevel)
		}
		levelVar.Set(moduleLevel)

		moduleLoggers[module] = slog.New(buildHandler(config.Format, levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(buildHandler(config.Format, globalLevel)))
}

// GetLogger returns the logger for a module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	if logger, ok := moduleLoggers[module]; ok {
		mu.RUnlock()
		return logger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	format := "text"
	if initialized {
		level := parseLevel(globalConfig.Level, slog.LevelInfo)
		if s, ok := globalConfig.Modules[module]; ok {
			level = parseLevel(s, level)
		}
		levelVar.Set(level)
		format = globalConfig.Format
	}

	logger := slog.New(buildHandler(format, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevels[module] = levelVar
	return logger
}

// SetModuleLevel changes one module's level at runtime.
func SetModuleLevel(module, level string) {
	mu.Lock()
	defer mu.Unlock()

	if levelVar, ok := moduleLevels[module]; ok {
		levelVar.Set(parseLevel(level, levelVar.Level()))
	}
}

// GetHistory returns the ring of recent log entries, nil before Initialize.
func GetHistory() *History {
	mu.RLock()
	defer mu.RUnlock()
	return history
}

// buildHandler assembles the stdout/journal/history chain at the given level.
func buildHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdout slog.Handler
	if format == "json" {
		stdout = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdout = slog.NewTextHandler(os.Stdout, opts)
	}

	handlers := fanoutHandler{stdout}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewHistoryHandler(level))
	return handlers
}

// fanoutHandler duplicates each record to every member: stdout, the journal
// when present, and the history ring each see records at their own level.
type fanoutHandler []slog.Handler

// Enabled implements slog.Handler.
func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler.
func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

// WithGroup implements slog.Handler.
func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

func parseLevel(s string, fallback slog.Level) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}
