package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// JournalHandler is a slog.Handler that sends records to the systemd
// journal with structured fields.
type JournalHandler struct {
	level slog.Leveler
	attrs []slog.Attr
}

// NewJournalHandler creates a journal handler at the given level.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	priority := levelToPriority(r.Level)

	fields := map[string]string{
		"SYSLOG_IDENTIFIER": "tunerbridge",
	}
	for _, a := range h.attrs {
		addField(fields, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(fields, a)
		return true
	})

	return journal.Send(r.Message, priority, fields)
}

// WithAttrs implements slog.Handler.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &JournalHandler{level: h.level, attrs: merged}
}

// WithGroup implements slog.Handler. Journal fields are flat; groups are
// dropped rather than encoded.
func (h *JournalHandler) WithGroup(string) slog.Handler {
	return h
}

func levelToPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func addField(fields map[string]string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}

	key := strings.ToUpper(strings.ReplaceAll(a.Key, ".", "_"))
	fields[key] = fmt.Sprint(a.Value.Any())
}

// IsJournalAvailable reports whether the systemd journal can be reached.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
