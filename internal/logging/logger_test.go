package logging

import (
	"log/slog"
	"testing"
)

func TestGetLoggerReturnsSameInstance(t *testing.T) {
	a := GetLogger("consumer")
	b := GetLogger("consumer")
	if a != b {
		t.Error("GetLogger returned different instances for the same module")
	}
}

func TestInitializeAppliesModuleLevels(t *testing.T) {
	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"discovery": "debug"},
	})

	logger := GetLogger("discovery")
	if !logger.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("module override to debug was not applied")
	}

	other := GetLogger("upload")
	if other.Enabled(t.Context(), slog.LevelDebug) {
		t.Error("module without override should stay at info")
	}
}

func TestHistoryRecordsEntries(t *testing.T) {
	Initialize(Config{Level: "info", Format: "text"})

	GetLogger("registry").Info("device registered", "device_id", "10101010")

	entries := GetHistory().All()
	if len(entries) == 0 {
		t.Fatal("history is empty after logging")
	}

	last := entries[len(entries)-1]
	if last.Module != "registry" {
		t.Errorf("entry module = %q, want %q", last.Module, "registry")
	}
	if last.Message != "device registered" {
		t.Errorf("entry message = %q", last.Message)
	}
	if last.Attributes["device_id"] != "10101010" {
		t.Errorf("entry attributes = %v", last.Attributes)
	}
}

func TestHistoryWrapsAtCapacity(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(Entry{Message: string(rune('a' + i))})
	}

	all := h.All()
	if len(all) != 3 {
		t.Fatalf("history holds %d entries, want 3", len(all))
	}
	if all[0].Message != "c" || all[2].Message != "e" {
		t.Errorf("history order wrong: %v", all)
	}
}
