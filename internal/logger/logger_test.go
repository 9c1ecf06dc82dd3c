package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"info":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info().Msg("hidden")
	log.Warn().Str("dataset", "retailer").Msg("visible")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(out), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", out, err)
	}
	if entry["message"] != "visible" || entry["dataset"] != "retailer" || entry["level"] != "warn" {
		t.Errorf("unexpected log entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected a timestamp field")
	}
}
