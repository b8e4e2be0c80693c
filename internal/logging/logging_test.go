package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWithWriter_Formats(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(slog.LevelInfo, "text", &buf).Info("tick", "trial_id", 3)
	if !strings.Contains(buf.String(), "trial_id=3") {
		t.Errorf("text output missing attr: %s", buf.String())
	}

	buf.Reset()
	NewWithWriter(slog.LevelInfo, "json", &buf).Info("tick", "trial_id", 3)
	if !strings.Contains(buf.String(), `"trial_id":3`) {
		t.Errorf("json output missing attr: %s", buf.String())
	}
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(slog.LevelWarn, "text", &buf)

	logger.Info("suppressed")
	logger.Warn("emitted")

	out := buf.String()
	if strings.Contains(out, "suppressed") || !strings.Contains(out, "emitted") {
		t.Errorf("level filtering broken: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
