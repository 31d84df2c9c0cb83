package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New("debug", FormatJSON, &buf), "pipeline")
	logger.Info().Int("frame", 3).Msg("frame analysed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "pipeline" {
		t.Errorf("Expected component field, got %v", entry["component"])
	}
	if entry["frame"] != float64(3) {
		t.Errorf("Expected frame 3, got %v", entry["frame"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("Timestamp is missing")
	}
}

func TestParseLevel(t *testing.T) {
	if lvl := ParseLevel("WARN"); lvl != zerolog.WarnLevel {
		t.Errorf("Expected warn, got %v", lvl)
	}
	if lvl := ParseLevel("verbose"); lvl != zerolog.InfoLevel {
		t.Errorf("Unknown level must fall back to info, got %v", lvl)
	}
	var buf bytes.Buffer
	errLogger := New("error", FormatJSON, &buf)
	errLogger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("Info must be filtered at error level, got %q", buf.String())
	}
}
