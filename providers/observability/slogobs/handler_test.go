package slogobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(format Format, level slog.Level, colors bool) (*slog.Logger, *bytes.Buffer) {
	buffer := &bytes.Buffer{}
	handler := NewHandler(&HandlerOptions{Format: format, Level: level, Output: buffer, Colors: &colors})
	return slog.New(handler), buffer
}

func TestHandler_Compact(t *testing.T) {
	logger, buffer := newTestLogger(FormatCompact, slog.LevelInfo, false)
	logger.Info("Node finished", "node.id", "a1", "cached", true)

	line := buffer.String()
	if !strings.Contains(line, " INFO Node finished → ") {
		t.Errorf("unexpected compact line: %q", line)
	}
	if !strings.Contains(line, `"node.id":"a1"`) || !strings.Contains(line, `"cached":true`) {
		t.Errorf("expected JSON attributes, got %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Errorf("expected no escape codes when colors are off, got %q", line)
	}
}

func TestHandler_CompactColors(t *testing.T) {
	logger, buffer := newTestLogger(FormatCompact, slog.LevelInfo, true)
	logger.Error("boom")

	if !strings.Contains(buffer.String(), "\x1b[") {
		t.Errorf("expected ANSI escape codes, got %q", buffer.String())
	}
}

func TestHandler_JSON(t *testing.T) {
	logger, buffer := newTestLogger(FormatJSON, slog.LevelDebug, false)
	logger.Debug("Run started", "run.id", "r1", "error", errors.New("nope"))

	var decoded map[string]interface{}
	if err := json.Unmarshal(buffer.Bytes(), &decoded); err != nil {
		t.Fatalf("expected valid JSON, got %q: %v", buffer.String(), err)
	}
	if decoded["level"] != "DEBUG" || decoded["msg"] != "Run started" || decoded["run.id"] != "r1" {
		t.Errorf("unexpected JSON record: %v", decoded)
	}
	if decoded["error"] != "nope" {
		t.Errorf("expected error rendered as its message, got %v", decoded["error"])
	}
}

func TestHandler_PrettySortsAttributes(t *testing.T) {
	logger, buffer := newTestLogger(FormatPretty, slog.LevelInfo, false)
	logger.Info("Graph changed", "zeta", 1, "alpha", 2)

	output := buffer.String()
	alpha := strings.Index(output, "alpha: 2")
	zeta := strings.Index(output, "zeta: 1")
	if alpha < 0 || zeta < 0 || alpha > zeta {
		t.Errorf("expected sorted attribute lines, got %q", output)
	}
	if !strings.Contains(output, "└─ zeta") {
		t.Errorf("expected last attribute to close the tree, got %q", output)
	}
}

func TestHandler_LevelFiltering(t *testing.T) {
	logger, buffer := newTestLogger(FormatCompact, slog.LevelWarn, false)
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buffer.String(), "hidden") || !strings.Contains(buffer.String(), "shown") {
		t.Errorf("unexpected filtering result: %q", buffer.String())
	}
}

func TestHandler_WithGroupAndAttrs(t *testing.T) {
	logger, buffer := newTestLogger(FormatJSON, slog.LevelInfo, false)
	logger.With("component", "server").WithGroup("http").Info("request", "status", 200)

	var decoded map[string]interface{}
	if err := json.Unmarshal(buffer.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["component"] != "server" {
		t.Errorf("expected handler attribute kept, got %v", decoded)
	}
	if decoded["http.status"] != float64(200) {
		t.Errorf("expected grouped key, got %v", decoded)
	}
}

func TestHandler_NonFileOutputIsNotTerminal(t *testing.T) {
	handler := NewHandler(&HandlerOptions{Output: &bytes.Buffer{}})
	if handler.colors {
		t.Errorf("expected colors disabled for a buffer")
	}
}
