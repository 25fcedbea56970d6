package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo}, // unknown maps to info
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestLogger_LevelFiltering verifies entries below the configured level
// are dropped.
func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("warn", &buf)
	ctx := context.Background()

	l.Debug(ctx, "dropped")
	l.Info(ctx, "dropped")
	l.Warn(ctx, "kept warn")
	l.Error(ctx, "kept error")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "kept warn") || !strings.Contains(lines[1], "kept error") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

// TestLogger_JSONShape verifies each line is a JSON object carrying the
// standard keys and the structured fields.
func TestLogger_JSONShape(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("debug", &buf)

	l.Info(context.Background(), "entry stored",
		F("key", "breakpoint:md"),
		F("size_bytes", 768),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v: %q", err, buf.String())
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["msg"] != "entry stored" {
		t.Errorf("msg = %v, want entry stored", entry["msg"])
	}
	if entry["key"] != "breakpoint:md" {
		t.Errorf("key field = %v, want breakpoint:md", entry["key"])
	}
	if entry["size_bytes"] != float64(768) {
		t.Errorf("size_bytes field = %v, want 768", entry["size_bytes"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
}

// TestLogger_WithComponent verifies the component tag is attached and the
// parent logger is unaffected.
func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	root := NewLoggerWithWriter("debug", &buf)
	cacheLog := root.WithComponent("cache")

	cacheLog.Info(context.Background(), "tagged")
	root.Info(context.Background(), "untagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], `"component":"cache"`) {
		t.Errorf("tagged line missing component: %q", lines[0])
	}
	if strings.Contains(lines[1], "component") {
		t.Errorf("untagged line gained a component: %q", lines[1])
	}
}

// TestLogger_ConcurrentUse verifies interleaved writers produce whole
// lines.
func TestLogger_ConcurrentUse(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("debug", &buf)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				l.Info(ctx, "concurrent entry", F("n", j))
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 200 {
		t.Fatalf("wrote %d lines, want 200", len(lines))
	}
	for _, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("torn line %q: %v", line, err)
		}
	}
}

// TestNopLogger verifies the no-op logger is callable and chainable.
func TestNopLogger(t *testing.T) {
	l := NopLogger().WithComponent("anything")
	l.Info(context.Background(), "discarded", F("k", "v"))
	l.Error(context.Background(), "discarded")
}
