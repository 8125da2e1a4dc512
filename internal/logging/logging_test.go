package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestInitText(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if err := Init(&buf, "info", "text"); err != nil {
		t.Fatal(err)
	}
	slog.Info("hello", "id", "Foo")
	slog.Debug("hidden")
	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "id=Foo") {
		t.Fatalf("unexpected text output: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatal("debug record should be filtered at info level")
	}
}

func TestInitJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	defer SetLevel(slog.LevelInfo)

	var buf bytes.Buffer
	if err := Init(&buf, "debug", "JSON"); err != nil {
		t.Fatal(err)
	}
	For("store").Debug("loaded", "ids", 3)
	out := buf.String()
	if !strings.Contains(out, `"component":"store"`) || !strings.Contains(out, `"ids":3`) {
		t.Fatalf("unexpected json output: %q", out)
	}
}

func TestInitRejectsBadInput(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	if err := Init(nil, "loud", "text"); err == nil {
		t.Fatal("unknown level should fail")
	}
	if err := Init(nil, "info", "xml"); err == nil {
		t.Fatal("unknown format should fail")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"  Error  ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) should fail")
	}
}

func TestDynamicHandlerEnabled(t *testing.T) {
	SetLevel(slog.LevelWarn)
	defer SetLevel(slog.LevelInfo)

	h := &dynamicHandler{}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestForKeepsAttrs(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	logger := For("httpapi").With("request_id", "abc")
	logger.WithGroup("req").Info("served", "status", 200)

	if v, ok := c.Attr(slog.LevelInfo, "served", "component"); !ok || v != "httpapi" {
		t.Errorf("component = %q, %v", v, ok)
	}
	if v, ok := c.Attr(slog.LevelInfo, "served", "request_id"); !ok || v != "abc" {
		t.Errorf("request_id = %q, %v", v, ok)
	}
}

func TestGroupPrefixesAttrs(t *testing.T) {
	h := For("x").Handler().WithGroup("req").WithAttrs([]slog.Attr{slog.String("path", "/a")})
	dh, ok := h.(*dynamicHandler)
	if !ok {
		t.Fatalf("handler type %T", h)
	}
	last := dh.attrs[len(dh.attrs)-1]
	if last.Key != "req.path" {
		t.Fatalf("key = %q, want req.path", last.Key)
	}
}

func TestContextLogger(t *testing.T) {
	fallback := For("fallback")
	if FromContext(context.Background(), fallback) != fallback {
		t.Fatal("empty context should return fallback")
	}
	l := For("req")
	ctx := WithLogger(context.Background(), l)
	if FromContext(ctx, fallback) != l {
		t.Fatal("FromContext should return stored logger")
	}
}

func TestCaptureForTest(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	slog.Info("hello")
	slog.Warn("warning message")
	slog.Debug("debug detail")

	if n := len(c.Records()); n != 3 {
		t.Fatalf("expected 3 records, got %d", n)
	}
	if !c.Has(slog.LevelInfo, "hello") {
		t.Error("should have info 'hello'")
	}
	if c.Has(slog.LevelError, "hello") {
		t.Error("should not match error level")
	}
	if c.Count(slog.LevelDebug) != 1 {
		t.Errorf("expected 1 debug, got %d", c.Count(slog.LevelDebug))
	}
	if _, ok := c.Attr(slog.LevelInfo, "nonexistent", "k"); ok {
		t.Error("Attr should miss unknown message")
	}
}

func TestCaptureRestore(t *testing.T) {
	prev := slog.Default()
	c := CaptureForTest()
	c.Restore()
	if slog.Default() != prev {
		t.Error("default logger not restored")
	}
}
