package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := New(Config{Level: "debug"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = closer.Close() }()
	l.With("component", "backend").Debug("starting")
	out := buf.String()
	if !strings.Contains(out, "\033[36mDEBUG") {
		t.Fatalf("expected colored debug prefix, got %q", out)
	}
	if !strings.Contains(out, "component=backend") {
		t.Fatalf("attrs lost through WithAttrs: %q", out)
	}
}

func TestNewNoColor(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(Config{NoColor: true}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("plain")
	if strings.Contains(buf.String(), "\033[") {
		t.Fatalf("unexpected color codes: %q", buf.String())
	}
}

func TestNewWithFileWritesJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "stackctl.log")
	var console bytes.Buffer
	l, closer, err := New(Config{File: path, Level: "info"}, &console)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("images ready", "count", 2)
	l.Debug("filtered out")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record in file, got %d: %q", len(lines), b)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("file record is not JSON: %v", err)
	}
	if rec["msg"] != "images ready" || rec["count"] != float64(2) {
		t.Fatalf("unexpected record: %v", rec)
	}
	if !strings.Contains(console.String(), "images ready") {
		t.Fatalf("console missed record: %q", console.String())
	}
}

func TestRotatingWriterDefaults(t *testing.T) {
	w := Config{}.RotatingWriter("x.log")
	if w.MaxSize != 10 || w.MaxBackups != 3 || w.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", w.MaxSize, w.MaxBackups, w.MaxAge)
	}
	w = Config{MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.RotatingWriter("y.log")
	if w.MaxSize != 1 || w.MaxBackups != 9 || w.MaxAge != 11 || !w.Compress {
		t.Fatalf("overrides not applied: %+v", w)
	}
}

func TestOpenAppendAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "backend.log")
	for _, s := range []string{"one\n", "two\n"} {
		f, err := OpenAppend(path)
		if err != nil {
			t.Fatalf("OpenAppend: %v", err)
		}
		_, _ = f.WriteString(s)
		_ = f.Close()
	}
	b, _ := os.ReadFile(path)
	if string(b) != "one\ntwo\n" {
		t.Fatalf("expected appended content, got %q", b)
	}
}
