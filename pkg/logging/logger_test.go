// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_SlogRoundTrip(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		if got := fromSlogLevel(level.toSlogLevel()); got != level {
			t.Errorf("fromSlogLevel(%v.toSlogLevel()) = %v", level, got)
		}
	}
	if got := Level(42).toSlogLevel(); got != slog.LevelInfo {
		t.Errorf("unknown level maps to %v, want Info", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_WritesTextToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "rocksample", Writer: &buf})
	defer logger.Close()

	logger.Info("step complete", "t", 3, "action", 1)
	logger.Debug("hidden")

	out := buf.String()
	for _, want := range []string{"step complete", "t=3", "action=1", "service=rocksample"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("Debug message should be filtered at Info level")
	}
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Writer: &buf})
	defer logger.Close()

	logger.Warn("out of particles", "step", 7)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("console output is not JSON: %v (%q)", err, buf.String())
	}
	if record["msg"] != "out of particles" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["step"] != float64(7) {
		t.Errorf("step = %v, want 7", record["step"])
	}
}

func TestNew_QuietWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Writer: &buf})
	defer logger.Close()

	logger.Error("dropped")
	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}

func TestNew_LogDirCreatesDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	logger := New(Config{LogDir: dir, Quiet: true})

	logger.Info("run finished", "discounted_return", 12.5)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	name := DefaultService + "_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("file line is not JSON: %v", err)
	}
	if record["msg"] != "run finished" {
		t.Errorf("msg = %v", record["msg"])
	}
}

func TestNew_InvalidLogDirFallsBack(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Writer: &buf})
	defer logger.Close()

	if logger.file != nil {
		t.Error("file should be nil when the directory cannot be created")
	}
	logger.Info("still logging")
	if !strings.Contains(buf.String(), "still logging") {
		t.Error("console output should survive a bad LogDir")
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	defer logger.Close()

	if logger.config.Service != DefaultService {
		t.Errorf("Service = %q, want %q", logger.config.Service, DefaultService)
	}
	if logger.config.Level != LevelInfo {
		t.Errorf("Level = %v, want Info", logger.config.Level)
	}
}

func TestLogger_ExporterReceivesSlogAttrs(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Service: "pomcp", Quiet: true, Exporter: exporter})

	runLogger := logger.With("run_id", "r-1")
	runLogger.Slog().Info("Matched particles", slog.Int("particles", 42))
	runLogger.Debug("filtered")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Message != "Matched particles" || e.Level != LevelInfo || e.Service != "pomcp" {
		t.Errorf("entry = %+v", e)
	}
	if e.Attrs["particles"] != int64(42) {
		t.Errorf("particles = %v (%T), want 42", e.Attrs["particles"], e.Attrs["particles"])
	}
	if e.Attrs["run_id"] != "r-1" {
		t.Errorf("run_id = %v, want r-1", e.Attrs["run_id"])
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Exporter: exporter, Quiet: true})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("concurrent log", "n", n)
		}(i)
	}
	wg.Wait()

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if got := len(exporter.Entries()); got != 100 {
		t.Errorf("got %d entries, want 100", got)
	}
}

func TestLogger_Close(t *testing.T) {
	tests := []struct {
		name     string
		exporter *errorExporter
		wantErr  string
	}{
		{"no errors", &errorExporter{}, ""},
		{"flush error", &errorExporter{flushErr: errors.New("flush failed")}, "flush exporter"},
		{"close error", &errorExporter{closeErr: errors.New("close failed")}, "close exporter"},
		{"flush reported first", &errorExporter{
			flushErr: errors.New("flush failed"),
			closeErr: errors.New("close failed"),
		}, "flush exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(Config{Exporter: tt.exporter, Quiet: true})
			err := logger.Close()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Close() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Close() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLogger_Close_FileAlreadyClosed(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	if logger.file == nil {
		t.Fatal("expected a log file")
	}
	logger.file.Close()

	if err := logger.Close(); err == nil || !strings.Contains(err.Error(), "sync log file") {
		t.Errorf("Close() = %v, want sync error", err)
	}
}

// =============================================================================
// multiHandler Tests
// =============================================================================

func TestMultiHandler_FansOutByLevel(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}

	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(Debug) should be true when any handler accepts it")
	}

	logger := slog.New(h).With("run", 1).WithGroup("search")
	logger.Info("info message", "sims", 10)
	logger.Warn("warn message")

	if !strings.Contains(debugBuf.String(), "info message") || !strings.Contains(debugBuf.String(), "search.sims=10") {
		t.Errorf("debug handler output = %q", debugBuf.String())
	}
	if strings.Contains(warnBuf.String(), "info message") {
		t.Error("warn handler should filter Info")
	}
	if !strings.Contains(warnBuf.String(), "warn message") || !strings.Contains(warnBuf.String(), "run=1") {
		t.Errorf("warn handler output = %q", warnBuf.String())
	}
}

func TestMultiHandler_HandleError(t *testing.T) {
	h := &multiHandler{handlers: []slog.Handler{&errorHandler{err: errors.New("handler error")}}}

	var record slog.Record
	record.Level = slog.LevelInfo
	if err := h.Handle(context.Background(), record); err == nil {
		t.Error("expected error from Handle()")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/.aleutian/pomcp", filepath.Join(home, ".aleutian/pomcp")},
		{"/var/log", "/var/log"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// BufferedExporter Tests
// =============================================================================

func TestBufferedExporter_EntriesReturnsCopy(t *testing.T) {
	e := NewBufferedExporter()
	_ = e.Export(context.Background(), LogEntry{Message: "a", Level: LevelInfo})
	_ = e.Export(context.Background(), LogEntry{Message: "b", Level: LevelWarn})

	entries := e.Entries()
	entries[0].Message = "modified"
	if e.Entries()[0].Message != "a" {
		t.Error("Entries() should return a copy")
	}
	if got := e.Messages(LevelWarn); len(got) != 1 || got[0] != "b" {
		t.Errorf("Messages(Warn) = %v, want [b]", got)
	}
}

// =============================================================================
// Test Helpers
// =============================================================================

type errorExporter struct {
	flushErr error
	closeErr error
}

func (e *errorExporter) Export(ctx context.Context, entry LogEntry) error { return nil }
func (e *errorExporter) Flush(ctx context.Context) error                  { return e.flushErr }
func (e *errorExporter) Close() error                                     { return e.closeErr }

type errorHandler struct {
	err error
}

func (h *errorHandler) Enabled(ctx context.Context, level slog.Level) bool { return true }
func (h *errorHandler) Handle(ctx context.Context, r slog.Record) error    { return h.err }
func (h *errorHandler) WithAttrs(attrs []slog.Attr) slog.Handler           { return h }
func (h *errorHandler) WithGroup(name string) slog.Handler                 { return h }
