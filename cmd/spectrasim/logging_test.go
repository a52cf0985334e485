package main

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"spectrasim/config"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingSink) WriteLine(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *recordingSink) Close() error { return nil }

func TestLogFanoutSplitsLines(t *testing.T) {
	console := &recordingSink{}
	file := &recordingSink{}
	f := &logFanout{console: console, file: file}
	_, _ = f.Write([]byte("first\r\nsec"))
	_, _ = f.Write([]byte("ond\n"))
	_, _ = f.Write([]byte("tail"))
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	want := []string{"first", "second", "tail"}
	for _, sink := range []*recordingSink{console, file} {
		if strings.Join(sink.lines, "|") != strings.Join(want, "|") {
			t.Fatalf("expected %v, got %v", want, sink.lines)
		}
	}
}

func TestLogFanoutFlushesOversizedPartialLine(t *testing.T) {
	console := &recordingSink{}
	f := &logFanout{console: console}
	_, _ = f.Write(bytes.Repeat([]byte("x"), maxLogBufferBytes+1))
	if len(console.lines) != 1 || len(console.lines[0]) != maxLogBufferBytes+1 {
		t.Fatalf("expected one flushed line, got %d lines", len(console.lines))
	}
}

func TestSetupLoggingAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("earlier\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var console bytes.Buffer
	fanout, err := setupLogging(config.LoggingConfig{File: path}, &console, newStatusLine(&console, false))
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	logger := log.New(fanout, "", 0)
	logger.Printf("hello")
	if err := fanout.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "earlier\nhello\n" {
		t.Fatalf("expected appended log, got %q", raw)
	}
	if console.String() != "hello\n" {
		t.Fatalf("expected console copy, got %q", console.String())
	}
}

func TestSetupLoggingWithoutFile(t *testing.T) {
	var console bytes.Buffer
	fanout, err := setupLogging(config.LoggingConfig{}, &console, nil)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	if fanout.file != nil {
		t.Fatalf("expected no file sink")
	}
	_, _ = fanout.Write([]byte("line\n"))
	if console.String() != "line\n" {
		t.Fatalf("expected console output, got %q", console.String())
	}
}

func TestStatusLineRedrawsAroundLogLines(t *testing.T) {
	var out bytes.Buffer
	status := newStatusLine(&out, true)
	sink := &consoleSink{w: &out, status: status}
	status.Set("fit 1/10")
	sink.WriteLine("message")
	status.Clear()
	want := "\r\033[Kfit 1/10" + "\r\033[K" + "message\n" + "fit 1/10" + "\r\033[K"
	if out.String() != want {
		t.Fatalf("expected %q, got %q", want, out.String())
	}
}

func TestStatusLineDisabledOffTerminal(t *testing.T) {
	var out bytes.Buffer
	status := newStatusLine(&out, false)
	status.Set("ignored")
	status.Clear()
	if out.Len() != 0 || status.Enabled() {
		t.Fatalf("expected a disabled status line to stay silent, got %q", out.String())
	}
}
