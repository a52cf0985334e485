package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"spectrasim/config"
)

const maxLogBufferBytes = 16 * 1024

type lineSink interface {
	WriteLine(line string)
	Close() error
}

// consoleSink writes log lines to the terminal. When a status line is on
// screen it is erased first and redrawn after the log line.
type consoleSink struct {
	w      io.Writer
	status *statusLine
}

func (s *consoleSink) WriteLine(line string) {
	if s == nil || s.w == nil {
		return
	}
	s.status.interrupt(func() {
		_, _ = io.WriteString(s.w, line+"\n")
	})
}

func (s *consoleSink) Close() error { return nil }

// appendFileSink appends every line to one log file.
type appendFileSink struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	lastErrorAt time.Time
}

// Purpose: Open the run log for appending.
// Key aspects: Creates the parent directory; the file is opened once.
// Upstream: setupLogging.
// Downstream: os.OpenFile.
func newAppendFileSink(path string) (*appendFileSink, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("log file path is empty")
	}
	if dir := filepath.Dir(trimmed); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(trimmed, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", trimmed, err)
	}
	return &appendFileSink{path: trimmed, file: f}, nil
}

func (s *appendFileSink) WriteLine(line string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	if _, err := s.file.WriteString(line + "\n"); err != nil {
		now := time.Now()
		if s.lastErrorAt.IsZero() || now.Sub(s.lastErrorAt) >= time.Minute {
			s.lastErrorAt = now
			fmt.Fprintf(os.Stderr, "Logging: write failed for %s: %v\n", s.path, err)
		}
	}
}

func (s *appendFileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

type logFanout struct {
	mu      sync.Mutex
	buf     []byte
	console lineSink
	file    lineSink
}

// Purpose: Wire logging based on config.
// Key aspects: Returns a console-only fanout when the file cannot be opened.
// Upstream: main startup.
// Downstream: newAppendFileSink and log.SetOutput.
func setupLogging(cfg config.LoggingConfig, console io.Writer, status *statusLine) (*logFanout, error) {
	fanout := &logFanout{console: &consoleSink{w: console, status: status}}
	if cfg.File == "" {
		return fanout, nil
	}
	sink, err := newAppendFileSink(cfg.File)
	if err != nil {
		return fanout, err
	}
	fanout.file = sink
	return fanout, nil
}

// Purpose: Fan out log output to console and file sinks.
// Key aspects: Line-buffered with bounded internal storage.
// Upstream: log.Logger output.
// Downstream: lineSink.WriteLine.
func (f *logFanout) Write(p []byte) (int, error) {
	if f == nil {
		return len(p), nil
	}
	f.mu.Lock()
	f.buf = append(f.buf, p...)
	data := f.buf
	var lines []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx == -1 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(data[:idx], "\r")))
		data = data[idx+1:]
	}
	if len(data) > maxLogBufferBytes {
		if trimmed := string(bytes.TrimRight(data, "\r")); trimmed != "" {
			lines = append(lines, trimmed)
		}
		data = data[:0]
	}
	f.buf = data
	console, file := f.console, f.file
	f.mu.Unlock()

	for _, line := range lines {
		if console != nil {
			console.WriteLine(line)
		}
		if file != nil {
			file.WriteLine(line)
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line and closes the sinks.
func (f *logFanout) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	rest := string(bytes.TrimRight(f.buf, "\r\n"))
	f.buf = nil
	console, file := f.console, f.file
	f.mu.Unlock()

	if rest != "" {
		if console != nil {
			console.WriteLine(rest)
		}
		if file != nil {
			file.WriteLine(rest)
		}
	}
	if file != nil {
		return file.Close()
	}
	return nil
}

// statusLine is a single overwritable progress line on a terminal. On
// anything else it is disabled and callers fall back to logging.
type statusLine struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	text    string
}

func newStatusLine(w io.Writer, tty bool) *statusLine {
	return &statusLine{w: w, enabled: tty}
}

func (s *statusLine) Enabled() bool {
	return s != nil && s.enabled
}

// Set replaces the status text.
func (s *statusLine) Set(text string) {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
	fmt.Fprintf(s.w, "\r\033[K%s", text)
}

// Clear erases the status line and forgets it.
func (s *statusLine) Clear() {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.text != "" {
		fmt.Fprint(s.w, "\r\033[K")
		s.text = ""
	}
}

func (s *statusLine) interrupt(write func()) {
	if !s.Enabled() {
		write()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.text != "" {
		fmt.Fprint(s.w, "\r\033[K")
	}
	write()
	if s.text != "" {
		fmt.Fprint(s.w, s.text)
	}
}
