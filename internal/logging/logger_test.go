package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPrintfAppendsToProjectLog(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Printf("analysis: run %d failed\n", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	logger.Printf("after close is ignored")

	data, err := os.ReadFile(filepath.Join(dir, ".persona", "logs", "persona.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)
	if strings.Count(text, "\n") != 1 || !strings.Contains(text, "analysis: run 3 failed") {
		t.Fatalf("unexpected log contents %q", text)
	}
}

func TestPrintfKeepsEntriesOnOneLine(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.now = func() time.Time { return time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC) }
	logger.Printf("remote: analyze -> 500: %s", "Traceback:\n  File \"app.py\"\r\nKeyError")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "[2026-03-01T09:30:00Z] remote: analyze -> 500: Traceback: |   File \"app.py\" | KeyError\n"
	if string(data) != want {
		t.Fatalf("unexpected log contents %q", data)
	}
}
