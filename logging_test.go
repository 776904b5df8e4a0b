package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"labdash/config"
)

func TestLogFileNameRoundTrip(t *testing.T) {
	when := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	name := logFileName(when)
	if name != "labdash-2026-01-22.log" {
		t.Fatalf("unexpected log filename %q", name)
	}
	day, ok := logFileDate(name)
	if !ok || !day.Equal(time.Date(2026, time.January, 22, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected parsed day %v ok=%v", day, ok)
	}
	for _, bad := range []string{"notes.txt", "labdash-yesterday.log", "2026-01-22.log"} {
		if _, ok := logFileDate(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestPruneLogs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"labdash-2026-01-20.log",
		"labdash-2026-01-21.log",
		"labdash-2026-01-22.log",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	now := time.Date(2026, time.January, 22, 12, 0, 0, 0, time.UTC)
	if err := pruneLogs(dir, now, 2); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "labdash-2026-01-20.log")); !os.IsNotExist(err) {
		t.Fatalf("expected oldest log to be removed")
	}
	for _, name := range []string{"labdash-2026-01-21.log", "labdash-2026-01-22.log", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to remain: %v", name, err)
		}
	}
}

func TestFanoutSplitsLinesToBothSinks(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	fanout, err := setupLogging(config.LoggingConfig{Enabled: true, Dir: dir, RetentionDays: 3}, &console)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	fanout.SetConsole(&console, false)

	if _, err := fanout.Write([]byte("Export: first\nExport: sec")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if strings.Contains(console.String(), "sec") {
		t.Fatalf("partial line should stay buffered, got %q", console.String())
	}
	if _, err := fanout.Write([]byte("ond\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := console.String(); got != "Export: first\nExport: second\n" {
		t.Fatalf("unexpected console output %q", got)
	}
	if err := fanout.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, logFileName(time.Now())))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[1], " Export: second") {
		t.Fatalf("unexpected file contents %q", string(data))
	}
}

func TestFanoutFlushesOversizedPartialLine(t *testing.T) {
	var console bytes.Buffer
	fanout, err := setupLogging(config.LoggingConfig{}, &console)
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	fanout.SetConsole(&console, false)
	big := strings.Repeat("x", maxPendingLogBytes+1)
	if _, err := fanout.Write([]byte(big)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if console.Len() != len(big)+1 {
		t.Fatalf("expected oversized line to flush, got %d bytes", console.Len())
	}
}

func TestSetupLoggingRejectsEmptyDir(t *testing.T) {
	var console bytes.Buffer
	fanout, err := setupLogging(config.LoggingConfig{Enabled: true, Dir: "  "}, &console)
	if err == nil {
		t.Fatalf("expected error for empty log dir")
	}
	if fanout == nil {
		t.Fatalf("expected console fanout even on file sink error")
	}
}
