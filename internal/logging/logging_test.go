package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "amanrag.log" {
		t.Errorf("DefaultLogPath should end with amanrag.log, got: %s", path)
	}
	if !strings.Contains(path, ".amanrag") {
		t.Errorf("DefaultLogPath should live under .amanrag, got: %s", path)
	}
}

func TestDebugConfig(t *testing.T) {
	cfg := DebugConfig()

	if cfg.Level != "debug" {
		t.Errorf("expected level 'debug', got: %s", cfg.Level)
	}
	if cfg.FilePath == "" {
		t.Error("expected debug config to log to a file")
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	logger, cleanup, err := Setup(Config{
		Level:     "debug",
		FilePath:  logPath,
		MaxSizeMB: 1,
		MaxFiles:  3,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Debug("retrieve finished", slog.Int("chunks", 4))
	cleanup()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"msg":"retrieve finished"`) || !strings.Contains(content, `"chunks":4`) {
		t.Errorf("unexpected log content: %s", content)
	}
}

func TestSetup_NoFile(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "error"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	if logger.Enabled(t.Context(), slog.LevelWarn) {
		t.Error("warn should be disabled at error level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if ValidLevel("bogus") {
		t.Error("bogus should not be a valid level")
	}
}

func TestFindLogFile(t *testing.T) {
	if _, err := FindLogFile("/nonexistent/amanrag.log"); err == nil {
		t.Error("expected error for missing explicit path")
	}

	path := filepath.Join(t.TempDir(), "x.log")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindLogFile(path)
	if err != nil || got != path {
		t.Errorf("FindLogFile(%s) = %s, %v", path, got, err)
	}
}

func TestRotatingWriter_Rotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = w.Close() }()

	// Three writes just under 1MB each force two rotations.
	chunk := []byte(strings.Repeat("x", 700*1024) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	for _, p := range []string{logPath, logPath + ".1", logPath + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("expected no file beyond maxFiles")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "c.log"), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("late")); err == nil {
		t.Error("expected error writing to closed writer")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := NewRotatingWriter(logPath, 10, 2)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = fmt.Fprintf(w, "line %d\n", n)
		}(i)
	}
	wg.Wait()
	_ = w.Close()

	data, _ := os.ReadFile(logPath)
	if got := strings.Count(string(data), "\n"); got != 20 {
		t.Errorf("expected 20 lines, got %d", got)
	}
}
