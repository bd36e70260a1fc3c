package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: slog.LevelInfo, Console: &buf})
	defer log.Close()

	log.Debug("hidden")
	log.Info("transcription done", "session", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record should be filtered at info level")
	}
	if !strings.Contains(out, "msg=\"transcription done\"") || !strings.Contains(out, "session=abc") {
		t.Errorf("unexpected output %q", out)
	}
	if err := log.Rotate(); err != nil {
		t.Errorf("rotate without a file should be a no-op, got %v", err)
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	var console bytes.Buffer
	log := New(Options{File: path, Level: slog.LevelDebug, Console: &console})

	log.Debug("keep-alive failed", "error", "closed")
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "keep-alive failed") {
		t.Errorf("file should contain the record, got %q", data)
	}
	if !bytes.Equal(data, console.Bytes()) {
		t.Error("console and file should receive the same records")
	}
}
