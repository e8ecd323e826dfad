package logger

import (
	"os"
	"path/filepath"
	"testing"

	"pricestream/config"
)

// go test -v --run TestNewInvalidLevel
func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level, got nil")
	}
}

// go test -v --run TestNewWithFile
func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "stream.log")

	log, err := New(config.LogConfig{Level: "info", Format: "json", OutputFile: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Info("hello")
	_ = log.Sync()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected log file to contain the entry")
	}
}
