/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf)
	logger.SetLevel("warn")

	logger.Info("hidden")
	logger.Warnf("shown %d", 1)
	logger.Error("also shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("INFO message logged at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN]") || !strings.Contains(out, "shown 1") {
		t.Errorf("missing WARN line: %q", out)
	}
	if !strings.Contains(out, "[ERROR]") {
		t.Errorf("missing ERROR line: %q", out)
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	logger := NewWithWriter(&bytes.Buffer{})
	logger.SetLevel("verbose")
	if got := logger.Level(); got != "INFO" {
		t.Errorf("Level() = %q, want INFO", got)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Infof("nothing %s", "here")
	logger.SetLevel("DEBUG")
	if err := logger.Sync(); err != nil {
		t.Errorf("Sync() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "aiflow.log")
	logger, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("started")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(data), "[INFO]") || !strings.Contains(string(data), "started") {
		t.Errorf("unexpected log content: %q", string(data))
	}
}
