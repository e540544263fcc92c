/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package logging writes leveled log lines of the form
// "2006-01-02 15:04:05 [LEVEL] [pid] message". A nil *Logger is valid and
// discards everything, so library packages can be used without one.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PivotLLM/AIFlow/global"
)

var levels = map[string]int{
	global.LogLevelDebug: 0,
	global.LogLevelInfo:  1,
	global.LogLevelWarn:  2,
	global.LogLevelError: 3,
	global.LogLevelFatal: 4,
}

// Logger provides leveled logging
type Logger struct {
	mu      sync.RWMutex
	logger  *log.Logger
	level   string
	logFile *os.File
}

// New creates a logger that appends to the specified file
func New(logPath string) (*Logger, error) {
	logPath = global.ExpandHomePath(logPath)

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	return &Logger{
		logger:  log.New(logFile, "", 0),
		level:   global.LogLevelInfo,
		logFile: logFile,
	}, nil
}

// NewWithWriter creates a logger that writes to w. Used for stderr and tests.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{
		logger: log.New(w, "", 0),
		level:  global.LogLevelInfo,
	}
}

// Sync flushes any buffered log data to disk
func (l *Logger) Sync() error {
	if l == nil || l.logFile == nil {
		return nil
	}
	return l.logFile.Sync()
}

// Close closes the log file
func (l *Logger) Close() error {
	if l == nil || l.logFile == nil {
		return nil
	}
	_ = l.logFile.Sync()
	return l.logFile.Close()
}

// SetLevel sets the minimum log level. Unknown levels fall back to INFO.
func (l *Logger) SetLevel(level string) {
	if l == nil {
		return
	}
	level = strings.ToUpper(level)
	if _, ok := levels[level]; !ok {
		level = global.LogLevelInfo
	}
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// Level returns the current minimum level
func (l *Logger) Level() string {
	if l == nil {
		return global.LogLevelInfo
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) shouldLog(level string) bool {
	current, ok := levels[l.Level()]
	if !ok {
		current = levels[global.LogLevelInfo]
	}
	message, ok := levels[level]
	if !ok {
		message = levels[global.LogLevelInfo]
	}
	return message >= current
}

func (l *Logger) formatMessage(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	return fmt.Sprintf("%s [%s] [%d] %s", timestamp, level, os.Getpid(), message)
}

func (l *Logger) log(level, message string) {
	if l == nil || !l.shouldLog(level) {
		return
	}
	l.logger.Println(l.formatMessage(level, message))
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(global.LogLevelDebug, message)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(global.LogLevelInfo, message)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(global.LogLevelWarn, message)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.log(global.LogLevelError, message)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) {
	l.log(global.LogLevelFatal, message)
	_ = l.Close()
	os.Exit(1)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Fatal(fmt.Sprintf(format, args...))
}
