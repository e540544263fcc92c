/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import "fmt"

//goland:noinspection GoCommentStart,GoUnusedConst,GoUnusedConst,GoUnusedConst
const (
	// Configuration constants
	ConfigEnvVar          = "AIFLOW_CONFIG"
	DefaultBaseDir        = "~/.aiflow"
	DefaultConfigFileName = "config.json"
	DefaultOutputDir      = "results"
	DefaultEnvFileName    = ".env"

	// MCP Tool Names - Jobs
	ToolJobCreate = "job_create"
	ToolJobRun    = "job_run"
	ToolJobGet    = "job_get"
	ToolJobList   = "job_list"
	ToolJobSave   = "job_save"
	ToolJobReport = "job_report"

	// MCP Tool Names - Scheduler
	ToolTaskGet    = "task_get"
	ToolTaskCancel = "task_cancel"
	ToolTaskAwait  = "task_await"
	ToolQueueStats = "queue_stats"

	// MCP Tool Names - Reports
	ToolReportValidate = "report_validate"
	ToolReportRead     = "report_read"
	ToolReportUpdate   = "report_update"

	// MCP Tool Names - Templates and documents
	ToolTemplateList = "template_list"
	ToolDocsConvert  = "docs_convert"

	// MCP Tool Names - System
	ToolHealth = "health"

	// Job Status Constants
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"

	// Task State Constants
	TaskStatePending   = "pending"
	TaskStateRunning   = "running"
	TaskStateCompleted = "completed"
	TaskStateFailed    = "failed"
	TaskStateCancelled = "cancelled"
	TaskStateTimedOut  = "timed_out"

	// Model provider types
	ProviderOpenAI  = "openai"
	ProviderCommand = "command"

	// Language tag that asks the engine to detect the project language
	LanguageAuto = "auto"

	// Fixed system instruction for every stage
	StageSystemPrompt = "You are an expert code analyzer. Respond with valid JSON only."

	// File Constants
	GzipSuffix = ".gz"
	LockSuffix = ".lock"

	// Default Values
	DefaultTimeout       = 120 // seconds, per model call
	MinTimeout           = 10  // seconds
	MaxTimeout           = 1200
	DefaultFileTreeDepth = 3
	MaxFileTreeDepth     = 8

	// Scheduler Default Values
	DefaultMaxConcurrent      = 5
	DefaultMaxQueueSize       = 1000
	DefaultStopTimeoutSeconds = 10

	// Model Default Values
	DefaultModel        = "gpt-4o-mini"
	DefaultMaxTokens    = 4096
	DefaultTemperature  = 0.7
	DefaultMaxRetries   = 3
	MaxRetriesLimit     = 10
	DefaultRetryDelayMs = 1000

	// Rate Limit Default Values
	DefaultRateLimitRequests = 10
	DefaultRateLimitPeriod   = 60

	// Log Levels
	LogLevelDebug = "DEBUG"
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
	LogLevelFatal = "FATAL"

	// API Key Prefix
	EnvKeyPrefix = "env:"
)

// ValidateTimeout validates and normalizes a timeout value.
// Returns the validated timeout or an error if out of bounds.
// If timeout is 0, returns DefaultTimeout.
func ValidateTimeout(timeout int) (int, error) {
	if timeout == 0 {
		return DefaultTimeout, nil
	}
	if timeout < MinTimeout {
		return 0, fmt.Errorf("timeout must be at least %d seconds", MinTimeout)
	}
	if timeout > MaxTimeout {
		return 0, fmt.Errorf("timeout must be at most %d seconds", MaxTimeout)
	}
	return timeout, nil
}

// ValidateMaxRetries validates and normalizes max_retries value.
// If value is 0, returns DefaultMaxRetries.
func ValidateMaxRetries(maxRetries int) (int, error) {
	if maxRetries == 0 {
		return DefaultMaxRetries, nil
	}
	if maxRetries < 1 {
		return 0, fmt.Errorf("max_retries must be at least 1")
	}
	if maxRetries > MaxRetriesLimit {
		return 0, fmt.Errorf("max_retries must be at most %d", MaxRetriesLimit)
	}
	return maxRetries, nil
}

// ValidateFileTreeDepth validates and normalizes the file tree depth.
// If depth is 0, returns DefaultFileTreeDepth.
func ValidateFileTreeDepth(depth int) (int, error) {
	if depth == 0 {
		return DefaultFileTreeDepth, nil
	}
	if depth < 1 {
		return 0, fmt.Errorf("file_tree_depth must be at least 1")
	}
	if depth > MaxFileTreeDepth {
		return 0, fmt.Errorf("file_tree_depth must be at most %d", MaxFileTreeDepth)
	}
	return depth, nil
}
