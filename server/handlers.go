/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/PivotLLM/AIFlow/analysis"
	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/protocol"
	"github.com/PivotLLM/AIFlow/scheduler"
)

// Helper function to create JSON tool results safely
func createJSONResult(data interface{}) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(data)
	if err != nil {
		return mcp.NewToolResultError("Failed to create JSON result"), nil
	}
	return result, nil
}

// logToolCall logs an MCP tool invocation at INFO level
func (s *Server) logToolCall(toolName string, params map[string]string) {
	var parts []string
	for k, v := range params {
		if v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	if len(parts) == 0 {
		s.logger.Infof("Tool %s called", toolName)
		return
	}
	sort.Strings(parts)
	s.logger.Infof("Tool %s called: %s", toolName, strings.Join(parts, ", "))
}

// resolveOutputPath places relative paths inside the output directory.
// Absolute paths and ~ paths are used as given.
func (s *Server) resolveOutputPath(path string) (string, error) {
	expanded := global.ExpandHomePath(path)
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return global.ResolveWithinDir(s.outputDir, expanded)
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// jobSummary is the compact form used by job_list and job_run
type jobSummary struct {
	ID           string     `json:"id"`
	ProjectName  string     `json:"project_name"`
	ProjectPath  string     `json:"project_path"`
	Language     string     `json:"language"`
	Status       string     `json:"status"`
	CurrentStage string     `json:"current_stage,omitempty"`
	FailedStage  string     `json:"failed_stage,omitempty"`
	Error        string     `json:"error,omitempty"`
	TaskID       string     `json:"task_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func summarizeJob(job *analysis.Job) jobSummary {
	sum := jobSummary{
		ID:           job.ID,
		ProjectName:  job.ProjectName,
		ProjectPath:  job.ProjectPath,
		Language:     job.Language,
		Status:       job.Status,
		CurrentStage: job.CurrentStage.String(),
		TaskID:       job.TaskID,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
	if failed := job.FailedStage(); failed != nil {
		sum.FailedStage = failed.Stage.String()
		sum.Error = failed.Error
	}
	return sum
}

// stripData drops stage payloads and the merged report from a job snapshot
func stripData(job *analysis.Job) *analysis.Job {
	job.FinalResult = nil
	for _, o := range job.Stages {
		o.Data = nil
	}
	return job
}

// Job tool handlers

func (s *Server) handleJobCreate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectPath := mcp.ParseString(request, "project_path", "")
	language := mcp.ParseString(request, "language", global.LanguageAuto)
	projectName := mcp.ParseString(request, "project_name", "")

	s.logToolCall(global.ToolJobCreate, map[string]string{"project_path": projectPath, "language": language})

	if projectPath == "" {
		return mcp.NewToolResultError("project_path parameter is required"), nil
	}

	job, err := s.engine.CreateJob(language, projectPath, projectName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(job)
}

func (s *Server) handleJobRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := mcp.ParseString(request, "job_id", "")
	priorityStr := mcp.ParseString(request, "priority", "")
	timeout := seconds(mcp.ParseFloat64(request, "timeout_seconds", 0))
	wait := mcp.ParseBoolean(request, "wait", false)
	waitTimeout := seconds(mcp.ParseFloat64(request, "wait_timeout_seconds", 0))

	s.logToolCall(global.ToolJobRun, map[string]string{"job_id": jobID, "priority": priorityStr})

	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	priority, err := scheduler.ParsePriority(priorityStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	taskID, err := s.engine.SubmitJob(jobID, priority, timeout, s.logProgress)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to submit job: %v", err)), nil
	}

	result := map[string]interface{}{
		"job_id":   jobID,
		"task_id":  taskID,
		"priority": priority.String(),
	}

	if !wait {
		result["status"] = global.JobStatusPending
		result["message"] = "Job queued; use job_get or task_await to follow it"
		return createJSONResult(result)
	}

	task, err := s.scheduler.Await(ctx, taskID, waitTimeout)
	if err != nil {
		if errors.Is(err, scheduler.ErrWaitTimeout) {
			result["message"] = fmt.Sprintf("Job still running after %s", waitTimeout)
		} else {
			return mcp.NewToolResultError(fmt.Sprintf("wait failed: %v", err)), nil
		}
	} else {
		result["task_state"] = task.State
	}

	job, err := s.engine.GetJob(jobID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result["job"] = summarizeJob(job)
	result["status"] = job.Status

	return createJSONResult(result)
}

// logProgress records stage progress for jobs run through the scheduler
func (s *Server) logProgress(job *analysis.Job, stage analysis.Stage, percent float64) {
	s.logger.Debugf("Job %s: %s (%.0f%%)", job.ID, stage, percent)
}

func (s *Server) handleJobGet(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := mcp.ParseString(request, "job_id", "")
	includeData := mcp.ParseBoolean(request, "include_data", false)

	s.logToolCall(global.ToolJobGet, map[string]string{"job_id": jobID})

	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, err := s.engine.GetJob(jobID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !includeData {
		job = stripData(job)
	}

	result := map[string]interface{}{
		"job":      job,
		"stages":   job.Outcomes(),
		"duration": job.Duration().String(),
	}
	if failed := job.FailedStage(); failed != nil {
		result["failed_stage"] = failed.Stage
		result["error"] = failed.Error
	}

	return createJSONResult(result)
}

func (s *Server) handleJobList(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := mcp.ParseString(request, "status", "")

	s.logToolCall(global.ToolJobList, map[string]string{"status": status})

	jobs := make([]jobSummary, 0)
	for _, job := range s.engine.ListJobs() {
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, summarizeJob(job))
	}

	result := map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	}

	return createJSONResult(result)
}

func (s *Server) handleJobSave(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := mcp.ParseString(request, "job_id", "")
	outputPath := mcp.ParseString(request, "output_path", "")
	compress := mcp.ParseBoolean(request, "compress", s.compress)

	s.logToolCall(global.ToolJobSave, map[string]string{"job_id": jobID, "output_path": outputPath})

	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	if outputPath == "" {
		outputPath = global.ResultFileName(jobID)
	}

	path, err := s.resolveOutputPath(outputPath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	written, err := s.engine.SaveResult(jobID, path, compress)
	if err != nil {
		var vErr *protocol.ValidationFailedError
		if errors.As(err, &vErr) {
			return createJSONResult(map[string]interface{}{
				"job_id":   jobID,
				"saved":    false,
				"errors":   vErr.Result.Errors,
				"warnings": vErr.Result.Warnings,
				"message":  "Report failed validation and was not written",
			})
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to save report: %v", err)), nil
	}

	result := map[string]interface{}{
		"job_id":     jobID,
		"saved":      true,
		"path":       written,
		"compressed": compress,
	}

	return createJSONResult(result)
}

func (s *Server) handleJobReport(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := mcp.ParseString(request, "job_id", "")
	format := mcp.ParseString(request, "format", "markdown")
	output := mcp.ParseString(request, "output", "")

	s.logToolCall(global.ToolJobReport, map[string]string{"job_id": jobID, "format": format})

	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, err := s.engine.GetJob(jobID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report := s.reporter.BuildReport(job)

	if output != "" {
		path, err := s.resolveOutputPath(output)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := s.reporter.SaveReport(report, path, format); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return createJSONResult(map[string]interface{}{
			"job_id": jobID,
			"path":   path,
			"format": format,
		})
	}

	content, err := s.reporter.Generate(report, format)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(content), nil
}
