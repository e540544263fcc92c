/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/PivotLLM/AIFlow/analysis"
	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/scheduler"
)

// taskView renders a task without its full result. Jobs are reduced to their summary.
func taskView(t *scheduler.Task) map[string]interface{} {
	view := map[string]interface{}{
		"id":                t.ID,
		"name":              t.Name,
		"priority":          t.Priority.String(),
		"state":             t.State,
		"created_at":        t.CreatedAt,
		"wait_time_seconds": t.WaitTime().Seconds(),
	}
	if t.Error != "" {
		view["error"] = t.Error
	}
	if t.StartedAt != nil {
		view["started_at"] = t.StartedAt
	}
	if t.CompletedAt != nil {
		view["completed_at"] = t.CompletedAt
		view["duration_seconds"] = t.Duration().Seconds()
	}
	if t.Timeout > 0 {
		view["timeout"] = t.Timeout.String()
	}
	if job, ok := t.Result.(*analysis.Job); ok && job != nil {
		view["job"] = summarizeJob(job)
	}
	return view
}

func (s *Server) handleTaskGet(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")

	s.logToolCall(global.ToolTaskGet, map[string]string{"task_id": taskID})

	if taskID == "" {
		return mcp.NewToolResultError("task_id parameter is required"), nil
	}

	task, err := s.scheduler.Get(taskID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(taskView(task))
}

func (s *Server) handleTaskCancel(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")

	s.logToolCall(global.ToolTaskCancel, map[string]string{"task_id": taskID})

	if taskID == "" {
		return mcp.NewToolResultError("task_id parameter is required"), nil
	}

	cancelled := s.scheduler.Cancel(taskID)
	result := map[string]interface{}{
		"task_id":   taskID,
		"cancelled": cancelled,
	}
	if !cancelled {
		result["message"] = "Task is unknown or has already finished"
	}

	return createJSONResult(result)
}

func (s *Server) handleTaskAwait(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	timeout := seconds(mcp.ParseFloat64(request, "timeout_seconds", 0))

	s.logToolCall(global.ToolTaskAwait, map[string]string{"task_id": taskID})

	if taskID == "" {
		return mcp.NewToolResultError("task_id parameter is required"), nil
	}

	task, err := s.scheduler.Await(ctx, taskID, timeout)
	if err != nil {
		if errors.Is(err, scheduler.ErrWaitTimeout) {
			current, getErr := s.scheduler.Get(taskID)
			if getErr != nil {
				return mcp.NewToolResultError(getErr.Error()), nil
			}
			view := taskView(current)
			view["message"] = fmt.Sprintf("Task still %s after %s", current.State, timeout)
			return createJSONResult(view)
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	return createJSONResult(taskView(task))
}

func (s *Server) handleQueueStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolQueueStats, nil)

	stats := s.scheduler.Stats()
	result := map[string]interface{}{
		"running": s.scheduler.IsRunning(),
		"stats":   stats,
	}

	return createJSONResult(result)
}
