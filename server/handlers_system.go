/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tenebris-tech/x2md/convert"

	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/templates"
)

func (s *Server) handleTemplateList(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language := strings.ToLower(mcp.ParseString(request, "language", ""))

	s.logToolCall(global.ToolTemplateList, map[string]string{"language": language})

	registry := s.renderer.Registry()
	items := make([]templates.Info, 0)
	for _, info := range registry.List() {
		if language != "" && info.Language != language {
			continue
		}
		items = append(items, info)
	}

	result := map[string]interface{}{
		"source":    registry.Source(),
		"version":   registry.Version(),
		"languages": registry.ListLanguages(),
		"templates": items,
		"count":     len(items),
	}

	return createJSONResult(result)
}

func (s *Server) handleDocsConvert(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(request, "path", "")
	recursive := mcp.ParseBoolean(request, "recursive", false)

	s.logToolCall(global.ToolDocsConvert, map[string]string{"path": path})

	if path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}

	fullPath, err := filepath.Abs(global.ExpandHomePath(path))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid path: %v", err)), nil
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return mcp.NewToolResultError(fmt.Sprintf("path not found: %s", path)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to access path: %v", err)), nil
	}

	// Validate path type matches recursive flag
	if recursive && !info.IsDir() {
		return mcp.NewToolResultError("recursive=true requires path to be a directory"), nil
	}
	if !recursive && info.IsDir() {
		return mcp.NewToolResultError("recursive=false requires path to be a file"), nil
	}

	converter := convert.New(
		convert.WithRecursion(recursive),
		convert.WithSkipExisting(true),
	)

	result, err := converter.Convert(fullPath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("conversion failed: %v", err)), nil
	}

	response := map[string]interface{}{
		"path":      fullPath,
		"recursive": recursive,
		"converted": result.Converted,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
	}

	if result.Converted > 0 {
		response["message"] = fmt.Sprintf("Converted %d file(s)", result.Converted)
	} else if result.Skipped > 0 {
		response["message"] = fmt.Sprintf("No files converted (%d skipped)", result.Skipped)
	} else {
		response["message"] = "No files to convert"
	}

	return createJSONResult(response)
}

func (s *Server) handleHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	checkModel := mcp.ParseBoolean(request, "check_model", false)

	s.logToolCall(global.ToolHealth, nil)

	stats := s.scheduler.Stats()
	result := map[string]interface{}{
		"program":   global.ProgramName,
		"version":   global.Version,
		"status":    "ok",
		"model":     s.adapter.ModelInfo(),
		"languages": s.renderer.Languages(),
		"scheduler": map[string]interface{}{
			"running":        s.scheduler.IsRunning(),
			"max_concurrent": stats.MaxConcurrent,
			"running_tasks":  stats.Running,
			"draining_tasks": stats.Draining,
			"pending_tasks":  stats.Pending,
		},
		"jobs": len(s.engine.ListJobs()),
	}

	if !s.scheduler.IsRunning() {
		result["status"] = "degraded"
	}

	if checkModel {
		start := time.Now()
		if err := s.adapter.ValidateConnection(ctx); err != nil {
			result["status"] = "degraded"
			result["model_check"] = map[string]interface{}{"ok": false, "error": err.Error()}
		} else {
			result["model_check"] = map[string]interface{}{
				"ok":              true,
				"latency_seconds": time.Since(start).Seconds(),
			}
		}
	}

	return createJSONResult(result)
}
