/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/protocol"
)

// Report handlers - saved analysis reports in the output directory or at absolute paths

func validationView(result *protocol.ValidationResult) map[string]interface{} {
	return map[string]interface{}{
		"valid":    result.IsValid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
		"summary":  result.Summary(),
	}
}

func (s *Server) handleReportValidate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(request, "path", "")
	content := mcp.ParseString(request, "content", "")
	stage := mcp.ParseBoolean(request, "stage", false)

	s.logToolCall(global.ToolReportValidate, map[string]string{"path": path})

	if (path == "") == (content == "") {
		return mcp.NewToolResultError("provide exactly one of path or content"), nil
	}

	var doc protocol.Document
	if path != "" {
		resolved, err := s.resolveOutputPath(path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		doc, err = s.reader.Deserialize(resolved)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	} else if !stage {
		return createJSONResult(validationView(s.validator.ValidateBytes([]byte(content))))
	} else {
		parsed, err := protocol.Unmarshal([]byte(content))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("content is not valid JSON: %v", err)), nil
		}
		doc = parsed
	}

	if stage {
		return createJSONResult(validationView(s.validator.ValidateStage(doc)))
	}
	return createJSONResult(validationView(s.validator.Validate(doc)))
}

func (s *Server) handleReportRead(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(request, "path", "")
	section := mcp.ParseString(request, "section", "")

	s.logToolCall(global.ToolReportRead, map[string]string{"path": path, "section": section})

	if path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}

	resolved, err := s.resolveOutputPath(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	doc, err := s.reader.Deserialize(resolved)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if section == "" {
		return createJSONResult(doc)
	}

	value, ok := doc[section]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("section %s not found in %s", section, path)), nil
	}
	return createJSONResult(map[string]interface{}{section: value})
}

func (s *Server) handleReportUpdate(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := mcp.ParseString(request, "path", "")
	updatesStr := mcp.ParseString(request, "updates", "")

	s.logToolCall(global.ToolReportUpdate, map[string]string{"path": path})

	if path == "" {
		return mcp.NewToolResultError("path parameter is required"), nil
	}
	if updatesStr == "" {
		return mcp.NewToolResultError("updates parameter is required"), nil
	}

	var updates protocol.Document
	if err := json.Unmarshal([]byte(updatesStr), &updates); err != nil || updates == nil {
		return mcp.NewToolResultError("updates must be a JSON object"), nil
	}

	resolved, err := s.resolveOutputPath(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	merged, err := s.engine.Serializer().UpdatePartial(resolved, updates)
	if err != nil {
		var vErr *protocol.ValidationFailedError
		if errors.As(err, &vErr) {
			result := validationView(vErr.Result)
			result["updated"] = false
			result["message"] = "Merged report failed validation; the file was not changed"
			return createJSONResult(result)
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := map[string]interface{}{
		"path":            resolved,
		"updated":         true,
		"updated_keys":    keys,
		"top_level_count": len(merged),
	}

	return createJSONResult(result)
}
