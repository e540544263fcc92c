/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package analysis

import (
	"encoding/json"
	"fmt"
)

// StageInput is the typed input of one stage. Values flattens it into the
// mapping handed to the prompt renderer.
type StageInput interface {
	Stage() Stage
	Values() map[string]interface{}
}

// BaseInput carries the job identity shared by every stage
type BaseInput struct {
	ProjectPath string
	ProjectName string
	Language    string
}

func (b BaseInput) values() map[string]interface{} {
	return map[string]interface{}{
		"project_path": b.ProjectPath,
		"project_name": b.ProjectName,
		"language":     b.Language,
	}
}

// UnderstandingInput feeds project understanding
type UnderstandingInput struct {
	BaseInput
	FileTree      string
	Timestamp     string
	ModelName     string
	LanguageStats map[string]int
	ReadmeExcerpt string
}

func (UnderstandingInput) Stage() Stage { return StageProjectUnderstanding }

func (in UnderstandingInput) Values() map[string]interface{} {
	v := in.values()
	v["file_tree"] = in.FileTree
	v["current_timestamp_iso8601"] = in.Timestamp
	v["ai_model_name"] = in.ModelName

	// Templates reference these keys unconditionally, so they are always present
	stats := make(map[string]interface{}, len(in.LanguageStats))
	for lang, n := range in.LanguageStats {
		stats[lang] = n
	}
	v["language_stats"] = stats
	v["readme_excerpt"] = in.ReadmeExcerpt
	return v
}

// StructureInput feeds structure recognition
type StructureInput struct {
	BaseInput
	ProjectMetadataJSON string
}

func (StructureInput) Stage() Stage { return StageStructureRecognition }

func (in StructureInput) Values() map[string]interface{} {
	v := in.values()
	v["project_metadata_json"] = in.ProjectMetadataJSON
	return v
}

// SemanticInput feeds semantic analysis
type SemanticInput struct {
	BaseInput
	ProjectMetadataJSON string
	CodeStructureJSON   string
}

func (SemanticInput) Stage() Stage { return StageSemanticAnalysis }

func (in SemanticInput) Values() map[string]interface{} {
	v := in.values()
	v["project_metadata_json"] = in.ProjectMetadataJSON
	v["code_structure_json"] = in.CodeStructureJSON
	return v
}

// ExecutionInput feeds execution inference
type ExecutionInput struct {
	BaseInput
	ProjectMetadataJSON  string
	CodeStructureJSON    string
	BehaviorMetadataJSON string
}

func (ExecutionInput) Stage() Stage { return StageExecutionInference }

func (in ExecutionInput) Values() map[string]interface{} {
	v := in.values()
	v["project_metadata_json"] = in.ProjectMetadataJSON
	v["code_structure_json"] = in.CodeStructureJSON
	v["behavior_metadata_json"] = in.BehaviorMetadataJSON
	return v
}

// ConcurrencyInput feeds concurrency detection
type ConcurrencyInput struct {
	BaseInput
	CodeStructureJSON  string
	ExecutionTraceJSON string
}

func (ConcurrencyInput) Stage() Stage { return StageConcurrencyDetection }

func (in ConcurrencyInput) Values() map[string]interface{} {
	v := in.values()
	v["code_structure_json"] = in.CodeStructureJSON
	v["execution_trace_json"] = in.ExecutionTraceJSON
	return v
}

// sectionJSON encodes one top-level section of a stage payload. A missing
// section encodes as an empty object.
func sectionJSON(outcome *StageOutcome, key string) (string, error) {
	var section interface{} = map[string]interface{}{}
	if outcome != nil && outcome.Data != nil {
		if v, ok := outcome.Data[key]; ok && v != nil {
			section = v
		}
	}
	data, err := json.Marshal(section)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return string(data), nil
}

// buildInput assembles the typed input for one of the later stages from the
// payloads of the stages before it
func buildInput(stage Stage, base BaseInput, prior map[Stage]*StageOutcome) (StageInput, error) {
	var firstErr error
	section := func(s Stage, key string) string {
		out, err := sectionJSON(prior[s], key)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return out
	}

	var in StageInput
	switch stage {
	case StageStructureRecognition:
		in = StructureInput{
			BaseInput:           base,
			ProjectMetadataJSON: section(StageProjectUnderstanding, "project_metadata"),
		}
	case StageSemanticAnalysis:
		in = SemanticInput{
			BaseInput:           base,
			ProjectMetadataJSON: section(StageProjectUnderstanding, "project_metadata"),
			CodeStructureJSON:   section(StageStructureRecognition, "code_structure"),
		}
	case StageExecutionInference:
		in = ExecutionInput{
			BaseInput:            base,
			ProjectMetadataJSON:  section(StageProjectUnderstanding, "project_metadata"),
			CodeStructureJSON:    section(StageStructureRecognition, "code_structure"),
			BehaviorMetadataJSON: section(StageSemanticAnalysis, "behavior_metadata"),
		}
	case StageConcurrencyDetection:
		in = ConcurrencyInput{
			BaseInput:          base,
			CodeStructureJSON:  section(StageStructureRecognition, "code_structure"),
			ExecutionTraceJSON: section(StageExecutionInference, "execution_trace"),
		}
	default:
		return nil, fmt.Errorf("no input builder for stage %q", stage)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return in, nil
}
