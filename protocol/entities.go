/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package protocol

import (
	"encoding/json"
	"fmt"
)

// Document is an analysis report (or a fragment of one) in its generic JSON form.
// Stage payloads, merged reports and deserialized files all travel as Documents;
// AnalysisResult is the typed view for callers that need field access.
type Document map[string]interface{}

// Stereotype values for CodeNode
const (
	StereotypeSystem    = "system"
	StereotypeModule    = "module"
	StereotypeClass     = "class"
	StereotypeFunction  = "function"
	StereotypeService   = "service"
	StereotypeComponent = "component"
)

// Trace formats
const (
	TraceFormatFlowchart  = "flowchart"
	TraceFormatSequence   = "sequence"
	TraceFormatStepByStep = "step-by-step"
)

// AnalysisResult is the complete report
type AnalysisResult struct {
	Schema           string            `json:"$schema,omitempty"`
	Version          string            `json:"version,omitempty"`
	ProjectMetadata  ProjectMetadata   `json:"project_metadata"`
	CodeStructure    CodeStructure     `json:"code_structure"`
	ExecutionTrace   ExecutionTrace    `json:"execution_trace"`
	BehaviorMetadata *BehaviorMetadata `json:"behavior_metadata,omitempty"`
	ConcurrencyInfo  *ConcurrencyInfo  `json:"concurrency_info,omitempty"`
	PromptTemplates  *PromptTemplates  `json:"prompt_templates,omitempty"`
}

// ProjectMetadata describes the analyzed project
type ProjectMetadata struct {
	ProjectName         string `json:"project_name,omitempty"`
	ProjectPath         string `json:"project_path,omitempty"`
	Language            string `json:"language,omitempty"`
	AnalyzedAt          string `json:"analyzed_at,omitempty"` // ISO 8601
	Framework           string `json:"framework,omitempty"`
	ArchitecturePattern string `json:"architecture_pattern,omitempty"`
	AIModel             string `json:"ai_model,omitempty"`
	TotalLines          int    `json:"total_lines,omitempty"`
}

// CodeLocation points at a span of source
type CodeLocation struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// NodeMetadata carries model annotations for a node
type NodeMetadata struct {
	AIConfidence  float64       `json:"ai_confidence,omitempty"`
	AIExplanation string        `json:"ai_explanation,omitempty"`
	CodeLocation  *CodeLocation `json:"code_location,omitempty"`
}

// NodePosition is a layout hint
type NodePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CodeNode is a vertex in the code graph
type CodeNode struct {
	ID         string        `json:"id"` // UUID v4
	Label      string        `json:"label"`
	Stereotype string        `json:"stereotype"`
	Parent     string        `json:"parent,omitempty"`
	Classes    []string      `json:"classes,omitempty"`
	Metadata   *NodeMetadata `json:"metadata,omitempty"`
	Position   *NodePosition `json:"position,omitempty"`
}

// CodeEdge connects two nodes
type CodeEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"` // dependency, inheritance, composition, call
	Label  string `json:"label,omitempty"`
}

// CodeStructure is the code graph
type CodeStructure struct {
	Nodes []CodeNode `json:"nodes"`
	Edges []CodeEdge `json:"edges"`
}

// LaunchButton is an entry point the UI can trigger
type LaunchButton struct {
	ID          string `json:"id"`
	NodeID      string `json:"node_id"`
	Name        string `json:"name"`
	Type        string `json:"type"` // macro, micro
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// BehaviorMetadata groups launch buttons
type BehaviorMetadata struct {
	LaunchButtons []LaunchButton `json:"launch_buttons,omitempty"`
}

// ExecutionStep is one executed line
type ExecutionStep struct {
	ID             string   `json:"id"`
	Order          int      `json:"order"`
	FilePath       string   `json:"file_path"`
	LineNumber     int      `json:"line_number"`
	Code           string   `json:"code"`
	Timestamp      string   `json:"timestamp"`
	ExecutionOrder int      `json:"execution_order"`
	ScopeID        string   `json:"scope_id"`
	Duration       *float64 `json:"duration,omitempty"` // milliseconds
}

// VariableChange records one mutation of a variable
type VariableChange struct {
	Timestamp      string      `json:"timestamp"`
	OldValue       interface{} `json:"old_value"`
	NewValue       interface{} `json:"new_value"`
	ExecutionOrder int         `json:"execution_order"`
	ChangedAt      string      `json:"changed_at,omitempty"` // file.py:123
}

// Variable is a named value inside a scope
type Variable struct {
	Name          string           `json:"name"`
	Type          string           `json:"type"`
	Value         interface{}      `json:"value"`
	MemoryAddress string           `json:"memory_address,omitempty"`
	SizeBytes     int              `json:"size_bytes,omitempty"`
	IsMutable     *bool            `json:"is_mutable,omitempty"`
	References    []string         `json:"references,omitempty"`
	History       []VariableChange `json:"history,omitempty"`
}

// VariableScope is a lexical scope snapshot
type VariableScope struct {
	ID             string     `json:"id"`
	ScopeType      string     `json:"scope_type"` // global, local, closure, class, module
	Variables      []Variable `json:"variables"`
	Timestamp      string     `json:"timestamp"`
	ExecutionOrder int        `json:"execution_order"`
	ParentScopeID  string     `json:"parent_scope_id,omitempty"`
}

// StackFrame is one call stack entry
type StackFrame struct {
	ID             string                 `json:"id"`
	FunctionName   string                 `json:"function_name"`
	ModuleName     string                 `json:"module_name"`
	FilePath       string                 `json:"file_path"`
	LineNumber     int                    `json:"line_number"`
	Depth          int                    `json:"depth"`
	LocalScopeID   string                 `json:"local_scope_id"`
	Timestamp      string                 `json:"timestamp"`
	ExecutionOrder int                    `json:"execution_order"`
	IsRecursive    *bool                  `json:"is_recursive,omitempty"`
	RecursionDepth int                    `json:"recursion_depth,omitempty"`
	Arguments      map[string]interface{} `json:"arguments,omitempty"`
	ParentFrameID  string                 `json:"parent_frame_id,omitempty"`
	ReturnValue    interface{}            `json:"return_value,omitempty"`
}

// StepByStepTrace is the data of a step-by-step trace
type StepByStepTrace struct {
	Steps          []ExecutionStep `json:"steps"`
	VariableScopes []VariableScope `json:"variableScopes"`
	CallStack      []StackFrame    `json:"callStack"`
}

// Trace is one rendering of a unit. Data stays raw because its shape depends on Format.
type Trace struct {
	Format string          `json:"format"`
	Data   json.RawMessage `json:"data"`
}

// StepByStep decodes the trace data when Format is step-by-step
func (t Trace) StepByStep() (*StepByStepTrace, error) {
	if t.Format != TraceFormatStepByStep {
		return nil, fmt.Errorf("trace format is %q, not %q", t.Format, TraceFormatStepByStep)
	}
	var sbs StepByStepTrace
	if err := json.Unmarshal(t.Data, &sbs); err != nil {
		return nil, fmt.Errorf("failed to decode step-by-step trace: %w", err)
	}
	return &sbs, nil
}

// TraceableUnit is a feature whose execution can be traced
type TraceableUnit struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type"` // single-trace, multi-trace
	Traces     []Trace  `json:"traces"`
	SubUnitIDs []string `json:"subUnitIds,omitempty"`
}

// ExecutionTrace groups traceable units
type ExecutionTrace struct {
	TraceableUnits []TraceableUnit `json:"traceable_units"`
}

// ConcurrencyFlow is a concurrent section of the program
type ConcurrencyFlow struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"` // parallel, concurrent, async, sync_wait
	InvolvedUnits []string `json:"involved_units"`
	StartPoint    string   `json:"start_point"`
	EndPoint      string   `json:"end_point"`
	Dependencies  []string `json:"dependencies,omitempty"`
}

// SyncPoint is where flows wait on each other
type SyncPoint struct {
	ID           string   `json:"id"`
	Location     string   `json:"location"` // file.py:123
	WaitingFlows []string `json:"waiting_flows"`
	Type         string   `json:"type"` // barrier, mutex, semaphore, join
}

// ConcurrencyInfo groups flows and sync points
type ConcurrencyInfo struct {
	Flows      []ConcurrencyFlow `json:"flows,omitempty"`
	SyncPoints []SyncPoint       `json:"sync_points,omitempty"`
}

// UsedPrompt records which template produced a stage
type UsedPrompt struct {
	ID         string `json:"id"`
	Stage      string `json:"stage"`
	ExecutedAt string `json:"executed_at"`
}

// PromptTemplates lists the prompts used for the report
type PromptTemplates struct {
	UsedPrompts []UsedPrompt `json:"used_prompts,omitempty"`
}

// Decode converts a generic document into its typed form
func Decode(doc Document) (*AnalysisResult, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var result AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode analysis result: %w", err)
	}
	return &result, nil
}

// Encode converts a typed result back into a generic document
func Encode(result *AnalysisResult) (Document, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis result: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
