/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package reporting

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PivotLLM/AIFlow/analysis"
	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/llm"
	"github.com/PivotLLM/AIFlow/protocol"
)

var fixedTime = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

func outcome(stage analysis.Stage, status string, started time.Time, took time.Duration) *analysis.StageOutcome {
	done := started.Add(took)
	return &analysis.StageOutcome{
		Stage:          stage,
		Status:         status,
		TemplateID:     "go-" + stage.String() + "-v1",
		Model:          "test-model",
		Usage:          &llm.Usage{PromptTokens: 100, CompletionTokens: 40, TotalTokens: 140},
		LatencySeconds: 1.5,
		StartedAt:      started,
		CompletedAt:    &done,
	}
}

func completedJob() *analysis.Job {
	started := fixedTime
	finished := started.Add(5 * time.Second)
	job := &analysis.Job{
		ID:          "job-1",
		Language:    "go",
		ProjectPath: "/src/demo",
		ProjectName: "demo",
		Status:      global.JobStatusCompleted,
		Stages:      make(map[analysis.Stage]*analysis.StageOutcome),
		CreatedAt:   started,
		StartedAt:   &started,
		CompletedAt: &finished,
	}
	for i, stage := range analysis.Stages() {
		job.Stages[stage] = outcome(stage, global.JobStatusCompleted, started.Add(time.Duration(i)*time.Second), time.Second)
	}
	job.Stages[analysis.StageStructureRecognition].Validation = &protocol.ValidationResult{
		Warnings: []string{"Reference integrity: node has no edges"},
	}
	job.FinalResult = protocol.Document{
		"project_metadata": map[string]interface{}{"project_name": "demo"},
		"code_structure": map[string]interface{}{
			"nodes": []interface{}{
				map[string]interface{}{"id": "a", "label": "main", "stereotype": "module"},
				map[string]interface{}{"id": "b", "label": "run", "stereotype": "function"},
				map[string]interface{}{"id": "c", "label": "stop", "stereotype": "function"},
			},
			"edges": []interface{}{
				map[string]interface{}{"id": "e1", "source": "a", "target": "b", "type": "contains"},
			},
		},
		"execution_trace": map[string]interface{}{
			"traceable_units": []interface{}{
				map[string]interface{}{"id": "u1", "name": "startup", "type": "single-trace", "traces": []interface{}{}},
			},
		},
		"behavior_metadata": map[string]interface{}{
			"launch_buttons": []interface{}{
				map[string]interface{}{"id": "l1", "node_id": "a", "name": "Run", "type": "macro"},
			},
		},
		"concurrency_info": map[string]interface{}{
			"flows": []interface{}{
				map[string]interface{}{"id": "f1", "type": "parallel", "involved_units": []interface{}{"u1"}, "start_point": "a", "end_point": "b"},
			},
			"sync_points": []interface{}{},
		},
	}
	return job
}

func failedJob() *analysis.Job {
	started := fixedTime
	finished := started.Add(3 * time.Second)
	job := &analysis.Job{
		ID:          "job-2",
		Language:    "python",
		ProjectPath: "/src/broken",
		ProjectName: "broken",
		Status:      global.JobStatusFailed,
		Stages:      make(map[analysis.Stage]*analysis.StageOutcome),
		CreatedAt:   started,
		StartedAt:   &started,
		CompletedAt: &finished,
	}
	job.Stages[analysis.StageProjectUnderstanding] = outcome(analysis.StageProjectUnderstanding, global.JobStatusCompleted, started, time.Second)
	bad := outcome(analysis.StageStructureRecognition, global.JobStatusFailed, started.Add(time.Second), time.Second)
	bad.Category = analysis.CategoryInvalidResponse
	bad.Error = "invalid-response: response is not a JSON object"
	bad.Usage = nil
	job.Stages[analysis.StageStructureRecognition] = bad
	return job
}

func newReporter() *Reporter {
	return New(nil, WithClock(func() time.Time { return fixedTime }))
}

func TestBuildReport(t *testing.T) {
	report := newReporter().BuildReport(completedJob())

	if report.JobID != "job-1" || report.Project != "demo" || report.Status != global.JobStatusCompleted {
		t.Errorf("report header = %+v", report)
	}
	if report.Duration != "5s" {
		t.Errorf("Duration = %q, want 5s", report.Duration)
	}
	if !report.GeneratedAt.Equal(fixedTime) {
		t.Errorf("GeneratedAt = %v", report.GeneratedAt)
	}
	if len(report.Stages) != 5 {
		t.Fatalf("got %d stage rows, want 5", len(report.Stages))
	}
	for i, stage := range analysis.Stages() {
		row := report.Stages[i]
		if row.Stage != stage.String() || row.Status != global.JobStatusCompleted || row.Duration != "1s" {
			t.Errorf("row %d = %+v", i, row)
		}
	}
	if got := report.Stages[1].Warnings; len(got) != 1 {
		t.Errorf("structure warnings = %v", got)
	}
	if report.Tokens.Total != 700 || report.Tokens.Prompt != 500 || report.Tokens.Completion != 200 {
		t.Errorf("Tokens = %+v", report.Tokens)
	}
	if report.FailedStage != "" || report.Error != "" {
		t.Errorf("completed job reported a failure: %q %q", report.FailedStage, report.Error)
	}

	s := report.Summary
	if s == nil {
		t.Fatal("Summary is nil")
	}
	if s.Nodes != 3 || s.Edges != 1 || s.TraceableUnits != 1 || s.LaunchButtons != 1 || s.Flows != 1 || s.SyncPoints != 0 {
		t.Errorf("Summary = %+v", s)
	}
	if s.NodesByStereotype["function"] != 2 || s.NodesByStereotype["module"] != 1 {
		t.Errorf("NodesByStereotype = %v", s.NodesByStereotype)
	}
}

func TestBuildReportFailedJob(t *testing.T) {
	report := newReporter().BuildReport(failedJob())

	if report.FailedStage != analysis.StageStructureRecognition.String() {
		t.Errorf("FailedStage = %q", report.FailedStage)
	}
	if report.Category != analysis.CategoryInvalidResponse {
		t.Errorf("Category = %q", report.Category)
	}
	if report.Summary != nil {
		t.Errorf("failed job has a summary: %+v", report.Summary)
	}
	for _, row := range report.Stages[2:] {
		if row.Status != global.JobStatusPending || row.Duration != "" {
			t.Errorf("stage %s never ran but row = %+v", row.Stage, row)
		}
	}
	if report.Tokens.Total != 140 {
		t.Errorf("Tokens.Total = %d, want 140", report.Tokens.Total)
	}
}

func TestBuildReportPendingJob(t *testing.T) {
	job := &analysis.Job{ID: "job-3", ProjectName: "p", Status: global.JobStatusPending, Stages: map[analysis.Stage]*analysis.StageOutcome{}}
	report := newReporter().BuildReport(job)
	if report.Duration != "" || report.Summary != nil || len(report.Stages) != 5 {
		t.Errorf("pending report = %+v", report)
	}
}

func TestGenerateMarkdown(t *testing.T) {
	r := newReporter()
	md, err := r.GenerateMarkdown(r.BuildReport(completedJob()))
	if err != nil {
		t.Fatalf("GenerateMarkdown() error = %v", err)
	}

	for _, want := range []string{
		"# Analysis Report: demo",
		"**Job**: `job-1`",
		"**Duration**: 5s",
		"**Generated**: 2025-01-15 10:30:00",
		"| project_understanding | completed | 1s | 100 | 40 | 1.50 |",
		"**Total tokens**: 700 (500 prompt, 200 completion)",
		"### Warnings: structure_recognition",
		"- Reference integrity: node has no edges",
		"| Nodes | 3 |",
		"| Concurrency Flows | 1 |",
		"| function | 2 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
	if strings.Contains(md, "## Failure") {
		t.Error("completed job rendered a failure section")
	}
}

func TestGenerateMarkdownFailedJob(t *testing.T) {
	r := newReporter()
	md, err := r.GenerateMarkdown(r.BuildReport(failedJob()))
	if err != nil {
		t.Fatalf("GenerateMarkdown() error = %v", err)
	}
	for _, want := range []string{
		"## Failure",
		"**structure_recognition** (invalid-response)",
		"invalid-response: response is not a JSON object",
		"| semantic_analysis | pending | - | 0 | 0 | 0.00 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
	if strings.Contains(md, "## Report") {
		t.Error("failed job rendered report counts")
	}
}

func TestGenerateJSON(t *testing.T) {
	r := newReporter()
	out, err := r.GenerateJSON(r.BuildReport(completedJob()))
	if err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}

	var decoded JobReport
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.JobID != "job-1" || decoded.Summary == nil || decoded.Summary.Nodes != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestGenerateFormat(t *testing.T) {
	r := newReporter()
	report := r.BuildReport(completedJob())

	md, err := r.Generate(report, "")
	if err != nil || !strings.HasPrefix(md, "# Analysis Report") {
		t.Errorf("Generate(\"\") = %q, %v", md, err)
	}
	js, err := r.Generate(report, "JSON")
	if err != nil || !strings.HasPrefix(js, "{") {
		t.Errorf("Generate(JSON) = %q, %v", js, err)
	}
	if _, err := r.Generate(report, "pdf"); err == nil {
		t.Error("Generate(pdf) succeeded")
	}
}

func TestSaveReport(t *testing.T) {
	r := newReporter()
	report := r.BuildReport(completedJob())
	dir := t.TempDir()

	mdPath := filepath.Join(dir, "reports", "job.md")
	if err := r.SaveReport(report, mdPath, "markdown"); err != nil {
		t.Fatalf("SaveReport(markdown) error = %v", err)
	}
	data, err := os.ReadFile(mdPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "# Analysis Report: demo") {
		t.Errorf("saved markdown = %s", data)
	}

	jsonPath := filepath.Join(dir, "job.json")
	if err := r.SaveReport(report, jsonPath, "json"); err != nil {
		t.Fatalf("SaveReport(json) error = %v", err)
	}
	data, err = os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !json.Valid(data) {
		t.Errorf("saved JSON is invalid: %s", data)
	}

	if err := r.SaveReport(report, filepath.Join(dir, "x.pdf"), "pdf"); err == nil {
		t.Error("SaveReport(pdf) succeeded")
	}
}

func TestGenerateFilename(t *testing.T) {
	tests := []struct {
		prefix, format, wantPrefix, wantExt string
	}{
		{"job", "markdown", "job-", ".md"},
		{"job", "json", "job-", ".json"},
		{"", "md", "report-", ".md"},
	}
	for _, tt := range tests {
		got := GenerateFilename(tt.prefix, tt.format)
		if !strings.HasPrefix(got, tt.wantPrefix) || !strings.HasSuffix(got, tt.wantExt) {
			t.Errorf("GenerateFilename(%q, %q) = %q", tt.prefix, tt.format, got)
		}
	}
}
