/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package reporting produces human-readable summaries of analysis jobs.
package reporting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/PivotLLM/AIFlow/analysis"
	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/logging"
	"github.com/PivotLLM/AIFlow/protocol"
)

// Reporter generates job reports
type Reporter struct {
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Reporter
type Option func(*Reporter)

// WithClock overrides the time source used for GeneratedAt
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

// New creates a new Reporter
func New(logger *logging.Logger, opts ...Option) *Reporter {
	r := &Reporter{
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JobReport is the summary of one job
type JobReport struct {
	JobID       string        `json:"job_id"`
	Project     string        `json:"project"`
	ProjectPath string        `json:"project_path"`
	Language    string        `json:"language"`
	Status      string        `json:"status"`
	TaskID      string        `json:"task_id,omitempty"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Category    string        `json:"category,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    string        `json:"duration,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
	Stages      []StageReport `json:"stages"`
	Tokens      TokenSummary  `json:"tokens"`
	Summary     *ResultCounts `json:"summary,omitempty"`
}

// StageReport is one row of the stage table
type StageReport struct {
	Stage            string   `json:"stage"`
	Status           string   `json:"status"`
	TemplateID       string   `json:"template_id,omitempty"`
	Model            string   `json:"model,omitempty"`
	Duration         string   `json:"duration"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	LatencySeconds   float64  `json:"latency_seconds"`
	Warnings         []string `json:"warnings,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// TokenSummary totals usage across stages
type TokenSummary struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// ResultCounts describes the size of a merged report
type ResultCounts struct {
	Nodes             int            `json:"nodes"`
	Edges             int            `json:"edges"`
	TraceableUnits    int            `json:"traceable_units"`
	LaunchButtons     int            `json:"launch_buttons"`
	Flows             int            `json:"flows"`
	SyncPoints        int            `json:"sync_points"`
	NodesByStereotype map[string]int `json:"nodes_by_stereotype,omitempty"`
}

// BuildReport summarises job. Stages that never ran are listed as pending.
func (r *Reporter) BuildReport(job *analysis.Job) *JobReport {
	report := &JobReport{
		JobID:       job.ID,
		Project:     job.ProjectName,
		ProjectPath: job.ProjectPath,
		Language:    job.Language,
		Status:      job.Status,
		TaskID:      job.TaskID,
		GeneratedAt: r.now(),
	}
	if d := job.Duration(); d > 0 {
		report.Duration = d.Round(time.Millisecond).String()
	}

	for _, stage := range analysis.Stages() {
		row := StageReport{Stage: stage.String(), Status: global.JobStatusPending}
		if o := job.Outcome(stage); o != nil {
			row.Status = o.Status
			row.TemplateID = o.TemplateID
			row.Model = o.Model
			row.LatencySeconds = o.LatencySeconds
			row.Error = o.Error
			if d := o.Duration(); d > 0 {
				row.Duration = d.Round(time.Millisecond).String()
			}
			if o.Usage != nil {
				row.PromptTokens = o.Usage.PromptTokens
				row.CompletionTokens = o.Usage.CompletionTokens
				report.Tokens.Prompt += o.Usage.PromptTokens
				report.Tokens.Completion += o.Usage.CompletionTokens
				report.Tokens.Total += o.Usage.TotalTokens
			}
			if o.Validation != nil {
				row.Warnings = o.Validation.Warnings
			}
		}
		report.Stages = append(report.Stages, row)
	}

	if failed := job.FailedStage(); failed != nil {
		report.FailedStage = failed.Stage.String()
		report.Category = failed.Category
		report.Error = failed.Error
	}

	if job.FinalResult != nil {
		counts, err := countResult(job.FinalResult)
		if err != nil {
			r.logger.Warnf("Job %s: cannot summarise report: %v", job.ID, err)
		} else {
			report.Summary = counts
		}
	}

	return report
}

func countResult(doc protocol.Document) (*ResultCounts, error) {
	result, err := protocol.Decode(doc)
	if err != nil {
		return nil, err
	}
	counts := &ResultCounts{
		Nodes:             len(result.CodeStructure.Nodes),
		Edges:             len(result.CodeStructure.Edges),
		TraceableUnits:    len(result.ExecutionTrace.TraceableUnits),
		NodesByStereotype: make(map[string]int),
	}
	for _, n := range result.CodeStructure.Nodes {
		counts.NodesByStereotype[n.Stereotype]++
	}
	if result.BehaviorMetadata != nil {
		counts.LaunchButtons = len(result.BehaviorMetadata.LaunchButtons)
	}
	if result.ConcurrencyInfo != nil {
		counts.Flows = len(result.ConcurrencyInfo.Flows)
		counts.SyncPoints = len(result.ConcurrencyInfo.SyncPoints)
	}
	return counts, nil
}

const markdownTemplate = `# Analysis Report: {{.Project}}

**Job**: ` + "`{{.JobID}}`" + `
**Language**: {{.Language}}
**Status**: {{.Status}}
{{- if .Duration}}
**Duration**: {{.Duration}}{{end}}
**Generated**: {{.GeneratedAt.Format "2006-01-02 15:04:05"}}
{{if .FailedStage}}
## Failure

The job failed at stage **{{.FailedStage}}**{{if .Category}} ({{.Category}}){{end}}.

` + "```" + `
{{.Error}}
` + "```" + `
{{end}}
## Stages

| Stage | Status | Duration | Prompt Tokens | Completion Tokens | Latency (s) |
|-------|--------|----------|---------------|-------------------|-------------|
{{range .Stages}}| {{.Stage}} | {{.Status}} | {{or .Duration "-"}} | {{.PromptTokens}} | {{.CompletionTokens}} | {{printf "%.2f" .LatencySeconds}} |
{{end}}
**Total tokens**: {{.Tokens.Total}} ({{.Tokens.Prompt}} prompt, {{.Tokens.Completion}} completion)
{{range .Stages}}{{if .Warnings}}
### Warnings: {{.Stage}}

{{range .Warnings}}- {{.}}
{{end}}{{end}}{{end}}
{{- with .Summary}}
## Report

| Metric | Count |
|--------|-------|
| Nodes | {{.Nodes}} |
| Edges | {{.Edges}} |
| Traceable Units | {{.TraceableUnits}} |
| Launch Buttons | {{.LaunchButtons}} |
| Concurrency Flows | {{.Flows}} |
| Sync Points | {{.SyncPoints}} |
{{if .NodesByStereotype}}
### Nodes by Stereotype

| Stereotype | Count |
|------------|-------|
{{range $k, $v := .NodesByStereotype}}| {{$k}} | {{$v}} |
{{end}}{{end}}{{end}}`

// GenerateMarkdown renders the report as Markdown
func (r *Reporter) GenerateMarkdown(report *JobReport) (string, error) {
	t, err := template.New("report").Parse(markdownTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, report); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// GenerateJSON renders the report as indented JSON
func (r *Reporter) GenerateJSON(report *JobReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	return string(data), nil
}

// Generate renders the report in format, "markdown" (or "md") or "json"
func (r *Reporter) Generate(report *JobReport, format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "markdown", "md":
		return r.GenerateMarkdown(report)
	case "json":
		return r.GenerateJSON(report)
	default:
		return "", fmt.Errorf("unsupported report format: %s", format)
	}
}

// SaveReport renders the report and writes it to outputPath
func (r *Reporter) SaveReport(report *JobReport, outputPath, format string) error {
	content, err := r.Generate(report, format)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}

	if err := global.AtomicWrite(outputPath, []byte(content)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	r.logger.Infof("Report saved to %s (%d bytes)", outputPath, len(content))
	return nil
}

// GenerateFilename generates a timestamped report filename
func GenerateFilename(prefix string, format string) string {
	timestamp := time.Now().Format("2006-01-02-150405")
	ext := "md"
	if format == "json" {
		ext = "json"
	}

	if prefix == "" {
		prefix = "report"
	}

	return fmt.Sprintf("%s-%s.%s", prefix, timestamp, ext)
}
