/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package analysis

import (
	"time"

	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/llm"
	"github.com/PivotLLM/AIFlow/protocol"
)

// StageOutcome is the result of one stage. It is not modified once the stage has finished.
type StageOutcome struct {
	Stage          Stage                      `json:"stage"`
	Status         string                     `json:"status"`
	Data           protocol.Document          `json:"data,omitempty"`
	Error          string                     `json:"error,omitempty"`
	Category       string                     `json:"category,omitempty"`
	TemplateID     string                     `json:"template_id,omitempty"`
	Model          string                     `json:"model,omitempty"`
	Usage          *llm.Usage                 `json:"usage,omitempty"`
	LatencySeconds float64                    `json:"latency_seconds,omitempty"`
	Validation     *protocol.ValidationResult `json:"validation,omitempty"`
	StartedAt      time.Time                  `json:"started_at"`
	CompletedAt    *time.Time                 `json:"completed_at,omitempty"`
}

// Duration is the stage's wall time, or zero while it is running
func (o *StageOutcome) Duration() time.Duration {
	if o.CompletedAt == nil {
		return 0
	}
	return o.CompletedAt.Sub(o.StartedAt)
}

// Job is one end-to-end analysis run for a project
type Job struct {
	ID           string                  `json:"id"`
	Language     string                  `json:"language"`
	ProjectPath  string                  `json:"project_path"`
	ProjectName  string                  `json:"project_name"`
	Status       string                  `json:"status"`
	CurrentStage Stage                   `json:"current_stage,omitempty"`
	Stages       map[Stage]*StageOutcome `json:"stages"`
	FinalResult  protocol.Document       `json:"final_result,omitempty"`
	TaskID       string                  `json:"task_id,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	StartedAt    *time.Time              `json:"started_at,omitempty"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// Outcome returns the recorded outcome for stage, or nil if the stage never ran
func (j *Job) Outcome(stage Stage) *StageOutcome {
	return j.Stages[stage]
}

// Outcomes returns the recorded outcomes in stage order
func (j *Job) Outcomes() []*StageOutcome {
	var out []*StageOutcome
	for _, s := range stageOrder {
		if o, ok := j.Stages[s]; ok {
			out = append(out, o)
		}
	}
	return out
}

// FailedStage returns the outcome of the stage that failed the job, or nil
func (j *Job) FailedStage() *StageOutcome {
	for _, o := range j.Outcomes() {
		if o.Status == global.JobStatusFailed {
			return o
		}
	}
	return nil
}

// IsTerminal reports whether the job has finished
func (j *Job) IsTerminal() bool {
	return j.Status == global.JobStatusCompleted || j.Status == global.JobStatusFailed
}

// Duration is the job's run time, or zero if it has not finished
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// clone copies the job and its outcome map. Stage payloads are shared since
// they are never modified after being recorded.
func (j *Job) clone() *Job {
	c := *j
	c.Stages = make(map[Stage]*StageOutcome, len(j.Stages))
	for k, v := range j.Stages {
		o := *v
		c.Stages[k] = &o
	}
	return &c
}
