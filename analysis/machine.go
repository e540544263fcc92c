/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/protocol"
)

// ErrMachineDone is returned by Step once the job has reached a terminal state
var ErrMachineDone = errors.New("job has already finished")

// ProgressFunc is told about each stage before it starts, with the percentage
// of stages already done, and once more with 100 after a successful merge.
type ProgressFunc func(job *Job, stage Stage, percent float64)

// Machine drives one job through the stages. Each call to Step runs at most
// one stage, so the caller decides where and how the work is scheduled.
// A Machine must not be stepped from more than one goroutine.
type Machine struct {
	engine   *Engine
	job      *Job
	progress ProgressFunc
	next     int
	state    string
	used     []protocol.UsedPrompt
}

func newMachine(e *Engine, job *Job, progress ProgressFunc) *Machine {
	return &Machine{
		engine:   e,
		job:      job,
		progress: progress,
		state:    global.JobStatusRunning,
	}
}

// Done reports whether the job has completed or failed
func (m *Machine) Done() bool {
	return m.state == global.JobStatusCompleted || m.state == global.JobStatusFailed
}

// Next returns the stage the next Step will run
func (m *Machine) Next() (Stage, bool) {
	if m.Done() || m.next >= len(stageOrder) {
		return "", false
	}
	return stageOrder[m.next], true
}

// Step runs the next stage. A stage failure ends the job and is recorded in
// its outcome; Step itself only fails when called on a finished machine.
// Cancellation of ctx is observed before the stage starts.
func (m *Machine) Step(ctx context.Context) error {
	stage, ok := m.Next()
	if !ok {
		return ErrMachineDone
	}
	e := m.engine

	e.update(func() { m.job.CurrentStage = stage })
	m.report(stage, float64(m.next)/float64(len(stageOrder))*100)

	var outcome *StageOutcome
	if err := ctx.Err(); err != nil {
		outcome = interruptedOutcome(stage, err)
		e.logger.Warnf("Job %s: stopped before stage %s (%s)", m.job.ID, stage, outcome.Category)
	} else {
		outcome = e.runStage(ctx, m.job, stage)
	}

	e.update(func() { m.job.Stages[stage] = outcome })

	if outcome.Status != global.JobStatusCompleted {
		m.finish(global.JobStatusFailed, nil)
		e.logger.Warnf("Job %s: failed at stage %s: %s", m.job.ID, stage, outcome.Error)
		return nil
	}

	m.used = append(m.used, protocol.UsedPrompt{
		ID:         outcome.TemplateID,
		Stage:      string(stage),
		ExecutedAt: formatTimestamp(outcome.StartedAt),
	})
	m.next++

	if m.next == len(stageOrder) {
		m.finish(global.JobStatusCompleted, mergeResults(m.job.Stages, m.used))
		e.logger.Infof("Job %s: completed", m.job.ID)
		m.report(stage, 100)
	}
	return nil
}

// Run steps the machine until the job finishes
func (m *Machine) Run(ctx context.Context) {
	for !m.Done() {
		if err := m.Step(ctx); err != nil {
			return
		}
	}
}

func (m *Machine) finish(status string, result protocol.Document) {
	m.state = status
	now := time.Now()
	m.engine.update(func() {
		m.job.Status = status
		m.job.CompletedAt = &now
		if result != nil {
			m.job.FinalResult = result
		}
	})
}

func (m *Machine) report(stage Stage, percent float64) {
	if m.progress == nil {
		return
	}
	m.progress(m.engine.snapshot(m.job), stage, percent)
}

func interruptedOutcome(stage Stage, ctxErr error) *StageOutcome {
	now := time.Now()
	category, err := interrupted(ctxErr)
	se := newStageError(stage, category, err)
	return &StageOutcome{
		Stage:       stage,
		Status:      global.JobStatusFailed,
		Error:       se.Error(),
		Category:    se.Category,
		StartedAt:   now,
		CompletedAt: &now,
	}
}

// mergeResults folds stage payloads into one report in stage order. Later
// stages overwrite top-level keys of earlier ones. The accumulator starts
// with every required section so the report is well formed even when the
// stages contributed nothing.
func mergeResults(outcomes map[Stage]*StageOutcome, used []protocol.UsedPrompt) protocol.Document {
	merged := protocol.Document{
		"$schema":          global.ReportSchemaURI,
		"version":          global.ReportVersion,
		"project_metadata": map[string]interface{}{},
		"code_structure": map[string]interface{}{
			"nodes": []interface{}{},
			"edges": []interface{}{},
		},
		"execution_trace": map[string]interface{}{
			"traceable_units": []interface{}{},
		},
	}

	for _, stage := range stageOrder {
		o, ok := outcomes[stage]
		if !ok || o.Data == nil {
			continue
		}
		for k, v := range o.Data {
			merged[k] = v
		}
	}

	if _, ok := merged["prompt_templates"]; !ok && len(used) > 0 {
		prompts := make([]interface{}, 0, len(used))
		for _, u := range used {
			prompts = append(prompts, map[string]interface{}{
				"id":          u.ID,
				"stage":       u.Stage,
				"executed_at": u.ExecutedAt,
			})
		}
		merged["prompt_templates"] = map[string]interface{}{"used_prompts": prompts}
	}
	return merged
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
