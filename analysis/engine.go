/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package analysis runs a project through the five analysis stages. Each
// stage renders a prompt, asks the model for a JSON object, validates it and
// records the outcome. The first failure ends the job; when every stage
// succeeds their payloads are merged into a single report.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tenebris-tech/x2md/convert"

	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/llm"
	"github.com/PivotLLM/AIFlow/logging"
	"github.com/PivotLLM/AIFlow/protocol"
	"github.com/PivotLLM/AIFlow/scheduler"
	"github.com/PivotLLM/AIFlow/templates"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobNotRunnable   = errors.New("job cannot be run")
	ErrProjectNotFound  = errors.New("project path does not exist")
	ErrJobNotCompleted  = errors.New("job has not completed")
	ErrNoScheduler      = errors.New("engine has no scheduler")
	ErrLanguageUnknown  = errors.New("project language could not be determined")
	errEmptyOutputPath  = errors.New("output path is required")
	errNotJSONObject    = errors.New("response is not a JSON object")
	errValidationFailed = errors.New("validation failed")
)

// Renderer produces the prompt for a stage
type Renderer interface {
	Render(language, stage string, input map[string]interface{}) (string, error)
	TemplateInfo(language, stage, version string) (*templates.Info, error)
	Languages() []string
}

// Engine creates jobs and runs them through the stages
type Engine struct {
	adapter    llm.Adapter
	renderer   Renderer
	validator  *protocol.Validator
	serializer *protocol.Serializer
	scheduler  *scheduler.Scheduler
	logger     *logging.Logger

	validate       bool
	treeDepth      int
	detectLanguage bool
	convertDocs    bool

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
	// jobs between the runnable check in SubmitJob and the task id being recorded
	submitting map[string]struct{}
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithValidation turns stage and save-time validation on or off
func WithValidation(enabled bool) Option {
	return func(e *Engine) {
		e.validate = enabled
	}
}

// WithFileTreeDepth sets how deep the stage 1 file tree goes
func WithFileTreeDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.treeDepth = depth
		}
	}
}

// WithLanguageDetection enables language statistics and the "auto" language tag
func WithLanguageDetection(enabled bool) Option {
	return func(e *Engine) {
		e.detectLanguage = enabled
	}
}

// WithDocumentConversion converts a non-Markdown README (pdf, docx, ...) to
// Markdown before stage 1 reads it
func WithDocumentConversion(enabled bool) Option {
	return func(e *Engine) {
		e.convertDocs = enabled
	}
}

// WithScheduler sets the scheduler used by SubmitJob
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(e *Engine) {
		e.scheduler = s
	}
}

// NewEngine creates an engine over a model adapter and a prompt renderer
func NewEngine(adapter llm.Adapter, renderer Renderer, opts ...Option) *Engine {
	e := &Engine{
		adapter:        adapter,
		renderer:       renderer,
		validate:       true,
		treeDepth:      global.DefaultFileTreeDepth,
		detectLanguage: true,
		jobs:           make(map[string]*Job),
		submitting:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.validator = protocol.NewValidator(e.logger)
	e.serializer = protocol.NewSerializer(e.logger, protocol.WithValidation(e.validate))
	return e
}

// Stages returns the stages in execution order
func (e *Engine) Stages() []Stage {
	return Stages()
}

// Validator returns the validator the engine checks payloads with
func (e *Engine) Validator() *protocol.Validator {
	return e.validator
}

// Serializer returns the serializer SaveResult writes with
func (e *Engine) Serializer() *protocol.Serializer {
	return e.serializer
}

// CreateJob registers a pending job for the project at projectPath. An empty
// projectName defaults to the directory name. The language "auto" (or "")
// is resolved from the project's files when language detection is enabled.
func (e *Engine) CreateJob(language, projectPath, projectName string) (*Job, error) {
	path, err := filepath.Abs(global.ExpandHomePath(projectPath))
	if err != nil {
		return nil, fmt.Errorf("invalid project path %s: %w", projectPath, err)
	}
	if !global.DirExists(path) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectPath)
	}
	if projectName == "" {
		projectName = filepath.Base(path)
	}

	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" || language == global.LanguageAuto {
		language, err = e.resolveLanguage(path)
		if err != nil {
			return nil, err
		}
	}

	job := &Job{
		ID:          uuid.NewString(),
		Language:    language,
		ProjectPath: path,
		ProjectName: projectName,
		Status:      global.JobStatusPending,
		Stages:      make(map[Stage]*StageOutcome),
		CreatedAt:   time.Now(),
	}

	e.mu.Lock()
	e.jobs[job.ID] = job
	e.order = append(e.order, job.ID)
	e.mu.Unlock()

	e.logger.Infof("Job %s: created for %s (%s)", job.ID, path, language)
	return job.clone(), nil
}

func (e *Engine) resolveLanguage(path string) (string, error) {
	if !e.detectLanguage {
		return "", fmt.Errorf("%w: language detection is disabled", ErrLanguageUnknown)
	}
	stats, err := LanguageStats(path)
	if err != nil {
		return "", err
	}
	lang, err := DetectLanguage(stats, e.renderer.Languages())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLanguageUnknown, err)
	}
	e.logger.Debugf("Detected language %s for %s", lang, path)
	return lang, nil
}

// RunJob runs a pending job to completion or failure on the calling
// goroutine. Stage failures are reported through the returned job, not the
// error. ctx is checked before each stage.
func (e *Engine) RunJob(ctx context.Context, id string, progress ProgressFunc) (*Job, error) {
	e.mu.Lock()
	job, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status != global.JobStatusPending {
		status := job.Status
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s is already %s", ErrJobNotRunnable, id, status)
	}
	now := time.Now()
	job.Status = global.JobStatusRunning
	job.StartedAt = &now
	e.mu.Unlock()

	e.logger.Infof("Job %s: started (%s, %s)", id, job.ProjectName, job.Language)
	newMachine(e, job, progress).Run(ctx)
	return e.snapshot(job), nil
}

// SubmitJob queues a pending job on the scheduler and returns the task id.
// A job that fails makes the task fail with the stage error.
func (e *Engine) SubmitJob(id string, priority scheduler.Priority, timeout time.Duration, progress ProgressFunc) (string, error) {
	if e.scheduler == nil {
		return "", ErrNoScheduler
	}

	e.mu.Lock()
	job, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if _, busy := e.submitting[id]; busy {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: job %s is already being queued", ErrJobNotRunnable, id)
	}
	if job.Status != global.JobStatusPending || job.TaskID != "" {
		status, task := job.Status, job.TaskID
		e.mu.Unlock()
		if task != "" {
			return "", fmt.Errorf("%w: job %s is already queued as task %s", ErrJobNotRunnable, id, task)
		}
		return "", fmt.Errorf("%w: job %s is already %s", ErrJobNotRunnable, id, status)
	}
	e.submitting[id] = struct{}{}
	e.mu.Unlock()

	op := func(ctx context.Context) (interface{}, error) {
		done, err := e.RunJob(ctx, id, progress)
		if err != nil {
			return nil, err
		}
		if done.Status != global.JobStatusCompleted {
			if failed := done.FailedStage(); failed != nil {
				return done, fmt.Errorf("job %s failed at stage %s: %s", id, failed.Stage, failed.Error)
			}
			return done, fmt.Errorf("job %s failed", id)
		}
		return done, nil
	}

	taskID, err := e.scheduler.Submit(op, priority, timeout, "analysis "+job.ProjectName)
	e.update(func() {
		delete(e.submitting, id)
		if err == nil {
			job.TaskID = taskID
		}
	})
	if err != nil {
		return "", err
	}
	e.logger.Infof("Job %s: queued as task %s (%s)", id, taskID, priority)
	return taskID, nil
}

// GetJob returns a snapshot of a job
func (e *Engine) GetJob(id string) (*Job, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	job, ok := e.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.clone(), nil
}

// ListJobs returns snapshots of every job in creation order
func (e *Engine) ListJobs() []*Job {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Job, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.jobs[id].clone())
	}
	return out
}

// SaveResult writes a completed job's report to path and returns the path
// written, which gains a .gz suffix when compressing. With validation enabled
// an invalid report is not written.
func (e *Engine) SaveResult(id, path string, compress bool) (string, error) {
	if path == "" {
		return "", errEmptyOutputPath
	}
	job, err := e.GetJob(id)
	if err != nil {
		return "", err
	}
	if job.Status != global.JobStatusCompleted {
		return "", fmt.Errorf("%w: job %s is %s", ErrJobNotCompleted, id, job.Status)
	}
	if job.FinalResult == nil {
		return "", fmt.Errorf("%w: job %s has no result", ErrJobNotCompleted, id)
	}

	written, err := e.serializer.Serialize(job.FinalResult, path, compress)
	if err != nil {
		return "", err
	}
	e.logger.Infof("Job %s: report saved to %s", id, written)
	return written, nil
}

func (e *Engine) update(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func (e *Engine) snapshot(job *Job) *Job {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return job.clone()
}

// runStage performs one stage for job and returns its finished outcome
func (e *Engine) runStage(ctx context.Context, job *Job, stage Stage) *StageOutcome {
	outcome := &StageOutcome{
		Stage:     stage,
		Status:    global.JobStatusRunning,
		StartedAt: time.Now(),
	}
	fail := func(category string, err error) *StageOutcome {
		se := newStageError(stage, category, err)
		now := time.Now()
		outcome.Status = global.JobStatusFailed
		outcome.Error = se.Error()
		outcome.Category = se.Category
		outcome.CompletedAt = &now
		return outcome
	}

	// Outcomes of earlier stages are only written by this job's machine
	input, err := e.stageInput(job, stage)
	if err != nil {
		return fail(CategoryRender, err)
	}

	if info, err := e.renderer.TemplateInfo(job.Language, string(stage), ""); err == nil {
		outcome.TemplateID = info.ID
	}
	prompt, err := e.renderer.Render(job.Language, string(stage), input.Values())
	if err != nil {
		return fail(CategoryRender, err)
	}

	e.logger.Debugf("Job %s: stage %s prompt is %d bytes", job.ID, stage, len(prompt))
	resp, err := e.adapter.GenerateWithRetry(ctx, prompt, global.StageSystemPrompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			category, cause := interrupted(ctxErr)
			return fail(category, fmt.Errorf("%w (model call: %v)", cause, err))
		}
		return fail(CategoryAdapter, err)
	}
	outcome.Model = resp.Model
	usage := resp.Usage
	outcome.Usage = &usage
	outcome.LatencySeconds = resp.LatencySeconds()

	var data protocol.Document
	if err := json.Unmarshal([]byte(resp.Content), &data); err != nil {
		return fail(CategoryInvalidResponse, fmt.Errorf("%w: %v", errNotJSONObject, err))
	}
	if data == nil {
		return fail(CategoryInvalidResponse, errNotJSONObject)
	}

	if e.validate {
		result := e.validator.ValidateStage(data)
		outcome.Validation = result
		if !result.IsValid() {
			return fail(CategoryInvalidContent, fmt.Errorf("%w: %s", errValidationFailed, strings.Join(result.Errors, "; ")))
		}
	}

	now := time.Now()
	outcome.Data = data
	outcome.Status = global.JobStatusCompleted
	outcome.CompletedAt = &now
	e.logger.Infof("Job %s: stage %s completed in %s", job.ID, stage, outcome.Duration().Round(time.Millisecond))
	return outcome
}

func (e *Engine) stageInput(job *Job, stage Stage) (StageInput, error) {
	base := BaseInput{
		ProjectPath: job.ProjectPath,
		ProjectName: job.ProjectName,
		Language:    job.Language,
	}
	if stage != StageProjectUnderstanding {
		return buildInput(stage, base, job.Stages)
	}

	tree, err := FileTree(job.ProjectPath, e.treeDepth)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{}
	if e.detectLanguage {
		if s, err := LanguageStats(job.ProjectPath); err != nil {
			e.logger.Warnf("Job %s: language statistics unavailable: %v", job.ID, err)
		} else {
			stats = s
		}
	}

	if e.convertDocs {
		e.convertReadme(job.ProjectPath)
	}

	return UnderstandingInput{
		BaseInput:     base,
		FileTree:      tree,
		Timestamp:     formatTimestamp(time.Now()),
		ModelName:     e.adapter.ModelName(),
		LanguageStats: stats,
		ReadmeExcerpt: ReadmeExcerpt(job.ProjectPath),
	}, nil
}

// convertReadme converts README documents that are not plain text into
// Markdown next to the original. Existing conversions are kept.
func (e *Engine) convertReadme(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	converter := convert.New(
		convert.WithRecursion(false),
		convert.WithSkipExisting(true),
	)
	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if entry.IsDir() || !strings.HasPrefix(name, "readme") {
			continue
		}
		switch filepath.Ext(name) {
		case "", ".md", ".txt", ".rst":
			continue
		}
		result, err := converter.Convert(filepath.Join(root, entry.Name()))
		if err != nil {
			e.logger.Warnf("Failed to convert %s: %v", entry.Name(), err)
			continue
		}
		e.logger.Debugf("Converted %s (%d converted, %d skipped, %d failed)",
			entry.Name(), result.Converted, result.Skipped, result.Failed)
	}
}
