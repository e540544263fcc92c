/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package analysis

import (
	"context"
	"errors"
	"fmt"
)

// Stage identifies one of the five analysis phases
type Stage string

const (
	StageProjectUnderstanding Stage = "project_understanding"
	StageStructureRecognition Stage = "structure_recognition"
	StageSemanticAnalysis     Stage = "semantic_analysis"
	StageExecutionInference   Stage = "execution_inference"
	StageConcurrencyDetection Stage = "concurrency_detection"
)

var stageOrder = []Stage{
	StageProjectUnderstanding,
	StageStructureRecognition,
	StageSemanticAnalysis,
	StageExecutionInference,
	StageConcurrencyDetection,
}

// Stages returns the stages in execution order
func Stages() []Stage {
	return append([]Stage(nil), stageOrder...)
}

// Index returns the position of s in the execution order, or -1
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) String() string {
	return string(s)
}

// Stage failure categories
const (
	CategoryRender          = "render-error"
	CategoryAdapter         = "adapter-error"
	CategoryInvalidResponse = "invalid-response"
	CategoryInvalidContent  = "invalid-content"
	CategoryCancelled       = "cancelled"
	CategoryTimedOut        = "timed-out"
)

// StageError is the recorded cause of a failed stage
type StageError struct {
	Stage    Stage
	Category string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(stage Stage, category string, err error) *StageError {
	return &StageError{Stage: stage, Category: category, Err: err}
}

// interrupted classifies a done context: an expired deadline is a timeout,
// anything else a cancellation.
func interrupted(ctxErr error) (string, error) {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return CategoryTimedOut, fmt.Errorf("job exceeded its time limit: %w", ctxErr)
	}
	return CategoryCancelled, ctxErr
}

// CategoryOf returns the category of the first StageError in err's chain, or ""
func CategoryOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}
