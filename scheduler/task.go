/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PivotLLM/AIFlow/global"
)

// Priority orders pending tasks. Higher values are dispatched first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// priorityCount is the number of pending sub-queues
const priorityCount = int(PriorityUrgent) + 1

var priorityNames = [priorityCount]string{"LOW", "NORMAL", "HIGH", "URGENT"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityUrgent {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

// MarshalJSON encodes the level name
func (p Priority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Valid reports whether p is one of the four defined levels
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// ParsePriority accepts a level name in any case. An empty string means NORMAL.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return PriorityNormal, fmt.Errorf("invalid priority %q (must be one of low, normal, high, urgent)", s)
}

// Operation is the work a task runs. It should return promptly once ctx is done.
type Operation func(ctx context.Context) (interface{}, error)

// Task is a point-in-time snapshot of a scheduled task
type Task struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Priority    Priority      `json:"priority"`
	State       string        `json:"state"`
	Result      interface{}   `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	Err         error         `json:"-"`
	Timeout     time.Duration `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the task can no longer change state
func (t *Task) IsTerminal() bool {
	return isTerminal(t.State)
}

// WaitTime is the time spent pending. For a task that has not started it runs until now.
func (t *Task) WaitTime() time.Duration {
	if t.StartedAt != nil {
		return t.StartedAt.Sub(t.CreatedAt)
	}
	return time.Since(t.CreatedAt)
}

// Duration is the execution time, or zero if the task has not both started and finished
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

func isTerminal(state string) bool {
	switch state {
	case global.TaskStateCompleted, global.TaskStateFailed, global.TaskStateCancelled, global.TaskStateTimedOut:
		return true
	}
	return false
}

// queueTask is the scheduler's mutable record for one task. All fields
// except op and done are guarded by Scheduler.mu.
type queueTask struct {
	Task
	op     Operation
	cancel context.CancelFunc
	done   chan struct{}
}

func (q *queueTask) snapshot() *Task {
	t := q.Task
	return &t
}
