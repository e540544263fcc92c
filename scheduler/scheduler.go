/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package scheduler runs arbitrary operations with bounded concurrency,
// four strict priority levels, per-task timeouts and cancellation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/PivotLLM/AIFlow/global"
	"github.com/PivotLLM/AIFlow/logging"
	"github.com/google/uuid"
)

var (
	ErrQueueFull      = errors.New("queue is full")
	ErrTaskNotFound   = errors.New("task not found")
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler not started")
	ErrWaitTimeout    = errors.New("timed out waiting for task")
	ErrTaskTimeout    = errors.New("task timeout")
	ErrTaskCancelled  = errors.New("task cancelled")
)

// QueueFullError is returned by Submit when the pending queues are at capacity
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue is full (max size: %d)", e.Capacity)
}

// Unwrap allows errors.Is(err, ErrQueueFull)
func (e *QueueFullError) Unwrap() error {
	return ErrQueueFull
}

// Stats is a summary of scheduler state. Running, Pending, Completed,
// Failed, Cancelled and TimedOut add up to Total. Draining counts cancelled
// or timed out tasks whose operation has not returned yet; they still hold
// a slot and are also counted under Cancelled or TimedOut.
type Stats struct {
	Total         int            `json:"total"`
	Running       int            `json:"running"`
	Draining      int            `json:"draining"`
	Pending       int            `json:"pending"`
	PendingBy     map[string]int `json:"pending_by_priority"`
	Completed     int            `json:"completed"`
	Failed        int            `json:"failed"`
	Cancelled     int            `json:"cancelled"`
	TimedOut      int            `json:"timed_out"`
	AvgWaitTime   float64        `json:"avg_wait_time_seconds"`
	AvgDuration   float64        `json:"avg_duration_seconds"`
	MaxConcurrent int            `json:"max_concurrent"`
	MaxQueueSize  int            `json:"max_queue_size"`
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithMaxConcurrent sets the number of operations that may run at once
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithMaxQueueSize sets the total capacity of the pending queues
func WithMaxQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxQueueSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// Scheduler dispatches tasks from four FIFO sub-queues, highest priority
// first, to at most maxConcurrent concurrently executing operations.
//
// A single mutex guards the sub-queues, the running set and every task
// record. The dispatch goroutine sleeps on the wake channel and is signalled
// whenever a task is submitted, finishes, or is cancelled.
type Scheduler struct {
	logger        *logging.Logger
	maxConcurrent int
	maxQueueSize  int

	mu      sync.Mutex
	queues  [priorityCount][]*queueTask
	running map[string]*queueTask
	tasks   map[string]*queueTask
	order   []string

	wake       chan struct{}
	started    bool
	stopCh     chan struct{}
	loopDone   chan struct{}
	loopCancel context.CancelFunc

	activeTasks sync.WaitGroup
}

// New creates a scheduler. Call Start to begin dispatching.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		maxConcurrent: global.DefaultMaxConcurrent,
		maxQueueSize:  global.DefaultMaxQueueSize,
		running:       make(map[string]*queueTask),
		tasks:         make(map[string]*queueTask),
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	defaultOnce      sync.Once
	defaultScheduler *Scheduler
)

// Default returns a process-wide scheduler built with default options and
// started on first use. Prefer constructing and passing a Scheduler explicitly.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultScheduler = New()
		_ = defaultScheduler.Start()
	})
	return defaultScheduler
}

// MaxConcurrent returns the concurrency bound
func (s *Scheduler) MaxConcurrent() int {
	return s.maxConcurrent
}

// Start launches the dispatch loop. It fails if the loop is already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.started = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.loopCancel = cancel

	go s.loop(ctx, s.stopCh, s.loopDone)

	s.logger.Infof("Scheduler started (max_concurrent=%d, max_queue_size=%d)", s.maxConcurrent, s.maxQueueSize)
	return nil
}

// Stop signals the dispatch loop to exit and waits up to drainTimeout for it
// to do so, then cancels the loop's context. Pending tasks stay queued and
// running operations are not interrupted; use Wait to block on them.
func (s *Scheduler) Stop(drainTimeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	stopCh, loopDone, cancel := s.stopCh, s.loopDone, s.loopCancel
	s.mu.Unlock()

	close(stopCh)

	if drainTimeout <= 0 {
		drainTimeout = time.Duration(global.DefaultStopTimeoutSeconds) * time.Second
	}
	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()

	select {
	case <-loopDone:
	case <-timer.C:
		s.logger.Warnf("Scheduler dispatch loop did not stop within %s, forcing cancellation", drainTimeout)
		cancel()
		<-loopDone
	}
	cancel()

	s.logger.Info("Scheduler stopped")
	return nil
}

// Wait blocks until every launched operation has returned
func (s *Scheduler) Wait() {
	s.activeTasks.Wait()
}

// IsRunning reports whether the dispatch loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Submit enqueues an operation and returns its task id. A zero timeout means
// the operation is not time-bounded. An empty name defaults to "Task-<id prefix>".
func (s *Scheduler) Submit(op Operation, priority Priority, timeout time.Duration, name string) (string, error) {
	if op == nil {
		return "", fmt.Errorf("operation is required")
	}
	if !priority.Valid() {
		return "", fmt.Errorf("invalid priority %d", int(priority))
	}

	id := uuid.New().String()
	if name == "" {
		name = "Task-" + id[:8]
	}

	t := &queueTask{
		Task: Task{
			ID:        id,
			Name:      name,
			Priority:  priority,
			State:     global.TaskStatePending,
			Timeout:   timeout,
			CreatedAt: time.Now(),
		},
		op:   op,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.pendingLocked() >= s.maxQueueSize {
		s.mu.Unlock()
		return "", &QueueFullError{Capacity: s.maxQueueSize}
	}
	s.queues[priority] = append(s.queues[priority], t)
	s.tasks[id] = t
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.logger.Debugf("Task %s (%s): submitted with priority %s", id, name, priority)
	s.signal()
	return id, nil
}

// Cancel stops a task. A pending task is removed from its queue and never
// runs. A running task is marked cancelled and its context is cancelled;
// the operation keeps its slot until it returns. Returns false if the task
// is unknown or already terminal.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok || t.IsTerminal() {
		s.mu.Unlock()
		return false
	}

	wasRunning := t.State == global.TaskStateRunning
	if !wasRunning {
		s.removePendingLocked(t)
	}
	s.finishLocked(t, global.TaskStateCancelled, nil, ErrTaskCancelled)
	cancel := t.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasRunning {
		s.logger.Infof("Task %s: cancellation requested while running", id)
	} else {
		s.logger.Infof("Task %s: cancelled before dispatch", id)
	}
	s.signal()
	return true
}

// Get returns a snapshot of a task
func (s *Scheduler) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.snapshot(), nil
}

// List returns snapshots of all tasks in submission order
func (s *Scheduler) List() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].snapshot())
	}
	return out
}

// Await blocks until the task is terminal, the wait timeout elapses, or ctx
// is done. A zero timeout waits without limit. Expiry of the wait never
// affects the task itself.
func (s *Scheduler) Await(ctx context.Context, id string, timeout time.Duration) (*Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-t.done:
		return s.Get(id)
	case <-expired:
		return nil, fmt.Errorf("%w %s after %s", ErrWaitTimeout, id, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats summarizes the scheduler. Averages cover completed tasks only.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Total:         len(s.tasks),
		PendingBy:     make(map[string]int, priorityCount),
		MaxConcurrent: s.maxConcurrent,
		MaxQueueSize:  s.maxQueueSize,
	}
	for _, t := range s.running {
		if t.IsTerminal() {
			st.Draining++
		} else {
			st.Running++
		}
	}
	for p := range s.queues {
		st.PendingBy[Priority(p).String()] = len(s.queues[p])
		st.Pending += len(s.queues[p])
	}

	var wait, run time.Duration
	for _, t := range s.tasks {
		switch t.State {
		case global.TaskStateCompleted:
			st.Completed++
			wait += t.WaitTime()
			run += t.Duration()
		case global.TaskStateFailed:
			st.Failed++
		case global.TaskStateCancelled:
			st.Cancelled++
		case global.TaskStateTimedOut:
			st.TimedOut++
		}
	}
	if st.Completed > 0 {
		st.AvgWaitTime = wait.Seconds() / float64(st.Completed)
		st.AvgDuration = run.Seconds() / float64(st.Completed)
	}
	return st
}

// signal wakes the dispatch loop without blocking
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.dispatch()

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

// dispatch starts pending tasks until the running set is full or the queues are empty
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.running) < s.maxConcurrent {
		t := s.popLocked()
		if t == nil {
			return
		}
		s.startLocked(t)
	}
}

// popLocked removes the oldest task from the highest non-empty priority queue
func (s *Scheduler) popLocked() *queueTask {
	for p := priorityCount - 1; p >= 0; p-- {
		if len(s.queues[p]) == 0 {
			continue
		}
		t := s.queues[p][0]
		s.queues[p][0] = nil
		s.queues[p] = s.queues[p][1:]
		return t
	}
	return nil
}

func (s *Scheduler) removePendingLocked(t *queueTask) {
	q := s.queues[t.Priority]
	for i, candidate := range q {
		if candidate == t {
			s.queues[t.Priority] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) pendingLocked() int {
	n := 0
	for p := range s.queues {
		n += len(s.queues[p])
	}
	return n
}

func (s *Scheduler) startLocked(t *queueTask) {
	ctx, cancel := context.WithCancel(context.Background())
	if t.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), t.Timeout)
	}

	now := time.Now()
	t.State = global.TaskStateRunning
	t.StartedAt = &now
	t.cancel = cancel
	s.running[t.ID] = t

	s.activeTasks.Add(1)
	go s.execute(ctx, t)

	s.logger.Debugf("Task %s: started after waiting %s", t.ID, t.WaitTime())
}

type outcome struct {
	result interface{}
	err    error
}

// execute runs the operation and records its terminal state. If the task
// times out or is cancelled first, the terminal state is recorded at once
// but the slot is only released when the operation returns.
func (s *Scheduler) execute(ctx context.Context, t *queueTask) {
	defer s.activeTasks.Done()
	defer t.cancel()

	results := make(chan outcome, 1)
	go func() {
		results <- invoke(ctx, t.op)
	}()

	var out outcome
	select {
	case out = <-results:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.mu.Lock()
			s.finishLocked(t, global.TaskStateTimedOut, nil, fmt.Errorf("%w after %s", ErrTaskTimeout, t.Timeout))
			s.mu.Unlock()
			s.logger.Warnf("Task %s: timed out after %s", t.ID, t.Timeout)
		}
		out = <-results
	}

	s.mu.Lock()
	switch {
	case out.err == nil:
		s.finishLocked(t, global.TaskStateCompleted, out.result, nil)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.finishLocked(t, global.TaskStateTimedOut, nil, fmt.Errorf("%w after %s", ErrTaskTimeout, t.Timeout))
	default:
		s.finishLocked(t, global.TaskStateFailed, nil, out.err)
	}
	delete(s.running, t.ID)
	state := t.State
	s.mu.Unlock()

	if state == global.TaskStateFailed && out.err != nil {
		s.logger.Errorf("Task %s: failed: %v", t.ID, out.err)
	} else {
		s.logger.Debugf("Task %s: finished with state %s", t.ID, state)
	}
	s.signal()
}

// invoke calls op, converting a panic into an error
func invoke(ctx context.Context, op Operation) (out outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = outcome{err: fmt.Errorf("panic in task operation: %v\n%s", rec, debug.Stack())}
		}
	}()
	result, err := op(ctx)
	return outcome{result: result, err: err}
}

// finishLocked records a terminal state once. Later calls are ignored so a
// cancelled or timed out task keeps its state when the operation returns.
func (s *Scheduler) finishLocked(t *queueTask, state string, result interface{}, err error) {
	if t.IsTerminal() {
		return
	}
	now := time.Now()
	t.State = state
	t.Result = result
	t.Err = err
	if err != nil {
		t.Error = err.Error()
	}
	t.CompletedAt = &now
	close(t.done)
}
