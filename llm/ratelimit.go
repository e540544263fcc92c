/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding window limiter: at most maxRequests calls in any period
type RateLimiter struct {
	maxRequests int
	period      time.Duration
	requests    []time.Time
	mu          sync.Mutex
}

// NewRateLimiter creates a limiter. A non-positive maxRequests or period disables limiting.
func NewRateLimiter(maxRequests, periodSeconds int) *RateLimiter {
	r := &RateLimiter{
		maxRequests: maxRequests,
		period:      time.Duration(periodSeconds) * time.Second,
	}
	if maxRequests > 0 {
		r.requests = make([]time.Time, 0, maxRequests)
	}
	return r
}

// Wait blocks until a request slot is free or ctx is done, and records the request.
// It returns the time spent waiting.
func (r *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	if r == nil || r.maxRequests <= 0 || r.period <= 0 {
		return 0, ctx.Err()
	}

	var waited time.Duration
	for {
		r.mu.Lock()
		now := time.Now()
		r.pruneLocked(now)
		if len(r.requests) < r.maxRequests {
			r.requests = append(r.requests, now)
			r.mu.Unlock()
			return waited, nil
		}
		delay := r.requests[0].Add(r.period).Sub(now)
		r.mu.Unlock()

		// Another caller may take the slot first, so loop and re-check
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
			waited += delay
		}
	}
}

// Available returns the number of requests that can be made right now without waiting
func (r *RateLimiter) Available() int {
	if r == nil || r.maxRequests <= 0 {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(time.Now())
	return r.maxRequests - len(r.requests)
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.period)
	valid := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.requests = valid
}
