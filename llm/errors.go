/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package llm

import (
	"errors"
	"fmt"
)

// Kind classifies a model call failure
type Kind string

const (
	KindRateLimited    Kind = "rate-limited"
	KindAuth           Kind = "auth"
	KindInvalidRequest Kind = "invalid-request"
	KindModelNotFound  Kind = "model-not-found"
	KindOther          Kind = "other"
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its Kind.
var (
	ErrRateLimited    = errors.New("rate limited")
	ErrAuth           = errors.New("authentication failed")
	ErrInvalidRequest = errors.New("invalid request")
	ErrModelNotFound  = errors.New("model not found")
	ErrOther          = errors.New("model call failed")
)

// Error is a classified model call failure
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(kind Kind) error {
	switch kind {
	case KindRateLimited:
		return ErrRateLimited
	case KindAuth:
		return ErrAuth
	case KindInvalidRequest:
		return ErrInvalidRequest
	case KindModelNotFound:
		return ErrModelNotFound
	default:
		return ErrOther
	}
}

func newError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or KindOther
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// permanent kinds are returned to the caller without retrying
func permanent(kind Kind) bool {
	switch kind {
	case KindAuth, KindInvalidRequest, KindModelNotFound:
		return true
	}
	return false
}
