package model

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies a job failure and decides the retry policy.
type FailureKind int

const (
	// FailureInvalidInput marks malformed payloads and out-of-range
	// dimensions. Never retried.
	FailureInvalidInput FailureKind = iota
	// FailureInvalidMachining marks violated machining constraints
	// (tool too large, cut depth too shallow). Never retried.
	FailureInvalidMachining
	// FailureTransient marks infrastructure blips: object-store timeouts,
	// broker hiccups, DB deadlocks. Retried with backoff.
	FailureTransient
	// FailureDependencyMissing marks a referenced artifact or job that
	// does not exist. Never retried.
	FailureDependencyMissing
	// FailureInternal marks everything unclassified. Retried; the DLQ
	// entry keeps the trace after exhaustion.
	FailureInternal
)

func (k FailureKind) String() string {
	switch k {
	case FailureInvalidInput:
		return "invalid_input"
	case FailureInvalidMachining:
		return "invalid_machining"
	case FailureTransient:
		return "transient"
	case FailureDependencyMissing:
		return "dependency_missing"
	default:
		return "internal"
	}
}

// Retryable reports whether a failure of this kind goes through the
// backoff/re-enqueue path.
func (k FailureKind) Retryable() bool {
	return k == FailureTransient || k == FailureInternal
}

// PipelineError carries a failure classification alongside the message.
// Components return these; the worker reads the kind at the job boundary.
type PipelineError struct {
	Kind FailureKind
	msg  string
	err  error
}

func (e *PipelineError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *PipelineError) Unwrap() error { return e.err }

// Errf builds a classified error from a format string.
func Errf(kind FailureKind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a classification to an underlying error.
func WrapErr(kind FailureKind, err error, msg string) *PipelineError {
	return &PipelineError{Kind: kind, msg: msg, err: err}
}

// ClassifyError extracts the failure kind from an error chain.
// Deadline and cancellation errors count as transient (the retry path
// handles job timeouts); anything unclassified is internal.
func ClassifyError(err error) FailureKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransient
	}
	return FailureInternal
}
