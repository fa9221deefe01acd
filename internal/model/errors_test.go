package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"direct", Errf(FailureInvalidInput, "bad sheet"), FailureInvalidInput},
		{"wrapped", fmt.Errorf("stage: %w", Errf(FailureInvalidMachining, "tool too wide")), FailureInvalidMachining},
		{"transient wrap", WrapErr(FailureTransient, errors.New("connection reset"), "put object"), FailureTransient},
		{"deadline", context.DeadlineExceeded, FailureTransient},
		{"canceled", context.Canceled, FailureTransient},
		{"plain", errors.New("boom"), FailureInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if FailureInvalidInput.Retryable() || FailureInvalidMachining.Retryable() || FailureDependencyMissing.Retryable() {
		t.Error("validation failures must not be retryable")
	}
	if !FailureTransient.Retryable() || !FailureInternal.Retryable() {
		t.Error("transient and internal failures must be retryable")
	}
}

func TestPipelineErrorUnwrap(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	err := WrapErr(FailureTransient, base, "redis pop")

	if !errors.Is(err, base) {
		t.Error("wrapped error lost from chain")
	}
	if got := err.Error(); got != "transient: redis pop: dial tcp: timeout" {
		t.Errorf("Error() = %q", got)
	}
}
