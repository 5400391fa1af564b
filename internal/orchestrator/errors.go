package orchestrator

import (
	"fmt"
	"time"

	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

// ProbeTimeoutError reports a probe abandoned after the configured timeout.
// The run continues with the next probe.
type ProbeTimeoutError struct {
	Probe   string
	Timeout time.Duration
}

func (e *ProbeTimeoutError) Error() string {
	return fmt.Sprintf("%s check timed out after %s", e.Probe, e.Timeout)
}

func (e *ProbeTimeoutError) Unwrap() error {
	return sharedErrors.ErrProbeTimeout
}

// ProbeExecutionError reports a probe that returned an error or panicked.
// The run continues with the next probe.
type ProbeExecutionError struct {
	Probe string
	Err   error
}

func (e *ProbeExecutionError) Error() string {
	return fmt.Sprintf("%s check failed: %v", e.Probe, e.Err)
}

func (e *ProbeExecutionError) Unwrap() []error {
	return []error{sharedErrors.ErrProbeExecution, e.Err}
}

// OrchestrationError is a failure of the run itself. It ends the run in the
// ERROR step.
type OrchestrationError struct {
	Err error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("security check failed: %v", e.Err)
}

func (e *OrchestrationError) Unwrap() []error {
	return []error{sharedErrors.ErrOrchestration, e.Err}
}
