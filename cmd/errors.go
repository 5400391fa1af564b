package cmd

import (
	"errors"
	"fmt"

	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

// Exit codes returned by Execute.
const (
	exitFailure  = 1
	exitUsage    = 2
	exitInsecure = 3
	exitProbe    = 4
)

// ProbeFailedError indicates a single probe run ended unsuccessfully.
type ProbeFailedError struct {
	Probe  string
	Reason string
}

func (e *ProbeFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("probe %s failed", e.Probe)
	}
	return fmt.Sprintf("probe %s failed: %s", e.Probe, e.Reason)
}

// InsecurePostureError signals that --strict was set and the overall verdict
// was error.
type InsecurePostureError struct {
	Signals int
	Total   int
}

func (e *InsecurePostureError) Error() string {
	return fmt.Sprintf("security posture is insecure (%d/%d signals)", e.Signals, e.Total)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var insecure *InsecurePostureError
	var failed *ProbeFailedError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &insecure):
		return exitInsecure
	case errors.As(err, &failed):
		return exitProbe
	case errors.Is(err, sharedErrors.ErrConfiguration),
		errors.Is(err, sharedErrors.ErrUnknownProbe):
		return exitUsage
	}
	return exitFailure
}
