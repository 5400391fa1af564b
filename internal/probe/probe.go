package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

// Probe is the contract every security check implements.
type Probe interface {
	// Name returns a stable identifier such as "zkp" or "device-fingerprint".
	Name() string

	// Step returns the pipeline step this probe owns.
	Step() state.Step

	// IsEnabled reports whether the probe should run under cfg.
	IsEnabled(cfg config.Config) bool

	// Execute runs the check. Implementations must honour ctx cancellation where
	// they block and must be safe to abandon: after a timeout the orchestrator
	// ignores whatever they return.
	Execute(ctx context.Context, kit *Kit) (Result, error)
}

// Result is the transient outcome of a single probe execution.
type Result struct {
	Success bool
	Data    map[string]any
	Error   string
	// Patch is the probe's sub-record. The orchestrator applies it to the
	// shared state; it may be nil when the probe had nothing to record.
	Patch state.Patch
}

// ApplyTo writes r into s: the patch first, then any failure message into
// the sub-record owned by step.
func (r Result) ApplyTo(s *state.State, step state.Step) {
	if r.Patch != nil {
		r.Patch.Apply(s)
	}
	if !r.Success && r.Error != "" {
		s.SetStepError(step, r.Error)
	}
}

// Reporter receives progress updates from a running probe.
type Reporter func(step state.Step, progress int)

// Context is a snapshot of what a probe knows about its run.
type Context struct {
	Config   config.Config
	Step     state.Step
	Progress int
}

// Kit bundles the helpers handed to every probe: progress reporting, delays,
// error handling, and logging.
type Kit struct {
	cfg    config.Config
	report Reporter
	logger *zap.Logger

	mu       sync.Mutex
	step     state.Step
	progress int
}

// NewKit validates cfg and returns a kit bound to it. A nil reporter or logger
// is replaced with a no-op.
func NewKit(cfg config.Config, report Reporter, logger *zap.Logger) (*Kit, error) {
	if cfg.TimeoutMs < constants.MinTimeoutMs || cfg.TimeoutMs > constants.MaxTimeoutMs {
		return nil, fmt.Errorf("%w: timeoutMs %d out of range", sharedErrors.ErrConfiguration, cfg.TimeoutMs)
	}
	if cfg.DelayMs < constants.MinDelayMs || cfg.DelayMs > constants.MaxDelayMs {
		return nil, fmt.Errorf("%w: delayMs %d out of range", sharedErrors.ErrConfiguration, cfg.DelayMs)
	}
	if report == nil {
		report = func(state.Step, int) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kit{cfg: cfg, report: report, logger: logger}, nil
}

// Config returns the configuration the kit was built with.
func (k *Kit) Config() config.Config {
	return k.cfg
}

// Logger returns the kit's logger.
func (k *Kit) Logger() *zap.Logger {
	return k.logger
}

// Context returns a snapshot of the kit's current view of the run.
func (k *Kit) Context() Context {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Context{Config: k.cfg, Step: k.step, Progress: k.progress}
}

// UpdateProgress records the probe's step and progress and forwards them to
// the reporter.
func (k *Kit) UpdateProgress(step state.Step, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: got %d", sharedErrors.ErrInvalidProgress, progress)
	}
	k.mu.Lock()
	k.step = step
	k.progress = progress
	k.mu.Unlock()

	k.report(step, progress)
	return nil
}

// Delay suspends for ms milliseconds or until ctx is done.
func (k *Kit) Delay(ctx context.Context, ms int) error {
	if ms < constants.MinDelayMs || ms > constants.MaxDelayMs {
		return fmt.Errorf("%w: got %d", sharedErrors.ErrInvalidDelay, ms)
	}
	return Sleep(ctx, time.Duration(ms)*time.Millisecond)
}

// DelayDefault suspends for the configured delayMs.
func (k *Kit) DelayDefault(ctx context.Context) error {
	return k.Delay(ctx, k.cfg.DelayMs)
}

// HandleError converts a failure into an unsuccessful Result with a sanitized
// message. The raw error is only logged.
func (k *Kit) HandleError(err error, message string) Result {
	if message == "" && err != nil {
		message = err.Error()
	}
	if err != nil {
		k.logger.Debug("probe error", zap.String("message", message), zap.Error(err))
	}
	return Result{Success: false, Error: SanitizeErrorMessage(message)}
}

// ValidateInput returns data when valid accepts it and ErrInvalidInput otherwise.
func ValidateInput[T any](data T, valid func(T) bool) (T, error) {
	if valid == nil || !valid(data) {
		var zero T
		return zero, sharedErrors.ErrInvalidInput
	}
	return data, nil
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
