package probe

import (
	"context"
	"errors"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

var errUnsuccessful = errors.New("probe reported failure")

// ExecuteWithRetry runs p up to retries+1 times, stopping at the first
// successful Result. The orchestrator itself never retries; this is the hook
// for callers that honour the retryAttempts setting.
func ExecuteWithRetry(ctx context.Context, p Probe, kit *Kit, retries int) (Result, error) {
	if retries < 0 {
		retries = 0
	}

	var last Result
	var lastErr error
	attempt := 0

	err := retry.Do(func() error {
		attempt++
		res, err := p.Execute(ctx, kit)
		last, lastErr = res, err
		if err != nil {
			return err
		}
		if !res.Success {
			return errUnsuccessful
		}
		return nil
	},
		retry.Attempts(uint(retries+1)),
		retry.Delay(initialBackoff),
		retry.MaxDelay(maxBackoff),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			kit.Logger().Debug("retrying probe",
				zap.String("probe", p.Name()),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)

	kit.Logger().Debug("probe attempts finished", zap.String("probe", p.Name()), zap.Int("attempts", attempt))

	if err == nil {
		return last, nil
	}
	if lastErr != nil {
		return last, lastErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !last.Success {
		return last, ctxErr
	}
	// The final attempt returned an unsuccessful Result; surface it as-is.
	return last, nil
}
