package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when creating files.
	// Persisted key metadata and state snapshots are owner-only.
	DefaultFilePerm fs.FileMode = 0o600
)

// Configuration bounds. Values are milliseconds unless noted.
const (
	MinTimeoutMs     = 1000
	MaxTimeoutMs     = 60000
	MinRetryAttempts = 0
	MaxRetryAttempts = 10
	MinDelayMs       = 0
	MaxDelayMs       = 10000

	DefaultTimeoutMs     = 30000
	DefaultRetryAttempts = 3
	DefaultDelayMs       = 500
)

const (
	// MaxErrorMessageLength caps sanitized error strings that leave the engine.
	MaxErrorMessageLength = 200
	// MaxSanitizedStringLength caps general sanitized strings.
	MaxSanitizedStringLength = 1000
	// MaxSafeInteger mirrors the largest integer exactly representable in a float64.
	MaxSafeInteger = 1<<53 - 1
)

const (
	// ProgressPollInterval is how often the progress poller re-evaluates state.
	ProgressPollInterval = 100 * time.Millisecond
	// KeyMaxAge is how long a persisted HSM key pair may be reused.
	KeyMaxAge = 30 * 24 * time.Hour
)

// Overall verdict thresholds over the ten tracked security signals.
const (
	SecureThreshold  = 8
	WarningThreshold = 6
)
