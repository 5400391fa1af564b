package errors

import "errors"

// Domain errors
var (
	// Configuration errors
	ErrConfiguration = errors.New("configuration error")

	// Probe errors
	ErrProbeTimeout    = errors.New("probe timed out")
	ErrProbeExecution  = errors.New("probe execution failed")
	ErrInvalidInput    = errors.New("Invalid input data")
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
	ErrInvalidDelay    = errors.New("delay must be between 0 and 10000 ms")

	// Orchestration errors
	ErrOrchestration  = errors.New("orchestration failed")
	ErrAlreadyRunning = errors.New("security check already in progress")
	ErrUnknownProbe   = errors.New("unknown probe")

	// Crypto errors
	ErrDegenerateValue    = errors.New("degenerate cryptographic value")
	ErrVerificationFailed = errors.New("verification failed")
	ErrKeyNotFound        = errors.New("key not found")

	// Storage errors
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")
)
