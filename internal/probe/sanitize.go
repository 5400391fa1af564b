package probe

import (
	"math"
	"regexp"
	"strings"

	"github.com/khanhnv2901/seca-trust/internal/shared/constants"
)

const redacted = "[REDACTED]"

var (
	htmlMetaChars   = regexp.MustCompile(`[<>"'&]`)
	disallowedChars = regexp.MustCompile(`[^\w\s\-./]`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)

	// Sensitive phrases are redacted together with the rest of the word they
	// start and the word that follows, so "password123" and "api key sk_live"
	// disappear entirely.
	sensitivePhrases = regexp.MustCompile(`(?i)(?:private\s*key|password|secret|token|api\s*key|file\s*path|system\s*path)\S*(?:\s+\S+)?`)
	// Absolute filesystem paths with at least two segments.
	filesystemPaths = regexp.MustCompile(`(?:/[\w.\-]+){2,}/?`)
)

func stripUnsafe(s string) string {
	s = htmlMetaChars.ReplaceAllString(s, "")
	s = disallowedChars.ReplaceAllString(s, "")
	s = whitespaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SanitizeErrorMessage prepares an error string for display outside the engine.
// HTML metacharacters and anything outside word/space/dash/dot/slash are
// removed, secrets and filesystem paths are redacted, and the result is cut to
// 200 characters with a trailing ellipsis.
func SanitizeErrorMessage(msg string) string {
	s := stripUnsafe(msg)
	s = sensitivePhrases.ReplaceAllString(s, redacted)
	s = filesystemPaths.ReplaceAllString(s, redacted)
	s = strings.TrimSpace(s)

	if len(s) > constants.MaxErrorMessageLength {
		s = strings.TrimSpace(s[:constants.MaxErrorMessageLength-3]) + "..."
	}
	if s == "" {
		return "Unknown error"
	}
	return s
}

// SanitizeString strips unsafe characters from a general string and truncates
// it to 1000 characters.
func SanitizeString(s string) string {
	s = stripUnsafe(s)
	if len(s) > constants.MaxSanitizedStringLength {
		s = s[:constants.MaxSanitizedStringLength]
	}
	return s
}

// SanitizeNumber maps NaN and infinities to zero and clamps into
// [0, MaxSafeInteger].
func SanitizeNumber(n float64) float64 {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	if n < 0 {
		return 0
	}
	if n > constants.MaxSafeInteger {
		return constants.MaxSafeInteger
	}
	return n
}
