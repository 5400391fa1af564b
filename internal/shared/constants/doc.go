// Package constants centralizes configuration bounds and defaults shared across
// the engine.
//
// Keeping timeout/retry/delay bounds, sanitization limits, and key lifetimes in
// one place lets the config validator, the probe kit, and the orchestrator agree
// on the same numbers without introducing import cycles.
package constants
