package checks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/probe"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

var (
	languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)
	platformPattern = regexp.MustCompile(`^[\w\s().,/-]{1,64}$`)
	timezonePattern = regexp.MustCompile(`^[A-Za-z_]+(/[A-Za-z0-9_+\-]+)*$`)
)

// DeviceFingerprintProbe hashes validated environment attributes into a stable
// device fingerprint.
type DeviceFingerprintProbe struct {
	env platform.Environment
}

func (p *DeviceFingerprintProbe) Name() string     { return NameDeviceFingerprint }
func (p *DeviceFingerprintProbe) Step() state.Step { return state.StepDeviceFingerprinting }

func (p *DeviceFingerprintProbe) IsEnabled(cfg config.Config) bool {
	return cfg.EnableDeviceFingerprint
}

func (p *DeviceFingerprintProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	snap, err := p.env.Snapshot(ctx)
	if err != nil {
		return fail(kit, state.DeviceFingerprintStatus{}, err, "Failed to collect device attributes")
	}
	progress(kit, p.Step(), 30)

	fingerprint, components, err := Fingerprint(snap)
	if err != nil {
		return fail(kit, state.DeviceFingerprintStatus{}, err, "Device attributes failed validation")
	}
	progress(kit, p.Step(), 100)

	status := state.DeviceFingerprintStatus{
		Fingerprint: fingerprint,
		IsValid:     true,
		Components:  components,
	}
	return probe.Result{
		Success: true,
		Data:    map[string]any{"components": len(components)},
		Patch:   status,
	}, nil
}

// Fingerprint validates language, platform and timezone and returns the
// SHA-256 of all collected attributes together with the attribute names used.
// Malformed values are rejected instead of being hashed.
func Fingerprint(snap platform.Snapshot) (string, []string, error) {
	checks := []struct {
		name    string
		value   string
		pattern *regexp.Regexp
	}{
		{"language", snap.Language, languagePattern},
		{"platform", snap.Platform, platformPattern},
		{"timezone", snap.Timezone, timezonePattern},
	}
	for _, c := range checks {
		if _, err := probe.ValidateInput(c.value, c.pattern.MatchString); err != nil {
			return "", nil, fmt.Errorf("%w: malformed %s", sharedErrors.ErrInvalidInput, c.name)
		}
	}

	values := []string{snap.Language, snap.Platform, snap.Timezone}
	components := []string{"language", "platform", "timezone"}

	if ua := probe.SanitizeString(snap.UserAgent); ua != "" {
		values = append(values, ua)
		components = append(components, "userAgent")
	}
	if snap.ScreenResolution != "" {
		values = append(values, probe.SanitizeString(snap.ScreenResolution))
		components = append(components, "screenResolution")
	}
	if n := probe.SanitizeNumber(float64(snap.HardwareConcurrency)); n > 0 {
		values = append(values, strconv.FormatInt(int64(n), 10))
		components = append(components, "hardwareConcurrency")
	}

	sum := sha256.Sum256([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(sum[:]), components, nil
}
