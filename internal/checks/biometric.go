package checks

import (
	"context"
	"errors"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/probe"
)

// BiometricProbe asks the platform authenticator whether user-verifying
// authentication is available.
type BiometricProbe struct {
	auth platform.Authenticator
}

func (p *BiometricProbe) Name() string                     { return NameBiometric }
func (p *BiometricProbe) Step() state.Step                 { return state.StepBiometricCheck }
func (p *BiometricProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableBiometric }

func (p *BiometricProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	if p.auth == nil || !p.auth.WebAuthnSupported() {
		return fail(kit, state.BiometricStatus{}, errors.New("webauthn unsupported"), "Biometric authentication is not supported")
	}
	status := state.BiometricStatus{IsSupported: true}

	available, err := p.auth.PlatformAuthenticatorAvailable(ctx)
	if err != nil {
		return fail(kit, status, err, "Failed to query platform authenticator")
	}
	status.IsAvailable = available
	status.PlatformAuthenticator = available
	progress(kit, p.Step(), 100)

	return probe.Result{
		Success: true,
		Data:    map[string]any{"platformAuthenticator": available},
		Patch:   status,
	}, nil
}
