package checks

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/probe"
)

// TLSProbe checks that the page is served over a secure transport. Certificate
// validity is taken from the environment; nothing is fetched.
type TLSProbe struct {
	env platform.Environment
}

func (p *TLSProbe) Name() string                     { return NameTLS }
func (p *TLSProbe) Step() state.Step                 { return state.StepTLSCheck }
func (p *TLSProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableTLS }

func (p *TLSProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	snap, err := p.env.Snapshot(ctx)
	if err != nil {
		return fail(kit, state.TLSStatus{}, err, "Failed to read connection details")
	}

	protocol := strings.TrimSuffix(strings.ToLower(snap.Protocol), ":")
	status := state.TLSStatus{
		IsSecure:         protocol == "https" || (protocol != "" && isLocalHost(snap.Hostname)),
		CertificateValid: snap.CertificateValid,
	}

	switch {
	case !status.IsSecure:
		return fail(kit, status, nil, "Connection is not served over HTTPS")
	case !status.CertificateValid:
		return fail(kit, status, nil, "TLS certificate could not be validated")
	}
	return probe.Result{
		Success: true,
		Data:    map[string]any{"protocol": protocol, "hostname": probe.SanitizeString(snap.Hostname)},
		Patch:   status,
	}, nil
}

func isLocalHost(h string) bool {
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}

const pinPrefix = "sha256/"

// CertificatePinningProbe checks that SPKI pins are configured for the host and
// are well formed base64 SHA-256 digests. Pins are not compared against a live
// certificate.
type CertificatePinningProbe struct {
	env platform.Environment
}

func (p *CertificatePinningProbe) Name() string     { return NameCertificatePinning }
func (p *CertificatePinningProbe) Step() state.Step { return state.StepCertificatePinning }

func (p *CertificatePinningProbe) IsEnabled(cfg config.Config) bool {
	return cfg.EnableCertificatePinning
}

func (p *CertificatePinningProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	snap, err := p.env.Snapshot(ctx)
	if err != nil {
		return fail(kit, state.CertificatePinningStatus{}, err, "Failed to read pin configuration")
	}

	pins := snap.CertificatePins[snap.Hostname]
	if len(pins) == 0 {
		return fail(kit, state.CertificatePinningStatus{}, errors.New("no pins"), "No certificate pins configured for host")
	}

	status := state.CertificatePinningStatus{IsEnabled: true, PinCount: len(pins), IsValid: true}
	for _, pin := range pins {
		if !validPin(pin) {
			status.IsValid = false
			break
		}
	}
	if !status.IsValid {
		return fail(kit, status, nil, "Certificate pin set contains malformed entries")
	}
	return probe.Result{Success: true, Data: map[string]any{"pins": len(pins)}, Patch: status}, nil
}

func validPin(pin string) bool {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(strings.TrimSpace(pin), pinPrefix))
	return err == nil && len(raw) == sha256.Size
}
