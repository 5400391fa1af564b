package checks

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/hsm"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/probe"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
	"github.com/khanhnv2901/seca-trust/internal/zkp"
)

// Probe names, used by the CLI and in logs and metrics.
const (
	NameDeviceFingerprint  = "device-fingerprint"
	NameHSM                = "hsm"
	NameBiometric          = "biometric"
	NameZKP                = "zkp"
	NameCSP                = "csp"
	NameTLS                = "tls"
	NameHeaders            = "headers"
	NameCrypto             = "crypto"
	NameStorage            = "storage"
	NameDOMProtection      = "dom-protection"
	NameCertificatePinning = "certificate-pinning"
	NameGDPRCompliance     = "gdpr-compliance"
	NameThreatDetection    = "threat-detection"
	NameSOC2Compliance     = "soc2-compliance"
)

// Dependencies are the collaborators probes read from. Zero values are
// replaced with working defaults by New.
type Dependencies struct {
	Environment   platform.Environment
	Storage       platform.Storage
	Authenticator platform.Authenticator
	Keystore      *hsm.Keystore
	Group         zkp.Group
	Rand          io.Reader
	Now           func() time.Time
	Logger        *zap.Logger
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Environment == nil {
		d.Environment = platform.HostEnvironment{}
	}
	if d.Storage == nil {
		d.Storage = platform.NewMemoryStorage()
	}
	if d.Authenticator == nil {
		d.Authenticator = platform.StaticAuthenticator{}
	}
	if d.Rand == nil {
		d.Rand = rand.Reader
	}
	if d.Keystore == nil {
		d.Keystore = hsm.NewKeystore(d.Storage, hsm.WithRand(d.Rand), hsm.WithLogger(d.Logger))
	}
	if d.Group.P == nil {
		d.Group = zkp.DefaultGroup()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// New builds all fourteen probes in pipeline order.
func New(deps Dependencies) []probe.Probe {
	deps = deps.withDefaults()
	return []probe.Probe{
		&DeviceFingerprintProbe{env: deps.Environment},
		&HSMProbe{keystore: deps.Keystore, now: deps.Now},
		&BiometricProbe{auth: deps.Authenticator},
		&ZKPProbe{group: deps.Group, rand: deps.Rand, now: deps.Now},
		&CSPProbe{env: deps.Environment},
		&TLSProbe{env: deps.Environment},
		&HeadersProbe{env: deps.Environment},
		&CryptoProbe{rand: deps.Rand},
		&StorageProbe{storage: deps.Storage, rand: deps.Rand, now: deps.Now},
		&DOMProtectionProbe{env: deps.Environment},
		&CertificatePinningProbe{env: deps.Environment},
		&GDPRComplianceProbe{env: deps.Environment, storage: deps.Storage},
		&ThreatDetectionProbe{env: deps.Environment},
		&SOC2ComplianceProbe{env: deps.Environment},
	}
}

// ByName returns the probe called name.
func ByName(probes []probe.Probe, name string) (probe.Probe, error) {
	for _, p := range probes {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (available: %s)", sharedErrors.ErrUnknownProbe, name, strings.Join(Names(probes), ", "))
}

// Names lists probe names in order.
func Names(probes []probe.Probe) []string {
	names := make([]string, 0, len(probes))
	for _, p := range probes {
		names = append(names, p.Name())
	}
	return names
}

// fail returns an unsuccessful result carrying patch. The sanitized message
// ends up in the patch's Error field once the result is applied.
func fail(kit *probe.Kit, patch state.Patch, err error, message string) (probe.Result, error) {
	res := kit.HandleError(err, message)
	res.Patch = patch
	return res, nil
}

func progress(kit *probe.Kit, step state.Step, pct int) {
	_ = kit.UpdateProgress(step, pct)
}
