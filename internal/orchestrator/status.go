package orchestrator

import (
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/shared/constants"
)

// Overall is the tri-state posture verdict.
type Overall string

const (
	OverallSecure  Overall = "secure"
	OverallWarning Overall = "warning"
	OverallError   Overall = "error"
)

// SecurityStatus condenses a State into ten composite signals and a verdict.
type SecurityStatus struct {
	Overall           Overall `json:"overallStatus" yaml:"overallStatus"`
	DeviceFingerprint bool    `json:"deviceFingerprint" yaml:"deviceFingerprint"`
	HSM               bool    `json:"hsm" yaml:"hsm"`
	Biometric         bool    `json:"biometric" yaml:"biometric"`
	ZKP               bool    `json:"zkp" yaml:"zkp"`
	CSP               bool    `json:"csp" yaml:"csp"`
	TLS               bool    `json:"tls" yaml:"tls"`
	Headers           bool    `json:"headers" yaml:"headers"`
	Crypto            bool    `json:"crypto" yaml:"crypto"`
	Storage           bool    `json:"storage" yaml:"storage"`
	DOMProtection     bool    `json:"domProtection" yaml:"domProtection"`
}

// OverallFromCount maps the number of true signals to a verdict.
func OverallFromCount(n int) Overall {
	switch {
	case n >= constants.SecureThreshold:
		return OverallSecure
	case n >= constants.WarningThreshold:
		return OverallWarning
	default:
		return OverallError
	}
}

// StatusFrom derives the security status of s.
func StatusFrom(s state.State) SecurityStatus {
	status := SecurityStatus{
		DeviceFingerprint: s.DeviceFingerprint.Fingerprint != "",
		HSM:               s.HSM.IsAvailable && s.HSM.IsInitialized,
		Biometric:         s.Biometric.IsSupported,
		ZKP:               s.ZKP.IsReady,
		CSP:               s.CSP.IsEnabled && s.CSP.IsSecure,
		TLS:               s.TLS.IsSecure && s.TLS.CertificateValid,
		Headers:           s.Headers.HasSecurityHeaders,
		Crypto:            s.Crypto.HasSubtleCrypto && s.Crypto.HasSecureRandom,
		Storage:           s.Storage.IsSecure,
		DOMProtection:     s.DOMSkimming.IsProtected,
	}
	status.Overall = OverallFromCount(status.Count())
	return status
}

// Signals lists the ten signals in a fixed order.
func (s SecurityStatus) Signals() []bool {
	return []bool{
		s.DeviceFingerprint, s.HSM, s.Biometric, s.ZKP, s.CSP,
		s.TLS, s.Headers, s.Crypto, s.Storage, s.DOMProtection,
	}
}

// Count returns how many signals are true.
func (s SecurityStatus) Count() int {
	n := 0
	for _, ok := range s.Signals() {
		if ok {
			n++
		}
	}
	return n
}
