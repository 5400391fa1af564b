package state

import (
	"encoding/json"
	"fmt"
)

// Step identifies a stage of the security check pipeline. Values are ordered:
// a run only ever moves to a later step.
type Step int

const (
	StepInitializing Step = iota
	StepDeviceFingerprinting
	StepHSMVerification
	StepBiometricCheck
	StepZKPInitialization
	StepCSPValidation
	StepTLSCheck
	StepHeadersCheck
	StepCryptoCheck
	StepStorageCheck
	StepDOMProtection
	StepCertificatePinning
	StepGDPRCompliance
	StepThreatDetection
	StepSOC2Compliance
	StepCompleted
	StepError
)

var stepNames = [...]string{
	StepInitializing:         "INITIALIZING",
	StepDeviceFingerprinting: "DEVICE_FINGERPRINTING",
	StepHSMVerification:      "HSM_VERIFICATION",
	StepBiometricCheck:       "BIOMETRIC_CHECK",
	StepZKPInitialization:    "ZKP_INITIALIZATION",
	StepCSPValidation:        "CSP_VALIDATION",
	StepTLSCheck:             "TLS_CHECK",
	StepHeadersCheck:         "HEADERS_CHECK",
	StepCryptoCheck:          "CRYPTO_CHECK",
	StepStorageCheck:         "STORAGE_CHECK",
	StepDOMProtection:        "DOM_PROTECTION",
	StepCertificatePinning:   "CERTIFICATE_PINNING",
	StepGDPRCompliance:       "GDPR_COMPLIANCE",
	StepThreatDetection:      "THREAT_DETECTION",
	StepSOC2Compliance:       "SOC2_COMPLIANCE",
	StepCompleted:            "COMPLETED",
	StepError:                "ERROR",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

// IsProbeStep reports whether the step belongs to a probe (not a lifecycle marker).
func (s Step) IsProbeStep() bool {
	return s > StepInitializing && s < StepCompleted
}

// IsTerminal reports whether the step ends a run.
func (s Step) IsTerminal() bool {
	return s == StepCompleted || s == StepError
}

// ParseStep converts a step name back into a Step.
func ParseStep(name string) (Step, error) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("unknown step %q", name)
}

// Pipeline returns the probe steps in declared execution order.
func Pipeline() []Step {
	steps := make([]Step, 0, int(StepSOC2Compliance))
	for s := StepDeviceFingerprinting; s <= StepSOC2Compliance; s++ {
		steps = append(steps, s)
	}
	return steps
}

// QuickPipeline returns the steps of a quick check: the probes cheap enough for
// latency-sensitive callers.
func QuickPipeline() []Step {
	return []Step{StepDeviceFingerprinting, StepCryptoCheck, StepStorageCheck}
}

func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStep(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML renders the step by name.
func (s Step) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}
