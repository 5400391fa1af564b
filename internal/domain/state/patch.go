package state

// Patch is a probe's sub-record. The orchestrator applies it to the State it
// owns, so probes never alias shared memory.
type Patch interface {
	Apply(s *State)
	Step() Step
}

func (p DeviceFingerprintStatus) Apply(s *State) {
	p.Components = append([]string(nil), p.Components...)
	s.DeviceFingerprint = p
}
func (DeviceFingerprintStatus) Step() Step { return StepDeviceFingerprinting }

func (p HSMStatus) Apply(s *State) { s.HSM = p }
func (HSMStatus) Step() Step       { return StepHSMVerification }

func (p BiometricStatus) Apply(s *State) { s.Biometric = p }
func (BiometricStatus) Step() Step       { return StepBiometricCheck }

func (p ZKPStatus) Apply(s *State) { s.ZKP = p }
func (ZKPStatus) Step() Step       { return StepZKPInitialization }

func (p CSPStatus) Apply(s *State) { s.CSP = p }
func (CSPStatus) Step() Step       { return StepCSPValidation }

func (p TLSStatus) Apply(s *State) { s.TLS = p }
func (TLSStatus) Step() Step       { return StepTLSCheck }

func (p HeadersStatus) Apply(s *State) {
	p.Missing = append([]string(nil), p.Missing...)
	s.Headers = p
}
func (HeadersStatus) Step() Step { return StepHeadersCheck }

func (p CryptoStatus) Apply(s *State) { s.Crypto = p }
func (CryptoStatus) Step() Step       { return StepCryptoCheck }

func (p StorageStatus) Apply(s *State) { s.Storage = p }
func (StorageStatus) Step() Step       { return StepStorageCheck }

func (p DOMSkimmingStatus) Apply(s *State) { s.DOMSkimming = p }
func (DOMSkimmingStatus) Step() Step       { return StepDOMProtection }

func (p CertificatePinningStatus) Apply(s *State) { s.CertificatePinning = p }
func (CertificatePinningStatus) Step() Step       { return StepCertificatePinning }

func (p GDPRComplianceStatus) Apply(s *State) { s.GDPRCompliance = p }
func (GDPRComplianceStatus) Step() Step       { return StepGDPRCompliance }

func (p ThreatDetectionStatus) Apply(s *State) { s.ThreatDetection = p }
func (ThreatDetectionStatus) Step() Step       { return StepThreatDetection }

func (p SOC2ComplianceStatus) Apply(s *State) { s.SOC2Compliance = p }
func (SOC2ComplianceStatus) Step() Step       { return StepSOC2Compliance }

// SetStepError records a failure message in the sub-record owned by step.
// Lifecycle steps are ignored.
func (s *State) SetStepError(step Step, msg string) {
	switch step {
	case StepDeviceFingerprinting:
		s.DeviceFingerprint.Error = msg
	case StepHSMVerification:
		s.HSM.Error = msg
	case StepBiometricCheck:
		s.Biometric.Error = msg
	case StepZKPInitialization:
		s.ZKP.Error = msg
	case StepCSPValidation:
		s.CSP.Error = msg
	case StepTLSCheck:
		s.TLS.Error = msg
	case StepHeadersCheck:
		s.Headers.Error = msg
	case StepCryptoCheck:
		s.Crypto.Error = msg
	case StepStorageCheck:
		s.Storage.Error = msg
	case StepDOMProtection:
		s.DOMSkimming.Error = msg
	case StepCertificatePinning:
		s.CertificatePinning.Error = msg
	case StepGDPRCompliance:
		s.GDPRCompliance.Error = msg
	case StepThreatDetection:
		s.ThreatDetection.Error = msg
	case StepSOC2Compliance:
		s.SOC2Compliance.Error = msg
	}
}

// Completed reports whether the probe owning step has produced an outcome,
// positive or negative. It drives progress polling.
func (s State) Completed(step Step) bool {
	switch step {
	case StepDeviceFingerprinting:
		return s.DeviceFingerprint.Fingerprint != "" || s.DeviceFingerprint.Error != ""
	case StepHSMVerification:
		return s.HSM.IsInitialized || s.HSM.Error != ""
	case StepBiometricCheck:
		return s.Biometric.IsSupported || s.Biometric.Error != ""
	case StepZKPInitialization:
		return s.ZKP.IsReady || s.ZKP.Error != ""
	case StepCSPValidation:
		return s.CSP.IsEnabled || s.CSP.Error != ""
	case StepTLSCheck:
		return s.TLS.IsSecure || s.TLS.Error != ""
	case StepHeadersCheck:
		return s.Headers.HasSecurityHeaders || s.Headers.Score > 0 || s.Headers.Error != ""
	case StepCryptoCheck:
		return s.Crypto.HasSubtleCrypto || s.Crypto.Error != ""
	case StepStorageCheck:
		return s.Storage.IsAvailable || s.Storage.Error != ""
	case StepDOMProtection:
		return s.DOMSkimming.IsProtected || s.DOMSkimming.Error != ""
	case StepCertificatePinning:
		return s.CertificatePinning.IsEnabled || s.CertificatePinning.Error != ""
	case StepGDPRCompliance:
		return s.GDPRCompliance.IsCompliant || s.GDPRCompliance.Error != ""
	case StepThreatDetection:
		return s.ThreatDetection.IsActive || s.ThreatDetection.Error != ""
	case StepSOC2Compliance:
		return s.SOC2Compliance.IsCompliant || s.SOC2Compliance.Error != ""
	}
	return false
}
