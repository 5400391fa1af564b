package state

// DeviceFingerprintStatus holds the outcome of device fingerprinting.
type DeviceFingerprintStatus struct {
	Fingerprint string   `json:"fingerprint" yaml:"fingerprint"`
	IsValid     bool     `json:"isValid" yaml:"isValid"`
	Components  []string `json:"components,omitempty" yaml:"components,omitempty"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// HSMStatus holds the outcome of the key lifecycle probe.
type HSMStatus struct {
	IsAvailable      bool   `json:"isAvailable" yaml:"isAvailable"`
	IsInitialized    bool   `json:"isInitialized" yaml:"isInitialized"`
	KeyPairGenerated bool   `json:"keyPairGenerated" yaml:"keyPairGenerated"`
	KeyReused        bool   `json:"keyReused" yaml:"keyReused"`
	SelfTestPassed   bool   `json:"selfTestPassed" yaml:"selfTestPassed"`
	KeyID            string `json:"keyId,omitempty" yaml:"keyId,omitempty"`
	Error            string `json:"error,omitempty" yaml:"error,omitempty"`
}

// BiometricStatus holds the outcome of the platform authenticator probe.
type BiometricStatus struct {
	IsSupported           bool   `json:"isSupported" yaml:"isSupported"`
	IsAvailable           bool   `json:"isAvailable" yaml:"isAvailable"`
	PlatformAuthenticator bool   `json:"platformAuthenticator" yaml:"platformAuthenticator"`
	Error                 string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ZKPStatus holds the outcome of the zero-knowledge proof exchange.
type ZKPStatus struct {
	IsReady       bool   `json:"isReady" yaml:"isReady"`
	ProofVerified bool   `json:"proofVerified" yaml:"proofVerified"`
	FallbackUsed  bool   `json:"fallbackUsed" yaml:"fallbackUsed"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CSPStatus holds the content security policy inspection.
type CSPStatus struct {
	IsEnabled bool   `json:"isEnabled" yaml:"isEnabled"`
	IsSecure  bool   `json:"isSecure" yaml:"isSecure"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// TLSStatus holds the transport security inspection.
type TLSStatus struct {
	IsSecure         bool   `json:"isSecure" yaml:"isSecure"`
	CertificateValid bool   `json:"certificateValid" yaml:"certificateValid"`
	Error            string `json:"error,omitempty" yaml:"error,omitempty"`
}

// HeadersStatus holds the security header inspection.
type HeadersStatus struct {
	HasSecurityHeaders    bool     `json:"hasSecurityHeaders" yaml:"hasSecurityHeaders"`
	HasHSTS               bool     `json:"hasHSTS" yaml:"hasHSTS"`
	HasXFrameOptions      bool     `json:"hasXFrameOptions" yaml:"hasXFrameOptions"`
	HasContentTypeOptions bool     `json:"hasContentTypeOptions" yaml:"hasContentTypeOptions"`
	HasReferrerPolicy     bool     `json:"hasReferrerPolicy" yaml:"hasReferrerPolicy"`
	Score                 int      `json:"score" yaml:"score"`
	Missing               []string `json:"missing,omitempty" yaml:"missing,omitempty"`
	Error                 string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// CryptoStatus reports every cryptographic capability individually.
type CryptoStatus struct {
	HasSubtleCrypto bool   `json:"hasSubtleCrypto" yaml:"hasSubtleCrypto"`
	HasSecureRandom bool   `json:"hasSecureRandom" yaml:"hasSecureRandom"`
	SupportsRSA     bool   `json:"supportsRSA" yaml:"supportsRSA"`
	SupportsECDSA   bool   `json:"supportsECDSA" yaml:"supportsECDSA"`
	SupportsAES     bool   `json:"supportsAES" yaml:"supportsAES"`
	SupportsHMAC    bool   `json:"supportsHMAC" yaml:"supportsHMAC"`
	DigestValid     bool   `json:"digestValid" yaml:"digestValid"`
	AESRoundTrip    bool   `json:"aesRoundTrip" yaml:"aesRoundTrip"`
	IsSecure        bool   `json:"isSecure" yaml:"isSecure"`
	Error           string `json:"error,omitempty" yaml:"error,omitempty"`
}

// StorageStatus holds the storage security test.
type StorageStatus struct {
	IsAvailable     bool   `json:"isAvailable" yaml:"isAvailable"`
	EncryptionWorks bool   `json:"encryptionWorks" yaml:"encryptionWorks"`
	IsSecure        bool   `json:"isSecure" yaml:"isSecure"`
	Error           string `json:"error,omitempty" yaml:"error,omitempty"`
}

// DOMSkimmingStatus holds the DOM exfiltration protection inspection.
type DOMSkimmingStatus struct {
	IsProtected          bool   `json:"isProtected" yaml:"isProtected"`
	FramingBlocked       bool   `json:"framingBlocked" yaml:"framingBlocked"`
	InlineScriptsBlocked bool   `json:"inlineScriptsBlocked" yaml:"inlineScriptsBlocked"`
	TrustedTypes         bool   `json:"trustedTypes" yaml:"trustedTypes"`
	Error                string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CertificatePinningStatus holds the certificate pinning inspection.
type CertificatePinningStatus struct {
	IsEnabled bool   `json:"isEnabled" yaml:"isEnabled"`
	IsValid   bool   `json:"isValid" yaml:"isValid"`
	PinCount  int    `json:"pinCount" yaml:"pinCount"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// GDPRComplianceStatus holds the GDPR attestation.
type GDPRComplianceStatus struct {
	IsCompliant      bool   `json:"isCompliant" yaml:"isCompliant"`
	ConsentManaged   bool   `json:"consentManaged" yaml:"consentManaged"`
	DataMinimization bool   `json:"dataMinimization" yaml:"dataMinimization"`
	RightToErasure   bool   `json:"rightToErasure" yaml:"rightToErasure"`
	Error            string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ThreatDetectionStatus holds the threat detection attestation.
type ThreatDetectionStatus struct {
	IsActive           bool   `json:"isActive" yaml:"isActive"`
	AutomationDetected bool   `json:"automationDetected" yaml:"automationDetected"`
	DebuggerDetected   bool   `json:"debuggerDetected" yaml:"debuggerDetected"`
	ThreatLevel        string `json:"threatLevel" yaml:"threatLevel"`
	Error              string `json:"error,omitempty" yaml:"error,omitempty"`
}

// SOC2ComplianceStatus holds the SOC2 attestation.
type SOC2ComplianceStatus struct {
	IsCompliant        bool   `json:"isCompliant" yaml:"isCompliant"`
	AccessControls     bool   `json:"accessControls" yaml:"accessControls"`
	EncryptionAtRest   bool   `json:"encryptionAtRest" yaml:"encryptionAtRest"`
	AuditLoggingActive bool   `json:"auditLoggingActive" yaml:"auditLoggingActive"`
	Error              string `json:"error,omitempty" yaml:"error,omitempty"`
}

// State is the aggregate status record of a security check run. It is owned by
// the orchestrator; probes never write it directly.
type State struct {
	IsChecking  bool    `json:"isChecking" yaml:"isChecking"`
	CurrentStep Step    `json:"currentStep" yaml:"currentStep"`
	Progress    int     `json:"progress" yaml:"progress"`
	Error       *string `json:"error" yaml:"error"`

	DeviceFingerprint  DeviceFingerprintStatus  `json:"deviceFingerprint" yaml:"deviceFingerprint"`
	HSM                HSMStatus                `json:"hsmStatus" yaml:"hsmStatus"`
	Biometric          BiometricStatus          `json:"biometricStatus" yaml:"biometricStatus"`
	ZKP                ZKPStatus                `json:"zkpStatus" yaml:"zkpStatus"`
	CSP                CSPStatus                `json:"cspStatus" yaml:"cspStatus"`
	TLS                TLSStatus                `json:"tlsStatus" yaml:"tlsStatus"`
	Headers            HeadersStatus            `json:"headersStatus" yaml:"headersStatus"`
	Crypto             CryptoStatus             `json:"cryptoStatus" yaml:"cryptoStatus"`
	Storage            StorageStatus            `json:"storageStatus" yaml:"storageStatus"`
	DOMSkimming        DOMSkimmingStatus        `json:"domSkimmingStatus" yaml:"domSkimmingStatus"`
	CertificatePinning CertificatePinningStatus `json:"certificatePinningStatus" yaml:"certificatePinningStatus"`
	GDPRCompliance     GDPRComplianceStatus     `json:"gdprComplianceStatus" yaml:"gdprComplianceStatus"`
	ThreatDetection    ThreatDetectionStatus    `json:"threatDetectionStatus" yaml:"threatDetectionStatus"`
	SOC2Compliance     SOC2ComplianceStatus     `json:"soc2ComplianceStatus" yaml:"soc2ComplianceStatus"`
}

// Initial returns the all-false default state.
func Initial() State {
	return State{CurrentStep: StepInitializing}
}

// Clone returns a deep copy that shares no memory with s.
func (s State) Clone() State {
	out := s
	if s.Error != nil {
		msg := *s.Error
		out.Error = &msg
	}
	if s.DeviceFingerprint.Components != nil {
		out.DeviceFingerprint.Components = append([]string(nil), s.DeviceFingerprint.Components...)
	}
	if s.Headers.Missing != nil {
		out.Headers.Missing = append([]string(nil), s.Headers.Missing...)
	}
	return out
}

// ErrorMessage returns the run error or an empty string.
func (s State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}
