package checks

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/probe"
)

// The compliance probes below evaluate environment flags only. They are
// indicators for the posture summary, not audits.

const erasureProbeKey = "seca_erasure_probe"

// GDPRComplianceProbe checks consent management, data minimization and that
// stored data can be erased.
type GDPRComplianceProbe struct {
	env     platform.Environment
	storage platform.Storage
}

func (p *GDPRComplianceProbe) Name() string                     { return NameGDPRCompliance }
func (p *GDPRComplianceProbe) Step() state.Step                 { return state.StepGDPRCompliance }
func (p *GDPRComplianceProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableGDPRCompliance }

func (p *GDPRComplianceProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	snap, err := p.env.Snapshot(ctx)
	if err != nil {
		return fail(kit, state.GDPRComplianceStatus{}, err, "Failed to read consent state")
	}

	status := state.GDPRComplianceStatus{
		ConsentManaged: snap.ConsentManaged,
		// Only the hashed fingerprint leaves the device fingerprint probe.
		DataMinimization: true,
		RightToErasure:   p.canErase(ctx),
	}
	status.IsCompliant = status.ConsentManaged && status.DataMinimization && status.RightToErasure

	if !status.IsCompliant {
		var gaps []string
		if !status.ConsentManaged {
			gaps = append(gaps, "consent is not managed")
		}
		if !status.RightToErasure {
			gaps = append(gaps, "stored data cannot be erased")
		}
		return fail(kit, status, nil, "GDPR gaps: "+strings.Join(gaps, ", "))
	}
	return probe.Result{Success: true, Patch: status}, nil
}

func (p *GDPRComplianceProbe) canErase(ctx context.Context) bool {
	if p.storage == nil {
		return false
	}
	if err := p.storage.Set(ctx, map[string]json.RawMessage{erasureProbeKey: json.RawMessage(`true`)}); err != nil {
		return false
	}
	if err := p.storage.Remove(ctx, erasureProbeKey); err != nil {
		return false
	}
	values, err := p.storage.Get(ctx, erasureProbeKey)
	if err != nil {
		return false
	}
	_, still := values[erasureProbeKey]
	return !still
}

// Threat levels reported by ThreatDetectionProbe.
const (
	ThreatLevelLow    = "low"
	ThreatLevelMedium = "medium"
	ThreatLevelHigh   = "high"
)

// ThreatDetectionProbe looks for automation and attached debuggers.
type ThreatDetectionProbe struct {
	env platform.Environment
}

func (p *ThreatDetectionProbe) Name() string     { return NameThreatDetection }
func (p *ThreatDetectionProbe) Step() state.Step { return state.StepThreatDetection }

func (p *ThreatDetectionProbe) IsEnabled(cfg config.Config) bool {
	return cfg.EnableThreatDetection
}

func (p *ThreatDetectionProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	snap, err := p.env.Snapshot(ctx)
	if err != nil {
		return fail(kit, state.ThreatDetectionStatus{}, err, "Failed to read runtime signals")
	}

	status := state.ThreatDetectionStatus{
		IsActive:           true,
		AutomationDetected: snap.WebDriver,
		DebuggerDetected:   snap.DebuggerAttached,
	}
	switch {
	case status.AutomationDetected && status.DebuggerDetected:
		status.ThreatLevel = ThreatLevelHigh
	case status.AutomationDetected || status.DebuggerDetected:
		status.ThreatLevel = ThreatLevelMedium
	default:
		status.ThreatLevel = ThreatLevelLow
	}

	if status.ThreatLevel != ThreatLevelLow {
		return fail(kit, status, nil, "Threat level "+status.ThreatLevel)
	}
	return probe.Result{Success: true, Data: map[string]any{"threatLevel": status.ThreatLevel}, Patch: status}, nil
}

// SOC2ComplianceProbe checks access control, encryption at rest and audit
// logging indicators.
type SOC2ComplianceProbe struct {
	env platform.Environment
}

func (p *SOC2ComplianceProbe) Name() string                     { return NameSOC2Compliance }
func (p *SOC2ComplianceProbe) Step() state.Step                 { return state.StepSOC2Compliance }
func (p *SOC2ComplianceProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableSOC2Compliance }

func (p *SOC2ComplianceProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	snap, err := p.env.Snapshot(ctx)
	if err != nil {
		return fail(kit, state.SOC2ComplianceStatus{}, err, "Failed to read control indicators")
	}

	status := state.SOC2ComplianceStatus{
		AccessControls:     snap.SecureContext,
		EncryptionAtRest:   snap.StorageEncrypted,
		AuditLoggingActive: snap.AuditLogging,
	}
	status.IsCompliant = status.AccessControls && status.EncryptionAtRest && status.AuditLoggingActive

	if !status.IsCompliant {
		var gaps []string
		if !status.AccessControls {
			gaps = append(gaps, "no secure context")
		}
		if !status.EncryptionAtRest {
			gaps = append(gaps, "storage is not encrypted at rest")
		}
		if !status.AuditLoggingActive {
			gaps = append(gaps, "audit logging is off")
		}
		return fail(kit, status, nil, "SOC2 gaps: "+strings.Join(gaps, ", "))
	}
	return probe.Result{Success: true, Patch: status}, nil
}
