package checks

import (
	"context"
	"errors"
	"strings"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/probe"
)

const cspHeader = "Content-Security-Policy"

// contentSecurityPolicy returns the document's CSP, preferring the meta tag
// the page itself declares over the response header.
func contentSecurityPolicy(snap platform.Snapshot) string {
	if v, ok := snap.MetaContent(cspHeader); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return snap.Headers.Get(cspHeader)
}

// CSPProbe inspects the Content-Security-Policy.
type CSPProbe struct {
	env platform.Environment
}

func (p *CSPProbe) Name() string                     { return NameCSP }
func (p *CSPProbe) Step() state.Step                 { return state.StepCSPValidation }
func (p *CSPProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableCSP }

func (p *CSPProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	snap, err := p.env.Snapshot(ctx)
	if err != nil {
		return fail(kit, state.CSPStatus{}, err, "Failed to read document policy")
	}

	policy := contentSecurityPolicy(snap)
	if policy == "" {
		return fail(kit, state.CSPStatus{}, errors.New("no policy"), "Content Security Policy is not configured")
	}

	analysis := analyzeCSP(policy)
	status := state.CSPStatus{IsEnabled: true, IsSecure: analysis.Secure()}
	data := map[string]any{"directives": len(analysis.Directives), "issues": analysis.Issues}
	if !status.IsSecure {
		res, _ := fail(kit, status, nil, "Content Security Policy is weak: "+strings.Join(analysis.Issues, ". "))
		res.Data = data
		return res, nil
	}
	return probe.Result{Success: true, Data: data, Patch: status}, nil
}

// DOMProtectionProbe checks the controls that stop injected scripts and
// framing from skimming the page.
type DOMProtectionProbe struct {
	env platform.Environment
}

func (p *DOMProtectionProbe) Name() string                     { return NameDOMProtection }
func (p *DOMProtectionProbe) Step() state.Step                 { return state.StepDOMProtection }
func (p *DOMProtectionProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableDOMProtection }

func (p *DOMProtectionProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	snap, err := p.env.Snapshot(ctx)
	if err != nil {
		return fail(kit, state.DOMSkimmingStatus{}, err, "Failed to read document policy")
	}

	analysis := analyzeCSP(contentSecurityPolicy(snap))
	xfo, _ := scoreXFrameOptions(snap.Headers.Get("X-Frame-Options"))

	status := state.DOMSkimmingStatus{
		FramingBlocked:       analysis.BlocksFraming() || xfo == 15,
		InlineScriptsBlocked: analysis.BlocksInlineScripts(),
		TrustedTypes:         snap.TrustedTypes || hasDirective(analysis, "require-trusted-types-for"),
	}
	status.IsProtected = status.FramingBlocked && status.InlineScriptsBlocked

	if !status.IsProtected {
		var missing []string
		if !status.FramingBlocked {
			missing = append(missing, "framing is not restricted")
		}
		if !status.InlineScriptsBlocked {
			missing = append(missing, "inline scripts are allowed")
		}
		return fail(kit, status, nil, "DOM is exposed: "+strings.Join(missing, " and "))
	}
	return probe.Result{
		Success: true,
		Data:    map[string]any{"trustedTypes": status.TrustedTypes},
		Patch:   status,
	}, nil
}

func hasDirective(a cspAnalysis, name string) bool {
	_, ok := a.Directives[name]
	return ok
}
