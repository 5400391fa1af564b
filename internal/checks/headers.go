package checks

import (
	"context"
	"strings"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/probe"
)

// HeadersProbe scores the response's security headers.
type HeadersProbe struct {
	env platform.Environment
}

func (p *HeadersProbe) Name() string                     { return NameHeaders }
func (p *HeadersProbe) Step() state.Step                 { return state.StepHeadersCheck }
func (p *HeadersProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableHeaders }

func (p *HeadersProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	snap, err := p.env.Snapshot(ctx)
	if err != nil {
		return fail(kit, state.HeadersStatus{}, err, "Failed to read response headers")
	}

	metaCSP, _ := snap.MetaContent(cspHeader)
	report := analyzeHeaders(snap.Headers, metaCSP)

	status := state.HeadersStatus{
		HasHSTS:               report.Present["Strict-Transport-Security"],
		HasXFrameOptions:      report.Present["X-Frame-Options"],
		HasContentTypeOptions: report.Present["X-Content-Type-Options"],
		HasReferrerPolicy:     report.Present["Referrer-Policy"],
		Score:                 report.Score,
		Missing:               report.Missing,
	}
	// The three headers browsers enforce against downgrade, framing and
	// MIME sniffing must all be present.
	status.HasSecurityHeaders = status.HasHSTS && status.HasXFrameOptions && status.HasContentTypeOptions

	data := map[string]any{
		"score":    report.Score,
		"maxScore": report.MaxScore,
		"grade":    report.Grade,
		"warnings": report.Warnings,
	}
	if !status.HasSecurityHeaders {
		res, _ := fail(kit, status, nil, "Missing security headers: "+strings.Join(report.Missing, ", "))
		res.Data = data
		return res, nil
	}
	return probe.Result{Success: true, Data: data, Patch: status}, nil
}
