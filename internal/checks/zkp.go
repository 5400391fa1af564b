package checks

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/probe"
	"github.com/khanhnv2901/seca-trust/internal/zkp"
)

// ZKPProbe runs a local Schnorr identification exchange, degrading to an
// ECDSA self-test when the full protocol fails.
type ZKPProbe struct {
	group zkp.Group
	rand  io.Reader
	now   func() time.Time
}

func (p *ZKPProbe) Name() string                     { return NameZKP }
func (p *ZKPProbe) Step() state.Step                 { return state.StepZKPInitialization }
func (p *ZKPProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableZKP }

func (p *ZKPProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	if err := ctx.Err(); err != nil {
		return fail(kit, state.ZKPStatus{}, err, "Zero-knowledge proof cancelled")
	}
	progress(kit, p.Step(), 10)

	out, err := zkp.Run(p.rand, p.group, p.now())
	if out.ProtocolErr != nil {
		kit.Logger().Warn("zero-knowledge protocol failed, using fallback", zap.Error(out.ProtocolErr))
	}
	if err != nil {
		return fail(kit, state.ZKPStatus{FallbackUsed: out.FallbackUsed}, err, "Zero-knowledge proof and fallback both failed")
	}
	progress(kit, p.Step(), 100)

	status := state.ZKPStatus{
		IsReady:       true,
		ProofVerified: out.Verified,
		FallbackUsed:  out.FallbackUsed,
	}
	data := map[string]any{"fallbackUsed": out.FallbackUsed}
	if out.Verified {
		data["challengeTimestamp"] = out.Challenge.Timestamp
		data["responseBits"] = len(out.Proof.Response) * 4
	}
	return probe.Result{Success: true, Data: data, Patch: status}, nil
}
