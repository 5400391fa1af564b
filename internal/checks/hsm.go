package checks

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/hsm"
	"github.com/khanhnv2901/seca-trust/internal/probe"
)

// HSMProbe drives the emulated hardware key lifecycle: prune, reuse or
// generate, then self-test.
type HSMProbe struct {
	keystore *hsm.Keystore
	now      func() time.Time
}

func (p *HSMProbe) Name() string                     { return NameHSM }
func (p *HSMProbe) Step() state.Step                 { return state.StepHSMVerification }
func (p *HSMProbe) IsEnabled(cfg config.Config) bool { return cfg.EnableHSM }

func (p *HSMProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	if p.keystore == nil {
		return fail(kit, state.HSMStatus{}, errors.New("no keystore configured"), "HSM is not available")
	}
	status := state.HSMStatus{IsAvailable: true}
	progress(kit, p.Step(), 10)

	key, reused, err := p.keystore.Ensure(ctx, p.now())
	if err != nil {
		return fail(kit, status, err, "Failed to initialize HSM key pair")
	}
	status.KeyPairGenerated = true
	status.KeyReused = reused
	status.KeyID = key.ID
	progress(kit, p.Step(), 50)

	if err := p.keystore.SelfTest(key.ID); err != nil {
		return fail(kit, status, err, "HSM self-test failed")
	}
	status.SelfTestPassed = true
	status.IsInitialized = true
	progress(kit, p.Step(), 100)

	kit.Logger().Debug("hsm key ready", zap.String("key_id", key.ID), zap.Bool("reused", reused))
	return probe.Result{
		Success: true,
		Data:    map[string]any{"keyId": key.ID, "reused": reused, "algorithm": hsm.AlgorithmP256},
		Patch:   status,
	}, nil
}
