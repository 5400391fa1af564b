package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
)

type flakyProbe struct {
	failures int
	calls    int
	err      error
}

func (f *flakyProbe) Name() string                 { return "flaky" }
func (f *flakyProbe) Step() state.Step             { return state.StepCryptoCheck }
func (f *flakyProbe) IsEnabled(config.Config) bool { return true }
func (f *flakyProbe) Execute(context.Context, *Kit) (Result, error) {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return Result{}, f.err
		}
		return Result{Success: false, Error: "not yet"}, nil
	}
	return Result{Success: true, Patch: state.CryptoStatus{HasSubtleCrypto: true}}, nil
}

func TestExecuteWithRetry_EventuallySucceeds(t *testing.T) {
	kit, _ := NewKit(config.Default(), nil, nil)
	p := &flakyProbe{failures: 2}

	res, err := ExecuteWithRetry(context.Background(), p, kit, 3)
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if !res.Success {
		t.Error("Expected successful result")
	}
	if p.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", p.calls)
	}
}

func TestExecuteWithRetry_ExhaustsAttempts(t *testing.T) {
	kit, _ := NewKit(config.Default(), nil, nil)
	p := &flakyProbe{failures: 10}

	res, err := ExecuteWithRetry(context.Background(), p, kit, 1)
	if err != nil {
		t.Fatalf("Expected unsuccessful result without error, got %v", err)
	}
	if res.Success {
		t.Error("Expected unsuccessful result")
	}
	if p.calls != 2 {
		t.Errorf("Expected 2 calls (1 retry), got %d", p.calls)
	}
}

func TestExecuteWithRetry_ReturnsLastError(t *testing.T) {
	kit, _ := NewKit(config.Default(), nil, nil)
	boom := errors.New("boom")
	p := &flakyProbe{failures: 10, err: boom}

	_, err := ExecuteWithRetry(context.Background(), p, kit, 0)
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if p.calls != 1 {
		t.Errorf("Expected a single call with zero retries, got %d", p.calls)
	}
}
