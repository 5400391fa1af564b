package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/probe"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

type blockingProbe struct{}

func (blockingProbe) Name() string                     { return "slow" }
func (blockingProbe) Step() state.Step                 { return state.StepCryptoCheck }
func (blockingProbe) IsEnabled(cfg config.Config) bool { return true }

func (blockingProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	<-ctx.Done()
	return probe.Result{}, ctx.Err()
}

func TestProbeCommand_Lists(t *testing.T) {
	resultsDir := filepath.Join(t.TempDir(), "results")

	out, err := executeRoot(t, "probe", "--disable", "zkp", "--results-dir", resultsDir)
	if err != nil {
		t.Fatalf("probe list failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 14 {
		t.Fatalf("expected 14 probes, got %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "device-fingerprint") || !strings.HasPrefix(lines[13], "soc2-compliance") {
		t.Errorf("probes not listed in pipeline order:\n%s", out)
	}
	if !strings.Contains(lines[3], "zkp") || !strings.Contains(lines[3], "disabled") {
		t.Errorf("expected zkp disabled, got %q", lines[3])
	}
}

func TestProbeCommand_FiltersByFramework(t *testing.T) {
	resultsDir := filepath.Join(t.TempDir(), "results")

	out, err := executeRoot(t, "probe", "--framework", "gdpr", "--results-dir", resultsDir)
	if err != nil {
		t.Fatalf("probe list failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 6 GDPR-mapped probes, got %d:\n%s", len(lines), out)
	}

	if _, err := executeRoot(t, "probe", "--framework", "nist", "--results-dir", resultsDir); err == nil {
		t.Fatal("expected an error for an unknown framework")
	}
}

func TestProbeCommand_RunsSingleProbe(t *testing.T) {
	resultsDir := filepath.Join(t.TempDir(), "results")

	out, err := executeRoot(t, "probe", "crypto", "--format", "json", "--delay-ms", "0", "--results-dir", resultsDir)
	if err != nil {
		t.Fatalf("probe crypto failed: %v", err)
	}

	var decoded struct {
		Probe   string         `json:"probe"`
		Step    state.Step     `json:"step"`
		Enabled bool           `json:"enabled"`
		Success bool           `json:"success"`
		Record  map[string]any `json:"record"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if decoded.Probe != "crypto" || decoded.Step != state.StepCryptoCheck {
		t.Errorf("unexpected probe output: %+v", decoded)
	}
	if !decoded.Enabled || !decoded.Success {
		t.Errorf("expected an enabled, successful probe: %+v", decoded)
	}
	if decoded.Record["hasSecureRandom"] != true {
		t.Errorf("expected the crypto record, got %v", decoded.Record)
	}
}

func TestProbeCommand_UnknownProbe(t *testing.T) {
	resultsDir := filepath.Join(t.TempDir(), "results")

	_, err := executeRoot(t, "probe", "telepathy", "--results-dir", resultsDir)
	if !errors.Is(err, sharedErrors.ErrUnknownProbe) {
		t.Fatalf("expected ErrUnknownProbe, got %v", err)
	}
	if exitCode(err) != exitUsage {
		t.Errorf("expected usage exit code, got %d", exitCode(err))
	}
}

func TestRunSingleProbe_Timeout(t *testing.T) {
	appCtx := setupTestAppContext(t)
	cfg := config.Default()
	cfg.TimeoutMs = 1000
	cfg.DelayMs = 0
	appCtx.Config.Engine = cfg

	eng, err := buildEngine(appCtx, nil)
	if err != nil {
		t.Fatalf("buildEngine failed: %v", err)
	}

	output, err := runSingleProbe(context.Background(), blockingProbe{}, cfg.TimeoutMs, 0, zap.NewNop(), eng)
	if err != nil {
		t.Fatalf("runSingleProbe failed: %v", err)
	}
	if output.Success {
		t.Fatal("expected the probe to fail")
	}
	if output.Error != "slow check timed out after 1s" {
		t.Fatalf("unexpected error: %q", output.Error)
	}
}
