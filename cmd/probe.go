package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/khanhnv2901/seca-trust/internal/checks"
	"github.com/khanhnv2901/seca-trust/internal/compliance"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/probe"
	"github.com/khanhnv2901/seca-trust/internal/report"
)

// probeOutput is what `probe <name>` prints.
type probeOutput struct {
	Probe    string         `json:"probe" yaml:"probe"`
	Step     state.Step     `json:"step" yaml:"step"`
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Success  bool           `json:"success" yaml:"success"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Record   state.Patch    `json:"record,omitempty" yaml:"record,omitempty"`
	Duration string         `json:"duration" yaml:"duration"`
}

var probeCmd = &cobra.Command{
	Use:   "probe [name]",
	Short: "List probes or run a single probe with retries",
	Long: `Without arguments, probe lists every probe in pipeline order.
With a name, it runs that probe alone, retrying up to retryAttempts times.

Examples:
  seca-trust probe
  seca-trust probe --framework pci-dss
  seca-trust probe hsm --retry-attempts 3
  seca-trust probe headers --environment env.yaml --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		out := cmd.OutOrStdout()

		eng, err := buildEngine(appCtx, nil)
		if err != nil {
			return err
		}
		cfg := eng.orch.Config()

		if len(args) == 0 {
			framework, _ := cmd.Flags().GetString("framework")
			steps, err := frameworkSteps(framework)
			if err != nil {
				return err
			}
			for _, p := range eng.probes {
				if steps != nil && !steps[p.Step()] {
					continue
				}
				status := colorSuccess("enabled")
				if !p.IsEnabled(cfg) {
					status = colorWarn("disabled")
				}
				fmt.Fprintf(out, "%-22s %-24s %s\n", p.Name(), p.Step(), status)
			}
			return nil
		}

		formatName, _ := cmd.Flags().GetString("format")
		format, err := report.ParseFormat(formatName)
		if err != nil {
			return err
		}

		p, err := checks.ByName(eng.probes, args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		output, err := runSingleProbe(ctx, p, cfg.TimeoutMs, cfg.RetryAttempts, appCtx.Logger, eng)
		if err != nil {
			return err
		}
		if err := writeProbeOutput(cmd, output, format); err != nil {
			return err
		}
		if output.Enabled && !output.Success {
			return &ProbeFailedError{Probe: output.Probe, Reason: output.Error}
		}
		return nil
	},
}

// runSingleProbe executes p outside the orchestrator. All attempts share one
// deadline of timeoutMs per attempt.
func runSingleProbe(ctx context.Context, p probe.Probe, timeoutMs, retries int, logger *zap.Logger, eng *engine) (probeOutput, error) {
	cfg := eng.orch.Config()
	output := probeOutput{Probe: p.Name(), Step: p.Step(), Enabled: p.IsEnabled(cfg)}
	if !output.Enabled {
		output.Duration = "0s"
		return output, nil
	}

	kit, err := probe.NewKit(cfg, func(step state.Step, pct int) {
		logger.Debug("probe progress", zap.String("probe", p.Name()), zap.Int("progress", pct))
	}, logger.Named("probe"))
	if err != nil {
		return output, err
	}

	budget := time.Duration(timeoutMs) * time.Millisecond * time.Duration(retries+1)
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	began := time.Now()
	res, execErr := probe.ExecuteWithRetry(runCtx, p, kit, retries)
	output.Duration = time.Since(began).Round(time.Millisecond).String()

	if execErr != nil {
		output.Error = probe.SanitizeErrorMessage(execErr.Error())
		if runCtx.Err() != nil && ctx.Err() == nil {
			output.Error = fmt.Sprintf("%s check timed out after %s", p.Name(), budget)
		}
		return output, nil
	}

	output.Success = res.Success
	output.Error = res.Error
	output.Data = res.Data
	output.Record = res.Patch
	return output, nil
}

// frameworkSteps returns the steps mapped to framework id, or nil when id is
// empty.
func frameworkSteps(id string) (map[state.Step]bool, error) {
	if id == "" {
		return nil, nil
	}
	if _, ok := compliance.Lookup(id); !ok {
		var ids []string
		for _, f := range compliance.Frameworks() {
			ids = append(ids, f.ID)
		}
		return nil, fmt.Errorf("unknown framework %q (available: %s)", id, strings.Join(ids, ", "))
	}
	steps := map[state.Step]bool{}
	for _, s := range compliance.StepsFor(id) {
		steps[s] = true
	}
	return steps, nil
}

func writeProbeOutput(cmd *cobra.Command, output probeOutput, format report.Format) error {
	out := cmd.OutOrStdout()
	switch format {
	case report.FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	case report.FormatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(output); err != nil {
			return err
		}
		return enc.Close()
	}

	result := formatStatusWithColor("pass")
	switch {
	case !output.Enabled:
		result = formatStatusWithColor("skipped")
	case !output.Success:
		result = formatStatusWithColor("fail")
	}
	fmt.Fprintf(out, "%s %s (%s) %s\n", colorInfo("→"), output.Probe, output.Step, result)
	if output.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", output.Error)
	}
	if output.Record != nil {
		data, err := yaml.Marshal(output.Record)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  record:\n")
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			fmt.Fprintf(out, "    %s\n", line)
		}
	}
	fmt.Fprintf(out, "  duration: %s\n", output.Duration)
	return nil
}

func init() {
	probeCmd.Flags().String("format", "text", "output format: text, json or yaml")
	probeCmd.Flags().String("framework", "", "list only probes mapped to a framework (iso27001, soc2, gdpr, pci-dss)")
}
