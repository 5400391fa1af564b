package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/metrics"
	"github.com/khanhnv2901/seca-trust/internal/orchestrator"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the security check pipeline and print a report",
	Long: `Run executes every enabled probe in order (or the quick subset with --quick),
prints a report and stores the final state in the results directory.

Examples:
  seca-trust run
  seca-trust run --quick --format json
  seca-trust run --origin https://wallet.example --environment env.yaml --strict
  seca-trust run --repeat 5 --interval 1m --telemetry`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)

		quick, _ := cmd.Flags().GetBool("quick")
		showProgress, _ := cmd.Flags().GetBool("progress")
		formatName, _ := cmd.Flags().GetString("format")
		repeat, _ := cmd.Flags().GetInt("repeat")
		interval, _ := cmd.Flags().GetDuration("interval")
		strict, _ := cmd.Flags().GetBool("strict")

		format, err := report.ParseFormat(formatName)
		if err != nil {
			return err
		}
		if repeat < 1 {
			return fmt.Errorf("--repeat must be at least 1")
		}

		eng, err := buildEngine(appCtx, metrics.NewRecorder())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		mode := orchestrator.ModeFull
		start := eng.orch.Start
		if quick {
			mode = orchestrator.ModeQuick
			start = eng.orch.StartQuick
		}

		// One token per interval paces repeated runs; the first run is immediate.
		pacer := rate.NewLimiter(rate.Every(interval), 1)

		for i := 0; i < repeat; i++ {
			if err := pacer.Wait(ctx); err != nil {
				return err
			}
			if i > 0 {
				if err := eng.orch.Reset(); err != nil {
					return err
				}
			}

			var printer *progressPrinter
			if showProgress {
				printer = newProgressPrinter(cmd.ErrOrStderr(), mode)
				eng.orch.StartProgressSimulation(printer.Update)
			}

			began := time.Now()
			st, runErr := start(ctx)
			took := time.Since(began)

			if printer != nil {
				eng.orch.StopProgressSimulation()
				printer.Update(st.Progress)
				printer.Stop()
			}

			r := report.New(st, mode, took, time.Now())
			if err := report.Render(cmd.OutOrStdout(), r, format); err != nil {
				return err
			}

			if err := saveLastState(eng.storage, st); err != nil {
				appCtx.Logger.Warn("failed to persist state", zap.Error(err))
			}
			if appCtx.Config.Telemetry {
				if err := recordTelemetry(appCtx, newTelemetryRecord("run", r, took)); err != nil {
					appCtx.Logger.Warn("failed to record telemetry", zap.Error(err))
				}
			}

			if runErr != nil {
				return runErr
			}
			if strict && r.Status.Overall == orchestrator.OverallError {
				return &InsecurePostureError{Signals: r.Status.Count(), Total: len(r.Status.Signals())}
			}
		}
		return nil
	},
}

// saveLastState stores the finished state under lastStateKey. It is written
// with a fresh context so an interrupted run is still recorded.
func saveLastState(storage platform.Storage, st state.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return storage.Set(ctx, map[string]json.RawMessage{lastStateKey: data})
}

func init() {
	runCmd.Flags().Bool("quick", false, "run only the quick-check probes")
	runCmd.Flags().Bool("progress", false, "show a progress bar on stderr")
	runCmd.Flags().String("format", "text", "report format: text, json or yaml")
	runCmd.Flags().Int("repeat", 1, "number of consecutive runs")
	runCmd.Flags().Duration("interval", 0, "minimum time between the starts of repeated runs")
	runCmd.Flags().Bool("strict", false, "exit non-zero when the overall verdict is error")
}
