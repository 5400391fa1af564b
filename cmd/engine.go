package cmd

import (
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/checks"
	"github.com/khanhnv2901/seca-trust/internal/metrics"
	"github.com/khanhnv2901/seca-trust/internal/orchestrator"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	"github.com/khanhnv2901/seca-trust/internal/probe"
)

const (
	tracerName      = "github.com/khanhnv2901/seca-trust"
	storageFileName = "storage.json"
	lastStateKey    = "lastSecurityState"
	telemetryFile   = "telemetry.jsonl"
)

// engine bundles what run, probe and serve share.
type engine struct {
	orch    *orchestrator.Orchestrator
	probes  []probe.Probe
	storage *platform.FileStorage
	metrics *metrics.Recorder
}

// buildEngine wires the probes to a storage file in the results directory and
// the configured environment.
func buildEngine(appCtx *AppContext, rec *metrics.Recorder) (*engine, error) {
	storage, err := platform.NewFileStorage(appCtx.ResultsDir, storageFileName)
	if err != nil {
		return nil, err
	}
	env, err := appCtx.Config.environment()
	if err != nil {
		return nil, err
	}

	logger := appCtx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	probes := checks.New(checks.Dependencies{
		Environment: env,
		Storage:     storage,
		Logger:      logger.Named("checks"),
	})

	orch, err := orchestrator.New(appCtx.Config.Engine, probes,
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithMetrics(rec),
		orchestrator.WithTracer(otel.Tracer(tracerName)),
	)
	if err != nil {
		return nil, err
	}

	return &engine{orch: orch, probes: probes, storage: storage, metrics: rec}, nil
}
