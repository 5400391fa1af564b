// Package orchestrator drives the security check pipeline: it runs probes in
// declared order, bounds each with a timeout, tolerates individual failures,
// and owns the State every probe reports into.
//
// Timeouts are logical. A probe that overruns is abandoned: its context is
// cancelled and its eventual result and progress reports are discarded, but
// its goroutine is not killed. Probes must therefore be safe to abandon.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/metrics"
	"github.com/khanhnv2901/seca-trust/internal/probe"
	"github.com/khanhnv2901/seca-trust/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

// Run modes, as labelled in logs and metrics.
const (
	ModeFull  = "full"
	ModeQuick = "quick"
)

// Orchestrator owns the configuration, the state and the probes. It allows a
// single run at a time.
type Orchestrator struct {
	mu      sync.Mutex
	cfg     config.Config
	st      state.State
	probes  []probe.Probe
	running bool
	// token identifies the probe invocation allowed to report progress.
	token uint64

	poller       *poller
	pollInterval time.Duration

	logger  *zap.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records probe and run metrics into r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithTracer emits a span per run and per probe.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithPollInterval overrides the progress simulation interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// New validates cfg and returns an orchestrator over probes.
func New(cfg config.Config, probes []probe.Probe, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		cfg:          cfg,
		st:           state.Initial(),
		probes:       append([]probe.Probe(nil), probes...),
		pollInterval: constants.ProgressPollInterval,
		logger:       zap.NewNop(),
		tracer:       noop.NewTracerProvider().Tracer("seca-trust"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// NewFromMap validates an untyped configuration object and calls New.
func NewFromMap(raw any, probes []probe.Probe, opts ...Option) (*Orchestrator, error) {
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, err
	}
	return New(cfg, probes, opts...)
}

// Start runs every probe.
func (o *Orchestrator) Start(ctx context.Context) (state.State, error) {
	return o.run(ctx, ModeFull, o.probes)
}

// StartQuick runs only the quick-check probes.
func (o *Orchestrator) StartQuick(ctx context.Context) (state.State, error) {
	quick := make(map[state.Step]bool)
	for _, s := range state.QuickPipeline() {
		quick[s] = true
	}
	var selected []probe.Probe
	for _, p := range o.probes {
		if quick[p.Step()] {
			selected = append(selected, p)
		}
	}
	return o.run(ctx, ModeQuick, selected)
}

// IsRunning reports whether a run is in flight.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// State returns a copy of the current state.
func (o *Orchestrator) State() state.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.Clone()
}

// Config returns the current configuration.
func (o *Orchestrator) Config() config.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Probes returns the probes in execution order.
func (o *Orchestrator) Probes() []probe.Probe {
	return append([]probe.Probe(nil), o.probes...)
}

// UpdateConfig merges partial into the current configuration and replaces it
// only if the result validates. A run in flight keeps the configuration it
// started with.
func (o *Orchestrator) UpdateConfig(partial map[string]any) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	merged, err := o.cfg.Merge(partial)
	if err != nil {
		return err
	}
	o.cfg = merged
	return nil
}

// Reset stops progress simulation and restores the initial state. The
// configuration is kept. While a run is in flight only the poller is stopped.
func (o *Orchestrator) Reset() error {
	o.StopProgressSimulation()

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("cannot reset: %w", sharedErrors.ErrAlreadyRunning)
	}
	o.st = state.Initial()
	o.mu.Unlock()

	o.metrics.SetProgress(0)
	return nil
}

// SecurityStatus summarizes the current state.
func (o *Orchestrator) SecurityStatus() SecurityStatus {
	return StatusFrom(o.State())
}

func (o *Orchestrator) run(ctx context.Context, mode string, selected []probe.Probe) (result state.State, err error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return state.State{}, sharedErrors.ErrAlreadyRunning
	}
	o.running = true
	cfg := o.cfg
	o.st.IsChecking = true
	o.st.Error = nil
	o.st.Progress = 0
	o.st.CurrentStep = state.StepInitializing
	o.mu.Unlock()

	start := o.now()
	ctx, span := o.tracer.Start(ctx, "security_check."+mode,
		trace.WithAttributes(attribute.Int("probes", len(selected))))
	defer span.End()

	o.logger.Info("starting security check", zap.String("mode", mode), zap.Int("probes", len(selected)))
	o.metrics.SetProgress(0)

	defer func() {
		if r := recover(); r != nil {
			err = o.abort(&OrchestrationError{Err: fmt.Errorf("panic: %v", r)})
			result = o.State()
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		o.metrics.ObserveRun(mode, err != nil, o.now().Sub(start))
	}()

	total := len(selected)
	delay := time.Duration(cfg.DelayMs) * time.Millisecond

	for i, p := range selected {
		if ctxErr := ctx.Err(); ctxErr != nil {
			abortErr := o.abort(&OrchestrationError{Err: ctxErr})
			return o.State(), abortErr
		}

		if p.IsEnabled(cfg) {
			o.runProbe(ctx, cfg, p, i, total)
		} else {
			o.logger.Debug("probe disabled", zap.String("probe", p.Name()))
			o.metrics.ObserveProbe(p.Name(), metrics.OutcomeSkipped, 0)
		}
		o.raiseProgress(runProgress(i+1, 0, total))

		if sleepErr := probe.Sleep(ctx, delay); sleepErr != nil {
			abortErr := o.abort(&OrchestrationError{Err: sleepErr})
			return o.State(), abortErr
		}
	}

	o.mu.Lock()
	o.st.CurrentStep = state.StepCompleted
	o.st.Progress = 100
	o.st.IsChecking = false
	o.running = false
	result = o.st.Clone()
	o.mu.Unlock()

	status := StatusFrom(result)
	o.metrics.SetProgress(100)
	o.metrics.SetSignals(status.Count())
	o.logger.Info("security check completed",
		zap.String("mode", mode),
		zap.String("overall", string(status.Overall)),
		zap.Duration("duration", o.now().Sub(start)))
	return result, nil
}

// runProgress maps done whole probes plus the current probe's own percentage
// onto the run's 0-99 range. 100 is reserved for COMPLETED.
func runProgress(done, probePct, total int) int {
	if total == 0 {
		return 99
	}
	pct := (done*100 + probePct) / total
	if pct > 99 {
		pct = 99
	}
	return pct
}

func (o *Orchestrator) raiseProgress(pct int) {
	o.mu.Lock()
	if pct <= o.st.Progress {
		o.mu.Unlock()
		return
	}
	o.st.Progress = pct
	o.mu.Unlock()
	o.metrics.SetProgress(pct)
}

func (o *Orchestrator) advanceStep(step state.Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if step > o.st.CurrentStep {
		o.st.CurrentStep = step
	}
}

type probeOutcome struct {
	res probe.Result
	err error
}

func (o *Orchestrator) runProbe(ctx context.Context, cfg config.Config, p probe.Probe, index, total int) {
	name := p.Name()
	step := p.Step()
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	log := o.logger.With(zap.String("probe", name))

	o.advanceStep(step)

	o.mu.Lock()
	o.token++
	token := o.token
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		if o.token == token {
			o.token++
		}
		o.mu.Unlock()
	}()

	report := func(s state.Step, pct int) {
		o.mu.Lock()
		current := o.token == token
		o.mu.Unlock()
		if !current || s != step {
			return
		}
		o.raiseProgress(runProgress(index, pct, total))
	}

	ctx, span := o.tracer.Start(ctx, "probe."+name, trace.WithAttributes(attribute.String("step", step.String())))
	defer span.End()

	start := o.now()
	kit, err := probe.NewKit(cfg, report, log)
	if err != nil {
		o.recordFailure(span, step, name, &ProbeExecutionError{Probe: name, Err: err}, metrics.OutcomeError, start)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned probe can always deliver and exit.
	done := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := p.Execute(probeCtx, kit)
		done <- probeOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.err != nil:
			o.recordFailure(span, step, name, &ProbeExecutionError{Probe: name, Err: out.err}, metrics.OutcomeError, start)
		case !out.res.Success:
			o.apply(out.res, step)
			log.Warn("probe reported failure", zap.String("error", out.res.Error))
			span.SetStatus(codes.Error, out.res.Error)
			o.metrics.ObserveProbe(name, metrics.OutcomeFailure, o.now().Sub(start))
		default:
			o.apply(out.res, step)
			log.Debug("probe passed", zap.Duration("duration", o.now().Sub(start)))
			o.metrics.ObserveProbe(name, metrics.OutcomeSuccess, o.now().Sub(start))
		}
	case <-probeCtx.Done():
		if ctx.Err() != nil {
			// The run itself was cancelled; the loop reports it.
			o.metrics.ObserveProbe(name, metrics.OutcomeError, o.now().Sub(start))
			return
		}
		o.recordFailure(span, step, name, &ProbeTimeoutError{Probe: name, Timeout: timeout}, metrics.OutcomeTimeout, start)
	}
}

func (o *Orchestrator) apply(res probe.Result, step state.Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res.ApplyTo(&o.st, step)
}

func (o *Orchestrator) recordFailure(span trace.Span, step state.Step, name string, err error, outcome metrics.Outcome, start time.Time) {
	msg := probe.SanitizeErrorMessage(err.Error())
	var timeoutErr *ProbeTimeoutError
	if errors.As(err, &timeoutErr) {
		o.logger.Warn("probe timed out", zap.String("probe", name), zap.Duration("timeout", timeoutErr.Timeout))
	} else {
		o.logger.Warn("probe failed", zap.String("probe", name), zap.Error(err))
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	o.metrics.ObserveProbe(name, outcome, o.now().Sub(start))

	o.mu.Lock()
	o.st.SetStepError(step, msg)
	o.mu.Unlock()
}

// abort moves the run to ERROR and returns err.
func (o *Orchestrator) abort(err error) error {
	msg := probe.SanitizeErrorMessage(err.Error())

	o.mu.Lock()
	o.st.CurrentStep = state.StepError
	o.st.Error = &msg
	o.st.IsChecking = false
	o.running = false
	o.token++
	o.mu.Unlock()

	o.logger.Error("security check aborted", zap.Error(err))
	return err
}
