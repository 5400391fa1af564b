package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/metrics"
	"github.com/khanhnv2901/seca-trust/internal/probe"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

type stubProbe struct {
	name     string
	step     state.Step
	disabled bool
	run      func(ctx context.Context, kit *probe.Kit) (probe.Result, error)
	calls    atomic.Int32
}

func (s *stubProbe) Name() string                 { return s.name }
func (s *stubProbe) Step() state.Step             { return s.step }
func (s *stubProbe) IsEnabled(config.Config) bool { return !s.disabled }
func (s *stubProbe) Execute(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
	s.calls.Add(1)
	if s.run != nil {
		return s.run(ctx, kit)
	}
	return probe.Result{Success: true, Patch: passingPatch(s.step)}, nil
}

func passingPatch(step state.Step) state.Patch {
	switch step {
	case state.StepDeviceFingerprinting:
		return state.DeviceFingerprintStatus{Fingerprint: "abc123", IsValid: true}
	case state.StepHSMVerification:
		return state.HSMStatus{IsAvailable: true, IsInitialized: true}
	case state.StepBiometricCheck:
		return state.BiometricStatus{IsSupported: true}
	case state.StepZKPInitialization:
		return state.ZKPStatus{IsReady: true, ProofVerified: true}
	case state.StepCSPValidation:
		return state.CSPStatus{IsEnabled: true, IsSecure: true}
	case state.StepTLSCheck:
		return state.TLSStatus{IsSecure: true, CertificateValid: true}
	case state.StepHeadersCheck:
		return state.HeadersStatus{HasSecurityHeaders: true, Score: 100}
	case state.StepCryptoCheck:
		return state.CryptoStatus{HasSubtleCrypto: true, HasSecureRandom: true, IsSecure: true}
	case state.StepStorageCheck:
		return state.StorageStatus{IsAvailable: true, IsSecure: true}
	case state.StepDOMProtection:
		return state.DOMSkimmingStatus{IsProtected: true}
	}
	return nil
}

func stubPipeline() []*stubProbe {
	steps := state.Pipeline()[:10]
	probes := make([]*stubProbe, 0, len(steps))
	for _, step := range steps {
		probes = append(probes, &stubProbe{name: step.String(), step: step})
	}
	return probes
}

func asProbes(stubs []*stubProbe) []probe.Probe {
	out := make([]probe.Probe, len(stubs))
	for i, s := range stubs {
		out[i] = s
	}
	return out
}

func fastConfig() config.Config {
	cfg := config.Default()
	cfg.TimeoutMs = 1000
	cfg.DelayMs = 0
	return cfg
}

func newTestOrchestrator(t *testing.T, stubs []*stubProbe, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithPollInterval(5 * time.Millisecond)}, opts...)
	o, err := New(fastConfig(), asProbes(stubs), opts...)
	require.NoError(t, err)
	t.Cleanup(o.StopProgressSimulation)
	return o
}

func TestOverallFromCount(t *testing.T) {
	tests := []struct {
		n    int
		want Overall
	}{
		{0, OverallError},
		{5, OverallError},
		{6, OverallWarning},
		{7, OverallWarning},
		{8, OverallSecure},
		{9, OverallSecure},
		{10, OverallSecure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OverallFromCount(tt.n), "count %d", tt.n)
	}
}

// stateWithSignals returns a state where the first n of the ten status
// signals hold.
func stateWithSignals(n int) state.State {
	st := state.Initial()
	setters := []func(){
		func() { st.DeviceFingerprint.Fingerprint = "abc123" },
		func() { st.HSM.IsAvailable, st.HSM.IsInitialized = true, true },
		func() { st.Biometric.IsSupported = true },
		func() { st.ZKP.IsReady = true },
		func() { st.CSP.IsEnabled, st.CSP.IsSecure = true, true },
		func() { st.TLS.IsSecure, st.TLS.CertificateValid = true, true },
		func() { st.Headers.HasSecurityHeaders = true },
		func() { st.Crypto.HasSubtleCrypto, st.Crypto.HasSecureRandom = true, true },
		func() { st.Storage.IsSecure = true },
		func() { st.DOMSkimming.IsProtected = true },
	}
	for _, set := range setters[:n] {
		set()
	}
	return st
}

func TestStatusFrom_Thresholds(t *testing.T) {
	tests := []struct {
		n    int
		want Overall
	}{
		{0, OverallError},
		{5, OverallError},
		{6, OverallWarning},
		{7, OverallWarning},
		{8, OverallSecure},
		{9, OverallSecure},
		{10, OverallSecure},
	}
	for _, tt := range tests {
		status := StatusFrom(stateWithSignals(tt.n))
		assert.Equal(t, tt.n, status.Count(), "count %d", tt.n)
		assert.Equal(t, tt.want, status.Overall, "count %d", tt.n)
	}
}

func TestStatusFrom_PartialSignalsDoNotCount(t *testing.T) {
	st := stateWithSignals(6)
	st.HSM.IsInitialized = false
	st.TLS.CertificateValid = false
	st.CSP.IsSecure = false

	status := StatusFrom(st)
	assert.False(t, status.HSM)
	assert.False(t, status.TLS)
	assert.False(t, status.CSP)
	assert.Equal(t, 3, status.Count())
	assert.Equal(t, OverallError, status.Overall)
}

func TestSecurityStatus_FollowsRunOutcome(t *testing.T) {
	stubs := stubPipeline()
	for _, s := range stubs[6:] {
		s.disabled = true
	}
	o := newTestOrchestrator(t, stubs)

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	status := o.SecurityStatus()
	assert.Equal(t, 6, status.Count())
	assert.Equal(t, OverallWarning, status.Overall)
}

func TestStart_CompletesAllProbes(t *testing.T) {
	stubs := stubPipeline()
	o := newTestOrchestrator(t, stubs)

	st, err := o.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, state.StepCompleted, st.CurrentStep)
	assert.Equal(t, 100, st.Progress)
	assert.False(t, st.IsChecking)
	assert.Nil(t, st.Error)
	assert.False(t, o.IsRunning())
	for _, s := range stubs {
		assert.EqualValues(t, 1, s.calls.Load(), "probe %s", s.name)
		assert.True(t, st.Completed(s.step), "step %v", s.step)
	}

	status := o.SecurityStatus()
	assert.Equal(t, OverallSecure, status.Overall)
	assert.Equal(t, 10, status.Count())
}

func TestStart_RejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	stubs := stubPipeline()[:2]
	stubs[0].run = func(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
		close(entered)
		<-release
		return probe.Result{Success: true, Patch: passingPatch(state.StepDeviceFingerprinting)}, nil
	}
	o := newTestOrchestrator(t, stubs)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := o.Start(context.Background())
		assert.NoError(t, err)
	}()

	<-entered
	before := o.State()
	_, err := o.Start(context.Background())
	assert.ErrorIs(t, err, sharedErrors.ErrAlreadyRunning)
	_, err = o.StartQuick(context.Background())
	assert.ErrorIs(t, err, sharedErrors.ErrAlreadyRunning)
	assert.Equal(t, before, o.State())
	assert.True(t, o.IsRunning())

	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, stubs[0].calls.Load())
	assert.Equal(t, state.StepCompleted, o.State().CurrentStep)
}

func TestStart_AbandonsProbeAfterTimeout(t *testing.T) {
	release := make(chan struct{})
	reported := make(chan struct{})
	stubs := stubPipeline()[:3]
	stubs[1].name = "slow"
	stubs[1].run = func(ctx context.Context, kit *probe.Kit) (probe.Result, error) {
		<-release
		_ = kit.UpdateProgress(state.StepHSMVerification, 90)
		close(reported)
		return probe.Result{Success: true, Patch: passingPatch(state.StepHSMVerification)}, nil
	}
	o := newTestOrchestrator(t, stubs)

	start := time.Now()
	st, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)

	assert.Equal(t, state.StepCompleted, st.CurrentStep)
	assert.Contains(t, st.HSM.Error, "slow check timed out after 1s")
	assert.False(t, st.HSM.IsInitialized)
	assert.EqualValues(t, 1, stubs[2].calls.Load(), "run continues after a timeout")

	close(release)
	<-reported
	after := o.State()
	assert.Equal(t, 100, after.Progress)
	assert.False(t, after.HSM.IsInitialized, "late results are discarded")
}

func TestStart_ProbeErrorsDoNotStopRun(t *testing.T) {
	stubs := stubPipeline()[:4]
	stubs[0].run = func(context.Context, *probe.Kit) (probe.Result, error) {
		panic("kaboom")
	}
	stubs[1].run = func(context.Context, *probe.Kit) (probe.Result, error) {
		return probe.Result{}, errors.New("device unreachable")
	}
	stubs[2].run = func(_ context.Context, kit *probe.Kit) (probe.Result, error) {
		res := kit.HandleError(nil, "authenticator missing")
		return res, nil
	}
	o := newTestOrchestrator(t, stubs)

	st, err := o.Start(context.Background())
	require.NoError(t, err)

	assert.Contains(t, st.DeviceFingerprint.Error, "panic kaboom")
	assert.Contains(t, st.HSM.Error, "device unreachable")
	assert.Equal(t, "authenticator missing", st.Biometric.Error)
	assert.True(t, st.ZKP.IsReady)
	assert.Equal(t, state.StepCompleted, st.CurrentStep)
	assert.Nil(t, st.Error)
}

func TestStart_SkipsDisabledProbes(t *testing.T) {
	stubs := stubPipeline()[:3]
	stubs[1].disabled = true
	o := newTestOrchestrator(t, stubs)

	st, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stubs[1].calls.Load())
	assert.False(t, st.Completed(state.StepHSMVerification))
	assert.Equal(t, 100, st.Progress)
}

func TestStartQuick_RunsSubset(t *testing.T) {
	stubs := stubPipeline()
	o := newTestOrchestrator(t, stubs)

	st, err := o.StartQuick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.StepCompleted, st.CurrentStep)

	quick := map[state.Step]bool{}
	for _, s := range state.QuickPipeline() {
		quick[s] = true
	}
	for _, s := range stubs {
		want := int32(0)
		if quick[s.step] {
			want = 1
		}
		assert.Equal(t, want, s.calls.Load(), "probe %s", s.name)
	}
}

func TestStart_CancelledContextEndsInError(t *testing.T) {
	stubs := stubPipeline()
	o := newTestOrchestrator(t, stubs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, err := o.Start(ctx)
	require.Error(t, err)

	var orchErr *OrchestrationError
	assert.ErrorAs(t, err, &orchErr)
	assert.ErrorIs(t, err, sharedErrors.ErrOrchestration)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, state.StepError, st.CurrentStep)
	assert.False(t, st.IsChecking)
	require.NotNil(t, st.Error)
	assert.Contains(t, *st.Error, "security check failed")
	assert.Equal(t, o.State(), st, "returned state matches the stored one")
	assert.False(t, o.IsRunning())
	assert.Zero(t, stubs[0].calls.Load())

	// A failed run does not block the next one.
	st, err = o.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.StepCompleted, st.CurrentStep)
	assert.Nil(t, st.Error)
}

func TestStart_CancelDuringProbe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stubs := stubPipeline()[:2]
	stubs[0].run = func(probeCtx context.Context, kit *probe.Kit) (probe.Result, error) {
		cancel()
		<-probeCtx.Done()
		return probe.Result{}, probeCtx.Err()
	}
	o := newTestOrchestrator(t, stubs)

	st, err := o.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, sharedErrors.ErrOrchestration)
	assert.Equal(t, state.StepError, st.CurrentStep)
	assert.False(t, st.IsChecking)
	require.NotNil(t, st.Error)
	assert.Equal(t, o.State(), st, "returned state matches the stored one")
	assert.Zero(t, stubs[1].calls.Load())
}

func TestProgress_IsMonotonic(t *testing.T) {
	stubs := stubPipeline()[:4]
	stubs[2].run = func(_ context.Context, kit *probe.Kit) (probe.Result, error) {
		_ = kit.UpdateProgress(state.StepBiometricCheck, 80)
		_ = kit.UpdateProgress(state.StepBiometricCheck, 20)
		// Reports for another step are ignored.
		_ = kit.UpdateProgress(state.StepSOC2Compliance, 100)
		return probe.Result{Success: true, Patch: passingPatch(state.StepBiometricCheck)}, nil
	}

	var mu sync.Mutex
	var observed []int
	o := newTestOrchestrator(t, stubs)
	stubs[1].run = func(_ context.Context, kit *probe.Kit) (probe.Result, error) {
		mu.Lock()
		observed = append(observed, o.State().Progress)
		mu.Unlock()
		return probe.Result{Success: true, Patch: passingPatch(state.StepHSMVerification)}, nil
	}
	stubs[3].run = func(_ context.Context, kit *probe.Kit) (probe.Result, error) {
		st := o.State()
		mu.Lock()
		observed = append(observed, st.Progress)
		mu.Unlock()
		assert.Equal(t, state.StepZKPInitialization, st.CurrentStep)
		return probe.Result{Success: true, Patch: passingPatch(state.StepZKPInitialization)}, nil
	}

	st, err := o.Start(context.Background())
	require.NoError(t, err)
	observed = append(observed, st.Progress)

	// The 80% report lifts progress to 70; the later 20% report is dropped.
	assert.Equal(t, []int{25, 75, 100}, observed)
}

func TestProgressSimulation(t *testing.T) {
	stubs := stubPipeline()[:4]
	o := newTestOrchestrator(t, stubs)

	var mu sync.Mutex
	var seen []int
	o.StartProgressSimulation(func(pct int) {
		mu.Lock()
		seen = append(seen, pct)
		mu.Unlock()
	})
	mu.Lock()
	assert.Equal(t, []int{0}, seen, "the first callback happens before StartProgressSimulation returns")
	mu.Unlock()
	// Ignored while a poller is active.
	o.StartProgressSimulation(func(int) { t.Error("second poller must not run") })

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == 100
	}, 2*time.Second, 5*time.Millisecond)

	o.StopProgressSimulation()
	o.StopProgressSimulation()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, seen[0])
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}

func TestUpdateConfig(t *testing.T) {
	o := newTestOrchestrator(t, stubPipeline())

	require.NoError(t, o.UpdateConfig(map[string]any{"enableZKP": false, "delayMs": 10}))
	cfg := o.Config()
	assert.False(t, cfg.EnableZKP)
	assert.Equal(t, 10, cfg.DelayMs)

	err := o.UpdateConfig(map[string]any{"timeoutMs": 500})
	require.Error(t, err)
	assert.True(t, config.IsKind(err, config.KindTimeout))
	assert.Equal(t, cfg, o.Config(), "rejected updates leave the configuration untouched")

	err = o.UpdateConfig(map[string]any{"enableEverything": true})
	assert.True(t, config.IsKind(err, config.KindUnexpectedKey))
}

func TestReset(t *testing.T) {
	stubs := stubPipeline()[:2]
	o := newTestOrchestrator(t, stubs)
	require.NoError(t, o.UpdateConfig(map[string]any{"enableHSM": false}))

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, o.Reset())

	assert.Equal(t, state.Initial(), o.State())
	assert.False(t, o.Config().EnableHSM, "reset keeps the configuration")
}

func TestReset_RejectedWhileRunning(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	stubs := stubPipeline()[:1]
	stubs[0].run = func(context.Context, *probe.Kit) (probe.Result, error) {
		close(entered)
		<-release
		return probe.Result{Success: true, Patch: passingPatch(state.StepDeviceFingerprinting)}, nil
	}
	o := newTestOrchestrator(t, stubs)

	done := make(chan error, 1)
	go func() {
		_, err := o.Start(context.Background())
		done <- err
	}()
	<-entered
	o.StartProgressSimulation(func(int) {})

	assert.ErrorIs(t, o.Reset(), sharedErrors.ErrAlreadyRunning)
	o.mu.Lock()
	assert.Nil(t, o.poller, "a rejected reset still stops the poller")
	o.mu.Unlock()
	close(release)
	require.NoError(t, <-done)
	assert.NoError(t, o.Reset())
}

func TestNewFromMap(t *testing.T) {
	raw := config.Default().ToMap()
	raw["timeoutMs"] = 500

	_, err := NewFromMap(raw, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid timeout configuration")
	assert.ErrorIs(t, err, sharedErrors.ErrConfiguration)

	raw["timeoutMs"] = 2000
	o, err := NewFromMap(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, 2000, o.Config().TimeoutMs)

	_, err = NewFromMap("not a map", nil)
	assert.True(t, config.IsKind(err, config.KindNotObject))
}

func TestStart_RecordsMetrics(t *testing.T) {
	rec := metrics.NewRecorder()
	stubs := stubPipeline()[:3]
	stubs[1].disabled = true
	stubs[2].run = func(context.Context, *probe.Kit) (probe.Result, error) {
		return probe.Result{}, errors.New("broken")
	}
	o := newTestOrchestrator(t, stubs, WithMetrics(rec))

	_, err := o.Start(context.Background())
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(rec.Registry(), "seca_trust_probe_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "one series per probe and outcome")

	n, err = testutil.GatherAndCount(rec.Registry(), "seca_trust_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
