// Package report renders a finished security check as text, JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/valyala/bytebufferpool"
	"gopkg.in/yaml.v3"

	"github.com/khanhnv2901/seca-trust/internal/compliance"
	"github.com/khanhnv2901/seca-trust/internal/domain/state"
	"github.com/khanhnv2901/seca-trust/internal/orchestrator"
)

const (
	jsonPrefix = ""
	jsonIndent = "  "
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json or yaml (case-insensitive, "yml" allowed).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported format %q (use text, json or yaml)", s)
}

// Outcome is the per-step verdict shown in the text report.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeSkipped Outcome = "skipped"
)

// StepResult is one row of the report.
type StepResult struct {
	Step    state.Step `json:"step" yaml:"step"`
	Outcome Outcome    `json:"outcome" yaml:"outcome"`
	Detail  string     `json:"detail,omitempty" yaml:"detail,omitempty"`
	// Controls maps framework IDs to the requirements this step gives
	// evidence for.
	Controls map[string][]string `json:"controls,omitempty" yaml:"controls,omitempty"`
}

// Report is a snapshot of a run ready for rendering.
type Report struct {
	GeneratedAt time.Time                   `json:"generatedAt" yaml:"generatedAt"`
	Mode        string                      `json:"mode" yaml:"mode"`
	Duration    string                      `json:"duration" yaml:"duration"`
	Status      orchestrator.SecurityStatus `json:"status" yaml:"status"`
	Steps       []StepResult                `json:"steps" yaml:"steps"`
	State       state.State                 `json:"state" yaml:"state"`
}

// New builds a report from a finished state.
func New(st state.State, mode string, took time.Duration, now time.Time) Report {
	steps := make([]StepResult, 0, len(state.Pipeline()))
	for _, step := range state.Pipeline() {
		steps = append(steps, stepResult(st, step))
	}
	return Report{
		GeneratedAt: now.UTC(),
		Mode:        mode,
		Duration:    took.Round(time.Millisecond).String(),
		Status:      orchestrator.StatusFrom(st),
		Steps:       steps,
		State:       st.Clone(),
	}
}

func stepResult(st state.State, step state.Step) StepResult {
	res := StepResult{Step: step, Outcome: OutcomeSkipped, Controls: compliance.For(step).Frameworks}
	if msg := stepError(st, step); msg != "" {
		res.Outcome = OutcomeFail
		res.Detail = msg
	} else if st.Completed(step) {
		res.Outcome = OutcomePass
	}
	return res
}

func stepError(st state.State, step state.Step) string {
	switch step {
	case state.StepDeviceFingerprinting:
		return st.DeviceFingerprint.Error
	case state.StepHSMVerification:
		return st.HSM.Error
	case state.StepBiometricCheck:
		return st.Biometric.Error
	case state.StepZKPInitialization:
		return st.ZKP.Error
	case state.StepCSPValidation:
		return st.CSP.Error
	case state.StepTLSCheck:
		return st.TLS.Error
	case state.StepHeadersCheck:
		return st.Headers.Error
	case state.StepCryptoCheck:
		return st.Crypto.Error
	case state.StepStorageCheck:
		return st.Storage.Error
	case state.StepDOMProtection:
		return st.DOMSkimming.Error
	case state.StepCertificatePinning:
		return st.CertificatePinning.Error
	case state.StepGDPRCompliance:
		return st.GDPRCompliance.Error
	case state.StepThreatDetection:
		return st.ThreatDetection.Error
	case state.StepSOC2Compliance:
		return st.SOC2Compliance.Error
	}
	return ""
}

// Counts returns how many steps passed, failed and were skipped.
func (r Report) Counts() (pass, fail, skipped int) {
	for _, s := range r.Steps {
		switch s.Outcome {
		case OutcomePass:
			pass++
		case OutcomeFail:
			fail++
		default:
			skipped++
		}
	}
	return pass, fail, skipped
}

// Render writes r to w in the requested format. Output is assembled in a
// pooled buffer and written in one call.
func Render(w io.Writer, r Report, f Format) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var err error
	switch f {
	case FormatJSON:
		err = renderJSON(buf, r)
	case FormatYAML:
		err = renderYAML(buf, r)
	case FormatText, "":
		err = renderText(buf, r)
	default:
		err = fmt.Errorf("unsupported format %q", f)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(buf.B)
	return err
}

func renderJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent(jsonPrefix, jsonIndent)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

func renderYAML(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
)

func colorOverall(o orchestrator.Overall) string {
	switch o {
	case orchestrator.OverallSecure:
		return colorSuccess(strings.ToUpper(string(o)))
	case orchestrator.OverallWarning:
		return colorWarn(strings.ToUpper(string(o)))
	default:
		return colorError(strings.ToUpper(string(o)))
	}
}

func colorOutcome(o Outcome) string {
	switch o {
	case OutcomePass:
		return colorSuccess(string(o))
	case OutcomeFail:
		return colorError(string(o))
	default:
		return colorWarn(string(o))
	}
}

func renderText(w io.Writer, r Report) error {
	pass, fail, skipped := r.Counts()

	fmt.Fprintln(w, colorInfo("Security Check Report"))
	fmt.Fprintf(w, "Mode: %s | Duration: %s | Generated: %s\n", r.Mode, r.Duration, r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Overall: %s (%d/%d signals)\n", colorOverall(r.Status.Overall), r.Status.Count(), len(r.Status.Signals()))
	fmt.Fprintf(w, "Steps: %s pass | %s fail | %s skipped\n\n",
		colorSuccess(fmt.Sprintf("%d", pass)),
		colorError(fmt.Sprintf("%d", fail)),
		colorWarn(fmt.Sprintf("%d", skipped)),
	)

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tRESULT\tDETAIL")
	for _, s := range r.Steps {
		detail := s.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Step, colorOutcome(s.Outcome), detail)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to flush step table: %w", err)
	}

	h := r.State.Headers
	if h.Score > 0 || len(h.Missing) > 0 {
		fmt.Fprintf(w, "\nSecurity headers score: %d\n", h.Score)
		if len(h.Missing) > 0 {
			fmt.Fprintf(w, "Missing headers: %s\n", colorWarn(strings.Join(h.Missing, ", ")))
		}
	}
	if fp := r.State.DeviceFingerprint.Fingerprint; fp != "" {
		fmt.Fprintf(w, "Device fingerprint: %s\n", fp)
	}
	if msg := r.State.ErrorMessage(); msg != "" {
		fmt.Fprintf(w, "\n%s %s\n", colorError("Run failed:"), msg)
	}
	return nil
}
