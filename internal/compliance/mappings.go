// Package compliance maps pipeline steps to the framework controls they give
// evidence for. The mappings are indicative; a passing step is not an audit
// result.
package compliance

import (
	"sort"

	"github.com/khanhnv2901/seca-trust/internal/domain/state"
)

// Framework identifiers.
const (
	ISO27001 = "iso27001"
	SOC2     = "soc2"
	GDPR     = "gdpr"
	PCIDSS   = "pci-dss"
)

// Framework represents a compliance or regulatory framework.
type Framework struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Region string `json:"region" yaml:"region"`
}

// Mapping lists, per framework, the requirement IDs a step gives evidence for.
type Mapping struct {
	Step       state.Step          `json:"step" yaml:"step"`
	Frameworks map[string][]string `json:"frameworks" yaml:"frameworks"`
	Priority   string              `json:"priority" yaml:"priority"`
}

var frameworks = []Framework{
	{ID: ISO27001, Name: "ISO/IEC 27001:2022", Region: "Global"},
	{ID: SOC2, Name: "SOC 2 Trust Services Criteria", Region: "United States"},
	{ID: GDPR, Name: "General Data Protection Regulation", Region: "European Union"},
	{ID: PCIDSS, Name: "PCI DSS v4.0", Region: "Global"},
}

var mappings = map[state.Step]Mapping{
	state.StepDeviceFingerprinting: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.1"},
			SOC2:     {"CC6.1"},
			GDPR:     {"Art. 5(1)(c)"},
		},
		Priority: "Medium",
	},
	state.StepHSMVerification: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.24"},
			SOC2:     {"CC6.1"},
			PCIDSS:   {"3.6.1", "3.7.1"},
		},
		Priority: "Critical",
	},
	state.StepBiometricCheck: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.5"},
			SOC2:     {"CC6.1"},
			PCIDSS:   {"8.3.1"},
		},
		Priority: "High",
	},
	state.StepZKPInitialization: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.5", "A.8.24"},
			GDPR:     {"Art. 25"},
		},
		Priority: "Medium",
	},
	state.StepCSPValidation: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.26", "A.8.28"},
			PCIDSS:   {"6.4.3"},
		},
		Priority: "High",
	},
	state.StepTLSCheck: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.20", "A.8.24"},
			SOC2:     {"CC6.7"},
			GDPR:     {"Art. 32"},
			PCIDSS:   {"4.2.1"},
		},
		Priority: "Critical",
	},
	state.StepHeadersCheck: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.26"},
			PCIDSS:   {"6.4.1"},
		},
		Priority: "High",
	},
	state.StepCryptoCheck: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.24"},
			GDPR:     {"Art. 32"},
			PCIDSS:   {"3.5.1"},
		},
		Priority: "Critical",
	},
	state.StepStorageCheck: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.10", "A.8.12"},
			GDPR:     {"Art. 32"},
			PCIDSS:   {"3.3.1"},
		},
		Priority: "High",
	},
	state.StepDOMProtection: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.7", "A.8.26"},
			SOC2:     {"CC6.8"},
			PCIDSS:   {"6.4.3", "11.6.1"},
		},
		Priority: "Critical",
	},
	state.StepCertificatePinning: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.20"},
			SOC2:     {"CC6.7"},
			PCIDSS:   {"4.2.1"},
		},
		Priority: "Medium",
	},
	state.StepGDPRCompliance: {
		Frameworks: map[string][]string{
			ISO27001: {"A.5.34"},
			GDPR:     {"Art. 5(1)(c)", "Art. 7", "Art. 17"},
		},
		Priority: "High",
	},
	state.StepThreatDetection: {
		Frameworks: map[string][]string{
			ISO27001: {"A.8.16"},
			SOC2:     {"CC7.2"},
			PCIDSS:   {"11.6.1"},
		},
		Priority: "High",
	},
	state.StepSOC2Compliance: {
		Frameworks: map[string][]string{
			SOC2: {"CC6.1", "CC7.2"},
		},
		Priority: "Medium",
	},
}

// Frameworks returns every supported framework.
func Frameworks() []Framework {
	return append([]Framework(nil), frameworks...)
}

// Lookup returns the framework with the given ID.
func Lookup(id string) (Framework, bool) {
	for _, f := range frameworks {
		if f.ID == id {
			return f, true
		}
	}
	return Framework{}, false
}

// For returns the mapping for step. Steps outside the pipeline get an empty
// mapping.
func For(step state.Step) Mapping {
	m, ok := mappings[step]
	if !ok {
		return Mapping{Step: step, Frameworks: map[string][]string{}}
	}
	m.Step = step
	out := make(map[string][]string, len(m.Frameworks))
	for id, reqs := range m.Frameworks {
		out[id] = append([]string(nil), reqs...)
	}
	m.Frameworks = out
	return m
}

// StepsFor lists, in pipeline order, the steps that map to framework id.
func StepsFor(id string) []state.Step {
	var steps []state.Step
	for _, step := range state.Pipeline() {
		if len(mappings[step].Frameworks[id]) > 0 {
			steps = append(steps, step)
		}
	}
	return steps
}

// Requirements returns every requirement ID of framework id that some step
// covers, sorted.
func Requirements(id string) []string {
	seen := map[string]bool{}
	for _, m := range mappings {
		for _, req := range m.Frameworks[id] {
			seen[req] = true
		}
	}
	out := make([]string, 0, len(seen))
	for req := range seen {
		out = append(out, req)
	}
	sort.Strings(out)
	return out
}
