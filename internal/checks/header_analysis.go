package checks

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const oneYearSeconds = 31536000

// headerRule scores one response header. check returns the awarded score and
// the issues found.
type headerRule struct {
	Name     string
	Severity string // "critical", "high", "medium", "low"
	MaxScore int
	check    func(value string) (int, []string)
}

var headerRules = []headerRule{
	{Name: "Strict-Transport-Security", Severity: "high", MaxScore: 25, check: scoreHSTS},
	{Name: "Content-Security-Policy", Severity: "high", MaxScore: 25, check: scoreCSP},
	{Name: "X-Frame-Options", Severity: "high", MaxScore: 15, check: scoreXFrameOptions},
	{Name: "X-Content-Type-Options", Severity: "high", MaxScore: 15, check: scoreXContentTypeOptions},
	{Name: "Referrer-Policy", Severity: "medium", MaxScore: 10, check: scoreReferrerPolicy},
	{Name: "Permissions-Policy", Severity: "medium", MaxScore: 10, check: scorePermissionsPolicy},
}

// headerReport is the scored view of a response's security headers.
type headerReport struct {
	Score    int
	MaxScore int
	Grade    string
	Present  map[string]bool
	Missing  []string
	Issues   map[string][]string
	Warnings []string
}

// analyzeHeaders scores headers. A CSP delivered through a meta tag counts as
// present when metaCSP is non-empty.
func analyzeHeaders(headers http.Header, metaCSP string) headerReport {
	report := headerReport{
		Present: make(map[string]bool, len(headerRules)),
		Missing: []string{},
		Issues:  make(map[string][]string),
	}

	for _, rule := range headerRules {
		report.MaxScore += rule.MaxScore

		value := headers.Get(rule.Name)
		if value == "" && rule.Name == "Content-Security-Policy" {
			value = metaCSP
		}
		if value == "" {
			report.Missing = append(report.Missing, rule.Name)
			continue
		}

		score, issues := rule.check(value)
		report.Present[rule.Name] = true
		report.Score += score
		if len(issues) > 0 {
			report.Issues[rule.Name] = issues
		}
	}

	report.Warnings = deprecatedHeaderWarnings(headers)
	report.Grade = grade(report.Score, report.MaxScore)
	return report
}

func scoreHSTS(value string) (int, []string) {
	issues := []string{}
	score := 25
	value = strings.ToLower(value)

	raw, ok := directiveValue(value, "max-age")
	maxAge, err := strconv.Atoi(raw)
	switch {
	case !ok || err != nil:
		issues = append(issues, "Missing or invalid 'max-age' directive")
		score -= 15
	case maxAge <= 0:
		return 0, []string{"max-age is set to 0 (HSTS disabled)"}
	case maxAge < oneYearSeconds:
		issues = append(issues, "max-age is shorter than one year")
		score -= 5
	}

	if !strings.Contains(value, "includesubdomains") {
		issues = append(issues, "Missing 'includeSubDomains' directive")
		score -= 5
	}
	if !strings.Contains(value, "preload") {
		issues = append(issues, "Missing 'preload' directive")
		score -= 2
	}
	if score < 0 {
		score = 0
	}
	return score, issues
}

func directiveValue(value, name string) (string, bool) {
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if v, found := strings.CutPrefix(part, name+"="); found {
			return strings.Trim(v, `"`), true
		}
	}
	return "", false
}

func scoreCSP(value string) (int, []string) {
	analysis := analyzeCSP(value)
	score := 25 - 5*len(analysis.Issues)
	if score < 0 {
		score = 0
	}
	return score, analysis.Issues
}

func scoreXFrameOptions(value string) (int, []string) {
	switch v := strings.ToUpper(strings.TrimSpace(value)); {
	case v == "DENY" || v == "SAMEORIGIN":
		return 15, nil
	case strings.HasPrefix(v, "ALLOW-FROM"):
		return 5, []string{"ALLOW-FROM is deprecated and ignored by modern browsers"}
	default:
		return 0, []string{"Invalid X-Frame-Options value"}
	}
}

func scoreXContentTypeOptions(value string) (int, []string) {
	if strings.EqualFold(strings.TrimSpace(value), "nosniff") {
		return 15, nil
	}
	return 0, []string{"Invalid value, should be 'nosniff'"}
}

func scoreReferrerPolicy(value string) (int, []string) {
	value = strings.ToLower(value)
	for _, policy := range []string{"no-referrer", "strict-origin", "strict-origin-when-cross-origin", "same-origin"} {
		if strings.Contains(value, policy) && !strings.Contains(value, "no-referrer-when-downgrade") {
			return 10, nil
		}
	}
	if strings.Contains(value, "unsafe-url") || strings.Contains(value, "origin-when-cross-origin") {
		return 5, []string{"Policy may leak sensitive information in referrer"}
	}
	return 7, []string{"Unusual or weak referrer policy"}
}

func scorePermissionsPolicy(value string) (int, []string) {
	if len(value) < 10 {
		return 7, []string{"Permissions-Policy seems minimal"}
	}
	return 10, nil
}

func deprecatedHeaderWarnings(headers http.Header) []string {
	var warnings []string
	if xss := headers.Get("X-XSS-Protection"); xss != "" && xss != "0" {
		warnings = append(warnings, "X-XSS-Protection is deprecated; set to '0' or remove it")
	}
	if headers.Get("Public-Key-Pins") != "" {
		warnings = append(warnings, "Public-Key-Pins is deprecated and dangerous")
	}
	for _, name := range []string{"Server", "X-Powered-By"} {
		if headers.Get(name) != "" {
			warnings = append(warnings, name+" header exposes server information")
		}
	}
	return warnings
}

func grade(score, maxScore int) string {
	if maxScore == 0 {
		return "F"
	}
	percentage := score * 100 / maxScore
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}

// cspAnalysis is the parsed form of a Content-Security-Policy.
type cspAnalysis struct {
	Directives map[string][]string
	Issues     []string
}

// ScriptSources returns the sources governing scripts: script-src, falling back
// to default-src. ok is false when neither directive is present.
func (a cspAnalysis) ScriptSources() ([]string, bool) {
	if src, ok := a.Directives["script-src"]; ok {
		return src, true
	}
	src, ok := a.Directives["default-src"]
	return src, ok
}

// Secure reports whether scripts are restricted and no issue was found.
func (a cspAnalysis) Secure() bool {
	_, ok := a.ScriptSources()
	return ok && len(a.Issues) == 0
}

// BlocksInlineScripts reports whether inline script execution is disallowed.
func (a cspAnalysis) BlocksInlineScripts() bool {
	src, ok := a.ScriptSources()
	if !ok {
		return false
	}
	for _, token := range src {
		if token == "'unsafe-inline'" {
			return false
		}
	}
	return true
}

// BlocksFraming reports whether frame-ancestors restricts embedding.
func (a cspAnalysis) BlocksFraming() bool {
	src, ok := a.Directives["frame-ancestors"]
	if !ok || len(src) == 0 {
		return false
	}
	for _, token := range src {
		if token == "*" || strings.HasPrefix(token, "http:") {
			return false
		}
	}
	return true
}

func analyzeCSP(value string) cspAnalysis {
	directives := parseCSPDirectives(strings.ToLower(value))
	analysis := cspAnalysis{Directives: directives}

	_, hasDefault := directives["default-src"]
	_, hasScript := directives["script-src"]
	if !hasDefault && !hasScript {
		analysis.Issues = append(analysis.Issues, "Missing 'default-src' and 'script-src' directives")
	}

	scriptTokens, _ := analysis.ScriptSources()
	for _, token := range scriptTokens {
		switch {
		case token == "'unsafe-inline'":
			analysis.Issues = append(analysis.Issues, "Script sources contain 'unsafe-inline'")
		case token == "'unsafe-eval'":
			analysis.Issues = append(analysis.Issues, "Script sources contain 'unsafe-eval'")
		case token == "*":
			analysis.Issues = append(analysis.Issues, "Script sources contain a wildcard")
		case token == "data:" || token == "blob:" || token == "filesystem:":
			analysis.Issues = append(analysis.Issues, "Script sources allow "+token+" URLs")
		case strings.HasPrefix(token, "http:"):
			analysis.Issues = append(analysis.Issues, "Script sources allow insecure http scheme")
		}
	}
	sort.Strings(analysis.Issues)
	return analysis
}

func parseCSPDirectives(value string) map[string][]string {
	result := make(map[string][]string)
	for _, part := range strings.Split(value, ";") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		if _, seen := result[fields[0]]; seen {
			// Browsers ignore repeated directives.
			continue
		}
		result[fields[0]] = append([]string{}, fields[1:]...)
	}
	return result
}
