package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"gopkg.in/yaml.v3"
)

// MetaTag is a <meta http-equiv> element of the inspected document.
type MetaTag struct {
	HTTPEquiv string `json:"httpEquiv" yaml:"httpEquiv"`
	Content   string `json:"content" yaml:"content"`
}

// Snapshot is everything the environment probes may read about the context the
// wallet UI runs in.
type Snapshot struct {
	Language            string `json:"language" yaml:"language"`
	Platform            string `json:"platform" yaml:"platform"`
	Timezone            string `json:"timezone" yaml:"timezone"`
	UserAgent           string `json:"userAgent" yaml:"userAgent"`
	ScreenResolution    string `json:"screenResolution" yaml:"screenResolution"`
	HardwareConcurrency int    `json:"hardwareConcurrency" yaml:"hardwareConcurrency"`

	Protocol         string              `json:"protocol" yaml:"protocol"`
	Hostname         string              `json:"hostname" yaml:"hostname"`
	SecureContext    bool                `json:"secureContext" yaml:"secureContext"`
	CertificateValid bool                `json:"certificateValid" yaml:"certificateValid"`
	MetaTags         []MetaTag           `json:"metaTags" yaml:"metaTags"`
	Headers          http.Header         `json:"headers" yaml:"headers"`
	CertificatePins  map[string][]string `json:"certificatePins" yaml:"certificatePins"`

	TrustedTypes     bool `json:"trustedTypes" yaml:"trustedTypes"`
	ConsentManaged   bool `json:"consentManaged" yaml:"consentManaged"`
	DoNotTrack       bool `json:"doNotTrack" yaml:"doNotTrack"`
	WebDriver        bool `json:"webDriver" yaml:"webDriver"`
	DebuggerAttached bool `json:"debuggerAttached" yaml:"debuggerAttached"`
	StorageEncrypted bool `json:"storageEncrypted" yaml:"storageEncrypted"`
	AuditLogging     bool `json:"auditLogging" yaml:"auditLogging"`
}

// MetaContent returns the content of the first meta tag whose http-equiv
// matches name, case-insensitively.
func (s Snapshot) MetaContent(name string) (string, bool) {
	for _, m := range s.MetaTags {
		if strings.EqualFold(m.HTTPEquiv, name) {
			return m.Content, true
		}
	}
	return "", false
}

// Environment supplies environment snapshots to probes.
type Environment interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// StaticEnvironment always returns the same snapshot.
type StaticEnvironment struct {
	Value Snapshot
}

func (s StaticEnvironment) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	return s.Value, nil
}

// LoadSnapshot reads a YAML (or JSON, which is valid YAML) snapshot file.
func LoadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read environment file: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse environment file: %w", err)
	}
	if snap.Headers != nil {
		canon := http.Header{}
		for k, vs := range snap.Headers {
			for _, v := range vs {
				canon.Add(k, v)
			}
		}
		snap.Headers = canon
	}
	return snap, nil
}

// HostEnvironment derives a snapshot from the local host plus a configured
// origin and response headers. Nothing is fetched over the network.
type HostEnvironment struct {
	Origin  string
	Headers http.Header
	Base    Snapshot
}

func (h HostEnvironment) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := h.Base

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read host info: %w", err)
	}
	if snap.Platform == "" {
		snap.Platform = strings.TrimSpace(fmt.Sprintf("%s %s", info.Platform, info.KernelArch))
		if snap.Platform == "" {
			snap.Platform = info.OS
		}
	}
	if snap.HardwareConcurrency == 0 {
		if n, err := cpu.CountsWithContext(ctx, true); err == nil {
			snap.HardwareConcurrency = n
		}
	}
	if snap.Language == "" {
		snap.Language = languageFromLocale(firstNonEmpty(os.Getenv("LC_ALL"), os.Getenv("LANG")))
	}
	if snap.Timezone == "" {
		snap.Timezone = localTimezone()
	}
	if snap.UserAgent == "" {
		snap.UserAgent = fmt.Sprintf("seca-trust (%s; %s %s)", info.OS, info.Platform, info.PlatformVersion)
	}

	if h.Origin != "" {
		u, err := url.Parse(h.Origin)
		if err != nil {
			return Snapshot{}, fmt.Errorf("invalid origin: %w", err)
		}
		snap.Protocol = u.Scheme + ":"
		snap.Hostname = u.Hostname()
		snap.SecureContext = u.Scheme == "https" || isLoopbackHost(snap.Hostname)
	}
	if h.Headers != nil {
		snap.Headers = h.Headers.Clone()
	}
	return snap, nil
}

func languageFromLocale(locale string) string {
	if locale == "" || locale == "C" || locale == "POSIX" {
		return "en-US"
	}
	if i := strings.IndexAny(locale, ".@"); i >= 0 {
		locale = locale[:i]
	}
	return strings.ReplaceAll(locale, "_", "-")
}

func localTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return strings.TrimPrefix(tz, ":")
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	if target, err := filepath.EvalSymlinks("/etc/localtime"); err == nil {
		if i := strings.Index(target, "zoneinfo/"); i >= 0 {
			return target[i+len("zoneinfo/"):]
		}
	}
	return "UTC"
}

func isLoopbackHost(h string) bool {
	return h == "localhost" || h == "127.0.0.1" || h == "::1"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Authenticator probes the platform's user-verifying authenticator.
type Authenticator interface {
	PlatformAuthenticatorAvailable(ctx context.Context) (bool, error)
	WebAuthnSupported() bool
}

// StaticAuthenticator reports fixed capabilities.
type StaticAuthenticator struct {
	Supported bool
	Available bool
	Err       error
}

func (a StaticAuthenticator) PlatformAuthenticatorAvailable(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return a.Available, a.Err
}

func (a StaticAuthenticator) WebAuthnSupported() bool {
	return a.Supported
}
