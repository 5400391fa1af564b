package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/khanhnv2901/seca-trust/internal/checks"
	"github.com/khanhnv2901/seca-trust/internal/domain/config"
	"github.com/khanhnv2901/seca-trust/internal/platform"
	sharedErrors "github.com/khanhnv2901/seca-trust/internal/shared/errors"
)

const (
	flagTimeoutMs     = "timeout-ms"
	flagDelayMs       = "delay-ms"
	flagRetryAttempts = "retry-attempts"
	flagDisable       = "disable"
	flagEnvironment   = "environment"
	flagOrigin        = "origin"
	flagTelemetry     = "telemetry"
)

// probeConfigKeys maps CLI probe names to their enable flag.
var probeConfigKeys = map[string]string{
	checks.NameDeviceFingerprint:  config.KeyDeviceFingerprint,
	checks.NameHSM:                config.KeyHSM,
	checks.NameBiometric:          config.KeyBiometric,
	checks.NameZKP:                config.KeyZKP,
	checks.NameCSP:                config.KeyCSP,
	checks.NameTLS:                config.KeyTLS,
	checks.NameHeaders:            config.KeyHeaders,
	checks.NameCrypto:             config.KeyCrypto,
	checks.NameStorage:            config.KeyStorage,
	checks.NameDOMProtection:      config.KeyDOMProtection,
	checks.NameCertificatePinning: config.KeyCertificatePinning,
	checks.NameGDPRCompliance:     config.KeyGDPRCompliance,
	checks.NameThreatDetection:    config.KeyThreatDetection,
	checks.NameSOC2Compliance:     config.KeySOC2Compliance,
}

// CLIConfig is the effective configuration of one invocation: the engine
// configuration plus where probes read their environment from.
type CLIConfig struct {
	Engine          config.Config `json:"checks" yaml:"checks"`
	EnvironmentFile string        `json:"environmentFile,omitempty" yaml:"environmentFile,omitempty"`
	Origin          string        `json:"origin,omitempty" yaml:"origin,omitempty"`
	Telemetry       bool          `json:"telemetry" yaml:"telemetry"`
}

func newCLIConfig() *CLIConfig {
	return &CLIConfig{Engine: config.Default()}
}

func addEngineFlags(flags *pflag.FlagSet) {
	flags.Int(flagTimeoutMs, config.Default().TimeoutMs, "per-probe timeout in milliseconds (1000-60000)")
	flags.Int(flagDelayMs, config.Default().DelayMs, "pause after each probe in milliseconds (0-10000)")
	flags.Int(flagRetryAttempts, config.Default().RetryAttempts, "retries for single-probe runs (0-10)")
	flags.StringSlice(flagDisable, nil, "probes to disable, e.g. --disable biometric,zkp")
	flags.String(flagEnvironment, "", "YAML or JSON environment snapshot for the environment probes")
	flags.String(flagOrigin, "", "origin the wallet is served from, e.g. https://wallet.example")
	flags.Bool(flagTelemetry, false, "append a telemetry record per run to telemetry.jsonl")
}

// wireKeys maps viper's lower-cased keys back to the engine's wire keys.
var wireKeys = func() map[string]string {
	m := make(map[string]string)
	for _, k := range append(append([]string{}, config.FlagKeys...), config.NumericKeys...) {
		m[strings.ToLower(k)] = k
	}
	return m
}()

// load merges, in increasing precedence, the defaults, the config file's
// checks section and explicitly set flags. The result goes through
// config.Parse, so unknown keys in the file are rejected.
func (c *CLIConfig) load(cmd *cobra.Command) error {
	raw := config.Default().ToMap()
	for k, v := range viper.GetStringMap("checks") {
		if wire, ok := wireKeys[strings.ToLower(k)]; ok {
			k = wire
		}
		raw[k] = v
	}

	flags := cmd.Flags()
	for flagName, key := range map[string]string{
		flagTimeoutMs:     config.KeyTimeoutMs,
		flagDelayMs:       config.KeyDelayMs,
		flagRetryAttempts: config.KeyRetryAttempts,
	} {
		applyIntFlag(flags, flagName, func(v int) { raw[key] = v })
	}

	if flags.Lookup(flagDisable) != nil {
		disabled, _ := flags.GetStringSlice(flagDisable)
		for _, name := range disabled {
			key, ok := probeConfigKeys[strings.TrimSpace(name)]
			if !ok {
				return fmt.Errorf("%w: %s", sharedErrors.ErrUnknownProbe, name)
			}
			raw[key] = false
		}
	}

	engine, err := config.Parse(raw)
	if err != nil {
		return err
	}
	c.Engine = engine

	c.EnvironmentFile = viper.GetString("environment.file")
	c.Origin = viper.GetString("environment.origin")
	c.Telemetry = viper.GetBool("telemetry")
	applyStringFlag(flags, flagEnvironment, func(v string) { c.EnvironmentFile = v })
	applyStringFlag(flags, flagOrigin, func(v string) { c.Origin = v })
	applyBoolFlag(flags, flagTelemetry, func(v bool) { c.Telemetry = v })
	return nil
}

// environment builds the probes' environment: the host, optionally overlaid
// with a snapshot file and an origin.
func (c *CLIConfig) environment() (platform.Environment, error) {
	env := platform.HostEnvironment{Origin: c.Origin}
	if c.EnvironmentFile != "" {
		snap, err := platform.LoadSnapshot(c.EnvironmentFile)
		if err != nil {
			return nil, err
		}
		env.Base = snap
	}
	return env, nil
}

func applyIntFlag(flags *pflag.FlagSet, name string, setter func(int)) {
	flag := flags.Lookup(name)
	if flag == nil || !flag.Changed {
		return
	}
	if v, err := flags.GetInt(name); err == nil {
		setter(v)
	}
}

func applyStringFlag(flags *pflag.FlagSet, name string, setter func(string)) {
	flag := flags.Lookup(name)
	if flag == nil || !flag.Changed {
		return
	}
	setter(flag.Value.String())
}

func applyBoolFlag(flags *pflag.FlagSet, name string, setter func(bool)) {
	flag := flags.Lookup(name)
	if flag == nil || !flag.Changed {
		return
	}
	if v, err := flags.GetBool(name); err == nil {
		setter(v)
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration after merging file, environment and flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		format, _ := cmd.Flags().GetString("format")

		view := struct {
			Checks          map[string]any `json:"checks" yaml:"checks"`
			ResultsDir      string         `json:"resultsDir" yaml:"resultsDir"`
			EnvironmentFile string         `json:"environmentFile,omitempty" yaml:"environmentFile,omitempty"`
			Origin          string         `json:"origin,omitempty" yaml:"origin,omitempty"`
			Telemetry       bool           `json:"telemetry" yaml:"telemetry"`
			ConfigFile      string         `json:"configFile,omitempty" yaml:"configFile,omitempty"`
		}{
			Checks:          appCtx.Config.Engine.ToMap(),
			ResultsDir:      appCtx.ResultsDir,
			EnvironmentFile: appCtx.Config.EnvironmentFile,
			Origin:          appCtx.Config.Origin,
			Telemetry:       appCtx.Config.Telemetry,
			ConfigFile:      viper.ConfigFileUsed(),
		}

		out := cmd.OutOrStdout()
		switch strings.ToLower(format) {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		case "yaml", "":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(view); err != nil {
				return err
			}
			return enc.Close()
		}
		return fmt.Errorf("unsupported format %q (use yaml or json)", format)
	},
}

func init() {
	configShowCmd.Flags().String("format", "yaml", "output format: yaml or json")
	configCmd.AddCommand(configShowCmd)
}
