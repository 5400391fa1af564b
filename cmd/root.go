package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/shared/constants"
)

const (
	envPrefix         = "SECA_TRUST"
	defaultConfigName = ".seca-trust"
	defaultResultsDir = "./results"
)

var (
	cfgFile    string
	resultsDir string
	verbose    bool
)

// AppContext carries what every subcommand needs after PersistentPreRunE.
type AppContext struct {
	Logger     *zap.Logger
	ResultsDir string
	Config     *CLIConfig
}

var globalAppContext *AppContext

func storeAppContext(cmd *cobra.Command, appCtx *AppContext) {
	globalAppContext = appCtx
}

func getAppContext(cmd *cobra.Command) *AppContext {
	return globalAppContext
}

var rootCmd = &cobra.Command{
	Use:           "seca-trust",
	Short:         "Security posture checks for a wallet client environment",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}

		dir := viper.GetString("results_dir")
		if flag := cmd.Flags().Lookup("results-dir"); flag != nil && flag.Changed {
			dir = resultsDir
		}
		if dir == "" {
			dir = defaultResultsDir
		}
		if err := os.MkdirAll(dir, constants.DefaultDirPerm); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}

		logger, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		cliCfg := newCLIConfig()
		if err := cliCfg.load(cmd); err != nil {
			return err
		}

		storeAppContext(cmd, &AppContext{
			Logger:     logger,
			ResultsDir: dir,
			Config:     cliCfg,
		})
		logger.Debug("initialized", zap.String("results_dir", dir), zap.String("config", viper.ConfigFileUsed()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appCtx := getAppContext(cmd); appCtx != nil && appCtx.Logger != nil {
			_ = appCtx.Logger.Sync()
		}
	},
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(defaultConfigName)
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// newLogger returns a production logger, or a development one when verbose.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

var execute = rootCmd.Execute

func Execute() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorError("Error:"), err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.seca-trust.yaml)")
	rootCmd.PersistentFlags().StringVar(&resultsDir, "results-dir", defaultResultsDir, "directory for persisted state, keys and telemetry")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	addEngineFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
