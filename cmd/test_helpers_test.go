package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/shared/constants"
)

// setupTestAppContext installs an AppContext rooted in a temp directory and
// restores the previous one when the test ends.
func setupTestAppContext(t *testing.T) *AppContext {
	t.Helper()

	original := globalAppContext
	resultsDir := filepath.Join(t.TempDir(), "results")
	if err := os.MkdirAll(resultsDir, constants.DefaultDirPerm); err != nil {
		t.Fatalf("failed to create results directory: %v", err)
	}

	appCtx := &AppContext{
		Logger:     zap.NewNop(),
		ResultsDir: resultsDir,
		Config:     newCLIConfig(),
	}
	globalAppContext = appCtx

	t.Cleanup(func() {
		globalAppContext = original
	})
	return appCtx
}

// executeRoot runs the root command with args and an isolated HOME, returning
// what the command wrote to stdout.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	viper.Reset()
	original := globalAppContext
	t.Cleanup(func() {
		viper.Reset()
		globalAppContext = original
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		resetFlags(rootCmd)
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag in the command tree to its default so one
// test's arguments do not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
