package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/litepack/litepack/internal/config"
	"github.com/litepack/litepack/internal/logging"
	"github.com/litepack/litepack/internal/storage"
	"github.com/litepack/litepack/internal/ui"
)

var (
	cfgFile string
	verbose bool
	rootCmd = &cobra.Command{
		Use:   "litepack",
		Short: "Package image classifiers for mobile runtimes",
		Long: `Litepack turns a trained image classification model into a TensorFlow Lite
file ready for mobile runtimes. All paths and constants come from the
configuration file; no command takes positional arguments.

Key Commands:
  convert   - Convert the SavedModel directory into a compact .tflite model
  inject    - Attach metadata and labels to the compact model
  pipeline  - Run convert then inject, stopping at the first failure
  inspect   - Show the metadata embedded in the annotated model
  manifest  - Record (and sign) the digests of the produced artifacts`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, then $HOME/.config/litepack/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose output")
}

func initConfig() {
	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	// If user specified a config file, load it
	if cfgFile != "" {
		if err := config.LoadFile(cfgFile); err != nil {
			return err
		}
	}

	cfg := config.Get()
	if verbose {
		cfg.UI.Verbose = true
	}
	ui.SetColor(cfg.UI.Color)

	return cfg.Validate()
}

// newLogger returns the stderr logger for a command
func newLogger(cmd *cobra.Command) *logrus.Logger {
	cfg := config.Get()
	return logging.New(cmd.ErrOrStderr(), cfg.UI.Verbose, cfg.UI.Color)
}

// newPaths resolves the artifact locations from the configuration
func newPaths() *storage.Paths {
	return storage.NewPaths(config.Get())
}

// progress returns the spinner factory for a command, or a no-op when
// progress bars are disabled
func progress(cmd *cobra.Command) ui.ProgressFunc {
	if !config.Get().UI.ProgressBar {
		return ui.NoProgress
	}
	return ui.Spinner(cmd.ErrOrStderr())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
