package main

import (
	"github.com/spf13/cobra"

	"github.com/litepack/litepack/internal/config"
)

var convertFailFast bool

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert the SavedModel directory into a compact TFLite model",
	Long: `Converts the SavedModel directory configured as paths.source_model_dir into
a TensorFlow Lite model at paths.compact_model, applying the default
size and latency optimizations.

The conversion runs TensorFlow through the Python interpreter configured as
converter.python. A failed conversion is reported together with the installed
TensorFlow version; the command still exits successfully unless
converter.fail_fast is set or --fail-fast is given.`,
	Args: cobra.NoArgs,
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().BoolVar(&convertFailFast, "fail-fast", false, "exit with an error when the conversion fails")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	log := newLogger(cmd)
	paths := newPaths()

	converter, err := newConverter(cmd, cfg, paths, log)
	if err != nil {
		return err
	}

	if _, err := converter.Run(cmd.Context()); err != nil {
		logStageError(log, err)
		if cfg.Converter.FailFast || convertFailFast {
			return err
		}
		log.WithError(err).Debug("conversion failed, exiting normally")
	}

	return nil
}
