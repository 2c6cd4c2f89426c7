package main

import (
	"github.com/spf13/cobra"

	"github.com/litepack/litepack/internal/config"
	"github.com/litepack/litepack/pkg/types"
)

var injectBackend string

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Attach image classifier metadata and labels to the compact model",
	Long: `Reads the compact model (paths.compact_model) and the label file
(paths.label_file) and writes an annotated model to paths.annotated_model.

The annotated model carries TFLite metadata describing the input image
normalization (metadata.normalization.mean and .std, which must match the
training pipeline) and the output labels, with the label file embedded.

Backends:
  native          - write the metadata directly (default)
  tflite-support  - use the tflite_support Python package`,
	Args: cobra.NoArgs,
	RunE: runInject,
}

func init() {
	rootCmd.AddCommand(injectCmd)

	injectCmd.Flags().StringVar(&injectBackend, "backend", "", "metadata backend (native or tflite-support), overrides metadata.backend")
}

func runInject(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if injectBackend != "" {
		cfg.Metadata.Backend = injectBackend
	}
	log := newLogger(cmd)
	paths := newPaths()

	injector, err := newInjector(cmd, cfg, paths, log)
	if err != nil {
		return err
	}

	_, err = injector.Run(cmd.Context())
	if err != nil {
		logStageError(log, err)
		// The missing library has already been reported
		if types.KindOf(err) == types.KindDependencyMissing {
			return nil
		}
		return err
	}

	return nil
}
