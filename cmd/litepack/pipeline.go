package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/litepack/litepack/internal/config"
	"github.com/litepack/litepack/internal/pipeline"
	"github.com/litepack/litepack/internal/ui"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run convert then inject",
	Long: `Runs the conversion and metadata stages back to back. The pipeline stops
at the first failing stage and exits with an error; the metadata stage never
runs against a stale compact model.`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	log := newLogger(cmd)
	paths := newPaths()

	converter, err := newConverter(cmd, cfg, paths, log)
	if err != nil {
		return err
	}
	injector, err := newInjector(cmd, cfg, paths, log)
	if err != nil {
		return err
	}

	report, err := pipeline.NewRunner(converter, injector, log).Run(cmd.Context())
	if err != nil {
		logStageError(log, err)
		return fmt.Errorf("pipeline stopped at %s: %w", report.Failed, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	for _, r := range report.Results {
		fmt.Fprintf(out, "  %-8s %s (%s, %s)\n", r.Stage, r.OutputPath, ui.FormatBytes(r.OutputSize), ui.FormatDuration(r.Duration))
	}
	ui.Success(out, "Pipeline completed in %s", ui.FormatDuration(report.Duration))

	return nil
}
