package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/litepack/litepack/internal/config"
	"github.com/litepack/litepack/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which artifacts exist",
	Long: `Lists every file of the pipeline (source model, compact model, label file,
annotated model and manifest) with its location and size.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg := config.Get()
	paths := newPaths()

	fmt.Fprintf(out, "Base directory: %s\n\n", paths.BaseDir())

	t := ui.NewTable(out, "Artifact", "Path", "Status", "Size")
	ui.AlignRight(t, 4)
	for _, st := range paths.Status() {
		status, size := "missing", "-"
		if st.Exists {
			status = "present"
			size = ui.FormatBytes(st.Size)
		}
		t.AppendRow(table.Row{st.Role, st.Path, status, size})
	}
	t.Render()

	fmt.Fprintf(out, "\nMetadata backend: %s\n", cfg.Metadata.Backend)
	if cfg.Metadata.Normalization.IsSet() {
		fmt.Fprintf(out, "Normalization: mean=%v std=%v\n", cfg.Metadata.Normalization.Mean, cfg.Metadata.Normalization.Std)
	} else {
		ui.Warning(out, "Normalization: not configured (set metadata.normalization.mean and .std)")
	}

	return nil
}
