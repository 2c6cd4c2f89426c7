package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/litepack/litepack/internal/metadata"
	"github.com/litepack/litepack/internal/tflite"
	"github.com/litepack/litepack/internal/ui"
)

var (
	inspectLabels bool
	inspectJSON   bool
	inspectFile   string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the metadata embedded in the annotated model",
	Long: `Reads the annotated model (paths.annotated_model, or --file) and prints its
model details, tensor descriptions, normalization constants and associated
files.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVar(&inspectLabels, "labels", false, "also print the embedded labels")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print the metadata as JSON")
	inspectCmd.Flags().StringVar(&inspectFile, "file", "", "model to inspect instead of paths.annotated_model")
}

func runInspect(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := inspectFile
	if path == "" {
		path = newPaths().AnnotatedModelPath()
	}

	info, model, err := metadata.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read metadata from %s: %w", path, err)
	}

	var labels []string
	if inspectLabels {
		if labels, err = info.Labels(model); err != nil {
			return err
		}
	}

	if inspectJSON {
		return printInspectJSON(out, info, labels)
	}

	m, err := tflite.ReadModel(model)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Model: %s\n", path)
	fmt.Fprintf(out, "  Name: %s\n", info.Name)
	if info.Description != "" {
		fmt.Fprintf(out, "  Description: %s\n", info.Description)
	}
	if info.Version != "" {
		fmt.Fprintf(out, "  Version: %s\n", info.Version)
	}
	if info.Author != "" {
		fmt.Fprintf(out, "  Author: %s\n", info.Author)
	}
	if info.License != "" {
		fmt.Fprintf(out, "  License: %s\n", info.License)
	}
	fmt.Fprintf(out, "  Min parser version: %s\n", info.MinParserVersion)
	fmt.Fprintf(out, "  Schema version: %d, buffers: %d\n\n", m.Version, m.NumBuffers())

	t := ui.NewTable(out, "Direction", "Name", "Type", "Shape", "Content", "Mean", "Std", "Range")
	for i, ti := range info.Inputs {
		typ, shape := tensorShape(m, i, true)
		t.AppendRow(table.Row{"input", ti.Name, typ, shape, ti.ContentName, floats(ti.Mean), floats(ti.Std), statsRange(ti)})
	}
	for i, ti := range info.Outputs {
		typ, shape := tensorShape(m, i, false)
		t.AppendRow(table.Row{"output", ti.Name, typ, shape, ti.ContentName, "-", "-", statsRange(ti)})
	}
	t.Render()

	for _, ti := range append(append([]metadata.TensorInfo{}, info.Inputs...), info.Outputs...) {
		for _, f := range ti.AssociatedFiles {
			fmt.Fprintf(out, "\nAssociated file: %s (%s) on %s\n", f.Name, f.TypeName, ti.Name)
			if f.Description != "" {
				fmt.Fprintf(out, "  %s\n", f.Description)
			}
		}
	}

	if inspectLabels {
		fmt.Fprintf(out, "\nLabels (%d):\n", len(labels))
		for i, l := range labels {
			fmt.Fprintf(out, "  %4d  %s\n", i, l)
		}
	}

	return nil
}

func printInspectJSON(w io.Writer, info *metadata.ModelInfo, labels []string) error {
	doc := struct {
		*metadata.ModelInfo
		Labels []string `json:"labels,omitempty"`
	}{info, labels}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func tensorShape(m *tflite.Model, i int, input bool) (string, string) {
	if len(m.Subgraphs) == 0 {
		return "-", "-"
	}
	tensors := m.Subgraphs[0].Outputs
	if input {
		tensors = m.Subgraphs[0].Inputs
	}
	if i >= len(tensors) {
		return "-", "-"
	}
	dims := make([]string, len(tensors[i].Shape))
	for j, d := range tensors[i].Shape {
		dims[j] = fmt.Sprint(d)
	}
	return tensors[i].Type.String(), "[" + strings.Join(dims, " ") + "]"
}

func floats(v []float32) string {
	if len(v) == 0 {
		return "-"
	}
	s := make([]string, len(v))
	for i, f := range v {
		s[i] = fmt.Sprintf("%g", f)
	}
	return strings.Join(s, ", ")
}

func statsRange(ti metadata.TensorInfo) string {
	if len(ti.Min) == 0 && len(ti.Max) == 0 {
		return "-"
	}
	return floats(ti.Min) + " .. " + floats(ti.Max)
}
