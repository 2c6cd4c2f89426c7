package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/litepack/litepack/internal/config"
	"github.com/litepack/litepack/pkg/types"
)

const normalizationComment = `Normalization constants applied to input pixels: (raw - mean) / std.
They must match the preprocessing used in training. 127.5/127.5 maps
[0, 255] to [-1, 1]; use one value per channel for per-channel constants.`

var (
	initForce bool
	initPath  string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Writes config.yaml with every setting at its default value into the current
directory, or into --path.

The generated file sets the conventional 127.5/127.5 normalization
constants. Check them against your training pipeline before injecting
metadata.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing configuration")
	initCmd.Flags().StringVar(&initPath, "path", ".", "directory to write config.yaml into")
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configPath := filepath.Join(initPath, "config.yaml")

	if _, err := os.Stat(configPath); err == nil {
		if !initForce {
			fmt.Fprintf(out, "Configuration already exists: %s\n", configPath)
			fmt.Fprintln(out, "  (use --force to overwrite)")
			return nil
		}
		fmt.Fprintln(out, "Overwriting existing configuration")
	}

	if err := os.MkdirAll(initPath, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", initPath, err)
	}

	data, err := defaultConfigYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	fmt.Fprintf(out, "Created configuration: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Check metadata.normalization against your training pipeline")
	fmt.Fprintln(out, "  2. Run 'litepack pipeline' to convert and annotate the model")

	return nil
}

// defaultConfigYAML renders the default configuration with comments
func defaultConfigYAML() ([]byte, error) {
	cfg := config.Default()
	cfg.Metadata.Normalization = types.Normalization{Mean: []float64{127.5}, Std: []float64{127.5}}

	var body yaml.Node
	if err := body.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	doc := yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "litepack configuration\nGenerated by 'litepack init'",
		Content:     []*yaml.Node{&body},
	}

	comments := map[string]string{
		"paths":         "Artifact locations, relative to base_dir",
		"converter":     "Conversion stage (TensorFlow through Python)",
		"metadata":      "Metadata stage",
		"normalization": normalizationComment,
		"manifest":      "Empty means <annotated_model>.manifest.json",
		"keys_dir":      "Empty means the keys directory in the user config directory",
		"timeout":       "Seconds, 0 disables the timeout",
	}
	annotate(&body, comments)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// annotate sets head comments on mapping keys, recursively
func annotate(n *yaml.Node, comments map[string]string) {
	if n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]
		if c, ok := comments[key.Value]; ok {
			key.HeadComment = c
		}
		annotate(value, comments)
	}
}
