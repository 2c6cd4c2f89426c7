package main

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/litepack/litepack/internal/config"
	"github.com/litepack/litepack/internal/manifest"
	"github.com/litepack/litepack/internal/signing"
	"github.com/litepack/litepack/internal/ui"
	"github.com/litepack/litepack/pkg/types"
)

var (
	manifestSign   bool
	manifestVerify bool
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Record the digests of the produced artifacts",
	Long: `Writes a JSON manifest (paths.manifest) with the sha256 digest and size of the
compact model, the label file and the annotated model, plus the
normalization constants and label count.

Use --sign to sign the manifest with the key pair in security.keys_dir
(generated on first use). Use --verify to check an existing manifest
against the files on disk and, when signed, against the public key.`,
	Args: cobra.NoArgs,
	RunE: runManifest,
}

func init() {
	rootCmd.AddCommand(manifestCmd)

	manifestCmd.Flags().BoolVar(&manifestSign, "sign", false, "sign the manifest")
	manifestCmd.Flags().BoolVar(&manifestVerify, "verify", false, "verify an existing manifest instead of writing one")
	manifestCmd.MarkFlagsMutuallyExclusive("sign", "verify")
}

func runManifest(cmd *cobra.Command, args []string) error {
	if manifestVerify {
		return runManifestVerify(cmd)
	}

	out := cmd.OutOrStdout()
	cfg := config.Get()
	log := newLogger(cmd)
	paths := newPaths()

	m, err := manifest.Build(cmd.Context(), paths, cfg.Metadata.Normalization)
	if err != nil {
		return fmt.Errorf("failed to build manifest: %w", err)
	}
	log.WithField("id", m.ID).Debug("manifest built")

	if manifestSign {
		keys, err := signing.GetOrCreateKeys(paths.KeysDir(), out)
		if err != nil {
			return fmt.Errorf("failed to load signing keys: %w", err)
		}
		if err := signing.SignManifest(m, keys.PrivateKey); err != nil {
			return err
		}
		if fp, err := keys.Fingerprint(); err == nil {
			log.WithField("key", fp.String()).Debug("manifest signed")
		}
	}

	if err := paths.Initialize(); err != nil {
		return err
	}
	if err := manifest.Write(paths.ManifestPath(), m); err != nil {
		return err
	}

	printManifest(cmd, m)
	ui.Success(out, "Manifest saved to %s", paths.ManifestPath())
	return nil
}

func runManifestVerify(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	paths := newPaths()

	m, err := manifest.Read(paths.ManifestPath())
	if err != nil {
		return err
	}
	printManifest(cmd, m)

	if err := manifest.Verify(cmd.Context(), m, paths.BaseDir()); err != nil {
		ui.Failure(out, "Artifacts do not match the manifest")
		return err
	}
	fmt.Fprintln(out, "Artifacts match the manifest")

	if m.Signature == "" {
		ui.Warning(out, "Manifest is not signed")
		return nil
	}

	pub, err := signing.LoadPublicKeyFromDir(paths.KeysDir())
	if err != nil {
		if errors.Is(err, signing.ErrKeysNotFound) {
			ui.Warning(out, "Manifest is signed but no public key was found in %s", paths.KeysDir())
			return nil
		}
		return err
	}
	if err := signing.VerifyManifest(m, pub); err != nil {
		ui.Failure(out, "Signature is invalid")
		return err
	}

	ui.Success(out, "Signature verified")
	return nil
}

func printManifest(cmd *cobra.Command, m *types.ArtifactManifest) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Manifest %s (%s)\n", m.ID, m.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	t := ui.NewTable(out, "Role", "Path", "Size", "Digest")
	ui.AlignRight(t, 3)
	for _, a := range m.Artifacts {
		t.AppendRow(table.Row{a.Role, a.Path, ui.FormatBytes(a.Size), a.Digest.String()})
	}
	t.Render()
	fmt.Fprintf(out, "Labels: %d\n", m.Labels)
}
