// Package manifest records and checks the digests of the pipeline outputs.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/litepack/litepack/internal/metadata"
	"github.com/litepack/litepack/internal/storage"
	"github.com/litepack/litepack/pkg/types"
)

// ToolName is recorded in every manifest
const ToolName = "litepack"

var (
	ErrDigestMismatch  = errors.New("artifact digest mismatch")
	ErrArtifactMissing = errors.New("artifact missing")
)

type source struct {
	role string
	path string
}

func sources(paths *storage.Paths) []source {
	return []source{
		{types.RoleCompactModel, paths.CompactModelPath()},
		{types.RoleLabelFile, paths.LabelFilePath()},
		{types.RoleAnnotatedModel, paths.AnnotatedModelPath()},
	}
}

// Build hashes the compact model, label file and annotated model and returns
// a manifest describing them. Artifact paths are stored relative to the base
// directory when possible.
func Build(ctx context.Context, paths *storage.Paths, norm types.Normalization) (*types.ArtifactManifest, error) {
	srcs := sources(paths)
	artifacts := make([]types.Artifact, len(srcs))

	g, ctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		i, src := i, src
		g.Go(func() error {
			d, size, err := hashFile(ctx, src.path)
			if err != nil {
				return fmt.Errorf("failed to hash %s: %w", src.role, err)
			}
			artifacts[i] = types.Artifact{
				Role:   src.role,
				Path:   relativePath(paths.BaseDir(), src.path),
				Size:   size,
				Digest: d,
			}
			return nil
		})
	}

	var labels int
	g.Go(func() error {
		data, err := os.ReadFile(paths.LabelFilePath())
		if err != nil {
			return fmt.Errorf("failed to read label file: %w", err)
		}
		labels = len(metadata.ParseLabels(data))
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &types.ArtifactManifest{
		ID:            uuid.New().String(),
		Tool:          ToolName,
		CreatedAt:     time.Now().UTC(),
		Artifacts:     artifacts,
		Normalization: norm,
		Labels:        labels,
	}, nil
}

// Verify re-hashes every artifact listed in m. Relative artifact paths are
// resolved against baseDir. All mismatches are reported in one error.
func Verify(ctx context.Context, m *types.ArtifactManifest, baseDir string) error {
	problems := make([]error, len(m.Artifacts))

	g, ctx := errgroup.WithContext(ctx)
	for i, a := range m.Artifacts {
		i, a := i, a
		g.Go(func() error {
			if err := a.Digest.Validate(); err != nil {
				problems[i] = fmt.Errorf("%s: %w", a.Role, err)
				return nil
			}
			path := a.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}

			d, size, err := hashFileWith(ctx, path, a.Digest.Algorithm())
			switch {
			case errors.Is(err, os.ErrNotExist):
				problems[i] = fmt.Errorf("%w: %s (%s)", ErrArtifactMissing, a.Role, path)
			case err != nil:
				return fmt.Errorf("failed to hash %s: %w", a.Role, err)
			case d != a.Digest || size != a.Size:
				problems[i] = fmt.Errorf("%w: %s has %s, expected %s", ErrDigestMismatch, a.Role, d, a.Digest)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(problems...)
}

// Write stores m as indented JSON at path
func Write(path string, m *types.ArtifactManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return storage.WriteFileAtomic(path, append(data, '\n'))
}

// Read loads a manifest written by Write
func Read(path string) (*types.ArtifactManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m types.ArtifactManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

func hashFile(ctx context.Context, path string) (digest.Digest, int64, error) {
	return hashFileWith(ctx, path, digest.Canonical)
}

func hashFileWith(ctx context.Context, path string, alg digest.Algorithm) (digest.Digest, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	if !alg.Available() {
		return "", 0, fmt.Errorf("digest algorithm %s is not available", alg)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	digester := alg.Digester()
	size, err := copyContext(ctx, digester.Hash(), f)
	if err != nil {
		return "", 0, err
	}
	return digester.Digest(), size, nil
}

func relativePath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}
