package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/litepack/litepack/internal/config"
)

// Paths manages all artifact locations of the pipeline
type Paths struct {
	baseDir        string
	sourceModelDir string
	compactModel   string
	labelFile      string
	annotatedModel string
	manifest       string
	keysDir        string
}

// NewPaths creates a Paths instance from resolved configuration
func NewPaths(cfg *config.Config) *Paths {
	return &Paths{
		baseDir:        cfg.Paths.BaseDir,
		sourceModelDir: cfg.Paths.SourceModelDir,
		compactModel:   cfg.Paths.CompactModel,
		labelFile:      cfg.Paths.LabelFile,
		annotatedModel: cfg.Paths.AnnotatedModel,
		manifest:       cfg.Paths.Manifest,
		keysDir:        cfg.Security.KeysDir,
	}
}

// Initialize creates the directories the outputs are written to
func (p *Paths) Initialize() error {
	dirs := []string{
		filepath.Dir(p.compactModel),
		filepath.Dir(p.annotatedModel),
		filepath.Dir(p.manifest),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// BaseDir returns the base directory
func (p *Paths) BaseDir() string {
	return p.baseDir
}

// SourceModelDir returns the SavedModel directory read by the converter
func (p *Paths) SourceModelDir() string {
	return p.sourceModelDir
}

// CompactModelPath returns the converter output and injector input
func (p *Paths) CompactModelPath() string {
	return p.compactModel
}

// LabelFilePath returns the label file read by the injector
func (p *Paths) LabelFilePath() string {
	return p.labelFile
}

// AnnotatedModelPath returns the injector output
func (p *Paths) AnnotatedModelPath() string {
	return p.annotatedModel
}

// ManifestPath returns the artifact manifest location
func (p *Paths) ManifestPath() string {
	return p.manifest
}

// KeysDir returns the signing keys directory
func (p *Paths) KeysDir() string {
	return p.keysDir
}

// ArtifactStatus describes one artifact on disk
type ArtifactStatus struct {
	Role   string
	Path   string
	Exists bool
	IsDir  bool
	Size   int64
}

// Status reports the presence and size of every artifact in pipeline order
func (p *Paths) Status() []ArtifactStatus {
	entries := []struct {
		role string
		path string
	}{
		{"source model", p.sourceModelDir},
		{"compact model", p.compactModel},
		{"label file", p.labelFile},
		{"annotated model", p.annotatedModel},
		{"manifest", p.manifest},
	}

	var out []ArtifactStatus
	for _, e := range entries {
		st := ArtifactStatus{Role: e.role, Path: e.path}
		if info, err := os.Stat(e.path); err == nil {
			st.Exists = true
			st.IsDir = info.IsDir()
			if st.IsDir {
				st.Size = getDirSize(e.path)
			} else {
				st.Size = info.Size()
			}
		}
		out = append(out, st)
	}
	return out
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) int64 {
	var size int64

	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size
}

// TempPath returns a fresh path next to target for staging its content.
// The file is created empty and must be renamed or removed by the caller.
func TempPath(target string) (string, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// Commit moves a staged file over target, replacing any existing file
func Commit(staged, target string) error {
	if err := os.Chmod(staged, 0644); err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to set permissions on %s: %w", staged, err)
	}
	if err := os.Rename(staged, target); err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it
// into place, so readers never observe a partial file
func WriteFileAtomic(path string, data []byte) error {
	staged, err := TempPath(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(staged, data, 0644); err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return Commit(staged, path)
}

// FileSize returns the size of a regular file
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// IsDir reports whether path is an existing directory. A missing path is
// not an error.
func IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
