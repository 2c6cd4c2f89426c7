package convert

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/litepack/litepack/internal/logging"
	"github.com/litepack/litepack/internal/pyexec"
)

var (
	//go:embed scripts/convert.py
	convertScript string

	//go:embed scripts/version.py
	versionScript string
)

// Backend performs the numerical conversion of a SavedModel
type Backend interface {
	// Name identifies the backend in results and logs
	Name() string

	// Convert writes the converted model for sourceDir to outputPath
	Convert(ctx context.Context, sourceDir, outputPath string, optimizations []string) error

	// Version returns the conversion library version
	Version(ctx context.Context) (string, error)
}

// TensorFlowBackend converts with TensorFlow's TFLite converter through a
// Python interpreter
type TensorFlowBackend struct {
	python *pyexec.Interpreter
}

// NewTensorFlowBackend creates a backend for the given interpreter command.
// The library's stderr is forwarded to the logger at debug level.
func NewTensorFlowBackend(python string, log logging.Logger) (*TensorFlowBackend, error) {
	interp, err := pyexec.New(python)
	if err != nil {
		return nil, err
	}
	interp.Stderr = logging.DebugWriter(log.WithField("backend", "tensorflow"))
	return &TensorFlowBackend{python: interp}, nil
}

func (b *TensorFlowBackend) Name() string {
	return "tensorflow"
}

// Command returns the interpreter command line
func (b *TensorFlowBackend) Command() string {
	return b.python.Command()
}

func (b *TensorFlowBackend) Convert(ctx context.Context, sourceDir, outputPath string, optimizations []string) error {
	_, err := b.python.Run(ctx, convertScript, sourceDir, outputPath, strings.Join(optimizations, ","))
	return err
}

func (b *TensorFlowBackend) Version(ctx context.Context) (string, error) {
	out, err := b.python.Run(ctx, versionScript)
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(out)
	if version == "" {
		return "", fmt.Errorf("empty version output")
	}
	return version, nil
}
