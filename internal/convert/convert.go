// Package convert turns a SavedModel directory into a compact TFLite model.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/litepack/litepack/internal/logging"
	"github.com/litepack/litepack/internal/pyexec"
	"github.com/litepack/litepack/internal/storage"
	"github.com/litepack/litepack/internal/tflite"
	"github.com/litepack/litepack/internal/ui"
	"github.com/litepack/litepack/pkg/types"
)

const (
	remediationTensorFlow = "TensorFlow is likely not installed. Please run 'pip install tensorflow'"
	remediationPython     = "Install Python 3 or point converter.python at an interpreter"

	versionCheckTimeout = 30 * time.Second
)

var (
	ErrSourceNotFound      = errors.New("source model directory not found")
	ErrInvalidOutput       = errors.New("converter output is not a TFLite model")
	ErrUnknownOptimization = errors.New("unknown optimization")
)

// Optimizations accepted by the TFLite converter
var knownOptimizations = map[string]bool{
	"DEFAULT":               true,
	"OPTIMIZE_FOR_SIZE":     true,
	"OPTIMIZE_FOR_LATENCY":  true,
	"EXPERIMENTAL_SPARSITY": true,
}

// Options tune a Converter
type Options struct {
	// Optimizations is the converter optimization profile, e.g. DEFAULT
	Optimizations []string
	// Timeout bounds the backend, 0 disables it
	Timeout time.Duration
	// Out receives the user facing progress messages
	Out      io.Writer
	Logger   logging.Logger
	Progress ui.ProgressFunc
}

// Converter runs the conversion stage
type Converter struct {
	backend Backend
	paths   *storage.Paths
	opts    Options
}

// New creates a Converter reading and writing the configured paths
func New(backend Backend, paths *storage.Paths, opts Options) *Converter {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Progress == nil {
		opts.Progress = ui.NoProgress
	}
	return &Converter{
		backend: backend,
		paths:   paths,
		opts:    opts,
	}
}

// Run converts the source model directory into the compact model file. On
// failure no output file is left behind and the returned error is a
// *types.StageError.
func (c *Converter) Run(ctx context.Context) (*types.StageResult, error) {
	src := c.paths.SourceModelDir()
	dst := c.paths.CompactModelPath()
	start := time.Now()

	fmt.Fprintf(c.opts.Out, "Loading SavedModel from %s...\n", src)

	size, err := c.convert(ctx, src, dst)
	if err != nil {
		se := c.classify(err)
		ui.Failure(c.opts.Out, "Error converting model: %v", se.Err)
		c.reportVersion(ctx, se)
		return nil, se
	}

	ui.Success(c.opts.Out, "Success! Model saved to %s", dst)

	return &types.StageResult{
		Stage:      types.StageConvert,
		Backend:    c.backend.Name(),
		InputPath:  src,
		OutputPath: dst,
		OutputSize: size,
		Duration:   time.Since(start),
	}, nil
}

func (c *Converter) convert(ctx context.Context, src, dst string) (int64, error) {
	for _, opt := range c.opts.Optimizations {
		if !knownOptimizations[opt] {
			return 0, fmt.Errorf("%w %q", ErrUnknownOptimization, opt)
		}
	}

	ok, err := storage.IsDir(src)
	if err != nil {
		return 0, fmt.Errorf("failed to check source model directory: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSourceNotFound, src)
	}

	staged, err := storage.TempPath(dst)
	if err != nil {
		return 0, &types.StageError{Stage: types.StageConvert, Kind: types.KindWriteFailure, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(staged)
		}
	}()

	runCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	log := c.opts.Logger.WithField("stage", types.StageConvert)
	log.WithField("optimizations", c.opts.Optimizations).Debugf("running %s backend", c.backend.Name())

	stop := c.opts.Progress("Converting")
	err = c.backend.Convert(runCtx, src, staged, c.opts.Optimizations)
	stop()
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(staged)
	if err != nil {
		return 0, fmt.Errorf("failed to read converter output: %w", err)
	}
	model, err := tflite.ReadModel(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	log.WithField("subgraphs", len(model.Subgraphs)).Debugf("converted model is %d bytes", len(data))

	if err := storage.Commit(staged, dst); err != nil {
		return 0, &types.StageError{Stage: types.StageConvert, Kind: types.KindWriteFailure, Err: err}
	}
	committed = true

	return int64(len(data)), nil
}

// classify maps a conversion error onto a StageError
func (c *Converter) classify(err error) *types.StageError {
	var se *types.StageError
	if errors.As(err, &se) {
		return se
	}

	se = &types.StageError{Stage: types.StageConvert, Kind: types.KindConversionFailure, Err: err}

	var exitErr *pyexec.ExitError
	switch {
	case errors.Is(err, pyexec.ErrInterpreterNotFound):
		se.Kind = types.KindDependencyMissing
		se.Remediation = remediationPython
	case errors.Is(err, pyexec.ErrModuleMissing):
		se.Kind = types.KindDependencyMissing
		se.Remediation = remediationTensorFlow
		if errors.As(err, &exitErr) {
			if msg := pyexec.LastLine(exitErr.Stderr); msg != "" {
				se.Err = fmt.Errorf("%w: %s", pyexec.ErrModuleMissing, msg)
			}
		}
	case errors.Is(err, ErrSourceNotFound), errors.Is(err, ErrUnknownOptimization):
		se.Kind = types.KindInputInvalid
	case errors.Is(err, context.DeadlineExceeded):
		se.Err = fmt.Errorf("conversion timed out after %s: %w", c.opts.Timeout, err)
	case errors.As(err, &exitErr):
		if msg := pyexec.LastLine(exitErr.Stderr); msg != "" {
			se.Err = errors.New(msg)
			se.Diagnostics = strings.Split(exitErr.Stderr, "\n")
		}
	}
	return se
}

// reportVersion reports the conversion library version after a failure. It
// never changes the outcome.
func (c *Converter) reportVersion(ctx context.Context, se *types.StageError) {
	versionCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), versionCheckTimeout)
	defer cancel()

	version, err := c.backend.Version(versionCtx)
	if err != nil {
		c.opts.Logger.WithError(err).Debug("version check failed")
		fmt.Fprintln(c.opts.Out, remediationTensorFlow)
		if se.Remediation == "" {
			se.Remediation = remediationTensorFlow
		}
		return
	}

	line := fmt.Sprintf("TensorFlow version: %s", version)
	fmt.Fprintln(c.opts.Out, line)
	se.Diagnostics = append(se.Diagnostics, line)
}
