// Package metadata writes and reads TFLite model metadata.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/litepack/litepack/internal/logging"
	"github.com/litepack/litepack/internal/pyexec"
	"github.com/litepack/litepack/internal/storage"
	"github.com/litepack/litepack/internal/tflite"
	"github.com/litepack/litepack/internal/ui"
	"github.com/litepack/litepack/pkg/types"
)

// MissingDependencyMessage is printed when the tflite_support library is
// not installed
const MissingDependencyMessage = "tflite_support not found. Please run: pip install tflite-support"

var ErrModelNotFound = errors.New("compact model not found")

// Options tune an Injector
type Options struct {
	Normalization types.Normalization
	Details       Details
	// Out receives the user facing progress messages
	Out      io.Writer
	Logger   logging.Logger
	Progress ui.ProgressFunc
}

// Injector runs the metadata stage
type Injector struct {
	backend Backend
	paths   *storage.Paths
	opts    Options
}

// NewInjector creates an Injector reading and writing the configured paths
func NewInjector(backend Backend, paths *storage.Paths, opts Options) *Injector {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Progress == nil {
		opts.Progress = ui.NoProgress
	}
	return &Injector{
		backend: backend,
		paths:   paths,
		opts:    opts,
	}
}

// Run annotates the compact model and writes the annotated model. The
// compact model is never modified. On failure no output file is left
// behind and the returned error is a *types.StageError.
func (i *Injector) Run(ctx context.Context) (*types.StageResult, error) {
	src := i.paths.CompactModelPath()
	dst := i.paths.AnnotatedModelPath()
	start := time.Now()

	// Nothing else is reported when the backend cannot run at all
	if err := i.backend.Check(ctx); err != nil {
		return nil, i.fail(err)
	}

	fmt.Fprintln(i.opts.Out, "Injecting metadata...")

	size, err := i.inject(ctx, src, dst)
	if err != nil {
		return nil, i.fail(err)
	}

	ui.Success(i.opts.Out, "Success! Model with metadata saved to %s", dst)

	return &types.StageResult{
		Stage:      types.StageInject,
		Backend:    i.backend.Name(),
		InputPath:  src,
		OutputPath: dst,
		OutputSize: size,
		Duration:   time.Since(start),
	}, nil
}

func (i *Injector) inject(ctx context.Context, src, dst string) (int64, error) {
	log := i.opts.Logger.WithField("stage", types.StageInject)

	if !i.opts.Normalization.IsSet() {
		return 0, ErrNormalizationUnset
	}
	if err := i.opts.Normalization.Validate(0); err != nil {
		return 0, err
	}

	if _, err := storage.FileSize(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrModelNotFound, src)
		}
		return 0, fmt.Errorf("failed to read compact model: %w", err)
	}

	labelPath := i.paths.LabelFilePath()
	labels, err := os.ReadFile(labelPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read label file: %w", err)
	}
	if len(ParseLabels(labels)) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoLabels, labelPath)
	}

	staged, err := storage.TempPath(dst)
	if err != nil {
		return 0, &types.StageError{Stage: types.StageInject, Kind: types.KindWriteFailure, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(staged)
		}
	}()

	req := &Request{
		ModelPath:     src,
		LabelPath:     labelPath,
		Labels:        labels,
		Normalization: i.opts.Normalization,
		Details:       i.opts.Details,
	}

	log.WithField("backend", i.backend.Name()).Debug("populating metadata")
	stop := i.opts.Progress("Writing metadata")
	err = i.backend.Populate(ctx, req, staged)
	stop()
	if err != nil {
		return 0, err
	}

	fmt.Fprintln(i.opts.Out, "Metadata created. Saving...")

	data, err := os.ReadFile(staged)
	if err != nil {
		return 0, fmt.Errorf("failed to read annotated model: %w", err)
	}
	m, err := tflite.ReadModel(data)
	if err != nil {
		return 0, fmt.Errorf("annotated model is invalid: %v", err)
	}
	_, ok, err := m.MetadataBuffer(tflite.MetadataName)
	if err != nil {
		return 0, &types.StageError{
			Stage: types.StageInject,
			Kind:  types.KindConversionFailure,
			Err:   fmt.Errorf("annotated model has an unreadable %s entry: %w", tflite.MetadataName, err),
		}
	}
	if !ok {
		return 0, fmt.Errorf("annotated model carries no %s entry", tflite.MetadataName)
	}

	if err := storage.Commit(staged, dst); err != nil {
		return 0, &types.StageError{Stage: types.StageInject, Kind: types.KindWriteFailure, Err: err}
	}
	committed = true

	return int64(len(data)), nil
}

// fail classifies err and prints the install instruction for a missing
// dependency
func (i *Injector) fail(err error) *types.StageError {
	se := i.classify(err)
	if se.Kind == types.KindDependencyMissing {
		fmt.Fprintln(i.opts.Out, MissingDependencyMessage)
	}
	return se
}

// classify maps an injection error onto a StageError
func (i *Injector) classify(err error) *types.StageError {
	var se *types.StageError
	if errors.As(err, &se) {
		return se
	}

	se = &types.StageError{Stage: types.StageInject, Kind: types.KindConversionFailure, Err: err}

	var exitErr *pyexec.ExitError
	switch {
	case errors.Is(err, pyexec.ErrModuleMissing), errors.Is(err, pyexec.ErrInterpreterNotFound):
		se.Kind = types.KindDependencyMissing
		se.Remediation = "pip install tflite-support"
	case errors.Is(err, ErrNormalizationUnset), errors.Is(err, types.ErrInvalidNormalization):
		se.Kind = types.KindInputInvalid
		se.Remediation = "set metadata.normalization.mean and metadata.normalization.std to the values used in training"
	case errors.Is(err, ErrNoLabels), errors.Is(err, ErrModelNotFound),
		errors.Is(err, ErrUnsupportedModel), errors.Is(err, ErrUnsupportedInput),
		errors.Is(err, tflite.ErrNotTFLite), errors.Is(err, tflite.ErrMalformedModel),
		errors.Is(err, tflite.ErrUnsupported), errors.Is(err, os.ErrNotExist):
		se.Kind = types.KindInputInvalid
	case errors.As(err, &exitErr):
		if msg := pyexec.LastLine(exitErr.Stderr); msg != "" {
			se.Err = errors.New(msg)
		}
	}
	return se
}
