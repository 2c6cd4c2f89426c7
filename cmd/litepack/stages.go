package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/litepack/litepack/internal/config"
	"github.com/litepack/litepack/internal/convert"
	"github.com/litepack/litepack/internal/logging"
	"github.com/litepack/litepack/internal/metadata"
	"github.com/litepack/litepack/internal/storage"
	"github.com/litepack/litepack/pkg/types"
)

func newConverter(cmd *cobra.Command, cfg *config.Config, paths *storage.Paths, log logging.Logger) (*convert.Converter, error) {
	backend, err := convert.NewTensorFlowBackend(cfg.Converter.Python, log)
	if err != nil {
		return nil, fmt.Errorf("invalid converter.python: %w", err)
	}
	log.WithField("python", backend.Command()).Debug("using tensorflow backend")

	return convert.New(backend, paths, convert.Options{
		Optimizations: cfg.Converter.Optimizations,
		Timeout:       cfg.ConverterTimeout(),
		Out:           cmd.OutOrStdout(),
		Logger:        log,
		Progress:      progress(cmd),
	}), nil
}

func newMetadataBackend(cfg *config.Config, log logging.Logger) (metadata.Backend, error) {
	switch cfg.Metadata.Backend {
	case config.BackendTFLiteSupport:
		backend, err := metadata.NewTFLiteSupportBackend(cfg.Metadata.Python, log)
		if err != nil {
			return nil, fmt.Errorf("invalid metadata.python: %w", err)
		}
		return backend, nil
	case config.BackendNative, "":
		return metadata.NewNativeBackend(log), nil
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.Metadata.Backend)
	}
}

func newInjector(cmd *cobra.Command, cfg *config.Config, paths *storage.Paths, log logging.Logger) (*metadata.Injector, error) {
	backend, err := newMetadataBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	log.WithField("backend", backend.Name()).Debug("using metadata backend")

	return metadata.NewInjector(backend, paths, metadata.Options{
		Normalization: cfg.Metadata.Normalization,
		Details: metadata.Details{
			Name:        cfg.Metadata.ModelName,
			Description: cfg.Metadata.ModelDescription,
			Version:     cfg.Metadata.ModelVersion,
			Author:      cfg.Metadata.Author,
			License:     cfg.Metadata.License,
		},
		Out:      cmd.OutOrStdout(),
		Logger:   log,
		Progress: progress(cmd),
	}), nil
}

// logStageError records the details of a failed stage at debug level
func logStageError(log logging.Logger, err error) {
	var se *types.StageError
	if !errors.As(err, &se) {
		return
	}
	entry := log.WithField("stage", se.Stage).WithField("kind", se.Kind.String())
	if se.Remediation != "" {
		entry = entry.WithField("remediation", se.Remediation)
	}
	for _, line := range se.Diagnostics {
		if line != "" {
			entry.Debug(line)
		}
	}
}
