package metadata

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/litepack/litepack/internal/logging"
	"github.com/litepack/litepack/internal/pyexec"
	"github.com/litepack/litepack/pkg/types"
)

//go:embed scripts/inject.py
var injectScript string

//go:embed scripts/check.py
var checkScript string

// Request is everything a backend needs to annotate one model
type Request struct {
	ModelPath     string
	LabelPath     string
	Labels        []byte
	Normalization types.Normalization
	Details       Details
}

// Backend writes an annotated model
type Backend interface {
	// Name identifies the backend in results and logs
	Name() string

	// Check reports whether the backend's dependencies are available
	Check(ctx context.Context) error

	// Populate writes the annotated model for req to outputPath
	Populate(ctx context.Context, req *Request, outputPath string) error
}

// NativeBackend writes the metadata flatbuffer itself
type NativeBackend struct {
	log logging.Logger
}

func NewNativeBackend(log logging.Logger) *NativeBackend {
	if log == nil {
		log = logging.Discard()
	}
	return &NativeBackend{log: log}
}

func (b *NativeBackend) Name() string {
	return "native"
}

func (b *NativeBackend) Check(context.Context) error {
	return nil
}

func (b *NativeBackend) Populate(_ context.Context, req *Request, outputPath string) error {
	model, err := os.ReadFile(req.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to read model: %w", err)
	}

	writer := &ImageClassifier{
		Details:       req.Details,
		Normalization: req.Normalization,
		LabelFile:     LabelFileName(req.LabelPath),
		Labels:        req.Labels,
	}
	out, err := writer.Populate(model, b.log)
	if err != nil {
		return err
	}

	return os.WriteFile(outputPath, out, 0600)
}

// TFLiteSupportBackend runs the tflite_support metadata writer through a
// Python interpreter
type TFLiteSupportBackend struct {
	python *pyexec.Interpreter
}

func NewTFLiteSupportBackend(python string, log logging.Logger) (*TFLiteSupportBackend, error) {
	interp, err := pyexec.New(python)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Discard()
	}
	interp.Stderr = logging.DebugWriter(log.WithField("backend", "tflite-support"))
	return &TFLiteSupportBackend{python: interp}, nil
}

func (b *TFLiteSupportBackend) Name() string {
	return "tflite-support"
}

// Check imports the metadata writer without running it
func (b *TFLiteSupportBackend) Check(ctx context.Context) error {
	_, err := b.python.Run(ctx, checkScript)
	return err
}

func (b *TFLiteSupportBackend) Populate(ctx context.Context, req *Request, outputPath string) error {
	mean, err := json.Marshal(req.Normalization.Mean)
	if err != nil {
		return err
	}
	std, err := json.Marshal(req.Normalization.Std)
	if err != nil {
		return err
	}

	_, err = b.python.Run(ctx, injectScript, req.ModelPath, req.LabelPath, outputPath, string(mean), string(std))
	return err
}
