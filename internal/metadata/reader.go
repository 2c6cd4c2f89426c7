package metadata

import (
	"errors"
	"fmt"
	"os"

	"github.com/litepack/litepack/internal/tflite"
)

var ErrNoMetadata = errors.New("model has no metadata")

// Read decodes the metadata of an annotated model. model may carry an
// appended archive of associated files.
func Read(model []byte) (*ModelInfo, error) {
	bare, _ := tflite.SplitAssociatedFiles(model)
	m, err := tflite.ReadModel(bare)
	if err != nil {
		return nil, err
	}
	data, ok, err := m.MetadataBuffer(tflite.MetadataName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoMetadata
	}
	return Decode(data)
}

// ReadFile reads the model at path and decodes its metadata
func ReadFile(path string) (*ModelInfo, []byte, error) {
	model, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := Read(model)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return info, model, nil
}

// ReadAssociatedFile returns an embedded file of model
func ReadAssociatedFile(model []byte, name string) ([]byte, error) {
	return tflite.ReadAssociatedFile(model, name)
}

// LabelFile returns the name of the output's axis labels file
func (m *ModelInfo) LabelFile() (string, bool) {
	for _, out := range m.Outputs {
		for _, f := range out.AssociatedFiles {
			if f.Type == FileTensorAxisLabels {
				return f.Name, true
			}
		}
	}
	return "", false
}

// Labels returns the class labels embedded in model, in output order
func (m *ModelInfo) Labels(model []byte) ([]string, error) {
	name, ok := m.LabelFile()
	if !ok {
		return nil, fmt.Errorf("%w: no label file is associated with the output", ErrNoLabels)
	}
	data, err := ReadAssociatedFile(model, name)
	if err != nil {
		return nil, err
	}
	return ParseLabels(data), nil
}
