package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/litepack/litepack/internal/logging"
	"github.com/litepack/litepack/internal/tflite"
	"github.com/litepack/litepack/pkg/types"
)

// Defaults used by the image classifier writer
const (
	DefaultModelName        = "ImageClassifier"
	DefaultModelDescription = "Identify the most prominent object in the image from a known set of categories."
	MinParserVersion        = "1.0.0"

	inputName         = "image"
	inputDescription  = "Input image to be classified."
	outputName        = "probability"
	labelsDescription = "Labels for categories that the model can recognize."
)

var (
	ErrNoLabels           = errors.New("label file has no labels")
	ErrNormalizationUnset = errors.New("normalization mean and std are not configured")
	ErrUnsupportedModel   = errors.New("model is not a single-input single-output classifier")
	ErrUnsupportedInput   = errors.New("unsupported input tensor type")
)

// Details are the descriptive model fields
type Details struct {
	Name        string
	Description string
	Version     string
	Author      string
	License     string
}

// ImageClassifier describes the metadata written for an image classifier
type ImageClassifier struct {
	Details       Details
	Normalization types.Normalization

	// LabelFile is the associated file name, usually the label file's base name
	LabelFile string
	// Labels is the raw label file content
	Labels []byte
}

// ParseLabels splits a label file into one label per line. Trailing blank
// lines are ignored, blank lines in between are kept as empty labels.
func ParseLabels(data []byte) []string {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Populate returns model annotated with image classifier metadata and the
// label file embedded as an associated file. The result only depends on
// its inputs. A previously attached metadata entry and archive are replaced.
func (ic *ImageClassifier) Populate(model []byte, log logging.Logger) ([]byte, error) {
	if log == nil {
		log = logging.Discard()
	}

	labels := ParseLabels(ic.Labels)
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}

	bare, _ := tflite.SplitAssociatedFiles(model)
	m, err := tflite.ReadModel(bare)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	if len(m.Subgraphs) == 0 {
		return nil, fmt.Errorf("%w: model has no subgraphs", ErrUnsupportedModel)
	}
	sg := m.Subgraphs[0]
	if len(sg.Inputs) != 1 || len(sg.Outputs) != 1 {
		return nil, fmt.Errorf("%w: found %d inputs and %d outputs", ErrUnsupportedModel, len(sg.Inputs), len(sg.Outputs))
	}
	input, output := sg.Inputs[0], sg.Outputs[0]

	if !ic.Normalization.IsSet() {
		return nil, ErrNormalizationUnset
	}
	if err := ic.Normalization.Validate(input.Channels()); err != nil {
		return nil, err
	}

	minStats, maxStats, err := inputStats(input.Type, ic.Normalization)
	if err != nil {
		return nil, err
	}

	if classes := output.Channels(); classes > 0 && classes != len(labels) {
		log.WithFields(logrus.Fields{
			"labels":  len(labels),
			"classes": classes,
		}).Warn("label count does not match the model's output classes")
	}

	info := &ModelInfo{
		Name:             orDefault(ic.Details.Name, DefaultModelName),
		Description:      orDefault(ic.Details.Description, DefaultModelDescription),
		Version:          ic.Details.Version,
		Author:           ic.Details.Author,
		License:          ic.Details.License,
		MinParserVersion: MinParserVersion,
		Inputs: []TensorInfo{{
			Name:        inputName,
			Description: inputDescription,
			Content:     ContentImage,
			RGB:         true,
			Mean:        float32s(ic.Normalization.Mean),
			Std:         float32s(ic.Normalization.Std),
			Min:         minStats,
			Max:         maxStats,
		}},
		Outputs: []TensorInfo{{
			Name:        outputName,
			Description: fmt.Sprintf("Probabilities of the %d labels respectively.", len(labels)),
			Content:     ContentFeature,
			Min:         []float32{0},
			Max:         []float32{1},
			AssociatedFiles: []AssociatedFile{{
				Name:        ic.LabelFile,
				Description: labelsDescription,
				Type:        FileTensorAxisLabels,
			}},
		}},
	}

	annotated, err := tflite.AttachMetadata(bare, tflite.MetadataName, Encode(info))
	if err != nil {
		return nil, fmt.Errorf("failed to attach metadata: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(annotated) + len(ic.Labels) + 256)
	files := []tflite.AssociatedFile{{Name: ic.LabelFile, Data: ic.Labels}}
	if err := tflite.AppendAssociatedFiles(&buf, annotated, files); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// inputStats returns the value range of the model input after normalization
func inputStats(typ tflite.TensorType, norm types.Normalization) (lo, hi []float32, err error) {
	switch typ {
	case tflite.Float32:
		for i := range norm.Mean {
			lo = append(lo, float32((0-norm.Mean[i])/norm.Std[i]))
			hi = append(hi, float32((255-norm.Mean[i])/norm.Std[i]))
		}
		return lo, hi, nil
	case tflite.Uint8:
		return []float32{0}, []float32{255}, nil
	case tflite.Int8:
		return []float32{-128}, []float32{127}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedInput, typ)
	}
}

// LabelFileName returns the associated file name used for a label file path
func LabelFileName(path string) string {
	return filepath.Base(path)
}

func float32s(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
